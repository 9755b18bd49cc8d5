package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/decentralis-net/decentralis-core/internal/errs"
	"github.com/decentralis-net/decentralis-core/internal/filecipher"
	"github.com/decentralis-net/decentralis-core/internal/keystore"
)

// resolvePassphrase prefers the --passphrase flag, then
// DECENTRALIS_PASSPHRASE, then an interactive prompt with echo
// disabled when stdin is a terminal.
func resolvePassphrase() (string, error) {
	if passphraseFlag != "" {
		return passphraseFlag, nil
	}
	if v := os.Getenv("DECENTRALIS_PASSPHRASE"); v != "" {
		return v, nil
	}

	fmt.Fprint(os.Stderr, "retention passphrase: ")
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		data, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", errs.Wrap(errs.Configuration, "cmd.resolvePassphrase", "failed to read passphrase", err)
		}
		return string(data), nil
	}

	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return "", errs.Wrap(errs.Configuration, "cmd.resolvePassphrase", "failed to read passphrase", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// unlockRetention verifies the passphrase against an existing retention
// record at path, or creates one on first run.
func unlockRetention(path, passphrase string, iterations int) (*keystore.Keyring, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return keystore.GenerateRetention(path, passphrase, iterations, filecipher.ChaCha20Poly1305)
	}
	return keystore.VerifyPassphrase(path, passphrase)
}
