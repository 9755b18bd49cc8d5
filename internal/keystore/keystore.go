// Package keystore derives a symmetric key from a user passphrase via
// PBKDF2 and persists a RetentionRecord that lets a later process verify
// the passphrase without ever storing it.
package keystore

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/decentralis-net/decentralis-core/internal/errs"
	"github.com/decentralis-net/decentralis-core/internal/filecipher"
	"golang.org/x/crypto/pbkdf2"
)

const (
	// MinIterations is the floor spec.md §4.3 sets on PBKDF2 rounds.
	MinIterations = 100_000

	verifyPlaintext = "decentralis-verification"
	saltSize        = 16
)

// RetentionRecord is the on-disk JSON structure that lets VerifyPassphrase
// confirm a passphrase is correct without the passphrase itself, or the
// derived key, ever being written to disk.
type RetentionRecord struct {
	Version    int                  `json:"version"`
	KDF        string               `json:"kdf"`
	Salt       []byte               `json:"salt"`
	Iterations int                  `json:"iterations"`
	Algorithm  filecipher.Algorithm `json:"algorithm"`
	Verify     []byte               `json:"verify"`
}

// Keyring holds a derived key in memory for the process lifetime. Wipe
// zeroes the key material once the keyring is no longer needed.
type Keyring struct {
	Key []byte
}

// Wipe overwrites the key bytes with zeroes.
func (k *Keyring) Wipe() {
	for i := range k.Key {
		k.Key[i] = 0
	}
}

// DeriveKey runs PBKDF2-HMAC-SHA256 over passphrase with the given salt
// and iteration count, producing a 32-byte key.
func DeriveKey(passphrase string, salt []byte, iterations int) ([]byte, error) {
	if iterations < MinIterations {
		return nil, errs.New(errs.Configuration, "keystore.DeriveKey", "iterations must be >= 100000")
	}
	return pbkdf2.Key([]byte(passphrase), salt, iterations, filecipher.KeySize, sha256.New), nil
}

// GenerateRetention derives a key from passphrase with a fresh random
// salt, encrypts the verification plaintext under it, and writes the
// resulting RetentionRecord to path. It returns a Keyring holding the
// derived key so the caller can start using it immediately.
func GenerateRetention(path, passphrase string, iterations int, algorithm filecipher.Algorithm) (*Keyring, error) {
	if iterations < MinIterations {
		return nil, errs.New(errs.Configuration, "keystore.GenerateRetention", "iterations must be >= 100000")
	}
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, errs.Wrap(errs.Configuration, "keystore.GenerateRetention", "failed to generate salt", err)
	}
	key, err := DeriveKey(passphrase, salt, iterations)
	if err != nil {
		return nil, err
	}
	verify, err := filecipher.Encrypt(algorithm, key, []byte(verifyPlaintext))
	if err != nil {
		return nil, errs.Wrap(errs.InvalidKeyOrCipher, "keystore.GenerateRetention", "failed to encrypt verification plaintext", err)
	}

	record := RetentionRecord{
		Version:    1,
		KDF:        "pbkdf2",
		Salt:       salt,
		Iterations: iterations,
		Algorithm:  algorithm,
		Verify:     verify,
	}
	if err := writeRecordAtomic(path, record); err != nil {
		return nil, err
	}
	return &Keyring{Key: key}, nil
}

// VerifyPassphrase loads the RetentionRecord at path, re-derives the key
// from passphrase, and attempts to decrypt the stored verification
// ciphertext. A mismatch fails with WrongPassphrase rather than
// InvalidKeyOrCipher, since from the caller's point of view the
// passphrase — not the cipher — is what's wrong.
func VerifyPassphrase(path, passphrase string) (*Keyring, error) {
	record, err := readRecord(path)
	if err != nil {
		return nil, err
	}
	key, err := DeriveKey(passphrase, record.Salt, record.Iterations)
	if err != nil {
		return nil, err
	}
	if _, err := filecipher.Decrypt(record.Algorithm, key, record.Verify); err != nil {
		return nil, errs.Wrap(errs.WrongPassphrase, "keystore.VerifyPassphrase", "passphrase does not match retention record", err)
	}
	return &Keyring{Key: key}, nil
}

// KeyHex returns the hex encoding of the keyring's key, for callers that
// need a printable form.
func (k *Keyring) KeyHex() string {
	return hex.EncodeToString(k.Key)
}

func writeRecordAtomic(path string, record RetentionRecord) error {
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return errs.Wrap(errs.Configuration, "keystore.writeRecordAtomic", "failed to marshal retention record", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return errs.Wrap(errs.Configuration, "keystore.writeRecordAtomic", "failed to create keystore directory", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return errs.Wrap(errs.Configuration, "keystore.writeRecordAtomic", "failed to write temporary retention file", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return errs.Wrap(errs.Configuration, "keystore.writeRecordAtomic", "failed to rename retention file into place", err)
	}
	return nil
}

func readRecord(path string) (RetentionRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return RetentionRecord{}, errs.Wrap(errs.Configuration, "keystore.readRecord", "failed to read retention record", err)
	}
	var record RetentionRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return RetentionRecord{}, errs.Wrap(errs.Configuration, "keystore.readRecord", "failed to parse retention record", err)
	}
	return record, nil
}
