// Package filecipher provides whole-buffer AEAD encryption for the
// container file: the container is small enough (a JSON blob of
// base64-encoded file contents) to be encrypted and decrypted in memory
// in a single call, so no streaming cipher mode is offered.
package filecipher

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"

	"github.com/decentralis-net/decentralis-core/internal/errs"
	"golang.org/x/crypto/chacha20poly1305"
)

// Algorithm names one of the two supported AEAD ciphers.
type Algorithm string

const (
	AES256GCM        Algorithm = "AES-256"
	ChaCha20Poly1305 Algorithm = "ChaCha20"

	KeySize   = 32
	NonceSize = 12
)

func newAEAD(alg Algorithm, key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, errs.New(errs.InvalidKeyOrCipher, "filecipher.newAEAD", "key must be 32 bytes")
	}
	switch alg {
	case AES256GCM:
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, errs.Wrap(errs.InvalidKeyOrCipher, "filecipher.newAEAD", "failed to construct AES cipher", err)
		}
		aead, err := cipher.NewGCM(block)
		if err != nil {
			return nil, errs.Wrap(errs.InvalidKeyOrCipher, "filecipher.newAEAD", "failed to construct GCM mode", err)
		}
		return aead, nil
	case ChaCha20Poly1305:
		aead, err := chacha20poly1305.New(key)
		if err != nil {
			return nil, errs.Wrap(errs.InvalidKeyOrCipher, "filecipher.newAEAD", "failed to construct ChaCha20-Poly1305", err)
		}
		return aead, nil
	default:
		return nil, errs.New(errs.InvalidKeyOrCipher, "filecipher.newAEAD", "unknown algorithm: "+string(alg))
	}
}

// Encrypt returns nonce || ciphertext_and_tag for plaintext under key and
// the chosen algorithm, using a fresh random nonce on every call.
func Encrypt(alg Algorithm, key, plaintext []byte) ([]byte, error) {
	aead, err := newAEAD(alg, key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, errs.Wrap(errs.InvalidKeyOrCipher, "filecipher.Encrypt", "failed to generate nonce", err)
	}
	sealed := aead.Seal(nil, nonce, plaintext, nil)
	out := make([]byte, 0, len(nonce)+len(sealed))
	out = append(out, nonce...)
	out = append(out, sealed...)
	return out, nil
}

// Decrypt splits the first NonceSize bytes off blob as the nonce and
// authenticates/decrypts the remainder. A failed authentication (wrong
// key, wrong algorithm, or tampered ciphertext) fails with
// InvalidKeyOrCipher and never returns partial plaintext.
func Decrypt(alg Algorithm, key, blob []byte) ([]byte, error) {
	if len(blob) < NonceSize {
		return nil, errs.New(errs.InvalidKeyOrCipher, "filecipher.Decrypt", "ciphertext shorter than nonce")
	}
	aead, err := newAEAD(alg, key)
	if err != nil {
		return nil, err
	}
	nonce, ciphertext := blob[:NonceSize], blob[NonceSize:]
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, errs.Wrap(errs.InvalidKeyOrCipher, "filecipher.Decrypt", "AEAD authentication failed", err)
	}
	return plaintext, nil
}
