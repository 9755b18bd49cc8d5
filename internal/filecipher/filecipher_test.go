package filecipher

import (
	"bytes"
	"crypto/rand"
	"testing"

	"github.com/decentralis-net/decentralis-core/internal/errs"
)

func randomKey(t *testing.T) []byte {
	t.Helper()
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		t.Fatalf("rand.Read: %v", err)
	}
	return key
}

func TestRoundTripBothAlgorithms(t *testing.T) {
	for _, alg := range []Algorithm{AES256GCM, ChaCha20Poly1305} {
		alg := alg
		t.Run(string(alg), func(t *testing.T) {
			key := randomKey(t)
			plaintext := []byte("decentralis-verification and a little more besides")

			blob, err := Encrypt(alg, key, plaintext)
			if err != nil {
				t.Fatalf("Encrypt: %v", err)
			}
			if len(blob) != NonceSize+len(plaintext)+16 {
				t.Fatalf("unexpected blob length: %d", len(blob))
			}

			out, err := Decrypt(alg, key, blob)
			if err != nil {
				t.Fatalf("Decrypt: %v", err)
			}
			if !bytes.Equal(out, plaintext) {
				t.Fatal("round-tripped plaintext mismatch")
			}
		})
	}
}

func TestDecryptWithWrongKeyFails(t *testing.T) {
	key := randomKey(t)
	wrongKey := randomKey(t)
	blob, err := Encrypt(AES256GCM, key, []byte("secret container"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	_, err = Decrypt(AES256GCM, wrongKey, blob)
	if err == nil {
		t.Fatal("expected decrypt with wrong key to fail")
	}
	if kind, ok := errs.KindOf(err); !ok || kind != errs.InvalidKeyOrCipher {
		t.Fatalf("expected InvalidKeyOrCipher, got %v (ok=%v)", kind, ok)
	}
}

func TestTamperedCiphertextFailsWithoutPartialPlaintext(t *testing.T) {
	key := randomKey(t)
	plaintext := []byte("a container worth protecting")
	blob, err := Encrypt(AES256GCM, key, plaintext)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	tampered := make([]byte, len(blob))
	copy(tampered, blob)
	tampered[len(tampered)-1] ^= 0xFF

	out, err := Decrypt(AES256GCM, key, tampered)
	if err == nil {
		t.Fatal("expected tampered ciphertext to fail decryption")
	}
	if out != nil {
		t.Fatal("expected no plaintext on tampered decrypt failure")
	}
	if kind, ok := errs.KindOf(err); !ok || kind != errs.InvalidKeyOrCipher {
		t.Fatalf("expected InvalidKeyOrCipher, got %v (ok=%v)", kind, ok)
	}
}

func TestDecryptRejectsShortBlob(t *testing.T) {
	key := randomKey(t)
	_, err := Decrypt(AES256GCM, key, []byte("short"))
	if err == nil {
		t.Fatal("expected error for blob shorter than nonce")
	}
}
