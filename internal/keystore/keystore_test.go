package keystore

import (
	"path/filepath"
	"testing"

	"github.com/decentralis-net/decentralis-core/internal/errs"
	"github.com/decentralis-net/decentralis-core/internal/filecipher"
)

func TestGenerateAndVerifyPassphraseRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "retention.json")

	ring, err := GenerateRetention(path, "correct-horse-battery-staple", MinIterations, filecipher.AES256GCM)
	if err != nil {
		t.Fatalf("GenerateRetention: %v", err)
	}
	if len(ring.Key) != filecipher.KeySize {
		t.Fatalf("expected %d byte key, got %d", filecipher.KeySize, len(ring.Key))
	}

	verified, err := VerifyPassphrase(path, "correct-horse-battery-staple")
	if err != nil {
		t.Fatalf("VerifyPassphrase: %v", err)
	}
	if string(verified.Key) != string(ring.Key) {
		t.Fatal("re-derived key does not match originally generated key")
	}
}

func TestVerifyWrongPassphraseFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "retention.json")
	if _, err := GenerateRetention(path, "right-passphrase", MinIterations, filecipher.ChaCha20Poly1305); err != nil {
		t.Fatalf("GenerateRetention: %v", err)
	}

	_, err := VerifyPassphrase(path, "wrong-passphrase")
	if err == nil {
		t.Fatal("expected wrong passphrase to fail")
	}
	if kind, ok := errs.KindOf(err); !ok || kind != errs.WrongPassphrase {
		t.Fatalf("expected WrongPassphrase, got %v (ok=%v)", kind, ok)
	}
}

func TestGenerateRetentionRejectsLowIterations(t *testing.T) {
	path := filepath.Join(t.TempDir(), "retention.json")
	_, err := GenerateRetention(path, "whatever", 1000, filecipher.AES256GCM)
	if err == nil {
		t.Fatal("expected low iteration count to be rejected")
	}
}

func TestKeyringWipeZeroesKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "retention.json")
	ring, err := GenerateRetention(path, "passphrase", MinIterations, filecipher.AES256GCM)
	if err != nil {
		t.Fatalf("GenerateRetention: %v", err)
	}
	ring.Wipe()
	for _, b := range ring.Key {
		if b != 0 {
			t.Fatal("expected all key bytes to be zero after Wipe")
		}
	}
}
