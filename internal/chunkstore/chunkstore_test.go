package chunkstore

import (
	"crypto/sha256"
	"os"
	"testing"

	"github.com/decentralis-net/decentralis-core/internal/errs"
)

func TestWriteAndReadChunkRoundTrip(t *testing.T) {
	s := New(t.TempDir())
	data := []byte("chunk bytes")

	if err := s.WriteChunk("owner-1", "file-1", 0, data); err != nil {
		t.Fatalf("WriteChunk: %v", err)
	}
	got, err := s.ReadChunk("owner-1", "file-1", 0)
	if err != nil {
		t.Fatalf("ReadChunk: %v", err)
	}
	if string(got) != string(data) {
		t.Fatal("round-tripped chunk bytes mismatch")
	}
}

func TestValidateChunkDetectsCorruption(t *testing.T) {
	s := New(t.TempDir())
	data := []byte("original bytes")
	if err := s.WriteChunk("owner-1", "file-1", 0, data); err != nil {
		t.Fatalf("WriteChunk: %v", err)
	}

	hash := sha256.Sum256(data)
	if err := s.ValidateChunk("owner-1", "file-1", 0, hash); err != nil {
		t.Fatalf("ValidateChunk on untouched chunk: %v", err)
	}

	path := s.chunkPath("owner-1", "file-1", 0)
	if err := os.WriteFile(path, []byte("corrupted"), 0o644); err != nil {
		t.Fatalf("os.WriteFile: %v", err)
	}
	err := s.ValidateChunk("owner-1", "file-1", 0, hash)
	if err == nil {
		t.Fatal("expected validation failure on corrupted chunk")
	}
	if kind, ok := errs.KindOf(err); !ok || kind != errs.ChunkValidation {
		t.Fatalf("expected ChunkValidation, got %v (ok=%v)", kind, ok)
	}
}

func TestDeleteFileChunksRemovesEntireSubtree(t *testing.T) {
	s := New(t.TempDir())
	for i := 0; i < 3; i++ {
		if err := s.WriteChunk("owner-1", "file-1", i, []byte("data")); err != nil {
			t.Fatalf("WriteChunk: %v", err)
		}
	}
	if err := s.WriteMetadata("owner-1", "file-1", map[string]string{"hello": "world"}); err != nil {
		t.Fatalf("WriteMetadata: %v", err)
	}

	if err := s.DeleteFileChunks("owner-1", "file-1"); err != nil {
		t.Fatalf("DeleteFileChunks: %v", err)
	}

	if _, err := os.Stat(s.fileDir("owner-1", "file-1")); !os.IsNotExist(err) {
		t.Fatal("expected file directory to be gone after DeleteFileChunks")
	}
	if _, err := os.Stat(s.fileDir("owner-1", "file-1") + ".deleting"); !os.IsNotExist(err) {
		t.Fatal("expected staging directory to be cleaned up")
	}
}

func TestDeleteFileChunksToleratesMissingDirectory(t *testing.T) {
	s := New(t.TempDir())
	if err := s.DeleteFileChunks("owner-1", "never-existed"); err != nil {
		t.Fatalf("expected no error deleting a nonexistent file tree, got %v", err)
	}
}

func TestMetadataRoundTrip(t *testing.T) {
	s := New(t.TempDir())
	type blob struct {
		OriginalName string `json:"original_name"`
		K            int    `json:"k"`
	}
	want := blob{OriginalName: "report.pdf", K: 6}
	if err := s.WriteMetadata("owner-1", "file-1", want); err != nil {
		t.Fatalf("WriteMetadata: %v", err)
	}
	var got blob
	if err := s.ReadMetadata("owner-1", "file-1", &got); err != nil {
		t.Fatalf("ReadMetadata: %v", err)
	}
	if got != want {
		t.Fatalf("metadata round trip mismatch: got %+v, want %+v", got, want)
	}
}

func TestChunkExists(t *testing.T) {
	s := New(t.TempDir())
	if s.ChunkExists("owner-1", "file-1", 0) {
		t.Fatal("expected chunk to not exist before write")
	}
	if err := s.WriteChunk("owner-1", "file-1", 0, []byte("x")); err != nil {
		t.Fatalf("WriteChunk: %v", err)
	}
	if !s.ChunkExists("owner-1", "file-1", 0) {
		t.Fatal("expected chunk to exist after write")
	}
}
