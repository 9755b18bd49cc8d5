// Package chunkstore persists chunk bytes and their file's metadata
// blob to disk with an atomic tmp-file-and-rename discipline, rooted at
// <data_dir>/chunks/<owner_uuid>/<file_uuid>/.
package chunkstore

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/decentralis-net/decentralis-core/internal/errs"
)

// Store roots every chunk under a single data directory.
type Store struct {
	root string
}

// New returns a Store rooted at <dataDir>/chunks.
func New(dataDir string) *Store {
	return &Store{root: filepath.Join(dataDir, "chunks")}
}

func (s *Store) fileDir(owner, fileUUID string) string {
	return filepath.Join(s.root, owner, fileUUID)
}

func (s *Store) chunkPath(owner, fileUUID string, idx int) string {
	return filepath.Join(s.fileDir(owner, fileUUID), fmt.Sprintf("%d.chunk", idx))
}

func (s *Store) metadataPath(owner, fileUUID string) string {
	return filepath.Join(s.fileDir(owner, fileUUID), "metadata.json")
}

// WriteChunk atomically persists data as chunk idx of fileUUID under
// owner, writing to a .tmp sibling first and renaming it into place.
func (s *Store) WriteChunk(owner, fileUUID string, idx int, data []byte) error {
	dir := s.fileDir(owner, fileUUID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errs.Wrap(errs.ChunkStorage, "chunkstore.WriteChunk", "failed to create chunk directory", err)
	}
	final := s.chunkPath(owner, fileUUID, idx)
	tmp := final + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errs.Wrap(errs.ChunkStorage, "chunkstore.WriteChunk", "failed to write temporary chunk file", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		_ = os.Remove(tmp)
		return errs.Wrap(errs.ChunkStorage, "chunkstore.WriteChunk", "failed to rename chunk into place", err)
	}
	return nil
}

// ReadChunk returns the raw bytes stored for chunk idx of fileUUID.
func (s *Store) ReadChunk(owner, fileUUID string, idx int) ([]byte, error) {
	data, err := os.ReadFile(s.chunkPath(owner, fileUUID, idx))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errs.Wrap(errs.ChunkNotFound, "chunkstore.ReadChunk", "chunk not found on disk", err)
		}
		return nil, errs.Wrap(errs.ChunkStorage, "chunkstore.ReadChunk", "failed to read chunk file", err)
	}
	return data, nil
}

// ValidateChunk re-reads chunk idx from disk and compares its SHA-256
// against expectedHash. A mismatch fails with ChunkValidation; the
// caller should treat the chunk as lost in that case.
func (s *Store) ValidateChunk(owner, fileUUID string, idx int, expectedHash [32]byte) error {
	data, err := s.ReadChunk(owner, fileUUID, idx)
	if err != nil {
		return err
	}
	if sha256.Sum256(data) != expectedHash {
		return errs.New(errs.ChunkValidation, "chunkstore.ValidateChunk", "stored chunk hash does not match expected hash")
	}
	return nil
}

// WriteMetadata atomically persists the serialized FileMetadata blob
// alongside a file's chunks.
func (s *Store) WriteMetadata(owner, fileUUID string, metadata any) error {
	dir := s.fileDir(owner, fileUUID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errs.Wrap(errs.ChunkStorage, "chunkstore.WriteMetadata", "failed to create chunk directory", err)
	}
	data, err := json.MarshalIndent(metadata, "", "  ")
	if err != nil {
		return errs.Wrap(errs.ChunkStorage, "chunkstore.WriteMetadata", "failed to marshal metadata", err)
	}
	final := s.metadataPath(owner, fileUUID)
	tmp := final + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errs.Wrap(errs.ChunkStorage, "chunkstore.WriteMetadata", "failed to write temporary metadata file", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		_ = os.Remove(tmp)
		return errs.Wrap(errs.ChunkStorage, "chunkstore.WriteMetadata", "failed to rename metadata into place", err)
	}
	return nil
}

// ReadMetadata loads and unmarshals the metadata blob for fileUUID into
// out, which must be a pointer.
func (s *Store) ReadMetadata(owner, fileUUID string, out any) error {
	data, err := os.ReadFile(s.metadataPath(owner, fileUUID))
	if err != nil {
		if os.IsNotExist(err) {
			return errs.Wrap(errs.ChunkNotFound, "chunkstore.ReadMetadata", "metadata not found on disk", err)
		}
		return errs.Wrap(errs.ChunkStorage, "chunkstore.ReadMetadata", "failed to read metadata file", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return errs.Wrap(errs.ChunkStorage, "chunkstore.ReadMetadata", "failed to unmarshal metadata", err)
	}
	return nil
}

// DeleteChunk removes a single stored chunk, tolerating its absence.
func (s *Store) DeleteChunk(owner, fileUUID string, idx int) error {
	if err := os.Remove(s.chunkPath(owner, fileUUID, idx)); err != nil && !os.IsNotExist(err) {
		return errs.Wrap(errs.ChunkStorage, "chunkstore.DeleteChunk", "failed to delete chunk file", err)
	}
	return nil
}

// DeleteFileChunks removes the entire <file_uuid> subtree for owner.
// It stages the removal through a sibling directory so a crash mid-way
// leaves either the original directory or nothing, never a partially
// deleted tree visible under the real name.
func (s *Store) DeleteFileChunks(owner, fileUUID string) error {
	dir := s.fileDir(owner, fileUUID)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return nil
	}
	staging := dir + ".deleting"
	_ = os.RemoveAll(staging)
	if err := os.Rename(dir, staging); err != nil {
		return errs.Wrap(errs.ChunkStorage, "chunkstore.DeleteFileChunks", "failed to stage directory for deletion", err)
	}
	if err := os.RemoveAll(staging); err != nil {
		return errs.Wrap(errs.ChunkStorage, "chunkstore.DeleteFileChunks", "failed to remove staged directory", err)
	}
	return nil
}

// ChunkExists reports whether chunk idx of fileUUID is present locally.
func (s *Store) ChunkExists(owner, fileUUID string, idx int) bool {
	_, err := os.Stat(s.chunkPath(owner, fileUUID, idx))
	return err == nil
}
