package chunking

import (
	"context"
	"crypto/sha256"
	"os"
	"path/filepath"

	"github.com/decentralis-net/decentralis-core/internal/errs"
)

const containerFileName = "container.dat"

// SyncContainer is invoked by the file browser after any user
// operation that rewrites the encrypted container. It no-ops when the
// container's content hash is unchanged, otherwise removes any prior
// chunked copy and re-runs chunk_file + distribute_chunks on the new
// bytes.
func (m *Manager) SyncContainer(ctx context.Context, containerPath, owner string) error {
	data, err := os.ReadFile(containerPath)
	if err != nil {
		return errs.Wrap(errs.ChunkStorage, "chunking.SyncContainer", "failed to read container", err)
	}
	hash := sha256.Sum256(data)

	m.containerMu.Lock()
	unchanged := hash == m.containerHash
	m.containerMu.Unlock()
	if unchanged {
		return nil
	}

	if existing, err := m.DB.GetFileMetadataByName(owner, containerFileName); err == nil {
		if err := m.deleteFileEverywhere(ctx, existing.FileUUID, owner); err != nil {
			return err
		}
	}

	fileUUID, err := m.ChunkFile(ctx, containerPath, owner)
	if err != nil {
		return err
	}

	m.containerMu.Lock()
	m.containerHash = hash
	m.containerMu.Unlock()

	if _, err := m.DistributeChunks(ctx, fileUUID, owner); err != nil {
		if kind, ok := errs.KindOf(err); ok && kind == errs.NoPeersAvailable {
			m.Log.WithError(err).Debug("no eligible peers to distribute container chunks; keeping them local")
			return nil
		}
		return err
	}
	return nil
}

// RestoreContainer is run once at startup when container.dat is absent
// locally but a FileMetadata row for it still exists: it asynchronously
// reconstructs the container into storageDir.
func (m *Manager) RestoreContainer(ctx context.Context, owner, storageDir string) {
	outputPath := filepath.Join(storageDir, containerFileName)
	if _, err := os.Stat(outputPath); err == nil {
		return
	}
	meta, err := m.DB.GetFileMetadataByName(owner, containerFileName)
	if err != nil {
		return
	}
	go func() {
		if err := m.ReconstructFile(ctx, meta.FileUUID, owner, outputPath); err != nil {
			m.Log.WithError(err).Error("failed to restore container on startup")
		}
	}()
}
