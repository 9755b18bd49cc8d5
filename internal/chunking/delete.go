package chunking

import (
	"context"
	"time"

	"github.com/decentralis-net/decentralis-core/internal/rpc"
)

// deleteFileEverywhere removes a file's chunks and metadata locally and
// makes a best-effort attempt to delete any copies known to live on
// confirmed peers. Remote failures are logged, not propagated: the
// local removal must still proceed since callers use this to make room
// for a fresh chunk_file pass (container auto-sync's step 2).
func (m *Manager) deleteFileEverywhere(ctx context.Context, fileUUID, owner string) error {
	locs, err := m.DB.GetLocationsByFile(fileUUID)
	if err != nil {
		m.Log.WithError(err).Warn("failed to list chunk locations before delete")
	}
	for _, loc := range locs {
		if !loc.Confirmed {
			continue
		}
		peer, err := m.DB.GetPeer(loc.PeerUUID)
		if err != nil {
			continue
		}
		callCtx, cancel := context.WithTimeout(ctx, time.Duration(m.Config.RPCTimeoutSeconds)*time.Second)
		err = m.RPC.DeleteChunk(callCtx, peer.AddrString(), rpc.DeleteChunkParams{Owner: owner, FileUUID: fileUUID, Idx: loc.Idx})
		cancel()
		if err != nil {
			m.Log.WithError(err).WithField("peer", loc.PeerUUID).Debug("best-effort remote delete_chunk failed")
		}
	}

	if err := m.Chunks.DeleteFileChunks(owner, fileUUID); err != nil {
		return err
	}
	return m.DB.DeleteFileMetadata(fileUUID)
}
