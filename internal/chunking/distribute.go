package chunking

import (
	"context"
	"encoding/base64"
	"time"

	"github.com/decentralis-net/decentralis-core/internal/errs"
	"github.com/decentralis-net/decentralis-core/internal/rpc"
	"github.com/decentralis-net/decentralis-core/internal/store"
)

// DistributionReport summarizes what distribute_chunks managed to
// place: it never raises for partial failure, only for an empty
// eligible peer set.
type DistributionReport struct {
	TotalChunks    int
	Distributed    int
	KeptLocal      []int
	FailedAttempts map[int]int
}

const maxAssignmentRetries = 3

// DistributeChunks assigns every chunk of fileUUID to an eligible peer,
// spreading placements across peers before duplicating on any one of
// them once the eligible set outnumbers the chunk count. A chunk that
// exhausts its retries is left on local disk rather than failing the
// whole call.
func (m *Manager) DistributeChunks(ctx context.Context, fileUUID, owner string) (DistributionReport, error) {
	lock := m.fileLock(fileUUID)
	lock.Lock()
	defer lock.Unlock()

	meta, err := m.DB.GetFileMetadata(fileUUID)
	if err != nil {
		return DistributionReport{}, err
	}

	keepaliveWindow := time.Duration(m.Config.PeerLossThresholdIntervals*m.Config.KeepaliveIntervalSeconds) * time.Second
	eligible, err := m.eligiblePeers(keepaliveWindow)
	if err != nil {
		return DistributionReport{}, err
	}
	if len(eligible) == 0 {
		return DistributionReport{}, errs.New(errs.NoPeersAvailable, "chunking.DistributeChunks", "no eligible peers available for placement")
	}

	chunks, err := m.DB.GetChunksByFile(fileUUID)
	if err != nil {
		return DistributionReport{}, err
	}

	spreadFirst := len(eligible) > meta.TotalChunks
	usedPeers := make(map[string]bool, len(eligible))
	peerIdx := 0

	report := DistributionReport{
		TotalChunks:    meta.TotalChunks,
		FailedAttempts: make(map[int]int),
	}

	for _, c := range chunks {
		if c.OwnerUUID != owner {
			continue
		}
		peer := pickPeer(eligible, usedPeers, &peerIdx, spreadFirst)

		data, err := m.Chunks.ReadChunk(owner, fileUUID, c.Idx)
		if err != nil {
			report.FailedAttempts[c.Idx] = maxAssignmentRetries
			report.KeptLocal = append(report.KeptLocal, c.Idx)
			continue
		}

		assignedAt := m.Clock.Now()
		if err := m.DB.UpsertChunkAssignment(store.ChunkAssignment{
			FileUUID:   fileUUID,
			Idx:        c.Idx,
			PeerUUID:   peer.PeerUUID,
			AssignedAt: assignedAt,
			Confirmed:  false,
			LastSeenAt: assignedAt,
		}); err != nil {
			m.Log.WithError(err).Warn("failed to record pending chunk assignment")
		}

		ok := m.assignWithRetry(ctx, peer, owner, fileUUID, c, data)
		if !ok {
			report.FailedAttempts[c.Idx] = maxAssignmentRetries
			report.KeptLocal = append(report.KeptLocal, c.Idx)
			continue
		}

		now := m.Clock.Now()
		if err := m.DB.UpsertChunkLocation(store.ChunkLocation{
			FileUUID:   fileUUID,
			Idx:        c.Idx,
			PeerUUID:   peer.PeerUUID,
			AssignedAt: now,
			Confirmed:  true,
			LastSeenAt: now,
		}); err != nil {
			m.Log.WithError(err).Warn("failed to record confirmed chunk location")
			report.FailedAttempts[c.Idx] = maxAssignmentRetries
			report.KeptLocal = append(report.KeptLocal, c.Idx)
			continue
		}
		if err := m.DB.DeleteChunkAssignment(fileUUID, c.Idx, peer.PeerUUID); err != nil {
			m.Log.WithError(err).Warn("failed to clear pending chunk assignment after confirmation")
		}

		if err := m.Chunks.DeleteChunk(owner, fileUUID, c.Idx); err != nil {
			m.Log.WithError(err).Warn("failed to delete local chunk after successful placement")
		}
		report.Distributed++
	}

	return report, nil
}

// pickPeer advances the round-robin pointer and, when spreadFirst is
// true, skips peers that already hold another index of this file until
// every eligible peer has one, only then allowing duplicates.
func pickPeer(eligible []store.Peer, usedPeers map[string]bool, peerIdx *int, spreadFirst bool) store.Peer {
	if !spreadFirst {
		p := eligible[*peerIdx%len(eligible)]
		*peerIdx++
		return p
	}
	for attempt := 0; attempt < len(eligible); attempt++ {
		p := eligible[*peerIdx%len(eligible)]
		*peerIdx++
		if !usedPeers[p.PeerUUID] {
			usedPeers[p.PeerUUID] = true
			return p
		}
	}
	p := eligible[*peerIdx%len(eligible)]
	*peerIdx++
	return p
}

func (m *Manager) assignWithRetry(ctx context.Context, peer store.Peer, owner, fileUUID string, chunk store.StoredChunk, data []byte) bool {
	backoff := 500 * time.Millisecond
	for attempt := 0; attempt < maxAssignmentRetries; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, time.Duration(m.Config.RPCTimeoutSeconds)*time.Second)
		err := m.RPC.StoreChunk(callCtx, peer.AddrString(), rpc.StoreChunkParams{
			Owner:    owner,
			FileUUID: fileUUID,
			Idx:      chunk.Idx,
			Role:     chunk.Role,
			SHA256:   chunk.SHA256,
			DataB64:  base64.StdEncoding.EncodeToString(data),
		})
		cancel()

		now := m.Clock.Now()
		m.recordPeerOutcome(peer.PeerUUID, err == nil, now)
		if err == nil {
			return true
		}

		select {
		case <-ctx.Done():
			return false
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return false
}
