// Package replication watches for lost peers and expired retention
// windows and keeps every chunk's redundancy intact without ever
// reaching back into the chunking manager: it is driven purely by
// OnPeerDisconnected events and the periodic sweeps that call it.
package replication

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/decentralis-net/decentralis-core/internal/chunkstore"
	"github.com/decentralis-net/decentralis-core/internal/clock"
	"github.com/decentralis-net/decentralis-core/internal/codec"
	"github.com/decentralis-net/decentralis-core/internal/config"
	"github.com/decentralis-net/decentralis-core/internal/errs"
	"github.com/decentralis-net/decentralis-core/internal/rpc"
	"github.com/decentralis-net/decentralis-core/internal/store"
)

// PeerSetAccessor returns the current eligible peer set without giving
// the replication manager a reference to whatever owns it.
type PeerSetAccessor func() ([]store.Peer, error)

// Manager satisfies chunking.Replicator. It holds the chunk database,
// chunk store, RPC client, and a peer-set accessor function — never a
// pointer back to the chunking manager.
type Manager struct {
	Config config.Config
	DB     *store.DB
	Chunks *chunkstore.Store
	RPC    *rpc.Client
	Peers  PeerSetAccessor
	Clock  clock.Clock
	Log    *logrus.Logger
}

// recordPeerOutcome records an RPC outcome and, when a failure drops
// the peer's reliability below the eligibility bar, treats it the same
// as a detected peer loss: spec.md §4.9's second peer-loss source.
func (m *Manager) recordPeerOutcome(peerUUID string, success bool, now time.Time) {
	if err := m.DB.RecordPeerOutcome(peerUUID, success, now); err != nil {
		m.Log.WithError(err).Warn("failed to record peer outcome")
		return
	}
	if success {
		return
	}
	rec, err := m.DB.GetPeer(peerUUID)
	if err != nil || rec.Reliability() >= m.Config.MinPeerReliability {
		return
	}
	if err := m.OnPeerDisconnected(peerUUID); err != nil {
		m.Log.WithError(err).WithField("peer_uuid", peerUUID).Warn("failed to process peer reliability drop")
	}
}

// OnPeerDisconnected enumerates every chunk_locations row the lost peer
// held and creates a pending ReplicationTask for each, per spec.md §4.9.
func (m *Manager) OnPeerDisconnected(peerUUID string) error {
	locs, err := m.DB.GetLocationsByPeer(peerUUID)
	if err != nil {
		return err
	}
	now := m.Clock.Now()
	for _, loc := range locs {
		if err := m.DB.CreateReplicationTask(store.ReplicationTask{
			FileUUID:     loc.FileUUID,
			ChunkIndex:   loc.Idx,
			LostPeerUUID: peerUUID,
			CreatedAt:    now,
			State:        "pending",
		}); err != nil {
			m.Log.WithError(err).WithFields(logrus.Fields{
				"file_uuid": loc.FileUUID,
				"idx":       loc.Idx,
			}).Warn("failed to create replication task")
		}
	}
	return m.DB.DeleteLocationsByPeer(peerUUID)
}

// ProcessPendingRelocations attempts every pending task that is due: it
// fetches a surviving copy of the chunk (preferring the most reliable
// holder), pushes it to a fresh eligible peer, and records the outcome.
// A task that cannot be satisfied from any peer falls back to local
// codec reconstruction; a failed attempt is rescheduled, and the task is
// only marked failed, flagging the file degraded, once its retry budget
// is spent.
func (m *Manager) ProcessPendingRelocations(ctx context.Context) error {
	tasks, err := m.DB.ListPendingReplicationTasks(m.Clock.Now())
	if err != nil {
		return err
	}
	for _, task := range tasks {
		if err := ctx.Err(); err != nil {
			return err
		}
		m.processTask(ctx, task)
	}
	return nil
}

func (m *Manager) processTask(ctx context.Context, task store.ReplicationTask) {
	data, sha, sourcePeer, err := m.fetchSurvivingCopy(ctx, task)
	if err != nil {
		data, sha, err = m.reconstructLocally(ctx, task)
		sourcePeer = ""
	}
	if err != nil {
		m.retryOrFail(task)
		return
	}

	target, err := m.pickReplacementPeer(task)
	if err != nil {
		m.retryOrFail(task)
		return
	}

	chunk, err := m.chunkRecord(task)
	if err != nil {
		m.retryOrFail(task)
		return
	}

	callCtx, cancel := context.WithTimeout(ctx, time.Duration(m.Config.RPCTimeoutSeconds)*time.Second)
	pushErr := m.RPC.StoreChunk(callCtx, target.AddrString(), rpc.StoreChunkParams{
		Owner:    chunk.OwnerUUID,
		FileUUID: task.FileUUID,
		Idx:      task.ChunkIndex,
		Role:     chunk.Role,
		SHA256:   sha,
		DataB64:  base64.StdEncoding.EncodeToString(data),
	})
	cancel()

	now := m.Clock.Now()
	m.recordPeerOutcome(target.PeerUUID, pushErr == nil, now)
	if pushErr != nil {
		m.retryOrFail(task)
		return
	}

	if err := m.DB.UpsertChunkLocation(store.ChunkLocation{
		FileUUID:   task.FileUUID,
		Idx:        task.ChunkIndex,
		PeerUUID:   target.PeerUUID,
		AssignedAt: now,
		Confirmed:  true,
		LastSeenAt: now,
	}); err != nil {
		m.Log.WithError(err).Warn("failed to record relocated chunk location")
	}

	_ = m.DB.RecordReplication(store.ReplicationHistory{
		FileUUID:  task.FileUUID,
		Idx:       task.ChunkIndex,
		FromPeer:  sourcePeer,
		ToPeer:    target.PeerUUID,
		Timestamp: now,
		Success:   true,
	})

	if err := m.DB.UpdateReplicationTaskState(task.ID, "done", task.Attempts+1); err != nil {
		m.Log.WithError(err).Warn("failed to mark replication task done")
	}
}

// retryOrFail reschedules task for another attempt after the configured
// backoff once its attempt budget allows it, and only gives up — marking
// the task failed and the file degraded — once MaxReplicationRetries is
// exhausted.
func (m *Manager) retryOrFail(task store.ReplicationTask) {
	attempts := task.Attempts + 1
	if attempts < m.Config.MaxReplicationRetries {
		nextAttempt := m.Clock.Now().Add(time.Duration(m.Config.ReplicationRetryDelaySeconds) * time.Second)
		if err := m.DB.RescheduleReplicationTask(task.ID, attempts, nextAttempt); err != nil {
			m.Log.WithError(err).Warn("failed to reschedule replication task")
		}
		return
	}
	m.failTask(task)
}

func (m *Manager) failTask(task store.ReplicationTask) {
	if err := m.DB.UpdateReplicationTaskState(task.ID, "failed", task.Attempts+1); err != nil {
		m.Log.WithError(err).Warn("failed to mark replication task failed")
	}
	if err := m.DB.SetFileDegraded(task.FileUUID, true); err != nil {
		m.Log.WithError(err).Warn("failed to flag file as degraded")
	}
	_ = m.DB.RecordReplication(store.ReplicationHistory{
		FileUUID:  task.FileUUID,
		Idx:       task.ChunkIndex,
		FromPeer:  task.LostPeerUUID,
		Timestamp: m.Clock.Now(),
		Success:   false,
	})
}

// fetchSurvivingCopy asks the most reliable confirmed holder of the
// chunk (other than the peer that was just lost) for its bytes.
func (m *Manager) fetchSurvivingCopy(ctx context.Context, task store.ReplicationTask) (data []byte, sha256Hex string, sourcePeer string, err error) {
	locs, err := m.DB.GetLocationsByFile(task.FileUUID)
	if err != nil {
		return nil, "", "", err
	}
	var candidates []store.Peer
	for _, l := range locs {
		if l.Idx != task.ChunkIndex || !l.Confirmed || l.PeerUUID == task.LostPeerUUID {
			continue
		}
		p, err := m.DB.GetPeer(l.PeerUUID)
		if err != nil {
			continue
		}
		candidates = append(candidates, *p)
	}
	if len(candidates) == 0 {
		return nil, "", "", errs.New(errs.Replication, "replication.fetchSurvivingCopy", "no surviving holder of this chunk")
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Reliability() > candidates[j].Reliability() })

	chunk, err := m.chunkRecord(task)
	if err != nil {
		return nil, "", "", err
	}

	for _, p := range candidates {
		callCtx, cancel := context.WithTimeout(ctx, time.Duration(m.Config.RPCTimeoutSeconds)*time.Second)
		result, err := m.RPC.GetChunk(callCtx, p.AddrString(), rpc.GetChunkParams{
			Owner:    chunk.OwnerUUID,
			FileUUID: task.FileUUID,
			Idx:      task.ChunkIndex,
		})
		cancel()
		now := m.Clock.Now()
		m.recordPeerOutcome(p.PeerUUID, err == nil, now)
		if err != nil {
			continue
		}
		raw, err := base64.StdEncoding.DecodeString(result.DataB64)
		if err != nil {
			continue
		}
		return raw, result.SHA256, p.PeerUUID, nil
	}
	return nil, "", "", errs.New(errs.Replication, "replication.fetchSurvivingCopy", "every surviving holder was unreachable")
}

// reconstructLocally falls back to the erasure codec when no peer can
// hand over the missing chunk directly: it gathers whatever shards are
// still reachable, on this node or any other confirmed holder, rebuilds
// the whole file, and re-slices out the one index this task needs.
func (m *Manager) reconstructLocally(ctx context.Context, task store.ReplicationTask) ([]byte, string, error) {
	meta, err := m.DB.GetFileMetadata(task.FileUUID)
	if err != nil {
		return nil, "", err
	}

	var encoded struct {
		Params       codec.Params
		OriginalName string
	}
	if err := m.Chunks.ReadMetadata(meta.OwnerUUID, task.FileUUID, &encoded); err != nil {
		return nil, "", err
	}
	params := encoded.Params

	shards := make([]codec.Shard, 0, len(params.ShardHashes))
	have := make(map[int]bool, len(params.ShardHashes))
	for idx := 0; idx < len(params.ShardHashes); idx++ {
		if !m.Chunks.ChunkExists(meta.OwnerUUID, task.FileUUID, idx) {
			continue
		}
		data, err := m.Chunks.ReadChunk(meta.OwnerUUID, task.FileUUID, idx)
		if err != nil {
			continue
		}
		shards = append(shards, codec.Shard{Index: idx, Data: data})
		have[idx] = true
	}

	if _, err := codec.Decode(shards, params); err != nil {
		shards = m.fetchRemainingShardsFromPeers(ctx, task.FileUUID, meta.OwnerUUID, params, shards, have)
	}

	plaintext, err := codec.Decode(shards, params)
	if err != nil {
		return nil, "", errs.Wrap(errs.Replication, "replication.reconstructLocally", "reconstruction failed, cannot re-derive missing chunk", err)
	}

	enc, err := codec.NewEncoder(meta.K, meta.M, meta.LRCGroupSize)
	if err != nil {
		return nil, "", err
	}
	rebuilt, _, err := enc.Encode(plaintext)
	if err != nil {
		return nil, "", err
	}
	for _, s := range rebuilt {
		if s.Index == task.ChunkIndex {
			return s.Data, hashHex(s.Data), nil
		}
	}
	return nil, "", errs.New(errs.Replication, "replication.reconstructLocally", "re-encoding did not reproduce the requested shard index")
}

// fetchRemainingShardsFromPeers asks every confirmed holder of a still-
// missing index for its copy, in descending reliability order, trying
// each index only until the codec reports decoding has become possible.
func (m *Manager) fetchRemainingShardsFromPeers(ctx context.Context, fileUUID, owner string, params codec.Params, shards []codec.Shard, have map[int]bool) []codec.Shard {
	locs, err := m.DB.GetLocationsByFile(fileUUID)
	if err != nil {
		return shards
	}
	byIdx := make(map[int][]store.ChunkLocation)
	for _, l := range locs {
		if l.Confirmed && !have[l.Idx] {
			byIdx[l.Idx] = append(byIdx[l.Idx], l)
		}
	}

	for idx, candidates := range byIdx {
		peers := make([]store.Peer, 0, len(candidates))
		for _, c := range candidates {
			p, err := m.DB.GetPeer(c.PeerUUID)
			if err != nil {
				continue
			}
			peers = append(peers, *p)
		}
		sort.Slice(peers, func(i, j int) bool { return peers[i].Reliability() > peers[j].Reliability() })

		for _, p := range peers {
			callCtx, cancel := context.WithTimeout(ctx, time.Duration(m.Config.RPCTimeoutSeconds)*time.Second)
			result, err := m.RPC.GetChunk(callCtx, p.AddrString(), rpc.GetChunkParams{Owner: owner, FileUUID: fileUUID, Idx: idx})
			cancel()
			now := m.Clock.Now()
			m.recordPeerOutcome(p.PeerUUID, err == nil, now)
			if err != nil {
				continue
			}
			data, err := base64.StdEncoding.DecodeString(result.DataB64)
			if err != nil {
				continue
			}
			shards = append(shards, codec.Shard{Index: idx, Data: data})
			have[idx] = true
			break
		}

		if _, err := codec.Decode(shards, params); err == nil {
			return shards
		}
	}
	return shards
}

func (m *Manager) chunkRecord(task store.ReplicationTask) (store.StoredChunk, error) {
	chunks, err := m.DB.GetChunksByFile(task.FileUUID)
	if err != nil {
		return store.StoredChunk{}, err
	}
	for _, c := range chunks {
		if c.Idx == task.ChunkIndex {
			return c, nil
		}
	}
	return store.StoredChunk{}, errs.New(errs.ChunkNotFound, "replication.chunkRecord", "no chunk record for this file/idx")
}

// pickReplacementPeer chooses an eligible peer that neither already
// holds this chunk nor is the peer the task declared lost.
func (m *Manager) pickReplacementPeer(task store.ReplicationTask) (store.Peer, error) {
	eligible, err := m.Peers()
	if err != nil {
		return store.Peer{}, err
	}
	locs, err := m.DB.GetLocationsByFile(task.FileUUID)
	if err != nil {
		return store.Peer{}, err
	}
	excluded := map[string]bool{task.LostPeerUUID: true}
	for _, l := range locs {
		if l.Idx == task.ChunkIndex {
			excluded[l.PeerUUID] = true
		}
	}
	for _, p := range eligible {
		if !excluded[p.PeerUUID] {
			return p, nil
		}
	}
	return store.Peer{}, errs.New(errs.NoPeersAvailable, "replication.pickReplacementPeer", "no eligible peer without this chunk already")
}

// CleanupExpiredChunks removes every chunk whose owning file has
// expired, locally and best-effort on every confirmed remote holder.
func (m *Manager) CleanupExpiredChunks(ctx context.Context) error {
	files, err := m.DB.ListExpiredFiles(m.Clock.Now())
	if err != nil {
		return err
	}
	for _, f := range files {
		locs, err := m.DB.GetLocationsByFile(f.FileUUID)
		if err != nil {
			continue
		}
		for _, loc := range locs {
			peer, err := m.DB.GetPeer(loc.PeerUUID)
			if err != nil {
				continue
			}
			callCtx, cancel := context.WithTimeout(ctx, time.Duration(m.Config.RPCTimeoutSeconds)*time.Second)
			err = m.RPC.DeleteChunk(callCtx, peer.AddrString(), rpc.DeleteChunkParams{
				Owner:    f.OwnerUUID,
				FileUUID: f.FileUUID,
				Idx:      loc.Idx,
			})
			cancel()
			if err != nil {
				m.Log.WithError(err).Debug("best-effort remote chunk cleanup failed")
			}
		}
		for idx := 0; idx < f.TotalChunks; idx++ {
			_ = m.Chunks.DeleteChunk(f.OwnerUUID, f.FileUUID, idx)
		}
		if err := m.DB.DeleteFileMetadata(f.FileUUID); err != nil {
			m.Log.WithError(err).WithField("file_uuid", f.FileUUID).Warn("failed to delete expired file metadata")
		}
	}
	return nil
}

func hashHex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
