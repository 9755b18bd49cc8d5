// Package chunking is the orchestrator: it drives the erasure codec,
// the chunk store, the chunk metadata database, and the peer RPC client
// through chunk_file, distribute_chunks, reconstruct_file, and the
// container auto-sync cycle the file browser relies on.
package chunking

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/decentralis-net/decentralis-core/internal/chunkstore"
	"github.com/decentralis-net/decentralis-core/internal/clock"
	"github.com/decentralis-net/decentralis-core/internal/codec"
	"github.com/decentralis-net/decentralis-core/internal/config"
	"github.com/decentralis-net/decentralis-core/internal/errs"
	"github.com/decentralis-net/decentralis-core/internal/rpc"
	"github.com/decentralis-net/decentralis-core/internal/store"
	"github.com/decentralis-net/decentralis-core/internal/trackerclient"
)

// Replicator is the narrow slice of the replication manager the
// chunking manager's background sweeps and peer-loss detection depend
// on. It is injected, not owned: the replication manager never points
// back to a Manager.
type Replicator interface {
	ProcessPendingRelocations(ctx context.Context) error
	CleanupExpiredChunks(ctx context.Context) error
	OnPeerDisconnected(peerUUID string) error
}

// Manager is the chunking core's orchestrator.
type Manager struct {
	Config        config.Config
	SelfOwnerUUID string
	SelfPeerUUID  string
	DataDir       string

	Chunks      *chunkstore.Store
	DB          *store.DB
	RPC         *rpc.Client
	Pool        *Pool
	Clock       clock.Clock
	Log         *logrus.Logger
	Replication Replicator

	// RPCListener, if set, is closed by Shutdown so the serve command's
	// accept loop unwinds cleanly.
	RPCListener net.Listener

	peers peerSetHolder

	containerMu   sync.Mutex
	containerHash [32]byte

	bgCancel context.CancelFunc
	bgDone   chan struct{}

	fileLocks sync.Map // file_uuid -> *sync.Mutex

	peerMissMu     sync.Mutex
	knownPeerUUIDs map[string]struct{}
	peerMissCounts map[string]int
}

func (m *Manager) fileLock(fileUUID string) *sync.Mutex {
	v, _ := m.fileLocks.LoadOrStore(fileUUID, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// OnPeerListUpdate is the callback a trackerclient.Client invokes after
// every successful getpeers round; it upserts each peer into the
// metadata database, republishes the in-memory peer-set snapshot, and
// tracks which previously-known peers are missing from this round so
// sustained absences can be reported as peer loss.
func (m *Manager) OnPeerListUpdate(peers []trackerclient.PeerInfo) {
	now := m.Clock.Now()
	snapshot := make([]Peer, 0, len(peers))
	seen := make(map[string]struct{}, len(peers))
	for _, p := range peers {
		seen[p.UUID] = struct{}{}
		if err := m.DB.UpsertPeer(p.UUID, p.IP, p.Port, now); err != nil {
			m.Log.WithError(err).Warn("failed to upsert peer from tracker update")
			continue
		}
		rec, err := m.DB.GetPeer(p.UUID)
		if err != nil {
			continue
		}
		snapshot = append(snapshot, Peer{
			UUID:        p.UUID,
			Addr:        net.JoinHostPort(p.IP, strconv.Itoa(p.Port)),
			Reliability: rec.Reliability(),
		})
	}
	m.peers.Store(snapshot)
	m.trackPeerAbsences(seen)
}

// trackPeerAbsences implements spec.md §4.9's first peer-loss source: a
// peer seen in some earlier getpeers round but missing from
// PeerLossThresholdIntervals consecutive rounds since is reported to
// the replication manager exactly once, then forgotten so it can be
// rediscovered later without re-triggering immediately.
func (m *Manager) trackPeerAbsences(seen map[string]struct{}) {
	m.peerMissMu.Lock()
	if m.knownPeerUUIDs == nil {
		m.knownPeerUUIDs = make(map[string]struct{})
		m.peerMissCounts = make(map[string]int)
	}

	var lost []string
	for uuid := range m.knownPeerUUIDs {
		if _, ok := seen[uuid]; ok {
			delete(m.peerMissCounts, uuid)
			continue
		}
		m.peerMissCounts[uuid]++
		if m.peerMissCounts[uuid] >= m.Config.PeerLossThresholdIntervals {
			lost = append(lost, uuid)
			delete(m.peerMissCounts, uuid)
			delete(m.knownPeerUUIDs, uuid)
		}
	}
	for uuid := range seen {
		m.knownPeerUUIDs[uuid] = struct{}{}
	}
	m.peerMissMu.Unlock()

	if m.Replication == nil {
		return
	}
	for _, uuid := range lost {
		if err := m.Replication.OnPeerDisconnected(uuid); err != nil {
			m.Log.WithError(err).WithField("peer_uuid", uuid).Warn("failed to process peer loss")
		}
	}
}

// recordPeerOutcome records an RPC outcome and, when a failure drops
// the peer's reliability below the eligibility bar, implements spec.md
// §4.9's second peer-loss source by relocating every chunk that peer
// holds exactly as if it had been detected absent from getpeers.
func (m *Manager) recordPeerOutcome(peerUUID string, success bool, now time.Time) {
	if err := m.DB.RecordPeerOutcome(peerUUID, success, now); err != nil {
		m.Log.WithError(err).Warn("failed to record peer outcome")
		return
	}
	if success || m.Replication == nil {
		return
	}
	rec, err := m.DB.GetPeer(peerUUID)
	if err != nil || rec.Reliability() >= m.Config.MinPeerReliability {
		return
	}
	if err := m.Replication.OnPeerDisconnected(peerUUID); err != nil {
		m.Log.WithError(err).WithField("peer_uuid", peerUUID).Warn("failed to process peer reliability drop")
	}
}

// ChunkFile reads path, erasure-codes it, persists every shard to the
// local chunk store, and writes its FileMetadata row. It is idempotent
// by (owner, original_name): a pre-existing record for the same name is
// fully removed first.
func (m *Manager) ChunkFile(ctx context.Context, path, owner string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", errs.Wrap(errs.ChunkStorage, "chunking.ChunkFile", "failed to read input file", err)
	}
	originalName := filepath.Base(path)

	if existing, err := m.DB.GetFileMetadataByName(owner, originalName); err == nil {
		if err := m.deleteFileEverywhere(ctx, existing.FileUUID, owner); err != nil {
			return "", err
		}
	}

	projectedChunkSize := (int64(len(data)) + int64(m.Config.RSK) - 1) / int64(m.Config.RSK)
	if m.Config.ChunkSizeBytes > 0 && projectedChunkSize > m.Config.ChunkSizeBytes {
		return "", errs.New(errs.Configuration, "chunking.ChunkFile", "file requires a data shard larger than the configured maximum chunk size; raise DECENTRALIS_CHUNK_SIZE_MB or RSK")
	}

	fileUUID := uuid.NewString()
	lock := m.fileLock(fileUUID)
	lock.Lock()
	defer lock.Unlock()

	enc, err := codec.NewEncoder(m.Config.RSK, m.Config.RSM, m.Config.LRCGroupSize)
	if err != nil {
		return "", err
	}

	var shards []codec.Shard
	var params codec.Params
	err = m.Pool.Submit(ctx, func() error {
		shards, params, err = enc.Encode(data)
		return err
	})
	if err != nil {
		return "", err
	}

	now := m.Clock.Now()
	for _, s := range shards {
		if err := m.Chunks.WriteChunk(owner, fileUUID, s.Index, s.Data); err != nil {
			return "", err
		}
		if err := m.DB.PutChunk(store.StoredChunk{
			OwnerUUID: owner,
			FileUUID:  fileUUID,
			Idx:       s.Index,
			Role:      string(s.Role),
			SizeBytes: len(s.Data),
			SHA256:    hashHex(s.Data),
			StoredAt:  now,
		}); err != nil {
			return "", err
		}
	}

	if err := m.Chunks.WriteMetadata(owner, fileUUID, encodedParams{
		Params:       params,
		OriginalName: originalName,
	}); err != nil {
		return "", err
	}

	meta := store.FileMetadata{
		FileUUID:       fileUUID,
		OwnerUUID:      owner,
		OriginalName:   originalName,
		OriginalSize:   int64(len(data)),
		OriginalSHA256: hashHex(data),
		K:              m.Config.RSK,
		M:              m.Config.RSM,
		ChunkSize:      params.ChunkSize,
		TotalChunks:    len(shards),
		LRCGroupSize:   m.Config.LRCGroupSize,
		ContentHash:    hashHexArray(params.ContentHash),
		CreatedAt:      now,
		ExpiresAt:      now.Add(time.Duration(m.Config.RetentionDays) * 24 * time.Hour),
	}
	if err := m.DB.PutFileMetadata(meta, enc.Groups()); err != nil {
		return "", err
	}

	return fileUUID, nil
}

// encodedParams is what chunkstore's metadata.json actually holds: the
// codec's own Params plus the original file name, so a later decode or
// status check never has to re-derive either from the database alone.
type encodedParams struct {
	Params       codec.Params
	OriginalName string
}

func hashHex(data []byte) string {
	sum := sha256.Sum256(data)
	return hashHexArray(sum)
}

func hashHexArray(sum [32]byte) string {
	return hex.EncodeToString(sum[:])
}
