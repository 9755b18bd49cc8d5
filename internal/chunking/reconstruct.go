package chunking

import (
	"context"
	"encoding/base64"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/decentralis-net/decentralis-core/internal/codec"
	"github.com/decentralis-net/decentralis-core/internal/errs"
	"github.com/decentralis-net/decentralis-core/internal/rpc"
	"github.com/decentralis-net/decentralis-core/internal/store"
)

// ReconstructFile rebuilds fileUUID from whatever local chunks remain
// plus whatever a peer can still hand over, stopping as soon as the
// codec can proceed and writing the result atomically to outputPath.
func (m *Manager) ReconstructFile(ctx context.Context, fileUUID, owner, outputPath string) error {
	lock := m.fileLock(fileUUID)
	lock.Lock()
	defer lock.Unlock()

	if _, err := m.DB.GetFileMetadata(fileUUID); err != nil {
		return err
	}

	var encoded encodedParams
	if err := m.Chunks.ReadMetadata(owner, fileUUID, &encoded); err != nil {
		return err
	}
	params := encoded.Params

	shards := m.collectLocalShards(owner, fileUUID, params)

	if _, err := codec.Decode(shards, params); err != nil {
		if kind, _ := errs.KindOf(err); kind == errs.InsufficientChunks {
			shards, err = m.fetchRemainingShards(ctx, fileUUID, owner, params, shards)
			if err != nil {
				return err
			}
		} else {
			return err
		}
	}

	plaintext, err := codec.Decode(shards, params)
	if err != nil {
		return err
	}

	return writeFileAtomic(outputPath, plaintext)
}

func (m *Manager) collectLocalShards(owner, fileUUID string, params codec.Params) []codec.Shard {
	total := len(params.ShardHashes)
	shards := make([]codec.Shard, 0, total)
	for idx := 0; idx < total; idx++ {
		if !m.Chunks.ChunkExists(owner, fileUUID, idx) {
			continue
		}
		data, err := m.Chunks.ReadChunk(owner, fileUUID, idx)
		if err != nil {
			continue
		}
		shards = append(shards, codec.Shard{Index: idx, Role: roleForIndex(idx, params), Data: data})
	}
	return shards
}

func roleForIndex(idx int, params codec.Params) codec.Role {
	switch {
	case idx < params.K:
		return codec.RoleData
	case idx < params.K+params.M:
		return codec.RoleParity
	default:
		return codec.RoleLRC
	}
}

// fetchRemainingShards queries chunk_locations for every index still
// missing from haveShards and tries peers in descending reliability
// order until the codec reports reconstruction is possible.
func (m *Manager) fetchRemainingShards(ctx context.Context, fileUUID, owner string, params codec.Params, haveShards []codec.Shard) ([]codec.Shard, error) {
	have := make(map[int]bool, len(haveShards))
	for _, s := range haveShards {
		have[s.Index] = true
	}

	locs, err := m.DB.GetLocationsByFile(fileUUID)
	if err != nil {
		return haveShards, err
	}
	byIdx := make(map[int][]store.ChunkLocation)
	for _, l := range locs {
		if !l.Confirmed || have[l.Idx] {
			continue
		}
		byIdx[l.Idx] = append(byIdx[l.Idx], l)
	}

	total := len(params.ShardHashes)
	for idx := 0; idx < total; idx++ {
		if have[idx] {
			continue
		}
		candidates := byIdx[idx]
		if len(candidates) == 0 {
			continue
		}
		peers := make([]store.Peer, 0, len(candidates))
		for _, c := range candidates {
			p, err := m.DB.GetPeer(c.PeerUUID)
			if err != nil {
				continue
			}
			peers = append(peers, *p)
		}
		sort.Slice(peers, func(i, j int) bool { return peers[i].Reliability() > peers[j].Reliability() })

		for _, peer := range peers {
			data, err := m.fetchChunk(ctx, peer, owner, fileUUID, idx)
			if err != nil {
				continue
			}
			haveShards = append(haveShards, codec.Shard{Index: idx, Role: roleForIndex(idx, params), Data: data})
			have[idx] = true
			break
		}

		if _, err := codec.Decode(haveShards, params); err == nil {
			return haveShards, nil
		}
	}

	if _, err := codec.Decode(haveShards, params); err != nil {
		return haveShards, errs.Wrap(errs.InsufficientChunks, "chunking.ReconstructFile", "exhausted all known chunk locations", err)
	}
	return haveShards, nil
}

func (m *Manager) fetchChunk(ctx context.Context, peer store.Peer, owner, fileUUID string, idx int) ([]byte, error) {
	callCtx, cancel := context.WithTimeout(ctx, time.Duration(m.Config.RPCTimeoutSeconds)*time.Second)
	defer cancel()

	result, err := m.RPC.GetChunk(callCtx, peer.AddrString(), rpc.GetChunkParams{Owner: owner, FileUUID: fileUUID, Idx: idx})
	now := m.Clock.Now()
	m.recordPeerOutcome(peer.PeerUUID, err == nil, now)
	if err != nil {
		return nil, err
	}
	data, err := base64.StdEncoding.DecodeString(result.DataB64)
	if err != nil {
		return nil, errs.Wrap(errs.ChunkValidation, "chunking.fetchChunk", "invalid base64 chunk data from peer", err)
	}
	if hashHex(data) != result.SHA256 {
		return nil, errs.New(errs.ChunkValidation, "chunking.fetchChunk", "peer-reported sha256 does not match fetched bytes")
	}
	return data, nil
}

func writeFileAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errs.Wrap(errs.ChunkStorage, "chunking.writeFileAtomic", "failed to create output directory", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errs.Wrap(errs.ChunkStorage, "chunking.writeFileAtomic", "failed to write temporary output file", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return errs.Wrap(errs.ChunkStorage, "chunking.writeFileAtomic", "failed to rename output file into place", err)
	}
	return nil
}
