package codec

import (
	"crypto/sha256"

	"github.com/decentralis-net/decentralis-core/internal/errs"
)

// Params describes the shape of an encoded chunk set, persisted alongside
// the chunks themselves so a decode can be driven without re-deriving it.
type Params struct {
	K            int
	M            int
	LRCGroupSize int
	ChunkSize    int
	OriginalSize int64
	ContentHash  [32]byte

	// ShardHashes holds the SHA-256 of every shard produced at encode
	// time, indexed by shard index, so Decode can treat a corrupt input
	// chunk as missing rather than trusting it.
	ShardHashes [][32]byte
}

// Role classifies a chunk's position in the encoded set.
type Role string

const (
	RoleData   Role = "data"
	RoleParity Role = "parity"
	RoleLRC    Role = "lrc"
)

// Shard is one output chunk of an Encode call, or one input chunk of a
// Decode call.
type Shard struct {
	Index int
	Role  Role
	Data  []byte
}

// Encoder implements the RS(K, M) + LRC erasure scheme.
type Encoder struct {
	params Params
	groups [][]int // data-shard indices per LRC group, in order
}

// NewEncoder builds an Encoder for the given data/parity/LRC group
// parameters. It does not depend on the input size: ChunkSize and
// OriginalSize are filled in by Encode.
func NewEncoder(k, m, lrcGroupSize int) (*Encoder, error) {
	if k < 1 {
		return nil, errs.New(errs.ChunkEncoding, "codec.NewEncoder", "k must be >= 1")
	}
	if m < 0 {
		return nil, errs.New(errs.ChunkEncoding, "codec.NewEncoder", "m must be >= 0")
	}
	if k+m > 255 {
		return nil, errs.New(errs.ChunkEncoding, "codec.NewEncoder", "k+m exceeds GF(2^8) shard limit of 255")
	}
	if lrcGroupSize < 1 {
		lrcGroupSize = k
	}
	groups := partitionGroups(k, lrcGroupSize)
	return &Encoder{
		params: Params{K: k, M: m, LRCGroupSize: lrcGroupSize},
		groups: groups,
	}, nil
}

func partitionGroups(k, groupSize int) [][]int {
	var groups [][]int
	for start := 0; start < k; start += groupSize {
		end := start + groupSize
		if end > k {
			end = k
		}
		idx := make([]int, 0, end-start)
		for i := start; i < end; i++ {
			idx = append(idx, i)
		}
		groups = append(groups, idx)
	}
	return groups
}

// Encode splits plaintext into K zero-padded data shards of length
// ceil(len(plaintext)/K), computes M RS parity shards over GF(2^8), and
// one XOR LRC symbol per contiguous data group. Output order is data
// shards [0,k), parity shards [k,k+m), LRC symbols [k+m, k+m+g).
func (e *Encoder) Encode(plaintext []byte) ([]Shard, Params, error) {
	k, m := e.params.K, e.params.M
	n := len(plaintext)
	chunkSize := (n + k - 1) / k
	if chunkSize == 0 {
		chunkSize = 1
	}

	params := e.params
	params.ChunkSize = chunkSize
	params.OriginalSize = int64(n)
	params.ContentHash = sha256.Sum256(plaintext)

	dataShards := make([][]byte, k)
	for i := 0; i < k; i++ {
		buf := make([]byte, chunkSize)
		start := i * chunkSize
		end := start + chunkSize
		if start < n {
			copyEnd := end
			if copyEnd > n {
				copyEnd = n
			}
			copy(buf, plaintext[start:copyEnd])
		}
		dataShards[i] = buf
	}

	out := make([]Shard, 0, k+m+len(e.groups))
	for i, d := range dataShards {
		out = append(out, Shard{Index: i, Role: RoleData, Data: d})
	}

	gen := vandermondeGenerator(k, m)
	for p := 0; p < m; p++ {
		row := gen[k+p]
		parity := make([]byte, chunkSize)
		for b := 0; b < chunkSize; b++ {
			var acc byte
			for j := 0; j < k; j++ {
				acc = gfAdd(acc, gfMul(row[j], dataShards[j][b]))
			}
			parity[b] = acc
		}
		out = append(out, Shard{Index: k + p, Role: RoleParity, Data: parity})
	}

	for gi, group := range e.groups {
		lrc := make([]byte, chunkSize)
		for _, di := range group {
			for b := 0; b < chunkSize; b++ {
				lrc[b] ^= dataShards[di][b]
			}
		}
		out = append(out, Shard{Index: k + m + gi, Role: RoleLRC, Data: lrc})
	}

	params.ShardHashes = make([][32]byte, len(out))
	for _, s := range out {
		params.ShardHashes[s.Index] = sha256.Sum256(s.Data)
	}

	return out, params, nil
}

// Groups exposes the LRC group partition (data-shard indices per group)
// so callers can decide which chunks to fetch before attempting decode.
func (e *Encoder) Groups() [][]int {
	out := make([][]int, len(e.groups))
	for i, g := range e.groups {
		idx := make([]int, len(g))
		copy(idx, g)
		out[i] = idx
	}
	return out
}
