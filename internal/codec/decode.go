package codec

import (
	"crypto/sha256"

	"github.com/decentralis-net/decentralis-core/internal/errs"
)

// Decode reconstructs the original plaintext from whatever subset of
// shards the caller has managed to retrieve, preferring the XOR-based
// LRC recovery path for isolated single-shard gaps and falling back to
// full RS erasure decoding over GF(2^8) otherwise. A chunk whose SHA-256
// no longer matches params.ShardHashes is treated as missing, not as an
// error, since the caller may have more chunks to fall back on.
func Decode(shards []Shard, params Params) ([]byte, error) {
	k, m := params.K, params.M
	groups := partitionGroups(k, params.LRCGroupSize)

	data := make(map[int][]byte)
	parity := make(map[int][]byte)
	lrc := make(map[int][]byte)

	for _, s := range shards {
		if !shardValid(s, params) {
			continue
		}
		switch {
		case s.Index < k:
			data[s.Index] = s.Data
		case s.Index < k+m:
			parity[s.Index] = s.Data
		default:
			lrc[s.Index-(k+m)] = s.Data
		}
	}

	recoverViaLRC(data, lrc, groups)

	if len(data) == k {
		return assemblePlaintext(data, k, params)
	}

	plaintext, err := recoverViaRS(data, parity, k, m, params)
	if err != nil {
		return nil, err
	}
	return plaintext, nil
}

func shardValid(s Shard, params Params) bool {
	if s.Index < 0 || s.Index >= len(params.ShardHashes) {
		return false
	}
	return sha256.Sum256(s.Data) == params.ShardHashes[s.Index]
}

// recoverViaLRC fills in any data index that is the sole gap in its
// group, given the group's LRC symbol and the rest of its members.
func recoverViaLRC(data map[int][]byte, lrc map[int][]byte, groups [][]int) {
	for gi, group := range groups {
		sym, haveSym := lrc[gi]
		if !haveSym {
			continue
		}
		missing := -1
		missingCount := 0
		for _, di := range group {
			if _, ok := data[di]; !ok {
				missingCount++
				missing = di
			}
		}
		if missingCount != 1 {
			continue
		}
		recovered := make([]byte, len(sym))
		copy(recovered, sym)
		for _, di := range group {
			if di == missing {
				continue
			}
			for b, v := range data[di] {
				recovered[b] ^= v
			}
		}
		data[missing] = recovered
	}
}

// recoverViaRS reconstructs any still-missing data shards using RS
// erasure decoding: pick k surviving rows (data or parity) of the
// systematic Vandermonde generator, invert that k x k submatrix, and
// multiply it by the corresponding surviving shard values to recover
// the original data-shard vector for every byte position.
func recoverViaRS(data, parity map[int][]byte, k, m int, params Params) ([]byte, error) {
	gen := vandermondeGenerator(k, m)

	survivingRows := make([]int, 0, k)
	survivingShards := make([][]byte, 0, k)
	for i := 0; i < k; i++ {
		if d, ok := data[i]; ok {
			survivingRows = append(survivingRows, i)
			survivingShards = append(survivingShards, d)
		}
	}
	for p := 0; p < m; p++ {
		if len(survivingRows) == k {
			break
		}
		if pd, ok := parity[k+p]; ok {
			survivingRows = append(survivingRows, k+p)
			survivingShards = append(survivingShards, pd)
		}
	}

	if len(survivingRows) < k {
		return nil, errs.New(errs.InsufficientChunks, "codec.Decode", "fewer than k surviving data/parity chunks and no LRC shortcut available")
	}
	survivingRows = survivingRows[:k]
	survivingShards = survivingShards[:k]

	sub := gen.subMatrix(survivingRows)
	inv, err := sub.invert()
	if err != nil {
		return nil, errs.Wrap(errs.ChunkDecoding, "codec.Decode", "failed to invert generator submatrix", err)
	}

	chunkSize := params.ChunkSize
	recovered := make([][]byte, k)
	for i := range recovered {
		recovered[i] = make([]byte, chunkSize)
	}
	colVec := make([]byte, k)
	for b := 0; b < chunkSize; b++ {
		for j := 0; j < k; j++ {
			colVec[j] = survivingShards[j][b]
		}
		for i := 0; i < k; i++ {
			var acc byte
			for j := 0; j < k; j++ {
				acc = gfAdd(acc, gfMul(inv[i][j], colVec[j]))
			}
			recovered[i][b] = acc
		}
	}

	merged := make(map[int][]byte, k)
	for i, d := range data {
		merged[i] = d
	}
	for i := 0; i < k; i++ {
		if _, ok := merged[i]; !ok {
			merged[i] = recovered[i]
		}
	}
	return assemblePlaintext(merged, k, params)
}

func assemblePlaintext(data map[int][]byte, k int, params Params) ([]byte, error) {
	buf := make([]byte, 0, int64(params.ChunkSize)*int64(k))
	for i := 0; i < k; i++ {
		d, ok := data[i]
		if !ok {
			return nil, errs.New(errs.InsufficientChunks, "codec.Decode", "data shard missing after recovery attempts")
		}
		buf = append(buf, d...)
	}
	if int64(len(buf)) < params.OriginalSize {
		return nil, errs.New(errs.ChunkDecoding, "codec.Decode", "assembled plaintext shorter than original_size")
	}
	plaintext := buf[:params.OriginalSize]
	if sha256.Sum256(plaintext) != params.ContentHash {
		return nil, errs.New(errs.ChunkDecoding, "codec.Decode", "content hash mismatch after reconstruction")
	}
	return plaintext, nil
}
