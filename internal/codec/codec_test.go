package codec

import (
	"bytes"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/decentralis-net/decentralis-core/internal/errs"
)

func randomPlaintext(t *testing.T, n int) []byte {
	t.Helper()
	buf := make([]byte, n)
	_, err := rand.Read(buf)
	require.NoError(t, err)
	return buf
}

func TestEncodeShapeMatchesHappyPathScenario(t *testing.T) {
	enc, err := NewEncoder(6, 4, 2)
	require.NoError(t, err)
	plaintext := randomPlaintext(t, 25*1024*1024)

	shards, params, err := enc.Encode(plaintext)
	require.NoError(t, err)
	require.Len(t, shards, 13, "expected 6 data + 4 parity + 3 lrc chunks")
	require.Len(t, enc.Groups(), 3)
	require.Positive(t, params.ChunkSize)
}

func TestRoundTripNoLoss(t *testing.T) {
	enc, err := NewEncoder(6, 4, 2)
	require.NoError(t, err)
	plaintext := randomPlaintext(t, 1_000_003)

	shards, params, err := enc.Encode(plaintext)
	require.NoError(t, err)

	out, err := Decode(shards, params)
	require.NoError(t, err)
	require.True(t, bytes.Equal(out, plaintext), "round-tripped plaintext does not match original")
}

func TestRSRecoveryAfterLosingUpToMShards(t *testing.T) {
	enc, err := NewEncoder(6, 4, 2)
	require.NoError(t, err)
	plaintext := randomPlaintext(t, 500_000)

	shards, params, err := enc.Encode(plaintext)
	require.NoError(t, err)

	// Drop data chunks 0-3 (4 losses); recover via RS using parity and
	// the remaining data/parity chunks, deliberately excluding LRC
	// symbols so only the RS path can succeed.
	var survivors []Shard
	for _, s := range shards {
		if s.Role == RoleLRC {
			continue
		}
		if s.Index >= 0 && s.Index <= 3 {
			continue
		}
		survivors = append(survivors, s)
	}

	out, err := Decode(survivors, params)
	require.NoError(t, err)
	require.True(t, bytes.Equal(out, plaintext), "RS-recovered plaintext does not match original")
}

func TestLRCShortcutRecoversSingleMissingDataChunk(t *testing.T) {
	enc, err := NewEncoder(6, 4, 2)
	require.NoError(t, err)
	plaintext := randomPlaintext(t, 300_000)

	shards, params, err := enc.Encode(plaintext)
	require.NoError(t, err)

	// Scenario: chunk #1 is missing. Group {0,1} covers it. Provide only
	// chunk #0, the LRC symbol for group 0, and nothing else — no RS
	// parity at all — to prove the LRC path alone resolves it.
	var survivors []Shard
	for _, s := range shards {
		if s.Index == 0 {
			survivors = append(survivors, s)
		}
		if s.Role == RoleLRC && s.Index == 6+4+0 {
			survivors = append(survivors, s)
		}
	}
	require.Len(t, survivors, 2, "expected exactly data#0 + lrc group 0")

	// Data chunks 2-5 belong to the other LRC groups and aren't part of
	// this scenario's missing set; they're still needed for final assembly.
	for _, s := range shards {
		if s.Role == RoleData && s.Index >= 2 && s.Index <= 5 {
			survivors = append(survivors, s)
		}
	}

	out, err := Decode(survivors, params)
	require.NoError(t, err)
	require.True(t, bytes.Equal(out, plaintext), "LRC-recovered plaintext does not match original")
}

func TestInsufficientChunksWhenTooManyLost(t *testing.T) {
	enc, err := NewEncoder(6, 4, 2)
	require.NoError(t, err)
	plaintext := randomPlaintext(t, 200_000)

	shards, params, err := enc.Encode(plaintext)
	require.NoError(t, err)

	// Keep only 5 of the 13 chunks (data 0-4): fewer than k=6, and no LRC
	// symbol is kept to close group {4,5}'s single gap, so neither
	// recovery path can succeed.
	survivors := shards[:5]

	_, err = Decode(survivors, params)
	require.Error(t, err)
	kind, ok := errs.KindOf(err)
	require.True(t, ok)
	require.Equal(t, errs.InsufficientChunks, kind)
}

func TestCorruptChunkTreatedAsMissing(t *testing.T) {
	enc, err := NewEncoder(6, 4, 2)
	require.NoError(t, err)
	plaintext := randomPlaintext(t, 400_000)

	shards, params, err := enc.Encode(plaintext)
	require.NoError(t, err)

	// Corrupt chunk #0's bytes in place; it must be rejected by its hash
	// check and the codec must still recover via the remaining chunks.
	corrupted := make([]Shard, len(shards))
	copy(corrupted, shards)
	tampered := make([]byte, len(corrupted[0].Data))
	copy(tampered, corrupted[0].Data)
	tampered[0] ^= 0xFF
	corrupted[0] = Shard{Index: corrupted[0].Index, Role: corrupted[0].Role, Data: tampered}

	out, err := Decode(corrupted, params)
	require.NoError(t, err)
	require.True(t, bytes.Equal(out, plaintext), "reconstructed plaintext does not match original after dropping a corrupt chunk")
}
