package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestPutAndGetFileMetadataByName(t *testing.T) {
	db := openTestDB(t)
	now := time.Now()

	meta := FileMetadata{
		FileUUID:     "file-1",
		OwnerUUID:    "owner-1",
		OriginalName: "report.pdf",
		OriginalSize: 1024,
		K:            6,
		M:            4,
		LRCGroupSize: 2,
		CreatedAt:    now,
		ExpiresAt:    now.Add(30 * 24 * time.Hour),
	}
	require.NoError(t, db.PutFileMetadata(meta, [][]int{{0, 1}, {2, 3}, {4, 5}}))

	got, err := db.GetFileMetadataByName("owner-1", "report.pdf")
	require.NoError(t, err)
	require.Equal(t, "file-1", got.FileUUID)

	groups, err := UnmarshalLRCGroups(*got)
	require.NoError(t, err)
	require.Len(t, groups, 3)
}

func TestDeleteFileMetadataCascades(t *testing.T) {
	db := openTestDB(t)
	now := time.Now()
	meta := FileMetadata{FileUUID: "file-2", OwnerUUID: "owner-1", OriginalName: "x.bin", CreatedAt: now, ExpiresAt: now}
	require.NoError(t, db.PutFileMetadata(meta, nil))
	require.NoError(t, db.PutChunk(StoredChunk{OwnerUUID: "owner-1", FileUUID: "file-2", Idx: 0, SHA256: "abc", StoredAt: now}))
	require.NoError(t, db.UpsertChunkLocation(ChunkLocation{FileUUID: "file-2", Idx: 0, PeerUUID: "peer-1", AssignedAt: now, LastSeenAt: now}))

	require.NoError(t, db.DeleteFileMetadata("file-2"))

	_, err := db.GetFileMetadata("file-2")
	require.Error(t, err, "expected file metadata to be gone")

	chunks, err := db.GetChunksByFile("file-2")
	require.NoError(t, err)
	require.Empty(t, chunks)
}

func TestPeerReliabilityLaplaceSmoothing(t *testing.T) {
	db := openTestDB(t)
	now := time.Now()
	require.NoError(t, db.UpsertPeer("peer-1", "10.0.0.1", 9000, now))

	p, err := db.GetPeer("peer-1")
	require.NoError(t, err)
	require.Equal(t, 0.5, p.Reliability(), "fresh peer reliability")

	require.NoError(t, db.RecordPeerOutcome("peer-1", true, now))

	p, err = db.GetPeer("peer-1")
	require.NoError(t, err)
	require.Equal(t, int64(2), p.SuccessCount)
	require.Equal(t, int64(1), p.FailureCount)
}

func TestListEligiblePeersFiltersByReliabilityAndRecency(t *testing.T) {
	db := openTestDB(t)
	now := time.Now()

	require.NoError(t, db.UpsertPeer("reliable", "10.0.0.1", 9000, now))
	for i := 0; i < 5; i++ {
		require.NoError(t, db.RecordPeerOutcome("reliable", true, now))
	}

	require.NoError(t, db.UpsertPeer("unreliable", "10.0.0.2", 9001, now))
	for i := 0; i < 5; i++ {
		require.NoError(t, db.RecordPeerOutcome("unreliable", false, now))
	}

	require.NoError(t, db.UpsertPeer("stale", "10.0.0.3", 9002, now.Add(-time.Hour)))

	peers, err := db.ListEligiblePeers(0.5, 15*time.Second, now)
	require.NoError(t, err)
	require.Len(t, peers, 1)
	require.Equal(t, "reliable", peers[0].PeerUUID)
}

func TestGetLocalStats(t *testing.T) {
	db := openTestDB(t)
	now := time.Now()
	require.NoError(t, db.PutFileMetadata(FileMetadata{FileUUID: "f1", OwnerUUID: "me", CreatedAt: now, ExpiresAt: now}, nil))
	require.NoError(t, db.PutChunk(StoredChunk{OwnerUUID: "me", FileUUID: "f1", Idx: 0, StoredAt: now}))
	require.NoError(t, db.PutChunk(StoredChunk{OwnerUUID: "someone-else", FileUUID: "f2", Idx: 0, StoredAt: now}))

	stats, err := db.GetLocalStats("me")
	require.NoError(t, err)
	require.Equal(t, int64(1), stats.FileCount)
	require.Equal(t, int64(1), stats.LocalChunkCount)
	require.Equal(t, int64(1), stats.ForeignChunkCount)
}
