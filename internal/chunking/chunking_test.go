package chunking

import (
	"bytes"
	"context"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/decentralis-net/decentralis-core/internal/chunkstore"
	"github.com/decentralis-net/decentralis-core/internal/clock"
	"github.com/decentralis-net/decentralis-core/internal/config"
	"github.com/decentralis-net/decentralis-core/internal/errs"
	"github.com/decentralis-net/decentralis-core/internal/rpc"
	"github.com/decentralis-net/decentralis-core/internal/store"
)

func discardLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(bytes.NewBuffer(nil))
	return l
}

// testNode is one peer's worth of RPC server + backing store, standing
// in for a remote peer process in distribute/reconstruct tests.
type testNode struct {
	uuid   string
	addr   string
	db     *store.DB
	chunks *chunkstore.Store
	ln     net.Listener
}

func startTestNode(t *testing.T) *testNode {
	t.Helper()
	dir := t.TempDir()
	db, err := store.Open(filepath.Join(dir, "meta.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	cs := chunkstore.New(dir)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen: %v", err)
	}
	peerUUID := uuid.NewString()
	srv := &rpc.Server{PeerUUID: peerUUID, Chunks: cs, DB: db, Clock: clock.Real{}, Log: discardLogger()}
	go func() {
		_ = srv.Serve(ln)
	}()

	n := &testNode{uuid: peerUUID, addr: ln.Addr().String(), db: db, chunks: cs, ln: ln}
	t.Cleanup(func() {
		_ = ln.Close()
		_ = db.Close()
	})
	return n
}

func newTestManager(t *testing.T, owner string) (*Manager, *store.DB) {
	t.Helper()
	dir := t.TempDir()
	db, err := store.Open(filepath.Join(dir, "meta.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	cfg := config.Default()
	cfg.RSK = 4
	cfg.RSM = 2
	cfg.LRCGroupSize = 2

	m := &Manager{
		Config:        cfg,
		SelfOwnerUUID: owner,
		SelfPeerUUID:  uuid.NewString(),
		DataDir:       dir,
		Chunks:        chunkstore.New(dir),
		DB:            db,
		RPC:           rpc.NewClient(2 * time.Second),
		Pool:          NewPool(2),
		Clock:         clock.Real{},
		Log:           discardLogger(),
	}
	return m, db
}

func registerPeers(t *testing.T, db *store.DB, nodes ...*testNode) {
	t.Helper()
	now := time.Now()
	for _, n := range nodes {
		host, portStr, err := net.SplitHostPort(n.addr)
		if err != nil {
			t.Fatalf("split host port: %v", err)
		}
		port, err := strconv.Atoi(portStr)
		if err != nil {
			t.Fatalf("parse port: %v", err)
		}
		if err := db.UpsertPeer(n.uuid, host, port, now); err != nil {
			t.Fatalf("UpsertPeer: %v", err)
		}
		// Bring the fresh 1/1 Laplace counters up above the default
		// MinPeerReliability-adjacent eligibility bar used in these tests.
		for i := 0; i < 5; i++ {
			if err := db.RecordPeerOutcome(n.uuid, true, now); err != nil {
				t.Fatalf("RecordPeerOutcome: %v", err)
			}
		}
	}
}

func writeTempFile(t *testing.T, dir, name string, size int) string {
	t.Helper()
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i % 251)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestChunkFileThenReconstructLocallyRoundTrips(t *testing.T) {
	owner := uuid.NewString()
	m, _ := newTestManager(t, owner)

	srcDir := t.TempDir()
	src := writeTempFile(t, srcDir, "payload.bin", 5000)
	original, err := os.ReadFile(src)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}

	ctx := context.Background()
	fileUUID, err := m.ChunkFile(ctx, src, owner)
	if err != nil {
		t.Fatalf("ChunkFile: %v", err)
	}

	outPath := filepath.Join(srcDir, "restored.bin")
	if err := m.ReconstructFile(ctx, fileUUID, owner, outPath); err != nil {
		t.Fatalf("ReconstructFile: %v", err)
	}
	restored, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatalf("ReadFile restored: %v", err)
	}
	if !bytes.Equal(original, restored) {
		t.Fatalf("restored content does not match original")
	}
}

func TestDistributeChunksReportsNoPeersAvailable(t *testing.T) {
	owner := uuid.NewString()
	m, _ := newTestManager(t, owner)

	srcDir := t.TempDir()
	src := writeTempFile(t, srcDir, "payload.bin", 2000)

	ctx := context.Background()
	fileUUID, err := m.ChunkFile(ctx, src, owner)
	if err != nil {
		t.Fatalf("ChunkFile: %v", err)
	}

	_, err = m.DistributeChunks(ctx, fileUUID, owner)
	kind, _ := errs.KindOf(err)
	if kind != errs.NoPeersAvailable {
		t.Fatalf("expected NoPeersAvailable, got %v", err)
	}
}

func TestDistributeThenReconstructAcrossPeers(t *testing.T) {
	owner := uuid.NewString()
	m, db := newTestManager(t, owner)

	nodeA := startTestNode(t)
	nodeB := startTestNode(t)
	nodeC := startTestNode(t)
	registerPeers(t, db, nodeA, nodeB, nodeC)

	srcDir := t.TempDir()
	src := writeTempFile(t, srcDir, "payload.bin", 8000)
	original, err := os.ReadFile(src)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}

	ctx := context.Background()
	fileUUID, err := m.ChunkFile(ctx, src, owner)
	if err != nil {
		t.Fatalf("ChunkFile: %v", err)
	}

	report, err := m.DistributeChunks(ctx, fileUUID, owner)
	if err != nil {
		t.Fatalf("DistributeChunks: %v", err)
	}
	if report.Distributed == 0 {
		t.Fatalf("expected at least one chunk distributed, got report %+v", report)
	}

	outPath := filepath.Join(srcDir, "restored.bin")
	if err := m.ReconstructFile(ctx, fileUUID, owner, outPath); err != nil {
		t.Fatalf("ReconstructFile after distribution: %v", err)
	}
	restored, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatalf("ReadFile restored: %v", err)
	}
	if !bytes.Equal(original, restored) {
		t.Fatalf("restored content does not match original after remote distribution")
	}
}

func TestSyncContainerNoOpsOnUnchangedContent(t *testing.T) {
	owner := uuid.NewString()
	m, _ := newTestManager(t, owner)

	srcDir := t.TempDir()
	containerPath := writeTempFile(t, srcDir, "container.dat", 1000)

	ctx := context.Background()
	if err := m.SyncContainer(ctx, containerPath, owner); err != nil {
		t.Fatalf("first SyncContainer: %v", err)
	}
	firstMeta, err := m.DB.GetFileMetadataByName(owner, "container.dat")
	if err != nil {
		t.Fatalf("GetFileMetadataByName: %v", err)
	}

	if err := m.SyncContainer(ctx, containerPath, owner); err != nil {
		t.Fatalf("second SyncContainer: %v", err)
	}
	secondMeta, err := m.DB.GetFileMetadataByName(owner, "container.dat")
	if err != nil {
		t.Fatalf("GetFileMetadataByName after no-op sync: %v", err)
	}
	if firstMeta.FileUUID != secondMeta.FileUUID {
		t.Fatalf("unchanged container content triggered a re-chunk: %s -> %s", firstMeta.FileUUID, secondMeta.FileUUID)
	}
}

func TestGetFileStatusReflectsLocalAvailability(t *testing.T) {
	owner := uuid.NewString()
	m, _ := newTestManager(t, owner)

	srcDir := t.TempDir()
	src := writeTempFile(t, srcDir, "payload.bin", 3000)

	ctx := context.Background()
	fileUUID, err := m.ChunkFile(ctx, src, owner)
	if err != nil {
		t.Fatalf("ChunkFile: %v", err)
	}

	status, err := m.GetFileStatus(fileUUID)
	if err != nil {
		t.Fatalf("GetFileStatus: %v", err)
	}
	if status.AvailableLocal == 0 {
		t.Fatalf("expected freshly chunked shards to be present locally")
	}
	if !status.Reconstructable {
		t.Fatalf("expected a freshly chunked, undistributed file to be reconstructable from local shards")
	}
	if status.Degraded {
		t.Fatalf("freshly chunked file should not be degraded")
	}
}
