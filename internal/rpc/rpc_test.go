package rpc

import (
	"context"
	"encoding/base64"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/decentralis-net/decentralis-core/internal/chunkstore"
	"github.com/decentralis-net/decentralis-core/internal/clock"
	"github.com/decentralis-net/decentralis-core/internal/errs"
	"github.com/decentralis-net/decentralis-core/internal/logging"
	"github.com/decentralis-net/decentralis-core/internal/store"
)

func startTestServer(t *testing.T) (addr string, srv *Server) {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	srv = &Server{
		PeerUUID: "peer-under-test",
		Chunks:   chunkstore.New(t.TempDir()),
		DB:       db,
		Clock:    clock.Real{},
		Log:      logging.New(false),
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen: %v", err)
	}
	addr = ln.Addr().String()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go srv.handleConn(conn)
		}
	}()
	t.Cleanup(func() { _ = ln.Close() })
	return addr, srv
}

func TestPingReturnsPeerUUID(t *testing.T) {
	addr, _ := startTestServer(t)
	client := NewClient(2 * time.Second)

	out, err := client.Ping(context.Background(), addr)
	if err != nil {
		t.Fatalf("Ping: %v", err)
	}
	if out.PeerUUID != "peer-under-test" {
		t.Fatalf("unexpected peer uuid: %s", out.PeerUUID)
	}
}

func TestStoreAndGetChunkRoundTrip(t *testing.T) {
	addr, _ := startTestServer(t)
	client := NewClient(2 * time.Second)
	data := []byte("hello chunk")

	err := client.StoreChunk(context.Background(), addr, StoreChunkParams{
		Owner:    "owner-1",
		FileUUID: "file-1",
		Idx:      0,
		Role:     "data",
		SHA256:   sha256Hex(data),
		DataB64:  base64.StdEncoding.EncodeToString(data),
	})
	if err != nil {
		t.Fatalf("StoreChunk: %v", err)
	}

	got, err := client.GetChunk(context.Background(), addr, GetChunkParams{Owner: "owner-1", FileUUID: "file-1", Idx: 0})
	if err != nil {
		t.Fatalf("GetChunk: %v", err)
	}
	decoded, err := base64.StdEncoding.DecodeString(got.DataB64)
	if err != nil {
		t.Fatalf("base64 decode: %v", err)
	}
	if string(decoded) != string(data) {
		t.Fatal("round-tripped chunk data mismatch")
	}
}

func TestStoreChunkRejectsHashMismatch(t *testing.T) {
	addr, _ := startTestServer(t)
	client := NewClient(2 * time.Second)

	err := client.StoreChunk(context.Background(), addr, StoreChunkParams{
		Owner:    "owner-1",
		FileUUID: "file-1",
		Idx:      0,
		Role:     "data",
		SHA256:   "not-the-real-hash",
		DataB64:  base64.StdEncoding.EncodeToString([]byte("data")),
	})
	if err == nil {
		t.Fatal("expected store_chunk to reject a mismatched hash")
	}
}

func TestDeleteChunkIsIdempotent(t *testing.T) {
	addr, _ := startTestServer(t)
	client := NewClient(2 * time.Second)

	for i := 0; i < 2; i++ {
		if err := client.DeleteChunk(context.Background(), addr, DeleteChunkParams{Owner: "owner-1", FileUUID: "file-1", Idx: 0}); err != nil {
			t.Fatalf("DeleteChunk attempt %d: %v", i, err)
		}
	}
}

func TestCallToUnreachableAddrFailsWithPeerCommunication(t *testing.T) {
	client := NewClient(200 * time.Millisecond)
	var outcomes []bool
	client.OnOutcome = func(addr string, success bool) { outcomes = append(outcomes, success) }

	_, err := client.Ping(context.Background(), "127.0.0.1:1")
	if err == nil {
		t.Fatal("expected ping to an unreachable address to fail")
	}
	if kind, ok := errs.KindOf(err); !ok || kind != errs.PeerCommunication {
		t.Fatalf("expected PeerCommunication, got %v (ok=%v)", kind, ok)
	}
	if len(outcomes) != 1 || outcomes[0] {
		t.Fatalf("expected one failed outcome recorded, got %+v", outcomes)
	}
}
