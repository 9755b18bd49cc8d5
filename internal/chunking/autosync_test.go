package chunking

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

type fakeContainerWriter struct {
	calls chan string
}

func (f *fakeContainerWriter) SyncContainer(ctx context.Context, containerPath, owner string) error {
	f.calls <- containerPath
	return nil
}

func TestAutoSyncerFiresOnContainerWrite(t *testing.T) {
	dir := t.TempDir()
	containerPath := filepath.Join(dir, "container.dat")
	if err := os.WriteFile(containerPath, []byte("v1"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	writer := &fakeContainerWriter{calls: make(chan string, 4)}
	syncer := &AutoSyncer{Writer: writer, ContainerPath: containerPath, Owner: "owner-1"}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := syncer.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer syncer.Stop()

	if err := os.WriteFile(containerPath, []byte("v2"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	select {
	case got := <-writer.calls:
		if got != containerPath {
			t.Fatalf("expected sync call for %s, got %s", containerPath, got)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for auto-sync to fire after container write")
	}
}
