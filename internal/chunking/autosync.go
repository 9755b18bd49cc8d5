package chunking

import (
	"context"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// ContainerWriter is the narrow signal the file-browser collaborator
// sends after it rewrites the encrypted container on disk. Manager
// satisfies it via SyncContainer without either side holding a
// reference to the other's concrete type.
type ContainerWriter interface {
	SyncContainer(ctx context.Context, containerPath, owner string) error
}

// AutoSyncer watches a container file for writes and calls SyncContainer
// on every one, standing in for the GUI collaborator in the CLI and in
// tests. SyncContainer's own content-hash check makes this safe to fire
// on every write event, including ones that rewrote identical bytes.
type AutoSyncer struct {
	Writer        ContainerWriter
	ContainerPath string
	Owner         string

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// Start begins watching ContainerPath's directory for writes to the
// container file, synchronizing on each one, until ctx is cancelled or
// Stop is called.
func (a *AutoSyncer) Start(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(filepath.Dir(a.ContainerPath)); err != nil {
		w.Close()
		return err
	}
	a.watcher = w
	a.done = make(chan struct{})

	go a.run(ctx)
	return nil
}

// Stop closes the underlying watcher and waits for the run loop to
// exit.
func (a *AutoSyncer) Stop() {
	if a.watcher == nil {
		return
	}
	a.watcher.Close()
	<-a.done
}

func (a *AutoSyncer) run(ctx context.Context) {
	defer close(a.done)
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-a.watcher.Events:
			if !ok {
				return
			}
			if event.Name != a.ContainerPath {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			_ = a.Writer.SyncContainer(ctx, a.ContainerPath, a.Owner)
		case _, ok := <-a.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}
