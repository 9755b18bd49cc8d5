package chunking

import (
	"context"
	"time"
)

const (
	replicationSweepInterval = 60 * time.Second
	expirySweepInterval      = 3600 * time.Second
	shutdownDrainTimeout     = 5 * time.Second
)

// StartBackgroundTasks launches the replication sweep, the expiry
// sweep, and (implicitly, via OnPeerListUpdate) the peer-set refresh
// path. It returns immediately; the sweeps run until Shutdown is
// called.
func (m *Manager) StartBackgroundTasks(ctx context.Context) {
	bgCtx, cancel := context.WithCancel(ctx)
	m.bgCancel = cancel
	m.bgDone = make(chan struct{})

	go func() {
		defer close(m.bgDone)

		replTicker := time.NewTicker(replicationSweepInterval)
		defer replTicker.Stop()
		expiryTicker := time.NewTicker(expirySweepInterval)
		defer expiryTicker.Stop()

		for {
			select {
			case <-bgCtx.Done():
				return
			case <-replTicker.C:
				if m.Replication != nil {
					if err := m.Replication.ProcessPendingRelocations(bgCtx); err != nil {
						m.Log.WithError(err).Warn("replication sweep failed")
					}
				}
			case <-expiryTicker.C:
				if err := m.cleanupExpiredFiles(bgCtx); err != nil {
					m.Log.WithError(err).Warn("expiry sweep failed")
				}
				if m.Replication != nil {
					if err := m.Replication.CleanupExpiredChunks(bgCtx); err != nil {
						m.Log.WithError(err).Warn("remote expiry cleanup failed")
					}
				}
			}
		}
	}()
}

// cleanupExpiredFiles removes every FileMetadata row (and its local
// chunks) whose retention window has passed.
func (m *Manager) cleanupExpiredFiles(ctx context.Context) error {
	files, err := m.DB.ListExpiredFiles(m.Clock.Now())
	if err != nil {
		return err
	}
	for _, f := range files {
		if err := m.deleteFileEverywhere(ctx, f.FileUUID, f.OwnerUUID); err != nil {
			m.Log.WithError(err).WithField("file_uuid", f.FileUUID).Warn("failed to clean up expired file")
		}
	}
	return nil
}

// Shutdown stops all background tasks, waiting up to 5s for in-flight
// work to drain before abandoning it, and closes the RPC listener if
// one was registered.
func (m *Manager) Shutdown() {
	if m.bgCancel != nil {
		m.bgCancel()
	}
	if m.bgDone != nil {
		select {
		case <-m.bgDone:
		case <-time.After(shutdownDrainTimeout):
			m.Log.Warn("shutdown drain timed out, background tasks abandoned")
		}
	}
	if m.RPCListener != nil {
		_ = m.RPCListener.Close()
	}
	if m.DB != nil {
		_ = m.DB.Close()
	}
}
