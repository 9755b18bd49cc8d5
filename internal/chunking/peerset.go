package chunking

import (
	"net"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/decentralis-net/decentralis-core/internal/store"
)

// Peer is the chunking manager's lightweight view of a node: enough to
// pick a placement target without a database round trip.
type Peer struct {
	UUID        string
	Addr        string
	Reliability float64
}

// peerSetHolder publishes immutable snapshots of the known peer set so
// readers never observe a partially updated list — a writer builds a
// whole new slice and swaps the pointer atomically.
type peerSetHolder struct {
	ptr atomic.Pointer[[]Peer]
}

func (h *peerSetHolder) Load() []Peer {
	p := h.ptr.Load()
	if p == nil {
		return nil
	}
	return *p
}

func (h *peerSetHolder) Store(peers []Peer) {
	snapshot := make([]Peer, len(peers))
	copy(snapshot, peers)
	h.ptr.Store(&snapshot)
}

// eligiblePeers reads the tracker-fed RCU snapshot lock-free and filters
// it down to peers meeting the configured reliability bar, so placement
// decisions don't take a database round trip on the common path. It
// falls back to the database only when the snapshot hasn't been
// populated yet, e.g. before the tracker client's first getpeers round.
func (m *Manager) eligiblePeers(keepaliveWindow time.Duration) ([]store.Peer, error) {
	snapshot := m.peers.Load()
	if len(snapshot) > 0 {
		eligible := make([]store.Peer, 0, len(snapshot))
		for _, p := range snapshot {
			if p.Reliability < m.Config.MinPeerReliability {
				continue
			}
			host, portStr, err := net.SplitHostPort(p.Addr)
			if err != nil {
				continue
			}
			port, err := strconv.Atoi(portStr)
			if err != nil {
				continue
			}
			eligible = append(eligible, store.Peer{
				PeerUUID:     p.UUID,
				IP:           host,
				Port:         port,
				SuccessCount: 1,
				FailureCount: 1,
			})
		}
		if len(eligible) > 0 {
			return eligible, nil
		}
	}
	return m.DB.ListEligiblePeers(m.Config.MinPeerReliability, keepaliveWindow, m.Clock.Now())
}
