// Package trackerclient implements the tracker announce/getpeers
// protocol: single-shot TCP connections carrying one length-prefixed
// JSON object each way, plus a background keepalive worker that
// re-announces on an interval and feeds discovered peers to an injected
// callback.
package trackerclient

import (
	"context"
	"encoding/json"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/decentralis-net/decentralis-core/internal/errs"
)

// PeerInfo is one entry of a getpeers response.
type PeerInfo struct {
	IP   string `json:"ip"`
	Port int    `json:"port"`
	UUID string `json:"uuid"`
}

type announceRequest struct {
	Action string `json:"action"`
	IP     string `json:"ip"`
	Port   int    `json:"port"`
	UUID   string `json:"uuid,omitempty"`
}

type announceResponse struct {
	UUID   string `json:"uuid"`
	Status string `json:"status"`
}

type getPeersRequest struct {
	Action string `json:"action"`
	UUID   string `json:"uuid"`
}

type getPeersResponse struct {
	Peers []PeerInfo `json:"peers"`
}

// PeerListCallback is invoked with the latest peer list after every
// successful getpeers round.
type PeerListCallback func(peers []PeerInfo)

// Client talks to a single tracker and runs the background keepalive
// worker once Start is called.
type Client struct {
	TrackerAddr       string
	SelfIP            string
	SelfPort          int
	KeepaliveInterval time.Duration
	OnPeerList        PeerListCallback
	Log               *logrus.Logger

	mu       sync.Mutex
	uuid     string
	stopCh   chan struct{}
	stopped  chan struct{}
}

// New returns a Client for the given tracker address. selfUUID, if
// non-empty, is offered to the tracker on the first announce so this
// node keeps the same identity across restarts instead of being
// assigned a fresh one every time; the tracker is free to honor or
// ignore it.
func New(trackerAddr, selfIP string, selfPort int, selfUUID string, keepaliveInterval time.Duration, onPeerList PeerListCallback, log *logrus.Logger) *Client {
	return &Client{
		TrackerAddr:       trackerAddr,
		SelfIP:            selfIP,
		SelfPort:          selfPort,
		uuid:              selfUUID,
		KeepaliveInterval: keepaliveInterval,
		OnPeerList:        onPeerList,
		Log:               log,
	}
}

// Announce performs one announce round-trip, adopting the uuid the
// tracker returns as this client's identity, replacing any it offered.
func (c *Client) Announce(ctx context.Context) error {
	c.mu.Lock()
	req := announceRequest{Action: "announce", IP: c.SelfIP, Port: c.SelfPort, UUID: c.uuid}
	c.mu.Unlock()

	var resp announceResponse
	if err := roundTrip(ctx, c.TrackerAddr, req, &resp); err != nil {
		return err
	}
	if resp.Status != "ok" {
		return errs.New(errs.PeerCommunication, "trackerclient.Announce", "tracker returned non-ok status")
	}
	c.mu.Lock()
	c.uuid = resp.UUID
	c.mu.Unlock()
	return nil
}

// UUID returns this client's current identity: the selfUUID passed to
// New (empty if none) until the first successful Announce, and the
// tracker-assigned uuid after it.
func (c *Client) UUID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.uuid
}

// GetPeers performs one getpeers round-trip.
func (c *Client) GetPeers(ctx context.Context) ([]PeerInfo, error) {
	c.mu.Lock()
	uuid := c.uuid
	c.mu.Unlock()

	req := getPeersRequest{Action: "getpeers", UUID: uuid}
	var resp getPeersResponse
	if err := roundTrip(ctx, c.TrackerAddr, req, &resp); err != nil {
		return nil, err
	}
	return resp.Peers, nil
}

// Start launches the background keepalive worker: it announces, then
// fetches the peer list and calls OnPeerList, every KeepaliveInterval,
// backing off exponentially (1s, 2s, 4s, ... capped at the interval) on
// consecutive announce failures and resetting the backoff on success.
func (c *Client) Start(ctx context.Context) {
	c.mu.Lock()
	if c.stopCh != nil {
		c.mu.Unlock()
		return
	}
	c.stopCh = make(chan struct{})
	c.stopped = make(chan struct{})
	c.mu.Unlock()

	go c.run(ctx)
}

// Close signals the keepalive worker to stop and waits for it to exit,
// which spec.md §4.6 requires to happen within one keepalive interval.
func (c *Client) Close() {
	c.mu.Lock()
	stopCh := c.stopCh
	stopped := c.stopped
	c.mu.Unlock()
	if stopCh == nil {
		return
	}
	close(stopCh)
	<-stopped
}

func (c *Client) run(ctx context.Context) {
	defer close(c.stopped)

	backoff := time.Second
	for {
		if err := c.Announce(ctx); err != nil {
			c.Log.WithError(err).Warn("tracker announce failed, backing off")
			if !c.sleep(backoff) {
				return
			}
			backoff *= 2
			if backoff > c.KeepaliveInterval {
				backoff = c.KeepaliveInterval
			}
			continue
		}
		backoff = time.Second

		peers, err := c.GetPeers(ctx)
		if err != nil {
			c.Log.WithError(err).Warn("tracker getpeers failed")
		} else if c.OnPeerList != nil {
			c.OnPeerList(peers)
		}

		if !c.sleep(c.KeepaliveInterval) {
			return
		}
	}
}

// sleep waits for d or until stopCh fires, returning false if it was
// asked to stop.
func (c *Client) sleep(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-c.stopCh:
		return false
	case <-timer.C:
		return true
	}
}

func roundTrip(ctx context.Context, addr string, req, resp any) error {
	deadline := time.Now().Add(10 * time.Second)
	if dl, ok := ctx.Deadline(); ok {
		deadline = dl
	}
	dialer := net.Dialer{Deadline: deadline}
	conn, err := dialer.Dial("tcp", addr)
	if err != nil {
		return errs.Wrap(errs.PeerCommunication, "trackerclient.roundTrip", "dial failed", err)
	}
	defer conn.Close()
	if err := conn.SetDeadline(deadline); err != nil {
		return errs.Wrap(errs.PeerCommunication, "trackerclient.roundTrip", "failed to set deadline", err)
	}

	body, err := json.Marshal(req)
	if err != nil {
		return errs.Wrap(errs.PeerCommunication, "trackerclient.roundTrip", "failed to marshal request", err)
	}
	if err := writeLengthPrefixed(conn, body); err != nil {
		return err
	}
	respBody, err := readLengthPrefixed(conn)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(respBody, resp); err != nil {
		return errs.Wrap(errs.PeerCommunication, "trackerclient.roundTrip", "failed to unmarshal response", err)
	}
	return nil
}
