package rpc

import (
	"context"
	"encoding/json"
	"net"
	"sync/atomic"
	"time"

	"github.com/decentralis-net/decentralis-core/internal/errs"
)

// OutcomeRecorder is called after every Call with the peer that was
// dialed and whether the call succeeded, so the caller can update that
// peer's reliability counters without this package depending on the
// metadata database.
type OutcomeRecorder func(peerAddr string, success bool)

// Client issues single-shot JSON-RPC 2.0 calls: every Call dials a
// fresh connection, sends one request, reads one response, and closes.
// There is no connection pool, matching spec.md §4.7's "server
// tolerates many concurrent short-lived connections" design.
type Client struct {
	Timeout      time.Duration
	OnOutcome    OutcomeRecorder
	nextID       atomic.Int64
}

// NewClient returns a Client with the given per-call timeout.
func NewClient(timeout time.Duration) *Client {
	return &Client{Timeout: timeout}
}

// Call dials addr, sends method(params), and decodes the result into
// result (which must be a pointer, or nil to discard it). Any dial,
// framing, timeout, or JSON-RPC-level error is reported as
// PeerCommunication and the outcome recorder is told the call failed.
func (c *Client) Call(ctx context.Context, addr, method string, params, result any) error {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	deadline := time.Now().Add(timeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}

	err := c.call(addr, deadline, method, params, result)
	if c.OnOutcome != nil {
		c.OnOutcome(addr, err == nil)
	}
	return err
}

func (c *Client) call(addr string, deadline time.Time, method string, params, result any) error {
	id := c.nextID.Add(1)
	req, err := newRequest(id, method, params)
	if err != nil {
		return errs.Wrap(errs.PeerCommunication, "rpc.Client.Call", "failed to marshal request params", err)
	}
	body, err := json.Marshal(req)
	if err != nil {
		return errs.Wrap(errs.PeerCommunication, "rpc.Client.Call", "failed to marshal request", err)
	}

	dialer := net.Dialer{Deadline: deadline}
	conn, err := dialer.Dial("tcp", addr)
	if err != nil {
		return errs.Wrap(errs.PeerCommunication, "rpc.Client.Call", "dial failed", err)
	}
	defer conn.Close()
	if err := conn.SetDeadline(deadline); err != nil {
		return errs.Wrap(errs.PeerCommunication, "rpc.Client.Call", "failed to set connection deadline", err)
	}

	if err := writeFrame(conn, body); err != nil {
		return err
	}
	respBody, err := readFrame(conn)
	if err != nil {
		return err
	}

	var resp Response
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return errs.Wrap(errs.PeerCommunication, "rpc.Client.Call", "failed to unmarshal response", err)
	}
	if resp.Error != nil {
		return errs.Wrap(errs.PeerCommunication, "rpc.Client.Call", "peer returned an error", resp.Error)
	}
	if result != nil && resp.Result != nil {
		if err := json.Unmarshal(resp.Result, result); err != nil {
			return errs.Wrap(errs.PeerCommunication, "rpc.Client.Call", "failed to unmarshal result", err)
		}
	}
	return nil
}

// Ping calls the ping method.
func (c *Client) Ping(ctx context.Context, addr string) (PingResult, error) {
	var out PingResult
	err := c.Call(ctx, addr, "ping", struct{}{}, &out)
	return out, err
}

// StoreChunk calls store_chunk.
func (c *Client) StoreChunk(ctx context.Context, addr string, p StoreChunkParams) error {
	var out OKResult
	return c.Call(ctx, addr, "store_chunk", p, &out)
}

// GetChunk calls get_chunk.
func (c *Client) GetChunk(ctx context.Context, addr string, p GetChunkParams) (GetChunkResult, error) {
	var out GetChunkResult
	err := c.Call(ctx, addr, "get_chunk", p, &out)
	return out, err
}

// DeleteChunk calls delete_chunk.
func (c *Client) DeleteChunk(ctx context.Context, addr string, p DeleteChunkParams) error {
	var out OKResult
	return c.Call(ctx, addr, "delete_chunk", p, &out)
}

// GetChunkInfo calls get_chunk_info.
func (c *Client) GetChunkInfo(ctx context.Context, addr string, p GetChunkInfoParams) (GetChunkInfoResult, error) {
	var out GetChunkInfoResult
	err := c.Call(ctx, addr, "get_chunk_info", p, &out)
	return out, err
}

// ListChunks calls list_chunks.
func (c *Client) ListChunks(ctx context.Context, addr string, p ListChunksParams) (ListChunksResult, error) {
	var out ListChunksResult
	err := c.Call(ctx, addr, "list_chunks", p, &out)
	return out, err
}

// AnnounceFile calls announce_file.
func (c *Client) AnnounceFile(ctx context.Context, addr string, p AnnounceFileParams) error {
	var out OKResult
	return c.Call(ctx, addr, "announce_file", p, &out)
}

// SearchFile calls search_file.
func (c *Client) SearchFile(ctx context.Context, addr string, p SearchFileParams) (*SearchFileResult, error) {
	var out *SearchFileResult
	err := c.Call(ctx, addr, "search_file", p, &out)
	return out, err
}
