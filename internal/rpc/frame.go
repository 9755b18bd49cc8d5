// Package rpc implements the peer-to-peer chunk protocol: a length-
// prefixed JSON-RPC 2.0 request/response pair over a single-shot TCP
// connection, following the same binary.Write(length)-then-body framing
// the tracker's original wire protocol used for its protobuf payloads.
package rpc

import (
	"encoding/binary"
	"io"

	"github.com/decentralis-net/decentralis-core/internal/errs"
)

// maxFrameSize guards against a malicious or corrupt length prefix
// driving an unbounded allocation.
const maxFrameSize = 64 * 1024 * 1024

// writeFrame writes a [4-byte big-endian length][body] frame.
func writeFrame(w io.Writer, body []byte) error {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(body)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return errs.Wrap(errs.PeerCommunication, "rpc.writeFrame", "failed to write frame length", err)
	}
	if _, err := w.Write(body); err != nil {
		return errs.Wrap(errs.PeerCommunication, "rpc.writeFrame", "failed to write frame body", err)
	}
	return nil
}

// readFrame reads one [4-byte big-endian length][body] frame.
func readFrame(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, errs.Wrap(errs.PeerCommunication, "rpc.readFrame", "failed to read frame length", err)
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > maxFrameSize {
		return nil, errs.New(errs.PeerCommunication, "rpc.readFrame", "frame length exceeds maximum")
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, errs.Wrap(errs.PeerCommunication, "rpc.readFrame", "failed to read frame body", err)
	}
	return body, nil
}
