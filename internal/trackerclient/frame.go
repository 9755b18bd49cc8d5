package trackerclient

import (
	"encoding/binary"
	"io"

	"github.com/decentralis-net/decentralis-core/internal/errs"
)

const maxFrameSize = 1024 * 1024

// writeLengthPrefixed writes a [4-byte big-endian length][JSON body]
// frame, the same binary.Write(length)-then-body discipline the
// original tracker wire protocol used.
func writeLengthPrefixed(w io.Writer, body []byte) error {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(body)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return errs.Wrap(errs.PeerCommunication, "trackerclient.writeLengthPrefixed", "failed to write length prefix", err)
	}
	if _, err := w.Write(body); err != nil {
		return errs.Wrap(errs.PeerCommunication, "trackerclient.writeLengthPrefixed", "failed to write body", err)
	}
	return nil
}

func readLengthPrefixed(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, errs.Wrap(errs.PeerCommunication, "trackerclient.readLengthPrefixed", "failed to read length prefix", err)
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > maxFrameSize {
		return nil, errs.New(errs.PeerCommunication, "trackerclient.readLengthPrefixed", "frame length exceeds maximum")
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, errs.Wrap(errs.PeerCommunication, "trackerclient.readLengthPrefixed", "failed to read body", err)
	}
	return body, nil
}
