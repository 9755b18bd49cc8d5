// Package tracker is a minimal reference implementation of the
// announce/getpeers server the chunking core's tracker client talks to.
// It exists so the client and its wire format are testable end-to-end
// without a separate collaborator process; a production deployment may
// run any server that honors the same protocol.
package tracker

import (
	"encoding/binary"
	"encoding/json"
	"io"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

type peerRecord struct {
	IP       string
	Port     int
	LastSeen time.Time
}

// Server tracks announced peers in memory and answers announce/getpeers
// requests, one JSON object per connection, closing after each reply.
type Server struct {
	Log *logrus.Logger

	mu    sync.Mutex
	peers map[string]peerRecord
}

// New returns an empty Server.
func New(log *logrus.Logger) *Server {
	return &Server{Log: log, peers: make(map[string]peerRecord)}
}

// ListenAndServe accepts connections on addr until the listener closes.
func (s *Server) ListenAndServe(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	defer ln.Close()
	s.Log.WithField("addr", addr).Info("tracker listening")

	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}
		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()

	var lenBuf [4]byte
	if _, err := io.ReadFull(conn, lenBuf[:]); err != nil {
		return
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > 1024*1024 {
		return
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(conn, body); err != nil {
		return
	}

	resp := s.dispatch(body)
	out, err := json.Marshal(resp)
	if err != nil {
		s.Log.WithError(err).Error("tracker failed to marshal response")
		return
	}
	var outLen [4]byte
	binary.BigEndian.PutUint32(outLen[:], uint32(len(out)))
	if _, err := conn.Write(outLen[:]); err != nil {
		return
	}
	_, _ = conn.Write(out)
}

func (s *Server) dispatch(body []byte) any {
	var envelope struct {
		Action string `json:"action"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return map[string]string{"error": "malformed request"}
	}

	switch envelope.Action {
	case "announce":
		return s.handleAnnounce(body)
	case "getpeers":
		return s.handleGetPeers(body)
	default:
		return map[string]string{"error": "unknown action"}
	}
}

func (s *Server) handleAnnounce(body []byte) any {
	var req struct {
		IP   string `json:"ip"`
		Port int    `json:"port"`
		UUID string `json:"uuid"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		return map[string]string{"error": "malformed announce request"}
	}

	id := req.UUID
	if id == "" {
		id = uuid.NewString()
	}

	s.mu.Lock()
	s.peers[id] = peerRecord{IP: req.IP, Port: req.Port, LastSeen: time.Now()}
	s.mu.Unlock()

	return map[string]string{"uuid": id, "status": "ok"}
}

func (s *Server) handleGetPeers(body []byte) any {
	var req struct {
		UUID string `json:"uuid"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		return map[string]string{"error": "malformed getpeers request"}
	}

	type peerEntry struct {
		IP   string `json:"ip"`
		Port int    `json:"port"`
		UUID string `json:"uuid"`
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	peers := make([]peerEntry, 0, len(s.peers))
	for id, p := range s.peers {
		if id == req.UUID {
			continue
		}
		peers = append(peers, peerEntry{IP: p.IP, Port: p.Port, UUID: id})
	}
	return map[string]any{"peers": peers}
}
