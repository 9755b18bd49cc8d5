package rpc

import (
	"encoding/base64"
	"encoding/json"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/decentralis-net/decentralis-core/internal/chunkstore"
	"github.com/decentralis-net/decentralis-core/internal/clock"
	"github.com/decentralis-net/decentralis-core/internal/store"
)

// Server answers the peer chunk protocol against a local chunk store
// and metadata database. It never reaches back into the chunking
// manager: chunking and replication are driven by what RPC calls come
// in, not the other way around.
type Server struct {
	PeerUUID string
	Chunks   *chunkstore.Store
	DB       *store.DB
	Clock    clock.Clock
	Log      *logrus.Logger

	fileLocks sync.Map // file_uuid -> *sync.Mutex
}

// fileLock serializes the store_chunk and delete_chunk handlers for the
// same file across their chunk-store and database writes, so two
// concurrent calls for the same (owner, file_uuid, idx) never race on
// the chunk store's rename-into-place step. Read-only handlers do not
// take it.
func (s *Server) fileLock(fileUUID string) *sync.Mutex {
	v, _ := s.fileLocks.LoadOrStore(fileUUID, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// ListenAndServe accepts connections on addr until the listener is
// closed, handling each one in its own goroutine. It tolerates many
// concurrent short-lived connections, as the protocol never pools them.
func (s *Server) ListenAndServe(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	defer ln.Close()
	s.Log.WithField("addr", addr).Info("rpc server listening")
	return s.Serve(ln)
}

// Serve accepts connections on a caller-supplied listener until it is
// closed, handling each one in its own goroutine. Splitting this out
// from ListenAndServe lets tests bind an ephemeral port first and learn
// its address before the accept loop starts.
func (s *Server) Serve(ln net.Listener) error {
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

	body, err := readFrame(conn)
	if err != nil {
		s.Log.WithError(err).Debug("rpc server failed to read request frame")
		return
	}

	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		s.writeResponse(conn, errorResponse(0, CodeParseError, "malformed request body"))
		return
	}
	if req.JSONRPC != "2.0" || req.Method == "" {
		s.writeResponse(conn, errorResponse(req.ID, CodeInvalidRequest, "missing jsonrpc version or method"))
		return
	}

	s.writeResponse(conn, s.dispatch(req))
}

func (s *Server) writeResponse(conn net.Conn, resp Response) {
	body, err := json.Marshal(resp)
	if err != nil {
		s.Log.WithError(err).Error("rpc server failed to marshal response")
		return
	}
	if err := writeFrame(conn, body); err != nil {
		s.Log.WithError(err).Debug("rpc server failed to write response frame")
	}
}

func (s *Server) dispatch(req Request) Response {
	switch req.Method {
	case "ping":
		return successResponse(req.ID, PingResult{PeerUUID: s.PeerUUID})
	case "store_chunk":
		return s.handleStoreChunk(req)
	case "get_chunk":
		return s.handleGetChunk(req)
	case "delete_chunk":
		return s.handleDeleteChunk(req)
	case "get_chunk_info":
		return s.handleGetChunkInfo(req)
	case "list_chunks":
		return s.handleListChunks(req)
	case "announce_file":
		return s.handleAnnounceFile(req)
	case "search_file":
		return s.handleSearchFile(req)
	default:
		return errorResponse(req.ID, CodeMethodNotFound, "unknown method: "+req.Method)
	}
}

func (s *Server) handleStoreChunk(req Request) Response {
	var p StoreChunkParams
	if err := json.Unmarshal(req.Params, &p); err != nil {
		return errorResponse(req.ID, CodeInvalidParams, "invalid store_chunk params")
	}
	data, err := base64.StdEncoding.DecodeString(p.DataB64)
	if err != nil {
		return errorResponse(req.ID, CodeInvalidParams, "invalid base64 chunk data")
	}
	if sha256Hex(data) != p.SHA256 {
		return errorResponse(req.ID, CodeServerErrorMin, "chunk data does not match declared sha256")
	}

	lock := s.fileLock(p.FileUUID)
	lock.Lock()
	defer lock.Unlock()

	if err := s.Chunks.WriteChunk(p.Owner, p.FileUUID, p.Idx, data); err != nil {
		return errorResponse(req.ID, CodeServerErrorMin, "failed to persist chunk: "+err.Error())
	}
	now := s.Clock.Now()
	if err := s.DB.PutChunk(store.StoredChunk{
		OwnerUUID: p.Owner,
		FileUUID:  p.FileUUID,
		Idx:       p.Idx,
		Role:      p.Role,
		SizeBytes: len(data),
		SHA256:    p.SHA256,
		StoredAt:  now,
	}); err != nil {
		return errorResponse(req.ID, CodeServerErrorMin, "failed to record chunk metadata: "+err.Error())
	}
	return successResponse(req.ID, OKResult{OK: true})
}

func (s *Server) handleGetChunk(req Request) Response {
	var p GetChunkParams
	if err := json.Unmarshal(req.Params, &p); err != nil {
		return errorResponse(req.ID, CodeInvalidParams, "invalid get_chunk params")
	}
	data, err := s.Chunks.ReadChunk(p.Owner, p.FileUUID, p.Idx)
	if err != nil {
		return errorResponse(req.ID, CodeServerErrorMin, "chunk not available: "+err.Error())
	}
	return successResponse(req.ID, GetChunkResult{
		DataB64: base64.StdEncoding.EncodeToString(data),
		SHA256:  sha256Hex(data),
	})
}

func (s *Server) handleDeleteChunk(req Request) Response {
	var p DeleteChunkParams
	if err := json.Unmarshal(req.Params, &p); err != nil {
		return errorResponse(req.ID, CodeInvalidParams, "invalid delete_chunk params")
	}
	lock := s.fileLock(p.FileUUID)
	lock.Lock()
	defer lock.Unlock()

	if err := s.Chunks.DeleteChunk(p.Owner, p.FileUUID, p.Idx); err != nil {
		return errorResponse(req.ID, CodeServerErrorMin, "failed to delete chunk: "+err.Error())
	}
	_ = s.DB.DeleteChunk(p.Owner, p.FileUUID, p.Idx)
	return successResponse(req.ID, OKResult{OK: true})
}

func (s *Server) handleGetChunkInfo(req Request) Response {
	var p GetChunkInfoParams
	if err := json.Unmarshal(req.Params, &p); err != nil {
		return errorResponse(req.ID, CodeInvalidParams, "invalid get_chunk_info params")
	}
	chunks, err := s.DB.GetChunksByFile(p.FileUUID)
	if err != nil {
		return errorResponse(req.ID, CodeServerErrorMin, "lookup failed: "+err.Error())
	}
	for _, c := range chunks {
		if c.Idx == p.Idx && c.OwnerUUID == p.Owner {
			return successResponse(req.ID, GetChunkInfoResult{
				Size:     c.SizeBytes,
				SHA256:   c.SHA256,
				StoredAt: c.StoredAt.Unix(),
			})
		}
	}
	return errorResponse(req.ID, CodeServerErrorMin, "chunk not found")
}

func (s *Server) handleListChunks(req Request) Response {
	var p ListChunksParams
	if err := json.Unmarshal(req.Params, &p); err != nil {
		return errorResponse(req.ID, CodeInvalidParams, "invalid list_chunks params")
	}
	chunks, err := s.DB.GetChunksByFile(p.FileUUID)
	if err != nil {
		return errorResponse(req.ID, CodeServerErrorMin, "lookup failed: "+err.Error())
	}
	indices := make([]int, 0, len(chunks))
	for _, c := range chunks {
		if c.OwnerUUID == p.Owner {
			indices = append(indices, c.Idx)
		}
	}
	return successResponse(req.ID, ListChunksResult{Indices: indices})
}

func (s *Server) handleAnnounceFile(req Request) Response {
	var p AnnounceFileParams
	if err := json.Unmarshal(req.Params, &p); err != nil {
		return errorResponse(req.ID, CodeInvalidParams, "invalid announce_file params")
	}
	meta := store.FileMetadata{
		FileUUID:       p.FileUUID,
		OwnerUUID:      p.OwnerUUID,
		OriginalName:   p.OriginalName,
		OriginalSize:   p.OriginalSize,
		K:              p.K,
		M:              p.M,
		ChunkSize:      p.ChunkSize,
		TotalChunks:    p.TotalChunks,
		LRCGroupSize:   p.LRCGroupSize,
		ContentHash:    p.ContentHash,
		CreatedAt:      time.Unix(p.CreatedAt, 0),
		ExpiresAt:      time.Unix(p.ExpiresAt, 0),
	}
	if err := s.DB.PutFileMetadata(meta, nil); err != nil {
		return errorResponse(req.ID, CodeServerErrorMin, "failed to store file metadata: "+err.Error())
	}
	return successResponse(req.ID, OKResult{OK: true})
}

func (s *Server) handleSearchFile(req Request) Response {
	var p SearchFileParams
	if err := json.Unmarshal(req.Params, &p); err != nil {
		return errorResponse(req.ID, CodeInvalidParams, "invalid search_file params")
	}
	meta, err := s.DB.GetFileMetadataByName(p.Owner, p.Name)
	if err != nil {
		return successResponse(req.ID, (*SearchFileResult)(nil))
	}
	return successResponse(req.ID, &SearchFileResult{
		FileUUID: meta.FileUUID,
		Metadata: &AnnounceFileParams{
			FileUUID:     meta.FileUUID,
			OwnerUUID:    meta.OwnerUUID,
			OriginalName: meta.OriginalName,
			OriginalSize: meta.OriginalSize,
			K:            meta.K,
			M:            meta.M,
			ChunkSize:    meta.ChunkSize,
			TotalChunks:  meta.TotalChunks,
			LRCGroupSize: meta.LRCGroupSize,
			ContentHash:  meta.ContentHash,
			CreatedAt:    meta.CreatedAt.Unix(),
			ExpiresAt:    meta.ExpiresAt.Unix(),
		},
	})
}
