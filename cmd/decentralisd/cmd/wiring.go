package cmd

import (
	"path/filepath"
	"runtime"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/decentralis-net/decentralis-core/internal/chunking"
	"github.com/decentralis-net/decentralis-core/internal/chunkstore"
	"github.com/decentralis-net/decentralis-core/internal/clock"
	"github.com/decentralis-net/decentralis-core/internal/config"
	"github.com/decentralis-net/decentralis-core/internal/logging"
	"github.com/decentralis-net/decentralis-core/internal/rpc"
	"github.com/decentralis-net/decentralis-core/internal/store"
)

// node bundles the components every command needs: config, logging, the
// metadata database, the chunk store, and a chunking manager bound to
// this node's identity. One-shot commands use it directly; serve wraps
// it with an RPC server, tracker client, and replication manager.
type node struct {
	Config   config.Config
	Log      *logrus.Logger
	DB       *store.DB
	Chunks   *chunkstore.Store
	Identity identity
	Manager  *chunking.Manager
}

func openNode() (*node, error) {
	cfg := config.Load()
	if debug {
		cfg.Debug = true
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log := logging.New(cfg.Debug)

	id, err := loadOrCreateIdentity(dataDir)
	if err != nil {
		return nil, err
	}

	db, err := store.Open(filepath.Join(dataDir, "chunk_metadata.db"))
	if err != nil {
		return nil, err
	}

	chunks := chunkstore.New(dataDir)
	rpcClient := rpc.NewClient(time.Duration(cfg.RPCTimeoutSeconds) * time.Second)

	mgr := &chunking.Manager{
		Config:        cfg,
		SelfOwnerUUID: id.OwnerUUID,
		SelfPeerUUID:  id.PeerUUID,
		DataDir:       dataDir,
		Chunks:        chunks,
		DB:            db,
		RPC:           rpcClient,
		Pool:          chunking.NewPool(runtime.NumCPU()),
		Clock:         clock.Real{},
		Log:           log,
	}

	return &node{Config: cfg, Log: log, DB: db, Chunks: chunks, Identity: id, Manager: mgr}, nil
}

func (n *node) Close() {
	_ = n.DB.Close()
}
