package cmd

import (
	"context"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/decentralis-net/decentralis-core/internal/chunking"
	"github.com/decentralis-net/decentralis-core/internal/replication"
	"github.com/decentralis-net/decentralis-core/internal/rpc"
	"github.com/decentralis-net/decentralis-core/internal/store"
	"github.com/decentralis-net/decentralis-core/internal/trackerclient"
)

var passphraseFlag string

var serveCmd = &cobra.Command{
	Use:   "serve listen-addr tracker-addr",
	Short: "run the RPC server, tracker client, and chunking daemon",
	Args:  cobra.ExactArgs(2),
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&passphraseFlag, "passphrase", "", "retention passphrase (falls back to DECENTRALIS_PASSPHRASE, then an interactive prompt)")
}

func runServe(cmd *cobra.Command, args []string) error {
	listenAddr := args[0]
	trackerAddr := args[1]

	n, err := openNode()
	if err != nil {
		return err
	}
	defer n.Close()

	passphrase, err := resolvePassphrase()
	if err != nil {
		return err
	}
	keyring, err := unlockRetention(filepath.Join(dataDir, "key.json"), passphrase, n.Config.PBKDF2Iterations)
	if err != nil {
		return err
	}
	defer keyring.Wipe()

	ln, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return err
	}
	n.Manager.RPCListener = ln

	srv := &rpc.Server{
		PeerUUID: n.Identity.PeerUUID,
		Chunks:   n.Chunks,
		DB:       n.DB,
		Clock:    n.Manager.Clock,
		Log:      n.Log,
	}
	go func() {
		if err := srv.Serve(ln); err != nil {
			n.Log.WithError(err).Debug("rpc server stopped")
		}
	}()

	selfIP, selfPortStr, err := net.SplitHostPort(ln.Addr().String())
	if err != nil {
		return err
	}
	selfPort, err := strconv.Atoi(selfPortStr)
	if err != nil {
		return err
	}

	tracker := trackerclient.New(
		trackerAddr, selfIP, selfPort, n.Identity.PeerUUID,
		time.Duration(n.Config.KeepaliveIntervalSeconds)*time.Second,
		n.Manager.OnPeerListUpdate, n.Log,
	)

	keepaliveWindow := time.Duration(n.Config.PeerLossThresholdIntervals*n.Config.KeepaliveIntervalSeconds) * time.Second
	repl := &replication.Manager{
		Config: n.Config,
		DB:     n.DB,
		Chunks: n.Chunks,
		RPC:    rpc.NewClient(time.Duration(n.Config.RPCTimeoutSeconds) * time.Second),
		Peers: func() ([]store.Peer, error) {
			return n.DB.ListEligiblePeers(n.Config.MinPeerReliability, keepaliveWindow, time.Now())
		},
		Clock: n.Manager.Clock,
		Log:   n.Log,
	}
	n.Manager.Replication = repl

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tracker.Start(ctx)
	n.Manager.StartBackgroundTasks(ctx)

	storageDir := filepath.Join(dataDir, "storage")
	if err := os.MkdirAll(storageDir, 0o755); err != nil {
		return err
	}
	containerPath := filepath.Join(storageDir, "container.dat")
	n.Manager.RestoreContainer(ctx, n.Identity.OwnerUUID, storageDir)

	autoSyncer := &chunking.AutoSyncer{Writer: n.Manager, ContainerPath: containerPath, Owner: n.Identity.OwnerUUID}
	if err := autoSyncer.Start(ctx); err != nil {
		n.Log.WithError(err).Warn("container auto-sync watcher failed to start")
	} else {
		defer autoSyncer.Stop()
	}

	n.Log.WithField("addr", ln.Addr().String()).Info("decentralisd ready")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	n.Log.Info("shutting down")
	cancel()
	tracker.Close()
	n.Manager.Shutdown()
	return nil
}
