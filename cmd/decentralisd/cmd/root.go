package cmd

import (
	"github.com/spf13/cobra"

	"github.com/decentralis-net/decentralis-core/internal/errs"
)

var (
	dataDir string
	debug   bool
)

var rootCmd = &cobra.Command{
	Use:   "decentralisd",
	Short: "decentralisd is the decentralis-core chunking node",
	Long:  `decentralisd hosts the erasure-coded chunk store, its peer RPC server, and the tracker client that discovers the swarm.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "data", "directory holding key.json, storage/, chunks/, and chunk_metadata.db")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable verbose logging")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(chunkCmd)
	rootCmd.AddCommand(distributeCmd)
	rootCmd.AddCommand(reconstructCmd)
	rootCmd.AddCommand(statusCmd)
}

// Execute runs the root command and maps the result to the process
// exit code spec.md §6 defines: 0 ok, 1 user error, 2 internal error.
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		return exitCodeForErr(err)
	}
	return 0
}

func exitCodeForErr(err error) int {
	kind, ok := errs.KindOf(err)
	if !ok {
		return 2
	}
	switch kind {
	case errs.Configuration, errs.WrongPassphrase:
		return 1
	default:
		return 2
	}
}
