package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/decentralis-net/decentralis-core/internal/chunking"
)

var distributeCmd = &cobra.Command{
	Use:   "distribute file-uuid",
	Short: "assign a chunked file's shards to eligible peers",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		n, err := openNode()
		if err != nil {
			return err
		}
		defer n.Close()

		var report chunking.DistributionReport
		err = withSpinner("distributing", func() error {
			report, err = n.Manager.DistributeChunks(context.Background(), args[0], n.Identity.OwnerUUID)
			return err
		})
		if err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "distributed %d/%d chunks, %d kept local\n",
			report.Distributed, report.TotalChunks, len(report.KeptLocal))
		return nil
	},
}
