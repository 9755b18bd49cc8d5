package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status file-uuid",
	Short: "report a chunked file's placement health",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		n, err := openNode()
		if err != nil {
			return err
		}
		defer n.Close()

		status, err := n.Manager.GetFileStatus(args[0])
		if err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(),
			"required=%d local=%d remote=%d reachable=%t reconstructable=%t degraded=%t\n",
			status.Required, status.AvailableLocal, status.AvailableRemote,
			status.Reachable, status.Reconstructable, status.Degraded)
		return nil
	},
}
