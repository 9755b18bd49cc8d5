package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var reconstructCmd = &cobra.Command{
	Use:   "reconstruct file-uuid output-path",
	Short: "rebuild a file from local and remote shards",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		n, err := openNode()
		if err != nil {
			return err
		}
		defer n.Close()

		err = withSpinner("reconstructing", func() error {
			return n.Manager.ReconstructFile(context.Background(), args[0], n.Identity.OwnerUUID, args[1])
		})
		if err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "reconstructed %s -> %s\n", args[0], args[1])
		return nil
	},
}
