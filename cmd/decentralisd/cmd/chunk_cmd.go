package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var chunkCmd = &cobra.Command{
	Use:   "chunk path/to/file",
	Short: "erasure-code a file and store its shards locally",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		n, err := openNode()
		if err != nil {
			return err
		}
		defer n.Close()

		var fileUUID string
		err = withSpinner("chunking", func() error {
			fileUUID, err = n.Manager.ChunkFile(context.Background(), args[0], n.Identity.OwnerUUID)
			return err
		})
		if err != nil {
			return err
		}

		fmt.Fprintln(cmd.OutOrStdout(), fileUUID)
		return nil
	},
}
