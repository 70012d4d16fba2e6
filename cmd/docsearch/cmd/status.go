package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show index statistics",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		c, cleanup, err := setup(ctx, nil)
		if err != nil {
			return err
		}
		defer cleanup()

		snap, err := c.Store.DB().Stats(ctx)
		if err != nil {
			return err
		}

		fmt.Printf("documents: %d\n", snap.TotalDocuments)
		fmt.Printf("chunks:    %d\n", snap.TotalChunks)
		for mediaType, n := range snap.ByMediaType {
			fmt.Printf("  %-9s %d\n", mediaType, n)
		}
		if snap.LastIndexedAt != nil {
			fmt.Printf("last indexed: %s\n", snap.LastIndexedAt.Local().Format("2006-01-02 15:04:05"))
		}
		if c.ModelRuntimeAvailable(ctx) {
			fmt.Println("model runtime: available")
		} else {
			fmt.Println("model runtime: unreachable")
		}
		return nil
	},
}
