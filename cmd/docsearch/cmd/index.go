package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var indexRecursive bool

var indexCmd = &cobra.Command{
	Use:   "index <path>",
	Short: "Index a file or directory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		c, cleanup, err := setup(ctx, nil)
		if err != nil {
			return err
		}
		defer cleanup()

		result, err := c.IndexPath(ctx, args[0], indexRecursive)
		if err != nil {
			return err
		}

		stats := result.Stats
		fmt.Printf("indexed %d files (%d pdf, %d text, %d image, %d audio, %d video, %d skipped)\n",
			result.IndexedCount, stats.PDFCount, stats.TextCount,
			stats.ImageCount, stats.AudioCount, stats.VideoCount, stats.SkippedCount)
		if stats.VLMPagesProcessed > 0 {
			fmt.Printf("vlm pages processed: %d\n", stats.VLMPagesProcessed)
		}
		return nil
	},
}

func init() {
	indexCmd.Flags().BoolVarP(&indexRecursive, "recursive", "r", true, "recurse into subdirectories")
}
