package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/localdoc/docsearch/internal/search"
	"github.com/localdoc/docsearch/internal/store"
)

var (
	searchLimit int
	searchType  string
	searchJSON  bool
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search the index",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		c, cleanup, err := setup(ctx, nil)
		if err != nil {
			return err
		}
		defer cleanup()

		opts := search.Options{Limit: searchLimit}
		if searchType != "" {
			opts.Filters.MediaTypes = []store.MediaType{store.MediaType(searchType)}
		}

		results, err := c.Engine.Search(ctx, strings.Join(args, " "), opts)
		if err != nil {
			return err
		}

		if searchJSON {
			return json.NewEncoder(os.Stdout).Encode(results)
		}
		if len(results) == 0 {
			fmt.Println("no results")
			return nil
		}
		for i, r := range results {
			locator := ""
			if r.Page != nil {
				locator = fmt.Sprintf(" (page %d)", *r.Page)
			}
			if r.StartTime != nil {
				locator = fmt.Sprintf(" (%.0fs)", *r.StartTime)
			}
			fmt.Printf("%2d. [%.3f] %s%s\n", i+1, r.Score, r.Path, locator)
			fmt.Printf("    %s\n", snippet(r.Text, 160))
			if r.PlaybackURL != "" {
				fmt.Printf("    %s\n", r.PlaybackURL)
			}
		}
		return nil
	},
}

func snippet(text string, max int) string {
	text = strings.Join(strings.Fields(text), " ")
	if len(text) <= max {
		return text
	}
	cut := max
	for cut > 0 && (text[cut]&0xC0) == 0x80 {
		cut--
	}
	return text[:cut] + "…"
}

func init() {
	searchCmd.Flags().IntVar(&searchLimit, "limit", 10, "maximum results")
	searchCmd.Flags().StringVar(&searchType, "type", "", "filter by media type (document, image, audio, video)")
	searchCmd.Flags().BoolVar(&searchJSON, "json", false, "emit JSON")
}
