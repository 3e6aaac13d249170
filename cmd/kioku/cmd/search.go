package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hyperjump/kioku/internal/cli"
)

func newSearchCmd(opts *rootOptions) *cobra.Command {
	var (
		limit int
		mode  string
		fuzzy bool
	)
	cmd := &cobra.Command{
		Use:   "search <query...>",
		Short: "Search notes by keyword, meaning, or both",
		Long: `Search notes without asking the chat model. The query is all remaining
arguments joined by spaces.

Examples:
  kioku search sky
  kioku search --mode semantic "weather in spring"
  kioku search --fuzzy plnats                    # typo-tolerant keyword match`,
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := opts.format()
			if err != nil {
				return err
			}
			query, err := requireArg(args, "query")
			if err != nil {
				return err
			}
			c := opts.client()
			resp, err := c.SearchNotes(cmd.Context(), query, limit, mode, fuzzy)
			if err != nil {
				return fmt.Errorf("search: %w", err)
			}
			// Retry with typo tolerance when an exact search finds nothing.
			if resp.Total == 0 && !fuzzy && mode != "semantic" {
				if fuzzyResp, err := c.SearchNotes(cmd.Context(), query, limit, mode, true); err == nil && fuzzyResp.Total > 0 {
					resp = fuzzyResp
				}
			}
			return cli.WriteSearchResults(cmd.OutOrStdout(), resp, format)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 10, "number of results")
	cmd.Flags().StringVar(&mode, "mode", "hybrid", "keyword, semantic or hybrid")
	cmd.Flags().BoolVar(&fuzzy, "fuzzy", false, "enable fuzzy matching for typo tolerance")
	return cmd
}
