package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hyperjump/kioku/internal/cli"
)

func newStatusCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show note, vector and run counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := opts.format()
			if err != nil {
				return err
			}
			s, err := opts.client().Status(cmd.Context())
			if err != nil {
				return fmt.Errorf("status: %w", err)
			}
			return cli.WriteStatus(cmd.OutOrStdout(), s, format)
		},
	}
}
