package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hyperjump/kioku/internal/cli"
)

func newRunCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Inspect or retry ingestion runs",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "get <run-id>",
			Short: "Show a run and its step log",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				format, err := opts.format()
				if err != nil {
					return err
				}
				run, err := opts.client().GetRun(cmd.Context(), args[0])
				if err != nil {
					return fmt.Errorf("get run: %w", err)
				}
				return cli.WriteRun(cmd.OutOrStdout(), run, format)
			},
		},
		&cobra.Command{
			Use:   "retry <run-id>",
			Short: "Re-queue a failed run from its first incomplete step",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				format, err := opts.format()
				if err != nil {
					return err
				}
				run, err := opts.client().RetryRun(cmd.Context(), args[0])
				if err != nil {
					return fmt.Errorf("retry run: %w", err)
				}
				return cli.WriteRun(cmd.OutOrStdout(), run, format)
			},
		},
	)
	return cmd
}
