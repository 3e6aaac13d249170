package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/hyperjump/kioku/internal/cli"
	"github.com/hyperjump/kioku/internal/models"
)

func newAddCmd(opts *rootOptions) *cobra.Command {
	var (
		wait    bool
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "add [text...]",
		Short: "Add a note",
		Long: `Add a note. The text is all remaining arguments joined by spaces; with no
arguments (or "-") the note is read from standard input.

Examples:
  kioku add "The sky is blue."
  kioku add --wait Remember to water the plants
  pbpaste | kioku add`,
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := opts.format()
			if err != nil {
				return err
			}
			text, err := noteText(args, cmd.InOrStdin())
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			c := opts.client()
			runID, err := c.AddNote(ctx, text)
			if err != nil {
				return fmt.Errorf("add note: %w", err)
			}
			if !wait {
				if format == cli.OutputJSON {
					return cli.WriteJSON(cmd.OutOrStdout(), map[string]string{"status": "created", "run_id": runID})
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Note accepted (run %s)\n", runID)
				return nil
			}
			waitCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			run, err := c.WaitForRun(waitCtx, runID, 250*time.Millisecond)
			if err != nil {
				return fmt.Errorf("wait for run %s: %w", runID, err)
			}
			if err := cli.WriteRun(cmd.OutOrStdout(), run, format); err != nil {
				return err
			}
			if run.Status == models.RunFailed {
				return fmt.Errorf("ingestion failed: %s", run.LastError)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&wait, "wait", false, "wait until the note is stored and indexed")
	cmd.Flags().DurationVar(&timeout, "timeout", 2*time.Minute, "how long --wait waits")
	return cmd
}

// noteText returns the joined args, or stdin when there are none or the only arg is "-".
func noteText(args []string, stdin io.Reader) (string, error) {
	if len(args) == 0 || (len(args) == 1 && args[0] == "-") {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		text := strings.TrimSpace(string(data))
		if text == "" {
			return "", fmt.Errorf("missing note text")
		}
		return text, nil
	}
	return requireArg(args, "note text")
}

func newNotesCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "notes [id]",
		Short: "List notes, or show one note",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := opts.format()
			if err != nil {
				return err
			}
			c := opts.client()
			if len(args) == 1 {
				note, err := c.GetNote(cmd.Context(), args[0])
				if err != nil {
					return fmt.Errorf("get note: %w", err)
				}
				return cli.WriteNote(cmd.OutOrStdout(), note, format)
			}
			notes, err := c.ListNotes(cmd.Context())
			if err != nil {
				return fmt.Errorf("list notes: %w", err)
			}
			return cli.WriteNotes(cmd.OutOrStdout(), notes, format)
		},
	}
}

func newDeleteCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a note and its vector",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.client().DeleteNote(cmd.Context(), args[0]); err != nil {
				return fmt.Errorf("delete note: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Note deleted: %s\n", args[0])
			return nil
		},
	}
}
