package cmd

import (
	"errors"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/hyperjump/kioku/internal/cli"
	"github.com/hyperjump/kioku/internal/models"
	"github.com/hyperjump/kioku/internal/tui"
)

func newAskCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "ask <question...>",
		Short: "Ask one question against your notes",
		Long: `Ask one question. The question is all remaining arguments joined by spaces.

Examples:
  kioku ask what color is the sky
  kioku ask -o json "What did I write about plants?"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := opts.format()
			if err != nil {
				return err
			}
			question, err := requireArg(args, "question")
			if err != nil {
				return err
			}
			resp, err := opts.client().Query(cmd.Context(), &models.QueryRequest{Query: question})
			if errors.Is(err, models.ErrGenerationUnavailable) {
				return errors.New(models.GenerationFailureMessage)
			}
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}
			return cli.WriteAnswer(cmd.OutOrStdout(), resp, format)
		},
	}
}

func newTalkCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "talk",
		Short: "Chat with your notes in the terminal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c := opts.client()
			p := tea.NewProgram(tui.New(c, c.BaseURL()), tea.WithAltScreen())
			_, err := p.Run()
			return err
		},
	}
}
