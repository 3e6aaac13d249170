// Package cli renders Kioku API responses for the terminal.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/hyperjump/kioku/internal/client"
	"github.com/hyperjump/kioku/internal/models"
	"github.com/hyperjump/kioku/pkg/utils"
)

// OutputFormat selects how command results are written.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// ParseFormat maps a --output flag value to an OutputFormat. Empty means text.
func ParseFormat(s string) (OutputFormat, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "text":
		return OutputText, nil
	case "json":
		return OutputJSON, nil
	default:
		return "", fmt.Errorf("unknown output format %q; use text or json", s)
	}
}

// WriteJSON writes v as indented JSON.
func WriteJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// WriteAnswer writes the model's reply.
func WriteAnswer(w io.Writer, resp *models.QueryResponse, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, resp)
	}
	_, err := fmt.Fprintln(w, resp.Response)
	return err
}

// WriteNotes writes notes as a table, newest last.
func WriteNotes(w io.Writer, notes []*models.Note, format OutputFormat) error {
	if format == OutputJSON {
		if notes == nil {
			notes = []*models.Note{}
		}
		return WriteJSON(w, notes)
	}
	if len(notes) == 0 {
		_, err := fmt.Fprintln(w, "No notes found")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "ID\tCREATED\tTEXT")
	for _, n := range notes {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\n", n.ID, n.CreatedAt.Format(time.RFC3339), oneLine(n.Text, 60))
	}
	return tw.Flush()
}

// WriteNote writes one note in full.
func WriteNote(w io.Writer, note *models.Note, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, note)
	}
	fmt.Fprintf(w, "ID:       %s\n", note.ID)
	fmt.Fprintf(w, "Created:  %s\n", note.CreatedAt.Format(time.RFC3339))
	_, err := fmt.Fprintf(w, "\n%s\n", note.Text)
	return err
}

// WriteSearchResults writes ranked note search results.
func WriteSearchResults(w io.Writer, resp *models.NoteSearchResponse, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, resp)
	}
	fmt.Fprintf(w, "\nFound %d results in %dms\n\n", resp.Total, resp.QueryTime)
	for _, r := range resp.Results {
		fmt.Fprintf(w, "─────────────────────────────────────────────────────────\n")
		fmt.Fprintf(w, "Rank: %d | Score: %.4f (Keyword: %.4f, Semantic: %.4f)\n",
			r.Rank, r.Score, r.KeywordScore, r.SemanticScore)
		if r.Note != nil {
			fmt.Fprintf(w, "ID: %s\n", r.Note.ID)
		}
		fmt.Fprintf(w, "\n%s\n\n", r.Snippet)
	}
	return nil
}

// WriteRun writes a workflow run and its step log.
func WriteRun(w io.Writer, run *models.Run, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, run)
	}
	fmt.Fprintf(w, "Run:       %s\n", run.ID)
	fmt.Fprintf(w, "Workflow:  %s\n", run.Workflow)
	fmt.Fprintf(w, "Status:    %s\n", run.Status)
	fmt.Fprintf(w, "Attempts:  %d\n", run.Attempts)
	if run.LastError != "" {
		fmt.Fprintf(w, "Error:     %s\n", run.LastError)
	}
	if len(run.Steps) == 0 {
		return nil
	}
	fmt.Fprintln(w, "\nSteps:")
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, s := range run.Steps {
		_, _ = fmt.Fprintf(tw, "  %s\t%s\t%s\n", s.Step, s.Status, oneLine(s.Error, 60))
	}
	return tw.Flush()
}

// WriteStatus writes the server status report.
func WriteStatus(w io.Writer, s *client.Status, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, s)
	}
	fmt.Fprintf(w, "notes:              %d   # stored notes\n", s.Notes)
	fmt.Fprintf(w, "vectors:            %d   # vectors in the semantic index\n", s.Vectors)
	if s.KeywordDocuments != nil {
		fmt.Fprintf(w, "keyword_documents:  %d   # notes in the keyword index\n", *s.KeywordDocuments)
	}
	if s.DiskUsageBytes != nil {
		fmt.Fprintf(w, "disk_usage_bytes:   %d   # storage + indices on disk\n", *s.DiskUsageBytes)
	}
	if len(s.Runs) > 0 {
		fmt.Fprintln(w, "\n# workflow runs")
		statuses := make([]string, 0, len(s.Runs))
		for status := range s.Runs {
			statuses = append(statuses, string(status))
		}
		sort.Strings(statuses)
		for _, status := range statuses {
			fmt.Fprintf(w, "%-20s%d\n", status+":", s.Runs[models.RunStatus(status)])
		}
	}
	for _, dir := range s.InboxDirectories {
		fmt.Fprintf(w, "inbox:              %s\n", dir)
	}
	if len(s.Config) > 0 {
		fmt.Fprintln(w, "\n# configuration")
		keys := make([]string, 0, len(s.Config))
		for k := range s.Config {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(w, "%-20s%v\n", k+":", s.Config[k])
		}
	}
	return nil
}

func oneLine(s string, maxLen int) string {
	return utils.Truncate(strings.Join(strings.Fields(s), " "), maxLen)
}
