// Package models defines core data structures for notes, conversations, and workflow runs.
package models

import (
	"strings"
	"time"
)

// Note is a stored free-text note. ID is assigned by the note store at insert and never changes.
type Note struct {
	ID        string    `json:"id" db:"id"`
	Text      string    `json:"text" db:"text"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// NoteInput is the payload accepted by the ingestion trigger and carried by an ingestion run.
type NoteInput struct {
	Text string `json:"text"`
}

// Validate returns ErrValidation when the text is empty or whitespace only.
func (in *NoteInput) Validate() error {
	if in == nil || strings.TrimSpace(in.Text) == "" {
		return ErrValidation
	}
	return nil
}

// VectorRecord is the embedding of one note, keyed by the note ID.
type VectorRecord struct {
	ID        string    `json:"id"`
	Values    []float32 `json:"values"`
	Namespace string    `json:"namespace"`
}
