package models

import "errors"

var (
	// ErrValidation is returned when a submitted note has no usable text.
	ErrValidation = errors.New("missing text")
	// ErrPersistence is returned when the note store did not produce a row.
	ErrPersistence = errors.New("note was not persisted")
	// ErrEmbedding is returned when the embedding provider yields no vector.
	ErrEmbedding = errors.New("embedding unavailable")
	// ErrGenerationUnavailable is returned when the chat provider yields no usable text.
	ErrGenerationUnavailable = errors.New("we were unable to generate output")
)

// GenerationFailureMessage is the response body text sent when no answer could be generated.
const GenerationFailureMessage = "We were unable to generate output"
