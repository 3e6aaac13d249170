package indexer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tmc/langchaingo/textsplitter"
	"go.uber.org/zap"

	"github.com/hyperjump/kioku/internal/extract"
	"github.com/hyperjump/kioku/internal/models"
)

// IngestFile extracts the text of the file at path, splits it into chunks and submits one
// ingestion run per chunk. On success the file is moved into the processed directory so it is
// not ingested twice. A file that fails extraction is left in place.
func (idx *Indexer) IngestFile(ctx context.Context, path string) ([]*models.Run, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("not a regular file: %s", path)
	}
	if !extract.Supported(filepath.Ext(path)) {
		return nil, fmt.Errorf("%w: %s", extract.ErrUnsupported, filepath.Ext(path))
	}
	text, err := idx.extractor.Extract(path)
	if err != nil {
		return nil, fmt.Errorf("extract content: %w", err)
	}
	chunks, err := idx.splitText(Preprocess(text))
	if err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		return nil, fmt.Errorf("%w: %s has no text", models.ErrValidation, filepath.Base(path))
	}

	runs := make([]*models.Run, 0, len(chunks))
	for _, chunk := range chunks {
		run, err := idx.Submit(ctx, &models.NoteInput{Text: chunk})
		if err != nil {
			return runs, err
		}
		runs = append(runs, run)
	}
	dest, err := idx.moveProcessed(path)
	if err != nil {
		// The runs are already scheduled; leaving the file means it may be ingested again.
		idx.logger.Warn("could not move ingested file", zap.String("path", path), zap.Error(err))
	}
	idx.logger.Info("file ingested",
		zap.String("path", path),
		zap.String("moved_to", dest),
		zap.Int("chunks", len(runs)))
	return runs, nil
}

// splitText splits text with a recursive character splitter and drops blank chunks.
func (idx *Indexer) splitText(text string) ([]string, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	splitter := textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(idx.chunkSize),
		textsplitter.WithChunkOverlap(idx.chunkOverlap),
	)
	parts, err := splitter.SplitText(text)
	if err != nil {
		return nil, fmt.Errorf("split text: %w", err)
	}
	chunks := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			chunks = append(chunks, p)
		}
	}
	return chunks, nil
}

// moveProcessed moves path into the processed directory, adding a timestamp when a file with
// the same name was ingested before.
func (idx *Indexer) moveProcessed(path string) (string, error) {
	dir := idx.processedDir
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(filepath.Dir(path), dir)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	base := filepath.Base(path)
	dest := filepath.Join(dir, base)
	if _, err := os.Stat(dest); err == nil {
		ext := filepath.Ext(base)
		stamp := time.Now().UTC().Format("20060102T150405.000000000")
		dest = filepath.Join(dir, strings.TrimSuffix(base, ext)+"-"+stamp+ext)
	}
	if err := os.Rename(path, dest); err != nil {
		return "", err
	}
	return dest, nil
}
