package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"
)

type recorder struct {
	mu    sync.Mutex
	paths []string
}

func (r *recorder) record(path string) {
	r.mu.Lock()
	r.paths = append(r.paths, path)
	r.mu.Unlock()
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := append([]string(nil), r.paths...)
	sort.Strings(out)
	return out
}

func waitForPaths(t *testing.T, r *recorder, n int) []string {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		got := r.snapshot()
		if len(got) >= n {
			return got
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected %d reported files, got %v", n, got)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestWatcher_ReportsSettledFile(t *testing.T) {
	dir := t.TempDir()
	rec := &recorder{}
	w := NewWatcher([]string{dir}, []string{".txt"}, rec.record, WithDebounce(50*time.Millisecond))
	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	path := filepath.Join(dir, "note.txt")
	if err := writeFile(path, "first"); err != nil {
		t.Fatal(err)
	}
	if err := writeFile(path, "first and second"); err != nil {
		t.Fatal(err)
	}
	got := waitForPaths(t, rec, 1)
	if got[0] != path {
		t.Errorf("reported %v, want %s", got, path)
	}
	time.Sleep(150 * time.Millisecond)
	if n := len(rec.snapshot()); n != 1 {
		t.Errorf("repeated writes should be debounced into one report, got %d", n)
	}
}

func TestWatcher_IgnoresHiddenAndOtherExtensions(t *testing.T) {
	dir := t.TempDir()
	rec := &recorder{}
	w := NewWatcher([]string{dir}, []string{".md"}, rec.record, WithDebounce(30*time.Millisecond))
	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	_ = writeFile(filepath.Join(dir, ".draft.md"), "hidden")
	_ = writeFile(filepath.Join(dir, "image.png"), "png")
	_ = writeFile(filepath.Join(dir, "keep.md"), "visible")

	waitForPaths(t, rec, 1)
	time.Sleep(100 * time.Millisecond)
	got := rec.snapshot()
	if len(got) != 1 || !strings.HasSuffix(got[0], "keep.md") {
		t.Errorf("expected only keep.md, got %v", got)
	}
}

func TestWatcher_RemoveCancelsPendingFile(t *testing.T) {
	dir := t.TempDir()
	rec := &recorder{}
	w := NewWatcher([]string{dir}, nil, rec.record, WithDebounce(300*time.Millisecond))
	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	path := filepath.Join(dir, "gone.txt")
	if err := writeFile(path, "short lived"); err != nil {
		t.Fatal(err)
	}
	time.Sleep(50 * time.Millisecond)
	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	time.Sleep(500 * time.Millisecond)
	if got := rec.snapshot(); len(got) != 0 {
		t.Errorf("removed file should not be reported, got %v", got)
	}
}

func TestWatcher_SyncExistingFiles(t *testing.T) {
	dir := t.TempDir()
	_ = writeFile(filepath.Join(dir, "a.txt"), "hello")
	_ = writeFile(filepath.Join(dir, "ignore.xyz"), "x")
	_ = os.MkdirAll(filepath.Join(dir, ".ingested"), 0755)
	_ = writeFile(filepath.Join(dir, ".ingested", "old.txt"), "done")
	_ = os.MkdirAll(filepath.Join(dir, "sub"), 0755)
	_ = writeFile(filepath.Join(dir, "sub", "nested.txt"), "not watched")

	rec := &recorder{}
	w := NewWatcher([]string{dir}, []string{".txt"}, rec.record)
	w.SyncExistingFiles()

	got := rec.snapshot()
	if len(got) != 1 || !strings.HasSuffix(got[0], "a.txt") {
		t.Errorf("expected only a.txt, got %v", got)
	}
}

func TestWatcher_StartCreatesMissingDirectory(t *testing.T) {
	root := filepath.Join(t.TempDir(), "inbox", "notes")
	w := NewWatcher([]string{root}, nil, nil)
	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()
	if info, err := os.Stat(root); err != nil || !info.IsDir() {
		t.Errorf("inbox directory should exist after Start: %v", err)
	}
	if dirs := w.Directories(); len(dirs) != 1 || dirs[0] != root {
		t.Errorf("Directories() = %v", dirs)
	}
}

func TestWatcher_StopIsIdempotent(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	w := NewWatcher([]string{t.TempDir()}, nil, nil)
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	cancel()
	w.Stop()
	w.Stop()
}

func TestMatchExtension(t *testing.T) {
	tests := []struct {
		path       string
		extensions []string
		want       bool
	}{
		{"/a/b.txt", []string{".txt"}, true},
		{"/a/b.TXT", []string{".txt"}, true},
		{"/a/b.md", []string{"md"}, true},
		{"/a/b.md", []string{".txt"}, false},
		{"/a/b", nil, true},
		{"/a/b", []string{}, true},
	}
	for _, tt := range tests {
		if got := matchExtension(tt.path, tt.extensions); got != tt.want {
			t.Errorf("matchExtension(%q, %v) = %v, want %v", tt.path, tt.extensions, got, tt.want)
		}
	}
}

func writeFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0600)
}
