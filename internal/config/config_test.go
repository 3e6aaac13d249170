package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) (string, string) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return dir, path
}

func TestLoad(t *testing.T) {
	_, path := writeConfig(t, `
server:
  host: "127.0.0.1"
  port: 9000
storage:
  database_path: "notes.db"
chat:
  provider: ollama
  base_url: "http://localhost:11434"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Host != "127.0.0.1" || cfg.Server.Port != 9000 {
		t.Errorf("unexpected server config: %+v", cfg.Server)
	}
	if cfg.Storage.DatabasePath == "" {
		t.Error("database_path should be set")
	}
	if cfg.Chat.Model != "llama3.2" {
		t.Errorf("ollama chat model default: got %q", cfg.Chat.Model)
	}
	if cfg.Debug {
		t.Error("debug should default to false when unset")
	}
}

func TestLoad_debugTrue(t *testing.T) {
	_, path := writeConfig(t, `
debug: true
storage:
  database_path: "notes.db"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if !cfg.Debug {
		t.Error("debug should be true when set in config")
	}
}

func TestLoad_expandPathDotSlashRelativeToConfigDir(t *testing.T) {
	dir, path := writeConfig(t, `
storage:
  database_path: "./data/db/notes.db"
  keyword_index_path: "./data/indices/bleve"
inbox:
  directories: ["./inbox"]
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	wantDB := filepath.Join(dir, "data", "db", "notes.db")
	if cfg.Storage.DatabasePath != wantDB {
		t.Errorf("database_path = %s, want %s", cfg.Storage.DatabasePath, wantDB)
	}
	wantKw := filepath.Join(dir, "data", "indices", "bleve")
	if cfg.Storage.KeywordIndexPath != wantKw {
		t.Errorf("keyword_index_path = %s, want %s", cfg.Storage.KeywordIndexPath, wantKw)
	}
	if len(cfg.Inbox.Directories) != 1 {
		t.Fatalf("inbox directories: got %d", len(cfg.Inbox.Directories))
	}
	if want := filepath.Join(dir, "inbox"); cfg.Inbox.Directories[0] != want {
		t.Errorf("inbox directory = %s, want %s", cfg.Inbox.Directories[0], want)
	}
}

func TestLoad_rejectsUnknownProviders(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"embedding", "embedding:\n  provider: word2vec\n"},
		{"chat", "chat:\n  provider: eliza\n"},
		{"vector", "vector:\n  index_type: faiss\n"},
		{"qdrant without endpoint", "vector:\n  index_type: qdrant\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, path := writeConfig(t, tt.content)
			if _, err := Load(path); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestLoad_missingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing config")
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)
	if cfg.Server.Host != "localhost" {
		t.Errorf("default host: got %s", cfg.Server.Host)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("default port: got %d", cfg.Server.Port)
	}
	if cfg.Retrieval.TopK != 5 {
		t.Errorf("default top_k: got %d, want 5", cfg.Retrieval.TopK)
	}
	if cfg.Retrieval.DefaultQuery != "Hello" {
		t.Errorf("default query: got %q", cfg.Retrieval.DefaultQuery)
	}
	if cfg.Vector.IndexType != "sqlite" || cfg.Vector.Namespace != "default" {
		t.Errorf("vector defaults: got %+v", cfg.Vector)
	}
	if cfg.Embedding.Provider != "mock" {
		t.Errorf("embedding provider default: got %q", cfg.Embedding.Provider)
	}
	if cfg.Chat.Provider != "gemini" || cfg.Chat.Model != "gemini-2.5-flash" || cfg.Chat.APIKeyEnv != "GEMINI_API_KEY" {
		t.Errorf("chat defaults: got %+v", cfg.Chat)
	}
	if cfg.Workflow.Workers != 4 || cfg.Workflow.MaxAttempts != 5 {
		t.Errorf("workflow defaults: got %+v", cfg.Workflow)
	}
	if len(cfg.Inbox.Extensions) != 7 || cfg.Inbox.Extensions[0] != ".txt" {
		t.Errorf("inbox extensions: got %v", cfg.Inbox.Extensions)
	}
}

func TestAPIKey(t *testing.T) {
	t.Setenv("KIOKU_TEST_KEY", "secret")
	if got := APIKey("KIOKU_TEST_KEY"); got != "secret" {
		t.Errorf("APIKey = %q", got)
	}
	if got := APIKey(""); got != "" {
		t.Errorf("APIKey(\"\") = %q", got)
	}
}

func TestSave(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "saved.yaml")
	cfg := &Config{
		Server:  ServerConfig{Host: "localhost", Port: 9090},
		Storage: StorageConfig{DatabasePath: "/tmp/db"},
	}
	if err := Save(path, cfg); err != nil {
		t.Fatal(err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Server.Port != 9090 {
		t.Errorf("loaded port: got %d", loaded.Server.Port)
	}
}
