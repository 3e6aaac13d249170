package config

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.CORSOrigins == nil {
		cfg.Server.CORSOrigins = []string{"*"}
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = "/usr/local/var/kioku/data/db/notes.db"
	}
	if cfg.Storage.VectorPath == "" {
		cfg.Storage.VectorPath = "/usr/local/var/kioku/data/indices/vectors.db"
	}
	if cfg.Storage.KeywordIndexPath == "" {
		cfg.Storage.KeywordIndexPath = "/usr/local/var/kioku/data/indices/bleve"
	}
	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = "mock"
	}
	if cfg.Embedding.Dimensions == 0 {
		cfg.Embedding.Dimensions = 768
	}
	if cfg.Embedding.MaxTokens == 0 {
		cfg.Embedding.MaxTokens = 256
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 10000
	}
	if cfg.Embedding.Model == "" {
		switch cfg.Embedding.Provider {
		case "gemini":
			cfg.Embedding.Model = "text-embedding-004"
		case "ollama":
			cfg.Embedding.Model = "nomic-embed-text"
		case "openai":
			cfg.Embedding.Model = "text-embedding-3-small"
		}
	}
	if cfg.Embedding.APIKeyEnv == "" {
		cfg.Embedding.APIKeyEnv = defaultKeyEnv(cfg.Embedding.Provider)
	}
	if cfg.Chat.Provider == "" {
		cfg.Chat.Provider = "gemini"
	}
	if cfg.Chat.Model == "" {
		switch cfg.Chat.Provider {
		case "gemini":
			cfg.Chat.Model = "gemini-2.5-flash"
		case "ollama":
			cfg.Chat.Model = "llama3.2"
		case "openai":
			cfg.Chat.Model = "gpt-4o-mini"
		}
	}
	if cfg.Chat.APIKeyEnv == "" {
		cfg.Chat.APIKeyEnv = defaultKeyEnv(cfg.Chat.Provider)
	}
	if cfg.Vector.IndexType == "" {
		cfg.Vector.IndexType = "sqlite"
	}
	if cfg.Vector.Namespace == "" {
		cfg.Vector.Namespace = "default"
	}
	if cfg.Vector.Collection == "" {
		cfg.Vector.Collection = "kioku-notes"
	}
	if cfg.Retrieval.TopK == 0 {
		cfg.Retrieval.TopK = 5
	}
	if cfg.Retrieval.FetchConcurrency == 0 {
		cfg.Retrieval.FetchConcurrency = 5
	}
	if cfg.Retrieval.DefaultQuery == "" {
		cfg.Retrieval.DefaultQuery = "Hello"
	}
	if cfg.Workflow.Workers == 0 {
		cfg.Workflow.Workers = 4
	}
	if cfg.Workflow.MaxAttempts == 0 {
		cfg.Workflow.MaxAttempts = 5
	}
	if cfg.Workflow.RetryBackoffSecs == 0 {
		cfg.Workflow.RetryBackoffSecs = 2
	}
	if cfg.Inbox.Extensions == nil {
		cfg.Inbox.Extensions = []string{".txt", ".md", ".pdf", ".docx", ".xlsx", ".rtf", ".odt"}
	}
	if cfg.Inbox.ProcessedDir == "" {
		cfg.Inbox.ProcessedDir = ".ingested"
	}
	if cfg.Inbox.ChunkSize == 0 {
		cfg.Inbox.ChunkSize = 1000
	}
	if cfg.Inbox.ChunkOverlap == 0 {
		cfg.Inbox.ChunkOverlap = 100
	}
}

func defaultKeyEnv(provider string) string {
	switch provider {
	case "gemini":
		return "GEMINI_API_KEY"
	case "openai":
		return "OPENAI_API_KEY"
	}
	return ""
}
