package config

import "time"

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 5000
	}
	if cfg.Server.RequestTimeout == 0 {
		cfg.Server.RequestTimeout = 30 * time.Second
	}
	if cfg.Server.RateLimit > 0 && cfg.Server.RateBurst == 0 {
		cfg.Server.RateBurst = int(cfg.Server.RateLimit) + 1
	}
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = "sqlite3"
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = "/usr/local/var/mneme/data/memory.db"
	}
	if cfg.Storage.QueryTimeout == 0 {
		cfg.Storage.QueryTimeout = 5 * time.Second
	}
	if cfg.Storage.ScanTimeout == 0 {
		cfg.Storage.ScanTimeout = 5 * time.Minute
	}
	if cfg.Storage.ReplayRetries == 0 {
		cfg.Storage.ReplayRetries = 3
	}
	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = "hashing"
	}
	if cfg.Embedding.ModelPath == "" {
		cfg.Embedding.ModelPath = "/usr/local/var/mneme/data/models/all-MiniLM-L6-v2.onnx"
	}
	if cfg.Embedding.Dimensions == 0 {
		cfg.Embedding.Dimensions = 384
	}
	if cfg.Embedding.MaxTokens == 0 {
		cfg.Embedding.MaxTokens = 256
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 10000
	}
	if cfg.Index.Type == "" {
		cfg.Index.Type = "flat"
	}
	if cfg.Search.DefaultTopK == 0 {
		cfg.Search.DefaultTopK = 5
	}
	if cfg.Search.MaxTopK == 0 {
		cfg.Search.MaxTopK = 100
	}
	if cfg.Ingest.Extensions == nil {
		cfg.Ingest.Extensions = []string{".txt", ".md", ".rst", ".pdf", ".docx", ".odt", ".rtf", ".xlsx"}
	}
	if cfg.Ingest.MaxWords == 0 {
		cfg.Ingest.MaxWords = 200
	}
	if cfg.Ingest.OverlapWords == 0 {
		cfg.Ingest.OverlapWords = 20
	}
	// Recursive defaults to true when unset (nil).
	if len(cfg.Ingest.Directories) > 0 && cfg.Ingest.Recursive == nil {
		t := true
		cfg.Ingest.Recursive = &t
	}
}
