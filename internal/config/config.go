// Package config provides configuration loading and structs for the mneme server.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug bool `yaml:"debug"`
	// LogLevel sets the minimum level of the production logger ("debug", "info", "warn", "error").
	// Ignored when Debug is set.
	LogLevel  string          `yaml:"log_level"`
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Index     IndexConfig     `yaml:"index"`
	Search    SearchConfig    `yaml:"search"`
	Ingest    IngestConfig    `yaml:"ingest"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	// RateLimit is the number of requests per second accepted by the API; 0 disables limiting.
	RateLimit float64 `yaml:"rate_limit"`
	RateBurst int     `yaml:"rate_burst"`
}

// Addr returns host:port.
func (s *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// StorageConfig holds the record store settings.
type StorageConfig struct {
	// Driver is the database/sql driver name: "sqlite3" (mattn, cgo) or "sqlite" (modernc, pure Go).
	Driver       string        `yaml:"driver"`
	DatabasePath string        `yaml:"database_path"`
	QueryTimeout time.Duration `yaml:"query_timeout"`
	// ScanTimeout bounds the full-table scan done at startup replay.
	ScanTimeout   time.Duration `yaml:"scan_timeout"`
	ReplayRetries int           `yaml:"replay_retries"`
}

// EmbeddingConfig holds embedder settings.
type EmbeddingConfig struct {
	// Provider selects the embedder: "hashing", "mock" or "onnx".
	Provider   string `yaml:"provider"`
	ModelPath  string `yaml:"model_path"`
	Dimensions int    `yaml:"dimensions"`
	MaxTokens  int    `yaml:"max_tokens"`
	CacheSize  int    `yaml:"cache_size"`
}

// IndexConfig selects the similarity index implementation.
type IndexConfig struct {
	Type string `yaml:"type"`
}

// SearchConfig holds search request defaults.
type SearchConfig struct {
	DefaultTopK int `yaml:"default_top_k"`
	MaxTopK     int `yaml:"max_top_k"`
}

// IngestConfig holds directory ingestion settings.
type IngestConfig struct {
	Directories  []string `yaml:"directories"`
	Extensions   []string `yaml:"extensions"`
	Recursive    *bool    `yaml:"recursive"`
	MaxWords     int      `yaml:"max_words"`
	OverlapWords int      `yaml:"overlap_words"`
}

// RecursiveOrDefault returns whether to watch recursively; defaults to true when unset.
func (i *IngestConfig) RecursiveOrDefault() bool {
	if i.Recursive != nil {
		return *i.Recursive
	}
	return true
}

// Load reads and parses the config file at path, expands paths, and applies defaults.
// Returns an error if the file cannot be read or parsed, or if the result is invalid.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)

	configDir := filepath.Dir(path)
	cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, configDir)
	cfg.Embedding.ModelPath = expandPath(cfg.Embedding.ModelPath, configDir)
	for i := range cfg.Ingest.Directories {
		cfg.Ingest.Directories[i] = expandPath(cfg.Ingest.Directories[i], configDir)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports settings that cannot work together.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "sqlite3", "sqlite":
	default:
		return fmt.Errorf("invalid config: storage.driver %q (supported: sqlite3, sqlite)", c.Storage.Driver)
	}
	switch c.Embedding.Provider {
	case "hashing", "mock", "onnx":
	default:
		return fmt.Errorf("invalid config: embedding.provider %q (supported: hashing, mock, onnx)", c.Embedding.Provider)
	}
	if c.Embedding.Dimensions <= 0 {
		return fmt.Errorf("invalid config: embedding.dimensions must be positive")
	}
	if c.Search.DefaultTopK > c.Search.MaxTopK {
		return fmt.Errorf("invalid config: search.default_top_k (%d) exceeds search.max_top_k (%d)",
			c.Search.DefaultTopK, c.Search.MaxTopK)
	}
	if c.Ingest.OverlapWords >= c.Ingest.MaxWords {
		return fmt.Errorf("invalid config: ingest.overlap_words must be smaller than ingest.max_words")
	}
	return nil
}

// Save writes the config to path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
