package embedding

import (
	"fmt"

	"github.com/hyperjump/mneme/internal/config"
)

// Provider names accepted by New.
const (
	ProviderHashing = "hashing"
	ProviderMock    = "mock"
	ProviderONNX    = "onnx"
)

// New builds the embedder described by cfg, wrapped in a CachedEmbedder when
// cfg.CacheSize is positive.
func New(cfg config.EmbeddingConfig) (Embedder, error) {
	var inner Embedder
	switch cfg.Provider {
	case ProviderHashing, "":
		inner = NewHashingEmbedder(cfg.Dimensions)
	case ProviderMock:
		inner = NewMockEmbedder(cfg.Dimensions)
	case ProviderONNX:
		e, err := NewONNXEmbedder(cfg.ModelPath, cfg.Dimensions, cfg.MaxTokens)
		if err != nil {
			return nil, err
		}
		inner = e
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}

	if cfg.CacheSize <= 0 {
		return inner, nil
	}
	cached, err := NewCachedEmbedder(inner, cfg.CacheSize)
	if err != nil {
		_ = inner.Close()
		return nil, err
	}
	return cached, nil
}
