// Package embedding turns text into fixed-dimension float32 vectors.
package embedding

import (
	"context"
	"errors"
)

// ErrEmptyText is returned when asked to embed the empty string.
var ErrEmptyText = errors.New("embedding: empty text")

// Embedder produces vector embeddings for text. Implementations must be
// deterministic for a given configuration and safe for concurrent use.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
	Close() error
}
