package embedding

import (
	"context"

	"github.com/cespare/xxhash/v2"

	"github.com/hyperjump/mneme/pkg/utils"
)

const bigramWeight = 0.5

// HashingEmbedder maps text into a vector space with the hashing trick:
// every lowercase term and adjacent term pair is hashed to a signed bucket.
// Texts sharing vocabulary end up close in L2 distance. It needs no model
// files, which makes it the default provider.
type HashingEmbedder struct {
	dimensions int
}

// NewHashingEmbedder returns a hashing embedder with the given dimensions.
func NewHashingEmbedder(dimensions int) *HashingEmbedder {
	if dimensions <= 0 {
		dimensions = 384
	}
	return &HashingEmbedder{dimensions: dimensions}
}

// Embed returns the unit-normalized feature vector for text.
// Non-empty text without any terms embeds to the zero vector.
func (e *HashingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if text == "" {
		return nil, ErrEmptyText
	}
	emb := make([]float32, e.dimensions)
	terms := Terms(text)
	for i, term := range terms {
		e.accumulate(emb, term, 1)
		if i > 0 {
			e.accumulate(emb, terms[i-1]+" "+term, bigramWeight)
		}
	}
	utils.NormalizeL2(emb)
	return emb, nil
}

func (e *HashingEmbedder) accumulate(emb []float32, feature string, weight float32) {
	h := xxhash.Sum64String(feature)
	bucket := h % uint64(e.dimensions)
	if h>>63 == 1 {
		weight = -weight
	}
	emb[bucket] += weight
}

// Dimensions returns the embedding dimension.
func (e *HashingEmbedder) Dimensions() int {
	return e.dimensions
}

// Close is a no-op.
func (e *HashingEmbedder) Close() error {
	return nil
}
