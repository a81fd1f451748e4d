package models

import "fmt"

const (
	// DefaultTopK is the number of results returned when top_k is omitted.
	DefaultTopK = 5
	// MaxTopK caps top_k when no other limit is configured.
	MaxTopK = 100
)

// SearchQuery represents a search request.
type SearchQuery struct {
	Query string `json:"query"`
	TopK  int    `json:"top_k,omitempty"`
	// Threshold drops hits whose squared L2 distance is greater than the value. Nil means no filtering.
	Threshold     *float64 `json:"threshold,omitempty"`
	IncludeScores bool     `json:"include_scores,omitempty"`
}

// Validate ensures the search query has valid fields and sets defaults.
// defaultTopK and maxTopK fall back to DefaultTopK and MaxTopK when not positive.
func (q *SearchQuery) Validate(defaultTopK, maxTopK int) error {
	if q.Query == "" {
		return fmt.Errorf("query cannot be empty")
	}
	if defaultTopK <= 0 {
		defaultTopK = DefaultTopK
	}
	if maxTopK <= 0 {
		maxTopK = MaxTopK
	}
	if q.TopK < 0 {
		return fmt.Errorf("top_k must not be negative")
	}
	if q.TopK == 0 {
		q.TopK = defaultTopK
	}
	if q.TopK > maxTopK {
		q.TopK = maxTopK
	}
	if q.Threshold != nil && *q.Threshold < 0 {
		return fmt.Errorf("threshold must not be negative")
	}
	return nil
}
