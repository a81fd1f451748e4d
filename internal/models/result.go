package models

// SearchHit is a single search result: the stored text and its batch-relative relevance (0-100).
type SearchHit struct {
	ID        int64   `json:"id"`
	Text      string  `json:"text"`
	Distance  float32 `json:"distance"`
	Relevance float64 `json:"relevance"`
}

// SearchResponse is the response for POST /search. Results holds the texts in rank order,
// the shape existing clients read. Hits is filled only when scores were requested.
type SearchResponse struct {
	Results   []string    `json:"results"`
	Hits      []SearchHit `json:"hits,omitempty"`
	QueryTime int64       `json:"query_time_ms"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}
