// Package models defines core data structures for memory records, queries, and search results.
package models

import "time"

// Record is a single stored memory. ID is assigned by the record store and never reused.
type Record struct {
	ID        int64     `json:"id" db:"id"`
	Text      string    `json:"text" db:"text"`
	Vector    []float32 `json:"-" db:"embedding"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Dimensions returns the length of the record's vector.
func (r *Record) Dimensions() int {
	return len(r.Vector)
}

// AddRequest is the body of POST /add.
type AddRequest struct {
	Text string `json:"text"`
}

// AddResponse is returned after a text was stored.
type AddResponse struct {
	Message string `json:"message"`
	ID      int64  `json:"id"`
}
