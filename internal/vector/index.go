// Package vector provides the in-memory similarity index.
package vector

import "errors"

// ErrDimensionMismatch is returned when a vector's length differs from the index dimension.
var ErrDimensionMismatch = errors.New("vector dimension mismatch")

// Index is an append-only sequence of vectors addressed by slot (zero-based insertion position).
// Implementations are not required to be safe for concurrent mutation; callers serialize
// Insert and Reset. Query and Size may run concurrently with each other.
type Index interface {
	// Insert appends vec and returns its slot, which equals the size before the call.
	Insert(vec []float32) (uint32, error)
	// Query returns up to k nearest neighbors of vec ordered by ascending distance,
	// ties broken by ascending slot.
	Query(vec []float32, k int) ([]Neighbor, error)
	Size() int
	Dimensions() int
	// Reset drops every vector; the next Insert gets slot 0.
	Reset()
	Type() string
}

// Neighbor is a single query hit.
type Neighbor struct {
	Slot     uint32
	Distance float32 // squared Euclidean distance, never negative
}
