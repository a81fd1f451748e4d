package vector

import (
	"fmt"
	"math"
	"sort"
)

// FlatIndex is an exact brute-force index using squared Euclidean distance.
// Vectors are stored contiguously in one slice.
type FlatIndex struct {
	dimensions int
	data       []float32
	n          int
}

// NewFlatIndex creates an empty flat index with the given dimension.
func NewFlatIndex(dimensions int) (*FlatIndex, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	return &FlatIndex{dimensions: dimensions}, nil
}

// Type returns the index type identifier.
func (f *FlatIndex) Type() string {
	return string(IndexTypeFlat)
}

// Insert copies vec to the end of the index.
func (f *FlatIndex) Insert(vec []float32) (uint32, error) {
	if len(vec) != f.dimensions {
		return 0, fmt.Errorf("%w: got %d, expected %d", ErrDimensionMismatch, len(vec), f.dimensions)
	}
	if uint64(f.n) >= math.MaxUint32 {
		return 0, fmt.Errorf("index full: %d vectors", f.n)
	}
	slot := uint32(f.n)
	f.data = append(f.data, vec...)
	f.n++
	return slot, nil
}

// Query scans every stored vector and returns the k closest.
func (f *FlatIndex) Query(vec []float32, k int) ([]Neighbor, error) {
	if len(vec) != f.dimensions {
		return nil, fmt.Errorf("%w: got %d, expected %d", ErrDimensionMismatch, len(vec), f.dimensions)
	}
	if k <= 0 || f.n == 0 {
		return []Neighbor{}, nil
	}
	all := make([]Neighbor, f.n)
	for i := 0; i < f.n; i++ {
		off := i * f.dimensions
		all[i] = Neighbor{
			Slot:     uint32(i),
			Distance: SquaredL2(vec, f.data[off:off+f.dimensions]),
		}
	}
	sort.SliceStable(all, func(a, b int) bool {
		if all[a].Distance != all[b].Distance {
			return all[a].Distance < all[b].Distance
		}
		return all[a].Slot < all[b].Slot
	})
	if k > len(all) {
		k = len(all)
	}
	return all[:k:k], nil
}

// Vector returns a copy of the vector stored at slot.
func (f *FlatIndex) Vector(slot uint32) ([]float32, bool) {
	if int(slot) >= f.n {
		return nil, false
	}
	off := int(slot) * f.dimensions
	out := make([]float32, f.dimensions)
	copy(out, f.data[off:off+f.dimensions])
	return out, true
}

// Size returns the number of vectors in the index.
func (f *FlatIndex) Size() int {
	return f.n
}

// Dimensions returns the vector dimension.
func (f *FlatIndex) Dimensions() int {
	return f.dimensions
}

// Reset empties the index.
func (f *FlatIndex) Reset() {
	f.data = nil
	f.n = 0
}
