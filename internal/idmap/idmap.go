// Package idmap maps similarity-index slots to record store ids.
//
// Slots are dense and assigned in insertion order, so the map is an append-only slice:
// the entry at position i is the id stored in slot i. There is no way to write an
// arbitrary slot, which keeps the slot space free of gaps and reuse.
package idmap

import (
	"errors"
	"fmt"
	"math"
)

// ErrOutOfRange is returned by Resolve for a slot that has no entry.
var ErrOutOfRange = errors.New("slot out of range")

// Map is the slot -> id mapping. The zero value is an empty map ready to use.
// Map is not safe for concurrent mutation.
type Map struct {
	ids []int64
}

// New returns an empty map with room for capacity entries.
func New(capacity int) *Map {
	return &Map{ids: make([]int64, 0, capacity)}
}

// Rebuild discards every entry and assigns slot i to ids[i].
func (m *Map) Rebuild(ids []int64) {
	m.ids = append(make([]int64, 0, len(ids)), ids...)
}

// Extend appends id at the next free slot and returns that slot.
func (m *Map) Extend(id int64) uint32 {
	if uint64(len(m.ids)) >= math.MaxUint32 {
		panic("idmap: slot space exhausted")
	}
	m.ids = append(m.ids, id)
	return uint32(len(m.ids) - 1)
}

// Resolve returns the id stored for slot.
func (m *Map) Resolve(slot uint32) (int64, error) {
	if int(slot) >= len(m.ids) {
		return 0, fmt.Errorf("%w: slot %d, size %d", ErrOutOfRange, slot, len(m.ids))
	}
	return m.ids[slot], nil
}

// Len returns the number of mapped slots.
func (m *Map) Len() int {
	return len(m.ids)
}

// IDs returns a copy of the ids in slot order.
func (m *Map) IDs() []int64 {
	return append([]int64(nil), m.ids...)
}
