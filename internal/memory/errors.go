package memory

import "errors"

// Error kinds. Every error returned by Engine wraps exactly one of these, so callers
// can branch with errors.Is and report the kind with Kind.
var (
	ErrInvalidInput      = errors.New("invalid input")
	ErrEmbedding         = errors.New("embedding failed")
	ErrStorage           = errors.New("storage failure")
	ErrDimensionMismatch = errors.New("dimension mismatch")
	ErrCorruptIndex      = errors.New("corrupt index")
	ErrNotReady          = errors.New("engine not ready")
)

// Kind names, stable across releases; used in HTTP error bodies and metric labels.
const (
	KindOK                = "ok"
	KindInvalidInput      = "invalid_input"
	KindEmbedding         = "embedding_error"
	KindStorage           = "storage_error"
	KindDimensionMismatch = "dimension_mismatch"
	KindCorruptIndex      = "corrupt_index"
	KindNotReady          = "not_ready"
	KindInternal          = "internal"
)

// Kind classifies err. It returns KindOK for nil and KindInternal for errors that
// did not come from the engine.
func Kind(err error) string {
	switch {
	case err == nil:
		return KindOK
	case errors.Is(err, ErrNotReady):
		return KindNotReady
	case errors.Is(err, ErrInvalidInput):
		return KindInvalidInput
	case errors.Is(err, ErrDimensionMismatch):
		return KindDimensionMismatch
	case errors.Is(err, ErrEmbedding):
		return KindEmbedding
	case errors.Is(err, ErrCorruptIndex):
		return KindCorruptIndex
	case errors.Is(err, ErrStorage):
		return KindStorage
	default:
		return KindInternal
	}
}
