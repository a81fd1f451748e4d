// Package memory implements the vector memory engine: it keeps the durable record
// store, the slot -> id map and the in-memory similarity index consistent, and
// answers similarity queries against them.
package memory

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/hyperjump/mneme/internal/embedding"
	"github.com/hyperjump/mneme/internal/idmap"
	"github.com/hyperjump/mneme/internal/models"
	"github.com/hyperjump/mneme/internal/storage"
	"github.com/hyperjump/mneme/internal/vector"
)

// State is the engine lifecycle state.
type State int32

const (
	StateUninitialized State = iota
	StateReady
)

func (s State) String() string {
	switch s {
	case StateReady:
		return "ready"
	default:
		return "uninitialized"
	}
}

const (
	defaultReplayRetries = 3
	defaultReplayBackoff = 200 * time.Millisecond
)

// Engine owns the similarity index and identity map and coordinates them with the
// record store. Add and Replay hold the write lock; Search holds the read lock.
type Engine struct {
	store    storage.RecordStore
	embedder embedding.Embedder
	index    vector.Index

	mu          sync.RWMutex
	ids         *idmap.Map
	state       State
	needsReplay bool

	logger        *zap.Logger
	metrics       *Metrics
	replayRetries int
	replayBackoff time.Duration
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger. Default is a no-op logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithMetrics enables Prometheus metrics.
func WithMetrics(m *Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithReplayRetries sets how many times a failed store scan is retried during Replay.
func WithReplayRetries(n int) Option {
	return func(e *Engine) {
		if n >= 0 {
			e.replayRetries = n
		}
	}
}

// WithReplayBackoff sets the delay before the first replay retry; it doubles on each retry.
func WithReplayBackoff(d time.Duration) Option {
	return func(e *Engine) {
		if d >= 0 {
			e.replayBackoff = d
		}
	}
}

// NewEngine returns an uninitialized engine. Call Replay before Add or Search.
func NewEngine(store storage.RecordStore, embedder embedding.Embedder, index vector.Index, opts ...Option) (*Engine, error) {
	if store == nil || embedder == nil || index == nil {
		return nil, errors.New("memory: store, embedder and index are required")
	}
	if embedder.Dimensions() != index.Dimensions() {
		return nil, fmt.Errorf("%w: embedder produces %d dimensions, index expects %d",
			ErrDimensionMismatch, embedder.Dimensions(), index.Dimensions())
	}
	e := &Engine{
		store:         store,
		embedder:      embedder,
		index:         index,
		ids:           idmap.New(0),
		logger:        zap.NewNop(),
		replayRetries: defaultReplayRetries,
		replayBackoff: defaultReplayBackoff,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Replay rebuilds the index and identity map from every record in the store, in id
// order, and moves the engine to StateReady. A failed scan is retried from scratch;
// a record whose vector has the wrong dimension fails immediately. On failure the
// engine is left uninitialized with an empty index.
func (e *Engine) Replay(ctx context.Context) (err error) {
	ctx, span := tracer.Start(ctx, "memory.Replay")
	start := time.Now()
	defer func() {
		e.metrics.observe("replay", start, err)
		endSpan(span, err)
	}()

	e.mu.Lock()
	defer e.mu.Unlock()

	backoff := e.replayBackoff
	for attempt := 0; ; attempt++ {
		err = e.replayOnce(ctx)
		e.metrics.replayAttempt(err)
		if err == nil {
			break
		}
		e.logger.Warn("replay attempt failed",
			zap.Int("attempt", attempt+1),
			zap.String("kind", Kind(err)),
			zap.Error(err))
		if attempt >= e.replayRetries || !errors.Is(err, ErrStorage) {
			e.resetLocked()
			return err
		}
		select {
		case <-ctx.Done():
			e.resetLocked()
			return fmt.Errorf("%w: %w", ErrStorage, ctx.Err())
		case <-time.After(backoff):
		}
		backoff *= 2
	}

	e.state = StateReady
	e.needsReplay = false
	e.metrics.setIndexSize(e.index.Size())
	span.SetAttributes(attribute.Int("mneme.records", e.index.Size()))
	e.logger.Info("replay complete",
		zap.Int("records", e.index.Size()),
		zap.Int("dimensions", e.index.Dimensions()),
		zap.Duration("took", time.Since(start)))
	return nil
}

func (e *Engine) replayOnce(ctx context.Context) error {
	e.resetLocked()
	dim := e.index.Dimensions()
	var lastID int64
	err := e.store.ScanAll(ctx, func(rec *models.Record) error {
		if len(rec.Vector) != dim {
			return fmt.Errorf("%w: record %d has %d dimensions, index expects %d",
				ErrDimensionMismatch, rec.ID, len(rec.Vector), dim)
		}
		if rec.ID <= lastID {
			return fmt.Errorf("%w: record ids out of order (%d after %d)", ErrCorruptIndex, rec.ID, lastID)
		}
		lastID = rec.ID
		slot, err := e.index.Insert(rec.Vector)
		if err != nil {
			return fmt.Errorf("%w: insert record %d: %w", ErrCorruptIndex, rec.ID, err)
		}
		if got := e.ids.Extend(rec.ID); got != slot {
			return fmt.Errorf("%w: record %d got slot %d in index but %d in map", ErrCorruptIndex, rec.ID, slot, got)
		}
		return nil
	})
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrDimensionMismatch) || errors.Is(err, ErrCorruptIndex) {
		return err
	}
	if errors.Is(err, storage.ErrCorruptVector) {
		return fmt.Errorf("%w: %w", ErrDimensionMismatch, err)
	}
	return fmt.Errorf("%w: %w", ErrStorage, err)
}

// embedError classifies an embedder failure. Text the provider refuses is invalid input.
func embedError(err error) error {
	if errors.Is(err, embedding.ErrEmptyText) {
		return fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	return fmt.Errorf("%w: %w", ErrEmbedding, err)
}

// resetLocked empties the index and map and marks the engine uninitialized.
func (e *Engine) resetLocked() {
	e.index.Reset()
	e.ids.Rebuild(nil)
	e.state = StateUninitialized
}

// Add embeds text, stores it and makes it searchable. It returns the record id.
//
// Failures before the store append leave nothing behind. If the append succeeds but
// the index insert does not, the record is durable but not searchable: Add returns
// ErrCorruptIndex and the engine reports NeedsReplay until the next Replay.
func (e *Engine) Add(ctx context.Context, text string) (id int64, err error) {
	ctx, span := tracer.Start(ctx, "memory.Add")
	start := time.Now()
	defer func() {
		e.metrics.observe("add", start, err)
		endSpan(span, err)
	}()

	if !e.Ready() {
		return 0, ErrNotReady
	}
	if text == "" {
		return 0, fmt.Errorf("%w: text must not be empty", ErrInvalidInput)
	}

	vec, err := e.embedder.Embed(ctx, text)
	if err != nil {
		return 0, embedError(err)
	}
	if len(vec) != e.index.Dimensions() {
		return 0, fmt.Errorf("%w: embedding has %d dimensions, index expects %d",
			ErrDimensionMismatch, len(vec), e.index.Dimensions())
	}

	// The write lock spans append through extend so that id order and slot order agree.
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != StateReady {
		return 0, ErrNotReady
	}

	id, err = e.store.Append(ctx, text, vec)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrStorage, err)
	}

	slot, err := e.index.Insert(vec)
	if err != nil {
		e.needsReplay = true
		e.logger.Error("record stored but not indexed; replay required",
			zap.Int64("id", id), zap.Error(err))
		return id, fmt.Errorf("%w: insert record %d: %w", ErrCorruptIndex, id, err)
	}
	if got := e.ids.Extend(id); got != slot {
		e.needsReplay = true
		e.logger.Error("index and identity map diverged; replay required",
			zap.Int64("id", id), zap.Uint32("index_slot", slot), zap.Uint32("map_slot", got))
		return id, fmt.Errorf("%w: record %d got slot %d in index but %d in map", ErrCorruptIndex, id, slot, got)
	}

	e.metrics.setIndexSize(e.index.Size())
	span.SetAttributes(attribute.Int64("mneme.record_id", id))
	e.logger.Debug("memory added", zap.Int64("id", id), zap.Uint32("slot", slot))
	return id, nil
}

// Search returns up to k stored texts nearest to query, ordered by ascending distance.
// Relevance is computed over the k nearest neighbors before threshold filtering; when
// threshold is non-nil, hits with distance greater than *threshold are dropped.
func (e *Engine) Search(ctx context.Context, query string, k int, threshold *float64) (hits []models.SearchHit, err error) {
	ctx, span := tracer.Start(ctx, "memory.Search")
	start := time.Now()
	defer func() {
		e.metrics.observe("search", start, err)
		endSpan(span, err)
	}()

	if !e.Ready() {
		return nil, ErrNotReady
	}
	if query == "" {
		return nil, fmt.Errorf("%w: query must not be empty", ErrInvalidInput)
	}
	if k <= 0 {
		return nil, fmt.Errorf("%w: k must be positive, got %d", ErrInvalidInput, k)
	}
	if threshold != nil && math.IsNaN(*threshold) {
		return nil, fmt.Errorf("%w: threshold is NaN", ErrInvalidInput)
	}
	span.SetAttributes(attribute.Int("mneme.k", k))

	vec, err := e.embedder.Embed(ctx, query)
	if err != nil {
		return nil, embedError(err)
	}
	if len(vec) != e.index.Dimensions() {
		return nil, fmt.Errorf("%w: embedding has %d dimensions, index expects %d",
			ErrDimensionMismatch, len(vec), e.index.Dimensions())
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.state != StateReady {
		return nil, ErrNotReady
	}

	neighbors, err := e.index.Query(vec, k)
	if err != nil {
		if errors.Is(err, vector.ErrDimensionMismatch) {
			return nil, fmt.Errorf("%w: %w", ErrDimensionMismatch, err)
		}
		return nil, fmt.Errorf("%w: %w", ErrCorruptIndex, err)
	}

	distances := make([]float32, len(neighbors))
	for i, n := range neighbors {
		distances[i] = n.Distance
	}
	relevance := Relevance(distances)

	hits = make([]models.SearchHit, 0, len(neighbors))
	for i, n := range neighbors {
		if threshold != nil && float64(n.Distance) > *threshold {
			continue
		}
		id, err := e.ids.Resolve(n.Slot)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrCorruptIndex, err)
		}
		rec, err := e.store.Get(ctx, id)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return nil, fmt.Errorf("%w: slot %d maps to missing record %d", ErrCorruptIndex, n.Slot, id)
			}
			if errors.Is(err, storage.ErrCorruptVector) {
				return nil, fmt.Errorf("%w: %w", ErrDimensionMismatch, err)
			}
			return nil, fmt.Errorf("%w: %w", ErrStorage, err)
		}
		hits = append(hits, models.SearchHit{
			ID:        id,
			Text:      rec.Text,
			Distance:  n.Distance,
			Relevance: relevance[i],
		})
	}

	span.SetAttributes(attribute.Int("mneme.hits", len(hits)))
	return hits, nil
}

// Ready reports whether the engine has completed a replay.
func (e *Engine) Ready() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state == StateReady
}

// Stats is a point-in-time view of the engine.
type Stats struct {
	State       string `json:"state"`
	IndexSize   int    `json:"index_size"`
	MapSize     int    `json:"map_size"`
	Dimensions  int    `json:"dimensions"`
	IndexType   string `json:"index_type"`
	NeedsReplay bool   `json:"needs_replay"`
}

// Stats returns the current engine statistics.
func (e *Engine) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return Stats{
		State:       e.state.String(),
		IndexSize:   e.index.Size(),
		MapSize:     e.ids.Len(),
		Dimensions:  e.index.Dimensions(),
		IndexType:   e.index.Type(),
		NeedsReplay: e.needsReplay,
	}
}

// Close closes the embedder and the store.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = StateUninitialized
	return errors.Join(e.embedder.Close(), e.store.Close())
}
