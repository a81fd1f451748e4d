package memory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/mneme/internal/embedding"
	"github.com/hyperjump/mneme/internal/storage"
	"github.com/hyperjump/mneme/internal/vector"
)

// failingIndex wraps a FlatIndex and fails Insert on demand.
type failingIndex struct {
	*vector.FlatIndex
	insertErr error
}

func (f *failingIndex) Insert(vec []float32) (uint32, error) {
	if f.insertErr != nil {
		return 0, f.insertErr
	}
	return f.FlatIndex.Insert(vec)
}

func planarEmbedder() *tableEmbedder {
	return &tableEmbedder{dim: 2, vectors: map[string][]float32{
		"origin": {0, 0},
		"near":   {1, 2},
		"far":    {2, 4},
		"other":  {3, 0},
		"wide":   {1, 2, 3},
	}}
}

func newTestEngine(t *testing.T, store *memStore, emb embedding.Embedder, opts ...Option) *Engine {
	t.Helper()
	idx, err := vector.NewFlatIndex(emb.Dimensions())
	require.NoError(t, err)
	opts = append([]Option{WithReplayBackoff(0)}, opts...)
	e, err := NewEngine(store, emb, idx, opts...)
	require.NoError(t, err)
	return e
}

func readyEngine(t *testing.T, store *memStore, emb embedding.Embedder, opts ...Option) *Engine {
	t.Helper()
	e := newTestEngine(t, store, emb, opts...)
	require.NoError(t, e.Replay(context.Background()))
	return e
}

// assertAligned checks the slot -> id bijection against the store.
func assertAligned(t *testing.T, e *Engine, store *memStore) {
	t.Helper()
	e.mu.RLock()
	defer e.mu.RUnlock()

	ids := e.ids.IDs()
	require.Equal(t, e.index.Size(), len(ids), "index size and map length differ")
	flat, ok := e.index.(*vector.FlatIndex)
	if !ok {
		flat = e.index.(*failingIndex).FlatIndex
	}
	seen := make(map[int64]bool, len(ids))
	for slot, id := range ids {
		assert.False(t, seen[id], "id %d mapped twice", id)
		seen[id] = true
		if slot > 0 {
			assert.Greater(t, id, ids[slot-1], "ids must increase with slot")
		}
		rec, err := store.Get(context.Background(), id)
		require.NoError(t, err, "slot %d maps to missing id %d", slot, id)
		vec, ok := flat.Vector(uint32(slot))
		require.True(t, ok)
		assert.Equal(t, rec.Vector, vec, "slot %d holds a different vector than record %d", slot, id)
	}
}

func TestNewEngine_RejectsDimensionMismatch(t *testing.T) {
	idx, err := vector.NewFlatIndex(3)
	require.NoError(t, err)
	_, err = NewEngine(newMemStore(), planarEmbedder(), idx)
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestEngine_NotReady(t *testing.T) {
	store := newMemStore()
	e := newTestEngine(t, store, planarEmbedder())
	ctx := context.Background()

	_, err := e.Add(ctx, "origin")
	assert.ErrorIs(t, err, ErrNotReady)
	_, err = e.Search(ctx, "origin", 5, nil)
	assert.ErrorIs(t, err, ErrNotReady)

	n, _ := store.Count(ctx)
	assert.Zero(t, n, "rejected add must not write")
	assert.Equal(t, "uninitialized", e.Stats().State)
	assert.False(t, e.Ready())
}

func TestEngine_ReplayEmptyStore(t *testing.T) {
	e := readyEngine(t, newMemStore(), planarEmbedder())
	assert.True(t, e.Ready())

	hits, err := e.Search(context.Background(), "origin", 5, nil)
	require.NoError(t, err)
	assert.NotNil(t, hits)
	assert.Empty(t, hits)

	s := e.Stats()
	assert.Equal(t, Stats{State: "ready", Dimensions: 2, IndexType: "flat"}, s)
}

func TestEngine_ReplayBuildsBijection(t *testing.T) {
	store := newMemStore()
	store.seed("a", 0, 0)
	store.seed("b", 1, 2)
	store.seed("c", 2, 4)

	e := readyEngine(t, store, planarEmbedder())
	assert.Equal(t, []int64{1, 2, 3}, e.ids.IDs())
	assertAligned(t, e, store)
}

func TestEngine_ReplayIsIdempotent(t *testing.T) {
	store := newMemStore()
	for i := 0; i < 10; i++ {
		store.seed(fmt.Sprintf("r%d", i), float32(i), float32(-i))
	}
	e := readyEngine(t, store, planarEmbedder())
	first := e.ids.IDs()

	require.NoError(t, e.Replay(context.Background()))
	assert.Equal(t, first, e.ids.IDs())
	assert.Equal(t, 10, e.Stats().IndexSize)
	assertAligned(t, e, store)
}

func TestEngine_ReplayRejectsMixedDimensions(t *testing.T) {
	store := newMemStore()
	store.seed("ok", 1, 2)
	store.seed("bad", 1, 2, 3)

	e := newTestEngine(t, store, planarEmbedder())
	err := e.Replay(context.Background())
	require.ErrorIs(t, err, ErrDimensionMismatch)
	assert.Equal(t, 1, store.scans, "dimension mismatch must not be retried")

	assert.False(t, e.Ready())
	assert.Zero(t, e.Stats().IndexSize)
	assert.Zero(t, e.Stats().MapSize)
	_, err = e.Search(context.Background(), "origin", 1, nil)
	assert.ErrorIs(t, err, ErrNotReady)
}

func TestEngine_ReplayCorruptBlobIsNotRetried(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "memory.db")
	store, err := storage.NewSQLiteStorage(dbPath)
	require.NoError(t, err)
	defer store.Close()

	raw, err := sql.Open(storage.DriverCGO, dbPath)
	require.NoError(t, err)
	_, err = raw.Exec(`INSERT INTO memory (text, embedding) VALUES ('broken', x'0102')`)
	require.NoError(t, err)
	require.NoError(t, raw.Close())

	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	emb := embedding.NewHashingEmbedder(2)
	idx, err := vector.NewFlatIndex(2)
	require.NoError(t, err)
	e, err := NewEngine(store, emb, idx, WithMetrics(m), WithReplayRetries(3), WithReplayBackoff(0))
	require.NoError(t, err)

	err = e.Replay(context.Background())
	require.ErrorIs(t, err, ErrDimensionMismatch)
	assert.ErrorIs(t, err, storage.ErrCorruptVector)
	assert.Equal(t, KindDimensionMismatch, Kind(err))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.replays.WithLabelValues(KindDimensionMismatch)),
		"a corrupt blob must fail on the first attempt")
	assert.False(t, e.Ready())
}

func TestEngine_SearchCorruptBlobIsDimensionMismatch(t *testing.T) {
	store := newMemStore()
	e := readyEngine(t, store, planarEmbedder())
	ctx := context.Background()
	_, err := e.Add(ctx, "origin")
	require.NoError(t, err)

	store.getErr = fmt.Errorf("record 1: %w", storage.ErrCorruptVector)
	_, err = e.Search(ctx, "origin", 1, nil)
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestEngine_ReplayRetriesScanFailures(t *testing.T) {
	store := newMemStore()
	for i := 0; i < 4; i++ {
		store.seed(fmt.Sprintf("r%d", i), float32(i), 0)
	}
	store.scanFails = 2

	e := newTestEngine(t, store, planarEmbedder(), WithReplayRetries(3))
	require.NoError(t, e.Replay(context.Background()))
	assert.Equal(t, 3, store.scans)
	assert.Equal(t, 4, e.Stats().IndexSize, "failed attempts must not leave duplicates")
	assertAligned(t, e, store)
}

func TestEngine_ReplayGivesUpAfterRetries(t *testing.T) {
	store := newMemStore()
	store.seed("r", 1, 1)
	store.scanFails = 10

	e := newTestEngine(t, store, planarEmbedder(), WithReplayRetries(2))
	err := e.Replay(context.Background())
	require.ErrorIs(t, err, ErrStorage)
	assert.ErrorIs(t, err, errDiskFull)
	assert.Equal(t, 3, store.scans)
	assert.False(t, e.Ready())
}

func TestEngine_AddThenSearchRoundTrip(t *testing.T) {
	store := newMemStore()
	e := readyEngine(t, store, planarEmbedder())
	ctx := context.Background()

	for _, text := range []string{"far", "origin", "near"} {
		_, err := e.Add(ctx, text)
		require.NoError(t, err)
	}
	id, err := e.Add(ctx, "other")
	require.NoError(t, err)
	assert.Equal(t, int64(4), id)

	hits, err := e.Search(ctx, "other", 1, nil)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "other", hits[0].Text)
	assert.Equal(t, id, hits[0].ID)
	assert.Zero(t, hits[0].Distance)
	assert.Equal(t, 100.0, hits[0].Relevance)
	assertAligned(t, e, store)
}

func TestEngine_SearchOrderingAndRelevance(t *testing.T) {
	store := newMemStore()
	e := readyEngine(t, store, planarEmbedder())
	ctx := context.Background()
	for _, text := range []string{"far", "other", "near", "origin"} {
		_, err := e.Add(ctx, text)
		require.NoError(t, err)
	}

	hits, err := e.Search(ctx, "origin", 10, nil)
	require.NoError(t, err)
	require.Len(t, hits, 4)

	var texts []string
	for i, h := range hits {
		texts = append(texts, h.Text)
		if i > 0 {
			assert.GreaterOrEqual(t, h.Distance, hits[i-1].Distance)
			assert.LessOrEqual(t, h.Relevance, hits[i-1].Relevance)
		}
	}
	// origin=0, near=5, other=9, far=20
	assert.Equal(t, []string{"origin", "near", "other", "far"}, texts)
	assert.Equal(t, 100.0, hits[0].Relevance)
	assert.Equal(t, 0.0, hits[3].Relevance)
}

func TestEngine_SearchThresholdAfterNormalization(t *testing.T) {
	store := newMemStore()
	e := readyEngine(t, store, planarEmbedder())
	ctx := context.Background()
	for _, text := range []string{"origin", "near", "far"} {
		_, err := e.Add(ctx, text)
		require.NoError(t, err)
	}

	threshold := 10.0
	hits, err := e.Search(ctx, "origin", 3, &threshold)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, float32(0), hits[0].Distance)
	assert.Equal(t, float32(5), hits[1].Distance)
	assert.InDelta(t, 100.0, hits[0].Relevance, 1e-9)
	assert.InDelta(t, 75.0, hits[1].Relevance, 1e-9, "relevance is computed before the far hit is dropped")
}

func TestEngine_SearchKLargerThanIndex(t *testing.T) {
	store := newMemStore()
	e := readyEngine(t, store, planarEmbedder())
	_, err := e.Add(context.Background(), "near")
	require.NoError(t, err)

	hits, err := e.Search(context.Background(), "origin", 50, nil)
	require.NoError(t, err)
	assert.Len(t, hits, 1)
}

func TestEngine_InvalidInput(t *testing.T) {
	store := newMemStore()
	e := readyEngine(t, store, planarEmbedder())
	ctx := context.Background()

	_, err := e.Add(ctx, "")
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = e.Search(ctx, "", 5, nil)
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = e.Search(ctx, "origin", 0, nil)
	assert.ErrorIs(t, err, ErrInvalidInput)

	n, _ := store.Count(ctx)
	assert.Zero(t, n)
}

func TestEngine_WhitespaceTextIsStored(t *testing.T) {
	store := newMemStore()
	e := readyEngine(t, store, embedding.NewHashingEmbedder(8))
	ctx := context.Background()

	id, err := e.Add(ctx, "   \n\t")
	require.NoError(t, err)
	hits, err := e.Search(ctx, " ", 1, nil)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, id, hits[0].ID)
	assert.Equal(t, 100.0, hits[0].Relevance)
}

func TestEngine_EmbedderRefusedTextIsInvalidInput(t *testing.T) {
	store := newMemStore()
	emb := planarEmbedder()
	e := readyEngine(t, store, emb)
	emb.err = fmt.Errorf("tokenizer: %w", embedding.ErrEmptyText)

	_, err := e.Add(context.Background(), "origin")
	require.ErrorIs(t, err, ErrInvalidInput)
	assert.Equal(t, KindInvalidInput, Kind(err))
	_, err = e.Search(context.Background(), "origin", 1, nil)
	assert.ErrorIs(t, err, ErrInvalidInput)

	n, _ := store.Count(context.Background())
	assert.Zero(t, n)
}

func TestEngine_AddEmbeddingFailure(t *testing.T) {
	store := newMemStore()
	emb := planarEmbedder()
	e := readyEngine(t, store, emb)
	emb.err = errors.New("model crashed")

	_, err := e.Add(context.Background(), "origin")
	require.ErrorIs(t, err, ErrEmbedding)
	assert.Equal(t, KindEmbedding, Kind(err))

	n, _ := store.Count(context.Background())
	assert.Zero(t, n)
	assert.Zero(t, e.Stats().IndexSize)
}

func TestEngine_AddDimensionMismatch(t *testing.T) {
	store := newMemStore()
	e := readyEngine(t, store, planarEmbedder())

	_, err := e.Add(context.Background(), "wide")
	require.ErrorIs(t, err, ErrDimensionMismatch)

	n, _ := store.Count(context.Background())
	assert.Zero(t, n, "mismatched vector must not be persisted")
	assert.Zero(t, e.Stats().IndexSize)
}

func TestEngine_AddAppendFailureIsAtomic(t *testing.T) {
	store := newMemStore()
	e := readyEngine(t, store, planarEmbedder())
	ctx := context.Background()
	_, err := e.Add(ctx, "origin")
	require.NoError(t, err)

	store.appendErr = errDiskFull
	_, err = e.Add(ctx, "near")
	require.ErrorIs(t, err, ErrStorage)
	assert.ErrorIs(t, err, errDiskFull)

	s := e.Stats()
	assert.Equal(t, 1, s.IndexSize)
	assert.Equal(t, 1, s.MapSize)
	assertAligned(t, e, store)
}

func TestEngine_IndexInsertFailureNeedsReplay(t *testing.T) {
	store := newMemStore()
	flat, err := vector.NewFlatIndex(2)
	require.NoError(t, err)
	idx := &failingIndex{FlatIndex: flat}
	e, err := NewEngine(store, planarEmbedder(), idx, WithReplayBackoff(0))
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, e.Replay(ctx))

	idx.insertErr = errors.New("out of memory")
	id, err := e.Add(ctx, "near")
	require.ErrorIs(t, err, ErrCorruptIndex)
	assert.Equal(t, int64(1), id)
	assert.True(t, e.Stats().NeedsReplay)
	assert.Equal(t, e.Stats().IndexSize, e.Stats().MapSize)

	n, _ := store.Count(ctx)
	assert.Equal(t, int64(1), n, "record stays durable")

	idx.insertErr = nil
	require.NoError(t, e.Replay(ctx))
	assert.False(t, e.Stats().NeedsReplay)
	hits, err := e.Search(ctx, "near", 1, nil)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "near", hits[0].Text)
	assertAligned(t, e, store)
}

func TestEngine_SearchMissingRecordIsCorruption(t *testing.T) {
	store := newMemStore()
	e := readyEngine(t, store, planarEmbedder())
	ctx := context.Background()
	id, err := e.Add(ctx, "origin")
	require.NoError(t, err)

	store.remove(id)
	_, err = e.Search(ctx, "origin", 1, nil)
	assert.ErrorIs(t, err, ErrCorruptIndex)
}

func TestEngine_SearchStoreFailure(t *testing.T) {
	store := newMemStore()
	e := readyEngine(t, store, planarEmbedder())
	ctx := context.Background()
	_, err := e.Add(ctx, "origin")
	require.NoError(t, err)

	store.getErr = errDiskFull
	_, err = e.Search(ctx, "origin", 1, nil)
	assert.ErrorIs(t, err, ErrStorage)
}

func TestEngine_ConcurrentAddsStayAligned(t *testing.T) {
	store := newMemStore()
	e := readyEngine(t, store, embedding.NewHashingEmbedder(16))
	ctx := context.Background()

	const workers, perWorker = 8, 25
	var wg sync.WaitGroup
	errs := make(chan error, workers*perWorker*2)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				if _, err := e.Add(ctx, fmt.Sprintf("worker %d note %d", w, i)); err != nil {
					errs <- err
				}
				if _, err := e.Search(ctx, fmt.Sprintf("note %d", i), 3, nil); err != nil {
					errs <- err
				}
			}
		}(w)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("unexpected error: %v", err)
	}

	assert.Equal(t, workers*perWorker, e.Stats().IndexSize)
	assertAligned(t, e, store)
}

func TestEngine_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	e := readyEngine(t, newMemStore(), planarEmbedder(), WithMetrics(m))
	ctx := context.Background()

	_, err := e.Add(ctx, "origin")
	require.NoError(t, err)
	_, _ = e.Add(ctx, "")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.operations.WithLabelValues("add", KindOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.operations.WithLabelValues("add", KindInvalidInput)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.indexSize))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.replays.WithLabelValues(KindOK)))
}

func TestEngine_SQLiteRestart(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "memory.db")
	ctx := context.Background()

	open := func() (*Engine, *storage.SQLiteStorage) {
		store, err := storage.NewSQLiteStorage(dbPath)
		require.NoError(t, err)
		emb := embedding.NewHashingEmbedder(256)
		idx, err := vector.NewIndex(string(vector.IndexTypeFlat), 256)
		require.NoError(t, err)
		e, err := NewEngine(store, emb, idx)
		require.NoError(t, err)
		require.NoError(t, e.Replay(ctx))
		return e, store
	}

	e, _ := open()
	for _, text := range []string{
		"the cat sat on the mat",
		"quarterly revenue grew by ten percent",
		"remember to water the tomato plants",
	} {
		_, err := e.Add(ctx, text)
		require.NoError(t, err)
	}
	require.NoError(t, e.Close())

	e, store := open()
	defer e.Close()
	assert.Equal(t, 3, e.Stats().IndexSize)
	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	hits, err := e.Search(ctx, "where did the cat sit", 2, nil)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, "the cat sat on the mat", hits[0].Text)
	assert.Equal(t, int64(1), hits[0].ID)
}
