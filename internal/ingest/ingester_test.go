package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/mneme/internal/config"
	"github.com/hyperjump/mneme/internal/storage"
)

type fakeAdder struct {
	mu     sync.Mutex
	texts  []string
	failAt int // 1-based call number that fails; 0 never
	calls  int
}

func (f *fakeAdder) Add(_ context.Context, text string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failAt > 0 && f.calls == f.failAt {
		return 0, errors.New("engine unavailable")
	}
	f.texts = append(f.texts, text)
	return int64(len(f.texts)), nil
}

func (f *fakeAdder) added() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.texts...)
}

func newLedger(t *testing.T) *storage.SQLiteStorage {
	t.Helper()
	s, err := storage.NewSQLiteStorage(filepath.Join(t.TempDir(), "memory.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func ingestConfig(dirs ...string) config.IngestConfig {
	return config.IngestConfig{
		Directories:  dirs,
		Extensions:   []string{".txt", ".md"},
		MaxWords:     200,
		OverlapWords: 20,
	}
}

func TestIngestFile_AddsParagraphsOnce(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notes.md")
	require.NoError(t, os.WriteFile(path, []byte("Dentist on Friday.\n\nWifi password is hunter2.\n"), 0600))

	adder := &fakeAdder{}
	in := New(adder, newLedger(t), ingestConfig(dir))
	ctx := context.Background()

	n, err := in.IngestFile(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"Dentist on Friday.", "Wifi password is hunter2."}, adder.added())

	n, err = in.IngestFile(ctx, path)
	require.NoError(t, err)
	assert.Zero(t, n, "unchanged file must not be added again")
	assert.Len(t, adder.added(), 2)

	require.NoError(t, os.WriteFile(path, []byte("Dentist moved to Monday.\n"), 0600))
	n, err = in.IngestFile(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, "Dentist moved to Monday.", adder.added()[2])
}

func TestIngestFile_FailureIsRetried(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("one\n\ntwo\n\nthree"), 0600))

	adder := &fakeAdder{failAt: 2}
	ledger := newLedger(t)
	in := New(adder, ledger, ingestConfig(dir))
	ctx := context.Background()

	n, err := in.IngestFile(ctx, path)
	require.Error(t, err)
	assert.Equal(t, 1, n)
	_, ok, err := ledger.IngestedDigest(ctx, path)
	require.NoError(t, err)
	assert.False(t, ok, "a failed file must not be marked as ingested")

	n, err = in.IngestFile(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestIngestFile_Missing(t *testing.T) {
	in := New(&fakeAdder{}, newLedger(t), ingestConfig())
	_, err := in.IngestFile(context.Background(), filepath.Join(t.TempDir(), "gone.txt"))
	assert.Error(t, err)
}

func TestRun_IngestsExistingAndNewFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "existing.txt"), []byte("already here"), 0600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "image.png"), []byte("\x89PNG"), 0600))

	adder := &fakeAdder{}
	in := New(adder, newLedger(t), ingestConfig(dir), WithFileDebounce(20*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- in.Run(ctx) }()

	require.True(t, waitFor(t, func() bool { return len(adder.added()) == 1 }), "existing file not ingested")

	require.NoError(t, os.WriteFile(filepath.Join(dir, "later.txt"), []byte("dropped in later"), 0600))
	require.True(t, waitFor(t, func() bool { return len(adder.added()) == 2 }), "new file not ingested: %v", adder.added())
	assert.ElementsMatch(t, []string{"already here", "dropped in later"}, adder.added())

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRun_NoDirectoriesWaitsForCancel(t *testing.T) {
	in := New(&fakeAdder{}, newLedger(t), config.IngestConfig{})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.NoError(t, in.Run(ctx))
}
