package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/hyperjump/mneme/internal/models"
	"github.com/hyperjump/mneme/internal/storage"
)

var errDiskFull = errors.New("disk full")

// memStore is an in-memory RecordStore with fault injection.
type memStore struct {
	mu        sync.Mutex
	records   []*models.Record
	nextID    int64
	appendErr error
	getErr    error
	scanFails int // number of ScanAll calls that fail before succeeding
	scans     int
}

func newMemStore() *memStore {
	return &memStore{nextID: 1}
}

func (s *memStore) Append(_ context.Context, text string, vec []float32) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.appendErr != nil {
		return 0, s.appendErr
	}
	rec := &models.Record{ID: s.nextID, Text: text, Vector: append([]float32(nil), vec...)}
	s.nextID++
	s.records = append(s.records, rec)
	return rec.ID, nil
}

// seed inserts a record directly, bypassing the engine.
func (s *memStore) seed(text string, vec ...float32) int64 {
	id, _ := s.Append(context.Background(), text, vec)
	return id
}

func (s *memStore) ScanAll(ctx context.Context, fn func(*models.Record) error) error {
	s.mu.Lock()
	s.scans++
	fail := s.scans <= s.scanFails
	records := append([]*models.Record(nil), s.records...)
	s.mu.Unlock()

	for i, rec := range records {
		if fail && i == len(records)/2 {
			return fmt.Errorf("read row: %w", errDiskFull)
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	if fail {
		return fmt.Errorf("read row: %w", errDiskFull)
	}
	return nil
}

func (s *memStore) Get(_ context.Context, id int64) (*models.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return nil, s.getErr
	}
	for _, rec := range s.records {
		if rec.ID == id {
			return rec, nil
		}
	}
	return nil, fmt.Errorf("record %d: %w", id, storage.ErrNotFound)
}

// remove deletes a record behind the engine's back.
func (s *memStore) remove(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, rec := range s.records {
		if rec.ID == id {
			s.records = append(s.records[:i], s.records[i+1:]...)
			return
		}
	}
}

func (s *memStore) Count(context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.records)), nil
}

func (s *memStore) Close() error { return nil }

// tableEmbedder returns fixed vectors per text and fails for unknown texts.
type tableEmbedder struct {
	dim     int
	vectors map[string][]float32
	err     error
}

func (e *tableEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	v, ok := e.vectors[text]
	if !ok {
		return nil, fmt.Errorf("no vector for %q", text)
	}
	return append([]float32(nil), v...), nil
}

func (e *tableEmbedder) Dimensions() int { return e.dim }
func (e *tableEmbedder) Close() error    { return nil }
