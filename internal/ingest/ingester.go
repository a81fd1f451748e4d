// Package ingest turns files dropped into watched directories into memories.
//
// Each file is extracted to text, split into paragraphs and added through the
// memory engine. A content digest per path is kept in the ingest ledger, so a
// restart or an unchanged rewrite does not add the same text twice.
package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hyperjump/mneme/internal/config"
	"github.com/hyperjump/mneme/internal/extract"
	"github.com/hyperjump/mneme/internal/storage"
)

const queueSize = 256

// Adder stores one text as a memory.
type Adder interface {
	Add(ctx context.Context, text string) (int64, error)
}

// Ingester watches the configured directories and feeds their files to an Adder.
type Ingester struct {
	adder     Adder
	ledger    storage.IngestLedger
	extractor *extract.Extractor
	cfg       config.IngestConfig
	logger    *zap.Logger
	debounce  time.Duration
}

// Option configures an Ingester.
type Option func(*Ingester)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(in *Ingester) {
		if l != nil {
			in.logger = l
		}
	}
}

// WithFileDebounce sets the watcher's quiet period before a changed file is ingested.
func WithFileDebounce(d time.Duration) Option {
	return func(in *Ingester) { in.debounce = d }
}

// New creates an Ingester.
func New(adder Adder, ledger storage.IngestLedger, cfg config.IngestConfig, opts ...Option) *Ingester {
	in := &Ingester{
		adder:     adder,
		ledger:    ledger,
		extractor: extract.NewExtractor(),
		cfg:       cfg,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(in)
	}
	return in
}

// Run ingests the files already present, then every file created or modified
// until ctx is cancelled. Failures on single files are logged and skipped.
func (in *Ingester) Run(ctx context.Context) error {
	if len(in.cfg.Directories) == 0 {
		<-ctx.Done()
		return nil
	}
	g, ctx := errgroup.WithContext(ctx)
	queue := make(chan string, queueSize)
	enqueue := func(path string) {
		select {
		case queue <- path:
		case <-ctx.Done():
		}
	}

	w := NewWatcher(in.cfg.Directories, in.cfg.Extensions, in.cfg.RecursiveOrDefault(), enqueue,
		WithWatcherLogger(in.logger), WithDebounce(in.debounce))
	if err := w.Start(ctx); err != nil {
		return fmt.Errorf("start watcher: %w", err)
	}
	defer w.Stop()
	in.logger.Info("ingesting directories", zap.Strings("directories", w.Roots()))

	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case path := <-queue:
				if _, err := in.IngestFile(ctx, path); err != nil && ctx.Err() == nil {
					in.logger.Warn("ingest failed", zap.String("path", path), zap.Error(err))
				}
			}
		}
	})
	g.Go(func() error {
		if err := w.Scan(ctx); err != nil && ctx.Err() == nil {
			return fmt.Errorf("scan directories: %w", err)
		}
		return nil
	})
	return g.Wait()
}

// IngestFile adds the paragraphs of the file at path and returns how many
// memories were created. Files whose content digest matches the ledger are
// skipped. If an add fails, the file is not recorded and will be retried
// (paragraphs added before the failure are added again).
func (in *Ingester) IngestFile(ctx context.Context, path string) (int, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return 0, err
	}
	digest, err := fileDigest(abs)
	if err != nil {
		return 0, err
	}
	prev, ok, err := in.ledger.IngestedDigest(ctx, abs)
	if err != nil {
		return 0, fmt.Errorf("read ingest ledger: %w", err)
	}
	if ok && prev == digest {
		in.logger.Debug("file unchanged, skipping", zap.String("path", abs))
		return 0, nil
	}

	text, err := in.extractor.Extract(abs)
	if err != nil {
		return 0, fmt.Errorf("extract %s: %w", abs, err)
	}
	added := 0
	for _, piece := range Split(text, in.cfg.MaxWords, in.cfg.OverlapWords) {
		if _, err := in.adder.Add(ctx, piece); err != nil {
			return added, fmt.Errorf("add paragraph %d of %s: %w", added+1, abs, err)
		}
		added++
	}
	if err := in.ledger.MarkIngested(ctx, abs, digest, added); err != nil {
		return added, fmt.Errorf("write ingest ledger: %w", err)
	}
	in.logger.Info("file ingested", zap.String("path", abs), zap.Int("memories", added))
	return added, nil
}

// fileDigest returns the hex sha256 of the file's content.
func fileDigest(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
