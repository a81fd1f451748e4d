// Package extract turns document files into plain text for ingestion.
//
// Every format keeps paragraph boundaries as blank lines ("\n\n") so callers
// can split the text into memories along them.
package extract

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrTooLarge is returned by Extract for files above the configured size limit.
var ErrTooLarge = errors.New("file too large")

const defaultMaxBytes = 32 << 20

type extractFunc func(content []byte) (string, error)

var formats = map[string]extractFunc{
	".txt":  extractPlain,
	".md":   extractPlain,
	".rst":  extractPlain,
	".pdf":  extractPDF,
	".docx": extractDOCX,
	".odt":  extractWithCat,
	".rtf":  extractWithCat,
	".xlsx": extractExcel,
}

// Extractor extracts plain text from document files.
type Extractor struct {
	maxBytes int64
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithMaxBytes rejects files larger than n bytes. Zero or negative keeps the default (32 MiB).
func WithMaxBytes(n int64) Option {
	return func(e *Extractor) {
		if n > 0 {
			e.maxBytes = n
		}
	}
}

// NewExtractor returns a new Extractor.
func NewExtractor(opts ...Option) *Extractor {
	e := &Extractor{maxBytes: defaultMaxBytes}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Supported reports whether ext (with leading dot, any case) has a dedicated extractor.
func Supported(ext string) bool {
	_, ok := formats[strings.ToLower(ext)]
	return ok
}

// Extract reads the file at path and returns its text content.
func (e *Extractor) Extract(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("stat file: %w", err)
	}
	if info.Size() > e.maxBytes {
		return "", fmt.Errorf("%w: %s is %d bytes, limit %d", ErrTooLarge, path, info.Size(), e.maxBytes)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read file: %w", err)
	}
	return e.ExtractBytes(content, filepath.Ext(path))
}

// ExtractBytes extracts text from content based on the given extension
// (with leading dot, e.g. ".pdf"). Unknown extensions are read as plain text.
func (e *Extractor) ExtractBytes(content []byte, ext string) (string, error) {
	fn, ok := formats[strings.ToLower(ext)]
	if !ok {
		fn = extractPlain
	}
	text, err := fn(content)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}
