package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"

	"github.com/hyperjump/mneme/internal/models"
)

const (
	// DriverCGO is the mattn/go-sqlite3 driver.
	DriverCGO = "sqlite3"
	// DriverPureGo is the modernc.org/sqlite driver.
	DriverPureGo = "sqlite"

	defaultQueryTimeout = 5 * time.Second
	defaultScanTimeout  = 5 * time.Minute
)

// SQLiteStorage implements RecordStore and IngestLedger using SQLite.
type SQLiteStorage struct {
	db           *sql.DB
	driver       string
	queryTimeout time.Duration
	scanTimeout  time.Duration
}

// Option configures a SQLiteStorage.
type Option func(*SQLiteStorage)

// WithDriver selects the database/sql driver (DriverCGO or DriverPureGo).
func WithDriver(name string) Option {
	return func(s *SQLiteStorage) {
		if name != "" {
			s.driver = name
		}
	}
}

// WithQueryTimeout bounds every single-row call (Append, Get, Count, ledger calls).
func WithQueryTimeout(d time.Duration) Option {
	return func(s *SQLiteStorage) {
		if d > 0 {
			s.queryTimeout = d
		}
	}
}

// WithScanTimeout bounds a full ScanAll.
func WithScanTimeout(d time.Duration) Option {
	return func(s *SQLiteStorage) {
		if d > 0 {
			s.scanTimeout = d
		}
	}
}

// NewSQLiteStorage opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist. A database written by an older
// release without the created_at column is migrated in place.
func NewSQLiteStorage(dbPath string, opts ...Option) (*SQLiteStorage, error) {
	s := &SQLiteStorage{
		driver:       DriverCGO,
		queryTimeout: defaultQueryTimeout,
		scanTimeout:  defaultScanTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.driver != DriverCGO && s.driver != DriverPureGo {
		return nil, fmt.Errorf("unsupported sqlite driver: %s", s.driver)
	}
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open(s.driver, dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	s.db = db
	return s, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS memory (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		text TEXT,
		embedding BLOB,
		created_at INTEGER
	);

	CREATE TABLE IF NOT EXISTS ingested_files (
		path TEXT PRIMARY KEY,
		digest TEXT NOT NULL,
		records INTEGER NOT NULL,
		ingested_at INTEGER NOT NULL
	);
	`
	if _, err := db.Exec(schema); err != nil {
		return err
	}
	return migrateCreatedAt(db)
}

// migrateCreatedAt adds memory.created_at to databases created without it.
func migrateCreatedAt(db *sql.DB) error {
	rows, err := db.Query(`PRAGMA table_info(memory)`)
	if err != nil {
		return err
	}
	found := false
	for rows.Next() {
		var (
			cid       int
			name      string
			colType   string
			notNull   int
			dfltValue sql.NullString
			pk        int
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &dfltValue, &pk); err != nil {
			rows.Close()
			return err
		}
		if name == "created_at" {
			found = true
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()
	if found {
		return nil
	}
	_, err = db.Exec(`ALTER TABLE memory ADD COLUMN created_at INTEGER`)
	return err
}

// Driver returns the database/sql driver name in use.
func (s *SQLiteStorage) Driver() string {
	return s.driver
}

func (s *SQLiteStorage) withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, d)
}

// Append inserts a record in its own transaction and returns the assigned id.
func (s *SQLiteStorage) Append(ctx context.Context, text string, vector []float32) (int64, error) {
	if len(vector) == 0 {
		return 0, ErrEmptyVector
	}
	ctx, cancel := s.withTimeout(ctx, s.queryTimeout)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin append: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO memory (text, embedding, created_at) VALUES (?, ?, ?)`,
		text, EncodeVector(vector), time.Now().UnixMilli(),
	)
	if err != nil {
		return 0, fmt.Errorf("insert record: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("read record id: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit append: %w", err)
	}
	return id, nil
}

// ScanAll streams every record in ascending id order.
func (s *SQLiteStorage) ScanAll(ctx context.Context, fn func(*models.Record) error) error {
	ctx, cancel := s.withTimeout(ctx, s.scanTimeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, text, embedding, created_at FROM memory ORDER BY id ASC`)
	if err != nil {
		return fmt.Errorf("scan records: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return err
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("scan records: %w", err)
	}
	return nil
}

// Get returns a record by id.
func (s *SQLiteStorage) Get(ctx context.Context, id int64) (*models.Record, error) {
	ctx, cancel := s.withTimeout(ctx, s.queryTimeout)
	defer cancel()

	row := s.db.QueryRowContext(ctx,
		`SELECT id, text, embedding, created_at FROM memory WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*models.Record, error) {
	var (
		rec       models.Record
		text      sql.NullString
		blob      []byte
		createdAt sql.NullInt64
	)
	if err := row.Scan(&rec.ID, &text, &blob, &createdAt); err != nil {
		return nil, err
	}
	vec, err := DecodeVector(blob)
	if err != nil {
		return nil, fmt.Errorf("record %d: %w", rec.ID, err)
	}
	rec.Text = text.String
	rec.Vector = vec
	if createdAt.Valid {
		rec.CreatedAt = time.UnixMilli(createdAt.Int64).UTC()
	}
	return &rec, nil
}

// Count returns the total number of records.
func (s *SQLiteStorage) Count(ctx context.Context) (int64, error) {
	ctx, cancel := s.withTimeout(ctx, s.queryTimeout)
	defer cancel()

	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM memory`).Scan(&count)
	return count, err
}

// IngestedDigest returns the digest recorded for path.
func (s *SQLiteStorage) IngestedDigest(ctx context.Context, path string) (string, bool, error) {
	ctx, cancel := s.withTimeout(ctx, s.queryTimeout)
	defer cancel()

	var digest string
	err := s.db.QueryRowContext(ctx,
		`SELECT digest FROM ingested_files WHERE path = ?`, path).Scan(&digest)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return digest, true, nil
}

// MarkIngested records (or replaces) the digest for path.
func (s *SQLiteStorage) MarkIngested(ctx context.Context, path, digest string, records int) error {
	ctx, cancel := s.withTimeout(ctx, s.queryTimeout)
	defer cancel()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO ingested_files (path, digest, records, ingested_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(path) DO UPDATE SET digest = excluded.digest, records = excluded.records,
		 ingested_at = excluded.ingested_at`,
		path, digest, records, time.Now().UnixMilli(),
	)
	return err
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}
