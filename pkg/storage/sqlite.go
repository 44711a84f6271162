package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

var errEmptyTarget = errors.New("target cannot be empty")

func validateRecord(record *UsageRecord) error {
	if record == nil {
		return errors.New("record cannot be nil")
	}
	if record.Target == "" {
		return errEmptyTarget
	}
	return nil
}

// SQLiteBackend implements Backend on a SQLite file. Suitable for
// single-instance deployments that need usage counters to survive
// restarts.
//
// The database runs in WAL mode with periodic passive checkpoints.
type SQLiteBackend struct {
	db        *sql.DB
	done      chan struct{}
	mu        sync.RWMutex
	closeOnce sync.Once

	saveStmt    *sql.Stmt
	loadStmt    *sql.Stmt
	listStmt    *sql.Stmt
	deleteStmt  *sql.Stmt
	cleanupStmt *sql.Stmt
}

// SQLiteConfig configures the SQLite backend.
type SQLiteConfig struct {
	// Path is the database file path. Required.
	Path string

	// CheckpointInterval is how often to checkpoint the WAL.
	// Default: 5 minutes
	CheckpointInterval time.Duration

	// BusyTimeout is how long to wait for locks before failing.
	// Default: 5 seconds
	BusyTimeout time.Duration
}

// NewSQLiteBackend opens a SQLite backend with default settings.
func NewSQLiteBackend(path string) (*SQLiteBackend, error) {
	return NewSQLiteBackendWithConfig(SQLiteConfig{Path: path})
}

// NewSQLiteBackendWithConfig opens a SQLite backend.
func NewSQLiteBackendWithConfig(cfg SQLiteConfig) (*SQLiteBackend, error) {
	if cfg.Path == "" {
		return nil, errors.New("database path cannot be empty")
	}
	if cfg.CheckpointInterval <= 0 {
		cfg.CheckpointInterval = 5 * time.Minute
	}
	if cfg.BusyTimeout <= 0 {
		cfg.BusyTimeout = 5 * time.Second
	}

	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=%d&_synchronous=NORMAL",
		cfg.Path, int(cfg.BusyTimeout.Milliseconds()))

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite supports a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	b := &SQLiteBackend{
		db:   db,
		done: make(chan struct{}),
	}

	if err := b.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	if err := b.prepareStatements(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to prepare statements: %w", err)
	}

	go b.checkpointLoop(cfg.CheckpointInterval)

	return b, nil
}

func (b *SQLiteBackend) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS usage_records (
		target TEXT NOT NULL PRIMARY KEY,
		requests INTEGER NOT NULL,
		successes INTEGER NOT NULL,
		failures INTEGER NOT NULL,
		tokens_used INTEGER NOT NULL,
		last_updated INTEGER NOT NULL,
		created_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_usage_last_updated ON usage_records(last_updated);
	`

	_, err := b.db.Exec(schema)
	return err
}

func (b *SQLiteBackend) prepareStatements() error {
	var err error

	b.saveStmt, err = b.db.Prepare(`
		INSERT INTO usage_records (target, requests, successes, failures, tokens_used, last_updated, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (target) DO UPDATE SET
			requests = excluded.requests,
			successes = excluded.successes,
			failures = excluded.failures,
			tokens_used = excluded.tokens_used,
			last_updated = excluded.last_updated
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare save statement: %w", err)
	}

	b.loadStmt, err = b.db.Prepare(`
		SELECT target, requests, successes, failures, tokens_used, last_updated, created_at
		FROM usage_records WHERE target = ?
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare load statement: %w", err)
	}

	b.listStmt, err = b.db.Prepare(`
		SELECT target, requests, successes, failures, tokens_used, last_updated, created_at
		FROM usage_records
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare list statement: %w", err)
	}

	b.deleteStmt, err = b.db.Prepare(`DELETE FROM usage_records WHERE target = ?`)
	if err != nil {
		return fmt.Errorf("failed to prepare delete statement: %w", err)
	}

	b.cleanupStmt, err = b.db.Prepare(`DELETE FROM usage_records WHERE last_updated < ?`)
	if err != nil {
		return fmt.Errorf("failed to prepare cleanup statement: %w", err)
	}

	return nil
}

// Save upserts the usage record for a target.
func (b *SQLiteBackend) Save(ctx context.Context, record *UsageRecord) error {
	if err := validateRecord(record); err != nil {
		return err
	}

	now := time.Now()
	lastUpdated := record.LastUpdated
	if lastUpdated.IsZero() {
		lastUpdated = now
	}
	createdAt := record.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	_, err := b.saveStmt.ExecContext(ctx,
		record.Target,
		record.Requests,
		record.Successes,
		record.Failures,
		record.TokensUsed,
		lastUpdated.Unix(),
		createdAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to save usage record: %w", err)
	}
	return nil
}

// Load returns the usage record for a target, or nil when absent.
func (b *SQLiteBackend) Load(ctx context.Context, target string) (*UsageRecord, error) {
	if target == "" {
		return nil, errEmptyTarget
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	record, err := scanRecord(b.loadStmt.QueryRowContext(ctx, target))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load usage record: %w", err)
	}
	return record, nil
}

// List returns all stored usage records.
func (b *SQLiteBackend) List(ctx context.Context) ([]*UsageRecord, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	rows, err := b.listStmt.QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list usage records: %w", err)
	}
	defer rows.Close()

	var records []*UsageRecord
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan usage record: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating usage records: %w", err)
	}
	return records, nil
}

// Delete removes a target's record.
func (b *SQLiteBackend) Delete(ctx context.Context, target string) error {
	if target == "" {
		return errEmptyTarget
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, err := b.deleteStmt.ExecContext(ctx, target); err != nil {
		return fmt.Errorf("failed to delete usage record: %w", err)
	}
	return nil
}

// Cleanup removes records not updated since olderThan.
func (b *SQLiteBackend) Cleanup(ctx context.Context, olderThan time.Time) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	result, err := b.cleanupStmt.ExecContext(ctx, olderThan.Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup usage records: %w", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return int(deleted), nil
}

// Close checkpoints the WAL and closes the database. Idempotent.
func (b *SQLiteBackend) Close() error {
	var closeErr error

	b.closeOnce.Do(func() {
		close(b.done)

		for _, stmt := range []*sql.Stmt{b.saveStmt, b.loadStmt, b.listStmt, b.deleteStmt, b.cleanupStmt} {
			if stmt != nil {
				stmt.Close()
			}
		}

		if b.db != nil {
			_, _ = b.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
			closeErr = b.db.Close()
		}
	})

	return closeErr
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*UsageRecord, error) {
	var (
		record      UsageRecord
		lastUpdated int64
		createdAt   int64
	)
	err := row.Scan(
		&record.Target,
		&record.Requests,
		&record.Successes,
		&record.Failures,
		&record.TokensUsed,
		&lastUpdated,
		&createdAt,
	)
	if err != nil {
		return nil, err
	}
	record.LastUpdated = time.Unix(lastUpdated, 0)
	record.CreatedAt = time.Unix(createdAt, 0)
	return &record, nil
}

func (b *SQLiteBackend) checkpointLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			_, _ = b.db.Exec("PRAGMA wal_checkpoint(PASSIVE)")
		case <-b.done:
			return
		}
	}
}
