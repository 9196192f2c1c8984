package tokenstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/giantswarm/mcpgate/pkg/logging"
)

// SQLiteStore is a durable Store backed by modernc.org/sqlite. Expired rows
// are filtered on read and purged periodically.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time

	stopCleanup chan struct{}
	done        chan struct{}
}

// NewSQLiteStore opens (or creates) the database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// A single connection keeps :memory: databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &SQLiteStore{
		db:          db,
		now:         time.Now,
		stopCleanup: make(chan struct{}),
		done:        make(chan struct{}),
	}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	go s.cleanupLoop(defaultCleanupInterval)

	logging.Info("TokenStore", "SQLite token store initialized at %s", path)
	return s, nil
}

func (s *SQLiteStore) createSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS entries (
			kind TEXT NOT NULL,
			key TEXT NOT NULL,
			value BLOB NOT NULL,
			expires_at INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (kind, key)
		);

		CREATE INDEX IF NOT EXISTS idx_entries_expires_at
			ON entries(expires_at) WHERE expires_at > 0;
	`)
	return err
}

func (s *SQLiteStore) expiry(ttl time.Duration) int64 {
	if ttl <= 0 {
		return 0
	}
	return s.now().Add(ttl).UnixNano()
}

func (s *SQLiteStore) live(expiresAt int64) bool {
	return expiresAt == 0 || s.now().UnixNano() < expiresAt
}

// Put upserts an entry.
func (s *SQLiteStore) Put(ctx context.Context, kind Kind, key string, value []byte, ttl time.Duration) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO entries (kind, key, value, expires_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (kind, key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at`,
		string(kind), key, value, s.expiry(ttl))
	if err != nil {
		return fmt.Errorf("storing %s entry: %w", kind, err)
	}
	return nil
}

// Get reads an entry, treating expired rows as absent.
func (s *SQLiteStore) Get(ctx context.Context, kind Kind, key string) ([]byte, error) {
	var value []byte
	var expiresAt int64
	err := s.db.QueryRowContext(ctx,
		`SELECT value, expires_at FROM entries WHERE kind = ? AND key = ?`,
		string(kind), key).Scan(&value, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s entry: %w", kind, err)
	}
	if !s.live(expiresAt) {
		return nil, ErrNotFound
	}
	return value, nil
}

// Take deletes the row and returns what was deleted in one statement.
func (s *SQLiteStore) Take(ctx context.Context, kind Kind, key string) ([]byte, error) {
	var value []byte
	var expiresAt int64
	err := s.db.QueryRowContext(ctx,
		`DELETE FROM entries WHERE kind = ? AND key = ? RETURNING value, expires_at`,
		string(kind), key).Scan(&value, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("taking %s entry: %w", kind, err)
	}
	if !s.live(expiresAt) {
		return nil, ErrNotFound
	}
	return value, nil
}

// Delete removes an entry.
func (s *SQLiteStore) Delete(ctx context.Context, kind Kind, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM entries WHERE kind = ? AND key = ?`, string(kind), key); err != nil {
		return fmt.Errorf("deleting %s entry: %w", kind, err)
	}
	return nil
}

// Close stops the cleanup loop and closes the database.
func (s *SQLiteStore) Close() error {
	select {
	case <-s.stopCleanup:
		return nil
	default:
		close(s.stopCleanup)
	}
	<-s.done
	return s.db.Close()
}

func (s *SQLiteStore) cleanupLoop(interval time.Duration) {
	defer close(s.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := s.purge(context.Background()); err != nil {
				logging.Warn("TokenStore", "Failed to purge expired entries: %v", err)
			}
		case <-s.stopCleanup:
			return
		}
	}
}

func (s *SQLiteStore) purge(ctx context.Context) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM entries WHERE expires_at > 0 AND expires_at <= ?`, s.now().UnixNano())
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n > 0 {
		logging.Debug("TokenStore", "Purged %d expired entries", n)
	}
	return nil
}
