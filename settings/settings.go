// Package settings persists vigil's runtime settings in SQLite and
// reloads them when another process edits the database.
//
// Settings are a flat key/value table. The daemon reads them at startup
// and then watches the file so that changing the authority base URL (for
// example, pointing a session at a staging authority) takes effect
// without a restart.
package settings

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/verifily/vigil/dbopen"
	"github.com/verifily/vigil/watch"
)

// Well-known keys.
const (
	KeyAuthorityBaseURL = "authority_base_url"
	KeyScanInterval     = "scan_interval"
	KeyMinContentLength = "min_content_length"
	// KeyViewerHandle remembers the last detected viewer identity, so a
	// session that starts before the timeline finishes loading still knows
	// who is browsing.
	KeyViewerHandle = "viewer_handle"
)

// ErrNoValue is returned by Get when a key has never been set.
var ErrNoValue = errors.New("settings: no value for key")

const schema = `
CREATE TABLE IF NOT EXISTS settings (
    key        TEXT PRIMARY KEY,
    value      TEXT NOT NULL,
    updated_at INTEGER NOT NULL
);
`

// Store reads and writes settings in an SQLite database.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (creating if needed) the settings store at path.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := dbopen.Open(path, dbopen.WithMkdirAll(), dbopen.WithSchema(schema))
	if err != nil {
		return nil, fmt.Errorf("settings: %w", err)
	}
	return &Store{db: db, logger: logger}, nil
}

// NewStore wraps an already-open database, applying the schema.
// Used in tests with dbopen.OpenMemory.
func NewStore(db *sql.DB, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("settings: apply schema: %w", err)
	}
	return &Store{db: db, logger: logger}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the underlying handle so other subsystems (the
// self-verification gate) can share the same database file.
func (s *Store) DB() *sql.DB { return s.db }

// Get returns the value for key, or ErrNoValue.
func (s *Store) Get(ctx context.Context, key string) (string, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: %s", ErrNoValue, key)
	}
	if err != nil {
		return "", fmt.Errorf("settings: get %s: %w", key, err)
	}
	return v, nil
}

// GetDefault returns the value for key, or def when unset.
func (s *Store) GetDefault(ctx context.Context, key, def string) string {
	v, err := s.Get(ctx, key)
	if err != nil {
		return def
	}
	return v
}

// Set upserts a value. updated_at drives the change watcher.
func (s *Store) Set(ctx context.Context, key, value string) error {
	err := dbopen.RunTx(ctx, s.db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
			key, value, time.Now().UnixMilli())
		return err
	})
	if err != nil {
		return fmt.Errorf("settings: set %s: %w", key, err)
	}
	return nil
}

// Watcher returns a change watcher over the settings table. The caller
// runs OnChange with an action that re-reads whatever it cares about.
func (s *Store) Watcher(interval, debounce time.Duration) *watch.Watcher {
	return watch.New(s.db, watch.Options{
		Interval: interval,
		Debounce: debounce,
		Detector: watch.MaxColumnDetector("settings", "updated_at"),
		Logger:   s.logger,
	})
}
