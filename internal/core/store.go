// Package core implements the ruralcast engine: bandwidth sampling and
// classification, learning mode resolution, periodic reevaluation, content
// variant selection and the offline content cache.
package core

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mutecomm/go-sqlcipher/v4"
)

const schemaVersion = "1"

// DBFileName is the device database file inside the store directory.
const DBFileName = "ruralcast.db"

// Store owns the device-local SQLite database (SQLCipher encrypted when a
// passphrase is set). Every other component shares its *sql.DB.
type Store struct {
	db        *sql.DB
	dbPath    string
	encrypted bool
	mu        sync.Mutex
}

// OpenStore opens or creates the device database under dir.
// With an empty passphrase the database is left unencrypted.
func OpenStore(dir string, passphrase string) (*Store, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}
	dbPath := filepath.Join(dir, DBFileName)

	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000", dbPath)
	if passphrase != "" {
		dsn += "&_pragma_key=" + url.QueryEscape(passphrase)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if passphrase != "" {
		// Wrong keys only surface on first read.
		var tables int
		if err := db.QueryRow("SELECT count(*) FROM sqlite_master").Scan(&tables); err != nil {
			db.Close()
			return nil, fmt.Errorf("invalid passphrase or corrupted database: %w", err)
		}
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return &Store{db: db, dbPath: dbPath, encrypted: passphrase != ""}, nil
}

// Initialize creates the schema if it doesn't exist.
func (s *Store) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	schema := `
CREATE TABLE IF NOT EXISTS store_meta (
    key   TEXT PRIMARY KEY,
    value TEXT NOT NULL
);

-- Learner preferences: one row per key
CREATE TABLE IF NOT EXISTS preferences (
    key        TEXT PRIMARY KEY,
    value      TEXT NOT NULL,
    updated_at TEXT NOT NULL
);

-- Offline content cache: one row per lesson, overwritten on every successful fetch
CREATE TABLE IF NOT EXISTS cached_lessons (
    lesson_id INTEGER PRIMARY KEY,
    payload   BLOB NOT NULL,
    cached_at TEXT NOT NULL
);

-- Bandwidth sample history (observational)
CREATE TABLE IF NOT EXISTS bandwidth_samples (
    id             INTEGER PRIMARY KEY AUTOINCREMENT,
    speed_mbps     REAL,
    method         TEXT NOT NULL,
    level          TEXT NOT NULL,
    effective_type TEXT,
    rtt_ms         REAL,
    download_ms    INTEGER,
    measured_at    TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_bandwidth_samples_measured ON bandwidth_samples(measured_at);

-- Content catalog
CREATE TABLE IF NOT EXISTS lessons (
    id           INTEGER PRIMARY KEY,
    title        TEXT NOT NULL,
    course_title TEXT,
    content      TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS content_variants (
    id               INTEGER PRIMARY KEY AUTOINCREMENT,
    lesson_id        INTEGER NOT NULL REFERENCES lessons(id) ON DELETE CASCADE,
    tier             TEXT NOT NULL CHECK(tier IN ('low', 'medium', 'high')),
    content_type     TEXT NOT NULL CHECK(content_type IN ('video', 'audio', 'text', 'pdf')),
    content_url      TEXT,
    content_text     TEXT,
    size_mb          REAL,
    duration_minutes INTEGER,
    quality          TEXT,
    created_at       TEXT NOT NULL,
    UNIQUE(lesson_id, tier)
);
`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO store_meta (key, value) VALUES ('schema_version', ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, schemaVersion)
	if err != nil {
		return fmt.Errorf("failed to write schema version: %w", err)
	}

	return nil
}

// DB returns the underlying database connection.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.dbPath
}

// IsEncrypted returns whether the database was opened with a passphrase.
func (s *Store) IsEncrypted() bool {
	return s.encrypted
}

// SchemaVersion reads the stored schema version, or "" before Initialize.
func (s *Store) SchemaVersion(ctx context.Context) (string, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM store_meta WHERE key = 'schema_version'`).Scan(&v)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read schema version: %w", err)
	}
	return v, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// timeLayout is fixed width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
