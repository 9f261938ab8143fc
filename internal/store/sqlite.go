// ABOUTME: SQLite implementation of MessageStore using modernc.org/sqlite
// ABOUTME: Handles connection setup, schema creation, and idempotent migrations

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// timestampLayout is fixed-width so timestamps sort lexicographically in SQL.
const timestampLayout = "2006-01-02T15:04:05.000000000Z"

// SQLiteStore implements MessageStore (and the user/listing directories) using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
	newID  func() string
}

// Option configures a SQLiteStore.
type Option func(*SQLiteStore)

// WithClock overrides the clock used to stamp new messages.
func WithClock(now func() time.Time) Option {
	return func(s *SQLiteStore) { s.now = now }
}

// WithLogger sets the store logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *SQLiteStore) { s.logger = logger.With("component", "store") }
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string, opts ...Option) (*SQLiteStore, error) {
	inMemory := path == ":memory:"

	if !inMemory {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	// busy_timeout and foreign_keys are per-connection, so they go in the DSN
	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if inMemory {
		// Every connection to :memory: is a separate database
		db.SetMaxOpenConns(1)
	} else if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: slog.Default().With("component", "store"),
		now:    time.Now,
		newID:  newUUID,
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	s.logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS messages (
			seq              INTEGER PRIMARY KEY AUTOINCREMENT,
			message_id       TEXT NOT NULL UNIQUE,
			sender_id        TEXT NOT NULL,
			receiver_id      TEXT NOT NULL,
			listing_id       TEXT,
			content          TEXT NOT NULL,
			timestamp        TEXT NOT NULL,
			read_status      INTEGER NOT NULL DEFAULT 0,
			conversation_key TEXT NOT NULL,

			CHECK (sender_id <> receiver_id),
			CHECK (read_status IN (0, 1))
		);

		CREATE INDEX IF NOT EXISTS idx_messages_conversation
			ON messages(conversation_key, timestamp);
		CREATE INDEX IF NOT EXISTS idx_messages_receiver_unread
			ON messages(receiver_id, read_status);
		CREATE INDEX IF NOT EXISTS idx_messages_sender
			ON messages(sender_id);
		CREATE INDEX IF NOT EXISTS idx_messages_timestamp
			ON messages(timestamp DESC);

		-- Local mirror of the marketplace user directory
		CREATE TABLE IF NOT EXISTS users (
			user_id    TEXT PRIMARY KEY,
			name       TEXT NOT NULL,
			email      TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);

		-- Local mirror of the marketplace listing directory
		CREATE TABLE IF NOT EXISTS listings (
			listing_id TEXT PRIMARY KEY,
			title      TEXT NOT NULL,
			image_url  TEXT NOT NULL DEFAULT '',
			slug       TEXT NOT NULL DEFAULT '',
			updated_at TEXT NOT NULL
		);
	`

	_, err := s.db.Exec(schema)
	return err
}

// runMigrations applies schema migrations for existing databases.
// These are idempotent - safe to run multiple times.
func (s *SQLiteStore) runMigrations() error {
	// SQLite doesn't support ADD COLUMN IF NOT EXISTS, so we check first
	migrations := []struct {
		table  string
		column string
		apply  string
	}{
		{
			table:  "messages",
			column: "listing_id",
			apply:  `ALTER TABLE messages ADD COLUMN listing_id TEXT`,
		},
	}

	for _, m := range migrations {
		var exists int
		check := fmt.Sprintf(`SELECT 1 FROM pragma_table_info('%s') WHERE name = ?`, m.table)
		err := s.db.QueryRow(check, m.column).Scan(&exists)
		if err == nil {
			continue
		}
		if err != sql.ErrNoRows {
			return fmt.Errorf("checking %s.%s: %w", m.table, m.column, err)
		}
		if _, err := s.db.Exec(m.apply); err != nil {
			return fmt.Errorf("adding %s column to %s: %w", m.column, m.table, err)
		}
		s.logger.Info("applied migration", "column", m.column, "table", m.table)
	}

	return nil
}

// Ping checks the database connection
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// isConstraintViolation checks if the error is a SQLite constraint violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "constraint failed")
}

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

func parseTimestamp(s string) (time.Time, error) {
	return time.Parse(timestampLayout, s)
}
