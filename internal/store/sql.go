// ABOUTME: database/sql Store implementation for SQLite (modernc) and Postgres (pgx)
// ABOUTME: Versioned writes run in a transaction so concurrent writers see one winner per key

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// Dialect selects SQL syntax and driver.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// timeLayout is fixed-width so stored timestamps compare correctly as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// SQLStore implements Store on top of database/sql.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	logger  *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLStore, error) {
	logger := slog.Default().With("component", "store")

	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// SQLite has a single writer; one connection keeps transactions from
	// tripping over SQLITE_BUSY and serializes versioned writes.
	db.SetMaxOpenConns(1)

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	s := &SQLStore{db: db, dialect: DialectSQLite, logger: logger}
	if err := s.createSchema(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// NewPostgresStore connects to Postgres through the pgx stdlib driver.
// Use this backend when more than one bot instance shares dedup state.
func NewPostgresStore(ctx context.Context, dsn string) (*SQLStore, error) {
	logger := slog.Default().With("component", "store")

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}

	s := &SQLStore{db: db, dialect: DialectPostgres, logger: logger}
	if err := s.createSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("Postgres store initialized")
	return s, nil
}

// createSchema creates the tables if they don't exist
func (s *SQLStore) createSchema(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS dedup_entries (
			key        TEXT PRIMARY KEY,
			etag       TEXT NOT NULL,
			created_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_dedup_created ON dedup_entries(created_at);

		CREATE TABLE IF NOT EXISTS dialog_state (
			key        TEXT PRIMARY KEY,
			state      TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);
	`
	// pgx's simple protocol accepts multiple statements, but the extended
	// protocol used by database/sql does not; run them one at a time.
	for _, stmt := range strings.Split(schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// rebind rewrites ? placeholders to $N for Postgres.
func (s *SQLStore) rebind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Write applies all items in one transaction.
func (s *SQLStore) Write(ctx context.Context, items map[string]Item) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC().Format(timeLayout)
	for key, item := range items {
		if err := s.writeItem(ctx, tx, key, item, now); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing write: %w", err)
	}
	return nil
}

func (s *SQLStore) writeItem(ctx context.Context, tx *sql.Tx, key string, item Item, now string) error {
	etag := uuid.New().String()

	if item.ETag == AnyETag {
		_, err := tx.ExecContext(ctx, s.rebind(`
			INSERT INTO dedup_entries (key, etag, created_at) VALUES (?, ?, ?)
			ON CONFLICT (key) DO UPDATE SET etag = excluded.etag
		`), key, etag, now)
		if err != nil {
			return fmt.Errorf("writing %q: %w", key, err)
		}
		return nil
	}

	res, err := tx.ExecContext(ctx, s.rebind(`
		INSERT INTO dedup_entries (key, etag, created_at) VALUES (?, ?, ?)
		ON CONFLICT (key) DO NOTHING
	`), key, etag, now)
	if err != nil {
		return fmt.Errorf("inserting %q: %w", key, err)
	}
	if inserted, _ := res.RowsAffected(); inserted == 1 {
		return nil
	}

	// Key already exists: only a matching version may replace it
	if item.ETag != "" {
		res, err = tx.ExecContext(ctx, s.rebind(`
			UPDATE dedup_entries SET etag = ? WHERE key = ? AND etag = ?
		`), etag, key, item.ETag)
		if err != nil {
			return fmt.Errorf("updating %q: %w", key, err)
		}
		if updated, _ := res.RowsAffected(); updated == 1 {
			return nil
		}
	}

	var current string
	err = tx.QueryRowContext(ctx, s.rebind(`SELECT etag FROM dedup_entries WHERE key = ?`), key).Scan(&current)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("reading current etag for %q: %w", key, err)
	}
	return &ConflictError{Key: key, ExpectedETag: item.ETag, CurrentETag: current}
}

// Delete removes the listed keys.
func (s *SQLStore) Delete(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}

	placeholders := make([]string, len(keys))
	args := make([]any, len(keys))
	for i, key := range keys {
		placeholders[i] = "?"
		args[i] = key
	}
	query := "DELETE FROM dedup_entries WHERE key IN (" + strings.Join(placeholders, ", ") + ")"
	if _, err := s.db.ExecContext(ctx, s.rebind(query), args...); err != nil {
		return fmt.Errorf("deleting dedup entries: %w", err)
	}
	return nil
}

// ETag returns the current version of key, or ErrNotFound.
func (s *SQLStore) ETag(ctx context.Context, key string) (string, error) {
	var etag string
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT etag FROM dedup_entries WHERE key = ?`), key).Scan(&etag)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("reading etag: %w", err)
	}
	return etag, nil
}

// Sweep removes dedup entries created before cutoff.
func (s *SQLStore) Sweep(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM dedup_entries WHERE created_at < ?`),
		cutoff.UTC().Format(timeLayout))
	if err != nil {
		return 0, fmt.Errorf("sweeping dedup entries: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// LoadDialog returns the saved dialog state for key.
func (s *SQLStore) LoadDialog(ctx context.Context, key string) ([]byte, error) {
	var state string
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT state FROM dialog_state WHERE key = ?`), key).Scan(&state)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading dialog state: %w", err)
	}
	return []byte(state), nil
}

// SaveDialog stores dialog state for key.
func (s *SQLStore) SaveDialog(ctx context.Context, key string, state []byte) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO dialog_state (key, state, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET state = excluded.state, updated_at = excluded.updated_at
	`), key, string(state), time.Now().UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("saving dialog state: %w", err)
	}
	return nil
}

// DeleteDialog removes dialog state for key.
func (s *SQLStore) DeleteDialog(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM dialog_state WHERE key = ?`), key); err != nil {
		return fmt.Errorf("deleting dialog state: %w", err)
	}
	return nil
}

// Ping checks the database connection.
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection
func (s *SQLStore) Close() error {
	return s.db.Close()
}
