// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides group/challenge persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"
)

// Supported database/sql driver names.
const (
	DriverModernc = "sqlite"  // modernc.org/sqlite, pure Go
	DriverCGO     = "sqlite3" // github.com/mattn/go-sqlite3
)

// querier is satisfied by both *sql.DB and *sql.Tx
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// sqlOps implements GroupTx on top of a querier, so the same code runs
// against the database directly or inside a transaction.
type sqlOps struct {
	q querier
}

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	*sqlOps
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path using the pure Go driver.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	return OpenSQLiteStore(DriverModernc, path)
}

// OpenSQLiteStore creates a SQLite store with an explicit driver.
func OpenSQLiteStore(driver, path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if driver == "" {
		driver = DriverModernc
	}
	if driver != DriverModernc && driver != DriverCGO {
		return nil, fmt.Errorf("unsupported sqlite driver %q", driver)
	}

	if path != ":memory:" {
		// Ensure parent directory exists
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open(driver, buildDSN(driver, path))
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// One connection: every transaction runs serially and :memory: databases
	// are shared across calls.
	db.SetMaxOpenConns(1)

	if path != ":memory:" {
		// Enable WAL mode for better concurrent performance
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enabling WAL mode: %w", err)
		}
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		sqlOps: &sqlOps{q: db},
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path, "driver", driver)
	return s, nil
}

// buildDSN adds the connection parameters each driver understands.
func buildDSN(driver, path string) string {
	switch driver {
	case DriverCGO:
		return path + "?_txlock=immediate&_busy_timeout=5000&_foreign_keys=on"
	default:
		return path + "?_txlock=immediate&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	}
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS wallet_groups (
			group_id       TEXT PRIMARY KEY,
			primary_wallet TEXT NOT NULL,
			created_at     INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS wallet_group_memberships (
			seq                   INTEGER PRIMARY KEY AUTOINCREMENT,
			group_id              TEXT NOT NULL,
			wallet_address        TEXT NOT NULL,
			added_at              INTEGER NOT NULL,
			nickname              TEXT,
			original_company_name TEXT,
			FOREIGN KEY (group_id) REFERENCES wallet_groups(group_id)
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_memberships_wallet
			ON wallet_group_memberships(wallet_address);

		CREATE INDEX IF NOT EXISTS idx_memberships_group
			ON wallet_group_memberships(group_id, added_at);

		CREATE TABLE IF NOT EXISTS wallet_group_audit (
			seq           INTEGER PRIMARY KEY AUTOINCREMENT,
			audit_id      TEXT NOT NULL UNIQUE,
			group_id      TEXT NOT NULL,
			action        TEXT NOT NULL,
			performed_by  TEXT NOT NULL,
			target_wallet TEXT,
			signature     TEXT,
			nonce         TEXT,
			ts            INTEGER NOT NULL,
			success       INTEGER NOT NULL,
			error_message TEXT,

			CHECK (action IN (
				'create_group',
				'add_wallet',
				'remove_wallet',
				'transfer_primary',
				'auto_migrate_solo_wallet'
			))
		);

		CREATE INDEX IF NOT EXISTS idx_audit_group ON wallet_group_audit(group_id, ts);

		CREATE TRIGGER IF NOT EXISTS wallet_group_audit_no_update
		BEFORE UPDATE ON wallet_group_audit
		BEGIN
			SELECT RAISE(ABORT, 'wallet_group_audit is append-only');
		END;

		CREATE TRIGGER IF NOT EXISTS wallet_group_audit_no_delete
		BEFORE DELETE ON wallet_group_audit
		BEGIN
			SELECT RAISE(ABORT, 'wallet_group_audit is append-only');
		END;

		CREATE TABLE IF NOT EXISTS wallet_challenges (
			nonce          TEXT PRIMARY KEY,
			wallet_address TEXT NOT NULL,
			wallet_name    TEXT,
			origin         TEXT,
			created_at     INTEGER NOT NULL,
			expires_at     INTEGER NOT NULL,
			used_at        INTEGER
		);

		CREATE INDEX IF NOT EXISTS idx_challenges_wallet ON wallet_challenges(wallet_address);
		CREATE INDEX IF NOT EXISTS idx_challenges_expires ON wallet_challenges(expires_at);

		CREATE TABLE IF NOT EXISTS display_names (
			wallet_address TEXT PRIMARY KEY,
			name           TEXT NOT NULL,
			updated_at     INTEGER NOT NULL
		);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// WithGroupTx runs fn inside one IMMEDIATE transaction.
func (s *SQLiteStore) WithGroupTx(ctx context.Context, fn func(tx GroupTx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}

	if err := fn(&sqlOps{q: tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			s.logger.Error("rollback failed", "error", rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// isConstraintViolation checks if the error is a SQLite UNIQUE constraint violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "constraint failed")
}

// nullString converts an empty string to nil for nullable columns
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// nullable converts a nil pointer to a NULL column value
func nullable(p *string) any {
	if p == nil {
		return nil
	}
	return *p
}

// stringPtr converts a scanned nullable column back to a pointer
func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

// toMillis stores timestamps as unix milliseconds.
func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
