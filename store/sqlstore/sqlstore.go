/*
Package sqlstore provides the SQL-backed implementation of generic.LedgerStore.

PURPOSE:
  Persists participants, targets, action logs and stored state rows in
  SQLite (mattn/go-sqlite3 or modernc.org/sqlite) or MySQL. The same SQL
  serves all three ledgers; rows are partitioned by scope columns
  (scope_kind, tenant_id, event_id, target_id).

INTERFACES IMPLEMENTED:
  generic.TxStore:   Transaction-scoped reads and writes for the engine
  generic.ReadStore: Counts, listings and audit queries for the projector
  generic.Registry:  Participant and target upserts for fixtures

APPEND-ONLY ENFORCEMENT:
  - No UPDATE statements on action_logs
  - The single DELETE on action_logs is DeleteSettledActivations (scoped reset)

CONCURRENCY:
  No application locks. Unique constraints on active_states and
  action_logs.activation_key decide races; violations come back as
  generic.ErrStateConflict. SQLite connections are capped at one: SQLite
  allows a single writer, and ":memory:" databases live per connection.

USAGE:
  store, err := sqlstore.New(":memory:")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  engine := generic.NewEngine(checkin.Config, store)

MIGRATION:
  Schema is auto-migrated on Open. The ledgerctl migrate command runs the
  same statements against a configured database.

SEE ALSO:
  - generic/store.go: Interface definitions
  - generic/store/memory.go: In-memory implementation for testing
*/
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	sqlite3 "github.com/mattn/go-sqlite3"
	"modernc.org/sqlite"
	sqlitelib "modernc.org/sqlite/lib"

	"github.com/warp/tour-ledger/generic"
)

// Store implements generic.LedgerStore on database/sql.
type Store struct {
	ops
	db *sql.DB
}

var _ generic.LedgerStore = (*Store)(nil)

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// New opens a mattn SQLite store at dbPath. Use ":memory:" for an
// in-memory database.
func New(dbPath string) (*Store, error) {
	return Open(context.Background(), DriverSQLite3, dbPath)
}

// Open connects with driver, applies connection settings and migrates.
func Open(ctx context.Context, driver, dsn string) (*Store, error) {
	d, err := dialectFor(driver)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(driver, dataSource(driver, dsn))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if d.isSQLite() {
		db.SetMaxOpenConns(1)
		db.SetConnMaxLifetime(0)
	} else {
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(25)
		db.SetConnMaxLifetime(30 * time.Minute)
	}

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if driver == DriverSQLite {
		for _, pragma := range []string{"PRAGMA foreign_keys = ON", "PRAGMA busy_timeout = 5000"} {
			if _, err := db.ExecContext(ctx, pragma); err != nil {
				db.Close()
				return nil, fmt.Errorf("failed to set %q: %w", pragma, err)
			}
		}
	}

	store := &Store{ops: ops{q: db, d: d}, db: db}
	if err := store.Migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// dataSource adds connection options the store relies on.
func dataSource(driver, dsn string) string {
	switch driver {
	case DriverSQLite3:
		if !strings.Contains(dsn, "?") {
			return dsn + "?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000"
		}
	case DriverMySQL:
		if !strings.Contains(dsn, "?") {
			return dsn + "?charset=utf8mb4&loc=UTC"
		}
	}
	return dsn
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Driver returns the database/sql driver name of the store.
func (s *Store) Driver() string {
	return s.d.driver
}

// Migrate creates the schema. Safe to run repeatedly.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range s.d.schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("schema statement %q: %w", firstLine(stmt), err)
		}
	}
	return nil
}

// =============================================================================
// TRANSACTIONAL STORE (generic.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store generic.Store) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(ops{q: sqlTx, d: s.d}); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("commit: %w", generic.ErrStateConflict)
		}
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

// isUniqueViolation recognizes unique and primary key violations of all
// three drivers.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}

	var mattnErr sqlite3.Error
	if errors.As(err, &mattnErr) {
		return mattnErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			mattnErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}

	var modernErr *sqlite.Error
	if errors.As(err, &modernErr) {
		return modernErr.Code() == sqlitelib.SQLITE_CONSTRAINT_UNIQUE ||
			modernErr.Code() == sqlitelib.SQLITE_CONSTRAINT_PRIMARYKEY
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == 1062
	}

	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func unixNano(t time.Time) int64 {
	return t.UTC().UnixNano()
}

func fromUnixNano(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

func firstLine(stmt string) string {
	stmt = strings.TrimSpace(stmt)
	if i := strings.IndexByte(stmt, '\n'); i >= 0 {
		return stmt[:i]
	}
	return stmt
}
