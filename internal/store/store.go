// Package store is the SQLite-backed entity store.
//
// Every record kind of the topology lives here: bundles, prototypes, upgrade
// specifications, the five managed entity kinds (one objects table),
// host-component bindings, import bindings, configuration history, concerns
// with their attachment links, and job tasks.
//
// Multi-row mutations run through InTx, which hands the callback a Store
// bound to a single transaction:
//
//	err := st.InTx(ctx, func(tx *store.Store) error {
//		if err := tx.UpdateEntity(ctx, cluster); err != nil {
//			return err
//		}
//		return tx.DeleteEntity(ctx, service.Ref())
//	})
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/yaroslav/stackform/internal/metrics"
)

// DBTX is satisfied by both *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store provides typed access to the database.
type Store struct {
	db     *sql.DB
	q      DBTX
	tx     *sql.Tx
	logger *zap.Logger
}

// New wraps an open database.
//
// Parameters:
//   - db: Database connection
//   - logger: Zap logger
//
// Returns:
//   - Configured Store
func New(db *sql.DB, logger *zap.Logger) *Store {
	return &Store{
		db:     db,
		q:      db,
		logger: logger,
	}
}

// Open opens (creating if needed) the SQLite database at path and applies the schema.
//
// The special path ":memory:" opens a private in-memory database limited to
// one connection so that every query sees the same data.
func Open(ctx context.Context, path string, logger *zap.Logger) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", path)
	if path == ":memory:" {
		dsn = ":memory:?_pragma=foreign_keys(1)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite serialises writers; a single connection also keeps :memory: coherent.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := New(db, logger)
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("Database opened", zap.String("path", path))
	return s, nil
}

// DB returns the underlying database handle.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// InTx runs fn inside a transaction. The transaction commits when fn returns
// nil and rolls back otherwise. Nested calls join the outer transaction.
func (s *Store) InTx(ctx context.Context, fn func(tx *Store) error) error {
	if s.tx != nil {
		return fn(s)
	}

	start := time.Now()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	txStore := &Store{db: s.db, q: tx, tx: tx, logger: s.logger}
	if err := fn(txStore); err != nil {
		metrics.RecordDBQuery("transaction", start, err)
		return err
	}

	if err := tx.Commit(); err != nil {
		metrics.RecordDBQuery("transaction", start, err)
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	metrics.RecordDBQuery("transaction", start, nil)
	return nil
}

// exec runs a statement and records its metrics.
func (s *Store) exec(ctx context.Context, op, query string, args ...any) (sql.Result, error) {
	start := time.Now()
	res, err := s.q.ExecContext(ctx, query, args...)
	metrics.RecordDBQuery(op, start, err)
	return res, err
}

// query runs a query and records its metrics.
func (s *Store) query(ctx context.Context, op, query string, args ...any) (*sql.Rows, error) {
	start := time.Now()
	rows, err := s.q.QueryContext(ctx, query, args...)
	metrics.RecordDBQuery(op, start, err)
	return rows, err
}

// queryRow runs a single-row query. Its error surfaces on Scan.
func (s *Store) queryRow(ctx context.Context, op, query string, args ...any) *sql.Row {
	start := time.Now()
	row := s.q.QueryRowContext(ctx, query, args...)
	metrics.RecordDBQuery(op, start, nil)
	return row
}

// isUniqueViolation checks if an error is a unique constraint violation.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	// SQLite constraint errors include "UNIQUE constraint failed"
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint")
}

// isForeignKeyViolation checks if an error is a foreign key constraint violation.
func isForeignKeyViolation(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(strings.ToLower(err.Error()), "foreign key constraint")
}

// marshalJSON encodes v for a TEXT column; nil and empty values become NULL.
func marshalJSON(v any) (sql.NullString, error) {
	if v == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	if s := string(data); s == "null" || s == "[]" || s == "{}" {
		return sql.NullString{}, nil
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

// unmarshalJSON decodes a nullable TEXT column into v.
func unmarshalJSON(col sql.NullString, v any) error {
	if !col.Valid || col.String == "" {
		return nil
	}
	return json.Unmarshal([]byte(col.String), v)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt(i int64) sql.NullInt64 {
	return sql.NullInt64{Int64: i, Valid: i != 0}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// placeholders returns "?, ?, ..." for n arguments.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?, ", n-1) + "?"
}

func stringArgs(values []string) []any {
	args := make([]any, len(values))
	for i, v := range values {
		args[i] = v
	}
	return args
}
