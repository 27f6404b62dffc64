/*
Package sqldb implements sale.Store on top of database/sql.

PURPOSE:
  One implementation of every query, parameterized by a Dialect. The
  store/sqlite and store/postgres packages only contribute the driver, the
  schema and the dialect.

DIALECT DIFFERENCES:
  - placeholders: "?" (SQLite) vs "$1" (PostgreSQL); queries are written
    with "?" and rebound
  - row locks: PostgreSQL appends FOR UPDATE to locking reads, SQLite relies
    on BEGIN IMMEDIATE plus the store mutex
  - case-insensitive match: LIKE vs ILIKE
  - unique violations: driver-specific error codes

CONCURRENCY:
  SerializeWrites (SQLite) makes WithTx take an exclusive mutex and reads a
  shared one. PostgreSQL leaves concurrency to row locks.

APPEND-ONLY TABLES:
  stock_movements, item_refunds and audit_log are only ever inserted into.

SEE ALSO:
  - sale/store.go: the interfaces implemented here
  - store/memory: the in-memory twin used by unit tests
*/
package sqldb

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/warp/sale-engine/sale"
)

// Dialect captures what differs between database engines.
type Dialect struct {
	Name string

	// NumberedPlaceholders rebinds "?" to "$1", "$2", ...
	NumberedPlaceholders bool

	// LockSuffix is appended to reads that must lock the selected rows.
	LockSuffix string

	// LikeOp is the case-insensitive pattern operator.
	LikeOp string

	// SerializeWrites guards transactions with a process-wide mutex.
	SerializeWrites bool

	IsUniqueViolation func(error) bool
}

func (d Dialect) rebind(query string) string {
	if !d.NumberedPlaceholders {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// conn binds a querier to a dialect.
type conn struct {
	q querier
	d Dialect
}

func (c conn) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return c.q.ExecContext(ctx, c.d.rebind(query), args...)
}

func (c conn) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return c.q.QueryContext(ctx, c.d.rebind(query), args...)
}

func (c conn) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return c.q.QueryRowContext(ctx, c.d.rebind(query), args...)
}

// insert runs an INSERT ... RETURNING id statement.
func (c conn) insert(ctx context.Context, query string, args ...any) (int64, error) {
	var id int64
	if err := c.queryRow(ctx, query+" RETURNING id", args...).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

// =============================================================================
// STORE
// =============================================================================

// Store implements sale.Store.
type Store struct {
	db      *sql.DB
	dialect Dialect
	mu      sync.RWMutex
}

var _ sale.Store = (*Store)(nil)

// New wraps an open database. The schema must already exist (see Migrate).
func New(db *sql.DB, dialect Dialect) *Store {
	return &Store{db: db, dialect: dialect}
}

func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) Dialect() Dialect {
	return s.dialect
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate executes a schema script statement by statement.
func (s *Store) Migrate(ctx context.Context, schema string) error {
	for _, stmt := range strings.Split(schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to migrate %s schema: %w", s.dialect.Name, err)
		}
	}
	return nil
}

func (s *Store) lock() func() {
	if !s.dialect.SerializeWrites {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

func (s *Store) rlock() func() {
	if !s.dialect.SerializeWrites {
		return func() {}
	}
	s.mu.RLock()
	return s.mu.RUnlock
}

func (s *Store) conn() conn {
	return conn{q: s.db, d: s.dialect}
}

// WithTx executes fn within a database transaction. The transaction is
// committed only when fn returns nil.
func (s *Store) WithTx(ctx context.Context, fn func(tx sale.Tx) error) error {
	defer s.lock()()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{c: conn{q: sqlTx, d: s.dialect}}); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// txStore implements sale.Tx on one *sql.Tx.
type txStore struct {
	c conn
}

var _ sale.Tx = (*txStore)(nil)

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	defer s.lock()()

	tables := []string{"audit_log", "item_refunds", "stock_movements", "sale_items", "sales", "serialized_units", "products", "customers"}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

type scanner interface {
	Scan(dest ...any) error
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func int64Ptr(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	return &v.Int64
}

func timePtr(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time.UTC()
	return &t
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// filter accumulates WHERE clauses and their arguments.
type filter struct {
	clauses []string
	args    []any
}

func (f *filter) add(clause string, args ...any) {
	f.clauses = append(f.clauses, clause)
	f.args = append(f.args, args...)
}

func (f *filter) where() string {
	if len(f.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(f.clauses, " AND ")
}
