/*
Package sqlite provides the SQLite-backed sale.Store.

PURPOSE:
  Opens the database, owns the SQLite schema and dialect, and hands every
  query to store/sqldb. The PostgreSQL store differs only in those three.

KEY TABLES:
  customers, products, serialized_units: reference data read by sales
  sales, sale_items:                     the sale aggregate
  item_refunds:                          append-only reversal history
  stock_movements:                       append-only product counter history
  audit_log:                             append-only operator action log

CONSTRAINTS:
  - stock_quantity >= 0 (CHECK), a last line behind the ledger's own check
  - refunded_quantity BETWEEN 0 AND quantity (CHECK)
  - unique serialized_units.code, sales.reference, sales.idempotency_key

MONEY:
  Stored as TEXT and scanned into decimal.Decimal, so amounts round-trip
  exactly.

CONCURRENCY:
  Transactions start with BEGIN IMMEDIATE (_txlock=immediate) and the
  shared store serializes writers behind a sync.RWMutex. One connection is
  kept open so the mutex and the file lock agree.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging):
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/sales.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  ledger := sale.NewLedger(store, cfg)

SEE ALSO:
  - store/sqldb: the queries
  - store/postgres: the PostgreSQL twin
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"
	"github.com/warp/sale-engine/store/sqldb"
)

// Store implements sale.Store using SQLite.
type Store struct {
	*sqldb.Store
}

// Dialect is the SQLite flavour of the shared queries.
var Dialect = sqldb.Dialect{
	Name:              "sqlite",
	LikeOp:            "LIKE",
	SerializeWrites:   true,
	IsUniqueViolation: isUniqueConstraintError,
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &Store{Store: sqldb.New(db, Dialect)}
	if err := store.Migrate(context.Background(), schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

const schema = `
	CREATE TABLE IF NOT EXISTS customers (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS products (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		price TEXT NOT NULL DEFAULT '0',
		tax_rate TEXT NOT NULL DEFAULT '0',
		tax_code TEXT,
		stock_quantity INTEGER NOT NULL DEFAULT 0 CHECK (stock_quantity >= 0),
		stock_reserved INTEGER NOT NULL DEFAULT 0,
		active INTEGER NOT NULL DEFAULT 1
	);

	CREATE TABLE IF NOT EXISTS serialized_units (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		code TEXT NOT NULL UNIQUE,
		provider_id INTEGER,
		status TEXT NOT NULL CHECK (status IN ('in_stock', 'reserved', 'sold')),
		updated_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS sales (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		reference TEXT NOT NULL UNIQUE,
		operator_id INTEGER NOT NULL,
		customer_id INTEGER REFERENCES customers(id),
		customer_name TEXT NOT NULL,
		customer_note TEXT,
		subtotal TEXT NOT NULL,
		discount TEXT NOT NULL,
		total TEXT NOT NULL,
		total_paid TEXT NOT NULL,
		balance_due TEXT NOT NULL,
		payment_status TEXT NOT NULL,
		due_date TIMESTAMP,
		campaign_id INTEGER,
		vat_rate TEXT NOT NULL,
		vat_amount TEXT NOT NULL,
		payment_method TEXT NOT NULL,
		status TEXT NOT NULL CHECK (status IN ('completed', 'cancelled', 'refunded')),
		refunded_amount TEXT NOT NULL DEFAULT '0',
		credited_amount TEXT NOT NULL DEFAULT '0',
		cancel_note TEXT,
		refund_note TEXT,
		idempotency_key TEXT UNIQUE,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		cancelled_at TIMESTAMP,
		refunded_at TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_sales_customer ON sales(customer_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_sales_created ON sales(created_at);
	CREATE INDEX IF NOT EXISTS idx_sales_due ON sales(payment_status, due_date);

	CREATE TABLE IF NOT EXISTS sale_items (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		sale_id INTEGER NOT NULL REFERENCES sales(id),
		kind TEXT NOT NULL CHECK (kind IN ('service', 'product')),
		unit_id INTEGER REFERENCES serialized_units(id),
		product_id INTEGER REFERENCES products(id),
		description TEXT NOT NULL,
		quantity INTEGER NOT NULL CHECK (quantity >= 1),
		unit_price TEXT NOT NULL,
		tax_rate TEXT NOT NULL,
		tax_amount TEXT NOT NULL,
		tax_code TEXT,
		refunded_quantity INTEGER NOT NULL DEFAULT 0
			CHECK (refunded_quantity >= 0 AND refunded_quantity <= quantity)
	);

	CREATE INDEX IF NOT EXISTS idx_sale_items_sale ON sale_items(sale_id);

	CREATE TABLE IF NOT EXISTS item_refunds (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		sale_item_id INTEGER NOT NULL REFERENCES sale_items(id),
		operator_id INTEGER NOT NULL,
		quantity INTEGER NOT NULL CHECK (quantity >= 1),
		refund_type TEXT NOT NULL CHECK (refund_type IN ('refund', 'credit')),
		note TEXT,
		amount TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_item_refunds_item ON item_refunds(sale_item_id);

	CREATE TABLE IF NOT EXISTS stock_movements (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		product_id INTEGER NOT NULL REFERENCES products(id),
		delta INTEGER NOT NULL,
		balance INTEGER NOT NULL,
		reason TEXT NOT NULL,
		ref_type TEXT,
		ref_id INTEGER,
		operator_id INTEGER,
		note TEXT,
		created_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_stock_movements_product ON stock_movements(product_id, id);

	CREATE TABLE IF NOT EXISTS audit_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		operator_id INTEGER NOT NULL,
		action TEXT NOT NULL,
		entity_type TEXT NOT NULL,
		entity_id INTEGER NOT NULL,
		description TEXT,
		created_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_audit_log_entity ON audit_log(entity_type, entity_id);
	CREATE INDEX IF NOT EXISTS idx_audit_log_action ON audit_log(action)
`

func isUniqueConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return false
}
