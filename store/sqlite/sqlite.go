/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements the engine's persistence interfaces on SQLite through sqlx.
  In production the same patterns apply to PostgreSQL with minor dialect
  differences (SELECT ... FOR UPDATE instead of BEGIN IMMEDIATE).

INTERFACES IMPLEMENTED:
  generic.WalletStore:               wallets + wallet_transactions
  generic.BookingStore[F]:           bookings (one store per service type)
  generic.PlanConfigService:         plans
  generic.AssignmentsService:        policy_assignments
  generic.MemberDirectory:           members
  payments.Repository:               payments + transaction_summaries

ATOMIC UNITS:
  Every money or slot mutation runs in one database transaction:
  - UpdateWallet: read row, apply mutation, version-checked UPDATE,
    INSERT audit row
  - CreateIfSlotAvailable: COUNT active bookings in the slot, INSERT
  Transactions are opened with _txlock=immediate so the write lock is
  taken at BEGIN and two writers never interleave their reads.

KEY TABLES:
  wallets:               one row per wallet, balances as JSON documents
  wallet_transactions:   append-only audit log
  bookings:              booking documents with indexed slot/status columns
  plans:                 plan config documents, versioned
  policy_assignments:    user -> policy links
  members:               member id -> user id
  payments:              member payment requests
  transaction_summaries: payment breakdown per booking

INDEXES:
  - idx_wallets_active_assignment: one active wallet per (user, assignment)
  - idx_bookings_slot: slot occupancy count (hot path)
  - idx_bookings_payment: payment callback lookup

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging):
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/wallet.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  ledger := generic.NewWalletLedger(store, ids.NewULID())
  appointments := appointment.New(sqlite.NewBookingStore[appointment.Details](store, generic.ServiceAppointment), deps)

MIGRATION:
  Schema is auto-migrated on New().

SEE ALSO:
  - generic/store.go: Interface definitions
  - generic/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sqlx.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	dsn := dbPath + "?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate"
	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection: SQLite has a single writer, and ":memory:" databases
	// are per connection.
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) migrate() error {
	schema := `
	-- Wallets
	CREATE TABLE IF NOT EXISTS wallets (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		assignment_id TEXT NOT NULL,
		policy_id TEXT NOT NULL,
		is_active INTEGER NOT NULL DEFAULT 1,
		floater_master_wallet_id TEXT,
		version INTEGER NOT NULL DEFAULT 1,
		doc TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- CRITICAL: one active wallet per (user, policy assignment)
	CREATE UNIQUE INDEX IF NOT EXISTS idx_wallets_active_assignment
		ON wallets(user_id, assignment_id) WHERE is_active = 1;

	CREATE INDEX IF NOT EXISTS idx_wallets_user
		ON wallets(user_id, is_active, created_at DESC);

	-- Wallet transactions (append-only audit log)
	CREATE TABLE IF NOT EXISTS wallet_transactions (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		wallet_id TEXT NOT NULL REFERENCES wallets(id) ON DELETE CASCADE,
		user_id TEXT NOT NULL,
		tx_type TEXT NOT NULL,
		amount TEXT NOT NULL,
		category_code TEXT,
		prev_total TEXT NOT NULL,
		prev_category TEXT NOT NULL,
		new_total TEXT NOT NULL,
		new_category TEXT NOT NULL,
		service_type TEXT,
		booking_id TEXT,
		service_provider TEXT,
		notes TEXT,
		processed_by TEXT,
		processed_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_wallet_transactions_wallet
		ON wallet_transactions(wallet_id, seq);
	CREATE INDEX IF NOT EXISTS idx_wallet_transactions_booking
		ON wallet_transactions(booking_id) WHERE booking_id IS NOT NULL;

	-- Bookings (all service types)
	CREATE TABLE IF NOT EXISTS bookings (
		id TEXT PRIMARY KEY,
		service_type TEXT NOT NULL,
		user_id TEXT NOT NULL,
		patient_id TEXT NOT NULL,
		resource_id TEXT NOT NULL,
		slot_date TEXT NOT NULL,
		slot_time TEXT NOT NULL,
		status TEXT NOT NULL,
		payment_status TEXT NOT NULL,
		payment_id TEXT,
		doc TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_bookings_slot
		ON bookings(service_type, resource_id, slot_date, slot_time, status);
	CREATE INDEX IF NOT EXISTS idx_bookings_payment
		ON bookings(payment_id) WHERE payment_id IS NOT NULL;
	CREATE INDEX IF NOT EXISTS idx_bookings_user
		ON bookings(service_type, user_id);
	CREATE INDEX IF NOT EXISTS idx_bookings_patient
		ON bookings(service_type, patient_id);
	CREATE INDEX IF NOT EXISTS idx_bookings_status
		ON bookings(service_type, status);

	-- Plan configurations (versioned)
	CREATE TABLE IF NOT EXISTS plans (
		policy_id TEXT NOT NULL,
		version INTEGER NOT NULL,
		name TEXT,
		doc TEXT NOT NULL,
		created_at TEXT NOT NULL,
		PRIMARY KEY (policy_id, version)
	);

	-- Policy assignments
	CREATE TABLE IF NOT EXISTS policy_assignments (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		policy_id TEXT NOT NULL,
		plan_version INTEGER,
		relationship TEXT NOT NULL,
		primary_member_id TEXT,
		effective_from TEXT NOT NULL,
		effective_to TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_assignments_user
		ON policy_assignments(user_id, effective_from DESC);

	-- Members
	CREATE TABLE IF NOT EXISTS members (
		member_id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		name TEXT,
		created_at TEXT NOT NULL
	);

	-- Payments
	CREATE TABLE IF NOT EXISTS payments (
		payment_id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		amount TEXT NOT NULL,
		payment_type TEXT NOT NULL,
		service_type TEXT NOT NULL,
		service_id TEXT NOT NULL,
		description TEXT,
		status TEXT NOT NULL,
		method TEXT,
		paid_at TEXT,
		refunded_at TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_payments_service
		ON payments(service_type, service_id);

	-- Transaction summaries
	CREATE TABLE IF NOT EXISTS transaction_summaries (
		id TEXT PRIMARY KEY,
		booking_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		doc TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_summaries_user
		ON transaction_summaries(user_id, created_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Reset deletes all data. Used by the demo scenarios.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{
		"wallet_transactions", "wallets", "bookings", "payments",
		"transaction_summaries", "policy_assignments", "members", "plans",
	}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

// withTx runs fn in one database transaction under the write lock.
func (s *Store) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// =============================================================================
// HELPERS
// =============================================================================

const timeLayout = time.RFC3339Nano

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeLayout, s)
	return t
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func timePtr(ns sql.NullString) *time.Time {
	if !ns.Valid {
		return nil
	}
	t := parseTime(ns.String)
	return &t
}

func isUniqueConstraintError(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.ExtendedCode == sqlite3.ErrConstraintUnique || se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
