package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/carepay/benefit-wallet/generic"
)

// =============================================================================
// WALLETS - generic.WalletStore
// =============================================================================

type walletRow struct {
	ID                    string         `db:"id"`
	UserID                string         `db:"user_id"`
	AssignmentID          string         `db:"assignment_id"`
	PolicyID              string         `db:"policy_id"`
	IsActive              bool           `db:"is_active"`
	FloaterMasterWalletID sql.NullString `db:"floater_master_wallet_id"`
	Version               int64          `db:"version"`
	Doc                   string         `db:"doc"`
	CreatedAt             string         `db:"created_at"`
	UpdatedAt             string         `db:"updated_at"`
}

func toWalletRow(w *generic.Wallet) (walletRow, error) {
	doc, err := json.Marshal(w)
	if err != nil {
		return walletRow{}, fmt.Errorf("failed to encode wallet %s: %w", w.ID, err)
	}
	row := walletRow{
		ID:           string(w.ID),
		UserID:       string(w.UserID),
		AssignmentID: string(w.PolicyAssignmentID),
		PolicyID:     string(w.PolicyID),
		IsActive:     w.IsActive,
		Version:      w.Version,
		Doc:          string(doc),
		CreatedAt:    formatTime(w.CreatedAt),
		UpdatedAt:    formatTime(w.UpdatedAt),
	}
	if w.IsDependent() {
		row.FloaterMasterWalletID = nullString(string(*w.FloaterMasterWalletID))
	}
	return row, nil
}

func (r walletRow) wallet() (*generic.Wallet, error) {
	var w generic.Wallet
	if err := json.Unmarshal([]byte(r.Doc), &w); err != nil {
		return nil, fmt.Errorf("failed to decode wallet %s: %w", r.ID, err)
	}
	// Columns are authoritative for the fields that are also indexed.
	w.Version = r.Version
	w.IsActive = r.IsActive
	return &w, nil
}

const walletColumns = `id, user_id, assignment_id, policy_id, is_active, floater_master_wallet_id, version, doc, created_at, updated_at`

func (s *Store) CreateWallet(ctx context.Context, w *generic.Wallet, init *generic.WalletTransaction) error {
	if err := w.CheckInvariants(); err != nil {
		return err
	}
	w.Version = 1
	row, err := toWalletRow(w)
	if err != nil {
		return err
	}

	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.NamedExecContext(ctx, `
			INSERT INTO wallets (`+walletColumns+`)
			VALUES (:id, :user_id, :assignment_id, :policy_id, :is_active, :floater_master_wallet_id, :version, :doc, :created_at, :updated_at)`,
			row)
		if err != nil {
			if isUniqueConstraintError(err) {
				return fmt.Errorf("%w: user %s assignment %s", generic.ErrDuplicateWallet, w.UserID, w.PolicyAssignmentID)
			}
			return fmt.Errorf("failed to insert wallet: %w", err)
		}
		if init != nil {
			return insertWalletTransaction(ctx, tx, init)
		}
		return nil
	})
}

func (s *Store) GetWallet(ctx context.Context, id generic.WalletID) (*generic.Wallet, error) {
	return s.getWallet(ctx, `SELECT `+walletColumns+` FROM wallets WHERE id = ?`, id)
}

func (s *Store) GetActiveWalletByUser(ctx context.Context, userID generic.UserID) (*generic.Wallet, error) {
	return s.getWallet(ctx, `
		SELECT `+walletColumns+` FROM wallets
		WHERE user_id = ? AND is_active = 1
		ORDER BY created_at DESC LIMIT 1`, userID)
}

func (s *Store) GetWalletByAssignment(ctx context.Context, userID generic.UserID, assignmentID generic.AssignmentID) (*generic.Wallet, error) {
	return s.getWallet(ctx, `
		SELECT `+walletColumns+` FROM wallets
		WHERE user_id = ? AND assignment_id = ? AND is_active = 1`, userID, assignmentID)
}

func (s *Store) getWallet(ctx context.Context, query string, args ...any) (*generic.Wallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var row walletRow
	if err := s.db.GetContext(ctx, &row, query, args...); err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("%w: %v", generic.ErrWalletNotFound, args)
		}
		return nil, fmt.Errorf("failed to get wallet: %w", err)
	}
	return row.wallet()
}

// UpdateWallet reads the row, applies fn, and writes the wallet and the
// audit row back in one transaction. The UPDATE is version-checked; zero
// affected rows means another writer got there first.
func (s *Store) UpdateWallet(ctx context.Context, id generic.WalletID, fn generic.WalletMutation) (*generic.Wallet, error) {
	var updated *generic.Wallet
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		var row walletRow
		if err := tx.GetContext(ctx, &row, `SELECT `+walletColumns+` FROM wallets WHERE id = ?`, id); err != nil {
			if isNoRows(err) {
				return fmt.Errorf("%w: %s", generic.ErrWalletNotFound, id)
			}
			return fmt.Errorf("failed to get wallet: %w", err)
		}
		w, err := row.wallet()
		if err != nil {
			return err
		}
		readVersion := w.Version

		audit, err := fn(w)
		if err != nil {
			return err
		}
		if err := w.CheckInvariants(); err != nil {
			return err
		}

		w.Version = readVersion + 1
		if audit != nil {
			w.UpdatedAt = audit.ProcessedAt
		}
		next, err := toWalletRow(w)
		if err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `
			UPDATE wallets SET doc = ?, version = ?, is_active = ?, updated_at = ?
			WHERE id = ? AND version = ?`,
			next.Doc, next.Version, next.IsActive, next.UpdatedAt, id, readVersion)
		if err != nil {
			return fmt.Errorf("failed to update wallet: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("%w: wallet %s version %d", generic.ErrConcurrentModification, id, readVersion)
		}
		if audit != nil {
			if err := insertWalletTransaction(ctx, tx, audit); err != nil {
				return err
			}
		}
		updated = w
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// DeleteWalletsByAssignment refuses with ErrWalletHasDependents while a
// wallet of another assignment still pools into one being deleted.
func (s *Store) DeleteWalletsByAssignment(ctx context.Context, assignmentID generic.AssignmentID) (int, error) {
	var n int64
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		var dependents int
		if err := tx.GetContext(ctx, &dependents, `
			SELECT COUNT(*) FROM wallets
			WHERE assignment_id != ?
			  AND floater_master_wallet_id IN (SELECT id FROM wallets WHERE assignment_id = ?)`,
			assignmentID, assignmentID); err != nil {
			return fmt.Errorf("failed to count dependent wallets: %w", err)
		}
		if dependents > 0 {
			return fmt.Errorf("%w: assignment %s has %d", generic.ErrWalletHasDependents, assignmentID, dependents)
		}
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM wallet_transactions
			WHERE wallet_id IN (SELECT id FROM wallets WHERE assignment_id = ?)`, assignmentID); err != nil {
			return fmt.Errorf("failed to delete wallet transactions: %w", err)
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM wallets WHERE assignment_id = ?`, assignmentID)
		if err != nil {
			return fmt.Errorf("failed to delete wallets: %w", err)
		}
		n, _ = res.RowsAffected()
		return nil
	})
	return int(n), err
}

// =============================================================================
// WALLET TRANSACTIONS
// =============================================================================

type walletTxRow struct {
	ID              string         `db:"id"`
	WalletID        string         `db:"wallet_id"`
	UserID          string         `db:"user_id"`
	TxType          string         `db:"tx_type"`
	Amount          string         `db:"amount"`
	CategoryCode    sql.NullString `db:"category_code"`
	PrevTotal       string         `db:"prev_total"`
	PrevCategory    string         `db:"prev_category"`
	NewTotal        string         `db:"new_total"`
	NewCategory     string         `db:"new_category"`
	ServiceType     sql.NullString `db:"service_type"`
	BookingID       sql.NullString `db:"booking_id"`
	ServiceProvider sql.NullString `db:"service_provider"`
	Notes           sql.NullString `db:"notes"`
	ProcessedBy     sql.NullString `db:"processed_by"`
	ProcessedAt     string         `db:"processed_at"`
}

func insertWalletTransaction(ctx context.Context, tx *sqlx.Tx, t *generic.WalletTransaction) error {
	row := walletTxRow{
		ID:              string(t.TransactionID),
		WalletID:        string(t.WalletID),
		UserID:          string(t.UserID),
		TxType:          string(t.Type),
		Amount:          t.Amount.String(),
		CategoryCode:    nullString(string(t.CategoryCode)),
		PrevTotal:       t.PreviousBalance.Total.String(),
		PrevCategory:    t.PreviousBalance.Category.String(),
		NewTotal:        t.NewBalance.Total.String(),
		NewCategory:     t.NewBalance.Category.String(),
		ServiceType:     nullString(string(t.ServiceType)),
		BookingID:       nullString(string(t.BookingID)),
		ServiceProvider: nullString(t.ServiceProvider),
		Notes:           nullString(t.Notes),
		ProcessedBy:     nullString(t.ProcessedBy),
		ProcessedAt:     formatTime(t.ProcessedAt),
	}
	_, err := tx.NamedExecContext(ctx, `
		INSERT INTO wallet_transactions (
			id, wallet_id, user_id, tx_type, amount, category_code,
			prev_total, prev_category, new_total, new_category,
			service_type, booking_id, service_provider, notes, processed_by, processed_at
		) VALUES (
			:id, :wallet_id, :user_id, :tx_type, :amount, :category_code,
			:prev_total, :prev_category, :new_total, :new_category,
			:service_type, :booking_id, :service_provider, :notes, :processed_by, :processed_at
		)`, row)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("%w: transaction %s exists", generic.ErrConflict, t.TransactionID)
		}
		return fmt.Errorf("failed to insert wallet transaction: %w", err)
	}
	return nil
}

func (r walletTxRow) transaction() generic.WalletTransaction {
	return generic.WalletTransaction{
		TransactionID: generic.TransactionID(r.ID),
		WalletID:      generic.WalletID(r.WalletID),
		UserID:        generic.UserID(r.UserID),
		Type:          generic.TransactionType(r.TxType),
		Amount:        parseDecimal(r.Amount),
		CategoryCode:  generic.CategoryCode(r.CategoryCode.String),
		PreviousBalance: generic.BalanceSnapshot{
			Total:    parseDecimal(r.PrevTotal),
			Category: parseDecimal(r.PrevCategory),
		},
		NewBalance: generic.BalanceSnapshot{
			Total:    parseDecimal(r.NewTotal),
			Category: parseDecimal(r.NewCategory),
		},
		ServiceType:     generic.ServiceType(r.ServiceType.String),
		BookingID:       generic.BookingID(r.BookingID.String),
		ServiceProvider: r.ServiceProvider.String,
		Notes:           r.Notes.String,
		ProcessedBy:     r.ProcessedBy.String,
		ProcessedAt:     parseTime(r.ProcessedAt),
	}
}

func (s *Store) ListTransactions(ctx context.Context, walletID generic.WalletID) ([]generic.WalletTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var rows []walletTxRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, wallet_id, user_id, tx_type, amount, category_code,
		       prev_total, prev_category, new_total, new_category,
		       service_type, booking_id, service_provider, notes, processed_by, processed_at
		FROM wallet_transactions WHERE wallet_id = ? ORDER BY seq`, walletID)
	if err != nil {
		return nil, fmt.Errorf("failed to list wallet transactions: %w", err)
	}
	out := make([]generic.WalletTransaction, len(rows))
	for i, r := range rows {
		out[i] = r.transaction()
	}
	return out, nil
}

func parseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

var _ generic.WalletStore = (*Store)(nil)
