package generic

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// WALLET TRANSACTION - Immutable audit row, one per wallet mutation
// =============================================================================

type TransactionType string

const (
	TxDebit          TransactionType = "DEBIT"
	TxCredit         TransactionType = "CREDIT"
	TxAdjustment     TransactionType = "ADJUSTMENT"
	TxInitialization TransactionType = "INITIALIZATION"
)

// BalanceSnapshot captures the total and category current balances around
// a mutation.
type BalanceSnapshot struct {
	Total    decimal.Decimal `json:"total"`
	Category decimal.Decimal `json:"category"`
}

type WalletTransaction struct {
	TransactionID TransactionID   `json:"transactionId"`
	WalletID      WalletID        `json:"walletId"`
	UserID        UserID          `json:"userId"` // member on whose behalf the mutation ran
	Type          TransactionType `json:"type"`
	Amount        decimal.Decimal `json:"amount"`
	CategoryCode  CategoryCode    `json:"categoryCode,omitempty"`

	PreviousBalance BalanceSnapshot `json:"previousBalance"`
	NewBalance      BalanceSnapshot `json:"newBalance"`

	ServiceType     ServiceType `json:"serviceType,omitempty"`
	BookingID       BookingID   `json:"bookingId,omitempty"`
	ServiceProvider string      `json:"serviceProvider,omitempty"`
	Notes           string      `json:"notes,omitempty"`
	ProcessedBy     string      `json:"processedBy,omitempty"`
	ProcessedAt     time.Time   `json:"processedAt"`
}

func snapshotOf(w *Wallet, code CategoryCode) BalanceSnapshot {
	s := BalanceSnapshot{Total: w.TotalBalance.Current, Category: decimal.Zero}
	if c := w.Category(code); c != nil {
		s.Category = c.Current
	}
	return s
}
