/*
Package ledger is the core banking ledger engine.

PURPOSE:
  This package contains the data model and the engine that mutates it.
  Every balance change flows through the Engine: deposits, withdrawals,
  and transfers. Nothing else in the system writes an account balance
  or a transaction status.

KEY CONCEPTS IN THIS FILE (types.go):
  - Account: A balance-carrying record owned by an identity
  - Transaction: The record of a single attempted balance change
  - TransactionStatus: PENDING -> COMPLETED | FAILED (both terminal)

DESIGN PRINCIPLES:
  1. Precision: All money is decimal.Decimal. No floats, no epsilon checks.
  2. Single writer: Only the Engine mutates Balance, Status, ProcessedAt.
  3. Terminal statuses: A COMPLETED or FAILED transaction never changes again.
  4. Auditability: Failed mutations still leave a FAILED transaction behind.

SEE ALSO:
  - engine.go: The operations (Deposit, Withdraw, Transfer, History)
  - store.go: Persistence contracts consumed by the engine
  - errors.go: Error taxonomy
*/
package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// ACCOUNT
// =============================================================================

type AccountType string

const (
	AccountSavings AccountType = "SAVINGS"
	AccountCurrent AccountType = "CURRENT"
)

// Account is a balance-carrying record.
//
// INVARIANT: Balance >= 0 at all times. No operation may persist an
// intermediate negative balance.
type Account struct {
	// ID is the stable internal identifier, assigned at creation.
	ID string

	// AccountNumber is the externally visible token (ACC + 10 chars).
	// Unique, assigned once, immutable.
	AccountNumber string

	Balance decimal.Decimal
	Type    AccountType

	// Active=false excludes the account from all mutation operations.
	Active bool

	// OwnerID references the owning identity. Immutable.
	OwnerID string

	CreatedAt time.Time
	UpdatedAt time.Time

	// Version supports optimistic concurrency in SQL-backed stores.
	// Incremented by the store on every successful save.
	Version int64
}

// =============================================================================
// TRANSACTION
// =============================================================================

type TransactionType string

const (
	TxDeposit    TransactionType = "DEPOSIT"
	TxWithdrawal TransactionType = "WITHDRAWAL"
	TxTransfer   TransactionType = "TRANSFER"
)

type TransactionStatus string

const (
	StatusPending   TransactionStatus = "PENDING"
	StatusCompleted TransactionStatus = "COMPLETED"
	StatusFailed    TransactionStatus = "FAILED"
)

// Terminal reports whether a status permits no further transitions.
func (s TransactionStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Transaction records a single attempted balance change.
//
// Field presence by type:
//   DEPOSIT:    ToAccountID set, FromAccountID empty
//   WITHDRAWAL: FromAccountID set, ToAccountID empty
//   TRANSFER:   both set, and FromAccountID != ToAccountID
type Transaction struct {
	// ID is the internal identifier.
	ID string

	// TransactionID is the externally visible token (TXN + 12 chars). Unique.
	TransactionID string

	Type   TransactionType
	Amount decimal.Decimal

	FromAccountID string
	ToAccountID   string

	Status      TransactionStatus
	Description string

	// IdempotencyKey, when supplied by the caller, makes retries safe:
	// a second call with the same key returns the stored transaction
	// instead of applying the mutation again. Empty means no guarantee.
	IdempotencyKey string

	CreatedAt time.Time
	UpdatedAt time.Time

	// ProcessedAt is set only when the transaction completes.
	ProcessedAt *time.Time
}

// Touches reports whether the transaction debits or credits accountID.
func (t Transaction) Touches(accountID string) bool {
	return t.FromAccountID == accountID || t.ToAccountID == accountID
}

// =============================================================================
// DECIMAL HELPERS
// =============================================================================

// MustDecimal parses s, returning zero on malformed input. Test fixtures only.
func MustDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
