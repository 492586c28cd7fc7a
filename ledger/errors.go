/*
errors.go - Centralized error taxonomy for the ledger engine

PURPOSE:
  All engine error kinds in one place. Callers branch on kind with
  errors.Is rather than matching strings; the HTTP layer maps kinds
  to status codes.

ERROR CATEGORIES:
  1. Precondition errors - reported before any record is created,
     never mutate state (not found, inactive, same account,
     insufficient funds, invalid amount)
  2. Retryable errors    - conflict (identifier collision, optimistic
     lock failure) and lock timeout; the caller may retry the whole
     operation, the engine never retries on its own
  3. Storage errors      - collaborator failures during the mutation
     step; these always leave an auditable FAILED transaction behind

SEE ALSO:
  - engine.go: where each error is raised
  - api/handlers.go: mapping to HTTP status codes
*/
package ledger

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrAccountNotFound is returned when a referenced account doesn't exist.
	ErrAccountNotFound = errors.New("account not found")

	// ErrOwnerNotFound is returned at account creation when the owning
	// identity is unknown to the identity provider.
	ErrOwnerNotFound = errors.New("owner not found")

	// ErrAccountInactive is returned when a mutation targets an inactive account.
	ErrAccountInactive = errors.New("account is not active")

	// ErrSameAccount is returned when a transfer names the same account twice.
	ErrSameAccount = errors.New("cannot transfer to the same account")

	// ErrInsufficientFunds is returned when a debit exceeds the balance.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrInvalidAmount is returned when an amount is zero or negative.
	ErrInvalidAmount = errors.New("amount must be positive")

	// ErrInvalidAccountType is returned at account creation when the
	// requested type is not a known AccountType.
	ErrInvalidAccountType = errors.New("unknown account type")

	// ErrConflict is returned by stores on a uniqueness violation or an
	// optimistic-version mismatch. Retryable: regenerate the identifier
	// or re-read current state.
	ErrConflict = errors.New("conflict")

	// ErrLockTimeout is returned when per-account lock acquisition exceeds
	// its bound. Retryable by the caller.
	ErrLockTimeout = errors.New("lock acquisition timed out")

	// ErrTransactionFinal is returned by stores when an update targets a
	// transaction already in a terminal status.
	ErrTransactionFinal = errors.New("transaction already in terminal status")

	// ErrStorageFailure wraps collaborator errors surfaced from the
	// mutation step, after the in-flight transaction was marked FAILED.
	ErrStorageFailure = errors.New("storage failure")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InsufficientFundsError reports how short the source account is.
type InsufficientFundsError struct {
	AccountID string
	Available decimal.Decimal
	Requested decimal.Decimal
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds in account %s: available %s, requested %s",
		e.AccountID, e.Available.String(), e.Requested.String())
}

func (e *InsufficientFundsError) Unwrap() error {
	return ErrInsufficientFunds
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on a full retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConflict) || errors.Is(err, ErrLockTimeout)
}

// IsClientError returns true if the error is due to invalid caller input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrAccountInactive) ||
		errors.Is(err, ErrSameAccount) ||
		errors.Is(err, ErrInsufficientFunds) ||
		errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrInvalidAccountType)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrAccountNotFound) ||
		errors.Is(err, ErrOwnerNotFound)
}
