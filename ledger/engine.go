/*
engine.go - The ledger engine: deposit, withdraw, transfer, history

PURPOSE:
  Orchestrates every balance mutation. Each operation follows the same
  two-state commit:

    1. Preconditions (existence, active flag, distinct accounts,
       sufficient funds) are checked first. A failure here creates NO
       transaction record.
    2. A PENDING transaction is persisted, the balance mutation is
       attempted, and the transaction is resolved to COMPLETED or
       FAILED before the call returns. A failed mutation leaves the
       balance untouched and a FAILED record behind for audit.

  Both steps run inside one per-account critical section (two accounts
  for transfer, locked in ascending id order).

STATE MACHINE:
  PENDING --(mutation succeeds)--> COMPLETED
  PENDING --(mutation fails)----> FAILED
  Both terminal. Stores reject updates to terminal transactions.

IDEMPOTENCY:
  Callers may supply an idempotency key. A repeated call with the same
  key returns the stored transaction instead of applying the mutation
  twice; this holds even when two calls race past the front-door lookup,
  because the key-unique insert decides a single winner and the loser
  hands back the winner's record without mutating. A FAILED attempt
  releases its key so the same key can retry. Without a key, each call
  creates a fresh transaction.

RETRIES:
  The engine retries exactly one thing: the PENDING insert when the
  generated transaction id collides (ErrConflict from the store). Full
  operations are never retried automatically; that belongs to callers.

SEE ALSO:
  - locks.go: Per-account locking, two-lock ordering, timeouts
  - errors.go: The error kinds raised here
  - accounts.go: Account lifecycle (creation, lookup, listing)
*/
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// maxIDAttempts bounds regeneration of a colliding transaction id.
const maxIDAttempts = 5

// EventPublisher receives completed transactions. Publishing is
// best-effort: a publish failure never fails the operation.
type EventPublisher interface {
	TransactionCompleted(ctx context.Context, tx Transaction)
}

// NoopPublisher discards events.
type NoopPublisher struct{}

func (NoopPublisher) TransactionCompleted(context.Context, Transaction) {}

// Engine is the sole writer of account balances and transaction
// statuses. Safe for concurrent use.
type Engine struct {
	accounts AccountStore
	txs      TransactionStore
	ids      IdentifierGenerator
	locks    *lockTable
	events   EventPublisher
	now      func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithLockTimeout bounds per-account lock acquisition.
func WithLockTimeout(d time.Duration) Option {
	return func(e *Engine) { e.locks = newLockTable(d) }
}

// WithEventPublisher emits completed transactions to p.
func WithEventPublisher(p EventPublisher) Option {
	return func(e *Engine) { e.events = p }
}

// WithClock overrides the time source. Tests only.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithIdentifierGenerator overrides token generation. Tests only.
func WithIdentifierGenerator(g IdentifierGenerator) Option {
	return func(e *Engine) { e.ids = g }
}

func NewEngine(accounts AccountStore, txs TransactionStore, opts ...Option) *Engine {
	e := &Engine{
		accounts: accounts,
		txs:      txs,
		ids:      UUIDIdentifiers{},
		locks:    newLockTable(DefaultLockTimeout),
		events:   NoopPublisher{},
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// =============================================================================
// OPERATIONS
// =============================================================================

// Deposit credits amount to the account.
func (e *Engine) Deposit(ctx context.Context, accountID string, amount decimal.Decimal, idempotencyKey string) (Transaction, error) {
	if !amount.IsPositive() {
		return Transaction{}, ErrInvalidAmount
	}
	if tx, ok, err := e.replay(ctx, idempotencyKey); err != nil || ok {
		return tx, err
	}

	release, err := e.locks.acquire(ctx, accountID)
	if err != nil {
		return Transaction{}, err
	}
	defer release()

	account, err := e.accounts.GetAccount(ctx, accountID)
	if err != nil {
		return Transaction{}, err
	}
	if !account.Active {
		return Transaction{}, fmt.Errorf("account %s: %w", account.AccountNumber, ErrAccountInactive)
	}

	tx, replayed, err := e.createPending(ctx, Transaction{
		Type:           TxDeposit,
		Amount:         amount,
		ToAccountID:    account.ID,
		Description:    "Deposit to account " + account.AccountNumber,
		IdempotencyKey: idempotencyKey,
	})
	if err != nil {
		return Transaction{}, err
	}
	if replayed {
		return tx, nil
	}

	account.Balance = account.Balance.Add(amount)
	account.UpdatedAt = e.now()
	if _, err := e.accounts.SaveAccount(ctx, account); err != nil {
		return e.fail(ctx, tx, err)
	}

	return e.complete(ctx, tx)
}

// Withdraw debits amount from the account. Fails with
// ErrInsufficientFunds before any record is created when the balance
// cannot cover the amount.
func (e *Engine) Withdraw(ctx context.Context, accountID string, amount decimal.Decimal, idempotencyKey string) (Transaction, error) {
	if !amount.IsPositive() {
		return Transaction{}, ErrInvalidAmount
	}
	if tx, ok, err := e.replay(ctx, idempotencyKey); err != nil || ok {
		return tx, err
	}

	release, err := e.locks.acquire(ctx, accountID)
	if err != nil {
		return Transaction{}, err
	}
	defer release()

	account, err := e.accounts.GetAccount(ctx, accountID)
	if err != nil {
		return Transaction{}, err
	}
	if !account.Active {
		return Transaction{}, fmt.Errorf("account %s: %w", account.AccountNumber, ErrAccountInactive)
	}
	if account.Balance.LessThan(amount) {
		return Transaction{}, &InsufficientFundsError{
			AccountID: account.ID,
			Available: account.Balance,
			Requested: amount,
		}
	}

	tx, replayed, err := e.createPending(ctx, Transaction{
		Type:           TxWithdrawal,
		Amount:         amount,
		FromAccountID:  account.ID,
		Description:    "Withdrawal from account " + account.AccountNumber,
		IdempotencyKey: idempotencyKey,
	})
	if err != nil {
		return Transaction{}, err
	}
	if replayed {
		return tx, nil
	}

	account.Balance = account.Balance.Sub(amount)
	account.UpdatedAt = e.now()
	if _, err := e.accounts.SaveAccount(ctx, account); err != nil {
		return e.fail(ctx, tx, err)
	}

	return e.complete(ctx, tx)
}

// Transfer moves amount from one account to another. The debit and the
// credit either both persist or the transaction resolves FAILED with
// neither change authoritative.
func (e *Engine) Transfer(ctx context.Context, fromID, toID string, amount decimal.Decimal, idempotencyKey string) (Transaction, error) {
	if !amount.IsPositive() {
		return Transaction{}, ErrInvalidAmount
	}
	if fromID == toID {
		return Transaction{}, ErrSameAccount
	}
	if tx, ok, err := e.replay(ctx, idempotencyKey); err != nil || ok {
		return tx, err
	}

	release, err := e.locks.acquirePair(ctx, fromID, toID)
	if err != nil {
		return Transaction{}, err
	}
	defer release()

	from, err := e.accounts.GetAccount(ctx, fromID)
	if err != nil {
		return Transaction{}, fmt.Errorf("source: %w", err)
	}
	to, err := e.accounts.GetAccount(ctx, toID)
	if err != nil {
		return Transaction{}, fmt.Errorf("destination: %w", err)
	}
	if !from.Active {
		return Transaction{}, fmt.Errorf("source account %s: %w", from.AccountNumber, ErrAccountInactive)
	}
	if !to.Active {
		return Transaction{}, fmt.Errorf("destination account %s: %w", to.AccountNumber, ErrAccountInactive)
	}
	if from.Balance.LessThan(amount) {
		return Transaction{}, &InsufficientFundsError{
			AccountID: from.ID,
			Available: from.Balance,
			Requested: amount,
		}
	}

	tx, replayed, err := e.createPending(ctx, Transaction{
		Type:           TxTransfer,
		Amount:         amount,
		FromAccountID:  from.ID,
		ToAccountID:    to.ID,
		Description:    "Transfer from " + from.AccountNumber + " to " + to.AccountNumber,
		IdempotencyKey: idempotencyKey,
	})
	if err != nil {
		return Transaction{}, err
	}
	if replayed {
		return tx, nil
	}

	now := e.now()
	debited := from
	debited.Balance = from.Balance.Sub(amount)
	debited.UpdatedAt = now

	credited := to
	credited.Balance = to.Balance.Add(amount)
	credited.UpdatedAt = now

	saved, err := e.accounts.SaveAccount(ctx, debited)
	if err != nil {
		return e.fail(ctx, tx, err)
	}
	if _, err := e.accounts.SaveAccount(ctx, credited); err != nil {
		// Credit failed after the debit persisted. Restore the source
		// under the locks we still hold so neither change survives.
		saved.Balance = from.Balance
		saved.UpdatedAt = e.now()
		if _, undoErr := e.accounts.SaveAccount(ctx, saved); undoErr != nil {
			err = errors.Join(err, undoErr)
		}
		return e.fail(ctx, tx, err)
	}

	return e.complete(ctx, tx)
}

// History returns every transaction touching the account, newest first.
// Read-only; requires no lock.
func (e *Engine) History(ctx context.Context, accountID string) ([]Transaction, error) {
	if _, err := e.accounts.GetAccount(ctx, accountID); err != nil {
		return nil, err
	}
	return e.txs.ListByAccount(ctx, accountID)
}

// =============================================================================
// TWO-STATE COMMIT
// =============================================================================

// replay returns the stored transaction for a previously seen
// idempotency key. ok=false when key is empty or unknown.
func (e *Engine) replay(ctx context.Context, key string) (Transaction, bool, error) {
	if key == "" {
		return Transaction{}, false, nil
	}
	tx, ok, err := e.txs.FindByIdempotencyKey(ctx, key)
	if err != nil {
		return Transaction{}, false, fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}
	return tx, ok, nil
}

// createPending persists the PENDING record, regenerating the
// transaction id on collision. replayed=true means a concurrent call
// with the same idempotency key won the insert race; the returned
// transaction is the winner's record and the caller must not apply the
// mutation again.
func (e *Engine) createPending(ctx context.Context, tx Transaction) (Transaction, bool, error) {
	now := e.now()
	tx.ID = NewInternalID()
	tx.Status = StatusPending
	tx.CreatedAt = now
	tx.UpdatedAt = now

	var err error
	for attempt := 0; attempt < maxIDAttempts; attempt++ {
		tx.TransactionID = e.ids.NewTransactionID()

		var saved Transaction
		saved, err = e.txs.SaveTransaction(ctx, tx)
		if err == nil {
			return saved, false, nil
		}
		if !errors.Is(err, ErrConflict) {
			return Transaction{}, false, fmt.Errorf("%w: %v", ErrStorageFailure, err)
		}
		if tx.IdempotencyKey != "" {
			// The collision may be the idempotency key, not the id: a
			// concurrent duplicate won the race. Hand back its transaction.
			if existing, ok, findErr := e.txs.FindByIdempotencyKey(ctx, tx.IdempotencyKey); findErr == nil && ok {
				return existing, true, nil
			}
		}
	}
	return Transaction{}, false, err
}

// complete resolves the transaction COMPLETED and publishes it.
func (e *Engine) complete(ctx context.Context, tx Transaction) (Transaction, error) {
	now := e.now()
	tx.Status = StatusCompleted
	tx.ProcessedAt = &now
	tx.UpdatedAt = now

	saved, err := e.txs.SaveTransaction(ctx, tx)
	if err != nil {
		// The balance change is already durable; the record stays
		// PENDING rather than being falsely marked FAILED.
		return tx, fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}

	e.events.TransactionCompleted(ctx, saved)
	return saved, nil
}

// fail resolves the transaction FAILED (best-effort, for audit) and
// surfaces the mutation error. The idempotency key is released so the
// caller can retry under the same key.
func (e *Engine) fail(ctx context.Context, tx Transaction, cause error) (Transaction, error) {
	tx.Status = StatusFailed
	tx.IdempotencyKey = ""
	tx.UpdatedAt = e.now()
	_, _ = e.txs.SaveTransaction(ctx, tx)

	return Transaction{}, fmt.Errorf("%w: %v", ErrStorageFailure, cause)
}
