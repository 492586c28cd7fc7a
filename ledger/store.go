/*
store.go - Persistence contracts consumed by the engine

PURPOSE:
  Defines the narrow boundary between the engine and durable storage.
  The engine never sees SQL, connection pools, or table layouts; it sees
  these three contracts. Implementations live in ledger/store (memory),
  store/sqlite, and store/postgres.

CONTRACT NOTES:
  - SaveAccount and SaveTransaction are insert-or-update keyed by ID.
  - Uniqueness violations (account number, transaction id, idempotency
    key) and optimistic-version mismatches surface as ErrConflict.
  - Updating a transaction already in a terminal status surfaces
    ErrTransactionFinal; statuses are monotonic and stores enforce it.
  - ListByAccount orders newest-first by creation time.

SEE ALSO:
  - ledger/store/memory.go: In-memory implementation for tests/dev
  - store/sqlite/sqlite.go: Production SQLite implementation
  - store/postgres/postgres.go: PostgreSQL implementation
*/
package ledger

import "context"

// AccountStore holds account records.
type AccountStore interface {
	// GetAccount returns the account or ErrAccountNotFound.
	GetAccount(ctx context.Context, id string) (Account, error)

	// SaveAccount inserts or updates an account. Returns the stored
	// record (with its bumped Version). Surfaces ErrConflict on an
	// account-number collision or a stale Version.
	SaveAccount(ctx context.Context, a Account) (Account, error)

	// ListActiveByOwner returns all active accounts owned by ownerID.
	ListActiveByOwner(ctx context.Context, ownerID string) ([]Account, error)
}

// TransactionStore holds transaction records.
type TransactionStore interface {
	// SaveTransaction inserts or updates a transaction. Surfaces
	// ErrConflict on a transaction-id or idempotency-key collision and
	// ErrTransactionFinal when the stored record is already terminal.
	SaveTransaction(ctx context.Context, t Transaction) (Transaction, error)

	// ListByAccount returns every transaction where accountID is source
	// or destination, newest first.
	ListByAccount(ctx context.Context, accountID string) ([]Transaction, error)

	// FindByIdempotencyKey returns the transaction stored under key,
	// if any. ok=false when the key is unknown.
	FindByIdempotencyKey(ctx context.Context, key string) (Transaction, bool, error)
}

// IdentityProvider answers whether an owner id is valid for account
// creation. The auth user store implements this.
type IdentityProvider interface {
	OwnerExists(ctx context.Context, ownerID string) (bool, error)
}
