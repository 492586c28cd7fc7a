/*
Package sqlite provides a SQLite-backed implementation of the storage
contracts.

INTERFACES IMPLEMENTED:
  ledger.AccountStore:     Account records with optimistic versioning
  ledger.TransactionStore: Transaction records with terminal-status guard
  auth.UserStore:          User records

UNIQUENESS:
  UNIQUE constraints on accounts.account_number,
  transactions.transaction_id, transactions.idempotency_key and
  users.username back the engine's conflict-retry behavior. A violated
  constraint surfaces as ledger.ErrConflict (auth.ErrUsernameTaken for
  usernames), never as an opaque driver error.

OPTIMISTIC VERSIONING:
  accounts carries a version column. Updates match on (id, version) and
  bump the version; a stale version affects zero rows and surfaces
  ledger.ErrConflict. The engine's per-account locks make this a
  second line of defense against writers that bypass the engine.

TERMINAL STATUSES:
  Transaction updates match only PENDING rows. Updating a COMPLETED or
  FAILED record surfaces ledger.ErrTransactionFinal.

WAL MODE:
  The database is opened with WAL for better read concurrency and
  foreign keys enabled.

USAGE:
  store, err := sqlite.New("./data/bankcore.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  engine := ledger.NewEngine(store, store)

SEE ALSO:
  - ledger/store.go: Contract definitions
  - ledger/store/memory.go: In-memory implementation for tests
  - store/postgres: PostgreSQL implementation
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/coldriver/bankcore/auth"
	"github.com/coldriver/bankcore/ledger"
)

// Store implements the account, transaction, and user contracts.
type Store struct {
	db *sql.DB
}

// New opens (or creates) the database at dbPath and migrates the schema.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		username TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		role TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS accounts (
		id TEXT PRIMARY KEY,
		account_number TEXT NOT NULL UNIQUE,
		balance TEXT NOT NULL,
		account_type TEXT NOT NULL,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		owner_id TEXT NOT NULL REFERENCES users(id),
		version INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_accounts_owner
		ON accounts(owner_id) WHERE active;

	CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		transaction_id TEXT NOT NULL UNIQUE,
		tx_type TEXT NOT NULL,
		amount TEXT NOT NULL,
		from_account_id TEXT,
		to_account_id TEXT,
		status TEXT NOT NULL,
		description TEXT,
		idempotency_key TEXT UNIQUE,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		processed_at TEXT
	);

	-- History is queried by either side, newest first (hot path)
	CREATE INDEX IF NOT EXISTS idx_transactions_from
		ON transactions(from_account_id, created_at DESC) WHERE from_account_id IS NOT NULL;
	CREATE INDEX IF NOT EXISTS idx_transactions_to
		ON transactions(to_account_id, created_at DESC) WHERE to_account_id IS NOT NULL;
	CREATE INDEX IF NOT EXISTS idx_transactions_idempotency
		ON transactions(idempotency_key) WHERE idempotency_key IS NOT NULL;
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// ACCOUNT STORE (ledger.AccountStore interface)
// =============================================================================

func (s *Store) GetAccount(ctx context.Context, id string) (ledger.Account, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, account_number, balance, account_type, active, owner_id, version, created_at, updated_at
		FROM accounts WHERE id = ?`, id)

	account, err := scanAccount(row)
	if err == sql.ErrNoRows {
		return ledger.Account{}, ledger.ErrAccountNotFound
	}
	return account, err
}

func (s *Store) SaveAccount(ctx context.Context, a ledger.Account) (ledger.Account, error) {
	if a.Version == 0 {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO accounts (id, account_number, balance, account_type, active, owner_id, version, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, 1, ?, ?)`,
			a.ID, a.AccountNumber, a.Balance.String(), a.Type, a.Active, a.OwnerID,
			a.CreatedAt.Format(time.RFC3339Nano), a.UpdatedAt.Format(time.RFC3339Nano),
		)
		if err != nil {
			if isUniqueConstraintError(err) {
				return ledger.Account{}, ledger.ErrConflict
			}
			return ledger.Account{}, fmt.Errorf("failed to insert account: %w", err)
		}
		a.Version = 1
		return a, nil
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE accounts
		SET balance = ?, active = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?`,
		a.Balance.String(), a.Active, a.UpdatedAt.Format(time.RFC3339Nano),
		a.ID, a.Version,
	)
	if err != nil {
		return ledger.Account{}, fmt.Errorf("failed to update account: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return ledger.Account{}, err
	}
	if affected == 0 {
		// Missing row or stale version; either way the caller's view is outdated.
		return ledger.Account{}, ledger.ErrConflict
	}
	a.Version++
	return a, nil
}

func (s *Store) ListActiveByOwner(ctx context.Context, ownerID string) ([]ledger.Account, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, account_number, balance, account_type, active, owner_id, version, created_at, updated_at
		FROM accounts WHERE owner_id = ? AND active
		ORDER BY created_at ASC`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []ledger.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAccount(row scanner) (ledger.Account, error) {
	var (
		a         ledger.Account
		balance   string
		createdAt string
		updatedAt string
	)
	err := row.Scan(&a.ID, &a.AccountNumber, &balance, &a.Type, &a.Active,
		&a.OwnerID, &a.Version, &createdAt, &updatedAt)
	if err != nil {
		return a, err
	}

	a.Balance, err = decimal.NewFromString(balance)
	if err != nil {
		return a, fmt.Errorf("corrupt balance for account %s: %w", a.ID, err)
	}
	a.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	a.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return a, nil
}

// =============================================================================
// TRANSACTION STORE (ledger.TransactionStore interface)
// =============================================================================

func (s *Store) SaveTransaction(ctx context.Context, t ledger.Transaction) (ledger.Transaction, error) {
	// Resolve step: only PENDING rows may change. The idempotency key
	// travels with the resolve so a FAILED record releases it.
	res, err := s.db.ExecContext(ctx, `
		UPDATE transactions
		SET status = ?, updated_at = ?, processed_at = ?, idempotency_key = ?
		WHERE id = ? AND status = ?`,
		t.Status, t.UpdatedAt.Format(time.RFC3339Nano), nullTime(t.ProcessedAt),
		nullString(t.IdempotencyKey), t.ID, ledger.StatusPending,
	)
	if err != nil {
		return ledger.Transaction{}, fmt.Errorf("failed to update transaction: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 1 {
		return t, nil
	}

	var existing string
	err = s.db.QueryRowContext(ctx,
		"SELECT status FROM transactions WHERE id = ?", t.ID).Scan(&existing)
	switch {
	case err == sql.ErrNoRows:
		// Fresh insert below.
	case err != nil:
		return ledger.Transaction{}, err
	case ledger.TransactionStatus(existing).Terminal():
		return ledger.Transaction{}, ledger.ErrTransactionFinal
	default:
		return ledger.Transaction{}, ledger.ErrConflict
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO transactions
		(id, transaction_id, tx_type, amount, from_account_id, to_account_id,
		 status, description, idempotency_key, created_at, updated_at, processed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.TransactionID, t.Type, t.Amount.String(),
		nullString(t.FromAccountID), nullString(t.ToAccountID),
		t.Status, t.Description, nullString(t.IdempotencyKey),
		t.CreatedAt.Format(time.RFC3339Nano), t.UpdatedAt.Format(time.RFC3339Nano),
		nullTime(t.ProcessedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ledger.Transaction{}, ledger.ErrConflict
		}
		return ledger.Transaction{}, fmt.Errorf("failed to insert transaction: %w", err)
	}
	return t, nil
}

func (s *Store) ListByAccount(ctx context.Context, accountID string) ([]ledger.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, transaction_id, tx_type, amount, from_account_id, to_account_id,
		       status, description, idempotency_key, created_at, updated_at, processed_at
		FROM transactions
		WHERE from_account_id = ? OR to_account_id = ?
		ORDER BY created_at DESC, id DESC`, accountID, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	var transactions []ledger.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, t)
	}
	return transactions, rows.Err()
}

func (s *Store) FindByIdempotencyKey(ctx context.Context, key string) (ledger.Transaction, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, transaction_id, tx_type, amount, from_account_id, to_account_id,
		       status, description, idempotency_key, created_at, updated_at, processed_at
		FROM transactions WHERE idempotency_key = ?`, key)

	t, err := scanTransaction(row)
	if err == sql.ErrNoRows {
		return ledger.Transaction{}, false, nil
	}
	if err != nil {
		return ledger.Transaction{}, false, err
	}
	return t, true, nil
}

func scanTransaction(row scanner) (ledger.Transaction, error) {
	var (
		t              ledger.Transaction
		amount         string
		fromAccount    sql.NullString
		toAccount      sql.NullString
		description    sql.NullString
		idempotencyKey sql.NullString
		createdAt      string
		updatedAt      string
		processedAt    sql.NullString
	)
	err := row.Scan(&t.ID, &t.TransactionID, &t.Type, &amount, &fromAccount, &toAccount,
		&t.Status, &description, &idempotencyKey, &createdAt, &updatedAt, &processedAt)
	if err != nil {
		return t, err
	}

	t.Amount, err = decimal.NewFromString(amount)
	if err != nil {
		return t, fmt.Errorf("corrupt amount for transaction %s: %w", t.ID, err)
	}
	t.FromAccountID = fromAccount.String
	t.ToAccountID = toAccount.String
	t.Description = description.String
	t.IdempotencyKey = idempotencyKey.String
	t.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	t.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	if processedAt.Valid {
		p, _ := time.Parse(time.RFC3339Nano, processedAt.String)
		t.ProcessedAt = &p
	}
	return t, nil
}

// =============================================================================
// USER STORE (auth.UserStore interface)
// =============================================================================

func (s *Store) CreateUser(ctx context.Context, u auth.User) (auth.User, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, username, password_hash, role, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		u.ID, u.Username, u.PasswordHash, u.Role,
		u.CreatedAt.Format(time.RFC3339Nano), u.UpdatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return auth.User{}, auth.ErrUsernameTaken
		}
		return auth.User{}, fmt.Errorf("failed to insert user: %w", err)
	}
	return u, nil
}

func (s *Store) GetUser(ctx context.Context, id string) (auth.User, error) {
	return s.getUser(ctx, "SELECT id, username, password_hash, role, created_at, updated_at FROM users WHERE id = ?", id)
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (auth.User, error) {
	return s.getUser(ctx, "SELECT id, username, password_hash, role, created_at, updated_at FROM users WHERE username = ?", username)
}

func (s *Store) getUser(ctx context.Context, query, arg string) (auth.User, error) {
	var (
		u         auth.User
		createdAt string
		updatedAt string
	)
	err := s.db.QueryRowContext(ctx, query, arg).
		Scan(&u.ID, &u.Username, &u.PasswordHash, &u.Role, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return auth.User{}, auth.ErrUserNotFound
	}
	if err != nil {
		return auth.User{}, err
	}
	u.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	u.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return u, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Format(time.RFC3339Nano)
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

var (
	_ ledger.AccountStore     = (*Store)(nil)
	_ ledger.TransactionStore = (*Store)(nil)
	_ auth.UserStore          = (*Store)(nil)
)
