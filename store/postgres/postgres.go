/*
Package postgres provides a PostgreSQL-backed implementation of the
storage contracts, mirroring the sqlite package with dialect
differences only: $n placeholders, NUMERIC money columns, TIMESTAMPTZ
timestamps, and pq error codes for constraint violations.

Unique violations (SQLSTATE 23505) surface as ledger.ErrConflict
(auth.ErrUsernameTaken for usernames); optimistic-version mismatches on
accounts also surface as ledger.ErrConflict.

SEE ALSO:
  - ledger/store.go: Contract definitions
  - store/sqlite: Reference implementation with schema commentary
*/
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/coldriver/bankcore/auth"
	"github.com/coldriver/bankcore/ledger"
)

type Store struct {
	db *sql.DB
}

// New connects with the given connection string and migrates the schema.
func New(databaseURL string) (*Store, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to reach database: %w", err)
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
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	);

	CREATE TABLE IF NOT EXISTS accounts (
		id TEXT PRIMARY KEY,
		account_number TEXT NOT NULL UNIQUE,
		balance NUMERIC(19,4) NOT NULL,
		account_type TEXT NOT NULL,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		owner_id TEXT NOT NULL REFERENCES users(id),
		version BIGINT NOT NULL DEFAULT 1,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_accounts_owner
		ON accounts(owner_id) WHERE active;

	CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		transaction_id TEXT NOT NULL UNIQUE,
		tx_type TEXT NOT NULL,
		amount NUMERIC(19,4) NOT NULL,
		from_account_id TEXT,
		to_account_id TEXT,
		status TEXT NOT NULL,
		description TEXT,
		idempotency_key TEXT UNIQUE,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		processed_at TIMESTAMPTZ
	);

	CREATE INDEX IF NOT EXISTS idx_transactions_from
		ON transactions(from_account_id, created_at DESC) WHERE from_account_id IS NOT NULL;
	CREATE INDEX IF NOT EXISTS idx_transactions_to
		ON transactions(to_account_id, created_at DESC) WHERE to_account_id IS NOT NULL;
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// ACCOUNT STORE
// =============================================================================

const accountColumns = "id, account_number, balance, account_type, active, owner_id, version, created_at, updated_at"

func (s *Store) GetAccount(ctx context.Context, id string) (ledger.Account, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+accountColumns+" FROM accounts WHERE id = $1", id)

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
			VALUES ($1, $2, $3, $4, $5, $6, 1, $7, $8)`,
			a.ID, a.AccountNumber, a.Balance.String(), a.Type, a.Active, a.OwnerID,
			a.CreatedAt, a.UpdatedAt,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return ledger.Account{}, ledger.ErrConflict
			}
			return ledger.Account{}, fmt.Errorf("failed to insert account: %w", err)
		}
		a.Version = 1
		return a, nil
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE accounts
		SET balance = $1, active = $2, version = version + 1, updated_at = $3
		WHERE id = $4 AND version = $5`,
		a.Balance.String(), a.Active, a.UpdatedAt, a.ID, a.Version,
	)
	if err != nil {
		return ledger.Account{}, fmt.Errorf("failed to update account: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return ledger.Account{}, err
	}
	if affected == 0 {
		return ledger.Account{}, ledger.ErrConflict
	}
	a.Version++
	return a, nil
}

func (s *Store) ListActiveByOwner(ctx context.Context, ownerID string) ([]ledger.Account, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+accountColumns+" FROM accounts WHERE owner_id = $1 AND active ORDER BY created_at ASC",
		ownerID)
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
		a       ledger.Account
		balance string
	)
	err := row.Scan(&a.ID, &a.AccountNumber, &balance, &a.Type, &a.Active,
		&a.OwnerID, &a.Version, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return a, err
	}
	a.Balance, err = decimal.NewFromString(balance)
	if err != nil {
		return a, fmt.Errorf("corrupt balance for account %s: %w", a.ID, err)
	}
	return a, nil
}

// =============================================================================
// TRANSACTION STORE
// =============================================================================

const transactionColumns = `id, transaction_id, tx_type, amount, from_account_id, to_account_id,
	status, description, idempotency_key, created_at, updated_at, processed_at`

func (s *Store) SaveTransaction(ctx context.Context, t ledger.Transaction) (ledger.Transaction, error) {
	// The idempotency key travels with the resolve so a FAILED record
	// releases it.
	res, err := s.db.ExecContext(ctx, `
		UPDATE transactions
		SET status = $1, updated_at = $2, processed_at = $3, idempotency_key = $4
		WHERE id = $5 AND status = $6`,
		t.Status, t.UpdatedAt, t.ProcessedAt, nullString(t.IdempotencyKey),
		t.ID, ledger.StatusPending,
	)
	if err != nil {
		return ledger.Transaction{}, fmt.Errorf("failed to update transaction: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 1 {
		return t, nil
	}

	var existing string
	err = s.db.QueryRowContext(ctx,
		"SELECT status FROM transactions WHERE id = $1", t.ID).Scan(&existing)
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
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		t.ID, t.TransactionID, t.Type, t.Amount.String(),
		nullString(t.FromAccountID), nullString(t.ToAccountID),
		t.Status, t.Description, nullString(t.IdempotencyKey),
		t.CreatedAt, t.UpdatedAt, t.ProcessedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ledger.Transaction{}, ledger.ErrConflict
		}
		return ledger.Transaction{}, fmt.Errorf("failed to insert transaction: %w", err)
	}
	return t, nil
}

func (s *Store) ListByAccount(ctx context.Context, accountID string) ([]ledger.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE from_account_id = $1 OR to_account_id = $1
		ORDER BY created_at DESC, id DESC`, accountID)
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
	row := s.db.QueryRowContext(ctx,
		"SELECT "+transactionColumns+" FROM transactions WHERE idempotency_key = $1", key)

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
		processedAt    sql.NullTime
	)
	err := row.Scan(&t.ID, &t.TransactionID, &t.Type, &amount, &fromAccount, &toAccount,
		&t.Status, &description, &idempotencyKey, &t.CreatedAt, &t.UpdatedAt, &processedAt)
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
	if processedAt.Valid {
		p := processedAt.Time
		t.ProcessedAt = &p
	}
	return t, nil
}

// =============================================================================
// USER STORE
// =============================================================================

func (s *Store) CreateUser(ctx context.Context, u auth.User) (auth.User, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, username, password_hash, role, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		u.ID, u.Username, u.PasswordHash, u.Role, u.CreatedAt, u.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return auth.User{}, auth.ErrUsernameTaken
		}
		return auth.User{}, fmt.Errorf("failed to insert user: %w", err)
	}
	return u, nil
}

func (s *Store) GetUser(ctx context.Context, id string) (auth.User, error) {
	return s.getUser(ctx, "SELECT id, username, password_hash, role, created_at, updated_at FROM users WHERE id = $1", id)
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (auth.User, error) {
	return s.getUser(ctx, "SELECT id, username, password_hash, role, created_at, updated_at FROM users WHERE username = $1", username)
}

func (s *Store) getUser(ctx context.Context, query, arg string) (auth.User, error) {
	var u auth.User
	err := s.db.QueryRowContext(ctx, query, arg).
		Scan(&u.ID, &u.Username, &u.PasswordHash, &u.Role, &u.CreatedAt, &u.UpdatedAt)
	if err == sql.ErrNoRows {
		return auth.User{}, auth.ErrUserNotFound
	}
	if err != nil {
		return auth.User{}, err
	}
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

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}

var (
	_ ledger.AccountStore     = (*Store)(nil)
	_ ledger.TransactionStore = (*Store)(nil)
	_ auth.UserStore          = (*Store)(nil)
)
