package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/coldriver/bankcore/auth"
	"github.com/coldriver/bankcore/ledger"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := New(":memory:")
	if err != nil {
		t.Fatalf("failed to open in-memory store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func seedUser(t *testing.T, s *Store, id string) auth.User {
	t.Helper()

	now := time.Now().UTC()
	u, err := s.CreateUser(context.Background(), auth.User{
		ID:           id,
		Username:     "user-" + id,
		PasswordHash: "hash",
		Role:         auth.RoleCustomer,
		CreatedAt:    now,
		UpdatedAt:    now,
	})
	if err != nil {
		t.Fatalf("failed to seed user: %v", err)
	}
	return u
}

func testAccount(id, ownerID string) ledger.Account {
	now := time.Now().UTC()
	return ledger.Account{
		ID:            id,
		AccountNumber: "ACC-" + id,
		Balance:       ledger.MustDecimal("100.50"),
		Type:          ledger.AccountSavings,
		Active:        true,
		OwnerID:       ownerID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func TestSQLiteAccounts_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	seedUser(t, s, "u1")

	saved, err := s.SaveAccount(ctx, testAccount("a1", "u1"))
	if err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	if saved.Version != 1 {
		t.Errorf("expected version 1, got %d", saved.Version)
	}

	loaded, err := s.GetAccount(ctx, "a1")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if !loaded.Balance.Equal(ledger.MustDecimal("100.50")) {
		t.Errorf("balance mangled: %s", loaded.Balance)
	}
	if loaded.AccountNumber != "ACC-a1" || loaded.Type != ledger.AccountSavings || !loaded.Active {
		t.Errorf("fields mangled: %+v", loaded)
	}
}

func TestSQLiteAccounts_GetMissing(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetAccount(context.Background(), "nope")
	if !errors.Is(err, ledger.ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
}

func TestSQLiteAccounts_StaleVersionConflict(t *testing.T) {
	// GIVEN: Two writers holding version 1
	// WHEN: Both update
	// THEN: The second loses with ErrConflict and the first write stands

	ctx := context.Background()
	s := newTestStore(t)
	seedUser(t, s, "u1")

	saved, err := s.SaveAccount(ctx, testAccount("a1", "u1"))
	if err != nil {
		t.Fatal(err)
	}

	winner := saved
	winner.Balance = ledger.MustDecimal("200")
	if _, err := s.SaveAccount(ctx, winner); err != nil {
		t.Fatalf("first update failed: %v", err)
	}

	loser := saved
	loser.Balance = ledger.MustDecimal("300")
	if _, err := s.SaveAccount(ctx, loser); !errors.Is(err, ledger.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	loaded, _ := s.GetAccount(ctx, "a1")
	if !loaded.Balance.Equal(ledger.MustDecimal("200")) {
		t.Errorf("expected winner's balance 200, got %s", loaded.Balance)
	}
}

func TestSQLiteAccounts_DuplicateNumberConflict(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	seedUser(t, s, "u1")

	if _, err := s.SaveAccount(ctx, testAccount("a1", "u1")); err != nil {
		t.Fatal(err)
	}

	dup := testAccount("a2", "u1")
	dup.AccountNumber = "ACC-a1"
	if _, err := s.SaveAccount(ctx, dup); !errors.Is(err, ledger.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestSQLiteAccounts_ListActiveByOwner(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	seedUser(t, s, "u1")
	seedUser(t, s, "u2")

	mine := testAccount("a1", "u1")
	if _, err := s.SaveAccount(ctx, mine); err != nil {
		t.Fatal(err)
	}

	closed := testAccount("a2", "u1")
	closed.AccountNumber = "ACC-a2"
	closed.Active = false
	if _, err := s.SaveAccount(ctx, closed); err != nil {
		t.Fatal(err)
	}

	other := testAccount("a3", "u2")
	other.AccountNumber = "ACC-a3"
	if _, err := s.SaveAccount(ctx, other); err != nil {
		t.Fatal(err)
	}

	listed, err := s.ListActiveByOwner(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if len(listed) != 1 || listed[0].ID != "a1" {
		t.Fatalf("expected only a1, got %+v", listed)
	}
}

func testTransaction(id, token string, createdAt time.Time) ledger.Transaction {
	return ledger.Transaction{
		ID:            id,
		TransactionID: token,
		Type:          ledger.TxDeposit,
		Amount:        ledger.MustDecimal("10.00"),
		ToAccountID:   "a1",
		Status:        ledger.StatusPending,
		Description:   "Deposit to account ACC-a1",
		CreatedAt:     createdAt,
		UpdatedAt:     createdAt,
	}
}

func TestSQLiteTransactions_InsertAndResolve(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	now := time.Now().UTC()

	tx := testTransaction("t1", "TXN1", now)
	if _, err := s.SaveTransaction(ctx, tx); err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	processed := now.Add(time.Millisecond)
	tx.Status = ledger.StatusCompleted
	tx.ProcessedAt = &processed
	tx.UpdatedAt = processed
	if _, err := s.SaveTransaction(ctx, tx); err != nil {
		t.Fatalf("resolve failed: %v", err)
	}

	listed, err := s.ListByAccount(ctx, "a1")
	if err != nil {
		t.Fatal(err)
	}
	if len(listed) != 1 {
		t.Fatalf("expected 1 transaction, got %d", len(listed))
	}
	got := listed[0]
	if got.Status != ledger.StatusCompleted {
		t.Errorf("expected COMPLETED, got %s", got.Status)
	}
	if got.ProcessedAt == nil {
		t.Error("expected ProcessedAt to survive the round trip")
	}
	if !got.Amount.Equal(ledger.MustDecimal("10.00")) {
		t.Errorf("amount mangled: %s", got.Amount)
	}
}

func TestSQLiteTransactions_TerminalGuard(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	now := time.Now().UTC()

	tx := testTransaction("t1", "TXN1", now)
	if _, err := s.SaveTransaction(ctx, tx); err != nil {
		t.Fatal(err)
	}

	tx.Status = ledger.StatusFailed
	if _, err := s.SaveTransaction(ctx, tx); err != nil {
		t.Fatalf("pending -> failed should be allowed: %v", err)
	}

	tx.Status = ledger.StatusCompleted
	if _, err := s.SaveTransaction(ctx, tx); !errors.Is(err, ledger.ErrTransactionFinal) {
		t.Fatalf("expected ErrTransactionFinal, got %v", err)
	}
}

func TestSQLiteTransactions_DuplicateTokenConflict(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	now := time.Now().UTC()

	if _, err := s.SaveTransaction(ctx, testTransaction("t1", "TXN1", now)); err != nil {
		t.Fatal(err)
	}
	if _, err := s.SaveTransaction(ctx, testTransaction("t2", "TXN1", now)); !errors.Is(err, ledger.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestSQLiteTransactions_ListNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	base := time.Now().UTC()

	for i, id := range []string{"t1", "t2", "t3"} {
		tx := testTransaction(id, "TXN"+id, base.Add(time.Duration(i)*time.Second))
		if _, err := s.SaveTransaction(ctx, tx); err != nil {
			t.Fatal(err)
		}
	}

	listed, err := s.ListByAccount(ctx, "a1")
	if err != nil {
		t.Fatal(err)
	}
	for i, want := range []string{"t3", "t2", "t1"} {
		if listed[i].ID != want {
			t.Errorf("position %d: expected %s, got %s", i, want, listed[i].ID)
		}
	}
}

func TestSQLiteTransactions_IdempotencyKey(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	now := time.Now().UTC()

	tx := testTransaction("t1", "TXN1", now)
	tx.IdempotencyKey = "k1"
	if _, err := s.SaveTransaction(ctx, tx); err != nil {
		t.Fatal(err)
	}

	found, ok, err := s.FindByIdempotencyKey(ctx, "k1")
	if err != nil || !ok {
		t.Fatalf("expected hit, got ok=%v err=%v", ok, err)
	}
	if found.ID != "t1" {
		t.Errorf("expected t1, got %s", found.ID)
	}

	dup := testTransaction("t2", "TXN2", now)
	dup.IdempotencyKey = "k1"
	if _, err := s.SaveTransaction(ctx, dup); !errors.Is(err, ledger.ErrConflict) {
		t.Fatalf("expected ErrConflict for duplicate key, got %v", err)
	}

	// Records without keys never collide with each other.
	if _, err := s.SaveTransaction(ctx, testTransaction("t3", "TXN3", now)); err != nil {
		t.Fatal(err)
	}
	if _, err := s.SaveTransaction(ctx, testTransaction("t4", "TXN4", now)); err != nil {
		t.Fatal(err)
	}

	_, ok, err = s.FindByIdempotencyKey(ctx, "unknown")
	if err != nil || ok {
		t.Fatalf("expected miss, got ok=%v err=%v", ok, err)
	}
}

func TestSQLiteTransactions_KeyReleasedOnResolve(t *testing.T) {
	// A FAILED resolve clears the idempotency key, freeing it for a retry.

	ctx := context.Background()
	s := newTestStore(t)
	now := time.Now().UTC()

	tx := testTransaction("t1", "TXN1", now)
	tx.IdempotencyKey = "k1"
	if _, err := s.SaveTransaction(ctx, tx); err != nil {
		t.Fatal(err)
	}

	tx.Status = ledger.StatusFailed
	tx.IdempotencyKey = ""
	if _, err := s.SaveTransaction(ctx, tx); err != nil {
		t.Fatal(err)
	}

	if _, ok, _ := s.FindByIdempotencyKey(ctx, "k1"); ok {
		t.Error("expected the released key to be unfindable")
	}

	retry := testTransaction("t2", "TXN2", now)
	retry.IdempotencyKey = "k1"
	if _, err := s.SaveTransaction(ctx, retry); err != nil {
		t.Fatalf("expected the released key to be reusable: %v", err)
	}
}

func TestSQLiteUsers_RoundTripAndDuplicate(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	u := seedUser(t, s, "u1")

	byID, err := s.GetUser(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if byID.Username != u.Username || byID.Role != auth.RoleCustomer {
		t.Errorf("fields mangled: %+v", byID)
	}

	byName, err := s.GetUserByUsername(ctx, u.Username)
	if err != nil {
		t.Fatal(err)
	}
	if byName.ID != "u1" {
		t.Errorf("expected u1, got %s", byName.ID)
	}

	_, err = s.CreateUser(ctx, auth.User{ID: "u2", Username: u.Username, PasswordHash: "h", Role: auth.RoleCustomer, CreatedAt: u.CreatedAt, UpdatedAt: u.UpdatedAt})
	if !errors.Is(err, auth.ErrUsernameTaken) {
		t.Fatalf("expected ErrUsernameTaken, got %v", err)
	}

	_, err = s.GetUser(ctx, "missing")
	if !errors.Is(err, auth.ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestSQLiteEngine_EndToEnd(t *testing.T) {
	// The whole engine running on SQLite: deposit, withdraw, transfer.

	ctx := context.Background()
	s := newTestStore(t)
	seedUser(t, s, "u1")

	for _, id := range []string{"a1", "a2"} {
		a := testAccount(id, "u1")
		a.AccountNumber = "ACC-" + id
		a.Balance = ledger.MustDecimal("1000.00")
		if _, err := s.SaveAccount(ctx, a); err != nil {
			t.Fatal(err)
		}
	}

	engine := ledger.NewEngine(s, s)

	if _, err := engine.Deposit(ctx, "a1", ledger.MustDecimal("100.00"), ""); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if _, err := engine.Withdraw(ctx, "a1", ledger.MustDecimal("50.00"), ""); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if _, err := engine.Transfer(ctx, "a1", "a2", ledger.MustDecimal("200.00"), ""); err != nil {
		t.Fatalf("transfer: %v", err)
	}

	a1, _ := s.GetAccount(ctx, "a1")
	a2, _ := s.GetAccount(ctx, "a2")
	if !a1.Balance.Equal(ledger.MustDecimal("850")) {
		t.Errorf("expected a1=850, got %s", a1.Balance)
	}
	if !a2.Balance.Equal(ledger.MustDecimal("1200")) {
		t.Errorf("expected a2=1200, got %s", a2.Balance)
	}

	history, err := engine.History(ctx, "a1")
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 3 {
		t.Errorf("expected 3 transactions, got %d", len(history))
	}
}
