package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

// stubIdentity recognizes a fixed set of owner ids.
type stubIdentity map[string]bool

func (s stubIdentity) OwnerExists(_ context.Context, ownerID string) (bool, error) {
	return s[ownerID], nil
}

// stubAccounts is the minimal in-package account store. The full
// implementations live in ledger/store; this one exists so service
// tests can run without an import cycle.
type stubAccounts struct {
	mu       sync.Mutex
	byID     map[string]Account
	byNumber map[string]string
}

func newStubAccounts() *stubAccounts {
	return &stubAccounts{
		byID:     make(map[string]Account),
		byNumber: make(map[string]string),
	}
}

func (s *stubAccounts) GetAccount(_ context.Context, id string) (Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.byID[id]
	if !ok {
		return Account{}, ErrAccountNotFound
	}
	return a, nil
}

func (s *stubAccounts) SaveAccount(_ context.Context, a Account) (Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if otherID, ok := s.byNumber[a.AccountNumber]; ok && otherID != a.ID {
		return Account{}, ErrConflict
	}
	if existing, ok := s.byID[a.ID]; ok {
		a.Version = existing.Version + 1
	} else {
		a.Version = 1
	}
	s.byID[a.ID] = a
	s.byNumber[a.AccountNumber] = a.ID
	return a, nil
}

func (s *stubAccounts) ListActiveByOwner(_ context.Context, ownerID string) ([]Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []Account
	for _, a := range s.byID {
		if a.OwnerID == ownerID && a.Active {
			result = append(result, a)
		}
	}
	return result, nil
}

func TestCreateAccount_StartsActiveWithZeroBalance(t *testing.T) {
	ctx := context.Background()
	svc := NewAccountService(newStubAccounts(), stubIdentity{"user-1": true})

	account, err := svc.CreateAccount(ctx, "user-1", AccountSavings)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !account.Active {
		t.Error("expected new account to be active")
	}
	if !account.Balance.IsZero() {
		t.Errorf("expected zero balance, got %s", account.Balance)
	}
	if account.Type != AccountSavings {
		t.Errorf("expected SAVINGS, got %s", account.Type)
	}
	if len(account.AccountNumber) != 13 || account.AccountNumber[:3] != "ACC" {
		t.Errorf("unexpected account number %q", account.AccountNumber)
	}
	if account.ID == "" {
		t.Error("expected internal id to be assigned")
	}
}

func TestCreateAccount_UnknownOwner_Rejected(t *testing.T) {
	ctx := context.Background()
	svc := NewAccountService(newStubAccounts(), stubIdentity{})

	_, err := svc.CreateAccount(ctx, "ghost", AccountSavings)
	if !errors.Is(err, ErrOwnerNotFound) {
		t.Fatalf("expected ErrOwnerNotFound, got %v", err)
	}
}

func TestCreateAccount_UnknownType_Rejected(t *testing.T) {
	ctx := context.Background()
	svc := NewAccountService(newStubAccounts(), stubIdentity{"user-1": true})

	_, err := svc.CreateAccount(ctx, "user-1", AccountType("CHECKING"))
	if !errors.Is(err, ErrInvalidAccountType) {
		t.Fatalf("expected ErrInvalidAccountType, got %v", err)
	}
	if !IsClientError(err) {
		t.Error("expected ErrInvalidAccountType to classify as a client error")
	}
}

// repeatingAccountNumbers hands out a colliding number before unique ones.
type repeatingAccountNumbers struct {
	UUIDIdentifiers
	repeats int
	calls   int
}

func (r *repeatingAccountNumbers) NewAccountNumber() string {
	r.calls++
	if r.calls <= r.repeats {
		return "ACCDUPLICATE"
	}
	return fmt.Sprintf("ACCFRESH%04d", r.calls)
}

func TestCreateAccount_NumberCollision_Retried(t *testing.T) {
	// GIVEN: A generator that repeats an account number already in use
	// WHEN: Creating a second account
	// THEN: A fresh number is generated and creation succeeds

	ctx := context.Background()
	store := newStubAccounts()
	svc := NewAccountService(store, stubIdentity{"user-1": true})
	svc.ids = &repeatingAccountNumbers{repeats: 3}
	svc.now = func() time.Time { return time.Unix(1700000000, 0).UTC() }

	first, err := svc.CreateAccount(ctx, "user-1", AccountSavings)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := svc.CreateAccount(ctx, "user-1", AccountCurrent)
	if err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}

	if first.AccountNumber == second.AccountNumber {
		t.Errorf("accounts share number %q", first.AccountNumber)
	}
}

func TestListAccounts_OnlyOwnersActive(t *testing.T) {
	ctx := context.Background()
	store := newStubAccounts()
	svc := NewAccountService(store, stubIdentity{"user-1": true, "user-2": true})

	mine, err := svc.CreateAccount(ctx, "user-1", AccountSavings)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.CreateAccount(ctx, "user-2", AccountSavings); err != nil {
		t.Fatal(err)
	}

	closed, _ := svc.CreateAccount(ctx, "user-1", AccountCurrent)
	closed.Active = false
	if _, err := store.SaveAccount(ctx, closed); err != nil {
		t.Fatal(err)
	}

	listed, err := svc.ListAccounts(ctx, "user-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(listed) != 1 || listed[0].ID != mine.ID {
		t.Errorf("expected only the owner's active account, got %+v", listed)
	}
}
