/*
accounts.go - Account lifecycle

PURPOSE:
  Creation, lookup, and listing of accounts. Creation validates the
  owner through the identity provider, starts the balance at zero, and
  assigns an ACC account number with conflict-retry, mirroring the
  engine's transaction-id handling.
*/
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// AccountService manages account records. Balance mutation stays with
// the Engine; this service only creates and reads accounts.
type AccountService struct {
	accounts AccountStore
	identity IdentityProvider
	ids      IdentifierGenerator
	now      func() time.Time
}

func NewAccountService(accounts AccountStore, identity IdentityProvider) *AccountService {
	return &AccountService{
		accounts: accounts,
		identity: identity,
		ids:      UUIDIdentifiers{},
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// CreateAccount opens a new active account with a zero balance.
func (s *AccountService) CreateAccount(ctx context.Context, ownerID string, accountType AccountType) (Account, error) {
	if accountType != AccountSavings && accountType != AccountCurrent {
		return Account{}, fmt.Errorf("%w: %q", ErrInvalidAccountType, accountType)
	}

	ok, err := s.identity.OwnerExists(ctx, ownerID)
	if err != nil {
		return Account{}, err
	}
	if !ok {
		return Account{}, ErrOwnerNotFound
	}

	now := s.now()
	account := Account{
		ID:        NewInternalID(),
		Balance:   MustDecimal("0"),
		Type:      accountType,
		Active:    true,
		OwnerID:   ownerID,
		CreatedAt: now,
		UpdatedAt: now,
	}

	for attempt := 0; attempt < maxIDAttempts; attempt++ {
		account.AccountNumber = s.ids.NewAccountNumber()

		var saved Account
		saved, err = s.accounts.SaveAccount(ctx, account)
		if err == nil {
			return saved, nil
		}
		if !errors.Is(err, ErrConflict) {
			return Account{}, err
		}
	}
	return Account{}, err
}

// GetAccount returns one account by internal id.
func (s *AccountService) GetAccount(ctx context.Context, accountID string) (Account, error) {
	return s.accounts.GetAccount(ctx, accountID)
}

// ListAccounts returns the owner's active accounts.
func (s *AccountService) ListAccounts(ctx context.Context, ownerID string) ([]Account, error) {
	return s.accounts.ListActiveByOwner(ctx, ownerID)
}
