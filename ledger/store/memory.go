// Package store provides in-memory implementations of the ledger
// persistence contracts, used by tests and dev mode.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/coldriver/bankcore/ledger"
)

// =============================================================================
// MEMORY ACCOUNT STORE
// =============================================================================

type MemoryAccounts struct {
	mu       sync.RWMutex
	byID     map[string]ledger.Account
	byNumber map[string]string // account number -> id
}

func NewMemoryAccounts() *MemoryAccounts {
	return &MemoryAccounts{
		byID:     make(map[string]ledger.Account),
		byNumber: make(map[string]string),
	}
}

func (m *MemoryAccounts) GetAccount(_ context.Context, id string) (ledger.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.byID[id]
	if !ok {
		return ledger.Account{}, ledger.ErrAccountNotFound
	}
	return a, nil
}

// SaveAccount inserts or updates. Updates must carry the Version they
// read; a stale Version surfaces ErrConflict, as does reusing another
// account's number.
func (m *MemoryAccounts) SaveAccount(_ context.Context, a ledger.Account) (ledger.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existingID, ok := m.byNumber[a.AccountNumber]; ok && existingID != a.ID {
		return ledger.Account{}, ledger.ErrConflict
	}

	existing, ok := m.byID[a.ID]
	if ok {
		if existing.Version != a.Version {
			return ledger.Account{}, ledger.ErrConflict
		}
		a.Version = existing.Version + 1
	} else {
		a.Version = 1
	}

	m.byID[a.ID] = a
	m.byNumber[a.AccountNumber] = a.ID
	return a, nil
}

func (m *MemoryAccounts) ListActiveByOwner(_ context.Context, ownerID string) ([]ledger.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []ledger.Account
	for _, a := range m.byID {
		if a.OwnerID == ownerID && a.Active {
			result = append(result, a)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

// =============================================================================
// MEMORY TRANSACTION STORE
// =============================================================================

type MemoryTransactions struct {
	mu          sync.RWMutex
	byID        map[string]ledger.Transaction
	byToken     map[string]string // transaction id token -> internal id
	byIdemKey   map[string]string // idempotency key -> internal id
	insertOrder []string
}

func NewMemoryTransactions() *MemoryTransactions {
	return &MemoryTransactions{
		byID:      make(map[string]ledger.Transaction),
		byToken:   make(map[string]string),
		byIdemKey: make(map[string]string),
	}
}

func (m *MemoryTransactions) SaveTransaction(_ context.Context, t ledger.Transaction) (ledger.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if otherID, ok := m.byToken[t.TransactionID]; ok && otherID != t.ID {
		return ledger.Transaction{}, ledger.ErrConflict
	}
	if t.IdempotencyKey != "" {
		if otherID, ok := m.byIdemKey[t.IdempotencyKey]; ok && otherID != t.ID {
			return ledger.Transaction{}, ledger.ErrConflict
		}
	}

	existing, ok := m.byID[t.ID]
	if ok {
		// Statuses are monotonic: terminal records never change.
		if existing.Status.Terminal() {
			return ledger.Transaction{}, ledger.ErrTransactionFinal
		}
		// A FAILED resolve clears the key; drop the stale index entry.
		if existing.IdempotencyKey != "" && existing.IdempotencyKey != t.IdempotencyKey {
			delete(m.byIdemKey, existing.IdempotencyKey)
		}
	} else {
		m.insertOrder = append(m.insertOrder, t.ID)
	}

	m.byID[t.ID] = t
	m.byToken[t.TransactionID] = t.ID
	if t.IdempotencyKey != "" {
		m.byIdemKey[t.IdempotencyKey] = t.ID
	}
	return t, nil
}

func (m *MemoryTransactions) ListByAccount(_ context.Context, accountID string) ([]ledger.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []ledger.Transaction
	// insertOrder is oldest-first; walk backwards for newest-first.
	for i := len(m.insertOrder) - 1; i >= 0; i-- {
		t := m.byID[m.insertOrder[i]]
		if t.Touches(accountID) {
			result = append(result, t)
		}
	}
	return result, nil
}

func (m *MemoryTransactions) FindByIdempotencyKey(_ context.Context, key string) (ledger.Transaction, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byIdemKey[key]
	if !ok {
		return ledger.Transaction{}, false, nil
	}
	return m.byID[id], true, nil
}

var (
	_ ledger.AccountStore     = (*MemoryAccounts)(nil)
	_ ledger.TransactionStore = (*MemoryTransactions)(nil)
)
