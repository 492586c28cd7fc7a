package auth

import (
	"context"
	"sync"
)

// MemoryUsers is an in-memory UserStore for tests and dev mode.
type MemoryUsers struct {
	mu         sync.RWMutex
	byID       map[string]User
	byUsername map[string]string
}

func NewMemoryUsers() *MemoryUsers {
	return &MemoryUsers{
		byID:       make(map[string]User),
		byUsername: make(map[string]string),
	}
}

func (m *MemoryUsers) CreateUser(_ context.Context, u User) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, taken := m.byUsername[u.Username]; taken {
		return User{}, ErrUsernameTaken
	}
	m.byID[u.ID] = u
	m.byUsername[u.Username] = u.ID
	return u, nil
}

func (m *MemoryUsers) GetUser(_ context.Context, id string) (User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.byID[id]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return u, nil
}

func (m *MemoryUsers) GetUserByUsername(_ context.Context, username string) (User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byUsername[username]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return m.byID[id], nil
}

var _ UserStore = (*MemoryUsers)(nil)
