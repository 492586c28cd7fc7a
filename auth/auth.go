/*
Package auth provides identity management: user registration, login,
and token issuance. The ledger engine treats identity as an external
collaborator; this package supplies it.

PURPOSE:
  - Register: unique username, bcrypt password hash
  - Login: credential check, HS256 token issuance (see jwt.go)
  - OwnerExists: implements ledger.IdentityProvider for account creation

SEE ALSO:
  - jwt.go: HMAC token signing and verification
  - api/server.go: Bearer-token middleware using this package
*/
package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/coldriver/bankcore/ledger"
)

type Role string

const (
	RoleCustomer Role = "CUSTOMER"
	RoleAdmin    Role = "ADMIN"
)

// User is an identity that can own accounts.
type User struct {
	ID           string
	Username     string
	PasswordHash string
	Role         Role
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// UserStore holds user records.
type UserStore interface {
	// CreateUser inserts a user. Surfaces ErrUsernameTaken when the
	// username exists.
	CreateUser(ctx context.Context, u User) (User, error)

	// GetUser returns a user by id or ErrUserNotFound.
	GetUser(ctx context.Context, id string) (User, error)

	// GetUserByUsername returns a user by username or ErrUserNotFound.
	GetUserByUsername(ctx context.Context, username string) (User, error)
}

var (
	ErrUsernameTaken      = errors.New("username already exists")
	ErrUserNotFound       = errors.New("user not found")
	ErrInvalidCredentials = errors.New("invalid username or password")
)

// Service handles registration and login.
type Service struct {
	users  UserStore
	signer *Signer
	now    func() time.Time
}

func NewService(users UserStore, signer *Signer) *Service {
	return &Service{
		users:  users,
		signer: signer,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Register creates a new customer identity.
func (s *Service) Register(ctx context.Context, username, password string) (User, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return User{}, errors.New("username is required")
	}
	if len(password) < 8 {
		return User{}, errors.New("password must be at least 8 characters")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return User{}, err
	}

	now := s.now()
	return s.users.CreateUser(ctx, User{
		ID:           ledger.NewInternalID(),
		Username:     username,
		PasswordHash: string(hash),
		Role:         RoleCustomer,
		CreatedAt:    now,
		UpdatedAt:    now,
	})
}

// Login checks credentials and issues a signed token.
func (s *Service) Login(ctx context.Context, username, password string) (string, error) {
	user, err := s.users.GetUserByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return "", ErrInvalidCredentials
		}
		return "", err
	}

	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return "", ErrInvalidCredentials
	}
	return s.signer.Issue(user.ID, user.Username)
}

// Verify parses and validates a token, returning its claims.
func (s *Service) Verify(token string) (Claims, error) {
	return s.signer.Verify(token)
}

// OwnerExists implements ledger.IdentityProvider.
func (s *Service) OwnerExists(ctx context.Context, ownerID string) (bool, error) {
	_, err := s.users.GetUser(ctx, ownerID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

var _ ledger.IdentityProvider = (*Service)(nil)
