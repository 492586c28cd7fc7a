package auth

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func newTestService() (*Service, *MemoryUsers) {
	users := NewMemoryUsers()
	return NewService(users, NewSigner("test-secret", time.Hour)), users
}

func TestRegisterAndLogin(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService()

	user, err := svc.Register(ctx, "alice", "correct horse battery")
	require.NoError(t, err)
	assert.Equal(t, "alice", user.Username)
	assert.Equal(t, RoleCustomer, user.Role)
	assert.NotEmpty(t, user.ID)

	// The password is stored hashed, never verbatim.
	assert.NotContains(t, user.PasswordHash, "correct horse")
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte("correct horse battery")))

	token, err := svc.Login(ctx, "alice", "correct horse battery")
	require.NoError(t, err)

	claims, err := svc.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, user.ID, claims.Subject)
	assert.Equal(t, "alice", claims.Username)
}

func TestRegister_Validation(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService()

	_, err := svc.Register(ctx, "   ", "long enough password")
	assert.Error(t, err, "blank username must be rejected")

	_, err = svc.Register(ctx, "bob", "short")
	assert.Error(t, err, "short password must be rejected")
}

func TestRegister_DuplicateUsername(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService()

	_, err := svc.Register(ctx, "alice", "first password here")
	require.NoError(t, err)

	_, err = svc.Register(ctx, "alice", "second password here")
	assert.ErrorIs(t, err, ErrUsernameTaken)
}

func TestLogin_BadCredentials(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService()

	_, err := svc.Register(ctx, "alice", "correct horse battery")
	require.NoError(t, err)

	_, err = svc.Login(ctx, "alice", "wrong password entirely")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	// Unknown users get the same error as wrong passwords.
	_, err = svc.Login(ctx, "nobody", "whatever password")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestOwnerExists(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService()

	user, err := svc.Register(ctx, "alice", "correct horse battery")
	require.NoError(t, err)

	ok, err := svc.OwnerExists(ctx, user.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = svc.OwnerExists(ctx, "no-such-user")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSigner_RejectsTampering(t *testing.T) {
	signer := NewSigner("test-secret", time.Hour)

	token, err := signer.Issue("user-1", "alice")
	require.NoError(t, err)

	parts := strings.Split(token, ".")
	require.Len(t, parts, 3)

	// Swapped payload, original signature.
	other, err := signer.Issue("user-2", "mallory")
	require.NoError(t, err)
	forged := parts[0] + "." + strings.Split(other, ".")[1] + "." + parts[2]
	_, err = signer.Verify(forged)
	assert.ErrorIs(t, err, ErrSignatureInvalid)

	// Signed with a different secret.
	otherSigner := NewSigner("other-secret", time.Hour)
	foreign, err := otherSigner.Issue("user-1", "alice")
	require.NoError(t, err)
	_, err = signer.Verify(foreign)
	assert.ErrorIs(t, err, ErrSignatureInvalid)

	// Structurally broken tokens.
	_, err = signer.Verify("not-a-token")
	assert.ErrorIs(t, err, ErrInvalidToken)
	_, err = signer.Verify("a.b")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestSigner_RejectsExpiredToken(t *testing.T) {
	signer := NewSigner("test-secret", time.Minute)
	issued := time.Unix(1700000000, 0).UTC()
	signer.now = func() time.Time { return issued }

	token, err := signer.Issue("user-1", "alice")
	require.NoError(t, err)

	// Still valid just before expiry.
	signer.now = func() time.Time { return issued.Add(59 * time.Second) }
	_, err = signer.Verify(token)
	assert.NoError(t, err)

	// Expired afterwards.
	signer.now = func() time.Time { return issued.Add(2 * time.Minute) }
	_, err = signer.Verify(token)
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestSigner_RejectsForeignAlgorithms(t *testing.T) {
	// A token claiming alg "none" must never verify, even with an empty
	// signature over a valid payload.

	signer := NewSigner("test-secret", time.Hour)

	token, err := signer.Issue("user-1", "alice")
	require.NoError(t, err)
	parts := strings.Split(token, ".")

	noneHeader := b64(`{"alg":"none","typ":"JWT"}`)
	_, err = signer.Verify(noneHeader + "." + parts[1] + ".")
	assert.ErrorIs(t, err, ErrInvalidToken)
}
