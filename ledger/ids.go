/*
ids.go - External identifier generation

PURPOSE:
  Produces the externally visible tokens: ACC-prefixed account numbers
  and TXN-prefixed transaction ids. Suffixes are drawn from fresh UUIDs,
  so there is no global counter and no single point of serialization.

COLLISIONS:
  Collision probability is non-zero. Stores enforce uniqueness, so a
  collision surfaces as ErrConflict; callers regenerate and retry the
  insert (see engine.go and accounts.go) rather than treating it as fatal.
*/
package ledger

import (
	"strings"

	"github.com/google/uuid"
)

const (
	accountNumberPrefix = "ACC"
	accountNumberLen    = 10

	transactionIDPrefix = "TXN"
	transactionIDLen    = 12
)

// IdentifierGenerator produces collision-resistant external identifiers.
type IdentifierGenerator interface {
	NewAccountNumber() string
	NewTransactionID() string
}

// UUIDIdentifiers generates tokens from random UUIDs.
type UUIDIdentifiers struct{}

func (UUIDIdentifiers) NewAccountNumber() string {
	return accountNumberPrefix + randomToken(accountNumberLen)
}

func (UUIDIdentifiers) NewTransactionID() string {
	return transactionIDPrefix + randomToken(transactionIDLen)
}

// NewInternalID returns an opaque internal identifier for a new record.
func NewInternalID() string {
	return uuid.NewString()
}

func randomToken(n int) string {
	s := strings.ReplaceAll(uuid.NewString(), "-", "")
	return strings.ToUpper(s[:n])
}
