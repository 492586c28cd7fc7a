/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication, decoupling the
  internal domain model from the external contract. Money crosses the
  wire as decimal strings ("100.00"), never as floats.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/coldriver/bankcore/auth"
	"github.com/coldriver/bankcore/ledger"
)

// =============================================================================
// AUTH
// =============================================================================

type RegisterRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type UserDTO struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	Role      string `json:"role"`
	CreatedAt string `json:"created_at"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	Token string `json:"token"`
}

// =============================================================================
// ACCOUNTS
// =============================================================================

type CreateAccountRequest struct {
	AccountType string `json:"account_type"`
}

type AccountDTO struct {
	ID            string `json:"id"`
	AccountNumber string `json:"account_number"`
	Balance       string `json:"balance"`
	AccountType   string `json:"account_type"`
	Active        bool   `json:"active"`
	OwnerID       string `json:"owner_id"`
	CreatedAt     string `json:"created_at"`
	UpdatedAt     string `json:"updated_at"`
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

type DepositRequest struct {
	AccountID string `json:"account_id"`
	Amount    string `json:"amount"`
}

type WithdrawRequest struct {
	AccountID string `json:"account_id"`
	Amount    string `json:"amount"`
}

type TransferRequest struct {
	FromAccountID string `json:"from_account_id"`
	ToAccountID   string `json:"to_account_id"`
	Amount        string `json:"amount"`
}

type TransactionDTO struct {
	ID            string `json:"id"`
	TransactionID string `json:"transaction_id"`
	Type          string `json:"type"`
	Amount        string `json:"amount"`
	FromAccountID string `json:"from_account_id,omitempty"`
	ToAccountID   string `json:"to_account_id,omitempty"`
	Status        string `json:"status"`
	Description   string `json:"description,omitempty"`
	CreatedAt     string `json:"created_at"`
	ProcessedAt   string `json:"processed_at,omitempty"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// MAPPERS
// =============================================================================

func toUserDTO(u auth.User) UserDTO {
	return UserDTO{
		ID:        u.ID,
		Username:  u.Username,
		Role:      string(u.Role),
		CreatedAt: u.CreatedAt.Format(time.RFC3339),
	}
}

func toAccountDTO(a ledger.Account) AccountDTO {
	return AccountDTO{
		ID:            a.ID,
		AccountNumber: a.AccountNumber,
		Balance:       a.Balance.String(),
		AccountType:   string(a.Type),
		Active:        a.Active,
		OwnerID:       a.OwnerID,
		CreatedAt:     a.CreatedAt.Format(time.RFC3339),
		UpdatedAt:     a.UpdatedAt.Format(time.RFC3339),
	}
}

func toTransactionDTO(t ledger.Transaction) TransactionDTO {
	dto := TransactionDTO{
		ID:            t.ID,
		TransactionID: t.TransactionID,
		Type:          string(t.Type),
		Amount:        t.Amount.String(),
		FromAccountID: t.FromAccountID,
		ToAccountID:   t.ToAccountID,
		Status:        string(t.Status),
		Description:   t.Description,
		CreatedAt:     t.CreatedAt.Format(time.RFC3339),
	}
	if t.ProcessedAt != nil {
		dto.ProcessedAt = t.ProcessedAt.Format(time.RFC3339)
	}
	return dto
}

func toTransactionDTOs(txs []ledger.Transaction) []TransactionDTO {
	dtos := make([]TransactionDTO, len(txs))
	for i, t := range txs {
		dtos[i] = toTransactionDTO(t)
	}
	return dtos
}
