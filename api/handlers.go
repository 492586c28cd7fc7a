/*
handlers.go - HTTP handlers for the banking API

PURPOSE:
  Exposes the ledger engine, account service, and auth service over
  REST. Handles JSON encoding, input validation, and the mapping from
  engine error kinds to HTTP status codes. No business rules live here.

ENDPOINTS:
  Auth (public):
    POST /api/auth/register              Create a user
    POST /api/auth/login                 Issue a token

  Bank (Bearer token required):
    POST /api/bank/accounts              Open an account for the caller
    GET  /api/bank/accounts              List the caller's active accounts
    GET  /api/bank/account/{accountID}   Get one account
    POST /api/bank/deposit               Credit an account
    POST /api/bank/withdraw              Debit an account
    POST /api/bank/transfer              Move funds between accounts
    GET  /api/bank/transactions/{accountID}  History, newest first

IDEMPOTENCY:
  Mutating bank endpoints honor an optional Idempotency-Key header; a
  repeated request with the same key returns the original transaction.

ERROR MAPPING:
  404 missing account/owner, 409 conflict (username, identifier),
  400 invalid input / inactive account / same-account transfer,
  422 insufficient funds, 423 lock timeout, 401 bad credentials or
  token, 500 everything else.

SEE ALSO:
  - dto.go: Request/response shapes
  - server.go: Router and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/coldriver/bankcore/auth"
	"github.com/coldriver/bankcore/ledger"
)

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Auth     *auth.Service
	Accounts *ledger.AccountService
	Engine   *ledger.Engine
}

func NewHandler(authSvc *auth.Service, accounts *ledger.AccountService, engine *ledger.Engine) *Handler {
	return &Handler{Auth: authSvc, Accounts: accounts, Engine: engine}
}

// =============================================================================
// AUTH HANDLERS
// =============================================================================

// Register creates a new user.
// POST /api/auth/register
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	user, err := h.Auth.Register(r.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrUsernameTaken) {
			writeError(w, http.StatusConflict, "Username already exists", nil)
			return
		}
		writeError(w, http.StatusBadRequest, "Registration failed", err)
		return
	}
	writeJSON(w, http.StatusCreated, toUserDTO(user))
}

// Login checks credentials and returns a token.
// POST /api/auth/login
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	token, err := h.Auth.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			writeError(w, http.StatusUnauthorized, "Invalid username or password", nil)
			return
		}
		writeError(w, http.StatusInternalServerError, "Login failed", err)
		return
	}
	writeJSON(w, http.StatusOK, LoginResponse{Token: token})
}

// =============================================================================
// ACCOUNT HANDLERS
// =============================================================================

// CreateAccount opens a new account owned by the caller.
// POST /api/bank/accounts
func (h *Handler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req CreateAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	account, err := h.Accounts.CreateAccount(r.Context(), callerID(r), ledger.AccountType(req.AccountType))
	if err != nil {
		writeLedgerError(w, "Failed to create account", err)
		return
	}
	writeJSON(w, http.StatusCreated, toAccountDTO(account))
}

// ListAccounts returns the caller's active accounts.
// GET /api/bank/accounts
func (h *Handler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.Accounts.ListAccounts(r.Context(), callerID(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list accounts", err)
		return
	}

	dtos := make([]AccountDTO, len(accounts))
	for i, a := range accounts {
		dtos[i] = toAccountDTO(a)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetAccount returns one account.
// GET /api/bank/account/{accountID}
func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	account, err := h.Accounts.GetAccount(r.Context(), chi.URLParam(r, "accountID"))
	if err != nil {
		writeLedgerError(w, "Failed to get account", err)
		return
	}
	writeJSON(w, http.StatusOK, toAccountDTO(account))
}

// =============================================================================
// TRANSACTION HANDLERS
// =============================================================================

// Deposit credits an account.
// POST /api/bank/deposit
func (h *Handler) Deposit(w http.ResponseWriter, r *http.Request) {
	var req DepositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid amount", err)
		return
	}

	tx, err := h.Engine.Deposit(r.Context(), req.AccountID, amount, idempotencyKey(r))
	if err != nil {
		writeLedgerError(w, "Deposit failed", err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionDTO(tx))
}

// Withdraw debits an account.
// POST /api/bank/withdraw
func (h *Handler) Withdraw(w http.ResponseWriter, r *http.Request) {
	var req WithdrawRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid amount", err)
		return
	}

	tx, err := h.Engine.Withdraw(r.Context(), req.AccountID, amount, idempotencyKey(r))
	if err != nil {
		writeLedgerError(w, "Withdrawal failed", err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionDTO(tx))
}

// Transfer moves funds between two accounts.
// POST /api/bank/transfer
func (h *Handler) Transfer(w http.ResponseWriter, r *http.Request) {
	var req TransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid amount", err)
		return
	}

	tx, err := h.Engine.Transfer(r.Context(), req.FromAccountID, req.ToAccountID, amount, idempotencyKey(r))
	if err != nil {
		writeLedgerError(w, "Transfer failed", err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionDTO(tx))
}

// GetTransactions returns an account's history, newest first.
// GET /api/bank/transactions/{accountID}
func (h *Handler) GetTransactions(w http.ResponseWriter, r *http.Request) {
	txs, err := h.Engine.History(r.Context(), chi.URLParam(r, "accountID"))
	if err != nil {
		writeLedgerError(w, "Failed to get transactions", err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionDTOs(txs))
}

// =============================================================================
// HELPERS
// =============================================================================

func parseAmount(s string) (decimal.Decimal, error) {
	amount, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, err
	}
	if !amount.IsPositive() {
		return decimal.Zero, ledger.ErrInvalidAmount
	}
	return amount, nil
}

func idempotencyKey(r *http.Request) string {
	return r.Header.Get("Idempotency-Key")
}

func writeLedgerError(w http.ResponseWriter, message string, err error) {
	switch {
	case ledger.IsNotFound(err):
		writeError(w, http.StatusNotFound, message, err)
	case errors.Is(err, ledger.ErrConflict):
		writeError(w, http.StatusConflict, message, err)
	case errors.Is(err, ledger.ErrInsufficientFunds):
		writeError(w, http.StatusUnprocessableEntity, message, err)
	case errors.Is(err, ledger.ErrLockTimeout):
		writeError(w, http.StatusLocked, message, err)
	case ledger.IsClientError(err):
		writeError(w, http.StatusBadRequest, message, err)
	default:
		writeError(w, http.StatusInternalServerError, message, err)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
