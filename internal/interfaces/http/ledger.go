package http

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"spendwise/internal/domain/account"
	"spendwise/internal/domain/transaction"
	"spendwise/internal/shared/logger"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

// AccountLister reads a user's accounts.
type AccountLister interface {
	ListByUserID(ctx context.Context, userID int64) ([]*account.Account, error)
}

// TransactionLister reads an account's transactions, newest first.
type TransactionLister interface {
	ListByAccountID(ctx context.Context, accountID int64) ([]*transaction.Transaction, error)
}

// LedgerHandler serves the reconciled ledger to the dashboard.
type LedgerHandler struct {
	accounts     AccountLister
	transactions TransactionLister
}

func NewLedgerHandler(accounts AccountLister, transactions TransactionLister) *LedgerHandler {
	return &LedgerHandler{accounts: accounts, transactions: transactions}
}

type AccountResponse struct {
	ID          int64  `json:"id"`
	ExternalID  string `json:"externalId"`
	Name        string `json:"name"`
	AccountType string `json:"accountType"` // "normal", "credit", "saving"
	Mask        string `json:"mask,omitempty"`
	UpdatedAt   string `json:"updatedAt"`
}

type TransactionResponse struct {
	ID           int64           `json:"id"`
	ExternalID   string          `json:"externalId"`
	Date         string          `json:"date"`
	Description  string          `json:"description"`
	Amount       decimal.Decimal `json:"amount"`
	Category     string          `json:"category"`
	Pending      bool            `json:"pending"`
	MerchantName *string         `json:"merchantName,omitempty"`
}

type TransactionPage struct {
	Transactions []TransactionResponse `json:"transactions"`
	Total        int                   `json:"total"`
	Limit        int                   `json:"limit"`
	Offset       int                   `json:"offset"`
}

// HandleListAccounts handles GET /api/accounts?userId=
func (h *LedgerHandler) HandleListAccounts(w http.ResponseWriter, r *http.Request) {
	userID, err := parseUserID(r.URL.Query().Get("userId"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Missing required fields. Must contain [userId]")
		return
	}

	accounts, err := h.accounts.ListByUserID(r.Context(), userID)
	if err != nil {
		logger.Ctx(r.Context()).Error("failed to list accounts", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	response := make([]AccountResponse, 0, len(accounts))
	for _, acc := range accounts {
		response = append(response, toAccountResponse(acc))
	}
	writeJSON(w, http.StatusOK, response)
}

// HandleListTransactions handles GET /api/accounts/{id}/transactions?userId=&limit=&offset=
func (h *LedgerHandler) HandleListTransactions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	userID, err := parseUserID(q.Get("userId"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Missing required fields. Must contain [userId]")
		return
	}
	accountID, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || accountID <= 0 {
		writeError(w, http.StatusBadRequest, "Account ID must be a positive integer")
		return
	}
	limit, offset := pagination(q.Get("limit"), q.Get("offset"))

	log := logger.Ctx(r.Context())
	accounts, err := h.accounts.ListByUserID(r.Context(), userID)
	if err != nil {
		log.Error("failed to list accounts", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if !owns(accounts, accountID) {
		writeError(w, http.StatusNotFound, "Account not found")
		return
	}

	txs, err := h.transactions.ListByAccountID(r.Context(), accountID)
	if err != nil {
		log.Error("failed to list transactions", "account_id", accountID, "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	page := TransactionPage{Total: len(txs), Limit: limit, Offset: offset, Transactions: []TransactionResponse{}}
	if offset < len(txs) {
		end := min(offset+limit, len(txs))
		for _, tx := range txs[offset:end] {
			page.Transactions = append(page.Transactions, toTransactionResponse(tx))
		}
	}
	writeJSON(w, http.StatusOK, page)
}

func owns(accounts []*account.Account, id int64) bool {
	for _, acc := range accounts {
		if acc.ID == id {
			return true
		}
	}
	return false
}

// pagination ignores malformed values and clamps the page size.
func pagination(rawLimit, rawOffset string) (limit, offset int) {
	limit = defaultPageSize
	if n, err := strconv.Atoi(rawLimit); err == nil && n > 0 {
		limit = min(n, maxPageSize)
	}
	if n, err := strconv.Atoi(rawOffset); err == nil && n >= 0 {
		offset = n
	}
	return limit, offset
}

func toAccountResponse(acc *account.Account) AccountResponse {
	return AccountResponse{
		ID:          acc.ID,
		ExternalID:  acc.ExternalID,
		Name:        acc.Name,
		AccountType: mapAccountType(acc.Type, acc.Subtype),
		Mask:        acc.Mask,
		UpdatedAt:   acc.UpdatedAt.Format(time.RFC3339),
	}
}

func toTransactionResponse(tx *transaction.Transaction) TransactionResponse {
	return TransactionResponse{
		ID:           tx.ID,
		ExternalID:   tx.ExternalID,
		Date:         tx.Date.Format("2006-01-02"),
		Description:  tx.Description,
		Amount:       tx.Amount,
		Category:     tx.Category,
		Pending:      tx.Pending,
		MerchantName: tx.MerchantName,
	}
}

// mapAccountType folds provider type and subtype into the dashboard's three
// account kinds.
func mapAccountType(accountType, subtype string) string {
	switch {
	case accountType == "credit" || subtype == "credit card":
		return "credit"
	case subtype == "savings" || subtype == "money market" || subtype == "cd":
		return "saving"
	default:
		return "normal"
	}
}
