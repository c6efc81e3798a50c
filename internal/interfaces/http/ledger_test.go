package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"spendwise/internal/domain/account"
	"spendwise/internal/domain/transaction"
	"spendwise/internal/domain/user"
	"spendwise/internal/infrastructure/memory"
)

// seedLedger creates two users, one account each, and n transactions on the
// first user's account.
func seedLedger(t *testing.T, n int) (*memory.Ledger, int64, int64, int64) {
	t.Helper()
	ctx := context.Background()
	ledger := memory.NewLedger()

	owner, _ := ledger.Users().Create(ctx, user.CreateParams{Email: "owner@example.com"})
	other, _ := ledger.Users().Create(ctx, user.CreateParams{Email: "other@example.com"})
	acc, err := ledger.Accounts().Create(ctx, account.CreateParams{UserID: owner.ID, ExternalID: "acc-1", Name: "Savings", Type: "depository", Subtype: "savings"})
	if err != nil {
		t.Fatalf("seed account: %v", err)
	}
	if _, err := ledger.Accounts().Create(ctx, account.CreateParams{UserID: other.ID, ExternalID: "acc-2", Name: "Card", Type: "credit"}); err != nil {
		t.Fatalf("seed account: %v", err)
	}

	day := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		_, err := ledger.Transactions().Create(ctx, transaction.CreateParams{
			AccountID:   acc.ID,
			ExternalID:  fmt.Sprintf("tx-%d", i),
			Date:        day.AddDate(0, 0, i),
			Description: "Coffee",
			Amount:      decimal.RequireFromString("3.25"),
			Category:    "Food",
		})
		if err != nil {
			t.Fatalf("seed transaction: %v", err)
		}
	}
	return ledger, owner.ID, other.ID, acc.ID
}

func TestHandleListAccounts(t *testing.T) {
	ledger, ownerID, _, _ := seedLedger(t, 0)
	h := NewLedgerHandler(ledger.Accounts(), ledger.Transactions())

	rr := httptest.NewRecorder()
	h.HandleListAccounts(rr, httptest.NewRequest(http.MethodGet, fmt.Sprintf("/api/accounts?userId=%d", ownerID), nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}
	var got []AccountResponse
	if err := json.NewDecoder(rr.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 1 || got[0].ExternalID != "acc-1" || got[0].AccountType != "saving" {
		t.Errorf("accounts = %+v", got)
	}
}

func TestHandleListAccounts_StoreFailure(t *testing.T) {
	ledger, ownerID, _, _ := seedLedger(t, 0)
	ledger.FailOn("accounts.ListByUserID", errors.New("db down"))
	h := NewLedgerHandler(ledger.Accounts(), ledger.Transactions())

	rr := httptest.NewRecorder()
	h.HandleListAccounts(rr, httptest.NewRequest(http.MethodGet, fmt.Sprintf("/api/accounts?userId=%d", ownerID), nil))

	if rr.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", rr.Code, http.StatusInternalServerError)
	}
}

func TestHandleListTransactions(t *testing.T) {
	ledger, ownerID, otherID, accountID := seedLedger(t, 5)
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/accounts/{id}/transactions", NewLedgerHandler(ledger.Accounts(), ledger.Transactions()).HandleListTransactions)

	tests := []struct {
		name       string
		path       string
		wantStatus int
		wantCount  int
		wantFirst  string
	}{
		{name: "newest first", path: fmt.Sprintf("/api/accounts/%d/transactions?userId=%d", accountID, ownerID), wantStatus: http.StatusOK, wantCount: 5, wantFirst: "tx-4"},
		{name: "paged", path: fmt.Sprintf("/api/accounts/%d/transactions?userId=%d&limit=2&offset=1", accountID, ownerID), wantStatus: http.StatusOK, wantCount: 2, wantFirst: "tx-3"},
		{name: "offset past end", path: fmt.Sprintf("/api/accounts/%d/transactions?userId=%d&offset=50", accountID, ownerID), wantStatus: http.StatusOK},
		{name: "other user's account", path: fmt.Sprintf("/api/accounts/%d/transactions?userId=%d", accountID, otherID), wantStatus: http.StatusNotFound},
		{name: "bad account id", path: fmt.Sprintf("/api/accounts/abc/transactions?userId=%d", ownerID), wantStatus: http.StatusBadRequest},
		{name: "missing user", path: fmt.Sprintf("/api/accounts/%d/transactions", accountID), wantStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, tt.path, nil))

			if rr.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rr.Code, tt.wantStatus)
			}
			if tt.wantStatus != http.StatusOK {
				return
			}
			var page TransactionPage
			if err := json.NewDecoder(rr.Body).Decode(&page); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if page.Total != 5 || len(page.Transactions) != tt.wantCount {
				t.Fatalf("page = total %d, %d transactions, want 5, %d", page.Total, len(page.Transactions), tt.wantCount)
			}
			if tt.wantFirst != "" && page.Transactions[0].ExternalID != tt.wantFirst {
				t.Errorf("first = %s, want %s", page.Transactions[0].ExternalID, tt.wantFirst)
			}
		})
	}
}

func TestPagination(t *testing.T) {
	tests := []struct {
		limit, offset         string
		wantLimit, wantOffset int
	}{
		{"", "", defaultPageSize, 0},
		{"10", "20", 10, 20},
		{"0", "-1", defaultPageSize, 0},
		{"100000", "x", maxPageSize, 0},
	}
	for _, tt := range tests {
		limit, offset := pagination(tt.limit, tt.offset)
		if limit != tt.wantLimit || offset != tt.wantOffset {
			t.Errorf("pagination(%q, %q) = %d, %d, want %d, %d", tt.limit, tt.offset, limit, offset, tt.wantLimit, tt.wantOffset)
		}
	}
}

func TestMapAccountType(t *testing.T) {
	tests := []struct {
		accountType, subtype, want string
	}{
		{"depository", "checking", "normal"},
		{"depository", "savings", "saving"},
		{"credit", "credit card", "credit"},
		{"loan", "mortgage", "normal"},
	}
	for _, tt := range tests {
		if got := mapAccountType(tt.accountType, tt.subtype); got != tt.want {
			t.Errorf("mapAccountType(%q, %q) = %q, want %q", tt.accountType, tt.subtype, got, tt.want)
		}
	}
}
