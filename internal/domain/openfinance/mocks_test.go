package openfinance

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"spendwise/internal/infrastructure/plaid"
)

// MockClient is a mock implementation of plaid.ClientInterface
type MockClient struct {
	CreateLinkTokenFunc     func(ctx context.Context, userID int64) (string, error)
	ExchangePublicTokenFunc func(ctx context.Context, publicToken string) (string, error)
	RotateAccessTokenFunc   func(ctx context.Context, accessToken string) (string, error)
	GetAccountsFunc         func(ctx context.Context, accessToken string) ([]plaid.Account, error)
	SyncTransactionsFunc    func(ctx context.Context, accessToken, cursor string) (*plaid.TransactionSyncPage, error)
}

var _ plaid.ClientInterface = (*MockClient)(nil)

func (m *MockClient) CreateLinkToken(ctx context.Context, userID int64) (string, error) {
	if m.CreateLinkTokenFunc != nil {
		return m.CreateLinkTokenFunc(ctx, userID)
	}
	return fmt.Sprintf("link-sandbox-%d", userID), nil
}

func (m *MockClient) ExchangePublicToken(ctx context.Context, publicToken string) (string, error) {
	if m.ExchangePublicTokenFunc != nil {
		return m.ExchangePublicTokenFunc(ctx, publicToken)
	}
	return "access-" + publicToken, nil
}

func (m *MockClient) RotateAccessToken(ctx context.Context, accessToken string) (string, error) {
	if m.RotateAccessTokenFunc != nil {
		return m.RotateAccessTokenFunc(ctx, accessToken)
	}
	return accessToken + "'", nil
}

func (m *MockClient) GetAccounts(ctx context.Context, accessToken string) ([]plaid.Account, error) {
	if m.GetAccountsFunc != nil {
		return m.GetAccountsFunc(ctx, accessToken)
	}
	return nil, nil
}

func (m *MockClient) SyncTransactions(ctx context.Context, accessToken, cursor string) (*plaid.TransactionSyncPage, error) {
	if m.SyncTransactionsFunc != nil {
		return m.SyncTransactionsFunc(ctx, accessToken, cursor)
	}
	return &plaid.TransactionSyncPage{NextCursor: cursor}, nil
}

type fakeJob struct {
	id string
}

func (j *fakeJob) ID() string { return j.id }
func (j *fakeJob) Wait(ctx context.Context) error { return nil }

// MockDispatcher records dispatched work.
type MockDispatcher struct {
	mu                    sync.Mutex
	Syncs                 []int64
	Bundles               []*DeltaBundle
	DispatchSyncFunc      func(ctx context.Context, userID int64) (Job, error)
	DispatchReconcileFunc func(ctx context.Context, bundle *DeltaBundle) (Job, error)
}

func (m *MockDispatcher) DispatchSync(ctx context.Context, userID int64) (Job, error) {
	if m.DispatchSyncFunc != nil {
		return m.DispatchSyncFunc(ctx, userID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Syncs = append(m.Syncs, userID)
	return &fakeJob{id: fmt.Sprintf("sync-%d", len(m.Syncs))}, nil
}

func (m *MockDispatcher) DispatchReconcile(ctx context.Context, bundle *DeltaBundle) (Job, error) {
	if m.DispatchReconcileFunc != nil {
		return m.DispatchReconcileFunc(ctx, bundle)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Bundles = append(m.Bundles, bundle)
	return &fakeJob{id: fmt.Sprintf("reconcile-%d", len(m.Bundles))}, nil
}

func providerTx(id, accountID, amount string) plaid.Transaction {
	return plaid.Transaction{
		TransactionID: id,
		AccountID:     accountID,
		Date:          "2024-03-01",
		Name:          "Purchase " + id,
		Amount:        decimal.RequireFromString(amount),
		Category:      []string{"Shops"},
	}
}
