package app

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"spendwise/internal/domain/user"
	"spendwise/internal/infrastructure/plaid"
	"spendwise/internal/interfaces/jobqueue"
	"spendwise/internal/shared/config"
)

// MockProvider serves a single account and one page of transactions.
type MockProvider struct {
	rotations int
}

func (m *MockProvider) CreateLinkToken(ctx context.Context, userID int64) (string, error) {
	return "link-sandbox", nil
}

func (m *MockProvider) ExchangePublicToken(ctx context.Context, publicToken string) (string, error) {
	return "access-0", nil
}

func (m *MockProvider) RotateAccessToken(ctx context.Context, accessToken string) (string, error) {
	m.rotations++
	return "access-rotated", nil
}

func (m *MockProvider) GetAccounts(ctx context.Context, accessToken string) ([]plaid.Account, error) {
	return []plaid.Account{{AccountID: "acc-1", Name: "Checking", Type: "depository"}}, nil
}

func (m *MockProvider) SyncTransactions(ctx context.Context, accessToken, cursor string) (*plaid.TransactionSyncPage, error) {
	return &plaid.TransactionSyncPage{
		Added: []plaid.Transaction{
			{TransactionID: "tx-1", AccountID: "acc-1", Date: "2026-10-01", Name: "Coffee", Amount: decimal.RequireFromString("4.50"), Category: []string{"Food"}},
			{TransactionID: "tx-2", AccountID: "acc-1", Date: "2026-10-02", Name: "Rent", Amount: decimal.RequireFromString("1200")},
		},
		NextCursor: "cursor-1",
	}, nil
}

func memoryConfig() *config.Config {
	return &config.Config{
		Store: config.StoreMemory,
		Sync:  config.SyncConfig{MaxPages: 10, LockMode: "local"},
		Queue: config.QueueConfig{
			WorkersPerQueue: 1,
			MaxAttempts:     3,
			BaseBackoff:     time.Millisecond,
			MaxBackoff:      5 * time.Millisecond,
			PollInterval:    5 * time.Millisecond,
		},
	}
}

func TestBuild_MemoryPipeline(t *testing.T) {
	provider := &MockProvider{}
	deps, err := Build(memoryConfig(), Options{Provider: provider})
	if err != nil {
		t.Fatalf("Build() failed: %v", err)
	}
	defer deps.Close()

	reconciled := make(chan jobqueue.Event, 1)
	deps.Queue.OnEvent(func(ev jobqueue.Event) {
		if ev.Queue == jobqueue.QueueReconcile && ev.Status == jobqueue.StatusSucceeded {
			select {
			case reconciled <- ev:
			default:
			}
		}
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	deps.StartWorkers(ctx)
	defer deps.Queue.Shutdown(time.Second)

	u, err := deps.Users.Create(ctx, user.CreateParams{Email: "ana@example.com"})
	if err != nil {
		t.Fatalf("Create() failed: %v", err)
	}
	if err := deps.Link.CompleteLink(ctx, "public-sandbox", u.ID); err != nil {
		t.Fatalf("CompleteLink() failed: %v", err)
	}

	job, err := deps.Link.TriggerSync(ctx, u.ID)
	if err != nil {
		t.Fatalf("TriggerSync() failed: %v", err)
	}
	if err := job.Wait(ctx); err != nil {
		t.Fatalf("sync job failed: %v", err)
	}

	select {
	case <-reconciled:
	case <-ctx.Done():
		t.Fatal("reconcile job did not complete")
	}

	stored, _ := deps.Users.GetByID(ctx, u.ID)
	if stored.AccessToken == nil || *stored.AccessToken != "access-rotated" {
		t.Errorf("stored credential = %v, want the rotated one", stored.AccessToken)
	}
	if stored.Cursor == nil || *stored.Cursor != "cursor-1" {
		t.Errorf("stored cursor = %v, want cursor-1", stored.Cursor)
	}

	accounts, _ := deps.Accounts.ListByUserID(ctx, u.ID)
	if len(accounts) != 1 {
		t.Fatalf("accounts = %d, want 1", len(accounts))
	}
	txs, _ := deps.Txs.ListByAccountID(ctx, accounts[0].ID)
	if len(txs) != 2 {
		t.Errorf("transactions = %d, want 2", len(txs))
	}
	if provider.rotations != 1 {
		t.Errorf("rotations = %d, want 1", provider.rotations)
	}
}

func TestBuild_UnknownPlaidEnvironment(t *testing.T) {
	cfg := memoryConfig()
	cfg.Plaid.Environment = "staging"

	if _, err := Build(cfg, Options{}); err == nil {
		t.Error("Build() expected error for unknown provider environment")
	}
}
