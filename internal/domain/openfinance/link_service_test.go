package openfinance

import (
	"context"
	"errors"
	"testing"

	"spendwise/internal/domain/user"
	"spendwise/internal/infrastructure/memory"
)

func newLinkFixture(t *testing.T) (*LinkService, *memory.Ledger, *MockClient, *MockDispatcher, int64) {
	t.Helper()
	ledger := memory.NewLedger()
	u, err := ledger.Users().Create(context.Background(), user.CreateParams{Email: "u@example.com"})
	if err != nil {
		t.Fatalf("seed user: %v", err)
	}
	client := &MockClient{}
	dispatcher := &MockDispatcher{}
	return NewLinkService(client, ledger.Users(), dispatcher), ledger, client, dispatcher, u.ID
}

func TestLinkService_StartLink(t *testing.T) {
	svc, _, _, _, id := newLinkFixture(t)

	token, err := svc.StartLink(context.Background(), id)
	if err != nil {
		t.Fatalf("StartLink() failed: %v", err)
	}
	if token == "" {
		t.Error("StartLink() returned empty token")
	}

	if _, err := svc.StartLink(context.Background(), 999); !errors.Is(err, ErrUserNotFound) {
		t.Errorf("StartLink() unknown user error = %v, want %v", err, ErrUserNotFound)
	}
}

func TestLinkService_CompleteLink_ClearsCursor(t *testing.T) {
	svc, ledger, _, _, id := newLinkFixture(t)
	ctx := context.Background()
	_ = ledger.Users().UpdateSyncState(ctx, id, "old", "c-old")

	if err := svc.CompleteLink(ctx, "public-sandbox-1", id); err != nil {
		t.Fatalf("CompleteLink() failed: %v", err)
	}

	u, _ := ledger.Users().GetByID(ctx, id)
	if u.AccessToken == nil || *u.AccessToken != "access-public-sandbox-1" {
		t.Errorf("AccessToken = %v, want access-public-sandbox-1", u.AccessToken)
	}
	if u.Cursor != nil {
		t.Errorf("Cursor = %q, want nil", *u.Cursor)
	}
}

func TestLinkService_CompleteLink_Errors(t *testing.T) {
	svc, _, client, _, id := newLinkFixture(t)
	ctx := context.Background()

	if err := svc.CompleteLink(ctx, " ", id); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("CompleteLink() blank token error = %v, want %v", err, ErrInvalidInput)
	}

	client.ExchangePublicTokenFunc = func(ctx context.Context, publicToken string) (string, error) {
		return "", ErrInvalidCredential
	}
	err := svc.CompleteLink(ctx, "public-expired", id)
	if !errors.Is(err, ErrInvalidCredential) || !IsClientError(err) {
		t.Errorf("CompleteLink() rejected token error = %v, want client error %v", err, ErrInvalidCredential)
	}
}

func TestLinkService_TriggerSyncAndIsLinked(t *testing.T) {
	svc, ledger, _, dispatcher, id := newLinkFixture(t)
	ctx := context.Background()

	linked, err := svc.IsLinked(ctx, id)
	if err != nil || linked {
		t.Errorf("IsLinked() before link = %v, %v; want false, nil", linked, err)
	}
	if _, err := svc.TriggerSync(ctx, id); !errors.Is(err, ErrNotLinked) {
		t.Errorf("TriggerSync() unlinked error = %v, want %v", err, ErrNotLinked)
	}

	_ = ledger.Users().LinkCredential(ctx, id, "C0")

	linked, _ = svc.IsLinked(ctx, id)
	if !linked {
		t.Error("IsLinked() after link = false, want true")
	}
	job, err := svc.TriggerSync(ctx, id)
	if err != nil {
		t.Fatalf("TriggerSync() failed: %v", err)
	}
	if job.ID() == "" || len(dispatcher.Syncs) != 1 || dispatcher.Syncs[0] != id {
		t.Errorf("TriggerSync() job %q, dispatched %v", job.ID(), dispatcher.Syncs)
	}
}

func TestIsClientError(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{ErrNotLinked, true},
		{ErrInvalidCredential, true},
		{ErrUserNotFound, true},
		{ErrInvalidInput, true},
		{ErrProviderTimeout, false},
		{ErrProviderError, false},
		{ErrSyncIncomplete, false},
		{errors.New("db down"), false},
	}
	for _, tt := range tests {
		if got := IsClientError(tt.err); got != tt.want {
			t.Errorf("IsClientError(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}
