package openfinance

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"spendwise/internal/domain/account"
	"spendwise/internal/domain/user"
	"spendwise/internal/infrastructure/memory"
	"spendwise/internal/infrastructure/plaid"
)

type reconcileFixture struct {
	ledger     *memory.Ledger
	userID     int64
	client     *MockClient
	reconciler *Reconciler
}

func newReconcileFixture(t *testing.T, snapshot ...plaid.Account) *reconcileFixture {
	t.Helper()
	ledger := memory.NewLedger()
	u, err := ledger.Users().Create(context.Background(), user.CreateParams{Email: "u@example.com"})
	if err != nil {
		t.Fatalf("seed user: %v", err)
	}
	client := &MockClient{
		GetAccountsFunc: func(ctx context.Context, accessToken string) ([]plaid.Account, error) {
			return snapshot, nil
		},
	}
	return &reconcileFixture{
		ledger:     ledger,
		userID:     u.ID,
		client:     client,
		reconciler: NewReconciler(client, account.NewService(ledger.Accounts()), ledger.Transactions()),
	}
}

func (f *reconcileFixture) seedAccounts(t *testing.T) {
	t.Helper()
	if _, err := f.reconciler.ReconcileAccounts(context.Background(), "C1", f.userID); err != nil {
		t.Fatalf("ReconcileAccounts() failed: %v", err)
	}
}

func (f *reconcileFixture) ids() []string {
	return f.ledger.Transactions().ExternalIDs()
}

func TestReconciler_ApplyAdded_Idempotent(t *testing.T) {
	f := newReconcileFixture(t, plaid.Account{AccountID: "A1", Name: "Checking"})
	f.seedAccounts(t)
	ctx := context.Background()
	added := []plaid.Transaction{providerTx("T1", "A1", "1.00"), providerTx("T2", "A1", "2.00")}

	first, err := f.reconciler.ApplyAdded(ctx, f.userID, added)
	if err != nil {
		t.Fatalf("ApplyAdded() failed: %v", err)
	}
	once := f.ids()

	second, err := f.reconciler.ApplyAdded(ctx, f.userID, added)
	if err != nil {
		t.Fatalf("ApplyAdded() replay failed: %v", err)
	}

	if !reflect.DeepEqual(f.ids(), once) {
		t.Errorf("ledger after replay = %v, want %v", f.ids(), once)
	}
	if first.Added != 2 || second.Added != 0 || second.Skipped != 2 {
		t.Errorf("first.Added = %d, second.Added = %d, second.Skipped = %d; want 2, 0, 2",
			first.Added, second.Added, second.Skipped)
	}
}

func TestReconciler_ApplyModified_UnseenActsAsAdd(t *testing.T) {
	txs := []plaid.Transaction{providerTx("T1", "A1", "5.00"), providerTx("T9", "MISSING", "3.00")}

	viaAdd := newReconcileFixture(t, plaid.Account{AccountID: "A1", Name: "Checking"})
	viaAdd.seedAccounts(t)
	addRes, err := viaAdd.reconciler.ApplyAdded(context.Background(), viaAdd.userID, txs)
	if err != nil {
		t.Fatalf("ApplyAdded() failed: %v", err)
	}

	viaMod := newReconcileFixture(t, plaid.Account{AccountID: "A1", Name: "Checking"})
	viaMod.seedAccounts(t)
	modRes, err := viaMod.reconciler.ApplyModified(context.Background(), viaMod.userID, txs)
	if err != nil {
		t.Fatalf("ApplyModified() failed: %v", err)
	}

	if !reflect.DeepEqual(viaAdd.ids(), viaMod.ids()) {
		t.Errorf("ledger via modified = %v, via added = %v", viaMod.ids(), viaAdd.ids())
	}
	if addRes.Added != modRes.Added || len(addRes.Unresolved) != len(modRes.Unresolved) {
		t.Errorf("results differ: added %+v, modified %+v", addRes, modRes)
	}
}

func TestReconciler_ApplyModified_UpdatesInPlace(t *testing.T) {
	f := newReconcileFixture(t, plaid.Account{AccountID: "A1", Name: "Checking"})
	f.seedAccounts(t)
	ctx := context.Background()

	if _, err := f.reconciler.ApplyAdded(ctx, f.userID, []plaid.Transaction{providerTx("T1", "A1", "5.00")}); err != nil {
		t.Fatalf("ApplyAdded() failed: %v", err)
	}

	changed := providerTx("T1", "A1", "7.25")
	changed.Name = "Corrected merchant"
	changed.Date = "2024-03-05"
	changed.Category = []string{"Travel", "Taxi"}
	res, err := f.reconciler.ApplyModified(ctx, f.userID, []plaid.Transaction{changed})
	if err != nil {
		t.Fatalf("ApplyModified() failed: %v", err)
	}
	if res.Modified != 1 || res.Added != 0 {
		t.Errorf("Modified = %d, Added = %d; want 1, 0", res.Modified, res.Added)
	}

	got, _ := f.ledger.Transactions().GetByExternalID(ctx, "T1")
	if got.Description != "Corrected merchant" || got.Amount.String() != "7.25" ||
		got.Category != "Travel" || got.Date.Day() != 5 {
		t.Errorf("transaction not updated: %+v", got)
	}
}

func TestReconciler_ApplyRemoved_SkipsAbsentAndForeign(t *testing.T) {
	f := newReconcileFixture(t, plaid.Account{AccountID: "A1", Name: "Checking"})
	f.seedAccounts(t)
	ctx := context.Background()
	_, _ = f.reconciler.ApplyAdded(ctx, f.userID, []plaid.Transaction{providerTx("T1", "A1", "1.00")})

	res, err := f.reconciler.ApplyRemoved(ctx, f.userID, []plaid.RemovedTransaction{{TransactionID: "NOPE"}})
	if err != nil {
		t.Fatalf("ApplyRemoved() absent id error = %v, want nil", err)
	}
	if res.Removed != 0 || res.Skipped != 1 {
		t.Errorf("Removed = %d, Skipped = %d; want 0, 1", res.Removed, res.Skipped)
	}
	if got := f.ids(); !reflect.DeepEqual(got, []string{"T1"}) {
		t.Errorf("ledger = %v, want [T1]", got)
	}

	res, err = f.reconciler.ApplyRemoved(ctx, f.userID+1, []plaid.RemovedTransaction{{TransactionID: "T1"}})
	if err != nil || res.Removed != 0 || res.Skipped != 1 {
		t.Errorf("ApplyRemoved(T1) for another user = %+v, %v; want skipped", res, err)
	}
	if got := f.ids(); !reflect.DeepEqual(got, []string{"T1"}) {
		t.Errorf("ledger after foreign removal = %v, want [T1]", got)
	}

	res, err = f.reconciler.ApplyRemoved(ctx, f.userID, []plaid.RemovedTransaction{{TransactionID: "T1"}})
	if err != nil || res.Removed != 1 {
		t.Errorf("ApplyRemoved(T1) = %+v, %v", res, err)
	}
	if got := f.ids(); len(got) != 0 {
		t.Errorf("ledger = %v, want empty", got)
	}
}

func TestReconciler_AccountOrdering(t *testing.T) {
	bundleTxs := []plaid.Transaction{providerTx("T1", "A1", "9.99")}

	t.Run("accounts reconciled first", func(t *testing.T) {
		f := newReconcileFixture(t, plaid.Account{AccountID: "A1", Name: "Checking"})
		res, err := f.reconciler.Reconcile(context.Background(), &DeltaBundle{
			UserID: f.userID, AccessToken: "C1", Added: bundleTxs,
		})
		if err != nil {
			t.Fatalf("Reconcile() failed: %v", err)
		}
		if res.AccountsCreated != 1 || res.Added != 1 || len(res.Unresolved) != 0 {
			t.Errorf("Reconcile() = %+v", res)
		}
	})

	t.Run("transactions before accounts", func(t *testing.T) {
		f := newReconcileFixture(t, plaid.Account{AccountID: "A1", Name: "Checking"})
		res, err := f.reconciler.ApplyAdded(context.Background(), f.userID, bundleTxs)
		if err != nil {
			t.Fatalf("ApplyAdded() error = %v, want nil", err)
		}
		if len(res.Unresolved) != 1 || !errors.Is(res.Unresolved[0], ErrAccountNotResolved) {
			t.Fatalf("Unresolved = %v, want one ErrAccountNotResolved", res.Unresolved)
		}
		if res.Unresolved[0].TransactionID != "T1" {
			t.Errorf("Unresolved transaction = %q, want T1", res.Unresolved[0].TransactionID)
		}
		if len(f.ids()) != 0 {
			t.Errorf("ledger = %v, want empty", f.ids())
		}
	})
}

func TestReconciler_ReconcileAccounts_SinglePass(t *testing.T) {
	snapshot := []plaid.Account{
		{AccountID: "A1", Name: "Checking"},
		{AccountID: "A2", Name: "Savings"},
		{AccountID: "A3", OfficialName: "Platinum Card"},
	}
	f := newReconcileFixture(t, snapshot...)
	ctx := context.Background()

	res, err := f.reconciler.ReconcileAccounts(ctx, "C1", f.userID)
	if err != nil {
		t.Fatalf("ReconcileAccounts() failed: %v", err)
	}
	if res.AccountsCreated != 3 {
		t.Errorf("AccountsCreated = %d, want 3", res.AccountsCreated)
	}

	snapshot[0].Name = "Everyday Checking"
	f.client.GetAccountsFunc = func(ctx context.Context, accessToken string) ([]plaid.Account, error) {
		return snapshot, nil
	}
	res, err = f.reconciler.ReconcileAccounts(ctx, "C1", f.userID)
	if err != nil {
		t.Fatalf("ReconcileAccounts() second pass failed: %v", err)
	}
	if res.AccountsCreated != 0 || res.AccountsUpdated != 1 {
		t.Errorf("second pass created %d updated %d, want 0 and 1", res.AccountsCreated, res.AccountsUpdated)
	}

	accounts, _ := f.ledger.Accounts().ListByUserID(ctx, f.userID)
	if len(accounts) != 3 {
		t.Fatalf("ledger has %d accounts, want 3", len(accounts))
	}
	if accounts[0].Name != "Everyday Checking" || accounts[2].Name != "Platinum Card" {
		t.Errorf("account names = %q, %q", accounts[0].Name, accounts[2].Name)
	}
}

func TestReconciler_StoreFailureAborts(t *testing.T) {
	f := newReconcileFixture(t, plaid.Account{AccountID: "A1", Name: "Checking"})
	boom := errors.New("connection refused")
	f.ledger.FailOn("transactions.Create", boom)

	_, err := f.reconciler.Reconcile(context.Background(), &DeltaBundle{
		UserID:  f.userID,
		Added:   []plaid.Transaction{providerTx("T1", "A1", "1.00")},
		Removed: []plaid.RemovedTransaction{{TransactionID: "T0"}},
	})
	if !errors.Is(err, boom) {
		t.Errorf("Reconcile() error = %v, want %v", err, boom)
	}
}

func TestReconciler_ProviderFailureAborts(t *testing.T) {
	f := newReconcileFixture(t)
	f.client.GetAccountsFunc = func(ctx context.Context, accessToken string) ([]plaid.Account, error) {
		return nil, plaid.ErrProviderTimeout
	}

	_, err := f.reconciler.Reconcile(context.Background(), &DeltaBundle{UserID: f.userID})
	if !errors.Is(err, ErrProviderTimeout) {
		t.Errorf("Reconcile() error = %v, want %v", err, ErrProviderTimeout)
	}
}

func TestReconciler_MalformedDateIsSkipped(t *testing.T) {
	f := newReconcileFixture(t, plaid.Account{AccountID: "A1", Name: "Checking"})
	f.seedAccounts(t)

	bad := providerTx("T1", "A1", "1.00")
	bad.Date = "03/01/2024"
	res, err := f.reconciler.ApplyAdded(context.Background(), f.userID, []plaid.Transaction{bad, providerTx("T2", "A1", "2.00")})
	if err != nil {
		t.Fatalf("ApplyAdded() error = %v", err)
	}
	if res.Added != 1 || len(res.Unresolved) != 1 {
		t.Errorf("Added = %d, Unresolved = %d; want 1, 1", res.Added, len(res.Unresolved))
	}
}
