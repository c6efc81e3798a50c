package postgres_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"spendwise/internal/domain/account"
	"spendwise/internal/domain/openfinance"
	"spendwise/internal/domain/transaction"
	"spendwise/internal/domain/user"
	"spendwise/internal/infrastructure/postgres"
	"spendwise/internal/interfaces/jobqueue"
	"spendwise/internal/testutil"
)

func TestPostgres(t *testing.T) {
	env := testutil.SetupTestEnvironment(t)

	t.Run("users", func(t *testing.T) {
		env.CleanDB(t)
		testUserRepository(t, env)
	})
	t.Run("ledger", func(t *testing.T) {
		env.CleanDB(t)
		testLedger(t, env)
	})
	t.Run("jobs", func(t *testing.T) {
		env.CleanDB(t)
		testJobRepository(t, env)
	})
	t.Run("advisory lock", func(t *testing.T) {
		testAdvisoryLock(t, env)
	})
}

func testUserRepository(t *testing.T, env *testutil.TestEnvironment) {
	ctx := context.Background()
	repo := postgres.NewUserRepository(env.DB, env.Encryptor)

	u, err := repo.Create(ctx, user.CreateParams{Email: "a@example.com"})
	if err != nil {
		t.Fatalf("Create() failed: %v", err)
	}
	if u.IsLinked() {
		t.Error("new user is linked")
	}

	if err := repo.UpdateSyncState(ctx, u.ID, "access-C1", "cursor-1"); err != nil {
		t.Fatalf("UpdateSyncState() failed: %v", err)
	}
	got, err := repo.GetByID(ctx, u.ID)
	if err != nil || got == nil {
		t.Fatalf("GetByID() = %v, %v", got, err)
	}
	if *got.AccessToken != "access-C1" || got.CursorValue() != "cursor-1" {
		t.Errorf("stored credential %q cursor %q", *got.AccessToken, got.CursorValue())
	}

	var raw string
	if err := env.DB.QueryRowContext(ctx, `SELECT access_token FROM users WHERE id = $1`, u.ID).Scan(&raw); err != nil {
		t.Fatalf("read raw token: %v", err)
	}
	if raw == "access-C1" {
		t.Error("credential stored in plaintext")
	}

	if err := repo.LinkCredential(ctx, u.ID, "access-C2"); err != nil {
		t.Fatalf("LinkCredential() failed: %v", err)
	}
	got, _ = repo.GetByID(ctx, u.ID)
	if got.Cursor != nil {
		t.Errorf("LinkCredential() kept cursor %q", *got.Cursor)
	}

	linked, err := repo.ListLinked(ctx)
	if err != nil || len(linked) != 1 || linked[0].ID != u.ID {
		t.Errorf("ListLinked() = %v, %v", linked, err)
	}

	if err := repo.RotateCredential(ctx, 9999, "x"); !errors.Is(err, user.ErrUserNotFound) {
		t.Errorf("RotateCredential() unknown user = %v, want %v", err, user.ErrUserNotFound)
	}
	if missing, err := repo.GetByID(ctx, 9999); missing != nil || err != nil {
		t.Errorf("GetByID() unknown user = %v, %v; want nil, nil", missing, err)
	}
}

func testLedger(t *testing.T, env *testutil.TestEnvironment) {
	ctx := context.Background()
	users := postgres.NewUserRepository(env.DB, env.Encryptor)
	accounts := account.NewService(postgres.NewAccountRepository(env.DB))
	txs := postgres.NewTransactionRepository(env.DB)

	u, _ := users.Create(ctx, user.CreateParams{Email: "b@example.com"})

	acc, outcome, err := accounts.Upsert(ctx, account.CreateParams{UserID: u.ID, ExternalID: "A1", Name: "Checking", Type: "depository"})
	if err != nil || outcome != account.Created {
		t.Fatalf("Upsert() = %v, %v", outcome, err)
	}
	if _, outcome, _ = accounts.Upsert(ctx, account.CreateParams{UserID: u.ID, ExternalID: "A1", Name: "Checking"}); outcome != account.Unchanged {
		t.Errorf("Upsert() same snapshot outcome = %v, want Unchanged", outcome)
	}
	renamed, outcome, err := accounts.Upsert(ctx, account.CreateParams{UserID: u.ID, ExternalID: "A1", Name: "Main"})
	if err != nil || outcome != account.Updated || renamed.Name != "Main" || renamed.Type != "depository" {
		t.Errorf("Upsert() rename = %+v, %v, %v", renamed, outcome, err)
	}

	params := transaction.CreateParams{
		AccountID:   acc.ID,
		ExternalID:  "T1",
		Date:        time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		Description: "Coffee",
		Amount:      decimal.RequireFromString("4.50"),
		Category:    "Food and Drink",
	}
	created, err := txs.Create(ctx, params)
	if err != nil {
		t.Fatalf("Create() failed: %v", err)
	}
	if !created.Amount.Equal(params.Amount) {
		t.Errorf("Amount = %s, want %s", created.Amount, params.Amount)
	}
	if _, err := txs.Create(ctx, params); !errors.Is(err, transaction.ErrDuplicateExternalID) {
		t.Errorf("Create() duplicate = %v, want %v", err, transaction.ErrDuplicateExternalID)
	}
	orphan := params
	orphan.ExternalID, orphan.AccountID = "T2", 9999
	if _, err := txs.Create(ctx, orphan); !errors.Is(err, account.ErrAccountNotFound) {
		t.Errorf("Create() unknown account = %v, want %v", err, account.ErrAccountNotFound)
	}

	merchant := "Blue Bottle"
	update := transaction.UpdateFrom(params)
	update.Pending, update.MerchantName = true, &merchant
	updated, err := txs.Update(ctx, created.ID, update)
	if err != nil || !updated.Pending || updated.MerchantName == nil || *updated.MerchantName != merchant {
		t.Errorf("Update() = %+v, %v", updated, err)
	}

	stranger, _ := users.Create(ctx, user.CreateParams{Email: "c@example.com"})
	removed, err := txs.DeleteByExternalID(ctx, stranger.ID, "T1")
	if err != nil || removed {
		t.Errorf("DeleteByExternalID() by another user = %v, %v; want false, nil", removed, err)
	}
	removed, err = txs.DeleteByExternalID(ctx, u.ID, "T1")
	if err != nil || !removed {
		t.Errorf("DeleteByExternalID() = %v, %v", removed, err)
	}
	removed, err = txs.DeleteByExternalID(ctx, u.ID, "T1")
	if err != nil || removed {
		t.Errorf("DeleteByExternalID() again = %v, %v; want false, nil", removed, err)
	}
}

func testJobRepository(t *testing.T, env *testutil.TestEnvironment) {
	ctx := context.Background()
	repo := postgres.NewJobRepository(env.DB, env.Encryptor)

	id := uuid.NewString()
	payload := []byte(`{"user_id":1,"access_token":"secret"}`)
	if err := repo.Enqueue(ctx, &jobqueue.Job{ID: id, Queue: jobqueue.QueueReconcile, Payload: payload, MaxAttempts: 3}); err != nil {
		t.Fatalf("Enqueue() failed: %v", err)
	}

	var raw string
	_ = env.DB.QueryRowContext(ctx, `SELECT payload FROM jobs WHERE id = $1`, id).Scan(&raw)
	if raw == string(payload) {
		t.Error("job payload stored in plaintext")
	}

	if j, _ := repo.Claim(ctx, jobqueue.QueueSync, time.Minute); j != nil {
		t.Errorf("Claim(sync) = %+v, want nil", j)
	}
	job, err := repo.Claim(ctx, jobqueue.QueueReconcile, 50*time.Millisecond)
	if err != nil || job == nil {
		t.Fatalf("Claim() = %v, %v", job, err)
	}
	if string(job.Payload) != string(payload) || job.Attempts != 1 || job.Status != jobqueue.StatusRunning {
		t.Errorf("claimed job = %+v", job)
	}
	if again, _ := repo.Claim(ctx, jobqueue.QueueReconcile, time.Minute); again != nil {
		t.Error("Claim() handed out a leased job")
	}

	time.Sleep(100 * time.Millisecond)
	redelivered, err := repo.Claim(ctx, jobqueue.QueueReconcile, time.Minute)
	if err != nil || redelivered == nil || redelivered.ID != id || redelivered.Attempts != 2 {
		t.Fatalf("Claim() after lease expiry = %+v, %v", redelivered, err)
	}

	if err := repo.Ack(ctx, id, job.Attempts); !errors.Is(err, jobqueue.ErrStaleLease) {
		t.Errorf("Ack() from superseded attempt = %v, want %v", err, jobqueue.ErrStaleLease)
	}
	if err := repo.Bury(ctx, id, redelivered.Attempts, "boom"); err != nil {
		t.Fatalf("Bury() failed: %v", err)
	}
	dead, err := repo.ListDead(ctx, "", 10)
	if err != nil || len(dead) != 1 || dead[0].LastError != "boom" {
		t.Fatalf("ListDead() = %v, %v", dead, err)
	}
	if err := repo.Requeue(ctx, id); err != nil {
		t.Fatalf("Requeue() failed: %v", err)
	}
	fresh, _ := repo.Claim(ctx, jobqueue.QueueReconcile, time.Minute)
	if fresh == nil || fresh.Attempts != 1 {
		t.Fatalf("Claim() after requeue = %+v", fresh)
	}
	if err := repo.Ack(ctx, id, fresh.Attempts); err != nil {
		t.Fatalf("Ack() failed: %v", err)
	}
	if err := repo.Retry(ctx, id, fresh.Attempts, time.Now(), "late"); !errors.Is(err, jobqueue.ErrStaleLease) {
		t.Errorf("Retry() after Ack = %v, want %v", err, jobqueue.ErrStaleLease)
	}
	if got, _ := repo.Get(ctx, id); got.Status != jobqueue.StatusSucceeded {
		t.Errorf("status after Ack = %s", got.Status)
	}
	if _, err := repo.Get(ctx, uuid.NewString()); !errors.Is(err, jobqueue.ErrJobNotFound) {
		t.Errorf("Get() unknown = %v, want %v", err, jobqueue.ErrJobNotFound)
	}
	if err := repo.Ack(ctx, uuid.NewString(), 1); !errors.Is(err, jobqueue.ErrJobNotFound) {
		t.Errorf("Ack() unknown = %v, want %v", err, jobqueue.ErrJobNotFound)
	}

	lost := uuid.NewString()
	if err := repo.Enqueue(ctx, &jobqueue.Job{ID: lost, Queue: jobqueue.QueueSync, Payload: []byte(`{}`), MaxAttempts: 1}); err != nil {
		t.Fatalf("Enqueue() failed: %v", err)
	}
	if j, _ := repo.Claim(ctx, jobqueue.QueueSync, 50*time.Millisecond); j == nil || j.ID != lost {
		t.Fatalf("Claim() = %+v, want job %s", j, lost)
	}
	time.Sleep(100 * time.Millisecond)
	buried, err := repo.Claim(ctx, jobqueue.QueueSync, time.Minute)
	if err != nil || buried == nil || buried.Status != jobqueue.StatusDead || buried.Attempts != 1 || buried.LastError != jobqueue.ErrLeaseExpired.Error() {
		t.Fatalf("Claim() after final lease lapsed = %+v, %v; want dead after 1 attempt", buried, err)
	}
	if again, _ := repo.Claim(ctx, jobqueue.QueueSync, time.Minute); again != nil {
		t.Errorf("Claim() redelivered an exhausted job: %+v", again)
	}
}

func testAdvisoryLock(t *testing.T, env *testutil.TestEnvironment) {
	ctx := context.Background()
	a := postgres.NewAdvisoryLocker(env.DB)
	b := postgres.NewAdvisoryLocker(env.DB)

	unlock, err := a.TryLock(ctx, 7)
	if err != nil {
		t.Fatalf("TryLock() failed: %v", err)
	}
	if _, err := b.TryLock(ctx, 7); !errors.Is(err, openfinance.ErrSyncInProgress) {
		t.Errorf("competing TryLock() = %v, want %v", err, openfinance.ErrSyncInProgress)
	}
	other, err := b.TryLock(ctx, 8)
	if err != nil {
		t.Fatalf("TryLock() other user failed: %v", err)
	}
	other()

	unlock()
	again, err := b.TryLock(ctx, 7)
	if err != nil {
		t.Fatalf("TryLock() after unlock failed: %v", err)
	}
	again()
}
