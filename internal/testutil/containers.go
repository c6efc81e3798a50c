// Package testutil starts the PostgreSQL container used by integration tests.
package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"spendwise/internal/infrastructure/crypto"
	pgstore "spendwise/internal/infrastructure/postgres"
)

// EncryptionKey is the fixed 32-byte key used by integration tests.
const EncryptionKey = "0123456789abcdef0123456789abcdef"

// TestEnvironment holds a migrated database in a throwaway container.
type TestEnvironment struct {
	DB        *pgstore.DB
	ConnStr   string
	Encryptor *crypto.Encryptor
	Container *postgres.PostgresContainer
	Ctx       context.Context
}

// SetupTestEnvironment starts postgres:16-alpine and applies the migrations.
// Integration tests are skipped under -short.
func SetupTestEnvironment(t *testing.T) *TestEnvironment {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx := context.Background()

	t.Log("Starting PostgreSQL container...")
	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("spendwise_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	if err != nil {
		t.Fatalf("Failed to start postgres container: %v", err)
	}

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("Failed to get postgres connection string: %v", err)
	}

	database, err := pgstore.New(connStr, pgstore.PoolConfig{})
	if err != nil {
		t.Fatalf("Failed to connect to test database: %v", err)
	}

	if err := pgstore.Migrate(database.DB); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}

	enc, err := crypto.NewEncryptor(EncryptionKey)
	if err != nil {
		t.Fatalf("Failed to create encryptor: %v", err)
	}

	env := &TestEnvironment{
		DB:        database,
		ConnStr:   connStr,
		Encryptor: enc,
		Container: container,
		Ctx:       ctx,
	}
	t.Cleanup(func() { env.Cleanup(t) })
	return env
}

func (e *TestEnvironment) Cleanup(t *testing.T) {
	t.Helper()
	if e.DB != nil {
		if err := e.DB.Close(); err != nil {
			t.Logf("Warning: failed to close database: %v", err)
		}
	}
	if e.Container != nil {
		if err := e.Container.Terminate(e.Ctx); err != nil {
			t.Logf("Warning: failed to terminate postgres container: %v", err)
		}
	}
}

// CleanDB truncates every table for test isolation.
func (e *TestEnvironment) CleanDB(t *testing.T) {
	t.Helper()
	if _, err := e.DB.ExecContext(e.Ctx, `TRUNCATE TABLE jobs, transactions, accounts, users RESTART IDENTITY CASCADE`); err != nil {
		t.Fatalf("Failed to truncate tables: %v", err)
	}
}
