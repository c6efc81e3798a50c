// Package app wires stores, the provider client, services and the job queue
// from configuration. Both binaries build on it.
package app

import (
	"context"
	"fmt"

	"spendwise/internal/domain/account"
	"spendwise/internal/domain/openfinance"
	"spendwise/internal/domain/transaction"
	"spendwise/internal/domain/user"
	"spendwise/internal/infrastructure/crypto"
	"spendwise/internal/infrastructure/memory"
	"spendwise/internal/infrastructure/memqueue"
	"spendwise/internal/infrastructure/plaid"
	"spendwise/internal/infrastructure/postgres"
	"spendwise/internal/infrastructure/postgres/listener"
	"spendwise/internal/interfaces/jobqueue"
	"spendwise/internal/shared/config"
	"spendwise/internal/shared/logger"
)

// Options adjusts Build.
type Options struct {
	// Migrate applies pending schema migrations after connecting.
	Migrate bool
	// Provider replaces the provider client built from config.
	Provider plaid.ClientInterface
}

// Dependencies holds all initialized application components.
type Dependencies struct {
	DB       *postgres.DB // nil for the memory store
	Users    user.Repository
	Accounts account.Repository
	Txs      transaction.Repository

	Provider   plaid.ClientInterface
	Queue      *jobqueue.Queue
	Dispatcher *jobqueue.Dispatcher
	Sync       *openfinance.SyncService
	Reconciler *openfinance.Reconciler
	Link       *openfinance.LinkService

	listener  *listener.JobListener
	listening bool
}

// Build connects the configured store and assembles the services. The queue
// has its handlers registered but is not started.
func Build(cfg *config.Config, opts Options) (*Dependencies, error) {
	d := &Dependencies{}

	var backend jobqueue.Backend
	var locker openfinance.UserLocker
	switch cfg.Store {
	case config.StoreMemory:
		ledger := memory.NewLedger()
		d.Users, d.Accounts, d.Txs = ledger.Users(), ledger.Accounts(), ledger.Transactions()
		backend = memqueue.NewJobStore()
		logger.Warn("using in-memory store, data is lost on exit")
	default:
		db, err := postgres.New(cfg.Database.ConnectionString(), postgres.PoolConfig{
			MaxOpenConns: cfg.Database.MaxConns,
		})
		if err != nil {
			return nil, err
		}
		d.DB = db
		if opts.Migrate {
			if err := postgres.Migrate(db.DB); err != nil {
				d.Close()
				return nil, err
			}
		}

		enc, err := crypto.NewEncryptor(cfg.Encryption.Key)
		if err != nil {
			d.Close()
			return nil, fmt.Errorf("failed to create encryptor: %w", err)
		}
		d.Users = postgres.NewUserRepository(db, enc)
		d.Accounts = postgres.NewAccountRepository(db)
		d.Txs = postgres.NewTransactionRepository(db)
		backend = postgres.NewJobRepository(db, enc)
		if cfg.Sync.LockMode == "advisory" {
			locker = postgres.NewAdvisoryLocker(db)
		}
	}
	if locker == nil {
		locker = openfinance.NewKeyedMutex()
	}

	d.Provider = opts.Provider
	if d.Provider == nil {
		client, err := plaid.NewClient(plaid.Config{
			ClientID:          cfg.Plaid.ClientID,
			Secret:            cfg.Plaid.Secret,
			Environment:       cfg.Plaid.Environment,
			BaseURL:           cfg.Plaid.BaseURL,
			ClientName:        cfg.Plaid.ClientName,
			Products:          cfg.Plaid.Products,
			CountryCodes:      cfg.Plaid.CountryCodes,
			Language:          cfg.Plaid.Language,
			Timeout:           cfg.Plaid.Timeout,
			RequestsPerSecond: cfg.Plaid.RequestsPerSecond,
			Burst:             cfg.Plaid.Burst,
		})
		if err != nil {
			d.Close()
			return nil, fmt.Errorf("failed to create provider client: %w", err)
		}
		d.Provider = client
	}

	d.Queue = jobqueue.New(backend, jobqueue.Config{
		WorkersPerQueue:   cfg.Queue.WorkersPerQueue,
		MaxAttempts:       cfg.Queue.MaxAttempts,
		BaseBackoff:       cfg.Queue.BaseBackoff,
		MaxBackoff:        cfg.Queue.MaxBackoff,
		VisibilityTimeout: cfg.Queue.VisibilityTimeout,
		PollInterval:      cfg.Queue.PollInterval,
		JobTimeout:        cfg.Queue.JobTimeout,
	})
	d.Dispatcher = jobqueue.NewDispatcher(d.Queue)

	d.Sync = openfinance.NewSyncService(d.Provider, d.Users, d.Dispatcher, locker, cfg.Sync.MaxPages)
	d.Reconciler = openfinance.NewReconciler(d.Provider, account.NewService(d.Accounts), d.Txs)
	d.Link = openfinance.NewLinkService(d.Provider, d.Users, d.Dispatcher)

	d.Queue.Register(jobqueue.QueueSync, jobqueue.SyncHandler(d.Sync))
	d.Queue.Register(jobqueue.QueueReconcile, jobqueue.ReconcileHandler(d.Reconciler, d.Users))

	if d.DB != nil && cfg.Queue.ListenEnabled {
		d.listener = listener.NewJobListener(cfg.Database.ConnectionString(), d.Queue)
	}
	return d, nil
}

// StartWorkers starts the queue workers and, for Postgres, the notification
// listener that wakes them.
func (d *Dependencies) StartWorkers(ctx context.Context) {
	d.Queue.Start()
	if d.listener != nil && !d.listening {
		d.listener.Start(ctx)
		d.listening = true
	}
}

// Close stops the listener and releases the database pool. Stop the queue
// first.
func (d *Dependencies) Close() {
	if d.listening {
		d.listener.Stop()
		d.listening = false
	}
	if d.DB != nil {
		if err := d.DB.Close(); err != nil {
			logger.Error("failed to close database", "error", err)
		}
	}
}
