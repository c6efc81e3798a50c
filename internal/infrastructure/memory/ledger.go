// Package memory provides in-process ledger repositories for development and
// tests. Data does not survive a restart.
package memory

import (
	"sync"
	"time"

	"spendwise/internal/domain/account"
	"spendwise/internal/domain/transaction"
	"spendwise/internal/domain/user"
)

// Ledger holds users, accounts and transactions behind a single lock. Each
// repository method is atomic with respect to the others.
type Ledger struct {
	mu       sync.RWMutex
	users    map[int64]*user.User
	accounts map[int64]*account.Account
	txs      map[int64]*transaction.Transaction
	txByExt  map[string]int64
	nextID   int64
	failures map[string]error
	now      func() time.Time
}

func NewLedger() *Ledger {
	return &Ledger{
		users:    make(map[int64]*user.User),
		accounts: make(map[int64]*account.Account),
		txs:      make(map[int64]*transaction.Transaction),
		txByExt:  make(map[string]int64),
		failures: make(map[string]error),
		now:      time.Now,
	}
}

// FailOn makes the named operation (for example "users.UpdateSyncState")
// return err until cleared with a nil err.
func (l *Ledger) FailOn(op string, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err == nil {
		delete(l.failures, op)
		return
	}
	l.failures[op] = err
}

func (l *Ledger) Users() *UserRepository {
	return &UserRepository{l: l}
}

func (l *Ledger) Accounts() *AccountRepository {
	return &AccountRepository{l: l}
}

func (l *Ledger) Transactions() *TransactionRepository {
	return &TransactionRepository{l: l}
}

// caller holds l.mu
func (l *Ledger) fail(op string) error {
	return l.failures[op]
}

// caller holds l.mu for writing
func (l *Ledger) id() int64 {
	l.nextID++
	return l.nextID
}
