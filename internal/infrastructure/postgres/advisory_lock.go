package postgres

import (
	"context"
	"database/sql/driver"
	"fmt"
	"sync"
	"time"

	"spendwise/internal/domain/openfinance"
	"spendwise/internal/shared/logger"
)

// AdvisoryLocker serializes sync passes per user across processes with a
// session-level advisory lock. The lock lives on a dedicated connection that
// is held until unlock.
type AdvisoryLocker struct {
	db *DB
}

var _ openfinance.UserLocker = (*AdvisoryLocker)(nil)

func NewAdvisoryLocker(db *DB) *AdvisoryLocker {
	return &AdvisoryLocker{db: db}
}

func (l *AdvisoryLocker) TryLock(ctx context.Context, userID int64) (func(), error) {
	conn, err := l.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRowContext(ctx, `SELECT pg_try_advisory_lock($1)`, userID).Scan(&acquired); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to take sync lock: %w", err)
	}
	if !acquired {
		conn.Close()
		return nil, openfinance.ErrSyncInProgress
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if _, err := conn.ExecContext(ctx, `SELECT pg_advisory_unlock($1)`, userID); err != nil {
				logger.Warn("failed to release sync lock, discarding session", "user_id", userID, "error", err)
				// ErrBadConn makes database/sql close the session, which drops the lock.
				_ = conn.Raw(func(any) error { return driver.ErrBadConn })
			}
			conn.Close()
		})
	}, nil
}
