package openfinance

import (
	"context"

	"spendwise/internal/infrastructure/plaid"
)

// DeltaBundle is the accumulated output of one complete sync pass.
type DeltaBundle struct {
	UserID      int64                      `json:"user_id"`
	AccessToken string                     `json:"access_token"`
	Cursor      string                     `json:"cursor"`
	Added       []plaid.Transaction        `json:"added"`
	Modified    []plaid.Transaction        `json:"modified"`
	Removed     []plaid.RemovedTransaction `json:"removed"`
}

// Job is a unit of work accepted by the queue. Wait blocks until the job
// succeeds, is dead-lettered, or ctx ends.
type Job interface {
	ID() string
	Wait(ctx context.Context) error
}

// Dispatcher hands work to the background queues.
type Dispatcher interface {
	DispatchSync(ctx context.Context, userID int64) (Job, error)
	DispatchReconcile(ctx context.Context, bundle *DeltaBundle) (Job, error)
}
