package jobqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Named queues.
const (
	QueueSync      = "sync"
	QueueReconcile = "reconcile"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusRetrying  Status = "retrying"
	StatusDead      Status = "dead"
)

var (
	ErrJobNotFound   = errors.New("job not found")
	ErrDeadLettered  = errors.New("job exhausted its retries")
	ErrUnknownQueue  = errors.New("no handler registered for queue")
	ErrQueueShutdown = errors.New("queue is shut down")
	// ErrStaleLease is returned by outcome writes from a worker whose lease
	// was taken over by a later claim.
	ErrStaleLease = errors.New("job lease is no longer held")
	// ErrLeaseExpired is the last error of a job whose final attempt never
	// reported back.
	ErrLeaseExpired = errors.New("lease expired after final attempt")
)

// Job is a durable unit of work. Attempts counts deliveries, including the one
// in progress.
type Job struct {
	ID          string
	Queue       string
	Payload     []byte
	Status      Status
	Attempts    int
	MaxAttempts int
	RunAt       time.Time
	LeaseUntil  *time.Time
	LastError   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Exhausted reports whether the job has used its whole retry budget.
func (j *Job) Exhausted() bool {
	return j.Attempts >= j.MaxAttempts
}

// Terminal reports whether the job will not run again.
func (j *Job) Terminal() bool {
	return j.Status == StatusSucceeded || j.Status == StatusDead
}

// Decode unmarshals the payload into v.
func (j *Job) Decode(v any) error {
	if err := json.Unmarshal(j.Payload, v); err != nil {
		return Permanent(fmt.Errorf("failed to decode %s payload: %w", j.Queue, err))
	}
	return nil
}

// Backend stores jobs durably. Claim hands out at most one lease per job at a
// time; a job whose lease lapses without an outcome becomes claimable again,
// unless that was its final attempt, in which case Claim buries it and
// returns it with StatusDead.
//
// Ack, Retry and Bury apply only while the job is running under the given
// attempt and return ErrStaleLease otherwise.
type Backend interface {
	Enqueue(ctx context.Context, job *Job) error
	// Claim returns nil, nil when nothing is ready.
	Claim(ctx context.Context, queue string, lease time.Duration) (*Job, error)
	Ack(ctx context.Context, id string, attempt int) error
	Retry(ctx context.Context, id string, attempt int, runAt time.Time, lastErr string) error
	Bury(ctx context.Context, id string, attempt int, lastErr string) error
	Get(ctx context.Context, id string) (*Job, error)
	ListDead(ctx context.Context, queue string, limit int) ([]*Job, error)
	// Requeue moves a dead job back to pending with a fresh retry budget.
	Requeue(ctx context.Context, id string) error
}

// Handler processes one delivery. Wrap an error with Permanent to skip the
// remaining retries.
type Handler func(ctx context.Context, job *Job) error

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

func isPermanent(err error) bool {
	var perm *backoff.PermanentError
	return errors.As(err, &perm)
}
