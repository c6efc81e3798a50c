package jobqueue

import (
	"context"
	"errors"
	"fmt"

	"spendwise/internal/domain/openfinance"
	"spendwise/internal/domain/user"
	"spendwise/internal/shared/logger"
)

// SyncPayload is the body of a sync job.
type SyncPayload struct {
	UserID int64 `json:"user_id"`
}

type Syncer interface {
	SyncUser(ctx context.Context, userID int64) (*openfinance.SyncResult, error)
}

type BundleReconciler interface {
	Reconcile(ctx context.Context, bundle *openfinance.DeltaBundle) (*openfinance.ReconcileResult, error)
}

// UserLookup loads the stored credential of a user.
type UserLookup interface {
	GetByID(ctx context.Context, id int64) (*user.User, error)
}

// SyncHandler runs one sync pass per job. Failures that another attempt cannot
// fix skip the retries.
func SyncHandler(s Syncer) Handler {
	return func(ctx context.Context, job *Job) error {
		var p SyncPayload
		if err := job.Decode(&p); err != nil {
			return err
		}
		if _, err := s.SyncUser(ctx, p.UserID); err != nil {
			if !openfinance.Retryable(err) {
				return Permanent(err)
			}
			return err
		}
		return nil
	}
}

// ReconcileHandler applies a delta bundle. A later sync pass may have rotated
// the credential carried in the bundle, in which case the stored one is used.
func ReconcileHandler(r BundleReconciler, users UserLookup) Handler {
	return func(ctx context.Context, job *Job) error {
		var bundle openfinance.DeltaBundle
		if err := job.Decode(&bundle); err != nil {
			return err
		}

		res, err := r.Reconcile(ctx, &bundle)
		if errors.Is(err, openfinance.ErrInvalidCredential) {
			current, lookupErr := users.GetByID(ctx, bundle.UserID)
			if lookupErr != nil {
				return fmt.Errorf("failed to reload credential: %w", lookupErr)
			}
			if current == nil || !current.IsLinked() || *current.AccessToken == bundle.AccessToken {
				return Permanent(err)
			}
			logger.Ctx(ctx).Info("bundle credential superseded, retrying with stored credential", "user_id", bundle.UserID)
			bundle.AccessToken = *current.AccessToken
			res, err = r.Reconcile(ctx, &bundle)
		}
		if err != nil {
			return err
		}

		if len(res.Unresolved) > 0 {
			logger.Ctx(ctx).Warn("reconciled with unresolved accounts",
				"user_id", bundle.UserID,
				"unresolved", len(res.Unresolved),
			)
		}
		return nil
	}
}

// Dispatcher enqueues openfinance work on the sync and reconcile queues.
type Dispatcher struct {
	queue *Queue
}

var _ openfinance.Dispatcher = (*Dispatcher)(nil)

func NewDispatcher(q *Queue) *Dispatcher {
	return &Dispatcher{queue: q}
}

func (d *Dispatcher) DispatchSync(ctx context.Context, userID int64) (openfinance.Job, error) {
	h, err := d.queue.Enqueue(ctx, QueueSync, SyncPayload{UserID: userID})
	if err != nil {
		return nil, err
	}
	return h, nil
}

func (d *Dispatcher) DispatchReconcile(ctx context.Context, bundle *openfinance.DeltaBundle) (openfinance.Job, error) {
	h, err := d.queue.Enqueue(ctx, QueueReconcile, bundle)
	if err != nil {
		return nil, err
	}
	return h, nil
}
