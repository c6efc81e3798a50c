package openfinance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"spendwise/internal/domain/user"
	"spendwise/internal/infrastructure/plaid"
	"spendwise/internal/shared/logger"
)

// DefaultMaxPages bounds the pagination loop against a provider that never
// reports has_more=false.
const DefaultMaxPages = 1000

// SyncResult summarizes one completed sync pass.
type SyncResult struct {
	UserID   int64
	Pages    int
	Added    int
	Modified int
	Removed  int
	Cursor   string
	Job      Job // reconcile job carrying the deltas
}

// BatchSyncResult summarizes SyncUsers.
type BatchSyncResult struct {
	Users     int
	Succeeded int
	Failed    map[int64]error
}

// SyncService drives the cursor loop for a user and hands the deltas off for
// reconciliation.
type SyncService struct {
	client     plaid.ClientInterface
	users      user.Repository
	dispatcher Dispatcher
	locker     UserLocker
	maxPages   int
}

// NewSyncService creates a sync service. maxPages <= 0 selects DefaultMaxPages.
func NewSyncService(client plaid.ClientInterface, users user.Repository, dispatcher Dispatcher, locker UserLocker, maxPages int) *SyncService {
	if maxPages <= 0 {
		maxPages = DefaultMaxPages
	}
	if locker == nil {
		locker = NewKeyedMutex()
	}
	return &SyncService{
		client:     client,
		users:      users,
		dispatcher: dispatcher,
		locker:     locker,
		maxPages:   maxPages,
	}
}

// SyncUser performs one pass for userID: rotate the credential, page through
// the diff feed, persist credential and cursor together, then enqueue the
// bundle. It returns once the bundle is enqueued.
func (s *SyncService) SyncUser(ctx context.Context, userID int64) (result *SyncResult, err error) {
	ctx, span := syncTracer.Start(ctx, "sync.user", trace.WithAttributes(attribute.Int64("user.id", userID)))
	start := time.Now()
	defer func() {
		status := "success"
		if err != nil {
			status = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		syncTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
		span.End()
	}()

	ctx = logger.With(ctx, "user_id", userID)
	log := logger.Ctx(ctx)

	unlock, err := s.locker.TryLock(ctx, userID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	if u == nil {
		return nil, ErrUserNotFound
	}
	if !u.IsLinked() {
		return nil, ErrNotLinked
	}

	credential, err := s.client.RotateAccessToken(ctx, *u.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to rotate credential: %w", err)
	}
	// The provider has already invalidated the old credential, so the new one
	// must be stored whatever happens to the rest of the pass.
	if err := s.users.RotateCredential(ctx, userID, credential); err != nil {
		log.Error("rotated credential could not be stored", "error", err)
		return nil, fmt.Errorf("failed to store rotated credential: %w", err)
	}

	previous := u.CursorValue()
	bundle, pages, err := s.collect(ctx, userID, credential, previous)
	syncPages.Record(ctx, int64(pages))
	if err != nil {
		log.Warn("sync pass aborted", "pages", pages, "error", err)
		return nil, err
	}

	if err := s.users.UpdateSyncState(ctx, userID, credential, bundle.Cursor); err != nil {
		return nil, fmt.Errorf("failed to store sync state: %w", err)
	}

	job, err := s.dispatcher.DispatchReconcile(ctx, bundle)
	if err != nil {
		// Without the bundle the deltas past the old cursor would be lost.
		if rbErr := s.users.UpdateSyncState(ctx, userID, credential, previous); rbErr != nil {
			log.Error("failed to restore cursor after enqueue failure", "error", rbErr)
		}
		return nil, fmt.Errorf("failed to enqueue reconciliation: %w", err)
	}

	log.Info("sync pass complete",
		"pages", pages,
		"added", len(bundle.Added),
		"modified", len(bundle.Modified),
		"removed", len(bundle.Removed),
		"job_id", job.ID(),
		"duration", time.Since(start).String(),
	)

	return &SyncResult{
		UserID:   userID,
		Pages:    pages,
		Added:    len(bundle.Added),
		Modified: len(bundle.Modified),
		Removed:  len(bundle.Removed),
		Cursor:   bundle.Cursor,
		Job:      job,
	}, nil
}

func (s *SyncService) collect(ctx context.Context, userID int64, credential, cursor string) (*DeltaBundle, int, error) {
	bundle := &DeltaBundle{UserID: userID, AccessToken: credential}
	pages := 0
	for {
		if pages >= s.maxPages {
			return nil, pages, fmt.Errorf("%w: %d pages", ErrSyncIncomplete, pages)
		}
		page, err := s.client.SyncTransactions(ctx, credential, cursor)
		if err != nil {
			return nil, pages, fmt.Errorf("failed to fetch page %d: %w", pages+1, err)
		}
		pages++

		bundle.Added = append(bundle.Added, page.Added...)
		bundle.Modified = append(bundle.Modified, page.Modified...)
		bundle.Removed = append(bundle.Removed, page.Removed...)
		cursor = page.NextCursor

		if !page.HasMore {
			break
		}
	}
	bundle.Cursor = cursor
	return bundle, pages, nil
}

// SyncUsers runs SyncUser for every linked user in turn. One user's failure
// does not stop the others.
func (s *SyncService) SyncUsers(ctx context.Context) (*BatchSyncResult, error) {
	users, err := s.users.ListLinked(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list linked users: %w", err)
	}

	result := &BatchSyncResult{Users: len(users), Failed: make(map[int64]error)}
	for _, u := range users {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		if _, err := s.SyncUser(ctx, u.ID); err != nil {
			logger.Error("user sync failed", "user_id", u.ID, "error", err)
			result.Failed[u.ID] = err
			continue
		}
		result.Succeeded++
	}
	return result, nil
}

// Retryable reports whether a sync failure may succeed on a later attempt.
func Retryable(err error) bool {
	return !(errors.Is(err, ErrNotLinked) || errors.Is(err, ErrUserNotFound) || errors.Is(err, ErrInvalidCredential))
}
