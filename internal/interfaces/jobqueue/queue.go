// Package jobqueue runs durable named queues with at-least-once delivery.
// Workers claim jobs under a lease, retry failures with exponential backoff
// and dead-letter jobs that exhaust their attempts.
package jobqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"spendwise/internal/shared/logger"
)

var (
	jobTracer         = otel.Tracer("spendwise/jobqueue")
	jobMeter          = otel.Meter("spendwise/jobqueue")
	jobDuration, _    = jobMeter.Float64Histogram("jobqueue.job.duration", metric.WithDescription("Job execution duration in seconds"), metric.WithUnit("s"))
	jobTotal, _       = jobMeter.Int64Counter("jobqueue.job.total", metric.WithDescription("Job attempts by queue and outcome"))
	jobEnqueued, _    = jobMeter.Int64Counter("jobqueue.job.enqueued", metric.WithDescription("Jobs enqueued by queue"))
	jobDeadLetters, _ = jobMeter.Int64Counter("jobqueue.job.dead_letters", metric.WithDescription("Jobs that exhausted their retries"))
)

const (
	// leaseMargin is the minimum time a lease outlives the job timeout, so the
	// outcome write of a job that runs to its deadline lands inside the lease.
	leaseMargin = 30 * time.Second
	// handleRetention bounds how long an unresolved handle is remembered for
	// in-process resolution. Older handles still resolve through Wait.
	handleRetention = time.Hour
	pruneInterval   = time.Minute
)

// Config tunes workers and retries. Zero fields take the defaults below. A
// VisibilityTimeout that does not exceed JobTimeout is raised to
// JobTimeout plus leaseMargin.
type Config struct {
	WorkersPerQueue   int
	MaxAttempts       int
	BaseBackoff       time.Duration
	MaxBackoff        time.Duration
	VisibilityTimeout time.Duration
	PollInterval      time.Duration
	JobTimeout        time.Duration
}

func (c Config) withDefaults() Config {
	if c.WorkersPerQueue <= 0 {
		c.WorkersPerQueue = 2
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = time.Second
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 5 * time.Minute
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = 2 * time.Minute
	}
	if c.VisibilityTimeout <= c.JobTimeout {
		c.VisibilityTimeout = c.JobTimeout + leaseMargin
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	return c
}

// Event describes the outcome of one attempt.
type Event struct {
	JobID    string
	Queue    string
	Status   Status // succeeded, retrying or dead
	Attempt  int
	Err      error
	Duration time.Duration
	RetryAt  time.Time // set when retrying
}

// Queue dispatches jobs from a Backend to registered handlers.
type Queue struct {
	backend Backend
	cfg     Config

	mu        sync.Mutex
	handlers  map[string]Handler
	wake      map[string]chan struct{}
	handles   map[string]*Handle
	listeners []func(Event)
	started   bool
	lastPrune time.Time

	stop   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	now    func() time.Time
}

func New(backend Backend, cfg Config) *Queue {
	ctx, cancel := context.WithCancel(context.Background())
	return &Queue{
		backend:  backend,
		cfg:      cfg.withDefaults(),
		handlers: make(map[string]Handler),
		wake:     make(map[string]chan struct{}),
		handles:  make(map[string]*Handle),
		stop:     make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
		now:      time.Now,
	}
}

// Register binds a handler to a queue. It must be called before Start.
func (q *Queue) Register(queue string, h Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[queue] = h
	q.wakeChanLocked(queue)
}

// OnEvent adds a listener for attempt outcomes. Listeners run on the worker
// goroutine and must not block.
func (q *Queue) OnEvent(fn func(Event)) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.listeners = append(q.listeners, fn)
}

// Enqueue stores payload as JSON on the named queue.
func (q *Queue) Enqueue(ctx context.Context, queue string, payload any) (*Handle, error) {
	select {
	case <-q.stop:
		return nil, ErrQueueShutdown
	default:
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s payload: %w", queue, err)
	}
	job := &Job{
		ID:          uuid.NewString(),
		Queue:       queue,
		Payload:     data,
		MaxAttempts: q.cfg.MaxAttempts,
		RunAt:       q.now(),
	}
	if err := q.backend.Enqueue(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to enqueue %s job: %w", queue, err)
	}
	jobEnqueued.Add(ctx, 1, metric.WithAttributes(attribute.String("queue", queue)))
	logger.Ctx(ctx).Debug("job enqueued", "job_id", job.ID, "queue", queue)

	h := q.track(job.ID, queue)
	q.Notify(queue)
	return h, nil
}

// Requeue returns a dead job to its queue with a fresh retry budget.
func (q *Queue) Requeue(ctx context.Context, id string) (*Handle, error) {
	job, err := q.backend.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := q.backend.Requeue(ctx, id); err != nil {
		return nil, fmt.Errorf("failed to requeue job %s: %w", id, err)
	}
	logger.Ctx(ctx).Info("dead job requeued", "job_id", id, "queue", job.Queue)

	h := q.track(id, job.Queue)
	q.Notify(job.Queue)
	return h, nil
}

// ListDead returns dead-lettered jobs, optionally filtered by queue.
func (q *Queue) ListDead(ctx context.Context, queue string, limit int) ([]*Job, error) {
	return q.backend.ListDead(ctx, queue, limit)
}

// Notify wakes an idle worker of queue. Safe to call from other goroutines,
// such as a database notification listener.
func (q *Queue) Notify(queue string) {
	q.mu.Lock()
	ch := q.wakeChanLocked(queue)
	q.mu.Unlock()

	select {
	case ch <- struct{}{}:
	default:
	}
}

func (q *Queue) wakeChanLocked(queue string) chan struct{} {
	ch, ok := q.wake[queue]
	if !ok {
		ch = make(chan struct{}, 1)
		q.wake[queue] = ch
	}
	return ch
}

func (q *Queue) track(id, queue string) *Handle {
	now := q.now()
	h := newHandle(id, queue, q.backend, q.cfg.PollInterval)
	h.created = now
	h.forget = func() { q.forget(id, h) }

	q.mu.Lock()
	defer q.mu.Unlock()
	q.handles[id] = h
	if now.Sub(q.lastPrune) >= pruneInterval {
		q.lastPrune = now
		for other, old := range q.handles {
			if now.Sub(old.created) > handleRetention {
				delete(q.handles, other)
			}
		}
	}
	return h
}

// forget drops h once it resolved on its own, unless a Requeue replaced it.
func (q *Queue) forget(id string, h *Handle) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.handles[id] == h {
		delete(q.handles, id)
	}
}

// Start launches WorkersPerQueue workers for every registered queue.
func (q *Queue) Start() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started {
		return
	}
	q.started = true

	for name := range q.handlers {
		logger.Info("starting queue workers", "queue", name, "workers", q.cfg.WorkersPerQueue)
		for i := 1; i <= q.cfg.WorkersPerQueue; i++ {
			q.wg.Add(1)
			go q.worker(name, i, q.wake[name])
		}
	}
}

func (q *Queue) worker(queue string, id int, wake <-chan struct{}) {
	defer q.wg.Done()

	for {
		select {
		case <-q.stop:
			logger.Debug("worker shutting down", "queue", queue, "worker", id)
			return
		default:
		}

		job, err := q.backend.Claim(q.ctx, queue, q.cfg.VisibilityTimeout)
		if err != nil {
			if q.ctx.Err() != nil {
				return
			}
			logger.Warn("failed to claim job", "queue", queue, "worker", id, "error", err)
		}
		if job != nil {
			q.process(id, job)
			continue
		}

		timer := time.NewTimer(q.cfg.PollInterval)
		select {
		case <-q.stop:
			timer.Stop()
			return
		case <-wake:
			timer.Stop()
		case <-timer.C:
		}
	}
}

func (q *Queue) process(workerID int, job *Job) {
	q.mu.Lock()
	handler := q.handlers[job.Queue]
	q.mu.Unlock()

	ctx, cancel := context.WithTimeout(q.ctx, q.cfg.JobTimeout)
	defer cancel()

	ctx, span := jobTracer.Start(ctx, "job.execute",
		trace.WithAttributes(
			attribute.Int("worker.id", workerID),
			attribute.String("job.id", job.ID),
			attribute.String("job.queue", job.Queue),
			attribute.Int("job.attempt", job.Attempts),
		),
	)
	defer span.End()
	ctx = logger.With(ctx, "job_id", job.ID, "queue", job.Queue, "attempt", job.Attempts)

	if job.Status == StatusDead {
		// Claim buried a job whose final lease lapsed; there is nothing to run.
		span.SetStatus(codes.Error, ErrLeaseExpired.Error())
		q.emit(ctx, Event{JobID: job.ID, Queue: job.Queue, Status: StatusDead, Attempt: job.Attempts, Err: ErrLeaseExpired})
		return
	}

	start := q.now()
	var err error
	if handler == nil {
		err = Permanent(fmt.Errorf("%w: %s", ErrUnknownQueue, job.Queue))
	} else {
		err = run(ctx, handler, job)
	}
	elapsed := q.now().Sub(start)
	jobDuration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(attribute.String("queue", job.Queue)))

	// The outcome is recorded even if the job context has expired.
	storeCtx, storeCancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer storeCancel()

	ev := Event{JobID: job.ID, Queue: job.Queue, Attempt: job.Attempts, Duration: elapsed}
	switch {
	case err == nil:
		ev.Status = StatusSucceeded
		if ackErr := q.backend.Ack(storeCtx, job.ID, job.Attempts); ackErr != nil {
			// The lease will lapse and the job will be redelivered.
			outcomeFailed(ctx, "ack", ackErr)
			return
		}
	case isPermanent(err) || job.Exhausted():
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		ev.Status, ev.Err = StatusDead, err
		if buryErr := q.backend.Bury(storeCtx, job.ID, job.Attempts, err.Error()); buryErr != nil {
			outcomeFailed(ctx, "bury", buryErr)
			return
		}
	default:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		ev.Status, ev.Err = StatusRetrying, err
		ev.RetryAt = q.now().Add(q.backoff(job.Attempts))
		if retryErr := q.backend.Retry(storeCtx, job.ID, job.Attempts, ev.RetryAt, err.Error()); retryErr != nil {
			outcomeFailed(ctx, "retry", retryErr)
			return
		}
	}
	q.emit(ctx, ev)
}

// outcomeFailed logs an outcome write that did not land. A stale lease means
// a later delivery owns the job and reports its outcome instead.
func outcomeFailed(ctx context.Context, op string, err error) {
	if errors.Is(err, ErrStaleLease) {
		logger.Ctx(ctx).Warn("job lease lost, outcome discarded", "op", op)
		return
	}
	logger.Ctx(ctx).Error("failed to record job outcome", "op", op, "error", err)
}

func run(ctx context.Context, h Handler, job *Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(ctx, job)
}

// backoff returns the delay before the retry following attempt.
func (q *Queue) backoff(attempt int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = q.cfg.BaseBackoff
	b.MaxInterval = q.cfg.MaxBackoff
	b.MaxElapsedTime = 0
	b.Reset()

	d := b.InitialInterval
	for i := 0; i < attempt; i++ {
		d = b.NextBackOff()
	}
	if d > q.cfg.MaxBackoff {
		d = q.cfg.MaxBackoff
	}
	return d
}

func (q *Queue) emit(ctx context.Context, ev Event) {
	attrs := metric.WithAttributes(attribute.String("queue", ev.Queue), attribute.String("status", string(ev.Status)))
	jobTotal.Add(ctx, 1, attrs)

	log := logger.Ctx(ctx)
	switch ev.Status {
	case StatusSucceeded:
		log.Info("job succeeded", "duration", ev.Duration.String())
	case StatusRetrying:
		log.Warn("job failed, retrying", "error", ev.Err, "retry_at", ev.RetryAt)
	case StatusDead:
		jobDeadLetters.Add(ctx, 1, metric.WithAttributes(attribute.String("queue", ev.Queue)))
		log.Error("job dead-lettered", "error", ev.Err)
	}

	q.mu.Lock()
	listeners := slices.Clone(q.listeners)
	h := q.handles[ev.JobID]
	if ev.Status != StatusRetrying {
		delete(q.handles, ev.JobID)
	}
	q.mu.Unlock()

	for _, fn := range listeners {
		fn(ev)
	}
	if h == nil || ev.Status == StatusRetrying {
		return
	}
	r := Result{Status: ev.Status, Attempts: ev.Attempt}
	if ev.Status == StatusDead {
		r.Err = fmt.Errorf("%w: %v", ErrDeadLettered, ev.Err)
	}
	h.resolve(r)
}

// Shutdown stops claiming new jobs and waits for in-flight jobs. After timeout
// their contexts are cancelled.
func (q *Queue) Shutdown(timeout time.Duration) {
	logger.Info("job queue: initiating graceful shutdown", "timeout", timeout.String())

	q.mu.Lock()
	select {
	case <-q.stop:
	default:
		close(q.stop)
	}
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("job queue: all workers finished gracefully")
	case <-time.After(timeout):
		logger.Warn("job queue: timeout reached, cancelling in-flight jobs")
		q.cancel()
		<-done
	}
	q.cancel()
}
