package jobqueue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Result is the terminal outcome of a job.
type Result struct {
	Status   Status
	Attempts int
	Err      error
}

// Handle is a future for an enqueued job. Callers that only fire and forget
// can drop it.
type Handle struct {
	id      string
	queue   string
	backend Backend
	poll    time.Duration
	created time.Time
	forget  func()

	once   sync.Once
	done   chan struct{}
	result Result
}

func newHandle(id, queue string, backend Backend, poll time.Duration) *Handle {
	return &Handle{
		id:      id,
		queue:   queue,
		backend: backend,
		poll:    poll,
		done:    make(chan struct{}),
	}
}

func (h *Handle) ID() string    { return h.id }
func (h *Handle) Queue() string { return h.queue }

// Done is closed once the outcome is known to this process.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Result returns the terminal outcome, or false while the job is outstanding.
func (h *Handle) Result() (Result, bool) {
	select {
	case <-h.done:
		return h.result, true
	default:
		return Result{}, false
	}
}

// Wait blocks until the job succeeds, is dead-lettered, or ctx ends. A job run
// by another process is observed by polling the backend.
func (h *Handle) Wait(ctx context.Context) error {
	ticker := time.NewTicker(h.poll)
	defer ticker.Stop()

	for {
		select {
		case <-h.done:
			return h.result.Err
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			job, err := h.backend.Get(ctx, h.id)
			if err != nil {
				if errors.Is(err, ErrJobNotFound) {
					return err
				}
				continue
			}
			if job.Terminal() {
				h.resolve(resultOf(job))
			}
		}
	}
}

func (h *Handle) resolve(r Result) {
	h.once.Do(func() {
		h.result = r
		close(h.done)
		if h.forget != nil {
			h.forget()
		}
	})
}

func resultOf(job *Job) Result {
	r := Result{Status: job.Status, Attempts: job.Attempts}
	if job.Status == StatusDead {
		r.Err = fmt.Errorf("%w: %s", ErrDeadLettered, job.LastError)
	}
	return r
}
