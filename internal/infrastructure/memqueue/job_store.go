// Package memqueue is an in-process job backend for development and tests.
// Jobs do not survive a restart.
package memqueue

import (
	"context"
	"sort"
	"sync"
	"time"

	"spendwise/internal/interfaces/jobqueue"
)

// JobStore is an in-process jobqueue.Backend. Leases and retry times are
// honored against the store clock, so redelivery can be driven from tests.
type JobStore struct {
	mu   sync.Mutex
	jobs map[string]*jobqueue.Job
	seq  map[string]int64
	next int64
	now  func() time.Time
}

var _ jobqueue.Backend = (*JobStore)(nil)

func NewJobStore() *JobStore {
	return &JobStore{
		jobs: make(map[string]*jobqueue.Job),
		seq:  make(map[string]int64),
		now:  time.Now,
	}
}

// SetClock replaces the store clock.
func (s *JobStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *JobStore) Enqueue(_ context.Context, job *jobqueue.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	j := copyJob(job)
	j.Status = jobqueue.StatusPending
	if j.RunAt.IsZero() {
		j.RunAt = now
	}
	j.CreatedAt, j.UpdatedAt = now, now
	s.next++
	s.jobs[j.ID] = j
	s.seq[j.ID] = s.next
	return nil
}

func (s *JobStore) Claim(_ context.Context, queue string, lease time.Duration) (*jobqueue.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var picked *jobqueue.Job
	for _, j := range s.jobs {
		if j.Queue != queue || !claimable(j, now) {
			continue
		}
		if picked == nil || j.RunAt.Before(picked.RunAt) ||
			(j.RunAt.Equal(picked.RunAt) && s.seq[j.ID] < s.seq[picked.ID]) {
			picked = j
		}
	}
	if picked == nil {
		return nil, nil
	}

	picked.UpdatedAt = now
	if picked.Status == jobqueue.StatusRunning && picked.Exhausted() {
		// The final attempt was lost with its worker.
		picked.Status = jobqueue.StatusDead
		picked.LeaseUntil = nil
		picked.LastError = jobqueue.ErrLeaseExpired.Error()
		return copyJob(picked), nil
	}

	until := now.Add(lease)
	picked.Status = jobqueue.StatusRunning
	picked.Attempts++
	picked.LeaseUntil = &until
	return copyJob(picked), nil
}

func claimable(j *jobqueue.Job, now time.Time) bool {
	switch j.Status {
	case jobqueue.StatusPending:
		return !j.RunAt.After(now)
	case jobqueue.StatusRunning:
		return j.LeaseUntil != nil && !j.LeaseUntil.After(now)
	}
	return false
}

func (s *JobStore) Ack(_ context.Context, id string, attempt int) error {
	return s.settle(id, attempt, func(j *jobqueue.Job) {
		j.Status = jobqueue.StatusSucceeded
		j.LastError = ""
	})
}

func (s *JobStore) Retry(_ context.Context, id string, attempt int, runAt time.Time, lastErr string) error {
	return s.settle(id, attempt, func(j *jobqueue.Job) {
		j.Status = jobqueue.StatusPending
		j.RunAt = runAt
		j.LastError = lastErr
	})
}

func (s *JobStore) Bury(_ context.Context, id string, attempt int, lastErr string) error {
	return s.settle(id, attempt, func(j *jobqueue.Job) {
		j.Status = jobqueue.StatusDead
		j.LastError = lastErr
	})
}

func (s *JobStore) Requeue(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok || j.Status != jobqueue.StatusDead {
		return jobqueue.ErrJobNotFound
	}
	now := s.now()
	j.Status = jobqueue.StatusPending
	j.Attempts = 0
	j.RunAt = now
	j.UpdatedAt = now
	return nil
}

func (s *JobStore) Get(_ context.Context, id string) (*jobqueue.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return nil, jobqueue.ErrJobNotFound
	}
	return copyJob(j), nil
}

// ListDead returns dead jobs oldest first. An empty queue matches every queue.
func (s *JobStore) ListDead(_ context.Context, queue string, limit int) ([]*jobqueue.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*jobqueue.Job
	for _, j := range s.jobs {
		if j.Status == jobqueue.StatusDead && (queue == "" || j.Queue == queue) {
			out = append(out, copyJob(j))
		}
	}
	sort.Slice(out, func(a, b int) bool { return s.seq[out[a].ID] < s.seq[out[b].ID] })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// settle records the outcome of attempt if that attempt still holds the job.
func (s *JobStore) settle(id string, attempt int, fn func(j *jobqueue.Job)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return jobqueue.ErrJobNotFound
	}
	if j.Status != jobqueue.StatusRunning || j.Attempts != attempt {
		return jobqueue.ErrStaleLease
	}
	fn(j)
	j.LeaseUntil = nil
	j.UpdatedAt = s.now()
	return nil
}

func copyJob(j *jobqueue.Job) *jobqueue.Job {
	c := *j
	c.Payload = append([]byte(nil), j.Payload...)
	if j.LeaseUntil != nil {
		until := *j.LeaseUntil
		c.LeaseUntil = &until
	}
	return &c
}
