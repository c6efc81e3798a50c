package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"spendwise/internal/infrastructure/crypto"
	"spendwise/internal/interfaces/jobqueue"
)

// JobRepository is the durable jobqueue.Backend. Payloads are encrypted
// because reconcile bundles carry the provider credential.
type JobRepository struct {
	db  *DB
	enc *crypto.Encryptor
}

var _ jobqueue.Backend = (*JobRepository)(nil)

func NewJobRepository(db *DB, enc *crypto.Encryptor) *JobRepository {
	return &JobRepository{db: db, enc: enc}
}

const jobColumns = `id, queue, payload, status, attempts, max_attempts, run_at, lease_until, last_error, created_at, updated_at`

func (r *JobRepository) Enqueue(ctx context.Context, job *jobqueue.Job) error {
	sealed, err := r.enc.Encrypt(string(job.Payload))
	if err != nil {
		return fmt.Errorf("failed to encrypt job payload: %w", err)
	}
	runAt := job.RunAt
	if runAt.IsZero() {
		runAt = time.Now()
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO jobs (id, queue, payload, status, max_attempts, run_at)
		VALUES ($1, $2, $3, 'pending', $4, $5)`,
		job.ID, job.Queue, sealed, job.MaxAttempts, runAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert job: %w", err)
	}
	return nil
}

// Claim leases the oldest ready job. Rows locked by other claimers are
// skipped, so concurrent workers never receive the same job. A job whose
// lease lapsed on its final attempt is buried and returned as dead.
func (r *JobRepository) Claim(ctx context.Context, queue string, lease time.Duration) (*jobqueue.Job, error) {
	query := `
		UPDATE jobs
		SET status = CASE WHEN ` + lostFinalAttempt + ` THEN 'dead' ELSE 'running' END,
		    attempts = CASE WHEN ` + lostFinalAttempt + ` THEN attempts ELSE attempts + 1 END,
		    lease_until = CASE WHEN ` + lostFinalAttempt + ` THEN NULL ELSE now() + $2 * interval '1 millisecond' END,
		    last_error = CASE WHEN ` + lostFinalAttempt + ` THEN $3 ELSE last_error END,
		    updated_at = now()
		WHERE id = (
			SELECT id FROM jobs
			WHERE queue = $1
			  AND ((status = 'pending' AND run_at <= now())
			    OR (status = 'running' AND lease_until <= now()))
			ORDER BY run_at, created_at
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		RETURNING ` + jobColumns

	job, err := r.scan(r.db.QueryRowContext(ctx, query, queue, lease.Milliseconds(), jobqueue.ErrLeaseExpired.Error()))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}
	return job, nil
}

// lostFinalAttempt matches a running job, already past its lease, that has
// used every attempt.
const lostFinalAttempt = `(status = 'running' AND attempts >= max_attempts)`

// Outcome writes only apply to the delivery that still holds the job.

func (r *JobRepository) Ack(ctx context.Context, id string, attempt int) error {
	return r.settle(ctx, `UPDATE jobs SET status = 'succeeded', lease_until = NULL, last_error = '', updated_at = now()
		WHERE id = $1 AND status = 'running' AND attempts = $2`, id, attempt)
}

func (r *JobRepository) Retry(ctx context.Context, id string, attempt int, runAt time.Time, lastErr string) error {
	return r.settle(ctx, `UPDATE jobs SET status = 'pending', run_at = $3, lease_until = NULL, last_error = $4, updated_at = now()
		WHERE id = $1 AND status = 'running' AND attempts = $2`, id, attempt, runAt, lastErr)
}

func (r *JobRepository) Bury(ctx context.Context, id string, attempt int, lastErr string) error {
	return r.settle(ctx, `UPDATE jobs SET status = 'dead', lease_until = NULL, last_error = $3, updated_at = now()
		WHERE id = $1 AND status = 'running' AND attempts = $2`, id, attempt, lastErr)
}

func (r *JobRepository) Requeue(ctx context.Context, id string) error {
	return r.exec(ctx, `UPDATE jobs SET status = 'pending', attempts = 0, run_at = now(), updated_at = now() WHERE id = $1 AND status = 'dead'`, id)
}

func (r *JobRepository) Get(ctx context.Context, id string) (*jobqueue.Job, error) {
	job, err := r.scan(r.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, jobqueue.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return job, nil
}

// ListDead returns dead jobs oldest first. An empty queue matches every queue.
func (r *JobRepository) ListDead(ctx context.Context, queue string, limit int) ([]*jobqueue.Job, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+jobColumns+` FROM jobs
		WHERE status = 'dead' AND ($1 = '' OR queue = $1)
		ORDER BY updated_at, id
		LIMIT $2`,
		queue, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list dead jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*jobqueue.Job
	for rows.Next() {
		job, err := r.scan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func (r *JobRepository) exec(ctx context.Context, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return jobqueue.ErrJobNotFound
	}
	return nil
}

// settle runs an outcome write. No row means the job is gone or another
// delivery holds it.
func (r *JobRepository) settle(ctx context.Context, query string, id string, args ...any) error {
	err := r.exec(ctx, query, append([]any{id}, args...)...)
	if !errors.Is(err, jobqueue.ErrJobNotFound) {
		return err
	}
	if _, getErr := r.Get(ctx, id); getErr != nil {
		return getErr
	}
	return jobqueue.ErrStaleLease
}

func (r *JobRepository) scan(row scanner) (*jobqueue.Job, error) {
	var j jobqueue.Job
	var sealed, status string
	var lease sql.NullTime
	err := row.Scan(&j.ID, &j.Queue, &sealed, &status, &j.Attempts, &j.MaxAttempts,
		&j.RunAt, &lease, &j.LastError, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return nil, err
	}
	payload, err := r.enc.Decrypt(sealed)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt payload of job %s: %w", j.ID, err)
	}
	j.Payload = []byte(payload)
	j.Status = jobqueue.Status(status)
	if lease.Valid {
		j.LeaseUntil = &lease.Time
	}
	return &j, nil
}
