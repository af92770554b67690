package jobs

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/wb-go/wbf/dbpg"

	"github.com/aliskhannn/generation-pipeline/internal/model"
)

const jobColumns = `id, user_id, generation_id, type, payload, options, attempts_made, stalled_count, created_at`

// Repository is the Postgres job store.
// Claims rely on FOR UPDATE SKIP LOCKED so concurrent workers never lease the same row.
type Repository struct {
	db *dbpg.DB
}

// NewRepository creates a new Repository with the given DB connection.
func NewRepository(db *dbpg.DB) *Repository {
	return &Repository{db: db}
}

// Enqueue inserts a waiting job and returns the id assigned by the database.
func (r *Repository) Enqueue(ctx context.Context, job model.Job) (uuid.UUID, error) {
	query := `
		INSERT INTO jobs (
			user_id, generation_id, type, payload, options, priority,
			keep_completed, keep_failed, status, run_at, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 'waiting', now(), $9)
		RETURNING id
	`

	jobType, payload, err := model.EncodePayload(job.Payload)
	if err != nil {
		return uuid.Nil, fmt.Errorf("enqueue: %w", err)
	}

	opts, err := json.Marshal(job.Options)
	if err != nil {
		return uuid.Nil, fmt.Errorf("enqueue: failed to marshal options: %w", err)
	}

	var id uuid.UUID
	err = r.db.Master.QueryRowContext(
		ctx, query,
		job.UserID, job.GenerationID, string(jobType), []byte(payload), opts, job.Options.Priority,
		job.Options.Retention.KeepCompleted, job.Options.Retention.KeepFailed, job.CreatedAt,
	).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("enqueue: failed to insert job: %w", err)
	}

	return id, nil
}

// Claim leases the next runnable job to workerID for lockFor.
// It returns false when nothing is runnable.
func (r *Repository) Claim(ctx context.Context, workerID string, lockFor time.Duration) (model.ClaimedJob, bool, error) {
	query := `
		WITH next AS (
			SELECT id FROM jobs
			WHERE status IN ('waiting', 'delayed') AND run_at <= now()
			ORDER BY priority, run_at, created_at
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		UPDATE jobs j
		SET status = 'active',
		    lock_token = $1,
		    locked_by = $2,
		    locked_until = now() + make_interval(secs => $3),
		    started_at = now()
		FROM next
		WHERE j.id = next.id
		RETURNING j.id, j.user_id, j.generation_id, j.type, j.payload, j.options,
		          j.attempts_made, j.stalled_count, j.created_at, j.locked_until
	`

	token := uuid.New()
	row := r.db.Master.QueryRowContext(ctx, query, token, workerID, lockFor.Seconds())

	var claimed model.ClaimedJob
	job, err := scanJob(row, &claimed.LockedUntil)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.ClaimedJob{}, false, nil
		}
		return model.ClaimedJob{}, false, fmt.Errorf("claim: %w", err)
	}

	claimed.Job = job
	claimed.Token = token

	return claimed, true, nil
}

// Heartbeat extends the lease of an active job.
func (r *Repository) Heartbeat(ctx context.Context, lease model.Lease, lockFor time.Duration) error {
	query := `
		UPDATE jobs
		SET locked_until = now() + make_interval(secs => $3)
		WHERE id = $1 AND lock_token = $2 AND status = 'active'
	`

	return r.execLeased(ctx, "heartbeat", query, lease.JobID, lease.Token, lockFor.Seconds())
}

// Complete marks the job completed and stores its result.
func (r *Repository) Complete(ctx context.Context, lease model.Lease, result model.JobResult) error {
	query := `
		UPDATE jobs
		SET status = 'completed',
		    result = $3,
		    last_error = NULL,
		    finished_at = now(),
		    lock_token = NULL, locked_by = NULL, locked_until = NULL
		WHERE id = $1 AND lock_token = $2 AND status = 'active'
	`

	res, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("complete: failed to marshal result: %w", err)
	}

	return r.execLeased(ctx, "complete", query, lease.JobID, lease.Token, res)
}

// Retry counts the failed attempt and schedules the job again after delay.
func (r *Repository) Retry(ctx context.Context, lease model.Lease, reason string, delay time.Duration) error {
	query := `
		UPDATE jobs
		SET status = 'delayed',
		    attempts_made = attempts_made + 1,
		    last_error = $3,
		    run_at = now() + make_interval(secs => $4),
		    lock_token = NULL, locked_by = NULL, locked_until = NULL
		WHERE id = $1 AND lock_token = $2 AND status = 'active'
	`

	return r.execLeased(ctx, "retry", query, lease.JobID, lease.Token, reason, delay.Seconds())
}

// Fail counts the failed attempt and moves the job to failed for good.
func (r *Repository) Fail(ctx context.Context, lease model.Lease, result model.JobResult) error {
	query := `
		UPDATE jobs
		SET status = 'failed',
		    attempts_made = attempts_made + 1,
		    last_error = $3,
		    result = $4,
		    finished_at = now(),
		    lock_token = NULL, locked_by = NULL, locked_until = NULL
		WHERE id = $1 AND lock_token = $2 AND status = 'active'
	`

	res, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("fail: failed to marshal result: %w", err)
	}

	return r.execLeased(ctx, "fail", query, lease.JobID, lease.Token, result.Error, res)
}

func (r *Repository) execLeased(ctx context.Context, op, query string, args ...any) error {
	res, err := r.db.Master.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: failed to update job: %w", op, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: failed to get number of rows affected: %w", op, err)
	}

	if n == 0 {
		return ErrLeaseLost
	}

	return nil
}

// RecoverStalled requeues active jobs whose lease expired.
// Jobs that stalled more than maxStalled times are failed instead.
func (r *Repository) RecoverStalled(ctx context.Context, maxStalled int) ([]model.StalledJob, error) {
	tx, err := r.db.Master.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("recover stalled: failed to begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, `
		SELECT id FROM jobs
		WHERE status = 'active' AND locked_until < now()
		FOR UPDATE SKIP LOCKED
	`)
	if err != nil {
		return nil, fmt.Errorf("recover stalled: failed to select expired leases: %w", err)
	}

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("recover stalled: failed to scan id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("recover stalled: %w", err)
	}
	_ = rows.Close()

	if len(ids) == 0 {
		return nil, nil
	}

	rows, err = tx.QueryContext(ctx, `
		UPDATE jobs
		SET stalled_count = stalled_count + 1,
		    status = CASE WHEN stalled_count + 1 > $2 THEN 'failed' ELSE 'waiting' END,
		    last_error = CASE WHEN stalled_count + 1 > $2 THEN $3 ELSE last_error END,
		    finished_at = CASE WHEN stalled_count + 1 > $2 THEN now() ELSE NULL END,
		    lock_token = NULL, locked_by = NULL, locked_until = NULL
		WHERE id = ANY($1)
		RETURNING `+jobColumns+`, status = 'failed'
	`, pq.Array(ids), maxStalled, StalledReason)
	if err != nil {
		return nil, fmt.Errorf("recover stalled: failed to requeue: %w", err)
	}
	defer rows.Close()

	var stalled []model.StalledJob
	for rows.Next() {
		var s model.StalledJob
		job, err := scanJob(rows, &s.Failed)
		if err != nil {
			return nil, fmt.Errorf("recover stalled: %w", err)
		}
		s.Job = job
		stalled = append(stalled, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("recover stalled: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("recover stalled: failed to commit: %w", err)
	}

	return stalled, nil
}

// Clean deletes finished jobs beyond the retention recorded on each job.
func (r *Repository) Clean(ctx context.Context) (int64, error) {
	query := `
		DELETE FROM jobs
		WHERE id IN (
			SELECT id FROM (
				SELECT id, status, keep_completed, keep_failed,
				       row_number() OVER (PARTITION BY status ORDER BY finished_at DESC, id) AS rn
				FROM jobs
				WHERE status IN ('completed', 'failed')
			) ranked
			WHERE (status = 'completed' AND rn > keep_completed)
			   OR (status = 'failed' AND rn > keep_failed)
		)
	`

	res, err := r.db.Master.ExecContext(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("clean: failed to delete jobs: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("clean: failed to get number of rows affected: %w", err)
	}

	return n, nil
}

// Stats returns job counts per state.
func (r *Repository) Stats(ctx context.Context) (model.QueueStats, error) {
	rows, err := r.db.Master.QueryContext(ctx, `SELECT status, count(*) FROM jobs GROUP BY status`)
	if err != nil {
		return model.QueueStats{}, fmt.Errorf("stats: failed to count jobs: %w", err)
	}
	defer rows.Close()

	var stats model.QueueStats
	for rows.Next() {
		var (
			state State
			n     int64
		)
		if err := rows.Scan(&state, &n); err != nil {
			return model.QueueStats{}, fmt.Errorf("stats: failed to scan: %w", err)
		}
		addStat(&stats, state, n)
	}
	if err := rows.Err(); err != nil {
		return model.QueueStats{}, fmt.Errorf("stats: %w", err)
	}

	return stats, nil
}

// Ping checks database connectivity.
func (r *Repository) Ping(ctx context.Context) error {
	return r.db.Master.PingContext(ctx)
}

type scanner interface {
	Scan(dest ...any) error
}

// scanJob reads jobColumns followed by the optional extra destinations.
func scanJob(s scanner, extra ...any) (model.Job, error) {
	var (
		job     model.Job
		jobType string
		payload []byte
		opts    []byte
	)

	dest := []any{
		&job.ID, &job.UserID, &job.GenerationID, &jobType, &payload, &opts,
		&job.AttemptsMade, &job.StalledCount, &job.CreatedAt,
	}
	if err := s.Scan(append(dest, extra...)...); err != nil {
		return model.Job{}, err
	}

	p, err := model.DecodePayload(model.JobType(jobType), payload)
	if err != nil {
		return model.Job{}, fmt.Errorf("job %s: %w", job.ID, err)
	}
	job.Payload = p

	if err := json.Unmarshal(opts, &job.Options); err != nil {
		return model.Job{}, fmt.Errorf("job %s: failed to unmarshal options: %w", job.ID, err)
	}

	return job, nil
}

func addStat(stats *model.QueueStats, state State, n int64) {
	switch state {
	case StateWaiting:
		stats.Waiting += n
	case StateDelayed:
		stats.Delayed += n
	case StateActive:
		stats.Active += n
	case StateCompleted:
		stats.Completed += n
	case StateFailed:
		stats.Failed += n
	}
}
