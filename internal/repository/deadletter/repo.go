package deadletter

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/wb-go/wbf/dbpg"

	"github.com/aliskhannn/generation-pipeline/internal/model"
)

// DefaultListLimit is used when List is called without a positive limit.
const DefaultListLimit = 50

// Repository archives dead-letter records for later triage.
type Repository struct {
	db *dbpg.DB
}

// NewRepository creates a new Repository with the given DB connection.
func NewRepository(db *dbpg.DB) *Repository {
	return &Repository{db: db}
}

// Save inserts the record. A record for the same job is kept only once.
func (r *Repository) Save(ctx context.Context, rec model.DeadLetterRecord) error {
	query := `
		INSERT INTO dead_letters (job_id, job_type, generation_id, job, error, stack, attempts_made, max_attempts, failed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (job_id) DO NOTHING
	`

	job, err := json.Marshal(rec.Job)
	if err != nil {
		return fmt.Errorf("save: failed to marshal job: %w", err)
	}

	_, err = r.db.Master.ExecContext(ctx, query,
		rec.JobID, string(rec.Job.Type()), rec.Job.GenerationID, job, rec.Error, rec.Stack,
		rec.AttemptsMade, rec.MaxAttempts, rec.FailedAt,
	)
	if err != nil {
		return fmt.Errorf("save: failed to save dead letter: %w", err)
	}

	return nil
}

// List returns archived records, newest first.
func (r *Repository) List(ctx context.Context, limit, offset int) ([]model.DeadLetterRecord, error) {
	query := `
		SELECT job_id, job, error, stack, attempts_made, max_attempts, failed_at
		FROM dead_letters
		ORDER BY failed_at DESC, job_id
		LIMIT $1 OFFSET $2
	`

	if limit <= 0 {
		limit = DefaultListLimit
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := r.db.Master.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list: failed to query dead letters: %w", err)
	}
	defer rows.Close()

	records := make([]model.DeadLetterRecord, 0, limit)
	for rows.Next() {
		var (
			rec model.DeadLetterRecord
			job []byte
		)
		if err := rows.Scan(&rec.JobID, &job, &rec.Error, &rec.Stack, &rec.AttemptsMade, &rec.MaxAttempts, &rec.FailedAt); err != nil {
			return nil, fmt.Errorf("list: failed to scan dead letter: %w", err)
		}
		if err := json.Unmarshal(job, &rec.Job); err != nil {
			return nil, fmt.Errorf("list: failed to unmarshal job %s: %w", rec.JobID, err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list: %w", err)
	}

	return records, nil
}
