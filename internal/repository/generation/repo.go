package generation

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/wb-go/wbf/dbpg"

	"github.com/aliskhannn/generation-pipeline/internal/model"
)

// ErrGenerationNotFound is returned when no generation exists with the given id.
var ErrGenerationNotFound = model.ErrGenerationNotFound

// Repository provides access to generation records in the database.
type Repository struct {
	db  *dbpg.DB
	now func() time.Time
}

// NewRepository creates a new Repository with the given DB connection.
func NewRepository(db *dbpg.DB) *Repository {
	return &Repository{db: db, now: time.Now}
}

// Create inserts a pending generation and returns its id.
func (r *Repository) Create(ctx context.Context, gen model.Generation) (int64, error) {
	query := `
		INSERT INTO generations (user_id, status, prompt, conversation, created_at, updated_at)
		VALUES ($1, 'pending', $2, $3, now(), now())
		RETURNING id
	`

	conv, err := json.Marshal(conversationOrEmpty(gen.Conversation))
	if err != nil {
		return 0, fmt.Errorf("create: failed to marshal conversation: %w", err)
	}

	var id int64
	if err := r.db.Master.QueryRowContext(ctx, query, gen.UserID, gen.Prompt, conv).Scan(&id); err != nil {
		return 0, fmt.Errorf("create: failed to save generation: %w", err)
	}

	return id, nil
}

// Get retrieves a generation by id.
func (r *Repository) Get(ctx context.Context, id int64) (model.Generation, error) {
	row := r.db.Master.QueryRowContext(ctx, selectGeneration+` WHERE id = $1`, id)

	gen, err := scanGeneration(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Generation{}, ErrGenerationNotFound
		}
		return model.Generation{}, fmt.Errorf("get: failed to get generation: %w", err)
	}

	return gen, nil
}

// Update applies a status write under a row lock.
// The transition rule is evaluated by model.Generation.Apply.
func (r *Repository) Update(ctx context.Context, id int64, u model.GenerationUpdate) (model.Generation, error) {
	tx, err := r.db.Master.BeginTx(ctx, nil)
	if err != nil {
		return model.Generation{}, fmt.Errorf("update: failed to begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	gen, err := scanGeneration(tx.QueryRowContext(ctx, selectGeneration+` WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Generation{}, ErrGenerationNotFound
		}
		return model.Generation{}, fmt.Errorf("update: failed to lock generation: %w", err)
	}

	changed, err := gen.Apply(u, r.now())
	if err != nil {
		return gen, err
	}
	if !changed {
		return gen, nil
	}

	conv, err := json.Marshal(conversationOrEmpty(gen.Conversation))
	if err != nil {
		return model.Generation{}, fmt.Errorf("update: failed to marshal conversation: %w", err)
	}

	query := `
		UPDATE generations
		SET status = $1, image_url = $2, storage_id = $3, copy_text = $4, edit_count = $5,
		    conversation = $6, last_job_id = $7, last_attempt = $8, error = $9, updated_at = $10
		WHERE id = $11
	`

	_, err = tx.ExecContext(ctx, query,
		gen.Status, gen.ImageURL, gen.StorageID, gen.CopyText, gen.EditCount,
		conv, gen.LastJobID, gen.LastAttempt, gen.Error, gen.UpdatedAt, id,
	)
	if err != nil {
		return model.Generation{}, fmt.Errorf("update: failed to update generation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return model.Generation{}, fmt.Errorf("update: failed to commit: %w", err)
	}

	return gen, nil
}

const selectGeneration = `
	SELECT id, user_id, status, prompt, image_url, storage_id, copy_text, edit_count,
	       conversation, last_job_id, last_attempt, error, created_at, updated_at
	FROM generations
`

type scanner interface {
	Scan(dest ...any) error
}

func scanGeneration(s scanner) (model.Generation, error) {
	var (
		gen     model.Generation
		conv    []byte
		lastJob uuid.NullUUID
	)

	err := s.Scan(
		&gen.ID, &gen.UserID, &gen.Status, &gen.Prompt, &gen.ImageURL, &gen.StorageID, &gen.CopyText,
		&gen.EditCount, &conv, &lastJob, &gen.LastAttempt, &gen.Error, &gen.CreatedAt, &gen.UpdatedAt,
	)
	if err != nil {
		return model.Generation{}, err
	}

	if len(conv) > 0 {
		if err := json.Unmarshal(conv, &gen.Conversation); err != nil {
			return model.Generation{}, fmt.Errorf("failed to unmarshal conversation: %w", err)
		}
	}
	if lastJob.Valid {
		gen.LastJobID = lastJob.UUID
	}

	return gen, nil
}

func conversationOrEmpty(turns []model.Turn) []model.Turn {
	if turns == nil {
		return []model.Turn{}
	}
	return turns
}
