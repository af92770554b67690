package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/generation-pipeline/internal/api/respond"
	"github.com/aliskhannn/generation-pipeline/internal/model"
	"github.com/aliskhannn/generation-pipeline/internal/queue"
)

// pipeline is the job submission and status surface.
type pipeline interface {
	Submit(ctx context.Context, req queue.SubmitRequest) (uuid.UUID, error)
	GetStats(ctx context.Context) (model.QueueStats, error)
	IsHealthy(ctx context.Context) bool
}

// progressReader returns the latest progress of a job.
type progressReader interface {
	LatestProgress(ctx context.Context, jobID uuid.UUID) (model.JobProgress, bool, error)
}

// deadLetterLister reads the dead-letter archive.
type deadLetterLister interface {
	List(ctx context.Context, limit, offset int) ([]model.DeadLetterRecord, error)
}

// Handler provides HTTP handlers for job endpoints.
type Handler struct {
	pipeline    pipeline
	progress    progressReader
	deadLetters deadLetterLister
}

// NewHandler creates a new Handler.
func NewHandler(p pipeline, pr progressReader, dl deadLetterLister) *Handler {
	return &Handler{pipeline: p, progress: pr, deadLetters: dl}
}

// BackoffRequest is the retry policy sent by clients.
type BackoffRequest struct {
	Kind    string `json:"kind"`
	DelayMs int64  `json:"delay_ms"`
}

// OptionsRequest overrides the default execution policy.
type OptionsRequest struct {
	Priority       *int            `json:"priority"`
	MaxAttempts    *int            `json:"max_attempts"`
	Backoff        *BackoffRequest `json:"backoff"`
	TimeoutSeconds *int            `json:"timeout_seconds"`
	KeepCompleted  *int            `json:"keep_completed"`
	KeepFailed     *int            `json:"keep_failed"`
}

// SubmitRequest is the body of POST /api/jobs.
type SubmitRequest struct {
	Type         string          `json:"type"`
	UserID       string          `json:"user_id"`
	GenerationID int64           `json:"generation_id"`
	Payload      json.RawMessage `json:"payload"`
	Options      *OptionsRequest `json:"options"`
}

// toQueue converts the body into a queue submission.
func (r SubmitRequest) toQueue() (queue.SubmitRequest, error) {
	payload, err := model.DecodePayload(model.JobType(r.Type), r.Payload)
	if err != nil {
		return queue.SubmitRequest{}, err
	}

	req := queue.SubmitRequest{
		UserID:       r.UserID,
		GenerationID: r.GenerationID,
		Payload:      payload,
	}

	if o := r.Options; o != nil {
		opts := &queue.JobOptions{
			Priority:      o.Priority,
			MaxAttempts:   o.MaxAttempts,
			KeepCompleted: o.KeepCompleted,
			KeepFailed:    o.KeepFailed,
		}
		if o.Backoff != nil {
			opts.Backoff = &model.Backoff{
				Kind:  model.BackoffKind(o.Backoff.Kind),
				Delay: time.Duration(o.Backoff.DelayMs) * time.Millisecond,
			}
		}
		if o.TimeoutSeconds != nil {
			timeout := time.Duration(*o.TimeoutSeconds) * time.Second
			opts.Timeout = &timeout
		}
		req.Options = opts
	}

	return req, nil
}

// Submit enqueues a job and answers 202 with its id.
func (h *Handler) Submit(c *gin.Context) {
	var body SubmitRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		zlog.Logger.Warn().Err(err).Msg("invalid job request")
		respond.Fail(c, http.StatusBadRequest, fmt.Errorf("invalid request body: %v", err))
		return
	}

	req, err := body.toQueue()
	if err != nil {
		respond.Fail(c, http.StatusBadRequest, err)
		return
	}

	id, err := h.pipeline.Submit(c.Request.Context(), req)
	if err != nil {
		var verr *queue.ValidationError
		if errors.As(err, &verr) {
			respond.Invalid(c, queue.ErrValidation, verr.Fields)
			return
		}

		zlog.Logger.Err(err).Msg("failed to submit job")
		respond.Fail(c, http.StatusInternalServerError, fmt.Errorf("failed to submit job"))
		return
	}

	respond.Accepted(c, gin.H{"job_id": id})
}

// Stats returns queue counts.
func (h *Handler) Stats(c *gin.Context) {
	stats, err := h.pipeline.GetStats(c.Request.Context())
	if err != nil {
		zlog.Logger.Err(err).Msg("failed to get queue stats")
		respond.Fail(c, http.StatusInternalServerError, fmt.Errorf("failed to get queue stats"))
		return
	}

	respond.OK(c, stats)
}

// Health answers 200 when the job store is reachable and 503 otherwise.
func (h *Handler) Health(c *gin.Context) {
	if !h.pipeline.IsHealthy(c.Request.Context()) {
		respond.JSON(c, http.StatusServiceUnavailable, respond.Success{Result: gin.H{"status": "unhealthy"}})
		return
	}

	respond.OK(c, gin.H{"status": "ok"})
}

// Progress returns the latest progress of a job.
func (h *Handler) Progress(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respond.Fail(c, http.StatusBadRequest, fmt.Errorf("invalid id: %v", err))
		return
	}

	progress, ok, err := h.progress.LatestProgress(c.Request.Context(), id)
	if err != nil {
		zlog.Logger.Err(err).Str("job_id", id.String()).Msg("failed to get progress")
		respond.Fail(c, http.StatusInternalServerError, fmt.Errorf("failed to get progress"))
		return
	}
	if !ok {
		respond.Fail(c, http.StatusNotFound, fmt.Errorf("progress not found"))
		return
	}

	respond.OK(c, progress)
}

// DeadLetters lists archived failed jobs, newest first.
func (h *Handler) DeadLetters(c *gin.Context) {
	limit, err := intQuery(c, "limit", 50)
	if err != nil || limit < 1 || limit > 500 {
		respond.Fail(c, http.StatusBadRequest, fmt.Errorf("limit must be between 1 and 500"))
		return
	}
	offset, err := intQuery(c, "offset", 0)
	if err != nil || offset < 0 {
		respond.Fail(c, http.StatusBadRequest, fmt.Errorf("offset must not be negative"))
		return
	}

	records, err := h.deadLetters.List(c.Request.Context(), limit, offset)
	if err != nil {
		zlog.Logger.Err(err).Msg("failed to list dead letters")
		respond.Fail(c, http.StatusInternalServerError, fmt.Errorf("failed to list dead letters"))
		return
	}

	respond.OK(c, records)
}

func intQuery(c *gin.Context, key string, def int) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}
