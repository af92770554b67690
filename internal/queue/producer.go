package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/generation-pipeline/internal/model"
)

// healthTimeout bounds the store ping issued by Health.
const healthTimeout = 2 * time.Second

// jobStore is the part of the job store the producer writes to.
type jobStore interface {
	Enqueue(ctx context.Context, job model.Job) (uuid.UUID, error)
	Stats(ctx context.Context) (model.QueueStats, error)
	Ping(ctx context.Context) error
}

// DefaultOptions returns the execution policy applied to submissions that omit it.
func DefaultOptions() model.Options {
	return model.Options{
		Priority:    10,
		MaxAttempts: 3,
		Backoff:     model.Backoff{Kind: model.BackoffExponential, Delay: 5 * time.Second},
		Timeout:     120 * time.Second,
		Retention:   model.Retention{KeepCompleted: 100, KeepFailed: 50},
	}
}

// JobOptions overrides parts of the default execution policy. Nil fields keep the default.
type JobOptions struct {
	Priority      *int           `json:"priority,omitempty"`
	MaxAttempts   *int           `json:"max_attempts,omitempty"`
	Backoff       *model.Backoff `json:"backoff,omitempty"`
	Timeout       *time.Duration `json:"timeout,omitempty"`
	KeepCompleted *int           `json:"keep_completed,omitempty"`
	KeepFailed    *int           `json:"keep_failed,omitempty"`
}

// SubmitRequest is a job submission from a collaborator.
type SubmitRequest struct {
	UserID       string
	GenerationID int64
	Payload      model.Payload
	Options      *JobOptions
}

// Producer validates submissions and publishes them to the job store.
type Producer struct {
	store    jobStore
	defaults model.Options
	validate *validator.Validate
	now      func() time.Time
	log      zerolog.Logger
}

// New creates a Producer applying defaults to every submission.
func New(store jobStore, defaults model.Options) *Producer {
	return &Producer{
		store:    store,
		defaults: defaults,
		validate: newValidator(),
		now:      time.Now,
		log:      zlog.Logger.With().Str("component", "producer").Logger(),
	}
}

// Submit validates req and enqueues it as a new job.
// Invalid submissions are rejected with an error wrapping ErrValidation.
func (p *Producer) Submit(ctx context.Context, req SubmitRequest) (uuid.UUID, error) {
	opts, err := p.check(req)
	if err != nil {
		return uuid.Nil, err
	}

	job := model.Job{
		UserID:       req.UserID,
		GenerationID: req.GenerationID,
		Payload:      req.Payload,
		Options:      opts,
		CreatedAt:    p.now(),
	}

	id, err := p.store.Enqueue(ctx, job)
	if err != nil {
		return uuid.Nil, fmt.Errorf("submit: %w", err)
	}

	p.log.Info().
		Str("job_id", id.String()).
		Str("job_type", string(job.Type())).
		Int64("generation_id", job.GenerationID).
		Msg("job enqueued")

	return id, nil
}

func (p *Producer) check(req SubmitRequest) (model.Options, error) {
	fields := make(map[string]string)

	if req.GenerationID <= 0 {
		fields["generation_id"] = "The field 'generation_id' must be greater than 0."
	}

	switch payload := req.Payload.(type) {
	case nil:
		fields["type"] = "The field 'type' is required."
	case model.UnknownPayload:
		fields["type"] = fmt.Sprintf("Unknown job type: %s", payload.Tag)
	default:
		if err := p.validate.Struct(payload); err != nil {
			for k, v := range fieldErrors(err, "payload") {
				fields[k] = v
			}
		}
	}

	opts := p.merge(req.Options)
	if err := opts.Validate(); err != nil {
		fields["options"] = fmt.Sprintf("Invalid options: %v.", err)
	}

	if len(fields) > 0 {
		return model.Options{}, &ValidationError{Fields: fields}
	}

	return opts, nil
}

func (p *Producer) merge(o *JobOptions) model.Options {
	opts := p.defaults
	if o == nil {
		return opts
	}
	if o.Priority != nil {
		opts.Priority = *o.Priority
	}
	if o.MaxAttempts != nil {
		opts.MaxAttempts = *o.MaxAttempts
	}
	if o.Backoff != nil {
		opts.Backoff = *o.Backoff
	}
	if o.Timeout != nil {
		opts.Timeout = *o.Timeout
	}
	if o.KeepCompleted != nil {
		opts.Retention.KeepCompleted = *o.KeepCompleted
	}
	if o.KeepFailed != nil {
		opts.Retention.KeepFailed = *o.KeepFailed
	}
	return opts
}

// Stats returns queue counts.
func (p *Producer) Stats(ctx context.Context) (model.QueueStats, error) {
	stats, err := p.store.Stats(ctx)
	if err != nil {
		return model.QueueStats{}, fmt.Errorf("stats: %w", err)
	}
	return stats, nil
}

// Health reports whether the job store answers a ping in time.
// It never returns an error or panics.
func (p *Producer) Health(ctx context.Context) (healthy bool) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error().Interface("panic", r).Msg("health check panicked")
			healthy = false
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()

	if err := p.store.Ping(ctx); err != nil {
		p.log.Warn().Err(err).Msg("job store is unhealthy")
		return false
	}

	return true
}
