package processor

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/generation-pipeline/internal/model"
)

// generationStore reads and writes the durable Generation record.
type generationStore interface {
	Get(ctx context.Context, id int64) (model.Generation, error)
	Update(ctx context.Context, id int64, u model.GenerationUpdate) (model.Generation, error)
}

// imageProvider produces images from prompts or prior conversation.
type imageProvider interface {
	Generate(ctx context.Context, prompt string, opts model.ImageOptions, userID string) (model.ImageOutput, error)
	Continue(ctx context.Context, history []model.Turn, instruction model.Turn, userID string) (model.ImageOutput, error)
}

// copyWriter produces marketing text variants.
type copyWriter interface {
	WriteCopy(ctx context.Context, brief model.CopyBrief, userID string) ([]string, error)
}

// artifactStore persists generated files and returns their public location.
type artifactStore interface {
	Upload(ctx context.Context, data []byte, contentType string) (model.Artifact, error)
}

// postProcessor adjusts generated images before upload.
type postProcessor interface {
	Process(data []byte, contentType string, aspect model.AspectRatio) ([]byte, string, error)
}

// defaultStatusTimeout bounds the best-effort failed write issued after the job context ended.
const defaultStatusTimeout = 10 * time.Second

// Processor dispatches jobs to the handler matching their payload.
// All handlers share one execution envelope: progress, status writes, upload.
type Processor struct {
	generations   generationStore
	images        imageProvider
	copy          copyWriter
	artifacts     artifactStore
	post          postProcessor
	statusTimeout time.Duration
	now           func() time.Time
	log           zerolog.Logger
}

// Option customizes a Processor.
type Option func(*Processor)

// WithPostProcessor runs pp on every generated image before upload.
func WithPostProcessor(pp postProcessor) Option {
	return func(p *Processor) { p.post = pp }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(p *Processor) { p.now = now }
}

// WithStatusTimeout bounds best-effort failed writes.
func WithStatusTimeout(d time.Duration) Option {
	return func(p *Processor) { p.statusTimeout = d }
}

// New creates a Processor with its collaborators.
func New(gs generationStore, ip imageProvider, cw copyWriter, as artifactStore, opts ...Option) *Processor {
	p := &Processor{
		generations:   gs,
		images:        ip,
		copy:          cw,
		artifacts:     as,
		statusTimeout: defaultStatusTimeout,
		now:           time.Now,
		log:           zlog.Logger.With().Str("component", "processor").Logger(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Dispatch executes job with the handler selected by its payload type.
// Unknown payloads fail permanently without touching any collaborator.
func (p *Processor) Dispatch(ctx context.Context, job model.Job, rep Reporter) model.JobResult {
	switch payload := job.Payload.(type) {
	case model.GeneratePayload:
		return p.run(ctx, job, rep, p.generate(job, payload))
	case model.EditPayload:
		return p.run(ctx, job, rep, p.edit(job, payload))
	case model.VariationPayload:
		return p.run(ctx, job, rep, p.variation(job, payload))
	case model.CopyPayload:
		return p.run(ctx, job, rep, p.copywriting(job, payload))
	default:
		now := p.now()
		err := model.Permanent(fmt.Errorf("%w: %s", model.ErrUnknownJobType, job.Type()))
		p.log.Warn().Str("job_id", job.ID.String()).Str("job_type", string(job.Type())).Msg("unknown job type")
		return model.FailedResult(job, err, now, now)
	}
}
