package processor

import (
	"context"
	"errors"

	"github.com/aliskhannn/generation-pipeline/internal/model"
)

// markProcessing records that this job attempt owns the generation.
func (p *Processor) markProcessing(ctx context.Context, job model.Job) (model.Generation, error) {
	return p.generations.Update(ctx, job.GenerationID, model.GenerationUpdate{
		JobID:   job.ID,
		Attempt: job.Attempt(),
		Status:  model.GenerationProcessing,
	})
}

// markCompleted writes the final outcome of a successful attempt.
func (p *Processor) markCompleted(ctx context.Context, job model.Job, u model.GenerationUpdate) error {
	u.JobID = job.ID
	u.Attempt = job.Attempt()
	u.Status = model.GenerationCompleted

	_, err := p.generations.Update(ctx, job.GenerationID, u)
	return err
}

// MarkFailed writes status failed for the current attempt of job.
// The write runs detached from ctx cancellation and only logs on error.
func (p *Processor) MarkFailed(ctx context.Context, job model.Job, reason string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.statusTimeout)
	defer cancel()

	_, err := p.generations.Update(ctx, job.GenerationID, model.GenerationUpdate{
		JobID:   job.ID,
		Attempt: job.Attempt(),
		Status:  model.GenerationFailed,
		Error:   reason,
	})
	if err == nil {
		return
	}

	l := p.log.With().
		Str("job_id", job.ID.String()).
		Int64("generation_id", job.GenerationID).
		Int("attempt", job.Attempt()).
		Logger()

	switch {
	case errors.Is(err, model.ErrTerminalState), errors.Is(err, model.ErrStaleTransition):
		l.Debug().Err(err).Msg("failed status not written")
	default:
		l.Error().Err(err).Msg("failed to mark generation failed")
	}
}
