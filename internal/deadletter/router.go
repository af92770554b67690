package deadletter

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/generation-pipeline/internal/model"
)

// Sink is the durable destination of dead-letter records. It is never the job queue.
type Sink interface {
	Append(ctx context.Context, rec model.DeadLetterRecord) error
}

// Router archives jobs that will not be attempted again.
type Router struct {
	sink Sink
	now  func() time.Time
	log  zerolog.Logger
}

// NewRouter creates a Router writing to sink.
func NewRouter(sink Sink) *Router {
	return &Router{
		sink: sink,
		now:  time.Now,
		log:  zlog.Logger.With().Str("component", "deadletter").Logger(),
	}
}

// Record builds the dead-letter record of job's final failure.
// job.AttemptsMade must already count the final attempt.
func Record(job model.Job, result model.JobResult, failedAt time.Time) model.DeadLetterRecord {
	return model.DeadLetterRecord{
		JobID:        job.ID,
		Job:          job,
		Error:        result.Error,
		Stack:        result.Stack,
		AttemptsMade: job.AttemptsMade,
		MaxAttempts:  job.Options.MaxAttempts,
		FailedAt:     failedAt,
	}
}

// Route writes the record to the sink. Errors are logged, never returned:
// the job outcome does not depend on the archive.
func (r *Router) Route(ctx context.Context, job model.Job, result model.JobResult) {
	rec := Record(job, result, r.now())

	if err := r.sink.Append(ctx, rec); err != nil {
		r.log.Error().Err(err).
			Str("job_id", job.ID.String()).
			Int64("generation_id", job.GenerationID).
			Msg("failed to write dead-letter record")
		return
	}

	r.log.Warn().
		Str("job_id", job.ID.String()).
		Str("job_type", string(job.Type())).
		Int("attempts_made", rec.AttemptsMade).
		Str("error", rec.Error).
		Msg("job moved to dead-letter sink")
}
