package processor

import (
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aliskhannn/generation-pipeline/internal/model"
)

// Reporter receives progress of a single job.
// Implementations must not block; the handler does not wait for delivery.
type Reporter interface {
	Report(p model.JobProgress)
}

// ReporterFunc adapts a function to Reporter.
type ReporterFunc func(p model.JobProgress)

// Report calls f(p).
func (f ReporterFunc) Report(p model.JobProgress) { f(p) }

// tracker keeps emitted progress monotonic and shields the handler from reporter panics.
type tracker struct {
	jobID   uuid.UUID
	rep     Reporter
	now     func() time.Time
	log     zerolog.Logger
	stage   model.Stage
	percent int
	started bool
}

func newTracker(jobID uuid.UUID, rep Reporter, now func() time.Time, log zerolog.Logger) *tracker {
	return &tracker{jobID: jobID, rep: rep, now: now, log: log}
}

func (t *tracker) report(stage model.Stage, percent int, message string) {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	if t.started {
		if stage.Rank() < t.stage.Rank() {
			stage = t.stage
		}
		if percent < t.percent {
			percent = t.percent
		}
	}
	t.stage, t.percent, t.started = stage, percent, true

	if t.rep == nil {
		return
	}
	if message == "" {
		message = string(stage)
	}

	defer func() {
		if r := recover(); r != nil {
			t.log.Error().Interface("panic", r).Str("job_id", t.jobID.String()).Msg("progress reporter panicked")
		}
	}()
	t.rep.Report(model.JobProgress{
		JobID:      t.jobID,
		Stage:      stage,
		Percentage: percent,
		Message:    message,
		At:         t.now(),
	})
}
