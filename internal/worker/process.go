package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/aliskhannn/generation-pipeline/internal/events"
	"github.com/aliskhannn/generation-pipeline/internal/model"
	"github.com/aliskhannn/generation-pipeline/internal/processor"
	"github.com/aliskhannn/generation-pipeline/internal/repository/jobs"
)

// timeoutReason is the failure text of an attempt that exceeded its timeout.
const timeoutReason = "timeout"

// process runs one claimed attempt and settles it in the store.
func (p *Pool) process(execCtx context.Context, claimed model.ClaimedJob, log zerolog.Logger) {
	job := claimed.Job
	lease := claimed.Lease()
	log = log.With().
		Str("job_id", job.ID.String()).
		Str("job_type", string(job.Type())).
		Int64("generation_id", job.GenerationID).
		Int("attempt", job.Attempt()).
		Logger()

	p.emit(events.ForJob(events.KindActive, job, p.now()))
	log.Debug().Msg("job started")

	ctx, cancel := context.WithTimeout(execCtx, job.Options.Timeout)
	defer cancel()

	var leaseLost atomic.Bool
	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	defer stopHeartbeat()
	go p.heartbeat(hbCtx, lease, func() {
		leaseLost.Store(true)
		cancel()
	}, log)

	done := make(chan model.JobResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- p.panicResult(job, r, debug.Stack())
			}
		}()
		done <- p.dispatcher.Dispatch(ctx, job, p.reporter(job))
	}()

	var result model.JobResult
	select {
	case result = <-done:
	case <-ctx.Done():
		switch {
		case leaseLost.Load():
			log.Warn().Msg("lease lost, abandoning job")
			return
		case errors.Is(ctx.Err(), context.DeadlineExceeded):
			log.Warn().Dur("timeout", job.Options.Timeout).Msg("job timed out")
			now := p.now()
			result = model.FailedResult(job, errors.New(timeoutReason), now.Add(-job.Options.Timeout), now)
			p.dispatcher.MarkFailed(ctx, job, timeoutReason)
		default:
			log.Warn().Msg("job interrupted by shutdown, lease left to expire")
			return
		}
	}
	stopHeartbeat()

	if result.Stack != "" {
		p.dispatcher.MarkFailed(ctx, job, result.Error)
	}

	p.settle(job, lease, result, log)
}

func (p *Pool) reporter(job model.Job) processor.Reporter {
	return processor.ReporterFunc(func(pr model.JobProgress) {
		e := events.ForJob(events.KindProgress, job, pr.At)
		e.Progress = &pr
		p.emit(e)
	})
}

func (p *Pool) panicResult(job model.Job, r any, stack []byte) model.JobResult {
	now := p.now()
	result := model.FailedResult(job, fmt.Errorf("handler panic: %v", r), now, now)
	result.Stack = string(stack)

	p.log.Error().
		Str("job_id", job.ID.String()).
		Interface("panic", r).
		Msg("handler panicked")

	return result
}

// heartbeat renews the lease every LockDuration/2 until ctx ends.
// onLost is called once when the store no longer recognizes the lease.
func (p *Pool) heartbeat(ctx context.Context, lease model.Lease, onLost func(), log zerolog.Logger) {
	every := p.cfg.LockDuration / 2
	for {
		sleep(ctx, every)
		if ctx.Err() != nil {
			return
		}

		err := p.store.Heartbeat(ctx, lease, p.cfg.LockDuration)
		switch {
		case err == nil:
		case errors.Is(err, jobs.ErrLeaseLost):
			onLost()
			return
		case ctx.Err() == nil:
			log.Warn().Err(err).Msg("failed to renew lease")
		}
	}
}

// settle acks the attempt: complete, retry with backoff, or fail and dead-letter.
func (p *Pool) settle(job model.Job, lease model.Lease, result model.JobResult, log zerolog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.AckTimeout)
	defer cancel()

	if result.Status == model.ResultCompleted {
		if err := p.store.Complete(ctx, lease, result); err != nil {
			p.ackFailed(err, "complete", log)
			return
		}

		e := events.ForJob(events.KindCompleted, job, p.now())
		e.Result = &result
		e.Final = true
		p.emit(e)

		log.Info().Int64("processing_time_ms", result.ProcessingTimeMs).Msg("job completed")
		return
	}

	if result.Status != model.ResultFailed || result.Error == "" {
		now := p.now()
		result = model.FailedResult(job, errors.New("handler returned no result"), now, now)
	}

	attempt := job.Attempt()
	exhausted := result.Permanent || attempt >= job.Options.MaxAttempts

	e := events.ForJob(events.KindFailed, job, p.now())
	e.Result = &result
	e.Reason = result.Error

	if !exhausted {
		delay := job.Options.Backoff.Next(attempt)
		if err := p.store.Retry(ctx, lease, result.Error, delay); err != nil {
			p.ackFailed(err, "retry", log)
			return
		}

		p.emit(e)
		log.Warn().Str("error", result.Error).Dur("retry_in", delay).Msg("job attempt failed, retry scheduled")
		return
	}

	if err := p.store.Fail(ctx, lease, result); err != nil {
		p.ackFailed(err, "fail", log)
		return
	}

	e.Final = true
	p.emit(e)
	log.Error().Str("error", result.Error).Bool("permanent", result.Permanent).Msg("job failed")

	final := job
	final.AttemptsMade = attempt
	p.dlq.Route(ctx, final, result)
}

func (p *Pool) ackFailed(err error, op string, log zerolog.Logger) {
	if errors.Is(err, jobs.ErrLeaseLost) {
		log.Warn().Str("ack", op).Msg("ack rejected, job was reclaimed by another worker")
		return
	}
	log.Error().Err(err).Str("ack", op).Msg("failed to ack job")
}
