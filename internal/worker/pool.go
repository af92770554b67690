package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/generation-pipeline/internal/events"
	"github.com/aliskhannn/generation-pipeline/internal/model"
	"github.com/aliskhannn/generation-pipeline/internal/processor"
	"github.com/aliskhannn/generation-pipeline/internal/repository/jobs"
)

// jobStore is the lease-based queue the pool pulls from.
type jobStore interface {
	Claim(ctx context.Context, workerID string, lockFor time.Duration) (model.ClaimedJob, bool, error)
	Heartbeat(ctx context.Context, lease model.Lease, lockFor time.Duration) error
	Complete(ctx context.Context, lease model.Lease, result model.JobResult) error
	Retry(ctx context.Context, lease model.Lease, reason string, delay time.Duration) error
	Fail(ctx context.Context, lease model.Lease, result model.JobResult) error
	RecoverStalled(ctx context.Context, maxStalled int) ([]model.StalledJob, error)
	Clean(ctx context.Context) (int64, error)
}

// dispatcher executes one job attempt.
type dispatcher interface {
	Dispatch(ctx context.Context, job model.Job, rep processor.Reporter) model.JobResult
	MarkFailed(ctx context.Context, job model.Job, reason string)
}

// deadLetters archives jobs that will not run again.
type deadLetters interface {
	Route(ctx context.Context, job model.Job, result model.JobResult)
}

// emitter receives lifecycle and progress events. Emit must not block.
type emitter interface {
	Emit(e events.Event)
}

// Pool runs jobs from the store on a fixed number of slots.
type Pool struct {
	cfg        Config
	store      jobStore
	dispatcher dispatcher
	dlq        deadLetters
	events     emitter
	now        func() time.Time
	name       string
	log        zerolog.Logger

	mu         sync.Mutex
	started    bool
	stopClaims context.CancelFunc
	abortJobs  context.CancelFunc
	wg         sync.WaitGroup
}

// New creates a Pool. Call Start to begin processing.
func New(cfg Config, store jobStore, d dispatcher, dlq deadLetters, em emitter) *Pool {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}

	return &Pool{
		cfg:        cfg.withDefaults(),
		store:      store,
		dispatcher: d,
		dlq:        dlq,
		events:     em,
		now:        time.Now,
		name:       fmt.Sprintf("%s-%s", host, gonanoid.Must(8)),
		log:        zlog.Logger.With().Str("component", "worker").Logger(),
	}
}

// Start launches the slots, the stall checker and the cleaner.
// Canceling ctx stops claiming new jobs; in-flight jobs run until Stop's deadline.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return errors.New("worker pool already started")
	}
	p.started = true

	claimCtx, stopClaims := context.WithCancel(ctx)
	execCtx, abortJobs := context.WithCancel(context.WithoutCancel(ctx))
	p.stopClaims, p.abortJobs = stopClaims, abortJobs

	for i := 0; i < p.cfg.Concurrency; i++ {
		p.wg.Add(1)
		go p.slot(claimCtx, execCtx, fmt.Sprintf("%s/%d", p.name, i))
	}

	p.wg.Add(1)
	go p.every(claimCtx, p.cfg.StalledInterval, p.checkStalled)

	if p.cfg.CleanInterval > 0 {
		p.wg.Add(1)
		go p.every(claimCtx, p.cfg.CleanInterval, p.clean)
	}

	p.log.Info().
		Str("worker", p.name).
		Int("concurrency", p.cfg.Concurrency).
		Msg("worker pool started")

	return nil
}

// Stop stops claiming and waits for in-flight jobs. When ctx ends first the
// remaining jobs are abandoned without ack; their leases expire and the stall
// checker requeues them.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return nil
	}
	stopClaims, abortJobs := p.stopClaims, p.abortJobs
	p.mu.Unlock()

	stopClaims()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		abortJobs()
		p.log.Info().Msg("worker pool drained")
		return nil
	case <-ctx.Done():
		abortJobs()
		<-done
		p.log.Warn().Msg("worker pool stopped before in-flight jobs finished")
		return ctx.Err()
	}
}

func (p *Pool) slot(ctx, execCtx context.Context, workerID string) {
	defer p.wg.Done()

	log := p.log.With().Str("worker_id", workerID).Logger()

	for ctx.Err() == nil {
		claimed, ok, err := p.store.Claim(ctx, workerID, p.cfg.LockDuration)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error().Err(err).Msg("failed to claim job")
			sleep(ctx, p.cfg.PollInterval)
			continue
		}
		if !ok {
			sleep(ctx, p.cfg.PollInterval)
			continue
		}

		p.process(execCtx, claimed, log)
	}
}

func (p *Pool) every(ctx context.Context, interval time.Duration, fn func(ctx context.Context)) {
	defer p.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn(ctx)
		}
	}
}

func (p *Pool) emit(e events.Event) {
	if p.events != nil {
		p.events.Emit(e)
	}
}

func (p *Pool) checkStalled(ctx context.Context) {
	stalled, err := p.store.RecoverStalled(ctx, p.cfg.MaxStalledCount)
	if err != nil {
		if ctx.Err() == nil {
			p.log.Error().Err(err).Msg("failed to recover stalled jobs")
		}
		return
	}

	for _, s := range stalled {
		now := p.now()
		e := events.ForJob(events.KindStalled, s.Job, now)
		e.Reason = "lease expired"
		p.emit(e)

		p.log.Warn().
			Str("job_id", s.Job.ID.String()).
			Int("stalled_count", s.Job.StalledCount).
			Bool("failed", s.Failed).
			Msg("job stalled")

		if !s.Failed {
			continue
		}

		p.dispatcher.MarkFailed(ctx, s.Job, jobs.StalledReason)

		f := events.ForJob(events.KindFailed, s.Job, now)
		f.Reason = jobs.StalledReason
		f.Final = true
		p.emit(f)
	}
}

func (p *Pool) clean(ctx context.Context) {
	n, err := p.store.Clean(ctx)
	if err != nil {
		if ctx.Err() == nil {
			p.log.Error().Err(err).Msg("failed to clean finished jobs")
		}
		return
	}
	if n > 0 {
		p.log.Info().Int64("removed", n).Msg("finished jobs cleaned")
	}
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
