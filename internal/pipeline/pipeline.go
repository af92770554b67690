package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/generation-pipeline/internal/deadletter"
	"github.com/aliskhannn/generation-pipeline/internal/events"
	"github.com/aliskhannn/generation-pipeline/internal/model"
	"github.com/aliskhannn/generation-pipeline/internal/processor"
	"github.com/aliskhannn/generation-pipeline/internal/queue"
	"github.com/aliskhannn/generation-pipeline/internal/worker"
)

// JobStore is the full job store used by the producer and the worker pool.
type JobStore interface {
	Enqueue(ctx context.Context, job model.Job) (uuid.UUID, error)
	Claim(ctx context.Context, workerID string, lockFor time.Duration) (model.ClaimedJob, bool, error)
	Heartbeat(ctx context.Context, lease model.Lease, lockFor time.Duration) error
	Complete(ctx context.Context, lease model.Lease, result model.JobResult) error
	Retry(ctx context.Context, lease model.Lease, reason string, delay time.Duration) error
	Fail(ctx context.Context, lease model.Lease, result model.JobResult) error
	RecoverStalled(ctx context.Context, maxStalled int) ([]model.StalledJob, error)
	Clean(ctx context.Context) (int64, error)
	Stats(ctx context.Context) (model.QueueStats, error)
	Ping(ctx context.Context) error
}

// Config configures a Pipeline.
type Config struct {
	Worker       worker.Config
	Defaults     model.Options
	EventBuffer  int
	DrainTimeout time.Duration
}

// Deps are the collaborators of a Pipeline.
type Deps struct {
	Store       JobStore
	Processor   *processor.Processor
	DeadLetters deadletter.Sink
	Publishers  []events.Publisher
}

// Pipeline owns the producer, the worker pool and the event stream.
type Pipeline struct {
	producer *queue.Producer
	pool     *worker.Pool
	stream   *events.Stream
	drain    time.Duration

	mu      sync.Mutex
	started bool
	closed  bool
}

// New wires a Pipeline. Nothing runs until Start.
func New(cfg Config, deps Deps) (*Pipeline, error) {
	if deps.Store == nil || deps.Processor == nil || deps.DeadLetters == nil {
		return nil, errors.New("pipeline: store, processor and dead-letter sink are required")
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = 30 * time.Second
	}

	stream := events.NewStream(cfg.EventBuffer, deps.Publishers...)
	router := deadletter.NewRouter(deps.DeadLetters)

	return &Pipeline{
		producer: queue.New(deps.Store, cfg.Defaults),
		pool:     worker.New(cfg.Worker, deps.Store, deps.Processor, router, stream),
		stream:   stream,
		drain:    cfg.DrainTimeout,
	}, nil
}

// Start begins event delivery and job processing.
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return errors.New("pipeline: closed")
	}
	if p.started {
		return errors.New("pipeline: already started")
	}

	go p.stream.Run()

	if err := p.pool.Start(ctx); err != nil {
		return fmt.Errorf("pipeline: %w", err)
	}
	p.started = true

	zlog.Logger.Info().Msg("pipeline started")

	return nil
}

// Submit validates and enqueues a job.
func (p *Pipeline) Submit(ctx context.Context, req queue.SubmitRequest) (uuid.UUID, error) {
	return p.producer.Submit(ctx, req)
}

// GetStats returns job counts per queue state.
func (p *Pipeline) GetStats(ctx context.Context) (model.QueueStats, error) {
	return p.producer.Stats(ctx)
}

// IsHealthy reports whether the job store is reachable.
func (p *Pipeline) IsHealthy(ctx context.Context) bool {
	return p.producer.Health(ctx)
}

// Subscribe returns a channel of pipeline events and a function releasing it.
func (p *Pipeline) Subscribe(buffer int) (<-chan events.Event, func()) {
	return p.stream.Subscribe(buffer)
}

// DroppedEvents returns the number of events discarded because a buffer was full.
func (p *Pipeline) DroppedEvents() int64 {
	return p.stream.Dropped()
}

// Close stops claiming, waits for in-flight jobs up to the drain timeout
// and flushes pending events.
func (p *Pipeline) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	started := p.started
	p.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, p.drain)
	defer cancel()

	var errs []error
	if started {
		if err := p.pool.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop workers: %w", err))
		}
	}

	if !started {
		go p.stream.Run()
	}
	if err := p.stream.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("close events: %w", err))
	}

	zlog.Logger.Info().Msg("pipeline closed")

	return errors.Join(errs...)
}
