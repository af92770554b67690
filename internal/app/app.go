package app

import (
	"context"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/generation-pipeline/internal/api/handlers/generation"
	"github.com/aliskhannn/generation-pipeline/internal/api/handlers/jobs"
	"github.com/aliskhannn/generation-pipeline/internal/api/router"
	"github.com/aliskhannn/generation-pipeline/internal/config"
	"github.com/aliskhannn/generation-pipeline/internal/events"
	"github.com/aliskhannn/generation-pipeline/internal/infra/kafka/consumer"
	"github.com/aliskhannn/generation-pipeline/internal/infra/kafka/producer"
	dlqmsg "github.com/aliskhannn/generation-pipeline/internal/kafka/handlers/deadletter"
	"github.com/aliskhannn/generation-pipeline/internal/model"
	"github.com/aliskhannn/generation-pipeline/internal/pipeline"
	"github.com/aliskhannn/generation-pipeline/internal/processor"
	"github.com/aliskhannn/generation-pipeline/internal/provider/gemini"
	"github.com/aliskhannn/generation-pipeline/internal/storage/file"
	"github.com/aliskhannn/generation-pipeline/internal/worker"
)

// progressStore publishes events and answers latest-progress queries.
type progressStore interface {
	events.Publisher
	LatestProgress(ctx context.Context, jobID uuid.UUID) (model.JobProgress, bool, error)
}

// App is the fully wired service.
type App struct {
	Pipeline *pipeline.Pipeline
	Handler  http.Handler
	// Archiver consumes the dead-letter topic; nil when Kafka is disabled.
	Archiver *consumer.Consumer

	stores  *Stores
	closers []func() error
}

// Build connects every dependency described by cfg.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	stores, err := OpenStores(cfg)
	if err != nil {
		return nil, err
	}

	a := &App{stores: stores}
	if err := a.wire(ctx, cfg); err != nil {
		a.Close()
		return nil, err
	}

	return a, nil
}

func (a *App) wire(ctx context.Context, cfg *config.Config) error {
	storage, err := file.NewStorage(ctx, file.Options{
		Endpoint:   cfg.Storage.Endpoint,
		AccessKey:  cfg.Storage.AccessKey,
		SecretKey:  cfg.Storage.SecretKey,
		BucketName: cfg.Storage.BucketName,
		UseSSL:     cfg.Storage.UseSSL,
		PublicURL:  cfg.Storage.PublicURL,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to storage: %w", err)
	}

	client, err := gemini.NewClient(gemini.Options{
		APIKey:     cfg.Provider.APIKey,
		BaseURL:    cfg.Provider.BaseURL,
		ImageModel: cfg.Provider.ImageModel,
		TextModel:  cfg.Provider.TextModel,
		Timeout:    cfg.Provider.Timeout,
		Breaker: gemini.BreakerSettings{
			MaxRequests:         cfg.Provider.Breaker.MaxRequests,
			Interval:            cfg.Provider.Breaker.Interval,
			Timeout:             cfg.Provider.Breaker.Timeout,
			ConsecutiveFailures: cfg.Provider.Breaker.ConsecutiveFailures,
		},
		Images: storage,
	})
	if err != nil {
		return err
	}

	post, err := processor.NewPostProcessor(processor.PostProcessConfig{
		WatermarkText: cfg.PostProcess.WatermarkText,
		FontPath:      cfg.PostProcess.FontPath,
		FontScale:     cfg.PostProcess.FontScale,
		Format:        cfg.PostProcess.Format,
	})
	if err != nil {
		return err
	}

	proc := processor.New(a.stores.Generations, client, client, storage, processor.WithPostProcessor(post))

	sink := a.stores.Sink
	if cfg.Kafka.Enabled && a.stores.Saver != nil {
		strategy := cfg.Retry.Strategy()
		p := producer.New(&cfg.Kafka, strategy)
		a.closers = append(a.closers, p.Close)
		sink = p

		a.Archiver = consumer.New(&cfg.Kafka, strategy, dlqmsg.NewHandler(a.stores.Saver))
		a.closers = append(a.closers, a.Archiver.Close)
	}

	var progress progressStore
	if cfg.Redis.Enabled {
		rp, err := events.NewRedisPublisher(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.Prefix, cfg.Redis.ProgressTTL)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, rp.Close)
		progress = rp
	} else {
		progress = events.NewProgressCache(cfg.Redis.ProgressTTL)
	}

	pl, err := pipeline.New(pipeline.Config{
		Worker: worker.Config{
			Concurrency:     cfg.Queue.Concurrency,
			PollInterval:    cfg.Queue.PollInterval,
			LockDuration:    cfg.Queue.LockDuration,
			StalledInterval: cfg.Queue.StalledInterval,
			MaxStalledCount: cfg.Queue.MaxStalledCount,
			CleanInterval:   cfg.Queue.CleanInterval,
		},
		Defaults:     cfg.Defaults.JobOptions(),
		EventBuffer:  cfg.Queue.EventBuffer,
		DrainTimeout: cfg.Queue.DrainTimeout,
	}, pipeline.Deps{
		Store:       a.stores.Jobs,
		Processor:   proc,
		DeadLetters: sink,
		Publishers:  []events.Publisher{progress},
	})
	if err != nil {
		return err
	}
	a.Pipeline = pl

	a.Handler = router.Setup(
		jobs.NewHandler(pl, progress, a.stores.Archive),
		generation.NewHandler(a.stores.Generations),
	)

	return nil
}

// Close releases every client opened by Build.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			zlog.Logger.Error().Err(err).Msg("failed to close client")
		}
	}
	a.stores.Close()
}
