package app

import (
	"context"
	"fmt"

	"github.com/wb-go/wbf/dbpg"
	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/generation-pipeline/internal/config"
	"github.com/aliskhannn/generation-pipeline/internal/deadletter"
	"github.com/aliskhannn/generation-pipeline/internal/model"
	"github.com/aliskhannn/generation-pipeline/internal/pipeline"
	deadletterrepo "github.com/aliskhannn/generation-pipeline/internal/repository/deadletter"
	"github.com/aliskhannn/generation-pipeline/internal/repository/generation"
	"github.com/aliskhannn/generation-pipeline/internal/repository/jobs"
)

// GenerationStore is the generation persistence shared by the processor and the API.
type GenerationStore interface {
	Create(ctx context.Context, gen model.Generation) (int64, error)
	Get(ctx context.Context, id int64) (model.Generation, error)
	Update(ctx context.Context, id int64, u model.GenerationUpdate) (model.Generation, error)
}

// DeadLetterArchive lists archived dead-letter records.
type DeadLetterArchive interface {
	List(ctx context.Context, limit, offset int) ([]model.DeadLetterRecord, error)
}

// Stores groups the persistence of the selected backend.
type Stores struct {
	Jobs        pipeline.JobStore
	Generations GenerationStore
	Archive     DeadLetterArchive

	// Sink receives dead-letter records when no Kafka topic is configured.
	Sink deadletter.Sink
	// Saver archives records read from the dead-letter topic; nil for the memory backend.
	Saver *deadletterrepo.Repository

	db *dbpg.DB
}

// archiveSink writes dead-letter records straight into the archive table.
type archiveSink struct {
	repo *deadletterrepo.Repository
}

func (s archiveSink) Append(ctx context.Context, rec model.DeadLetterRecord) error {
	return s.repo.Save(ctx, rec)
}

// OpenStores connects the persistence selected by cfg.Queue.Backend.
func OpenStores(cfg *config.Config) (*Stores, error) {
	if cfg.Queue.Backend == config.BackendMemory {
		sink := deadletter.NewMemorySink()
		zlog.Logger.Warn().Msg("using in-memory backend, jobs are lost on restart")
		return &Stores{
			Jobs:        jobs.NewMemoryStore(nil),
			Generations: generation.NewMemoryStore(nil),
			Archive:     sink,
			Sink:        sink,
		}, nil
	}

	opts := &dbpg.Options{
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	}

	db, err := dbpg.New(cfg.Database.Master.DSN(), cfg.Database.SlaveDSNs(), opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	archive := deadletterrepo.NewRepository(db)

	return &Stores{
		Jobs:        jobs.NewRepository(db),
		Generations: generation.NewRepository(db),
		Archive:     archive,
		Sink:        archiveSink{repo: archive},
		Saver:       archive,
		db:          db,
	}, nil
}

// Close closes master and slave databases.
func (s *Stores) Close() {
	if s.db == nil {
		return
	}
	if err := s.db.Master.Close(); err != nil {
		zlog.Logger.Printf("failed to close master DB: %v", err)
	}
	for i, slave := range s.db.Slaves {
		if err := slave.Close(); err != nil {
			zlog.Logger.Printf("failed to close slave DB %d: %v", i, err)
		}
	}
}
