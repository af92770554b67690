package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/generation-pipeline/internal/deadletter"
	"github.com/aliskhannn/generation-pipeline/internal/events"
	"github.com/aliskhannn/generation-pipeline/internal/model"
	"github.com/aliskhannn/generation-pipeline/internal/processor"
	"github.com/aliskhannn/generation-pipeline/internal/queue"
	"github.com/aliskhannn/generation-pipeline/internal/repository/generation"
	"github.com/aliskhannn/generation-pipeline/internal/repository/jobs"
	"github.com/aliskhannn/generation-pipeline/internal/worker"
)

func TestMain(m *testing.M) {
	zlog.Init()
	os.Exit(m.Run())
}

// echoProvider returns the prompt bytes as the image so outputs can be traced to inputs.
type echoProvider struct {
	err error
}

func (p echoProvider) Generate(_ context.Context, prompt string, _ model.ImageOptions, _ string) (model.ImageOutput, error) {
	if p.err != nil {
		return model.ImageOutput{}, p.err
	}
	time.Sleep(10 * time.Millisecond)
	return model.ImageOutput{Data: []byte(prompt), MIMEType: "image/png"}, nil
}

func (p echoProvider) Continue(_ context.Context, _ []model.Turn, instruction model.Turn, _ string) (model.ImageOutput, error) {
	if p.err != nil {
		return model.ImageOutput{}, p.err
	}
	return model.ImageOutput{Data: []byte(instruction.Text), MIMEType: "image/png"}, nil
}

func (p echoProvider) WriteCopy(_ context.Context, brief model.CopyBrief, _ string) ([]string, error) {
	if p.err != nil {
		return nil, p.err
	}
	return []string{brief.ProductDescription}, nil
}

type echoArtifacts struct{}

func (echoArtifacts) Upload(_ context.Context, data []byte, _ string) (model.Artifact, error) {
	return model.Artifact{URL: "https://cdn.test/" + string(data), StorageID: string(data)}, nil
}

type setup struct {
	pipeline    *Pipeline
	generations *generation.MemoryStore
	sink        *deadletter.MemorySink
}

func newSetup(t *testing.T, provider echoProvider, concurrency int) *setup {
	t.Helper()
	gens := generation.NewMemoryStore(nil)
	sink := deadletter.NewMemorySink()
	proc := processor.New(gens, provider, provider, echoArtifacts{})

	p, err := New(Config{
		Worker: worker.Config{
			Concurrency:     concurrency,
			PollInterval:    5 * time.Millisecond,
			LockDuration:    5 * time.Second,
			StalledInterval: time.Hour,
			MaxStalledCount: 2,
		},
		Defaults: model.Options{
			Priority:    10,
			MaxAttempts: 2,
			Backoff:     model.Backoff{Kind: model.BackoffFixed, Delay: time.Millisecond},
			Timeout:     2 * time.Second,
			Retention:   model.Retention{KeepCompleted: 100, KeepFailed: 100},
		},
		EventBuffer:  1024,
		DrainTimeout: 2 * time.Second,
	}, Deps{
		Store:       jobs.NewMemoryStore(nil),
		Processor:   proc,
		DeadLetters: sink,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	return &setup{pipeline: p, generations: gens, sink: sink}
}

func finalEvents(t *testing.T, ch <-chan events.Event, n int) map[uuid.UUID]events.Event {
	t.Helper()
	out := make(map[uuid.UUID]events.Event)
	timeout := time.After(5 * time.Second)
	for len(out) < n {
		select {
		case e := <-ch:
			if e.Final {
				out[e.JobID] = e
			}
		case <-timeout:
			t.Fatalf("got %d final events, want %d", len(out), n)
		}
	}
	return out
}

func TestConcurrentJobsKeepTheirOwnOutputs(t *testing.T) {
	s := newSetup(t, echoProvider{}, 3)
	ctx := context.Background()

	ch, cancel := s.pipeline.Subscribe(1024)
	defer cancel()
	if err := s.pipeline.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.pipeline.Close(ctx)

	submitted := make(map[uuid.UUID]int64)
	var mu sync.Mutex
	var wg sync.WaitGroup
	for id := int64(2000); id <= 2006; id++ {
		if _, err := s.generations.Create(ctx, model.Generation{ID: id}); err != nil {
			t.Fatal(err)
		}
		wg.Add(1)
		go func(genID int64) {
			defer wg.Done()
			jobID, err := s.pipeline.Submit(ctx, queue.SubmitRequest{
				UserID:       "u",
				GenerationID: genID,
				Payload:      model.GeneratePayload{Prompt: fmt.Sprintf("gen-%d", genID)},
			})
			if err != nil {
				t.Errorf("Submit %d: %v", genID, err)
				return
			}
			mu.Lock()
			submitted[jobID] = genID
			mu.Unlock()
		}(id)
	}
	wg.Wait()

	results := finalEvents(t, ch, 7)
	for jobID, e := range results {
		genID, ok := submitted[jobID]
		if !ok {
			t.Fatalf("event for unknown job %s", jobID)
		}
		if e.Kind != events.KindCompleted || e.Result == nil {
			t.Fatalf("job %s: event = %+v", jobID, e)
		}
		want := fmt.Sprintf("https://cdn.test/gen-%d", genID)
		if e.Result.ImageURL != want || e.Result.GenerationID != genID {
			t.Fatalf("job %s: result = %+v, want %s", jobID, e.Result, want)
		}

		gen, err := s.generations.Get(ctx, genID)
		if err != nil {
			t.Fatal(err)
		}
		if gen.Status != model.GenerationCompleted || gen.ImageURL != want || gen.LastJobID != jobID {
			t.Fatalf("generation %d = %+v", genID, gen)
		}
	}

	stats, err := s.pipeline.GetStats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Completed != 7 {
		t.Fatalf("stats = %+v", stats)
	}
}

func TestExhaustedJobProducesOneDeadLetter(t *testing.T) {
	s := newSetup(t, echoProvider{err: errors.New("model overloaded")}, 2)
	ctx := context.Background()

	ch, cancel := s.pipeline.Subscribe(256)
	defer cancel()
	if err := s.pipeline.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer s.pipeline.Close(ctx)

	genID, _ := s.generations.Create(ctx, model.Generation{})
	jobID, err := s.pipeline.Submit(ctx, queue.SubmitRequest{
		GenerationID: genID,
		Payload:      model.CopyPayload{ProductDescription: "coffee beans", Platform: model.PlatformInstagram},
	})
	if err != nil {
		t.Fatal(err)
	}

	final := finalEvents(t, ch, 1)[jobID]
	if final.Kind != events.KindFailed || final.Reason != "model overloaded" {
		t.Fatalf("final event = %+v", final)
	}

	var recs []model.DeadLetterRecord
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		recs, _ = s.sink.List(ctx, 0, 0)
		if len(recs) > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if len(recs) != 1 {
		t.Fatalf("dead letters = %d, want 1", len(recs))
	}
	rec := recs[0]
	if rec.JobID != jobID || rec.Error != "model overloaded" || rec.AttemptsMade != 2 {
		t.Fatalf("record = %+v", rec)
	}
	if p, ok := rec.Job.Payload.(model.CopyPayload); !ok || p.ProductDescription != "coffee beans" {
		t.Fatalf("payload = %#v", rec.Job.Payload)
	}

	if gen, _ := s.generations.Get(ctx, genID); gen.Status != model.GenerationFailed {
		t.Fatalf("generation status = %q", gen.Status)
	}
}

func TestSubmitRejectsInvalidJob(t *testing.T) {
	s := newSetup(t, echoProvider{}, 1)

	_, err := s.pipeline.Submit(context.Background(), queue.SubmitRequest{
		GenerationID: 1,
		Payload:      model.UnknownPayload{Tag: "upscale"},
	})
	if !errors.Is(err, queue.ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation", err)
	}
}

func TestLifecycle(t *testing.T) {
	s := newSetup(t, echoProvider{}, 1)
	ctx := context.Background()

	if !s.pipeline.IsHealthy(ctx) {
		t.Fatal("pipeline unhealthy")
	}
	if err := s.pipeline.Start(ctx); err != nil {
		t.Fatal(err)
	}
	if err := s.pipeline.Start(ctx); err == nil {
		t.Fatal("second Start succeeded")
	}
	if err := s.pipeline.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.pipeline.Close(ctx); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if err := s.pipeline.Start(ctx); err == nil {
		t.Fatal("Start after Close succeeded")
	}
}

func TestNewRequiresDeps(t *testing.T) {
	if _, err := New(Config{}, Deps{}); err == nil {
		t.Fatal("New without deps succeeded")
	}
}
