package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aliskhannn/generation-pipeline/internal/model"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newStore() (*MemoryStore, *clock) {
	c := &clock{now: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
	return NewMemoryStore(c.Now), c
}

func job(priority int) model.Job {
	return model.Job{
		GenerationID: 1,
		Payload:      model.GeneratePayload{Prompt: "p"},
		Options: model.Options{
			Priority:    priority,
			MaxAttempts: 3,
			Timeout:     time.Minute,
			Retention:   model.Retention{KeepCompleted: 1, KeepFailed: 1},
		},
	}
}

func mustEnqueue(t *testing.T, s *MemoryStore, j model.Job) model.Job {
	t.Helper()
	id, err := s.Enqueue(context.Background(), j)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	j.ID = id
	return j
}

func mustClaim(t *testing.T, s *MemoryStore) model.ClaimedJob {
	t.Helper()
	c, ok, err := s.Claim(context.Background(), "w1", time.Minute)
	if err != nil || !ok {
		t.Fatalf("Claim = (%v, %v)", ok, err)
	}
	return c
}

func TestClaimOrder(t *testing.T) {
	s, _ := newStore()
	low := mustEnqueue(t, s, job(20))
	first := mustEnqueue(t, s, job(5))
	second := mustEnqueue(t, s, job(5))

	for _, want := range []model.Job{first, second, low} {
		if got := mustClaim(t, s); got.Job.ID != want.ID {
			t.Fatalf("claimed %s, want %s", got.Job.ID, want.ID)
		}
	}

	if _, ok, err := s.Claim(context.Background(), "w1", time.Minute); ok || err != nil {
		t.Fatalf("empty Claim = (%v, %v)", ok, err)
	}
}

func TestRetryDelaysJob(t *testing.T) {
	s, c := newStore()
	j := mustEnqueue(t, s, job(10))
	claim := mustClaim(t, s)

	if err := s.Retry(context.Background(), claim.Lease(), "flaky", 10*time.Second); err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if state, reason, _ := s.State(j.ID); state != StateDelayed || reason != "flaky" {
		t.Fatalf("state = %s %q", state, reason)
	}
	if _, ok, _ := s.Claim(context.Background(), "w1", time.Minute); ok {
		t.Fatal("delayed job claimed before its run time")
	}

	c.Advance(10 * time.Second)
	again := mustClaim(t, s)
	if again.Job.AttemptsMade != 1 || again.Job.Attempt() != 2 {
		t.Fatalf("AttemptsMade = %d", again.Job.AttemptsMade)
	}
}

func TestStaleLeaseRejected(t *testing.T) {
	s, c := newStore()
	mustEnqueue(t, s, job(10))
	old := mustClaim(t, s)

	c.Advance(2 * time.Minute)
	stalled, err := s.RecoverStalled(context.Background(), 2)
	if err != nil || len(stalled) != 1 || stalled[0].Failed {
		t.Fatalf("RecoverStalled = %+v, %v", stalled, err)
	}

	fresh := mustClaim(t, s)
	if fresh.Job.StalledCount != 1 {
		t.Fatalf("StalledCount = %d, want 1", fresh.Job.StalledCount)
	}

	if err := s.Complete(context.Background(), old.Lease(), model.JobResult{}); !errors.Is(err, ErrLeaseLost) {
		t.Fatalf("stale Complete err = %v, want ErrLeaseLost", err)
	}
	if err := s.Heartbeat(context.Background(), old.Lease(), time.Minute); !errors.Is(err, ErrLeaseLost) {
		t.Fatalf("stale Heartbeat err = %v, want ErrLeaseLost", err)
	}
	if err := s.Complete(context.Background(), fresh.Lease(), model.JobResult{}); err != nil {
		t.Fatalf("Complete: %v", err)
	}
}

func TestHeartbeatKeepsLease(t *testing.T) {
	s, c := newStore()
	mustEnqueue(t, s, job(10))
	claim := mustClaim(t, s)

	c.Advance(50 * time.Second)
	if err := s.Heartbeat(context.Background(), claim.Lease(), time.Minute); err != nil {
		t.Fatalf("Heartbeat: %v", err)
	}
	c.Advance(50 * time.Second)

	stalled, _ := s.RecoverStalled(context.Background(), 2)
	if len(stalled) != 0 {
		t.Fatalf("renewed job reported stalled: %+v", stalled)
	}
}

func TestStallLimitFailsJob(t *testing.T) {
	s, c := newStore()
	j := mustEnqueue(t, s, job(10))

	for i := 0; i < 3; i++ {
		mustClaim(t, s)
		c.Advance(2 * time.Minute)
		stalled, err := s.RecoverStalled(context.Background(), 2)
		if err != nil || len(stalled) != 1 {
			t.Fatalf("round %d: %+v, %v", i, stalled, err)
		}
		if want := i == 2; stalled[0].Failed != want {
			t.Fatalf("round %d: Failed = %v, want %v", i, stalled[0].Failed, want)
		}
	}

	state, reason, _ := s.State(j.ID)
	if state != StateFailed || reason != StalledReason {
		t.Fatalf("state = %s %q", state, reason)
	}
}

func TestCleanKeepsRetention(t *testing.T) {
	s, c := newStore()
	var ids []model.Job
	for i := 0; i < 3; i++ {
		ids = append(ids, mustEnqueue(t, s, job(10)))
	}
	for range ids {
		claim := mustClaim(t, s)
		c.Advance(time.Second)
		if err := s.Complete(context.Background(), claim.Lease(), model.JobResult{}); err != nil {
			t.Fatal(err)
		}
	}

	removed, err := s.Clean(context.Background())
	if err != nil || removed != 2 {
		t.Fatalf("Clean = %d, %v; want 2", removed, err)
	}
	if _, _, err := s.State(ids[2].ID); err != nil {
		t.Fatalf("newest completed job removed: %v", err)
	}
	if _, _, err := s.State(ids[0].ID); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("oldest job err = %v, want ErrJobNotFound", err)
	}
}

func TestStats(t *testing.T) {
	s, _ := newStore()
	mustEnqueue(t, s, job(10))
	mustEnqueue(t, s, job(10))
	claim := mustClaim(t, s)
	if err := s.Fail(context.Background(), claim.Lease(), model.JobResult{Error: "x"}); err != nil {
		t.Fatal(err)
	}

	stats, err := s.Stats(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if stats.Waiting != 1 || stats.Failed != 1 || stats.Active != 0 {
		t.Fatalf("stats = %+v", stats)
	}
}
