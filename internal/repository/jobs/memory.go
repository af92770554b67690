package jobs

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aliskhannn/generation-pipeline/internal/model"
)

type memoryJob struct {
	job         model.Job
	state       State
	seq         int64
	runAt       time.Time
	token       uuid.UUID
	lockedUntil time.Time
	finishedAt  time.Time
	lastError   string
}

// MemoryStore is an in-process job store with the same semantics as Repository.
// It backs local runs and tests; nothing survives a restart.
type MemoryStore struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]*memoryJob
	seq  int64
	now  func() time.Time
}

// NewMemoryStore creates an empty store. A nil clock defaults to time.Now.
func NewMemoryStore(now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{jobs: make(map[uuid.UUID]*memoryJob), now: now}
}

// Enqueue stores a waiting job and assigns its id.
func (m *MemoryStore) Enqueue(_ context.Context, job model.Job) (uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job.ID = uuid.New()
	m.seq++
	m.jobs[job.ID] = &memoryJob{
		job:   job,
		state: StateWaiting,
		seq:   m.seq,
		runAt: m.now(),
	}

	return job.ID, nil
}

// Claim leases the next runnable job ordered by priority, run time and arrival.
func (m *MemoryStore) Claim(ctx context.Context, _ string, lockFor time.Duration) (model.ClaimedJob, bool, error) {
	if err := ctx.Err(); err != nil {
		return model.ClaimedJob{}, false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	var next *memoryJob
	for _, j := range m.jobs {
		if j.state != StateWaiting && j.state != StateDelayed {
			continue
		}
		if j.runAt.After(now) {
			continue
		}
		if next == nil || runsBefore(j, next) {
			next = j
		}
	}
	if next == nil {
		return model.ClaimedJob{}, false, nil
	}

	next.state = StateActive
	next.token = uuid.New()
	next.lockedUntil = now.Add(lockFor)

	return model.ClaimedJob{Job: next.job, Token: next.token, LockedUntil: next.lockedUntil}, true, nil
}

func runsBefore(a, b *memoryJob) bool {
	if a.job.Options.Priority != b.job.Options.Priority {
		return a.job.Options.Priority < b.job.Options.Priority
	}
	if !a.runAt.Equal(b.runAt) {
		return a.runAt.Before(b.runAt)
	}
	return a.seq < b.seq
}

// Heartbeat extends the lease of an active job.
func (m *MemoryStore) Heartbeat(_ context.Context, lease model.Lease, lockFor time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, err := m.leased(lease)
	if err != nil {
		return err
	}
	j.lockedUntil = m.now().Add(lockFor)

	return nil
}

// Complete marks the job completed.
func (m *MemoryStore) Complete(_ context.Context, lease model.Lease, _ model.JobResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, err := m.leased(lease)
	if err != nil {
		return err
	}
	m.finish(j, StateCompleted)
	j.lastError = ""

	return nil
}

// Retry counts the failed attempt and delays the job.
func (m *MemoryStore) Retry(_ context.Context, lease model.Lease, reason string, delay time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, err := m.leased(lease)
	if err != nil {
		return err
	}
	j.job.AttemptsMade++
	j.lastError = reason
	j.state = StateDelayed
	j.runAt = m.now().Add(delay)
	j.release()

	return nil
}

// Fail counts the failed attempt and fails the job for good.
func (m *MemoryStore) Fail(_ context.Context, lease model.Lease, result model.JobResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, err := m.leased(lease)
	if err != nil {
		return err
	}
	j.job.AttemptsMade++
	j.lastError = result.Error
	m.finish(j, StateFailed)

	return nil
}

// RecoverStalled requeues active jobs with an expired lease.
func (m *MemoryStore) RecoverStalled(_ context.Context, maxStalled int) ([]model.StalledJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	var stalled []model.StalledJob
	for _, j := range m.jobs {
		if j.state != StateActive || !j.lockedUntil.Before(now) {
			continue
		}

		j.job.StalledCount++
		failed := j.job.StalledCount > maxStalled
		if failed {
			j.lastError = StalledReason
			m.finish(j, StateFailed)
		} else {
			j.state = StateWaiting
			j.runAt = now
			j.release()
		}
		stalled = append(stalled, model.StalledJob{Job: j.job, Failed: failed})
	}

	return stalled, nil
}

// Clean deletes finished jobs beyond each job's retention.
func (m *MemoryStore) Clean(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	byState := map[State][]*memoryJob{}
	for _, j := range m.jobs {
		if j.state == StateCompleted || j.state == StateFailed {
			byState[j.state] = append(byState[j.state], j)
		}
	}

	var removed int64
	for state, list := range byState {
		sort.Slice(list, func(a, b int) bool {
			if !list[a].finishedAt.Equal(list[b].finishedAt) {
				return list[a].finishedAt.After(list[b].finishedAt)
			}
			return list[a].seq > list[b].seq
		})

		for rank, j := range list {
			keep := j.job.Options.Retention.KeepCompleted
			if state == StateFailed {
				keep = j.job.Options.Retention.KeepFailed
			}
			if rank+1 > keep {
				delete(m.jobs, j.job.ID)
				removed++
			}
		}
	}

	return removed, nil
}

// Stats returns job counts per state.
func (m *MemoryStore) Stats(_ context.Context) (model.QueueStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var stats model.QueueStats
	for _, j := range m.jobs {
		addStat(&stats, j.state, 1)
	}

	return stats, nil
}

// Ping always succeeds.
func (m *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

// State returns the current state and error message of a job.
func (m *MemoryStore) State(id uuid.UUID) (State, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[id]
	if !ok {
		return "", "", ErrJobNotFound
	}

	return j.state, j.lastError, nil
}

// Job returns a copy of the stored job including store-owned counters.
func (m *MemoryStore) Job(id uuid.UUID) (model.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[id]
	if !ok {
		return model.Job{}, ErrJobNotFound
	}

	return j.job, nil
}

func (m *MemoryStore) leased(lease model.Lease) (*memoryJob, error) {
	j, ok := m.jobs[lease.JobID]
	if !ok || j.state != StateActive || j.token != lease.Token {
		return nil, ErrLeaseLost
	}
	return j, nil
}

func (m *MemoryStore) finish(j *memoryJob, state State) {
	j.state = state
	j.finishedAt = m.now()
	j.release()
}

func (j *memoryJob) release() {
	j.token = uuid.Nil
	j.lockedUntil = time.Time{}
}
