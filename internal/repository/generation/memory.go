package generation

import (
	"context"
	"sync"
	"time"

	"github.com/aliskhannn/generation-pipeline/internal/model"
)

// MemoryStore keeps generations in process memory.
type MemoryStore struct {
	mu     sync.Mutex
	gens   map[int64]model.Generation
	nextID int64
	now    func() time.Time
}

// NewMemoryStore creates an empty store. A nil clock defaults to time.Now.
func NewMemoryStore(now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{gens: make(map[int64]model.Generation), now: now}
}

// Create stores a pending generation. A zero ID is assigned automatically.
func (m *MemoryStore) Create(_ context.Context, gen model.Generation) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if gen.ID == 0 {
		m.nextID++
		gen.ID = m.nextID
	} else if gen.ID > m.nextID {
		m.nextID = gen.ID
	}
	if gen.Status == "" {
		gen.Status = model.GenerationPending
	}
	now := m.now()
	gen.CreatedAt, gen.UpdatedAt = now, now
	m.gens[gen.ID] = cloneGeneration(gen)

	return gen.ID, nil
}

// Get returns a copy of the generation.
func (m *MemoryStore) Get(_ context.Context, id int64) (model.Generation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	gen, ok := m.gens[id]
	if !ok {
		return model.Generation{}, ErrGenerationNotFound
	}

	return cloneGeneration(gen), nil
}

// Update applies a status write atomically.
func (m *MemoryStore) Update(_ context.Context, id int64, u model.GenerationUpdate) (model.Generation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	gen, ok := m.gens[id]
	if !ok {
		return model.Generation{}, ErrGenerationNotFound
	}

	gen = cloneGeneration(gen)
	if _, err := gen.Apply(u, m.now()); err != nil {
		return cloneGeneration(m.gens[id]), err
	}
	m.gens[id] = gen

	return cloneGeneration(gen), nil
}

func cloneGeneration(g model.Generation) model.Generation {
	if g.Conversation == nil {
		return g
	}
	turns := make([]model.Turn, len(g.Conversation))
	for i, t := range g.Conversation {
		t.ImageURLs = append([]string(nil), t.ImageURLs...)
		turns[i] = t
	}
	g.Conversation = turns
	return g
}
