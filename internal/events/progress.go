package events

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aliskhannn/generation-pipeline/internal/model"
)

type progressEntry struct {
	progress model.JobProgress
	seen     time.Time
}

// ProgressCache keeps the latest progress per job in memory.
// It is the in-process counterpart of the Redis progress keys.
type ProgressCache struct {
	mu      sync.Mutex
	entries map[uuid.UUID]progressEntry
	ttl     time.Duration
	now     func() time.Time
}

// NewProgressCache creates a cache whose entries expire after ttl.
func NewProgressCache(ttl time.Duration) *ProgressCache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &ProgressCache{entries: make(map[uuid.UUID]progressEntry), ttl: ttl, now: time.Now}
}

// Publish records progress events and evicts expired entries.
func (c *ProgressCache) Publish(_ context.Context, e Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for id, entry := range c.entries {
		if now.Sub(entry.seen) > c.ttl {
			delete(c.entries, id)
		}
	}

	if e.Progress != nil {
		c.entries[e.JobID] = progressEntry{progress: *e.Progress, seen: now}
	}

	return nil
}

// LatestProgress returns the last progress recorded for jobID.
func (c *ProgressCache) LatestProgress(_ context.Context, jobID uuid.UUID) (model.JobProgress, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[jobID]
	if !ok || c.now().Sub(entry.seen) > c.ttl {
		return model.JobProgress{}, false, nil
	}

	return entry.progress, true, nil
}
