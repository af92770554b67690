package deadletter

import (
	"context"
	"sync"

	"github.com/aliskhannn/generation-pipeline/internal/model"
)

// MemorySink keeps dead-letter records in memory, newest last.
type MemorySink struct {
	mu      sync.Mutex
	records []model.DeadLetterRecord
	seen    map[string]struct{}
}

// NewMemorySink creates an empty sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{seen: make(map[string]struct{})}
}

// Append stores rec once per job.
func (s *MemorySink) Append(_ context.Context, rec model.DeadLetterRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := rec.JobID.String()
	if _, ok := s.seen[key]; ok {
		return nil
	}
	s.seen[key] = struct{}{}
	s.records = append(s.records, rec)

	return nil
}

// List returns records newest first.
func (s *MemorySink) List(_ context.Context, limit, offset int) ([]model.DeadLetterRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]model.DeadLetterRecord, 0, len(s.records))
	for i := len(s.records) - 1; i >= 0; i-- {
		out = append(out, s.records[i])
	}

	if offset < 0 {
		offset = 0
	}
	if offset >= len(out) {
		return []model.DeadLetterRecord{}, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}

	return out, nil
}
