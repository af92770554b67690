package events

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/wb-go/wbf/zlog"
)

// publishTimeout bounds one external publish.
const publishTimeout = 2 * time.Second

// Publisher forwards events outside the process.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Stream fans events out to subscribers and publishers.
// Emit never blocks: when the buffer is full the event is dropped and counted.
type Stream struct {
	in         chan Event
	publishers []Publisher

	mu     sync.RWMutex
	closed bool
	subs   map[int]chan Event
	nextID int

	dropped atomic.Int64
	done    chan struct{}
	log     zerolog.Logger
}

// NewStream creates a Stream with a bounded input buffer.
func NewStream(buffer int, publishers ...Publisher) *Stream {
	if buffer <= 0 {
		buffer = 1
	}
	return &Stream{
		in:         make(chan Event, buffer),
		publishers: publishers,
		subs:       make(map[int]chan Event),
		done:       make(chan struct{}),
		log:        zlog.Logger.With().Str("component", "events").Logger(),
	}
}

// Emit queues e for delivery without blocking.
func (s *Stream) Emit(e Event) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		s.dropped.Add(1)
		return
	}

	select {
	case s.in <- e:
	default:
		s.dropped.Add(1)
	}
}

// Dropped returns how many events were discarded so far.
func (s *Stream) Dropped() int64 {
	return s.dropped.Load()
}

// Subscribe registers a subscriber with its own bounded buffer.
// A slow subscriber loses events instead of stalling the stream.
func (s *Stream) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 1
	}
	ch := make(chan Event, buffer)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		close(ch)
		return ch, func() {}
	}

	id := s.nextID
	s.nextID++
	s.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if c, ok := s.subs[id]; ok {
				delete(s.subs, id)
				close(c)
			}
		})
	}
}

// Run delivers events until Close is called and the buffer is drained.
func (s *Stream) Run() {
	defer close(s.done)

	for e := range s.in {
		s.deliver(e)
	}

	s.mu.Lock()
	for id, ch := range s.subs {
		delete(s.subs, id)
		close(ch)
	}
	s.mu.Unlock()
}

func (s *Stream) deliver(e Event) {
	s.mu.RLock()
	for _, ch := range s.subs {
		select {
		case ch <- e:
		default:
			s.dropped.Add(1)
		}
	}
	s.mu.RUnlock()

	for _, p := range s.publishers {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		if err := p.Publish(ctx, e); err != nil {
			s.log.Warn().Err(err).Str("job_id", e.JobID.String()).Str("kind", string(e.Kind)).Msg("failed to publish event")
		}
		cancel()
	}
}

// Close stops accepting events and waits for Run to drain them or ctx to end.
func (s *Stream) Close(ctx context.Context) error {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.in)
	}
	s.mu.Unlock()

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
