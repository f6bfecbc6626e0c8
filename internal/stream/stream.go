// Package stream fans audit events out to live subscribers, backing the
// admin activity feed.
package stream

import (
	"context"
	"sync"

	"toolgrid.org/internal/audit"
)

// Stream delivers every recorded audit event to all active subscribers.
type Stream struct {
	mu   sync.RWMutex
	subs map[int]chan audit.Event
	next int
}

// New initialises an empty stream.
func New() *Stream {
	return &Stream{
		subs: make(map[int]chan audit.Event),
	}
}

// Subscribe registers a subscriber and returns a channel which will receive
// events. The channel is closed when the provided context ends.
func (s *Stream) Subscribe(ctx context.Context) <-chan audit.Event {
	ch := make(chan audit.Event, 16)

	s.mu.Lock()
	id := s.next
	s.next++
	s.subs[id] = ch
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.subs, id)
		close(ch)
		s.mu.Unlock()
	}()

	return ch
}

// Publish fan-outs the event to all subscribers.
func (s *Stream) Publish(event audit.Event) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ch := range s.subs {
		select {
		case ch <- event:
		default:
			// Drop when subscriber is slow to avoid blocking.
		}
	}
}

// Record implements audit.Sink so the stream can sit behind the recorder
// alongside the log sink.
func (s *Stream) Record(_ context.Context, event audit.Event) error {
	s.Publish(event)
	return nil
}
