package eventbus

import (
	"sync"
	"sync/atomic"
)

// Stream adapts subscriptions to a bounded channel for consumers that prefer
// to select over events.
type Stream struct {
	C <-chan Event

	ch      chan Event
	subs    []*Subscription
	dropped atomic.Int64
	mu      sync.Mutex
	closed  bool
}

// Channel subscribes to types (all types when none are given) and forwards
// events to a channel with the given buffer. Sends never block the publisher;
// events that do not fit are dropped and counted.
func (b *Bus) Channel(buffer int, types ...Type) *Stream {
	if len(types) == 0 {
		types = Types()
	}
	ch := make(chan Event, buffer)
	s := &Stream{C: ch, ch: ch}
	for _, t := range types {
		s.subs = append(s.subs, b.Subscribe(t, s.forward))
	}
	return s
}

func (s *Stream) forward(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- ev:
	default:
		s.dropped.Add(1)
	}
}

// Dropped returns how many events did not fit in the buffer.
func (s *Stream) Dropped() int64 { return s.dropped.Load() }

// Close unsubscribes and closes C.
func (s *Stream) Close() {
	for _, sub := range s.subs {
		sub.Close()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}
