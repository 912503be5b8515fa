// Package eventbus is a typed, synchronous observer registry. Handlers for an
// event type run in subscription order on the publisher's goroutine.
package eventbus

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c0deZ3R0/go-offline-kit/logging"
	"github.com/c0deZ3R0/go-offline-kit/record"
)

// Type identifies a kind of event.
type Type int

const (
	// EventOnline fires on the offline to online transition.
	EventOnline Type = iota + 1
	// EventOffline fires on the online to offline transition.
	EventOffline
	// EventDataUpdated fires when fresh remote data has been written through.
	EventDataUpdated
	// EventServingCachedData fires when a read falls back to the local store.
	EventServingCachedData
	// EventRequestQueued fires when a write is parked in the operation log.
	EventRequestQueued
	// EventRequestSynced fires when a queued write reaches the remote.
	EventRequestSynced
	// EventSyncComplete fires once per replay pass.
	EventSyncComplete
)

var typeNames = map[Type]string{
	EventOnline:            "online",
	EventOffline:           "offline",
	EventDataUpdated:       "data-updated",
	EventServingCachedData: "serving-cached-data",
	EventRequestQueued:     "request-queued",
	EventRequestSynced:     "request-synced",
	EventSyncComplete:      "sync-complete",
}

func (t Type) String() string {
	if n, ok := typeNames[t]; ok {
		return n
	}
	return fmt.Sprintf("event(%d)", int(t))
}

// Types lists every event type.
func Types() []Type {
	return []Type{EventOnline, EventOffline, EventDataUpdated, EventServingCachedData,
		EventRequestQueued, EventRequestSynced, EventSyncComplete}
}

// Event is what handlers receive. Fields that do not apply to Type are zero.
type Event struct {
	Type       Type
	At         time.Time
	Collection record.Collection
	RecordID   string
	// Method and Path describe the remote call for queued and synced requests.
	Method string
	Path   string
	// Seq is the operation-log sequence for queued and synced requests.
	Seq int64
	// Synced is the number of operations delivered by a replay pass.
	Synced int
}

// Handler reacts to one event.
type Handler func(Event)

// Subscription is the handle returned by Subscribe. Close removes the handler.
type Subscription struct {
	bus    *Bus
	typ    Type
	id     uint64
	closed atomic.Bool
}

// Close unregisters the handler. It is safe to call more than once and from
// inside a handler.
func (s *Subscription) Close() {
	if s == nil || !s.closed.CompareAndSwap(false, true) {
		return
	}
	s.bus.remove(s.typ, s.id)
}

type entry struct {
	id uint64
	h  Handler
}

// Bus delivers events to subscribers. The zero value is not usable; call New.
type Bus struct {
	mu       sync.RWMutex
	handlers map[Type][]entry
	nextID   uint64
	logger   *slog.Logger
}

// Option configures a Bus.
type Option func(*Bus)

// WithLogger sets the logger used to report handler panics.
func WithLogger(l *slog.Logger) Option {
	return func(b *Bus) { b.logger = l }
}

// New returns an empty bus.
func New(opts ...Option) *Bus {
	b := &Bus{handlers: make(map[Type][]entry)}
	for _, opt := range opts {
		opt(b)
	}
	if b.logger == nil {
		b.logger = logging.WithComponent(logging.Component("eventbus")).Logger
	}
	return b
}

// Subscribe registers h for events of type t.
func (b *Bus) Subscribe(t Type, h Handler) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	b.handlers[t] = append(b.handlers[t], entry{id: b.nextID, h: h})
	return &Subscription{bus: b, typ: t, id: b.nextID}
}

func (b *Bus) remove(t Type, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	list := b.handlers[t]
	for i, e := range list {
		if e.id == id {
			// copy so in-flight Publish snapshots stay intact
			next := make([]entry, 0, len(list)-1)
			next = append(next, list[:i]...)
			next = append(next, list[i+1:]...)
			b.handlers[t] = next
			return
		}
	}
}

// Publish calls every handler subscribed to ev.Type, in subscription order,
// before returning. A panicking handler is logged and skipped.
func (b *Bus) Publish(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	b.mu.RLock()
	list := b.handlers[ev.Type]
	b.mu.RUnlock()

	for _, e := range list {
		b.call(e.h, ev)
	}
}

func (b *Bus) call(h Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				slog.String("event", ev.Type.String()),
				slog.Any("panic", r),
			)
		}
	}()
	h(ev)
}

// Len returns the number of handlers subscribed to t.
func (b *Bus) Len(t Type) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[t])
}
