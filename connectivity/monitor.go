// Package connectivity tracks whether the remote is reachable and announces
// transitions on the event bus.
package connectivity

import (
	"log/slog"
	"sync"
	"time"

	"github.com/c0deZ3R0/go-offline-kit/eventbus"
	"github.com/c0deZ3R0/go-offline-kit/logging"
)

// Monitor owns the online/offline flag. Repeated identical signals are
// suppressed so subscribers only see real transitions.
type Monitor struct {
	mu         sync.RWMutex
	online     bool
	lastChange time.Time
	// transitions not yet published, in the order they happened
	pending  []eventbus.Event
	draining bool

	bus    *eventbus.Bus
	logger *slog.Logger
	now    func() time.Time
}

// MonitorOption configures a Monitor.
type MonitorOption func(*Monitor)

// WithInitialState sets the state before the first signal. Default: online.
func WithInitialState(online bool) MonitorOption {
	return func(m *Monitor) { m.online = online }
}

// WithMonitorLogger sets the logger.
func WithMonitorLogger(l *slog.Logger) MonitorOption {
	return func(m *Monitor) { m.logger = l }
}

// NewMonitor returns a monitor publishing transitions on bus. bus may be nil.
func NewMonitor(bus *eventbus.Bus, opts ...MonitorOption) *Monitor {
	m := &Monitor{online: true, bus: bus, now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = logging.WithComponent(logging.Component("connectivity")).Logger
	}
	m.lastChange = m.now()
	return m
}

// Signal records an observation of the environment and reports whether it
// changed the state. Transition events are published outside the lock, in
// the order the transitions happened: the first signaller to find no one
// publishing drains the backlog, including transitions recorded by
// concurrent or nested calls.
func (m *Monitor) Signal(online bool) bool {
	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return false
	}
	m.online = online
	m.lastChange = m.now()
	typ := eventbus.EventOffline
	if online {
		typ = eventbus.EventOnline
	}
	m.pending = append(m.pending, eventbus.Event{Type: typ, At: m.lastChange})
	if m.draining {
		m.mu.Unlock()
		return true
	}
	m.draining = true
	m.mu.Unlock()

	m.drain()
	return true
}

func (m *Monitor) drain() {
	for {
		m.mu.Lock()
		if len(m.pending) == 0 {
			m.draining = false
			m.mu.Unlock()
			return
		}
		ev := m.pending[0]
		m.pending = m.pending[1:]
		m.mu.Unlock()

		m.logger.Info("connectivity changed", slog.Bool("online", ev.Type == eventbus.EventOnline))
		if m.bus != nil {
			m.bus.Publish(ev)
		}
	}
}

// Online reports the current state.
func (m *Monitor) Online() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.online
}

// LastChange returns when the state last flipped, or construction time.
func (m *Monitor) LastChange() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastChange
}
