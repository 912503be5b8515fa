package offlinekit

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/c0deZ3R0/go-offline-kit/connectivity"
	"github.com/c0deZ3R0/go-offline-kit/eventbus"
	"github.com/c0deZ3R0/go-offline-kit/record"
	"github.com/c0deZ3R0/go-offline-kit/storage"
	"github.com/c0deZ3R0/go-offline-kit/transport"
)

// Builder provides a fluent interface for constructing an Engine.
type Builder struct {
	store           storage.Backend
	remote          transport.Remote
	bus             *eventbus.Bus
	endpoints       record.Endpoints
	resolver        ConflictResolver
	metrics         MetricsCollector
	logger          *slog.Logger
	initialOnline   bool
	idempotencyKeys bool
	readCacheTTL    time.Duration
	schedule        string
	checker         connectivity.Checker
	proberConfig    connectivity.ProberConfig
	now             func() time.Time
}

// NewBuilder creates a builder with default settings: online, idempotency keys
// on, read cache off, shallow-merge conflict resolution.
func NewBuilder() *Builder {
	return &Builder{
		endpoints:       record.DefaultEndpoints(),
		initialOnline:   true,
		idempotencyKeys: true,
	}
}

// WithStore sets the local backend.
func (b *Builder) WithStore(store storage.Backend) *Builder {
	b.store = store
	return b
}

// WithRemote sets the remote service client.
func (b *Builder) WithRemote(remote transport.Remote) *Builder {
	b.remote = remote
	return b
}

// WithBus shares an existing event bus.
func (b *Builder) WithBus(bus *eventbus.Bus) *Builder {
	b.bus = bus
	return b
}

// WithEndpoints overrides the collection to path mapping.
func (b *Builder) WithEndpoints(e record.Endpoints) *Builder {
	b.endpoints = e
	return b
}

// WithConflictResolver sets the conflict resolution strategy.
func (b *Builder) WithConflictResolver(r ConflictResolver) *Builder {
	b.resolver = r
	return b
}

// WithMetrics sets the metrics collector.
func (b *Builder) WithMetrics(m MetricsCollector) *Builder {
	b.metrics = m
	return b
}

// WithLogger sets the engine logger.
func (b *Builder) WithLogger(l *slog.Logger) *Builder {
	b.logger = l
	return b
}

// WithInitialOnline sets the connectivity state assumed before the first signal.
func (b *Builder) WithInitialOnline(online bool) *Builder {
	b.initialOnline = online
	return b
}

// WithIdempotencyKeys toggles the Idempotency-Key header on writes.
func (b *Builder) WithIdempotencyKeys(enabled bool) *Builder {
	b.idempotencyKeys = enabled
	return b
}

// WithReadCacheTTL memoizes fresh reads for ttl. Zero disables the cache.
func (b *Builder) WithReadCacheTTL(ttl time.Duration) *Builder {
	b.readCacheTTL = ttl
	return b
}

// WithSchedule runs Replicate on a standard cron spec (or "@every 5m") while started.
func (b *Builder) WithSchedule(spec string) *Builder {
	b.schedule = spec
	return b
}

// WithChecker probes reachability while started and feeds the monitor.
func (b *Builder) WithChecker(checker connectivity.Checker, config connectivity.ProberConfig) *Builder {
	b.checker = checker
	b.proberConfig = config
	return b
}

// Build validates the configuration and creates the engine.
func (b *Builder) Build() (*Engine, error) {
	if b.store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if b.remote == nil {
		return nil, fmt.Errorf("remote is required")
	}
	if err := b.endpoints.Validate(); err != nil {
		return nil, fmt.Errorf("invalid endpoints: %w", err)
	}
	if b.readCacheTTL < 0 {
		return nil, fmt.Errorf("read cache TTL cannot be negative: %v", b.readCacheTTL)
	}
	if b.schedule != "" {
		if _, err := cron.ParseStandard(b.schedule); err != nil {
			return nil, fmt.Errorf("invalid schedule %q: %w", b.schedule, err)
		}
	}
	return newEngine(b), nil
}

// Option configures an Engine built by New.
type Option func(*Builder) error

// New constructs an Engine from functional options on top of the builder.
func New(opts ...Option) (*Engine, error) {
	b := NewBuilder()
	for _, opt := range opts {
		if err := opt(b); err != nil {
			return nil, err
		}
	}
	return b.Build()
}

// WithStore injects the local backend.
func WithStore(s storage.Backend) Option {
	return func(b *Builder) error {
		b.WithStore(s)
		return nil
	}
}

// WithRemote injects the remote client.
func WithRemote(r transport.Remote) Option {
	return func(b *Builder) error {
		b.WithRemote(r)
		return nil
	}
}

// WithBus shares an existing event bus.
func WithBus(bus *eventbus.Bus) Option {
	return func(b *Builder) error {
		b.WithBus(bus)
		return nil
	}
}

// WithEndpoints overrides collection paths; entries not given keep their default.
func WithEndpoints(overrides map[record.Collection]string) Option {
	return func(b *Builder) error {
		b.WithEndpoints(b.endpoints.With(overrides))
		return nil
	}
}

// WithConflictResolver sets the conflict resolution strategy.
func WithConflictResolver(r ConflictResolver) Option {
	return func(b *Builder) error {
		if r == nil {
			return fmt.Errorf("conflict resolver cannot be nil")
		}
		b.WithConflictResolver(r)
		return nil
	}
}

// WithRemoteWins is convenience for RemoteWinsResolver.
func WithRemoteWins() Option {
	return WithConflictResolver(&RemoteWinsResolver{})
}

// WithLocalWins is convenience for LocalWinsResolver.
func WithLocalWins() Option {
	return WithConflictResolver(&LocalWinsResolver{})
}

// WithMetrics sets the metrics collector.
func WithMetrics(m MetricsCollector) Option {
	return func(b *Builder) error {
		b.WithMetrics(m)
		return nil
	}
}

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Builder) error {
		b.WithLogger(l)
		return nil
	}
}

// WithInitialOnline sets the connectivity state assumed before the first signal.
func WithInitialOnline(online bool) Option {
	return func(b *Builder) error {
		b.WithInitialOnline(online)
		return nil
	}
}

// WithIdempotencyKeys toggles the Idempotency-Key header on writes.
func WithIdempotencyKeys(enabled bool) Option {
	return func(b *Builder) error {
		b.WithIdempotencyKeys(enabled)
		return nil
	}
}

// WithReadCacheTTL memoizes fresh reads for ttl.
func WithReadCacheTTL(ttl time.Duration) Option {
	return func(b *Builder) error {
		b.WithReadCacheTTL(ttl)
		return nil
	}
}

// WithSchedule runs Replicate on a cron spec while started.
func WithSchedule(spec string) Option {
	return func(b *Builder) error {
		b.WithSchedule(spec)
		return nil
	}
}

// WithChecker probes reachability while started.
func WithChecker(checker connectivity.Checker, config connectivity.ProberConfig) Option {
	return func(b *Builder) error {
		b.WithChecker(checker, config)
		return nil
	}
}

// withClock replaces time.Now in tests.
func withClock(now func() time.Time) Option {
	return func(b *Builder) error {
		b.now = now
		return nil
	}
}
