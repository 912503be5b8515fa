// Package offlinekit is the synchronization engine of an offline-first client.
// Reads go to the remote and fall back to the local store; writes go to the
// remote and fall back to a durable operation log that is replayed, in order,
// when connectivity returns.
package offlinekit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/singleflight"

	"github.com/c0deZ3R0/go-offline-kit/connectivity"
	syncErrors "github.com/c0deZ3R0/go-offline-kit/errors"
	"github.com/c0deZ3R0/go-offline-kit/eventbus"
	"github.com/c0deZ3R0/go-offline-kit/logging"
	"github.com/c0deZ3R0/go-offline-kit/record"
	"github.com/c0deZ3R0/go-offline-kit/storage"
	"github.com/c0deZ3R0/go-offline-kit/transport"
)

// Engine owns the local store and the operation log. All mutations of either
// go through it.
type Engine struct {
	store     storage.Backend
	remote    transport.Remote
	bus       *eventbus.Bus
	monitor   *connectivity.Monitor
	prober    *connectivity.Prober
	endpoints record.Endpoints
	resolver  ConflictResolver
	metrics   MetricsCollector
	logger    *slog.Logger
	cache     *readCache
	now       func() time.Time

	idempotencyKeys bool
	schedule        string

	// gate is held shared by reads, writes and replay passes and exclusively
	// by ClearOfflineData.
	gate  sync.RWMutex
	locks map[record.Collection]*sync.Mutex

	flight        singleflight.Group
	servingCached atomic.Bool
	freshSub      *eventbus.Subscription
	lastSync      atomic.Int64
	closed        atomic.Bool

	// lifecycle
	mu        sync.Mutex
	running   bool
	bgCtx     context.Context
	bgCancel  context.CancelFunc
	onlineSub *eventbus.Subscription
	scheduler *cron.Cron
	wg        sync.WaitGroup
}

func newEngine(b *Builder) *Engine {
	e := &Engine{
		store:           b.store,
		remote:          b.remote,
		bus:             b.bus,
		endpoints:       b.endpoints,
		resolver:        b.resolver,
		metrics:         b.metrics,
		logger:          b.logger,
		now:             b.now,
		idempotencyKeys: b.idempotencyKeys,
		schedule:        b.schedule,
		locks:           make(map[record.Collection]*sync.Mutex),
	}
	if e.logger == nil {
		e.logger = logging.WithComponent(logging.Component("offlinekit")).Logger
	}
	if e.bus == nil {
		e.bus = eventbus.New(eventbus.WithLogger(e.logger))
	}
	if e.resolver == nil {
		e.resolver = &ShallowMergeResolver{}
	}
	if e.metrics == nil {
		e.metrics = &NoOpMetricsCollector{}
	}
	if e.now == nil {
		e.now = time.Now
	}
	for _, c := range record.All() {
		e.locks[c] = &sync.Mutex{}
	}
	e.cache = newReadCache(b.readCacheTTL, e.now)
	e.monitor = connectivity.NewMonitor(e.bus,
		connectivity.WithInitialState(b.initialOnline),
		connectivity.WithMonitorLogger(e.logger))
	if b.checker != nil {
		e.prober = connectivity.NewProber(b.checker, e.monitor, b.proberConfig)
	}
	// back online: reads go to the remote again
	e.freshSub = e.bus.Subscribe(eventbus.EventOnline, func(eventbus.Event) {
		e.servingCached.Store(false)
	})
	return e
}

// Bus returns the event bus the engine publishes on.
func (e *Engine) Bus() *eventbus.Bus { return e.bus }

// Monitor returns the connectivity monitor.
func (e *Engine) Monitor() *connectivity.Monitor { return e.monitor }

// Endpoints returns the collection to path mapping in use.
func (e *Engine) Endpoints() record.Endpoints { return e.endpoints }

// Subscribe registers h for events of type t.
func (e *Engine) Subscribe(t eventbus.Type, h eventbus.Handler) *eventbus.Subscription {
	return e.bus.Subscribe(t, h)
}

// SetOnline feeds an environment connectivity signal to the monitor and
// reports whether it caused a transition. Going online starts a replay when
// the engine is running.
func (e *Engine) SetOnline(online bool) bool {
	return e.monitor.Signal(online)
}

// Start subscribes to connectivity transitions and starts the prober and
// scheduler when configured. Pending operations left from a previous run are
// replayed in the background when the engine starts online.
func (e *Engine) Start(ctx context.Context) error {
	const op = "offlinekit.Start"

	if e.closed.Load() {
		return syncErrors.NewWithComponent(syncErrors.OpStart, "offlinekit", ErrClosed)
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return syncErrors.NewWithComponent(syncErrors.OpStart, "offlinekit", ErrAlreadyStarted)
	}

	e.bgCtx, e.bgCancel = context.WithCancel(ctx)
	e.onlineSub = e.bus.Subscribe(eventbus.EventOnline, func(eventbus.Event) {
		e.replayInBackground("online")
	})

	if e.prober != nil {
		if err := e.prober.Start(e.bgCtx); err != nil {
			e.onlineSub.Close()
			e.bgCancel()
			return syncErrors.WrapOpComponent(err, op, "offlinekit")
		}
	}

	if e.schedule != "" {
		e.scheduler = cron.New()
		_, err := e.scheduler.AddFunc(e.schedule, func() {
			if _, err := e.Replicate(e.bgCtx); err != nil && !errors.Is(err, context.Canceled) {
				e.logger.Warn("Scheduled replication failed", "error", err)
			}
		})
		if err != nil {
			if e.prober != nil {
				e.prober.Stop()
			}
			e.onlineSub.Close()
			e.bgCancel()
			return syncErrors.NewValidationError(syncErrors.OpStart, fmt.Errorf("invalid schedule %q: %w", e.schedule, err))
		}
		e.scheduler.Start()
	}

	e.running = true
	e.logger.Info("Engine started",
		"online", e.monitor.Online(),
		"schedule", e.schedule,
		"prober", e.prober != nil)

	if e.monitor.Online() {
		e.startReplayLocked("start")
	}
	return nil
}

// replayInBackground runs SyncNow on its own goroutine when the engine is running.
func (e *Engine) replayInBackground(trigger string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running {
		return
	}
	e.startReplayLocked(trigger)
}

func (e *Engine) startReplayLocked(trigger string) {
	ctx := e.bgCtx
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		res, err := e.SyncNow(ctx)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				e.logger.Warn("Background replay failed", "trigger", trigger, "error", err)
			}
			return
		}
		e.logger.Debug("Background replay finished",
			"trigger", trigger,
			"synced", res.Synced,
			"failed", res.Failed)
	}()
}

// Stop halts background work and waits for in-flight replays. It is safe to
// call more than once.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	e.onlineSub.Close()
	scheduler := e.scheduler
	e.scheduler = nil
	e.bgCancel()
	e.mu.Unlock()

	if e.prober != nil {
		e.prober.Stop()
	}
	if scheduler != nil {
		<-scheduler.Stop().Done()
	}
	e.wg.Wait()
	e.logger.Info("Engine stopped")
}

// Close stops the engine and closes the store and the remote.
func (e *Engine) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}
	e.Stop()
	e.freshSub.Close()

	e.gate.Lock()
	defer e.gate.Unlock()
	var errs []error
	if err := e.remote.Close(); err != nil {
		errs = append(errs, syncErrors.NewWithComponent(syncErrors.OpClose, "transport", err))
	}
	if err := e.store.Close(); err != nil {
		errs = append(errs, syncErrors.NewWithComponent(syncErrors.OpClose, "store", err))
	}
	return errors.Join(errs...)
}

// Status returns a snapshot of connectivity, fallback and queue state.
func (e *Engine) Status(ctx context.Context) (Status, error) {
	if err := e.check(syncErrors.OpLoad); err != nil {
		return Status{}, err
	}
	n, err := e.store.Len(ctx)
	if err != nil {
		return Status{}, syncErrors.NewPersistenceError(syncErrors.OpLoad, err)
	}
	e.mu.Lock()
	running := e.running
	e.mu.Unlock()

	st := Status{
		Online:        e.monitor.Online(),
		ServingCached: e.servingCached.Load(),
		Pending:       n,
		Running:       running,
	}
	if ns := e.lastSync.Load(); ns != 0 {
		st.LastSync = time.Unix(0, ns)
	}
	return st, nil
}

// Pending lists the queued operations in replay order.
func (e *Engine) Pending(ctx context.Context) ([]record.PendingOperation, error) {
	if err := e.check(syncErrors.OpLoad); err != nil {
		return nil, err
	}
	ops, err := e.store.List(ctx)
	if err != nil {
		return nil, syncErrors.NewPersistenceError(syncErrors.OpLoad, err)
	}
	return ops, nil
}

// ClearOfflineData empties every collection and the operation log. It waits
// for in-flight reads, writes and replay passes and blocks new ones until done.
func (e *Engine) ClearOfflineData(ctx context.Context) error {
	if err := e.check(syncErrors.OpClear); err != nil {
		return err
	}
	e.gate.Lock()
	defer e.gate.Unlock()

	if err := e.store.ClearAll(ctx); err != nil {
		return syncErrors.NewPersistenceError(syncErrors.OpClear, err)
	}
	e.cache.clear()
	e.servingCached.Store(false)
	e.logger.Info("Offline data cleared")
	return nil
}

func (e *Engine) check(op syncErrors.Operation) error {
	if e.closed.Load() {
		return syncErrors.NewWithComponent(op, "offlinekit", ErrClosed)
	}
	return nil
}

func (e *Engine) validCollection(op syncErrors.Operation, c record.Collection) (string, error) {
	if !c.Valid() {
		return "", syncErrors.NewValidationError(op, fmt.Errorf("unknown collection %q", c))
	}
	path, err := e.endpoints.Path(c)
	if err != nil {
		return "", syncErrors.NewValidationError(op, err)
	}
	return path, nil
}

// lock takes the shared gate and the collection's mutex.
func (e *Engine) lock(c record.Collection) func() {
	e.gate.RLock()
	m := e.locks[c]
	m.Lock()
	return func() {
		m.Unlock()
		e.gate.RUnlock()
	}
}

// outbox collects events raised while locks are held. Handlers may call back
// into the engine, so events are only published once the locks are released.
type outbox []eventbus.Event

func (o *outbox) add(ev eventbus.Event) { *o = append(*o, ev) }

func (e *Engine) flush(o *outbox) {
	for _, ev := range *o {
		e.bus.Publish(ev)
	}
	*o = nil
}

// persistenceError wraps a store failure unless it is a context error.
func persistenceError(op syncErrors.Operation, err error) error {
	if isContextError(err) {
		return err
	}
	return syncErrors.NewPersistenceError(op, err)
}
