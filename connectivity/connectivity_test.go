package connectivity

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/c0deZ3R0/go-offline-kit/eventbus"
	"github.com/c0deZ3R0/go-offline-kit/logging"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newMonitor(online bool) (*Monitor, *eventbus.Bus) {
	bus := eventbus.New(eventbus.WithLogger(logging.Discard().Logger))
	return NewMonitor(bus, WithInitialState(online), WithMonitorLogger(logging.Discard().Logger)), bus
}

func TestMonitorTransitionsOnly(t *testing.T) {
	m, bus := newMonitor(true)

	var events []eventbus.Type
	for _, typ := range []eventbus.Type{eventbus.EventOnline, eventbus.EventOffline} {
		bus.Subscribe(typ, func(ev eventbus.Event) { events = append(events, ev.Type) })
	}

	assert.False(t, m.Signal(true), "already online")
	assert.True(t, m.Signal(false))
	assert.False(t, m.Signal(false))
	assert.False(t, m.Online())
	assert.True(t, m.Signal(true))

	assert.Equal(t, []eventbus.Type{eventbus.EventOffline, eventbus.EventOnline}, events)
}

func TestMonitorStateVisibleToHandlers(t *testing.T) {
	m, bus := newMonitor(false)
	var seen bool
	bus.Subscribe(eventbus.EventOnline, func(eventbus.Event) { seen = m.Online() })

	before := m.LastChange()
	time.Sleep(time.Millisecond)
	m.Signal(true)

	assert.True(t, seen)
	assert.True(t, m.LastChange().After(before))
}

func TestMonitorConcurrentSignals(t *testing.T) {
	m, bus := newMonitor(true)
	var transitions atomic.Int32
	bus.Subscribe(eventbus.EventOnline, func(eventbus.Event) { transitions.Add(1) })
	bus.Subscribe(eventbus.EventOffline, func(eventbus.Event) { transitions.Add(1) })

	var flips atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if m.Signal(i%2 == 0) {
				flips.Add(1)
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, flips.Load(), transitions.Load(), "one event per reported transition")
}

func TestMonitorPublishesInTransitionOrder(t *testing.T) {
	m, bus := newMonitor(true)
	var mu sync.Mutex
	var published []eventbus.Type
	record := func(ev eventbus.Event) {
		mu.Lock()
		defer mu.Unlock()
		published = append(published, ev.Type)
	}
	bus.Subscribe(eventbus.EventOnline, record)
	bus.Subscribe(eventbus.EventOffline, record)

	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			m.Signal(i%2 == 0)
		}(i)
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	want := eventbus.EventOffline
	for i, typ := range published {
		require.Equal(t, want, typ, "event %d out of order", i)
		if want == eventbus.EventOffline {
			want = eventbus.EventOnline
		} else {
			want = eventbus.EventOffline
		}
	}
	if len(published) > 0 {
		last := published[len(published)-1]
		assert.Equal(t, m.Online(), last == eventbus.EventOnline, "last event matches final state")
	}
}

func TestMonitorNestedSignalIsPublishedAfterOuter(t *testing.T) {
	m, bus := newMonitor(true)
	var published []eventbus.Type
	bus.Subscribe(eventbus.EventOffline, func(ev eventbus.Event) {
		published = append(published, ev.Type)
		m.Signal(true)
	})
	bus.Subscribe(eventbus.EventOnline, func(ev eventbus.Event) {
		published = append(published, ev.Type)
	})

	require.True(t, m.Signal(false))
	assert.Equal(t, []eventbus.Type{eventbus.EventOffline, eventbus.EventOnline}, published)
	assert.True(t, m.Online())
}

func TestExponentialBackoff(t *testing.T) {
	eb := &ExponentialBackoff{InitialDelay: 100 * time.Millisecond, MaxDelay: time.Second, Multiplier: 2}
	assert.Equal(t, 100*time.Millisecond, eb.NextDelay(0))
	assert.Equal(t, 400*time.Millisecond, eb.NextDelay(2))
	assert.Equal(t, time.Second, eb.NextDelay(10))
	assert.Equal(t, time.Second, eb.NextDelay(1000))
	assert.Equal(t, 100*time.Millisecond, eb.NextDelay(-3))
}

func TestProberFollowsChecker(t *testing.T) {
	m, _ := newMonitor(true)
	var healthy atomic.Bool
	checker := CheckerFunc(func(ctx context.Context) error {
		if healthy.Load() {
			return nil
		}
		return errors.New("unreachable")
	})

	p := NewProber(checker, m, ProberConfig{
		Interval: 10 * time.Millisecond,
		Logger:   logging.Discard().Logger,
	})
	require.NoError(t, p.Start(context.Background()))
	defer p.Stop()
	assert.ErrorIs(t, p.Start(context.Background()), ErrProberRunning)

	assert.Eventually(t, func() bool { return !m.Online() }, time.Second, 5*time.Millisecond)
	healthy.Store(true)
	assert.Eventually(t, m.Online, time.Second, 5*time.Millisecond)
}

func TestProberStopInterruptsSlowCheck(t *testing.T) {
	m, _ := newMonitor(true)
	checker := CheckerFunc(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	p := NewProber(checker, m, ProberConfig{Interval: time.Hour, Timeout: time.Hour, Logger: logging.Discard().Logger})
	require.NoError(t, p.Start(context.Background()))

	time.Sleep(10 * time.Millisecond)
	done := make(chan struct{})
	go func() { p.Stop(); close(done) }()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return")
	}
	assert.True(t, m.Online(), "a canceled probe is not evidence of being offline")
	p.Stop()
}

func TestHTTPChecker(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusOK)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/health", r.URL.Path)
		w.WriteHeader(int(status.Load()))
	}))
	defer srv.Close()

	c := &HTTPChecker{Client: srv.Client(), URL: srv.URL + "/api/health"}
	assert.NoError(t, c.Check(context.Background()))

	status.Store(http.StatusServiceUnavailable)
	assert.Error(t, c.Check(context.Background()))

	srv.CloseClientConnections()
	down := &HTTPChecker{URL: "http://127.0.0.1:1/api/health"}
	assert.Error(t, down.Check(context.Background()))
}
