package offlinekit

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/c0deZ3R0/go-offline-kit/eventbus"
	"github.com/c0deZ3R0/go-offline-kit/logging"
	"github.com/c0deZ3R0/go-offline-kit/record"
	"github.com/c0deZ3R0/go-offline-kit/remote/devserver"
	"github.com/c0deZ3R0/go-offline-kit/storage/memory"
	"github.com/c0deZ3R0/go-offline-kit/transport"
	"github.com/c0deZ3R0/go-offline-kit/transport/httptransport"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// handlerRemote serves requests through an http.Handler in process.
type handlerRemote struct {
	h http.Handler
}

func (r *handlerRemote) Do(ctx context.Context, req transport.Request) (*transport.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	httpReq := httptest.NewRequest(req.Method, req.Path, bytes.NewReader(req.Body)).WithContext(ctx)
	for k, v := range req.Header {
		httpReq.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	r.h.ServeHTTP(rec, httpReq)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &transport.Response{StatusCode: rec.Code, Header: rec.Header(), Body: rec.Body.Bytes()}, nil
}

func (r *handlerRemote) Close() error { return nil }

// recorder keeps every published event.
type recorder struct {
	mu     sync.Mutex
	events []eventbus.Event
}

func newRecorder(bus *eventbus.Bus) *recorder {
	r := &recorder{}
	for _, t := range eventbus.Types() {
		bus.Subscribe(t, func(ev eventbus.Event) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.events = append(r.events, ev)
		})
	}
	return r
}

func (r *recorder) of(t eventbus.Type) []eventbus.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []eventbus.Event
	for _, ev := range r.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

func (r *recorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

type harness struct {
	t      *testing.T
	server *devserver.Server
	toggle *transport.Toggle
	store  *memory.Store
	engine *Engine
	events *recorder
}

type harnessConfig struct {
	overHTTP bool
}

// newHarness wires an engine to a devserver through a Toggle. With overHTTP the
// devserver runs behind httptest and the real HTTP client is used.
func newHarness(t *testing.T, cfg harnessConfig, opts ...Option) *harness {
	t.Helper()
	server := devserver.New(devserver.WithLogger(logging.Discard().Logger))

	var inner transport.Remote = &handlerRemote{h: server.Handler()}
	if cfg.overHTTP {
		ts := httptest.NewServer(server.Handler())
		t.Cleanup(ts.Close)
		inner = httptransport.NewClient(ts.URL, httptransport.WithLogger(logging.Discard().Logger))
	}
	toggle := transport.NewToggle(inner)
	store := memory.New()

	base := []Option{
		WithStore(store),
		WithRemote(toggle),
		WithLogger(logging.Discard().Logger),
	}
	engine, err := New(append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = engine.Close() })

	return &harness{
		t:      t,
		server: server,
		toggle: toggle,
		store:  store,
		engine: engine,
		events: newRecorder(engine.Bus()),
	}
}

// offline cuts the network and tells the engine.
func (h *harness) offline() {
	h.toggle.SetOnline(false)
	h.engine.SetOnline(false)
}

// online restores the network and tells the engine.
func (h *harness) online() {
	h.toggle.SetOnline(true)
	h.engine.SetOnline(true)
}

func (h *harness) queueLen() int {
	h.t.Helper()
	n, err := h.store.Len(context.Background())
	require.NoError(h.t, err)
	return n
}

func (h *harness) write(c record.Collection, action record.Action, rec record.Record) WriteResult {
	h.t.Helper()
	res, err := h.engine.Write(context.Background(), c, action, rec)
	require.NoError(h.t, err)
	return res
}

func (h *harness) local(c record.Collection, id string) (record.Record, bool) {
	h.t.Helper()
	rec, found, err := h.store.Get(context.Background(), c, id)
	require.NoError(h.t, err)
	return rec, found
}

func (h *harness) waitFor(t eventbus.Type, match func(eventbus.Event) bool) {
	h.t.Helper()
	require.Eventually(h.t, func() bool {
		for _, ev := range h.events.of(t) {
			if match == nil || match(ev) {
				return true
			}
		}
		return false
	}, 3*time.Second, 5*time.Millisecond, "waiting for %s", t)
}

func product(id string, fields map[string]any) record.Record {
	return record.New(record.Products, id, fields)
}
