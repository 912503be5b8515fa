package offlinekit

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	syncErrors "github.com/c0deZ3R0/go-offline-kit/errors"
	"github.com/c0deZ3R0/go-offline-kit/eventbus"
	"github.com/c0deZ3R0/go-offline-kit/logging"
	"github.com/c0deZ3R0/go-offline-kit/record"
	"github.com/c0deZ3R0/go-offline-kit/remote/devserver"
	"github.com/c0deZ3R0/go-offline-kit/storage/memory"
	"github.com/c0deZ3R0/go-offline-kit/transport"
)

func TestOfflineCreateReplaysWhenOnline(t *testing.T) {
	h := newHarness(t, harnessConfig{overHTTP: true}, WithInitialOnline(false))
	require.NoError(t, h.engine.Start(context.Background()))
	h.offline()

	res := h.write(record.Products, record.ActionCreate, product("p1", map[string]any{"name": "Widget"}))
	require.Equal(t, StatusQueued, res.Status)
	assert.Equal(t, 1, h.queueLen())

	h.online()
	h.waitFor(eventbus.EventSyncComplete, func(ev eventbus.Event) bool { return ev.Synced == 1 })
	assert.Equal(t, 0, h.queueLen())

	synced := h.events.of(eventbus.EventRequestSynced)
	require.Len(t, synced, 1)
	assert.Equal(t, res.Seq, synced[0].Seq)
	assert.Equal(t, http.MethodPost, synced[0].Method)

	doc, found := h.server.Doc(record.Products, "p1")
	require.True(t, found)
	assert.Equal(t, "Widget", doc.Fields["name"])
	local, found := h.local(record.Products, "p1")
	require.True(t, found)
	assert.Equal(t, doc.Rev, local.Rev)
}

func TestStartReplaysLeftoverOperations(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	h.toggle.SetOnline(false)
	h.write(record.Sales, record.ActionCreate, record.New(record.Sales, "x1", map[string]any{"total": 10.0}))
	h.toggle.SetOnline(true)

	require.NoError(t, h.engine.Start(context.Background()))
	h.waitFor(eventbus.EventSyncComplete, func(ev eventbus.Event) bool { return ev.Synced == 1 })
	assert.Equal(t, 0, h.queueLen())
}

func TestClearOfflineData(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	ctx := context.Background()

	docs := make([]record.Record, 10)
	for i := range docs {
		docs[i] = product(fmt.Sprintf("p%02d", i), map[string]any{"n": float64(i)})
	}
	h.server.Seed(record.Products, docs...)
	_, err := h.engine.Read(ctx, record.Products, "")
	require.NoError(t, err)

	h.offline()
	for i := 0; i < 3; i++ {
		h.write(record.Customers, record.ActionCreate, record.New(record.Customers, fmt.Sprintf("c%d", i), nil))
	}
	n, err := h.store.Count(ctx, record.Products)
	require.NoError(t, err)
	require.Equal(t, 10, n)
	require.Equal(t, 3, h.queueLen())

	require.NoError(t, h.engine.ClearOfflineData(ctx))

	for _, c := range record.All() {
		n, err := h.store.Count(ctx, c)
		require.NoError(t, err)
		assert.Zero(t, n, c.String())
	}
	assert.Equal(t, 0, h.queueLen())

	_, err = h.engine.Read(ctx, record.Products, "")
	assert.True(t, syncErrors.IsNotFoundLocally(err))
	assert.ErrorIs(t, err, ErrNoDataAvailable)

	st, err := h.engine.Status(ctx)
	require.NoError(t, err)
	assert.Zero(t, st.Pending)
}

func TestReplayRemovesOnlyDeliveredEntries(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	ctx := context.Background()
	h.server.Seed(record.Products, product("p1", map[string]any{"name": "Widget"}))

	h.offline()
	h.write(record.Products, record.ActionUpdate, product("p1", map[string]any{"price": 2.0}))
	h.write(record.Products, record.ActionCreate, product("p2", nil))
	h.online()

	h.server.ConflictNext(record.Products, "p1", 2)
	res, err := h.engine.SyncNow(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Attempted)
	assert.Equal(t, 1, res.Synced)
	assert.Equal(t, 1, res.Failed)

	ops, err := h.engine.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.Equal(t, "p1", ops[0].RecordID)

	res, err = h.engine.SyncNow(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Synced)
	assert.Equal(t, 1, res.ConflictsResolved)
	assert.Equal(t, 0, h.queueLen())

	doc, _ := h.server.Doc(record.Products, "p1")
	assert.Equal(t, map[string]any{"name": "Widget", "price": 2.0}, doc.Fields)
}

func TestReplayKeepsEntriesWhileUnreachable(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	h.offline()
	h.write(record.Products, record.ActionCreate, product("p1", nil))

	res, err := h.engine.SyncNow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 1, h.queueLen())
	assert.Empty(t, h.events.of(eventbus.EventRequestSynced))
	h.waitFor(eventbus.EventSyncComplete, func(ev eventbus.Event) bool { return ev.Synced == 0 })
}

func TestReplayPreservesOrder(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	h.offline()
	a := h.write(record.Products, record.ActionCreate, product("a", nil))
	b := h.write(record.Suppliers, record.ActionUpdate, record.New(record.Suppliers, "b", map[string]any{"name": "Acme"}))
	h.online()

	_, err := h.engine.SyncNow(context.Background())
	require.NoError(t, err)

	reqs := h.server.Requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, "/api/products", reqs[0].Path)
	assert.Equal(t, "/api/suppliers/b", reqs[1].Path)

	synced := h.events.of(eventbus.EventRequestSynced)
	require.Len(t, synced, 2)
	assert.Equal(t, []int64{a.Seq, b.Seq}, []int64{synced[0].Seq, synced[1].Seq})
}

// Replaying a queue of arbitrary writes delivers each one, first attempts in
// queue order.
func TestReplayOrderProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		server := devserver.New(devserver.WithLogger(logging.Discard().Logger))
		toggle := transport.NewToggle(&handlerRemote{h: server.Handler()})
		engine, err := New(
			WithStore(memory.New()),
			WithRemote(toggle),
			WithLogger(logging.Discard().Logger),
		)
		if err != nil {
			rt.Fatal(err)
		}
		defer engine.Close()
		ctx := context.Background()

		toggle.SetOnline(false)
		n := rapid.IntRange(1, 12).Draw(rt, "writes")
		for i := 0; i < n; i++ {
			c := rapid.SampledFrom([]record.Collection{record.Products, record.Sales}).Draw(rt, "collection")
			id := rapid.SampledFrom([]string{"a", "b", "c"}).Draw(rt, "id")
			action := rapid.SampledFrom([]record.Action{record.ActionCreate, record.ActionUpdate, record.ActionDelete}).Draw(rt, "action")
			res, err := engine.Write(ctx, c, action, record.New(c, id, map[string]any{"i": float64(i)}))
			if err != nil {
				rt.Fatal(err)
			}
			if res.Status != StatusQueued {
				rt.Fatalf("write %d: status %v", i, res.Status)
			}
		}

		ops, err := engine.Pending(ctx)
		if err != nil {
			rt.Fatal(err)
		}
		want := make([]string, len(ops))
		for i, op := range ops {
			if i > 0 && op.Seq <= ops[i-1].Seq {
				rt.Fatalf("sequence not increasing at %d", i)
			}
			want[i] = op.IdempotencyKey
		}

		toggle.SetOnline(true)
		res, err := engine.SyncNow(ctx)
		if err != nil {
			rt.Fatal(err)
		}
		if res.Synced != n {
			rt.Fatalf("synced %d of %d", res.Synced, n)
		}

		seen := make(map[string]bool)
		var got []string
		for _, r := range server.Requests() {
			if r.IdempotencyKey == "" || seen[r.IdempotencyKey] {
				continue
			}
			seen[r.IdempotencyKey] = true
			got = append(got, r.IdempotencyKey)
		}
		if fmt.Sprint(got) != fmt.Sprint(want) {
			rt.Fatalf("delivery order %v, queue order %v", got, want)
		}
	})
}

func TestReplayIsIdempotent(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	ctx := context.Background()
	h.offline()
	h.write(record.Products, record.ActionCreate, product("p1", map[string]any{"name": "Widget"}))
	ops, err := h.engine.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, ops, 1)
	h.online()

	_, err = h.engine.SyncNow(ctx)
	require.NoError(t, err)
	first, _ := h.local(record.Products, "p1")

	// as if the process died after delivery but before the entry was removed
	_, err = h.store.Enqueue(ctx, ops[0])
	require.NoError(t, err)
	res, err := h.engine.SyncNow(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Synced)

	second, _ := h.local(record.Products, "p1")
	assert.Equal(t, first, second)
	assert.Len(t, h.server.Docs(record.Products), 1)
	doc, _ := h.server.Doc(record.Products, "p1")
	assert.Equal(t, first.Rev, doc.Rev)

	res, err = h.engine.SyncNow(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Attempted)
}

func TestSyncNowPassesDoNotOverlap(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	ctx := context.Background()
	h.offline()
	for i := 0; i < 3; i++ {
		h.write(record.Products, record.ActionCreate, product(fmt.Sprintf("p%d", i), nil))
	}
	h.online()
	h.server.SetLatency(20 * time.Millisecond)

	var wg sync.WaitGroup
	results := make([]SyncResult, 4)
	errs := make([]error, 4)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = h.engine.SyncNow(ctx)
		}(i)
	}
	wg.Wait()

	total := 0
	for i := range results {
		require.NoError(t, errs[i])
		total = max(total, results[i].Synced)
	}
	assert.Equal(t, 3, total)
	assert.Equal(t, 0, h.queueLen())
	assert.Len(t, h.server.Requests(), 3, "each entry delivered exactly once")
	assert.Len(t, h.events.of(eventbus.EventRequestSynced), 3)
}

func TestSyncNowWaiterSurvivesOwnerCancellation(t *testing.T) {
	h := newHarness(t, harnessConfig{overHTTP: true})
	h.offline()
	h.write(record.Products, record.ActionCreate, product("p1", map[string]any{"name": "Widget"}))
	h.online()
	h.server.SetLatency(200 * time.Millisecond)

	ownerCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	owner := make(chan error, 1)
	go func() {
		_, err := h.engine.SyncNow(ownerCtx)
		owner <- err
	}()
	require.Eventually(t, func() bool { return h.toggle.Calls() == 1 }, time.Second, time.Millisecond)

	type outcome struct {
		res SyncResult
		err error
	}
	waiter := make(chan outcome, 1)
	go func() {
		res, err := h.engine.SyncNow(context.Background())
		waiter <- outcome{res, err}
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	require.ErrorIs(t, <-owner, context.Canceled)
	got := <-waiter
	require.NoError(t, got.err)
	assert.Equal(t, 1, got.res.Synced)
	assert.Equal(t, 0, h.queueLen())
	_, found := h.server.Doc(record.Products, "p1")
	assert.True(t, found)
}

func TestSyncNowHandlerMayTriggerAnotherPass(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	ctx := context.Background()

	var fired atomic.Bool
	nested := make(chan error, 1)
	h.engine.Subscribe(eventbus.EventSyncComplete, func(eventbus.Event) {
		if fired.CompareAndSwap(false, true) {
			_, err := h.engine.SyncNow(ctx)
			nested <- err
		}
	})

	_, err := h.engine.SyncNow(ctx)
	require.NoError(t, err)
	select {
	case err := <-nested:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("nested SyncNow did not return")
	}
}

func TestReplayPersistenceFailure(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	require.NoError(t, h.store.Close())

	_, err := h.engine.SyncNow(context.Background())
	assert.True(t, syncErrors.IsPersistence(err))
}

func TestReplicate(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	ctx := context.Background()
	h.server.Seed(record.Products,
		product("p1", map[string]any{"name": "remote"}),
		product("p2", map[string]any{"name": "Gadget"}))
	h.server.Seed(record.Categories, record.New(record.Categories, "k1", map[string]any{"name": "Tools"}))

	newer := product("p1", map[string]any{"name": "local"})
	newer.Rev = "5-zzz"
	require.NoError(t, h.store.Put(ctx, record.Products, newer, 0))

	res, err := h.engine.Replicate(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Kept)
	assert.Equal(t, 1, res.Refreshed[record.Products])
	assert.Equal(t, 1, res.Refreshed[record.Categories])
	assert.Empty(t, res.Unreachable)

	local, _ := h.local(record.Products, "p1")
	assert.Equal(t, "local", local.Fields["name"])
	_, found := h.local(record.Products, "p2")
	assert.True(t, found)
}

func TestReplicateReportsUnreachableCollections(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	h.offline()

	res, err := h.engine.Replicate(context.Background())
	require.NoError(t, err)
	assert.ElementsMatch(t, record.All(), res.Unreachable)
	assert.Empty(t, res.Refreshed)
}
