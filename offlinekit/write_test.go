package offlinekit

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	syncErrors "github.com/c0deZ3R0/go-offline-kit/errors"
	"github.com/c0deZ3R0/go-offline-kit/eventbus"
	"github.com/c0deZ3R0/go-offline-kit/record"
	"github.com/c0deZ3R0/go-offline-kit/storage"
	"github.com/c0deZ3R0/go-offline-kit/transport"
)

func TestWriteOnlineAppliesRemoteResult(t *testing.T) {
	h := newHarness(t, harnessConfig{overHTTP: true})

	res := h.write(record.Products, record.ActionCreate, product("p1", map[string]any{"name": "Widget"}))
	assert.Equal(t, StatusSynced, res.Status)
	assert.Equal(t, 1, res.Record.Rev.Generation())
	assert.Equal(t, "Widget", res.Record.Fields["name"])

	local, found := h.local(record.Products, "p1")
	require.True(t, found)
	assert.Equal(t, res.Record.Rev, local.Rev)
	assert.Equal(t, 0, h.queueLen())

	reqs := h.server.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, http.MethodPost, reqs[0].Method)
	assert.Equal(t, "/api/products", reqs[0].Path)
	assert.NotEmpty(t, reqs[0].IdempotencyKey)
	assert.Empty(t, h.events.of(eventbus.EventRequestQueued))
}

func TestWriteShapesRequests(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	created := h.write(record.Products, record.ActionCreate, product("p1", map[string]any{"name": "Widget"}))

	upd := created.Record.Clone()
	upd.Fields["price"] = 3.5
	updated := h.write(record.Products, record.ActionUpdate, upd)
	assert.Equal(t, StatusSynced, updated.Status)
	assert.False(t, updated.Resolved)
	assert.Equal(t, 2, updated.Record.Rev.Generation())

	deleted := h.write(record.Products, record.ActionDelete, updated.Record)
	assert.Equal(t, StatusSynced, deleted.Status)
	_, found := h.local(record.Products, "p1")
	assert.False(t, found)

	reqs := h.server.Requests()
	require.Len(t, reqs, 3)
	assert.Equal(t, []string{http.MethodPost, http.MethodPut, http.MethodDelete},
		[]string{reqs[0].Method, reqs[1].Method, reqs[2].Method})
	assert.Equal(t, "/api/products/p1", reqs[1].Path)
	assert.Equal(t, "/api/products/p1", reqs[2].Path)
}

func TestWriteGeneratesIDForCreate(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	res := h.write(record.Customers, record.ActionCreate, record.Record{Fields: map[string]any{"name": "Ada"}})
	assert.Equal(t, StatusSynced, res.Status)
	assert.NotEmpty(t, res.Record.ID)
	_, found := h.server.Doc(record.Customers, res.Record.ID)
	assert.True(t, found)
}

func TestWriteWithoutIdempotencyKeys(t *testing.T) {
	h := newHarness(t, harnessConfig{}, WithIdempotencyKeys(false))
	h.write(record.Products, record.ActionCreate, product("p1", nil))
	reqs := h.server.Requests()
	require.Len(t, reqs, 1)
	assert.Empty(t, reqs[0].IdempotencyKey)
}

func TestOfflineWritesGrowQueueByOne(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	h.offline()

	writes := []struct {
		action record.Action
		rec    record.Record
		method string
		path   string
	}{
		{record.ActionCreate, product("p1", map[string]any{"name": "Widget"}), http.MethodPost, "/api/products"},
		{record.ActionUpdate, record.New(record.Suppliers, "s1", map[string]any{"name": "Acme"}), http.MethodPut, "/api/suppliers/s1"},
		{record.ActionDelete, record.New(record.Sales, "x1", nil), http.MethodDelete, "/api/sales/x1"},
	}

	for i, w := range writes {
		before := h.queueLen()
		res := h.write(w.rec.Collection, w.action, w.rec)
		assert.Equal(t, StatusQueued, res.Status)
		assert.Equal(t, before+1, h.queueLen())

		queued := h.events.of(eventbus.EventRequestQueued)
		require.Len(t, queued, i+1)
		ev := queued[i]
		assert.Equal(t, w.method, ev.Method)
		assert.Equal(t, w.path, ev.Path)
		assert.Equal(t, res.Seq, ev.Seq)
		assert.Equal(t, w.rec.Collection, ev.Collection)
	}
	assert.Equal(t, int64(0), h.toggle.Calls())
}

func TestWriteQueuedOnRemoteFailure(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	h.server.FailNext(1)

	res := h.write(record.Products, record.ActionCreate, product("p1", nil))
	assert.Equal(t, StatusQueued, res.Status)
	assert.Equal(t, 1, h.queueLen())
}

func TestWriteQueuedBehindPendingOperations(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	h.offline()
	h.write(record.Products, record.ActionCreate, product("p1", map[string]any{"name": "Widget"}))

	h.toggle.SetOnline(true)
	calls := h.toggle.Calls()
	res := h.write(record.Products, record.ActionUpdate, product("p1", map[string]any{"name": "Gadget"}))
	assert.Equal(t, StatusQueued, res.Status)
	assert.Equal(t, calls, h.toggle.Calls(), "remote must not be contacted")
	assert.Equal(t, 2, h.queueLen())

	other := h.write(record.Products, record.ActionCreate, product("p2", nil))
	assert.Equal(t, StatusSynced, other.Status)
}

func TestWriteConflictResolvedOnRetry(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	seeded := h.server.Seed(record.Products, product("p1", map[string]any{"name": "Widget", "stock": 4.0}))[0]

	stale := product("p1", map[string]any{"price": 9.0})
	stale.Rev = "1-stale"
	res := h.write(record.Products, record.ActionUpdate, stale)

	assert.Equal(t, StatusSynced, res.Status)
	assert.True(t, res.Resolved)
	assert.Equal(t, 0, h.queueLen())
	assert.Empty(t, h.events.of(eventbus.EventRequestQueued))

	doc, _ := h.server.Doc(record.Products, "p1")
	assert.Equal(t, map[string]any{"name": "Widget", "stock": 4.0, "price": 9.0}, doc.Fields)
	assert.Equal(t, seeded.Rev.Generation()+1, doc.Rev.Generation())

	local, found := h.local(record.Products, "p1")
	require.True(t, found)
	assert.Equal(t, doc.Rev, local.Rev)
	assert.Equal(t, 9.0, local.Fields["price"])
	assert.Equal(t, "Widget", local.Fields["name"])
}

func TestWriteConflictTwiceQueuesWithConflictStatus(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	h.server.Seed(record.Products, product("p1", map[string]any{"name": "Widget"}))
	h.server.ConflictNext(record.Products, "p1", 2)

	res := h.write(record.Products, record.ActionUpdate, product("p1", map[string]any{"price": 1.0}))
	assert.Equal(t, StatusConflict, res.Status)
	assert.NotZero(t, res.Seq)
	assert.Equal(t, 1, h.queueLen())
	require.Len(t, h.events.of(eventbus.EventRequestQueued), 1)

	ops, err := h.engine.Pending(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, ops[0].Header[transport.HeaderIfMatch], "queued retry carries the remote revision")
}

func TestDeleteConflictUsesRemoteRevision(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	h.server.Seed(record.Products, product("p1", map[string]any{"name": "Widget"}))
	require.NoError(t, h.store.Put(context.Background(), record.Products, product("p1", nil), storage.PutReplace))

	res := h.write(record.Products, record.ActionDelete, product("p1", nil))
	assert.Equal(t, StatusSynced, res.Status)
	assert.True(t, res.Resolved)
	_, found := h.server.Doc(record.Products, "p1")
	assert.False(t, found)
	_, found = h.local(record.Products, "p1")
	assert.False(t, found)
}

func TestDeleteOfMissingRecordCountsAsSynced(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	res := h.write(record.Products, record.ActionDelete, product("gone", nil))
	assert.Equal(t, StatusSynced, res.Status)
	assert.Equal(t, 0, h.queueLen())
}

func TestResolverStrategies(t *testing.T) {
	tests := []struct {
		name   string
		opt    Option
		expect map[string]any
	}{
		{"shallow merge", WithConflictResolver(&ShallowMergeResolver{}), map[string]any{"name": "Widget", "stock": 4.0, "price": 9.0}},
		{"remote wins", WithRemoteWins(), map[string]any{"name": "Widget", "stock": 4.0}},
		{"local wins", WithLocalWins(), map[string]any{"price": 9.0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, harnessConfig{}, tt.opt)
			h.server.Seed(record.Products, product("p1", map[string]any{"name": "Widget", "stock": 4.0}))

			res := h.write(record.Products, record.ActionUpdate, product("p1", map[string]any{"price": 9.0}))
			require.Equal(t, StatusSynced, res.Status)
			doc, _ := h.server.Doc(record.Products, "p1")
			assert.Equal(t, tt.expect, doc.Fields)
		})
	}
}

func TestWriteValidation(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	ctx := context.Background()

	_, err := h.engine.Write(ctx, record.Collection("gadgets"), record.ActionCreate, record.Record{})
	assert.True(t, syncErrors.IsValidation(err))

	_, err = h.engine.Write(ctx, record.Products, record.ActionUpdate, record.Record{})
	assert.True(t, syncErrors.IsValidation(err))

	_, err = h.engine.Write(ctx, record.Products, record.Action(42), product("p1", nil))
	assert.True(t, syncErrors.IsValidation(err))

	assert.Equal(t, 0, h.queueLen())
	assert.Empty(t, h.server.Requests())
}

func TestWritePersistenceFailureIsReturned(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	h.offline()
	require.NoError(t, h.store.Close())

	_, err := h.engine.Write(context.Background(), record.Products, record.ActionCreate, product("p1", nil))
	require.Error(t, err)
	assert.True(t, syncErrors.IsPersistence(err))
}
