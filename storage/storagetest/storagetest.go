// Package storagetest holds the behaviour every storage.Backend must share.
// Backend packages call Run from their own tests.
package storagetest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/c0deZ3R0/go-offline-kit/record"
	"github.com/c0deZ3R0/go-offline-kit/storage"
)

// Factory returns a fresh, empty backend. Cleanup is the factory's job.
type Factory func(t *testing.T) storage.Backend

// Run executes the shared backend suite.
func Run(t *testing.T, newBackend Factory) {
	t.Run("PutGetReplace", func(t *testing.T) { testPutGetReplace(t, newBackend(t)) })
	t.Run("PutMerge", func(t *testing.T) { testPutMerge(t, newBackend(t)) })
	t.Run("CollectionsAreIsolated", func(t *testing.T) { testIsolation(t, newBackend(t)) })
	t.Run("DeleteAndClear", func(t *testing.T) { testDeleteAndClear(t, newBackend(t)) })
	t.Run("QueueFIFO", func(t *testing.T) { testQueueFIFO(t, newBackend(t)) })
	t.Run("QueueOrderProperty", func(t *testing.T) { testQueueOrderProperty(t, newBackend(t)) })
	t.Run("ClearAll", func(t *testing.T) { testClearAll(t, newBackend(t)) })
	t.Run("Closed", func(t *testing.T) { testClosed(t, newBackend(t)) })
}

func widget(id, rev, name string) record.Record {
	return record.Record{ID: id, Rev: record.Revision(rev), Fields: map[string]any{"name": name}}
}

func testPutGetReplace(t *testing.T, b storage.Backend) {
	ctx := context.Background()

	_, found, err := b.Get(ctx, record.Products, "p1")
	require.NoError(t, err)
	assert.False(t, found, "absence is not an error")

	require.NoError(t, b.Put(ctx, record.Products, widget("p1", "1-a", "Widget"), storage.PutReplace))
	require.NoError(t, b.Put(ctx, record.Products, record.Record{
		ID: "p1", Rev: "2-b", Fields: map[string]any{"price": 9.5},
	}, storage.PutReplace))

	got, found, err := b.Get(ctx, record.Products, "p1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, record.Revision("2-b"), got.Rev)
	assert.Equal(t, record.Products, got.Collection)
	assert.Equal(t, map[string]any{"price": 9.5}, got.Fields, "replace drops old fields")

	n, err := b.Count(ctx, record.Products)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "one record per id")
}

func testPutMerge(t *testing.T, b storage.Backend) {
	ctx := context.Background()

	require.NoError(t, b.Put(ctx, record.Products, record.Record{
		ID: "p1", Rev: "1-a", Fields: map[string]any{"name": "Widget", "price": 3.0},
	}, storage.PutReplace))
	require.NoError(t, b.Put(ctx, record.Products, record.Record{
		ID: "p1", Rev: "2-b", Fields: map[string]any{"name": "Gadget"},
	}, storage.PutMerge))

	got, _, err := b.Get(ctx, record.Products, "p1")
	require.NoError(t, err)
	assert.Equal(t, record.Revision("2-b"), got.Rev)
	assert.Equal(t, "Gadget", got.Fields["name"])
	assert.Equal(t, 3.0, got.Fields["price"])

	// Merge onto a missing record behaves like replace.
	require.NoError(t, b.Put(ctx, record.Products, widget("p2", "1-c", "New"), storage.PutMerge))
	got, found, err := b.Get(ctx, record.Products, "p2")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "New", got.Fields["name"])
}

func testIsolation(t *testing.T, b storage.Backend) {
	ctx := context.Background()

	require.NoError(t, b.PutMany(ctx, record.Products, []record.Record{
		widget("x", "1-a", "product"), widget("y", "1-a", "product"),
	}))
	require.NoError(t, b.Put(ctx, record.Customers, widget("x", "1-a", "customer"), storage.PutReplace))

	products, err := b.GetAll(ctx, record.Products)
	require.NoError(t, err)
	require.Len(t, products, 2)
	assert.Equal(t, "x", products[0].ID)
	assert.Equal(t, "product", products[0].Fields["name"])

	c, _, err := b.Get(ctx, record.Customers, "x")
	require.NoError(t, err)
	assert.Equal(t, "customer", c.Fields["name"])

	empty, err := b.GetAll(ctx, record.Sales)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func testDeleteAndClear(t *testing.T, b storage.Backend) {
	ctx := context.Background()

	require.NoError(t, b.PutMany(ctx, record.Suppliers, []record.Record{
		widget("s1", "1-a", "a"), widget("s2", "1-a", "b"),
	}))
	require.NoError(t, b.Put(ctx, record.Warehouses, widget("w1", "1-a", "main"), storage.PutReplace))

	require.NoError(t, b.Delete(ctx, record.Suppliers, "s1"))
	require.NoError(t, b.Delete(ctx, record.Suppliers, "missing"), "deleting an absent id is a no-op")
	n, err := b.Count(ctx, record.Suppliers)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, b.Clear(ctx, record.Suppliers))
	n, err = b.Count(ctx, record.Suppliers)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	n, err = b.Count(ctx, record.Warehouses)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "Clear touches one collection only")
}

func pendingOp(i int) record.PendingOperation {
	return record.PendingOperation{
		Collection:     record.Products,
		RecordID:       fmt.Sprintf("p%d", i),
		Method:         "POST",
		URL:            "/api/products",
		Header:         map[string]string{"Content-Type": "application/json"},
		Body:           []byte(fmt.Sprintf(`{"n":%d}`, i)),
		EnqueuedAt:     time.Unix(1700000000+int64(i), 0).UTC(),
		IdempotencyKey: fmt.Sprintf("key-%d", i),
	}
}

func testQueueFIFO(t *testing.T, b storage.Backend) {
	ctx := context.Background()

	var seqs []int64
	for i := 0; i < 3; i++ {
		seq, err := b.Enqueue(ctx, pendingOp(i))
		require.NoError(t, err)
		seqs = append(seqs, seq)
	}
	assert.Less(t, seqs[0], seqs[1])
	assert.Less(t, seqs[1], seqs[2])

	ops, err := b.List(ctx)
	require.NoError(t, err)
	require.Len(t, ops, 3)
	for i, op := range ops {
		assert.Equal(t, seqs[i], op.Seq)
		assert.Equal(t, fmt.Sprintf("p%d", i), op.RecordID)
		assert.Equal(t, "application/json", op.Header["Content-Type"])
		assert.Equal(t, fmt.Sprintf(`{"n":%d}`, i), string(op.Body))
		assert.True(t, pendingOp(i).EnqueuedAt.Equal(op.EnqueuedAt))
		assert.Equal(t, fmt.Sprintf("key-%d", i), op.IdempotencyKey)
	}

	require.NoError(t, b.Remove(ctx, seqs[1]))
	n, err := b.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.NoError(t, b.ClearOperations(ctx))
	seq, err := b.Enqueue(ctx, pendingOp(9))
	require.NoError(t, err)
	assert.Greater(t, seq, seqs[2], "sequence numbers are never reused")
}

// Interleaved enqueues and removals must leave List in enqueue order.
func testQueueOrderProperty(t *testing.T, b storage.Backend) {
	ctx := context.Background()

	rapid.Check(t, func(rt *rapid.T) {
		require.NoError(rt, b.ClearOperations(ctx))

		var model []string
		steps := rapid.IntRange(1, 30).Draw(rt, "steps")
		for i := 0; i < steps; i++ {
			if len(model) > 0 && rapid.Bool().Draw(rt, "remove") {
				ops, err := b.List(ctx)
				require.NoError(rt, err)
				idx := rapid.IntRange(0, len(ops)-1).Draw(rt, "idx")
				require.NoError(rt, b.Remove(ctx, ops[idx].Seq))
				model = append(model[:idx], model[idx+1:]...)
				continue
			}
			id := fmt.Sprintf("r%d", i)
			op := pendingOp(i)
			op.RecordID = id
			_, err := b.Enqueue(ctx, op)
			require.NoError(rt, err)
			model = append(model, id)
		}

		ops, err := b.List(ctx)
		require.NoError(rt, err)
		got := make([]string, len(ops))
		for i, op := range ops {
			got[i] = op.RecordID
			if i > 0 && ops[i-1].Seq >= op.Seq {
				rt.Fatalf("sequence not increasing at %d: %d >= %d", i, ops[i-1].Seq, op.Seq)
			}
		}
		if len(model) == 0 {
			model = []string{}
		}
		assert.Equal(rt, model, got)
	})
}

func testClearAll(t *testing.T, b storage.Backend) {
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		require.NoError(t, b.Put(ctx, record.Products, widget(fmt.Sprintf("p%d", i), "1-a", "w"), storage.PutReplace))
	}
	require.NoError(t, b.Put(ctx, record.Sales, widget("s1", "1-a", "sale"), storage.PutReplace))
	for i := 0; i < 3; i++ {
		_, err := b.Enqueue(ctx, pendingOp(i))
		require.NoError(t, err)
	}

	require.NoError(t, b.ClearAll(ctx))

	for _, c := range record.All() {
		n, err := b.Count(ctx, c)
		require.NoError(t, err)
		assert.Zero(t, n, c.String())
	}
	n, err := b.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func testClosed(t *testing.T, b storage.Backend) {
	require.NoError(t, b.Close())
	require.NoError(t, b.Close(), "Close is idempotent")

	err := b.Put(context.Background(), record.Products, widget("p1", "", "x"), storage.PutReplace)
	require.Error(t, err)
	assert.ErrorIs(t, err, storage.ErrClosed)
}
