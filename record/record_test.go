package record

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCollection(t *testing.T) {
	c, err := ParseCollection(" Products ")
	require.NoError(t, err)
	assert.Equal(t, Products, c)

	_, err = ParseCollection("pending_sync")
	assert.Error(t, err)
}

func TestEndpoints(t *testing.T) {
	e := DefaultEndpoints()
	require.NoError(t, e.Validate())

	p, err := e.Path(Sales)
	require.NoError(t, err)
	assert.Equal(t, "/api/sales", p)

	custom := e.With(map[Collection]string{Sales: "v2/orders/"})
	p, _ = custom.Path(Sales)
	assert.Equal(t, "/v2/orders", p)
	assert.Equal(t, "/api/sales", e[Sales], "With must not mutate the receiver")

	dup := e.With(map[Collection]string{Sales: "/api/products"})
	assert.Error(t, dup.Validate())

	missing := Endpoints{Products: "/api/products"}
	assert.Error(t, missing.Validate())
}

func TestRevisionCompare(t *testing.T) {
	tests := []struct {
		a, b Revision
		want int
	}{
		{"", "", 0},
		{"", "1-a", -1},
		{"2-a", "1-z", 1},
		{"10-a", "9-a", 1},
		{"3-abc", "3-abd", -1},
		{"3-abc", "3-abc", 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.a.Compare(tt.b), "%q vs %q", tt.a, tt.b)
	}

	assert.Equal(t, 0, Revision("garbage").Generation())
	assert.Equal(t, Revision("4-x"), Revision("3-abc").Next("x"))
	assert.Equal(t, Revision("1-x"), Revision("").Next("x"))
}

func TestRecordJSON(t *testing.T) {
	rec := Record{ID: "p1", Rev: "1-a", Collection: Products, Fields: map[string]any{"name": "Widget"}}
	data, err := json.Marshal(rec)
	require.NoError(t, err)
	assert.JSONEq(t, `{"_id":"p1","_rev":"1-a","name":"Widget"}`, string(data))

	var back Record
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, "p1", back.ID)
	assert.Equal(t, Revision("1-a"), back.Rev)
	assert.Equal(t, map[string]any{"name": "Widget"}, back.Fields)

	var plain Record
	require.NoError(t, json.Unmarshal([]byte(`{"id":"c7","name":"x"}`), &plain))
	assert.Equal(t, "c7", plain.ID)

	assert.Error(t, json.Unmarshal([]byte(`{"_id":5}`), &plain))
}

func TestDecodeRecords(t *testing.T) {
	recs, err := DecodeRecords(Customers, []byte(` [{"_id":"a"},{"_id":"b"}]`))
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, Customers, recs[1].Collection)

	recs, err = DecodeRecords(Customers, []byte(`{"_id":"a","_rev":"2-x"}`))
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, Revision("2-x"), recs[0].Rev)

	recs, err = DecodeRecords(Customers, []byte(`null`))
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestMerge(t *testing.T) {
	remote := Record{ID: "p1", Rev: "2-b", Fields: map[string]any{"name": "Old", "price": 3}}
	local := Record{ID: "p1", Rev: "1-a", Fields: map[string]any{"name": "New"}}

	merged := remote.Merge(Record{ID: local.ID, Fields: local.Fields})
	assert.Equal(t, Revision("2-b"), merged.Rev)
	assert.Equal(t, "New", merged.Fields["name"])
	assert.Equal(t, 3, merged.Fields["price"])
	assert.Equal(t, "Old", remote.Fields["name"], "Merge must not mutate the receiver")
}

func TestActionMethod(t *testing.T) {
	for _, a := range []Action{ActionCreate, ActionUpdate, ActionDelete} {
		back, ok := ActionForMethod(a.Method())
		require.True(t, ok)
		assert.Equal(t, a, back)
	}
	_, ok := ActionForMethod("GET")
	assert.False(t, ok, "reads are never queued")
}
