package devserver

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c0deZ3R0/go-offline-kit/logging"
	"github.com/c0deZ3R0/go-offline-kit/record"
	"github.com/c0deZ3R0/go-offline-kit/transport"
)

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	s := New(WithLogger(logging.Discard().Logger))
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return s, ts
}

func do(t *testing.T, ts *httptest.Server, method, path string, header map[string]string, body interface{}) (int, transport.Envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, ts.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var env transport.Envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	return resp.StatusCode, env
}

func decode(t *testing.T, env transport.Envelope) record.Record {
	t.Helper()
	recs, err := record.DecodeRecords(record.Products, env.Data)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	return recs[0]
}

func TestHealth(t *testing.T) {
	s, ts := newTestServer(t)

	code, env := do(t, ts, http.MethodGet, HealthPath, nil, nil)
	assert.Equal(t, http.StatusOK, code)
	assert.True(t, env.Success)

	s.SetUnavailable(true)
	code, env = do(t, ts, http.MethodGet, HealthPath, nil, nil)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.False(t, env.Success)
}

func TestCreateGetList(t *testing.T) {
	s, ts := newTestServer(t)

	code, env := do(t, ts, http.MethodPost, "/api/products", nil, map[string]any{"_id": "p1", "name": "Widget"})
	require.Equal(t, http.StatusCreated, code)
	created := decode(t, env)
	assert.Equal(t, "p1", created.ID)
	assert.Equal(t, 1, created.Rev.Generation())
	assert.Equal(t, "Widget", created.Fields["name"])

	code, env = do(t, ts, http.MethodGet, "/api/products/p1", nil, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, created.Rev, decode(t, env).Rev)

	code, env = do(t, ts, http.MethodGet, "/api/products", nil, nil)
	require.Equal(t, http.StatusOK, code)
	all, err := record.DecodeRecords(record.Products, env.Data)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	code, _ = do(t, ts, http.MethodGet, "/api/products/nope", nil, nil)
	assert.Equal(t, http.StatusNotFound, code)

	reqs := s.Requests()
	require.Len(t, reqs, 4)
	assert.Equal(t, http.MethodPost, reqs[0].Method)
	assert.Equal(t, "p1", reqs[0].RecordID)
}

func TestCreateGeneratesID(t *testing.T) {
	_, ts := newTestServer(t)
	code, env := do(t, ts, http.MethodPost, "/api/customers", nil, map[string]any{"name": "Ada"})
	require.Equal(t, http.StatusCreated, code)
	assert.NotEmpty(t, decode(t, env).ID)
}

func TestUpdateRequiresCurrentRevision(t *testing.T) {
	s, ts := newTestServer(t)
	seeded := s.Seed(record.Products, record.New(record.Products, "p1", map[string]any{"name": "Widget", "price": 5.0}))[0]

	code, _ := do(t, ts, http.MethodPut, "/api/products/p1", nil, map[string]any{"name": "Gadget"})
	assert.Equal(t, http.StatusConflict, code, "missing revision")

	code, _ = do(t, ts, http.MethodPut, "/api/products/p1", map[string]string{transport.HeaderIfMatch: "1-stale"}, map[string]any{"name": "Gadget"})
	assert.Equal(t, http.StatusConflict, code, "stale revision")

	code, env := do(t, ts, http.MethodPut, "/api/products/p1", map[string]string{transport.HeaderIfMatch: seeded.Rev.String()}, map[string]any{"name": "Gadget"})
	require.Equal(t, http.StatusOK, code)
	updated := decode(t, env)
	assert.Equal(t, 2, updated.Rev.Generation())

	doc, found := s.Doc(record.Products, "p1")
	require.True(t, found)
	assert.Equal(t, "Gadget", doc.Fields["name"])
	assert.NotContains(t, doc.Fields, "price", "PUT replaces the document")
}

func TestPutCreatesMissingDocument(t *testing.T) {
	_, ts := newTestServer(t)
	code, env := do(t, ts, http.MethodPut, "/api/warehouses/w1", nil, map[string]any{"city": "Oslo"})
	require.Equal(t, http.StatusCreated, code)
	assert.Equal(t, "w1", decode(t, env).ID)
}

func TestDelete(t *testing.T) {
	s, ts := newTestServer(t)
	seeded := s.Seed(record.Products, record.New(record.Products, "p1", map[string]any{"name": "Widget"}))[0]

	code, _ := do(t, ts, http.MethodDelete, "/api/products/p1", nil, nil)
	assert.Equal(t, http.StatusConflict, code)

	code, _ = do(t, ts, http.MethodDelete, "/api/products/p1", map[string]string{transport.HeaderIfMatch: seeded.Rev.String()}, nil)
	assert.Equal(t, http.StatusOK, code)
	_, found := s.Doc(record.Products, "p1")
	assert.False(t, found)

	code, _ = do(t, ts, http.MethodDelete, "/api/products/p1", map[string]string{transport.HeaderIfMatch: seeded.Rev.String()}, nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestIdempotencyKeyDeduplicates(t *testing.T) {
	s, ts := newTestServer(t)
	hdr := map[string]string{transport.HeaderIdempotencyKey: "key-1"}

	code1, env1 := do(t, ts, http.MethodPost, "/api/sales", hdr, map[string]any{"total": 10})
	code2, env2 := do(t, ts, http.MethodPost, "/api/sales", hdr, map[string]any{"total": 10})

	assert.Equal(t, http.StatusCreated, code1)
	assert.Equal(t, code1, code2)
	assert.JSONEq(t, string(env1.Data), string(env2.Data))
	assert.Len(t, s.Docs(record.Sales), 1)
	assert.Len(t, s.Requests(), 2)
}

func TestFaultInjection(t *testing.T) {
	s, ts := newTestServer(t)
	s.FailNext(1)
	code, _ := do(t, ts, http.MethodGet, "/api/products", nil, nil)
	assert.Equal(t, http.StatusInternalServerError, code)
	code, _ = do(t, ts, http.MethodGet, "/api/products", nil, nil)
	assert.Equal(t, http.StatusOK, code)

	s.ConflictNext(record.Products, "p9", 1)
	code, _ = do(t, ts, http.MethodPost, "/api/products", nil, map[string]any{"_id": "p9"})
	assert.Equal(t, http.StatusConflict, code)
	code, _ = do(t, ts, http.MethodPost, "/api/products", nil, map[string]any{"_id": "p9"})
	assert.Equal(t, http.StatusCreated, code)
}

func TestCustomEndpoints(t *testing.T) {
	s := New(WithLogger(logging.Discard().Logger),
		WithEndpoints(record.DefaultEndpoints().With(map[record.Collection]string{record.Products: "v2/items"})))
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	code, _ := do(t, ts, http.MethodPost, "/v2/items", nil, map[string]any{"_id": "i1"})
	assert.Equal(t, http.StatusCreated, code)
	_, found := s.Doc(record.Products, "i1")
	assert.True(t, found)
}

func TestRejectsInvalidBody(t *testing.T) {
	_, ts := newTestServer(t)
	req, err := http.NewRequest(http.MethodPost, ts.URL+"/api/products", bytes.NewBufferString(`[1,2`))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
