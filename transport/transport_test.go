package transport

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	syncErrors "github.com/c0deZ3R0/go-offline-kit/errors"
)

type stubRemote struct{ status int }

func (s stubRemote) Do(ctx context.Context, req Request) (*Response, error) {
	return &Response{StatusCode: s.status, Body: []byte(`{"success":true,"data":[{"_id":"a"}]}`)}, nil
}

func (stubRemote) Close() error { return nil }

func TestResponseClassification(t *testing.T) {
	assert.True(t, (&Response{StatusCode: http.StatusAccepted}).OK())
	assert.False(t, (&Response{StatusCode: http.StatusConflict}).OK())
	assert.True(t, (&Response{StatusCode: http.StatusConflict}).Conflict())
	assert.False(t, (&Response{StatusCode: http.StatusInternalServerError}).Conflict())
}

func TestEnvelope(t *testing.T) {
	env, err := (&Response{Body: []byte(`{"success":false,"error":"nope"}`)}).Envelope()
	require.NoError(t, err)
	assert.False(t, env.Success)
	assert.Equal(t, "nope", env.Error)

	env, err = (&Response{}).Envelope()
	require.NoError(t, err)
	assert.False(t, env.Success)

	_, err = (&Response{Body: []byte(`<html>`)}).Envelope()
	assert.Error(t, err)
}

func TestToggle(t *testing.T) {
	tg := NewToggle(stubRemote{status: http.StatusOK})
	resp, err := tg.Do(context.Background(), Request{Method: http.MethodGet, Path: "/api/products"})
	require.NoError(t, err)
	assert.True(t, resp.OK())

	tg.SetOnline(false)
	_, err = tg.Do(context.Background(), Request{Method: http.MethodGet, Path: "/api/products"})
	require.Error(t, err)
	assert.True(t, syncErrors.IsConnectivity(err))
	assert.ErrorIs(t, err, ErrOffline)
	assert.Equal(t, int64(1), tg.Calls())
}
