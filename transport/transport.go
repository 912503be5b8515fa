// Package transport defines how the engine talks to the remote REST service.
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// Header names the engine sets on outgoing writes.
const (
	HeaderContentType    = "Content-Type"
	HeaderIdempotencyKey = "Idempotency-Key"
	HeaderIfMatch        = "If-Match"
)

// Request is one call to the remote. Path is relative to the remote's base URL.
type Request struct {
	Method string
	Path   string
	Header map[string]string
	Body   []byte
}

// Response is what came back. A Response is returned for every status code;
// only failures to reach the remote or read its answer are errors.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// OK reports a 2xx status.
func (r *Response) OK() bool { return r.StatusCode >= 200 && r.StatusCode <= 299 }

// Conflict reports a revision mismatch.
func (r *Response) Conflict() bool { return r.StatusCode == http.StatusConflict }

// Envelope is the remote's {success, data, error} wrapper.
type Envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// Envelope decodes the body. An empty body yields a zero envelope.
func (r *Response) Envelope() (Envelope, error) {
	var env Envelope
	if len(r.Body) == 0 {
		return env, nil
	}
	if err := json.Unmarshal(r.Body, &env); err != nil {
		return env, fmt.Errorf("decode response envelope: %w", err)
	}
	return env, nil
}

// Remote sends requests to the remote service. Do returns an error only when
// the remote could not be reached; such errors satisfy errors.IsConnectivity.
type Remote interface {
	Do(ctx context.Context, req Request) (*Response, error)
	Close() error
}
