// Package httptransport implements transport.Remote over HTTP with gzip
// support and size limits in both directions.
package httptransport

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	syncErrors "github.com/c0deZ3R0/go-offline-kit/errors"
	"github.com/c0deZ3R0/go-offline-kit/logging"
	"github.com/c0deZ3R0/go-offline-kit/transport"
)

// Client sends engine requests to a REST remote rooted at baseURL.
type Client struct {
	baseURL       string
	http          *http.Client
	logger        *slog.Logger
	options       *ClientOptions
	defaultHeader map[string]string
}

var _ transport.Remote = (*Client)(nil)

// newHTTPClient creates an HTTP client that leaves gzip handling to us so
// both compressed and decompressed size limits apply.
func newHTTPClient(opts *ClientOptions) *http.Client {
	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.DisableCompression = true
	return &http.Client{Transport: tr, Timeout: opts.RequestTimeout}
}

// NewClient returns a Client for baseURL, e.g. "http://localhost:8080".
// Invalid options fall back to DefaultClientOptions.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		options: DefaultClientOptions(),
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.options == nil {
		c.options = DefaultClientOptions()
	}
	if err := ValidateClientOptions(c.options); err != nil {
		c.options = DefaultClientOptions()
	}
	if c.logger == nil {
		c.logger = logging.Default().WithComponent(logging.Component("transport")).Logger
	}
	if c.http == nil {
		c.http = newHTTPClient(c.options)
	}
	return c
}

// BaseURL returns the base URL for the client
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Options returns the effective option set.
func (c *Client) Options() ClientOptions {
	return *c.options
}

// Do sends req. Any status code produces a Response; failures to reach the
// remote or to read its answer are connectivity errors.
func (c *Client) Do(ctx context.Context, req transport.Request) (*transport.Response, error) {
	url := c.baseURL + "/" + strings.TrimLeft(req.Path, "/")

	payload := req.Body
	compressed := false
	if c.options.CompressionEnabled && len(payload) > 0 && len(payload) > c.options.GzipMinBytes {
		var buf bytes.Buffer
		gw := gzip.NewWriter(&buf)
		if _, err := gw.Write(payload); err != nil {
			return nil, syncErrors.NewWithComponent(syncErrors.OpTransport, "transport", fmt.Errorf("failed to compress request: %w", err))
		}
		if err := gw.Close(); err != nil {
			return nil, syncErrors.NewWithComponent(syncErrors.OpTransport, "transport", fmt.Errorf("failed to close gzip writer: %w", err))
		}
		c.logger.Debug("Compressed request",
			slog.Int("original_size", len(payload)),
			slog.Int("compressed_size", buf.Len()))
		payload = buf.Bytes()
		compressed = true
	}

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, url, body)
	if err != nil {
		return nil, syncErrors.NewValidationError(syncErrors.OpTransport, fmt.Errorf("failed to create request: %w", err))
	}

	for k, v := range c.defaultHeader {
		httpReq.Header.Set(k, v)
	}
	for k, v := range req.Header {
		httpReq.Header.Set(k, v)
	}
	if len(req.Body) > 0 && httpReq.Header.Get(transport.HeaderContentType) == "" {
		httpReq.Header.Set(transport.HeaderContentType, "application/json")
	}
	if compressed {
		httpReq.Header.Set("Content-Encoding", "gzip")
	}
	if c.options.CompressionEnabled {
		httpReq.Header.Set("Accept-Encoding", "gzip")
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		c.logger.Debug("Request failed",
			slog.String("method", req.Method),
			slog.String("url", url),
			slog.String("error", err.Error()))
		return nil, syncErrors.NewConnectivityError(syncErrors.OpTransport, fmt.Errorf("network error: %w", err))
	}
	defer resp.Body.Close()

	data, err := readResponseBody(resp, c.options)
	if err != nil {
		if errors.Is(err, errResponseTooLarge) || errors.Is(err, errInvalidGzip) {
			return nil, syncErrors.NewWithComponent(syncErrors.OpTransport, "transport", err)
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, syncErrors.NewConnectivityError(syncErrors.OpTransport, fmt.Errorf("failed to read response: %w", err))
	}

	c.logger.Debug("Request completed",
		slog.String("method", req.Method),
		slog.String("url", url),
		slog.Int("status_code", resp.StatusCode),
		slog.Int("response_size", len(data)))

	return &transport.Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       data,
	}, nil
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.http.CloseIdleConnections()
	return nil
}
