package httptransport

import (
	"log/slog"
	"net/http"
	"time"
)

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client. Its Timeout takes precedence
// over RequestTimeout.
func WithHTTPClient(cl *http.Client) ClientOption {
	return func(c *Client) {
		c.http = cl
	}
}

// WithLogger sets the client logger.
func WithLogger(l *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = l
	}
}

// WithClientOptions replaces the whole option set.
func WithClientOptions(opts *ClientOptions) ClientOption {
	return func(c *Client) {
		c.options = opts
	}
}

// WithClientCompression enables or disables request/response compression
func WithClientCompression(enabled bool) ClientOption {
	return func(c *Client) {
		c.options.CompressionEnabled = enabled
	}
}

// WithGzipMinBytes sets the request size above which bodies are gzipped.
func WithGzipMinBytes(n int) ClientOption {
	return func(c *Client) {
		c.options.GzipMinBytes = n
	}
}

// WithMaxResponseSize sets the maximum allowed size of response bodies
func WithMaxResponseSize(size int64) ClientOption {
	return func(c *Client) {
		c.options.MaxResponseSize = size
	}
}

// WithClientTimeout sets the timeout for all requests
func WithClientTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.options.RequestTimeout = timeout
	}
}

// WithDefaultHeader adds a header sent on every request.
func WithDefaultHeader(key, value string) ClientOption {
	return func(c *Client) {
		if c.defaultHeader == nil {
			c.defaultHeader = make(map[string]string)
		}
		c.defaultHeader[key] = value
	}
}

// ServerOption is a function that configures a ServerOptions struct
type ServerOption func(*ServerOptions)

// WithMaxRequestSize sets the maximum allowed size of incoming request bodies
func WithMaxRequestSize(size int64) ServerOption {
	return func(opts *ServerOptions) {
		opts.MaxRequestSize = size
	}
}

// WithMaxDecompressedSize sets the maximum allowed size of decompressed request bodies
func WithMaxDecompressedSize(size int64) ServerOption {
	return func(opts *ServerOptions) {
		opts.MaxDecompressedSize = size
	}
}

// WithCompression enables or disables response compression
func WithCompression(enabled bool) ServerOption {
	return func(opts *ServerOptions) {
		opts.CompressionEnabled = enabled
	}
}

// WithCompressionThreshold sets the minimum size for response compression
func WithCompressionThreshold(size int64) ServerOption {
	return func(opts *ServerOptions) {
		opts.CompressionThreshold = size
	}
}

// ApplyServerOptions returns the defaults with opts applied.
func ApplyServerOptions(opts ...ServerOption) *ServerOptions {
	options := DefaultServerOptions()
	for _, opt := range opts {
		opt(options)
	}
	return options
}
