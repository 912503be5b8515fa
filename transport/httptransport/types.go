package httptransport

import (
	"fmt"
	"time"
)

// ServerOptions configures the server-side helpers used by HTTP remotes.
type ServerOptions struct {
	// MaxRequestSize is the maximum allowed size of incoming request bodies in bytes (compressed)
	// If 0, defaults to 10MB
	MaxRequestSize int64

	// MaxDecompressedSize is the maximum allowed size of decompressed request bodies in bytes
	// If 0, defaults to 20MB
	MaxDecompressedSize int64

	// CompressionEnabled gzips responses larger than CompressionThreshold
	// when the client accepts it.
	CompressionEnabled bool

	// CompressionThreshold is the minimum size in bytes before responses are compressed
	CompressionThreshold int64
}

// DefaultServerOptions returns the default server options
func DefaultServerOptions() *ServerOptions {
	return &ServerOptions{
		MaxRequestSize:       10 * 1024 * 1024, // 10MB
		MaxDecompressedSize:  20 * 1024 * 1024, // 20MB
		CompressionEnabled:   true,
		CompressionThreshold: 1024, // 1KB
	}
}

// ClientOptions configures the HTTP client.
type ClientOptions struct {
	// CompressionEnabled gzips request bodies above GzipMinBytes and asks
	// for gzip responses.
	CompressionEnabled bool

	// GzipMinBytes is the request size above which bodies are compressed.
	// 0 compresses every non-empty body.
	GzipMinBytes int

	// MaxResponseSize is the maximum allowed size of response bodies in bytes (compressed)
	// If 0, defaults to 10MB
	MaxResponseSize int64

	// MaxDecompressedResponseSize bounds gzip responses after decoding.
	// If 0, defaults to 20MB
	MaxDecompressedResponseSize int64

	// RequestTimeout bounds a single request. Exceeding it is a connectivity failure.
	// If 0, defaults to 30 seconds
	RequestTimeout time.Duration
}

// DefaultClientOptions returns the default client options
func DefaultClientOptions() *ClientOptions {
	return &ClientOptions{
		CompressionEnabled:          true,
		GzipMinBytes:                1024,
		MaxResponseSize:             10 * 1024 * 1024, // 10MB
		MaxDecompressedResponseSize: 20 * 1024 * 1024, // 20MB
		RequestTimeout:              30 * time.Second,
	}
}

// ValidateClientOptions rejects negative limits.
func ValidateClientOptions(opts *ClientOptions) error {
	if opts == nil {
		return fmt.Errorf("client options cannot be nil")
	}
	if opts.MaxResponseSize < 0 {
		return fmt.Errorf("MaxResponseSize cannot be negative: %d", opts.MaxResponseSize)
	}
	if opts.MaxDecompressedResponseSize < 0 {
		return fmt.Errorf("MaxDecompressedResponseSize cannot be negative: %d", opts.MaxDecompressedResponseSize)
	}
	if opts.GzipMinBytes < 0 {
		return fmt.Errorf("GzipMinBytes cannot be negative: %d", opts.GzipMinBytes)
	}
	if opts.RequestTimeout < 0 {
		return fmt.Errorf("RequestTimeout cannot be negative: %v", opts.RequestTimeout)
	}
	return nil
}
