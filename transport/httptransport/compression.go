package httptransport

import (
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Body errors and the status a server answers them with:
//   - invalid gzip → 400
//   - compressed or decompressed limit exceeded → 413
//   - unsupported media type or content encoding → 415
var (
	errDecompressedTooLarge = errors.New("decompressed data exceeds maximum size limit")
	errCompressedTooLarge   = errors.New("compressed body too large")
	errUnsupportedMediaType = errors.New("unsupported media type")
	errUnsupportedEncoding  = errors.New("unsupported content encoding")
	errInvalidGzip          = errors.New("invalid gzip data")
	errResponseTooLarge     = errors.New("response body exceeds maximum size limit")
)

// maxDecompressedReader wraps an io.Reader to enforce decompressed size limits
type maxDecompressedReader struct {
	reader   io.Reader
	limit    int64
	consumed int64
}

func (r *maxDecompressedReader) Read(p []byte) (int, error) {
	if r.consumed >= r.limit {
		return 0, errDecompressedTooLarge
	}

	maxRead := r.limit - r.consumed
	if int64(len(p)) > maxRead {
		p = p[:maxRead]
	}

	n, err := r.reader.Read(p)
	r.consumed += int64(n)

	if r.consumed >= r.limit && err == nil {
		// at the limit; one more byte means the body is too large
		var dummy [1]byte
		peekN, peekErr := r.reader.Read(dummy[:])
		if peekN > 0 {
			return n, errDecompressedTooLarge
		}
		if peekErr != nil {
			return n, peekErr
		}
	}

	return n, err
}

// ReadRequestBody reads r's body enforcing Content-Type, Content-Encoding and
// both size limits. Pass the error to StatusForBodyError to pick a status.
func ReadRequestBody(w http.ResponseWriter, r *http.Request, options *ServerOptions) ([]byte, error) {
	if options == nil {
		options = DefaultServerOptions()
	}
	maxRequestSize := options.MaxRequestSize
	if maxRequestSize == 0 {
		maxRequestSize = 10 * 1024 * 1024
	}
	maxDecompressedSize := options.MaxDecompressedSize
	if maxDecompressedSize == 0 {
		maxDecompressedSize = 20 * 1024 * 1024
	}

	contentType := r.Header.Get("Content-Type")
	if contentType != "" && !strings.HasPrefix(contentType, "application/json") {
		return nil, fmt.Errorf("%w: %s", errUnsupportedMediaType, contentType)
	}

	if r.ContentLength > maxRequestSize {
		return nil, fmt.Errorf("%w: %d bytes (max %d)", errCompressedTooLarge, r.ContentLength, maxRequestSize)
	}

	contentEncoding := strings.TrimSpace(strings.ToLower(r.Header.Get("Content-Encoding")))
	if contentEncoding != "" && contentEncoding != "gzip" {
		return nil, fmt.Errorf("%w: %s (only gzip is supported)", errUnsupportedEncoding, contentEncoding)
	}

	if contentEncoding == "" {
		limit := maxRequestSize
		if maxDecompressedSize < limit {
			limit = maxDecompressedSize
		}
		return io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
	}

	gzReader, err := gzip.NewReader(http.MaxBytesReader(w, r.Body, maxRequestSize))
	if err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", errInvalidGzip, err)
	}
	defer gzReader.Close()

	body, err := io.ReadAll(&maxDecompressedReader{reader: gzReader, limit: maxDecompressedSize})
	if err != nil && !errors.Is(err, errDecompressedTooLarge) {
		var maxBytesErr *http.MaxBytesError
		if !errors.As(err, &maxBytesErr) {
			return nil, fmt.Errorf("%w: %v", errInvalidGzip, err)
		}
	}
	return body, err
}

// StatusForBodyError maps a ReadRequestBody error to an HTTP status.
func StatusForBodyError(err error) int {
	var maxBytesErr *http.MaxBytesError
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, errDecompressedTooLarge), errors.Is(err, errCompressedTooLarge), errors.As(err, &maxBytesErr):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, errUnsupportedMediaType), errors.Is(err, errUnsupportedEncoding):
		return http.StatusUnsupportedMediaType
	default:
		return http.StatusBadRequest
	}
}

// readResponseBody reads resp.Body enforcing the client's limits and decoding
// gzip when the server chose it.
func readResponseBody(resp *http.Response, options *ClientOptions) ([]byte, error) {
	maxSize := options.MaxResponseSize
	if maxSize == 0 {
		maxSize = 10 * 1024 * 1024
	}
	maxDecompressed := options.MaxDecompressedResponseSize
	if maxDecompressed == 0 {
		maxDecompressed = 20 * 1024 * 1024
	}

	limited := &maxDecompressedReader{reader: resp.Body, limit: maxSize}
	var reader io.Reader = limited

	if strings.EqualFold(strings.TrimSpace(resp.Header.Get("Content-Encoding")), "gzip") {
		gz, err := gzip.NewReader(limited)
		if err == io.EOF {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", errInvalidGzip, err)
		}
		defer gz.Close()
		reader = &maxDecompressedReader{reader: gz, limit: maxDecompressed}
	}

	body, err := io.ReadAll(reader)
	if errors.Is(err, errDecompressedTooLarge) {
		return nil, fmt.Errorf("%w: %v", errResponseTooLarge, err)
	}
	return body, err
}
