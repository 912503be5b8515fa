package httptransport

import (
	"compress/gzip"
	"encoding/json"
	"net/http"
	"strings"
)

// WriteJSON encodes payload and writes it with code, gzipping it when the
// options and the client's Accept-Encoding allow.
func WriteJSON(w http.ResponseWriter, r *http.Request, code int, payload interface{}, options *ServerOptions) {
	response, err := json.Marshal(payload)
	if err != nil {
		WriteError(w, r, http.StatusInternalServerError, "failed to marshal response", options)
		return
	}

	useCompression := false
	if options != nil && options.CompressionEnabled &&
		len(response) >= int(options.CompressionThreshold) {
		if strings.Contains(r.Header.Get("Accept-Encoding"), "gzip") {
			useCompression = true
		}
	}

	w.Header().Set("Content-Type", "application/json")

	if useCompression {
		w.Header().Set("Content-Encoding", "gzip")
		w.Header().Add("Vary", "Accept-Encoding")
		w.WriteHeader(code)

		gz := gzip.NewWriter(w)
		defer gz.Close()
		_, _ = gz.Write(response)
		return
	}
	w.WriteHeader(code)
	_, _ = w.Write(response)
}

// WriteError answers with the remote's failure envelope.
func WriteError(w http.ResponseWriter, r *http.Request, code int, message string, options *ServerOptions) {
	WriteJSON(w, r, code, map[string]interface{}{"success": false, "error": message}, options)
}
