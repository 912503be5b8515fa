// Package devserver is a reference implementation of the remote REST service:
// revisioned in-memory documents behind one endpoint per collection, with
// fault injection for exercising offline behavior.
package devserver

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/c0deZ3R0/go-offline-kit/logging"
	"github.com/c0deZ3R0/go-offline-kit/record"
	"github.com/c0deZ3R0/go-offline-kit/transport"
	"github.com/c0deZ3R0/go-offline-kit/transport/httptransport"
)

// HealthPath answers 200 while the server is reachable.
const HealthPath = "/api/health"

// Request is one call the server received, recorded in arrival order.
type Request struct {
	Method         string
	Path           string
	Collection     record.Collection
	RecordID       string
	IdempotencyKey string
	At             time.Time
}

type storedResponse struct {
	code    int
	payload interface{}
}

// Server holds the documents and the fault switches.
type Server struct {
	mu           sync.Mutex
	docs         map[record.Collection]map[string]record.Record
	endpoints    record.Endpoints
	idempotent   map[string]storedResponse
	requests     []Request
	unavailable  bool
	failNext     int
	conflictNext map[string]int
	latency      time.Duration

	options *httptransport.ServerOptions
	logger  *slog.Logger
	router  chi.Router
}

// Option configures a Server.
type Option func(*Server)

// WithEndpoints serves collections under custom paths.
func WithEndpoints(e record.Endpoints) Option {
	return func(s *Server) {
		s.endpoints = e
	}
}

// WithLogger sets the request logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		s.logger = l
	}
}

// WithServerOptions sets body limits and response compression.
func WithServerOptions(opts *httptransport.ServerOptions) Option {
	return func(s *Server) {
		s.options = opts
	}
}

// New returns an empty server.
func New(opts ...Option) *Server {
	s := &Server{
		docs:         make(map[record.Collection]map[string]record.Record),
		endpoints:    record.DefaultEndpoints(),
		idempotent:   make(map[string]storedResponse),
		conflictNext: make(map[string]int),
		options:      httptransport.DefaultServerOptions(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logging.Default().WithComponent(logging.Component("devserver")).Logger
	}
	s.router = s.routes()
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)
	r.Use(s.faults)

	r.Get(HealthPath, func(w http.ResponseWriter, r *http.Request) {
		s.writeJSON(w, r, http.StatusOK, envelope(map[string]string{"status": "ok"}))
	})

	for _, c := range record.All() {
		path, err := s.endpoints.Path(c)
		if err != nil {
			continue
		}
		c := c
		r.Route(path, func(r chi.Router) {
			r.Get("/", func(w http.ResponseWriter, r *http.Request) { s.list(w, r, c) })
			r.Post("/", func(w http.ResponseWriter, r *http.Request) { s.create(w, r, c) })
			r.Get("/{id}", func(w http.ResponseWriter, r *http.Request) { s.get(w, r, c) })
			r.Put("/{id}", func(w http.ResponseWriter, r *http.Request) { s.update(w, r, c) })
			r.Delete("/{id}", func(w http.ResponseWriter, r *http.Request) { s.remove(w, r, c) })
		})
	}
	return r
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("request served",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.String("request_id", middleware.GetReqID(r.Context())),
			slog.Duration("duration", time.Since(start)))
	})
}

func (s *Server) faults(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		unavailable := s.unavailable
		fail := false
		if !unavailable && s.failNext > 0 && r.URL.Path != HealthPath {
			s.failNext--
			fail = true
		}
		latency := s.latency
		s.mu.Unlock()

		if latency > 0 {
			select {
			case <-time.After(latency):
			case <-r.Context().Done():
				return
			}
		}
		switch {
		case unavailable:
			s.writeError(w, r, http.StatusServiceUnavailable, "service unavailable")
		case fail:
			s.writeError(w, r, http.StatusInternalServerError, "injected failure")
		default:
			next.ServeHTTP(w, r)
		}
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, code int, payload interface{}) {
	httptransport.WriteJSON(w, r, code, payload, s.options)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, code int, message string) {
	httptransport.WriteError(w, r, code, message, s.options)
}

func envelope(data interface{}) map[string]interface{} {
	return map[string]interface{}{"success": true, "data": data}
}

// record logs the request and returns a previously stored response for a
// repeated idempotency key.
func (s *Server) record(r *http.Request, c record.Collection, id string) (storedResponse, bool) {
	key := r.Header.Get(transport.HeaderIdempotencyKey)
	s.requests = append(s.requests, Request{
		Method:         r.Method,
		Path:           r.URL.Path,
		Collection:     c,
		RecordID:       id,
		IdempotencyKey: key,
		At:             time.Now(),
	})
	if key == "" {
		return storedResponse{}, false
	}
	resp, seen := s.idempotent[r.Method+" "+key]
	return resp, seen
}

func (s *Server) remember(r *http.Request, code int, payload interface{}) {
	if key := r.Header.Get(transport.HeaderIdempotencyKey); key != "" {
		s.idempotent[r.Method+" "+key] = storedResponse{code: code, payload: payload}
	}
}

func (s *Server) takeConflict(c record.Collection, id string) bool {
	k := string(c) + "/" + id
	if s.conflictNext[k] > 0 {
		s.conflictNext[k]--
		return true
	}
	return false
}

func newRevision(prev record.Revision) record.Revision {
	return prev.Next(strings.ReplaceAll(uuid.NewString(), "-", ""))
}

func (s *Server) readBody(w http.ResponseWriter, r *http.Request) (record.Record, bool) {
	body, err := httptransport.ReadRequestBody(w, r, s.options)
	if err != nil {
		s.writeError(w, r, httptransport.StatusForBodyError(err), err.Error())
		return record.Record{}, false
	}
	var rec record.Record
	if err := json.Unmarshal(body, &rec); err != nil {
		s.writeError(w, r, http.StatusBadRequest, fmt.Sprintf("invalid document: %v", err))
		return record.Record{}, false
	}
	return rec, true
}

func (s *Server) list(w http.ResponseWriter, r *http.Request, c record.Collection) {
	s.mu.Lock()
	s.record(r, c, "")
	out := s.sorted(c)
	s.mu.Unlock()
	s.writeJSON(w, r, http.StatusOK, envelope(out))
}

func (s *Server) get(w http.ResponseWriter, r *http.Request, c record.Collection) {
	id := chi.URLParam(r, "id")
	s.mu.Lock()
	s.record(r, c, id)
	doc, found := s.docs[c][id]
	s.mu.Unlock()
	if !found {
		s.writeError(w, r, http.StatusNotFound, "missing")
		return
	}
	s.writeJSON(w, r, http.StatusOK, envelope(doc))
}

func (s *Server) create(w http.ResponseWriter, r *http.Request, c record.Collection) {
	rec, valid := s.readBody(w, r)
	if !valid {
		return
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, seen := s.record(r, c, rec.ID); seen {
		s.writeJSON(w, r, prev.code, prev.payload)
		return
	}
	if s.takeConflict(c, rec.ID) {
		s.writeError(w, r, http.StatusConflict, "document update conflict")
		return
	}
	if existing, found := s.docs[c][rec.ID]; found && existing.Rev != rec.Rev {
		s.writeError(w, r, http.StatusConflict, "document update conflict")
		return
	}

	prev := s.docs[c][rec.ID].Rev
	rec.Rev = newRevision(prev)
	rec.Collection = c
	s.put(c, rec)
	payload := envelope(rec)
	code := http.StatusCreated
	if !prev.IsZero() {
		code = http.StatusOK
	}
	s.remember(r, code, payload)
	s.writeJSON(w, r, code, payload)
}

// expectedRev is the revision the caller based its write on: If-Match wins
// over the body's _rev.
func expectedRev(r *http.Request, body record.Revision) record.Revision {
	if h := strings.Trim(r.Header.Get(transport.HeaderIfMatch), `"`); h != "" {
		return record.Revision(h)
	}
	return body
}

func (s *Server) update(w http.ResponseWriter, r *http.Request, c record.Collection) {
	id := chi.URLParam(r, "id")
	rec, valid := s.readBody(w, r)
	if !valid {
		return
	}
	rec.ID = id

	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, seen := s.record(r, c, id); seen {
		s.writeJSON(w, r, prev.code, prev.payload)
		return
	}
	if s.takeConflict(c, id) {
		s.writeError(w, r, http.StatusConflict, "document update conflict")
		return
	}
	existing, found := s.docs[c][id]
	if found && expectedRev(r, rec.Rev) != existing.Rev {
		s.writeError(w, r, http.StatusConflict, "document update conflict")
		return
	}

	rec.Rev = newRevision(existing.Rev)
	rec.Collection = c
	s.put(c, rec)
	code := http.StatusOK
	if !found {
		code = http.StatusCreated
	}
	payload := envelope(rec)
	s.remember(r, code, payload)
	s.writeJSON(w, r, code, payload)
}

func (s *Server) remove(w http.ResponseWriter, r *http.Request, c record.Collection) {
	id := chi.URLParam(r, "id")

	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, seen := s.record(r, c, id); seen {
		s.writeJSON(w, r, prev.code, prev.payload)
		return
	}
	if s.takeConflict(c, id) {
		s.writeError(w, r, http.StatusConflict, "document update conflict")
		return
	}
	existing, found := s.docs[c][id]
	if !found {
		s.writeError(w, r, http.StatusNotFound, "missing")
		return
	}
	if expectedRev(r, "") != existing.Rev {
		s.writeError(w, r, http.StatusConflict, "document update conflict")
		return
	}
	delete(s.docs[c], id)
	payload := envelope(map[string]interface{}{"_id": id, "_rev": string(newRevision(existing.Rev)), "_deleted": true})
	s.remember(r, http.StatusOK, payload)
	s.writeJSON(w, r, http.StatusOK, payload)
}

func (s *Server) put(c record.Collection, rec record.Record) {
	if s.docs[c] == nil {
		s.docs[c] = make(map[string]record.Record)
	}
	s.docs[c][rec.ID] = rec
}

func (s *Server) sorted(c record.Collection) []record.Record {
	out := make([]record.Record, 0, len(s.docs[c]))
	for _, doc := range s.docs[c] {
		out = append(out, doc.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
