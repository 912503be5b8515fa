package devserver

import (
	"time"

	"github.com/c0deZ3R0/go-offline-kit/record"
)

// SetUnavailable makes every route, health included, answer 503.
func (s *Server) SetUnavailable(unavailable bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unavailable = unavailable
}

// FailNext makes the next n non-health requests answer 500.
func (s *Server) FailNext(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = n
}

// ConflictNext makes the next n writes to (c, id) answer 409 regardless of revision.
func (s *Server) ConflictNext(c record.Collection, id string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conflictNext[string(c)+"/"+id] = n
}

// SetLatency delays every response by d.
func (s *Server) SetLatency(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latency = d
}

// Seed stores docs directly, assigning fresh revisions, and returns them.
func (s *Server) Seed(c record.Collection, docs ...record.Record) []record.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]record.Record, 0, len(docs))
	for _, d := range docs {
		d = d.Clone()
		d.Collection = c
		d.Rev = newRevision(s.docs[c][d.ID].Rev)
		s.put(c, d)
		out = append(out, d.Clone())
	}
	return out
}

// Doc returns the stored copy of (c, id).
func (s *Server) Doc(c record.Collection, id string) (record.Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, found := s.docs[c][id]
	return d.Clone(), found
}

// Docs returns every document in c ordered by id.
func (s *Server) Docs(c record.Collection) []record.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sorted(c)
}

// Requests returns the recorded requests in arrival order. Health checks and
// requests rejected by fault injection are not recorded.
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Request, len(s.requests))
	copy(out, s.requests)
	return out
}

// ResetRequests forgets the recorded requests.
func (s *Server) ResetRequests() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = nil
}
