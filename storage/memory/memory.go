// Package memory provides a volatile storage.Backend kept in process memory.
package memory

import (
	"context"
	"sort"
	"sync"

	syncErrors "github.com/c0deZ3R0/go-offline-kit/errors"
	"github.com/c0deZ3R0/go-offline-kit/record"
	"github.com/c0deZ3R0/go-offline-kit/storage"
)

// Store is a map-backed storage.Backend. Its zero value is not usable; call New.
type Store struct {
	mu      sync.RWMutex
	closed  bool
	records map[record.Collection]map[string]record.Record
	ops     []record.PendingOperation
	nextSeq int64
}

var _ storage.Backend = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{
		records: make(map[record.Collection]map[string]record.Record),
		nextSeq: 1,
	}
}

func (s *Store) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.closed {
		return syncErrors.WrapPersistence(storage.ErrClosed, "memory.Store", "storage/memory")
	}
	return nil
}

func (s *Store) Put(ctx context.Context, c record.Collection, rec record.Record, mode storage.PutMode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return err
	}
	s.putLocked(c, rec, mode)
	return nil
}

func (s *Store) putLocked(c record.Collection, rec record.Record, mode storage.PutMode) {
	bucket, ok := s.records[c]
	if !ok {
		bucket = make(map[string]record.Record)
		s.records[c] = bucket
	}
	rec.Collection = c
	if existing, found := bucket[rec.ID]; found && mode == storage.PutMerge {
		rec = existing.Merge(rec)
	} else {
		rec = rec.Clone()
	}
	bucket[rec.ID] = rec
}

func (s *Store) PutMany(ctx context.Context, c record.Collection, recs []record.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return err
	}
	for _, rec := range recs {
		s.putLocked(c, rec, storage.PutReplace)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, c record.Collection, id string) (record.Record, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx); err != nil {
		return record.Record{}, false, err
	}
	rec, ok := s.records[c][id]
	if !ok {
		return record.Record{}, false, nil
	}
	return rec.Clone(), true, nil
}

func (s *Store) GetAll(ctx context.Context, c record.Collection) ([]record.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	bucket := s.records[c]
	out := make([]record.Record, 0, len(bucket))
	for _, rec := range bucket {
		out = append(out, rec.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) Delete(ctx context.Context, c record.Collection, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return err
	}
	delete(s.records[c], id)
	return nil
}

func (s *Store) Clear(ctx context.Context, c record.Collection) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return err
	}
	delete(s.records, c)
	return nil
}

func (s *Store) Count(ctx context.Context, c record.Collection) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx); err != nil {
		return 0, err
	}
	return len(s.records[c]), nil
}

func (s *Store) Enqueue(ctx context.Context, op record.PendingOperation) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return 0, err
	}
	op = cloneOp(op)
	op.Seq = s.nextSeq
	s.nextSeq++
	s.ops = append(s.ops, op)
	return op.Seq, nil
}

func (s *Store) List(ctx context.Context) ([]record.PendingOperation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	out := make([]record.PendingOperation, len(s.ops))
	for i, op := range s.ops {
		out[i] = cloneOp(op)
	}
	return out, nil
}

// cloneOp copies the header map and body so callers never share them with the log.
func cloneOp(op record.PendingOperation) record.PendingOperation {
	op.Body = append([]byte(nil), op.Body...)
	if op.Header != nil {
		h := make(map[string]string, len(op.Header))
		for k, v := range op.Header {
			h[k] = v
		}
		op.Header = h
	}
	return op
}

func (s *Store) Remove(ctx context.Context, seq int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return err
	}
	for i, op := range s.ops {
		if op.Seq == seq {
			s.ops = append(s.ops[:i], s.ops[i+1:]...)
			break
		}
	}
	return nil
}

func (s *Store) Len(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx); err != nil {
		return 0, err
	}
	return len(s.ops), nil
}

// ClearOperations drops every pending operation. Sequence numbers keep
// increasing afterwards.
func (s *Store) ClearOperations(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return err
	}
	s.ops = nil
	return nil
}

func (s *Store) ClearAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return err
	}
	s.records = make(map[record.Collection]map[string]record.Record)
	s.ops = nil
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
