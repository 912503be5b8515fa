// Package storage defines the local persistence contracts: a keyed record store
// per collection and a FIFO log of writes waiting to reach the remote.
package storage

import (
	"context"
	"errors"

	"github.com/c0deZ3R0/go-offline-kit/record"
)

// PutMode selects how Put treats an existing record with the same id.
type PutMode int

const (
	// PutReplace overwrites the stored record.
	PutReplace PutMode = iota
	// PutMerge lays the incoming fields over the stored ones and takes the
	// incoming revision.
	PutMerge
)

func (m PutMode) String() string {
	if m == PutMerge {
		return "merge"
	}
	return "replace"
}

// ErrClosed is returned by every operation on a closed backend.
var ErrClosed = errors.New("storage: backend is closed")

// LocalStore keeps the latest known copy of each record, keyed by (collection, id).
// Absence is reported through the found flag, never as an error.
type LocalStore interface {
	Put(ctx context.Context, c record.Collection, rec record.Record, mode PutMode) error
	PutMany(ctx context.Context, c record.Collection, recs []record.Record) error
	Get(ctx context.Context, c record.Collection, id string) (record.Record, bool, error)
	GetAll(ctx context.Context, c record.Collection) ([]record.Record, error)
	Delete(ctx context.Context, c record.Collection, id string) error
	Clear(ctx context.Context, c record.Collection) error
	Count(ctx context.Context, c record.Collection) (int, error)
}

// OperationLog is the durable FIFO of pending writes.
// Enqueue assigns strictly increasing sequence numbers; List returns entries
// in that order.
type OperationLog interface {
	Enqueue(ctx context.Context, op record.PendingOperation) (int64, error)
	List(ctx context.Context) ([]record.PendingOperation, error)
	Remove(ctx context.Context, seq int64) error
	Len(ctx context.Context) (int, error)
	ClearOperations(ctx context.Context) error
}

// Backend bundles both contracts over one physical store.
type Backend interface {
	LocalStore
	OperationLog

	// ClearAll empties every collection and the operation log atomically.
	ClearAll(ctx context.Context) error
	Close() error
}
