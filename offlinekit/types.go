package offlinekit

import (
	"errors"
	"fmt"
	"time"

	"github.com/c0deZ3R0/go-offline-kit/record"
)

var (
	// ErrNoDataAvailable is wrapped by the error a read returns when the remote
	// failed and the local store has nothing for the request.
	ErrNoDataAvailable = errors.New("offlinekit: no data available")

	// ErrClosed is returned by every call on a closed engine.
	ErrClosed = errors.New("offlinekit: engine is closed")

	// ErrAlreadyStarted is returned by Start on a running engine.
	ErrAlreadyStarted = errors.New("offlinekit: engine already started")
)

// WriteStatus is the outcome of a write.
type WriteStatus int

const (
	// StatusSynced means the remote accepted the write and the local store holds its result.
	StatusSynced WriteStatus = iota + 1
	// StatusQueued means the write is in the operation log awaiting replay.
	StatusQueued
	// StatusConflict means the write conflicted, conflicted again after one
	// merge-and-retry, and was queued.
	StatusConflict
)

func (s WriteStatus) String() string {
	switch s {
	case StatusSynced:
		return "synced"
	case StatusQueued:
		return "queued"
	case StatusConflict:
		return "conflict"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// WriteResult describes a completed Write.
type WriteResult struct {
	Status WriteStatus
	// Record is the remote's copy after a synced write, or the record as sent otherwise.
	Record record.Record
	// Seq is the operation-log sequence when Status is queued or conflict.
	Seq int64
	// Resolved is set when the write went through conflict resolution.
	Resolved bool
}

// Source says where a read's records came from.
type Source int

const (
	SourceNone Source = iota
	SourceRemote
	SourceCache
)

func (s Source) String() string {
	switch s {
	case SourceRemote:
		return "remote"
	case SourceCache:
		return "cache"
	default:
		return "none"
	}
}

// ReadResult carries the records of a read and their origin.
type ReadResult struct {
	Records []record.Record
	Source  Source
	// Memoized is set when a fresh remote result was served from the read cache.
	Memoized bool
}

// Cached reports whether the records came from the local store fallback.
func (r ReadResult) Cached() bool { return r.Source == SourceCache }

// One returns the single record of a by-id read.
func (r ReadResult) One() (record.Record, bool) {
	if len(r.Records) == 0 {
		return record.Record{}, false
	}
	return r.Records[0], true
}

// SyncResult summarizes one replay pass.
type SyncResult struct {
	// Attempted is the number of queued operations the pass reissued.
	Attempted int
	// Synced is the number delivered and removed from the log.
	Synced int
	// Failed is the number left in the log.
	Failed int
	// ConflictsResolved counts operations delivered after a merge-and-retry.
	ConflictsResolved int
	StartTime         time.Time
	Duration          time.Duration
}

// ReplicationResult summarizes Replicate.
type ReplicationResult struct {
	Sync SyncResult
	// Refreshed counts records pulled into the local store per collection.
	Refreshed map[record.Collection]int
	// Kept counts records left alone because the local revision was newer.
	Kept int
	// Unreachable lists collections whose fetch failed.
	Unreachable []record.Collection
}

// Status is a snapshot of the engine's observable state.
type Status struct {
	Online        bool
	ServingCached bool
	Pending       int
	LastSync      time.Time
	Running       bool
}
