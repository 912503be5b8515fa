package offlinekit

import (
	"context"

	"github.com/c0deZ3R0/go-offline-kit/record"
)

var (
	_ ConflictResolver = (*ShallowMergeResolver)(nil)
	_ ConflictResolver = (*RemoteWinsResolver)(nil)
	_ ConflictResolver = (*LocalWinsResolver)(nil)
)

// Conflict carries both sides of a rejected write.
type Conflict struct {
	Collection record.Collection
	Action     record.Action
	// Local is the record the caller tried to write.
	Local record.Record
	// Remote is the remote's current copy. RemoteFound is false when the
	// remote no longer has the record.
	Remote      record.Record
	RemoteFound bool
}

// ConflictResolver decides what to send on the single retry after a conflict.
// The returned record's revision is sent as the expected revision.
type ConflictResolver interface {
	Resolve(ctx context.Context, c Conflict) (record.Record, error)
}

// ShallowMergeResolver lays the caller's fields over the remote copy.
type ShallowMergeResolver struct{}

func (r *ShallowMergeResolver) Resolve(ctx context.Context, c Conflict) (record.Record, error) {
	if !c.RemoteFound {
		out := c.Local.Clone()
		out.Rev = ""
		return out, nil
	}
	out := c.Remote.Merge(record.Record{Fields: c.Local.Fields})
	out.ID = c.Local.ID
	return out, nil
}

// RemoteWinsResolver resends the remote copy unchanged, discarding the caller's fields.
type RemoteWinsResolver struct{}

func (r *RemoteWinsResolver) Resolve(ctx context.Context, c Conflict) (record.Record, error) {
	if !c.RemoteFound {
		out := c.Local.Clone()
		out.Rev = ""
		return out, nil
	}
	return c.Remote.Clone(), nil
}

// LocalWinsResolver replaces the remote copy with the caller's fields.
type LocalWinsResolver struct{}

func (r *LocalWinsResolver) Resolve(ctx context.Context, c Conflict) (record.Record, error) {
	out := c.Local.Clone()
	out.Rev = c.Remote.Rev
	if !c.RemoteFound {
		out.Rev = ""
	}
	return out, nil
}
