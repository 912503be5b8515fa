package offlinekit

import (
	"context"
	"errors"
	"time"

	syncErrors "github.com/c0deZ3R0/go-offline-kit/errors"
	"github.com/c0deZ3R0/go-offline-kit/eventbus"
	"github.com/c0deZ3R0/go-offline-kit/record"
	"github.com/c0deZ3R0/go-offline-kit/storage"
	"github.com/c0deZ3R0/go-offline-kit/transport"
)

// SyncNow replays the operation log in FIFO order. Each entry is reissued
// once; delivered entries are removed and announced with EventRequestSynced,
// the rest stay for the next pass. EventSyncComplete closes the pass.
//
// Passes never overlap: a caller arriving while a pass is running waits for
// it and receives its result. When that pass ends because its owner's context
// was canceled while the waiting caller's context is still live, the waiting
// caller runs a pass of its own.
func (e *Engine) SyncNow(ctx context.Context) (SyncResult, error) {
	if err := e.check(syncErrors.OpReplay); err != nil {
		return SyncResult{}, err
	}
	for {
		var out outbox
		ran := false
		v, err, shared := e.flight.Do("replay", func() (interface{}, error) {
			ran = true
			return e.replay(ctx, &out)
		})
		// publish outside the flight; handlers may call SyncNow
		if ran {
			e.flush(&out)
		}
		if shared && !ran {
			e.logger.Debug("Joined in-flight replay pass")
			if isContextError(err) && ctx.Err() == nil {
				e.logger.Debug("Joined replay pass was canceled by its owner, running again")
				continue
			}
		}
		if err != nil {
			return SyncResult{}, err
		}
		return v.(SyncResult), nil
	}
}

func isContextError(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func (e *Engine) replay(ctx context.Context, out *outbox) (SyncResult, error) {
	result := SyncResult{StartTime: e.now()}

	e.gate.RLock()
	defer e.gate.RUnlock()

	ops, err := e.store.List(ctx)
	if err != nil {
		e.metrics.RecordSyncErrors("replay", errorType(err))
		return result, persistenceError(syncErrors.OpDequeue, err)
	}
	if len(ops) > 0 {
		e.logger.Info("Replaying queued operations", "count", len(ops))
	}

	for _, op := range ops {
		if err := ctx.Err(); err != nil {
			e.logger.Warn("Replay canceled by context",
				"replayed", result.Synced,
				"remaining", len(ops)-result.Attempted)
			e.metrics.RecordSyncErrors("replay", errorType(err))
			return result, err
		}
		result.Attempted++

		delivered, resolved, err := e.replayOne(ctx, op, out)
		if err != nil {
			e.metrics.RecordSyncErrors("replay", errorType(err))
			return result, err
		}
		if !delivered {
			result.Failed++
			continue
		}
		result.Synced++
		if resolved {
			result.ConflictsResolved++
		}
	}

	result.Duration = time.Since(result.StartTime)
	e.lastSync.Store(e.now().UnixNano())
	e.metrics.RecordSyncDuration("replay", result.Duration)
	e.metrics.RecordReplay(result.Synced, result.Failed)
	if result.ConflictsResolved > 0 {
		e.metrics.RecordConflicts(result.ConflictsResolved)
	}
	if result.Attempted > 0 {
		e.logger.Info("Replay pass complete",
			"synced", result.Synced,
			"failed", result.Failed,
			"conflicts_resolved", result.ConflictsResolved,
			"duration", result.Duration)
	}
	out.add(eventbus.Event{Type: eventbus.EventSyncComplete, Synced: result.Synced})
	return result, nil
}

// replayOne reissues op under its collection's lock. delivered means the op
// reached the remote and was removed from the log.
func (e *Engine) replayOne(ctx context.Context, op record.PendingOperation, out *outbox) (delivered, resolved bool, err error) {
	m, ok := e.locks[op.Collection]
	if !ok {
		e.logger.Error("Queued operation names an unknown collection",
			"seq", op.Seq, "collection", op.Collection.String())
		return false, false, nil
	}
	m.Lock()
	defer m.Unlock()

	path, err := e.endpoints.Path(op.Collection)
	if err != nil {
		e.logger.Error("No endpoint for queued operation", "seq", op.Seq, "error", err)
		return false, false, nil
	}

	action := op.Action()
	rec := record.Record{ID: op.RecordID, Collection: op.Collection}
	if len(op.Body) > 0 {
		if recs, err := record.DecodeRecords(op.Collection, op.Body); err == nil && len(recs) == 1 {
			rec = recs[0]
		}
	}
	if rec.ID == "" {
		rec.ID = op.RecordID
	}
	if rev := op.Header[transport.HeaderIfMatch]; rev != "" && rec.Rev.IsZero() {
		rec.Rev = record.Revision(rev)
	}

	req := transport.Request{Method: op.Method, Path: op.URL, Header: op.Header, Body: op.Body}
	d, err := e.deliver(ctx, op.Collection, path, action, rec, req)
	if err != nil {
		return false, false, err
	}

	switch d.outcome {
	case outcomeSynced, outcomeResolved:
		if err := e.store.Remove(ctx, op.Seq); err != nil {
			return false, false, persistenceError(syncErrors.OpDequeue, err)
		}
		out.add(eventbus.Event{
			Type:       eventbus.EventRequestSynced,
			Collection: op.Collection,
			RecordID:   op.RecordID,
			Method:     op.Method,
			Path:       op.URL,
			Seq:        op.Seq,
		})
		return true, d.outcome == outcomeResolved, nil
	default:
		e.logger.Debug("Queued operation not delivered, keeping it",
			"seq", op.Seq,
			"method", op.Method,
			"path", op.URL,
			"cause", d.cause)
		return false, false, nil
	}
}

// Replicate replays the operation log, then refreshes every collection from
// the remote. A local record whose revision is newer than the remote's is
// kept. Collections the remote fails to serve are listed in Unreachable and
// do not fail the call.
func (e *Engine) Replicate(ctx context.Context) (ReplicationResult, error) {
	if err := e.check(syncErrors.OpReplicate); err != nil {
		return ReplicationResult{}, err
	}
	start := e.now()
	defer func() { e.metrics.RecordSyncDuration("replicate", time.Since(start)) }()

	res, err := e.SyncNow(ctx)
	if err != nil {
		return ReplicationResult{}, err
	}
	result := ReplicationResult{Sync: res, Refreshed: make(map[record.Collection]int)}

	var out outbox
	defer e.flush(&out)
	for _, c := range record.All() {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		n, kept, err := e.refresh(ctx, c, &out)
		result.Kept += kept
		if err != nil {
			if syncErrors.IsPersistence(err) || ctx.Err() != nil {
				return result, err
			}
			e.logger.Debug("Collection refresh failed", "collection", c.String(), "error", err)
			result.Unreachable = append(result.Unreachable, c)
			continue
		}
		result.Refreshed[c] = n
	}
	return result, nil
}

func (e *Engine) refresh(ctx context.Context, c record.Collection, out *outbox) (refreshed, kept int, err error) {
	path, err := e.validCollection(syncErrors.OpReplicate, c)
	if err != nil {
		return 0, 0, err
	}
	unlock := e.lock(c)
	defer unlock()

	recs, err := e.fetch(ctx, c, path, "")
	if err != nil {
		return 0, 0, err
	}
	for _, r := range recs {
		local, found, err := e.store.Get(ctx, c, r.ID)
		if err != nil {
			return refreshed, kept, persistenceError(syncErrors.OpLoad, err)
		}
		if found && local.Rev.Compare(r.Rev) > 0 {
			kept++
			continue
		}
		if err := e.store.Put(ctx, c, r, storage.PutReplace); err != nil {
			return refreshed, kept, persistenceError(syncErrors.OpStore, err)
		}
		refreshed++
	}
	e.cache.invalidate(c)
	if refreshed > 0 {
		out.add(eventbus.Event{Type: eventbus.EventDataUpdated, Collection: c})
	}
	return refreshed, kept, nil
}
