package offlinekit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	syncErrors "github.com/c0deZ3R0/go-offline-kit/errors"
	"github.com/c0deZ3R0/go-offline-kit/eventbus"
	"github.com/c0deZ3R0/go-offline-kit/record"
	"github.com/c0deZ3R0/go-offline-kit/storage"
	"github.com/c0deZ3R0/go-offline-kit/transport"
)

// Write sends a create, update or delete to the remote. A write the remote
// accepts is applied to the local store and reported StatusSynced. A write
// that cannot reach the remote, or that the remote refuses for any reason
// other than a revision conflict, is queued and reported StatusQueued. A
// conflict is resolved once by merging the caller's fields over the remote
// copy; if the retry conflicts too the write is queued and reported
// StatusConflict.
//
// A create without an id gets a random one.
//
// Unlike every other write, a write to a record that already has queued
// operations is not attempted against the remote first: it is queued behind
// them and reported StatusQueued, so it can never reach the remote ahead of an
// earlier write to the same record.
func (e *Engine) Write(ctx context.Context, c record.Collection, action record.Action, rec record.Record) (WriteResult, error) {
	if err := e.check(syncErrors.OpWrite); err != nil {
		return WriteResult{}, err
	}
	path, err := e.validCollection(syncErrors.OpWrite, c)
	if err != nil {
		return WriteResult{}, err
	}
	if action.Method() == "" {
		return WriteResult{}, syncErrors.NewValidationError(syncErrors.OpWrite, fmt.Errorf("unknown action %v", action))
	}
	rec = rec.Clone()
	rec.Collection = c
	if rec.ID == "" {
		if action != record.ActionCreate {
			return WriteResult{}, syncErrors.NewValidationError(syncErrors.OpWrite, fmt.Errorf("%s requires a record id", action))
		}
		rec.ID = uuid.NewString()
	}

	start := e.now()
	defer func() { e.metrics.RecordSyncDuration("write", time.Since(start)) }()

	key := ""
	if e.idempotencyKeys {
		key = uuid.NewString()
	}
	req, err := buildRequest(path, action, rec, key)
	if err != nil {
		return WriteResult{}, err
	}

	var out outbox
	defer e.flush(&out)
	unlock := e.lock(c)
	defer unlock()

	behind, err := e.hasPending(ctx, c, rec.ID)
	if err != nil {
		return WriteResult{}, err
	}
	if behind {
		e.logger.Debug("Record has queued operations, queueing write behind them",
			"collection", c.String(), "id", rec.ID)
		seq, err := e.enqueue(ctx, c, rec.ID, req, &out)
		if err != nil {
			return WriteResult{}, err
		}
		return WriteResult{Status: StatusQueued, Record: rec, Seq: seq}, nil
	}

	d, err := e.deliver(ctx, c, path, action, rec, req)
	if err != nil {
		e.metrics.RecordSyncErrors("write", errorType(err))
		return WriteResult{}, err
	}

	switch d.outcome {
	case outcomeSynced, outcomeResolved:
		resolved := d.outcome == outcomeResolved
		if resolved {
			e.metrics.RecordConflicts(1)
		}
		return WriteResult{Status: StatusSynced, Record: d.record, Resolved: resolved}, nil
	case outcomeConflict:
		seq, err := e.enqueue(ctx, c, rec.ID, d.req, &out)
		if err != nil {
			return WriteResult{}, err
		}
		e.logger.Warn("Write conflicted after merge and retry, queued",
			"collection", c.String(), "id", rec.ID, "seq", seq)
		return WriteResult{Status: StatusConflict, Record: rec, Seq: seq, Resolved: true}, nil
	default:
		seq, err := e.enqueue(ctx, c, rec.ID, d.req, &out)
		if err != nil {
			return WriteResult{}, err
		}
		e.logger.Info("Write could not reach the remote, queued",
			"collection", c.String(),
			"id", rec.ID,
			"method", d.req.Method,
			"seq", seq,
			"cause", d.cause)
		return WriteResult{Status: StatusQueued, Record: rec, Seq: seq, Resolved: d.outcome == outcomeResolveFailed}, nil
	}
}

type outcome int

const (
	// outcomeSynced: the remote accepted the request as sent.
	outcomeSynced outcome = iota + 1
	// outcomeResolved: the remote accepted the request after merge and retry.
	outcomeResolved
	// outcomeUnreachable: the remote could not be reached.
	outcomeUnreachable
	// outcomeRejected: the remote answered with a non-conflict failure.
	outcomeRejected
	// outcomeResolveFailed: a conflict was detected but the retry did not land.
	outcomeResolveFailed
	// outcomeConflict: the retry conflicted again.
	outcomeConflict
)

// delivery is the result of sending one write, including a conflict retry.
type delivery struct {
	outcome outcome
	// record is the applied record on success.
	record record.Record
	// req is the last request sent; it is what gets queued on failure.
	req   transport.Request
	cause error
}

// deliver sends req and, on a conflict, resolves and retries once. Only
// persistence failures, resolver failures and context errors are returned as
// errors; everything the remote does is described by the delivery.
func (e *Engine) deliver(ctx context.Context, c record.Collection, path string, action record.Action, rec record.Record, req transport.Request) (delivery, error) {
	resp, err := e.remote.Do(ctx, req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return delivery{}, ctxErr
		}
		return delivery{outcome: outcomeUnreachable, req: req, cause: err}, nil
	}

	switch {
	case resp.OK(), action == record.ActionDelete && resp.StatusCode == http.StatusNotFound:
		applied, err := e.apply(ctx, c, action, rec, resp, storage.PutReplace)
		if err != nil {
			return delivery{}, err
		}
		return delivery{outcome: outcomeSynced, record: applied, req: req}, nil
	case resp.Conflict():
		return e.resolveAndRetry(ctx, c, path, action, rec, req)
	default:
		return delivery{outcome: outcomeRejected, req: req, cause: statusError(resp)}, nil
	}
}

func (e *Engine) resolveAndRetry(ctx context.Context, c record.Collection, path string, action record.Action, rec record.Record, req transport.Request) (delivery, error) {
	e.logger.Debug("Write conflicted, fetching remote copy",
		"collection", c.String(), "id", rec.ID, "rev", rec.Rev.String())

	remote, found, err := e.fetchOne(ctx, c, path, rec.ID)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return delivery{}, ctxErr
		}
		return delivery{outcome: outcomeResolveFailed, req: req, cause: err}, nil
	}
	if action == record.ActionDelete && !found {
		applied, err := e.apply(ctx, c, action, rec, nil, storage.PutReplace)
		if err != nil {
			return delivery{}, err
		}
		return delivery{outcome: outcomeResolved, record: applied, req: req}, nil
	}

	merged, err := e.resolver.Resolve(ctx, Conflict{
		Collection:  c,
		Action:      action,
		Local:       rec,
		Remote:      remote,
		RemoteFound: found,
	})
	if err != nil {
		return delivery{}, syncErrors.NewConflictError(syncErrors.OpConflictResolve, err)
	}
	merged.ID = rec.ID
	merged.Collection = c

	retry, err := buildRequest(path, action, merged, req.Header[transport.HeaderIdempotencyKey])
	if err != nil {
		return delivery{}, err
	}
	resp, err := e.remote.Do(ctx, retry)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return delivery{}, ctxErr
		}
		return delivery{outcome: outcomeResolveFailed, req: retry, cause: err}, nil
	}

	switch {
	case resp.OK(), action == record.ActionDelete && resp.StatusCode == http.StatusNotFound:
		applied, err := e.apply(ctx, c, action, merged, resp, storage.PutMerge)
		if err != nil {
			return delivery{}, err
		}
		e.logger.Info("Conflict resolved",
			"collection", c.String(), "id", rec.ID, "rev", applied.Rev.String())
		return delivery{outcome: outcomeResolved, record: applied, req: retry}, nil
	case resp.Conflict():
		return delivery{outcome: outcomeConflict, req: retry, cause: syncErrors.NewConflictError(syncErrors.OpConflictResolve, statusError(resp))}, nil
	default:
		return delivery{outcome: outcomeResolveFailed, req: retry, cause: statusError(resp)}, nil
	}
}

// apply writes the remote's answer to the local store and drops cached reads
// of the collection. resp may be nil for deletes.
func (e *Engine) apply(ctx context.Context, c record.Collection, action record.Action, sent record.Record, resp *transport.Response, mode storage.PutMode) (record.Record, error) {
	defer e.cache.invalidate(c)

	if action == record.ActionDelete {
		if err := e.store.Delete(ctx, c, sent.ID); err != nil {
			return record.Record{}, persistenceError(syncErrors.OpStore, err)
		}
		return sent, nil
	}

	stored := sent
	if resp != nil {
		if env, err := resp.Envelope(); err == nil {
			if recs, err := record.DecodeRecords(c, env.Data); err == nil && len(recs) == 1 {
				stored = recs[0]
			}
		}
	}
	if stored.ID == "" {
		stored.ID = sent.ID
	}
	stored.Collection = c
	if err := e.store.Put(ctx, c, stored, mode); err != nil {
		return record.Record{}, persistenceError(syncErrors.OpStore, err)
	}
	if mode == storage.PutMerge {
		if merged, found, err := e.store.Get(ctx, c, stored.ID); err == nil && found {
			stored = merged
		}
	}
	return stored, nil
}

func (e *Engine) enqueue(ctx context.Context, c record.Collection, id string, req transport.Request, out *outbox) (int64, error) {
	op := record.PendingOperation{
		Collection:     c,
		RecordID:       id,
		Method:         req.Method,
		URL:            req.Path,
		Header:         req.Header,
		Body:           req.Body,
		EnqueuedAt:     e.now(),
		IdempotencyKey: req.Header[transport.HeaderIdempotencyKey],
	}
	seq, err := e.store.Enqueue(ctx, op)
	if err != nil {
		return 0, persistenceError(syncErrors.OpEnqueue, err)
	}
	e.metrics.RecordQueued(c.String())
	out.add(eventbus.Event{
		Type:       eventbus.EventRequestQueued,
		Collection: c,
		RecordID:   id,
		Method:     req.Method,
		Path:       req.Path,
		Seq:        seq,
	})
	return seq, nil
}

// hasPending reports whether (c, id) has operations waiting in the log.
func (e *Engine) hasPending(ctx context.Context, c record.Collection, id string) (bool, error) {
	ops, err := e.store.List(ctx)
	if err != nil {
		return false, persistenceError(syncErrors.OpLoad, err)
	}
	for _, op := range ops {
		if op.Collection == c && op.RecordID == id {
			return true, nil
		}
	}
	return false, nil
}

// buildRequest shapes a write: POST endpoint, PUT endpoint/id, DELETE endpoint/id.
func buildRequest(path string, action record.Action, rec record.Record, idempotencyKey string) (transport.Request, error) {
	req := transport.Request{Method: action.Method(), Header: make(map[string]string)}
	if idempotencyKey != "" {
		req.Header[transport.HeaderIdempotencyKey] = idempotencyKey
	}

	switch action {
	case record.ActionCreate:
		req.Path = path
	case record.ActionUpdate, record.ActionDelete:
		req.Path = recordPath(path, rec.ID)
		if !rec.Rev.IsZero() {
			req.Header[transport.HeaderIfMatch] = rec.Rev.String()
		}
	}

	if action != record.ActionDelete {
		body, err := json.Marshal(rec)
		if err != nil {
			return transport.Request{}, syncErrors.NewValidationError(syncErrors.OpWrite, fmt.Errorf("encode record %s: %w", rec.ID, err))
		}
		req.Body = body
		req.Header[transport.HeaderContentType] = "application/json"
	}
	return req, nil
}

func statusError(resp *transport.Response) error {
	env, _ := resp.Envelope()
	return &fetchError{status: resp.StatusCode, msg: env.Error}
}

func errorType(err error) string {
	switch {
	case errors.Is(err, context.Canceled):
		return "context_canceled"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case syncErrors.IsPersistence(err):
		return "persistence"
	case syncErrors.IsConflict(err):
		return "conflict"
	case syncErrors.IsValidation(err):
		return "validation"
	default:
		return "other"
	}
}
