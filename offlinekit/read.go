package offlinekit

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	syncErrors "github.com/c0deZ3R0/go-offline-kit/errors"
	"github.com/c0deZ3R0/go-offline-kit/eventbus"
	"github.com/c0deZ3R0/go-offline-kit/record"
	"github.com/c0deZ3R0/go-offline-kit/storage"
	"github.com/c0deZ3R0/go-offline-kit/transport"
)

// Read fetches one record (id != "") or the whole collection (id == "") from
// the remote and writes the result through to the local store. When the
// remote fails it serves the local copy instead, marked SourceCache. When the
// local store has nothing either, the error wraps ErrNoDataAvailable and
// satisfies errors.IsNotFoundLocally.
func (e *Engine) Read(ctx context.Context, c record.Collection, id string) (ReadResult, error) {
	if err := e.check(syncErrors.OpRead); err != nil {
		return ReadResult{}, err
	}
	path, err := e.validCollection(syncErrors.OpRead, c)
	if err != nil {
		return ReadResult{}, err
	}
	start := e.now()
	defer func() { e.metrics.RecordSyncDuration("read", time.Since(start)) }()

	var out outbox
	defer e.flush(&out)
	unlock := e.lock(c)
	defer unlock()

	if recs, ok := e.cache.get(c, id); ok {
		e.servingCached.Store(false)
		return ReadResult{Records: recs, Source: SourceRemote, Memoized: true}, nil
	}

	recs, err := e.fetch(ctx, c, path, id)
	if err == nil {
		if err := e.writeThrough(ctx, c, id, recs); err != nil {
			return ReadResult{}, err
		}
		e.cache.put(c, id, recs)
		e.servingCached.Store(false)
		out.add(eventbus.Event{Type: eventbus.EventDataUpdated, Collection: c, RecordID: id})
		return ReadResult{Records: recs, Source: SourceRemote}, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ReadResult{}, ctxErr
	}
	e.logger.Debug("Remote read failed, falling back to local store",
		"collection", c.String(),
		"id", id,
		"error", err)

	return e.readLocal(ctx, c, id, &out)
}

// fetchError marks a remote read that reached the remote but was refused.
type fetchError struct {
	status int
	msg    string
}

func (f *fetchError) Error() string {
	if f.msg != "" {
		return fmt.Sprintf("remote answered %d: %s", f.status, f.msg)
	}
	return fmt.Sprintf("remote answered %d", f.status)
}

// fetch issues the remote GET and decodes the envelope's data.
func (e *Engine) fetch(ctx context.Context, c record.Collection, path, id string) ([]record.Record, error) {
	resp, err := e.remote.Do(ctx, transport.Request{Method: http.MethodGet, Path: recordPath(path, id)})
	if err != nil {
		return nil, err
	}
	env, envErr := resp.Envelope()
	if !resp.OK() {
		return nil, &fetchError{status: resp.StatusCode, msg: env.Error}
	}
	if envErr != nil {
		return nil, envErr
	}
	if len(resp.Body) > 0 && !env.Success {
		return nil, &fetchError{status: resp.StatusCode, msg: env.Error}
	}
	recs, err := record.DecodeRecords(c, env.Data)
	if err != nil {
		return nil, err
	}
	if id != "" {
		for i := range recs {
			if recs[i].ID == "" {
				recs[i].ID = id
			}
		}
	}
	return recs, nil
}

// fetchOne returns the remote copy of one record. found is false on 404.
func (e *Engine) fetchOne(ctx context.Context, c record.Collection, path, id string) (record.Record, bool, error) {
	recs, err := e.fetch(ctx, c, path, id)
	var fe *fetchError
	if errors.As(err, &fe) && fe.status == http.StatusNotFound {
		return record.Record{}, false, nil
	}
	if err != nil {
		return record.Record{}, false, err
	}
	if len(recs) == 0 {
		return record.Record{}, false, nil
	}
	return recs[0], true, nil
}

func (e *Engine) writeThrough(ctx context.Context, c record.Collection, id string, recs []record.Record) error {
	var err error
	switch {
	case len(recs) == 0:
		return nil
	case id != "":
		err = e.store.Put(ctx, c, recs[0], storage.PutReplace)
	default:
		err = e.store.PutMany(ctx, c, recs)
	}
	if err != nil {
		return persistenceError(syncErrors.OpStore, err)
	}
	return nil
}

func (e *Engine) readLocal(ctx context.Context, c record.Collection, id string, out *outbox) (ReadResult, error) {
	var recs []record.Record
	if id != "" {
		rec, found, err := e.store.Get(ctx, c, id)
		if err != nil {
			return ReadResult{}, persistenceError(syncErrors.OpLoad, err)
		}
		if found {
			recs = []record.Record{rec}
		}
	} else {
		all, err := e.store.GetAll(ctx, c)
		if err != nil {
			return ReadResult{}, persistenceError(syncErrors.OpLoad, err)
		}
		recs = all
	}

	if len(recs) == 0 {
		what := string(c)
		if id != "" {
			what += "/" + id
		}
		return ReadResult{Source: SourceNone},
			syncErrors.NewNotFoundError(syncErrors.OpRead, fmt.Errorf("%s: %w", what, ErrNoDataAvailable))
	}

	e.servingCached.Store(true)
	e.metrics.RecordCacheFallback(c.String())
	out.add(eventbus.Event{Type: eventbus.EventServingCachedData, Collection: c, RecordID: id})
	return ReadResult{Records: recs, Source: SourceCache}, nil
}

func recordPath(base, id string) string {
	if id == "" {
		return base
	}
	return base + "/" + url.PathEscape(id)
}
