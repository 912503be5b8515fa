package offlinekit

import (
	"sync"
	"time"

	"github.com/c0deZ3R0/go-offline-kit/record"
)

type cacheKey struct {
	c  record.Collection
	id string
}

type cacheEntry struct {
	records []record.Record
	at      time.Time
}

// readCache memoizes fresh remote reads for ttl. A zero ttl disables it.
type readCache struct {
	ttl     time.Duration
	now     func() time.Time
	mu      sync.Mutex
	entries map[cacheKey]cacheEntry
}

func newReadCache(ttl time.Duration, now func() time.Time) *readCache {
	return &readCache{ttl: ttl, now: now, entries: make(map[cacheKey]cacheEntry)}
}

func (rc *readCache) get(c record.Collection, id string) ([]record.Record, bool) {
	if rc.ttl <= 0 {
		return nil, false
	}
	rc.mu.Lock()
	defer rc.mu.Unlock()
	e, ok := rc.entries[cacheKey{c, id}]
	if !ok {
		return nil, false
	}
	if rc.now().Sub(e.at) >= rc.ttl {
		delete(rc.entries, cacheKey{c, id})
		return nil, false
	}
	return cloneRecords(e.records), true
}

func (rc *readCache) put(c record.Collection, id string, recs []record.Record) {
	if rc.ttl <= 0 {
		return
	}
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.entries[cacheKey{c, id}] = cacheEntry{records: cloneRecords(recs), at: rc.now()}
}

// invalidate drops every entry of c, list and by-id alike.
func (rc *readCache) invalidate(c record.Collection) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	for k := range rc.entries {
		if k.c == c {
			delete(rc.entries, k)
		}
	}
}

func (rc *readCache) clear() {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.entries = make(map[cacheKey]cacheEntry)
}

func (rc *readCache) len() int {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return len(rc.entries)
}

func cloneRecords(in []record.Record) []record.Record {
	if in == nil {
		return nil
	}
	out := make([]record.Record, len(in))
	for i, r := range in {
		out[i] = r.Clone()
	}
	return out
}
