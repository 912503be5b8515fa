package transport

import (
	"context"
	"fmt"
	"sync/atomic"

	syncErrors "github.com/c0deZ3R0/go-offline-kit/errors"
)

// ErrOffline is the cause reported by a Toggle that is switched off.
var ErrOffline = fmt.Errorf("transport: remote unreachable (offline)")

// Toggle wraps a Remote with a switch that simulates losing the network.
// While off, every call fails with a connectivity error before reaching the
// wrapped remote.
type Toggle struct {
	inner  Remote
	online atomic.Bool
	calls  atomic.Int64
}

// NewToggle returns an online Toggle around inner.
func NewToggle(inner Remote) *Toggle {
	t := &Toggle{inner: inner}
	t.online.Store(true)
	return t
}

// SetOnline flips the switch.
func (t *Toggle) SetOnline(online bool) { t.online.Store(online) }

// Online reports the switch position.
func (t *Toggle) Online() bool { return t.online.Load() }

// Calls returns how many requests reached the wrapped remote.
func (t *Toggle) Calls() int64 { return t.calls.Load() }

func (t *Toggle) Do(ctx context.Context, req Request) (*Response, error) {
	if !t.online.Load() {
		return nil, syncErrors.NewConnectivityError(syncErrors.OpTransport, ErrOffline)
	}
	t.calls.Add(1)
	return t.inner.Do(ctx, req)
}

func (t *Toggle) Close() error { return t.inner.Close() }
