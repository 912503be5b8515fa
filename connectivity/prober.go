package connectivity

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/c0deZ3R0/go-offline-kit/logging"
)

// Checker answers whether the remote is reachable right now.
type Checker interface {
	Check(ctx context.Context) error
}

// CheckerFunc adapts a function to Checker.
type CheckerFunc func(ctx context.Context) error

func (f CheckerFunc) Check(ctx context.Context) error { return f(ctx) }

// HTTPChecker issues GET URL and treats any 2xx answer as online.
type HTTPChecker struct {
	Client *http.Client
	URL    string
}

func (c *HTTPChecker) Check(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.URL, nil)
	if err != nil {
		return err
	}
	client := c.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("health check returned %d", resp.StatusCode)
	}
	return nil
}

// ProberConfig tunes a Prober.
type ProberConfig struct {
	// Interval between probes while online. Default: 30s.
	Interval time.Duration
	// Timeout for a single probe. Default: 5s.
	Timeout time.Duration
	// Backoff spaces probes while offline. Default: exponential from
	// Interval/4 up to Interval, doubling.
	Backoff BackoffStrategy
	Logger  *slog.Logger
}

func (c *ProberConfig) setDefaults() {
	if c.Interval <= 0 {
		c.Interval = 30 * time.Second
	}
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Second
	}
	if c.Backoff == nil {
		c.Backoff = &ExponentialBackoff{
			InitialDelay: c.Interval / 4,
			MaxDelay:     c.Interval,
			Multiplier:   2,
		}
	}
	if c.Logger == nil {
		c.Logger = logging.WithComponent(logging.Component("prober")).Logger
	}
}

// ErrProberRunning is returned by Start on a running prober.
var ErrProberRunning = errors.New("connectivity: prober already running")

// Prober polls a Checker and feeds the result into a Monitor.
type Prober struct {
	checker Checker
	monitor *Monitor
	config  ProberConfig

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// NewProber returns a stopped prober.
func NewProber(checker Checker, monitor *Monitor, config ProberConfig) *Prober {
	config.setDefaults()
	return &Prober{checker: checker, monitor: monitor, config: config}
}

// Start probes once immediately, then keeps probing until Stop or ctx ends.
func (p *Prober) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return ErrProberRunning
	}
	p.running = true
	ctx, p.cancel = context.WithCancel(ctx)
	p.wg.Add(1)
	go p.loop(ctx)
	return nil
}

// Stop halts the prober and waits for the loop to exit.
func (p *Prober) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	p.cancel()
	p.mu.Unlock()
	p.wg.Wait()
}

// ProbeOnce runs a single check and applies it to the monitor.
func (p *Prober) ProbeOnce(ctx context.Context) bool {
	checkCtx, cancel := context.WithTimeout(ctx, p.config.Timeout)
	defer cancel()
	err := p.checker.Check(checkCtx)
	if err != nil && ctx.Err() != nil {
		// shutting down; not evidence about the remote
		return p.monitor.Online()
	}
	if err != nil {
		p.config.Logger.Debug("probe failed", slog.Any("error", err))
	}
	online := err == nil
	p.monitor.Signal(online)
	return online
}

func (p *Prober) loop(ctx context.Context) {
	defer p.wg.Done()

	attempt := 0
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			next := p.config.Interval
			if p.ProbeOnce(ctx) {
				attempt = 0
				p.config.Backoff.Reset()
			} else {
				next = p.config.Backoff.NextDelay(attempt)
				attempt++
			}
			timer.Reset(next)
		}
	}
}
