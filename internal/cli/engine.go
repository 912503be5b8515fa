package cli

import (
	"fmt"

	"github.com/c0deZ3R0/go-offline-kit/config"
	"github.com/c0deZ3R0/go-offline-kit/connectivity"
	"github.com/c0deZ3R0/go-offline-kit/offlinekit"
	"github.com/c0deZ3R0/go-offline-kit/storage"
	"github.com/c0deZ3R0/go-offline-kit/storage/memory"
	"github.com/c0deZ3R0/go-offline-kit/storage/postgres"
	"github.com/c0deZ3R0/go-offline-kit/storage/sqlite"
	"github.com/c0deZ3R0/go-offline-kit/transport/httptransport"
)

// engineMode selects the background machinery a command needs.
type engineMode int

const (
	// oneShot runs a single call; no prober, no schedule.
	oneShot engineMode = iota
	// longRunning probes the health endpoint and honors sync.schedule.
	longRunning
)

// openBackend opens the local store named by the configuration.
func openBackend(opts *RootOptions) (storage.Backend, error) {
	cfg := opts.Config.Storage
	switch cfg.Driver {
	case config.DriverMemory:
		return memory.New(), nil
	case config.DriverSQLite:
		sc := sqlite.DefaultConfig(cfg.DSN)
		sc.Logger = opts.Logger
		return sqlite.New(sc)
	case config.DriverPostgres:
		pc := postgres.DefaultConfig(cfg.DSN)
		pc.Logger = opts.Logger
		return postgres.New(pc)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

// newEngine wires an engine from the loaded configuration. The caller owns
// the returned engine and must Close it.
func newEngine(opts *RootOptions, mode engineMode) (*offlinekit.Engine, error) {
	store, err := openBackend(opts)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open local store", err)
	}
	return buildEngine(opts, mode, store)
}

// buildEngine wires an engine around an open store. The engine takes
// ownership of store, including on error.
func buildEngine(opts *RootOptions, mode engineMode, store storage.Backend) (*offlinekit.Engine, error) {
	cfg := opts.Config

	clientOpts := []httptransport.ClientOption{
		httptransport.WithLogger(opts.Logger),
		httptransport.WithClientTimeout(cfg.Remote.Timeout),
		httptransport.WithClientCompression(cfg.Remote.Compression),
	}
	if cfg.Remote.MaxResponseSize > 0 {
		clientOpts = append(clientOpts, httptransport.WithMaxResponseSize(cfg.Remote.MaxResponseSize))
	}
	client := httptransport.NewClient(cfg.Remote.BaseURL, clientOpts...)

	overrides, err := cfg.EndpointOverrides()
	if err != nil {
		store.Close()
		return nil, WrapExitError(ExitCommandError, "invalid endpoints", err)
	}

	engineOpts := []offlinekit.Option{
		offlinekit.WithStore(store),
		offlinekit.WithRemote(client),
		offlinekit.WithLogger(opts.Logger),
		offlinekit.WithEndpoints(overrides),
		offlinekit.WithIdempotencyKeys(cfg.Sync.IdempotencyKeys),
		offlinekit.WithReadCacheTTL(cfg.Sync.ReadCacheTTL),
	}
	switch cfg.Sync.ConflictPolicy {
	case config.PolicyRemoteWins:
		engineOpts = append(engineOpts, offlinekit.WithRemoteWins())
	case config.PolicyLocalWins:
		engineOpts = append(engineOpts, offlinekit.WithLocalWins())
	}
	if mode == longRunning {
		engineOpts = append(engineOpts, offlinekit.WithSchedule(cfg.Sync.Schedule))
		if url := cfg.HealthURL(); url != "" {
			engineOpts = append(engineOpts, offlinekit.WithChecker(
				&connectivity.HTTPChecker{URL: url},
				connectivity.ProberConfig{
					Interval: cfg.Connectivity.Interval,
					Timeout:  cfg.Connectivity.Timeout,
					Logger:   opts.Logger,
				}))
		}
	}

	engine, err := offlinekit.New(engineOpts...)
	if err != nil {
		client.Close()
		store.Close()
		return nil, WrapExitError(ExitCommandError, "failed to build engine", err)
	}
	return engine, nil
}
