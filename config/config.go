// Package config loads offline kit settings from a YAML file with
// OFFLINEKIT_* environment overrides.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/c0deZ3R0/go-offline-kit/logging"
	"github.com/c0deZ3R0/go-offline-kit/record"
)

// Storage drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Conflict policies.
const (
	PolicyMerge      = "merge"
	PolicyRemoteWins = "remote-wins"
	PolicyLocalWins  = "local-wins"
)

// Config is the full client configuration.
type Config struct {
	Remote       RemoteConfig       `yaml:"remote"`
	Storage      StorageConfig      `yaml:"storage"`
	Connectivity ConnectivityConfig `yaml:"connectivity"`
	Sync         SyncConfig         `yaml:"sync"`
	// Endpoints overrides the /api/<collection> path of individual collections.
	Endpoints map[string]string `yaml:"endpoints,omitempty"`
	Logging   logging.Config    `yaml:"logging"`
	Server    ServerConfig      `yaml:"server"`
}

// RemoteConfig describes the REST service.
type RemoteConfig struct {
	BaseURL         string        `yaml:"base_url"`
	Timeout         time.Duration `yaml:"timeout"`
	Compression     bool          `yaml:"compression"`
	MaxResponseSize int64         `yaml:"max_response_size,omitempty"`
}

// StorageConfig selects the local backend.
type StorageConfig struct {
	Driver string `yaml:"driver"`
	// DSN is a file path for sqlite and a connection string for postgres.
	DSN string `yaml:"dsn"`
}

// ConnectivityConfig tunes the reachability prober.
type ConnectivityConfig struct {
	// HealthPath is probed relative to remote.base_url. Empty disables probing.
	HealthPath string        `yaml:"health_path"`
	Interval   time.Duration `yaml:"interval"`
	Timeout    time.Duration `yaml:"timeout"`
}

// SyncConfig tunes the engine.
type SyncConfig struct {
	// Schedule is a cron spec for periodic replication. Empty disables it.
	Schedule        string        `yaml:"schedule"`
	ReadCacheTTL    time.Duration `yaml:"read_cache_ttl"`
	IdempotencyKeys bool          `yaml:"idempotency_keys"`
	ConflictPolicy  string        `yaml:"conflict_policy"`
}

// ServerConfig is used by the reference remote.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Remote: RemoteConfig{
			BaseURL:     "http://localhost:8080",
			Timeout:     10 * time.Second,
			Compression: true,
		},
		Storage: StorageConfig{
			Driver: DriverSQLite,
			DSN:    "offlinekit.db",
		},
		Connectivity: ConnectivityConfig{
			HealthPath: "/api/health",
			Interval:   30 * time.Second,
			Timeout:    5 * time.Second,
		},
		Sync: SyncConfig{
			IdempotencyKeys: true,
			ConflictPolicy:  PolicyMerge,
		},
		Logging: logging.DefaultConfig,
		Server:  ServerConfig{Addr: ":8080"},
	}
}

// Load reads path on top of Default, applies the environment and validates.
// An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := decode(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}
	if err := cfg.ApplyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Parse decodes YAML on top of Default without consulting the environment.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	if err := decode(data, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

func decode(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// ApplyEnv overrides fields from OFFLINEKIT_* variables and the logging
// package's LOG_* variables.
func (c *Config) ApplyEnv() error {
	str := map[string]*string{
		"OFFLINEKIT_REMOTE_URL":      &c.Remote.BaseURL,
		"OFFLINEKIT_STORAGE_DRIVER":  &c.Storage.Driver,
		"OFFLINEKIT_STORAGE_DSN":     &c.Storage.DSN,
		"OFFLINEKIT_HEALTH_PATH":     &c.Connectivity.HealthPath,
		"OFFLINEKIT_SYNC_SCHEDULE":   &c.Sync.Schedule,
		"OFFLINEKIT_CONFLICT_POLICY": &c.Sync.ConflictPolicy,
		"OFFLINEKIT_SERVER_ADDR":     &c.Server.Addr,
	}
	for key, dst := range str {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}

	durations := map[string]*time.Duration{
		"OFFLINEKIT_REMOTE_TIMEOUT": &c.Remote.Timeout,
		"OFFLINEKIT_PROBE_INTERVAL": &c.Connectivity.Interval,
		"OFFLINEKIT_READ_CACHE_TTL": &c.Sync.ReadCacheTTL,
	}
	for key, dst := range durations {
		if v, ok := os.LookupEnv(key); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = d
		}
	}

	bools := map[string]*bool{
		"OFFLINEKIT_REMOTE_COMPRESSION": &c.Remote.Compression,
		"OFFLINEKIT_IDEMPOTENCY_KEYS":   &c.Sync.IdempotencyKeys,
	}
	for key, dst := range bools {
		if v, ok := os.LookupEnv(key); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = b
		}
	}

	c.Logging = logging.ApplyEnv(c.Logging)
	return nil
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	u, err := url.Parse(c.Remote.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("remote.base_url must be an absolute URL, got %q", c.Remote.BaseURL)
	}
	if c.Remote.Timeout < 0 {
		return fmt.Errorf("remote.timeout cannot be negative")
	}
	if c.Remote.MaxResponseSize < 0 {
		return fmt.Errorf("remote.max_response_size cannot be negative")
	}

	switch c.Storage.Driver {
	case DriverMemory:
	case DriverSQLite, DriverPostgres:
		if c.Storage.DSN == "" {
			return fmt.Errorf("storage.dsn is required for driver %q", c.Storage.Driver)
		}
	default:
		return fmt.Errorf("unknown storage.driver %q", c.Storage.Driver)
	}

	if c.Connectivity.HealthPath != "" && !strings.HasPrefix(c.Connectivity.HealthPath, "/") {
		return fmt.Errorf("connectivity.health_path must start with /")
	}
	if c.Connectivity.Interval < 0 || c.Connectivity.Timeout < 0 {
		return fmt.Errorf("connectivity durations cannot be negative")
	}

	if c.Sync.Schedule != "" {
		if _, err := cron.ParseStandard(c.Sync.Schedule); err != nil {
			return fmt.Errorf("sync.schedule: %w", err)
		}
	}
	if c.Sync.ReadCacheTTL < 0 {
		return fmt.Errorf("sync.read_cache_ttl cannot be negative")
	}
	switch c.Sync.ConflictPolicy {
	case PolicyMerge, PolicyRemoteWins, PolicyLocalWins:
	default:
		return fmt.Errorf("unknown sync.conflict_policy %q", c.Sync.ConflictPolicy)
	}

	overrides, err := c.EndpointOverrides()
	if err != nil {
		return err
	}
	if err := record.DefaultEndpoints().With(overrides).Validate(); err != nil {
		return fmt.Errorf("endpoints: %w", err)
	}
	return nil
}

// EndpointOverrides converts the endpoints section to typed collections.
func (c Config) EndpointOverrides() (map[record.Collection]string, error) {
	out := make(map[record.Collection]string, len(c.Endpoints))
	for name, path := range c.Endpoints {
		col, err := record.ParseCollection(name)
		if err != nil {
			return nil, fmt.Errorf("endpoints: %w", err)
		}
		if strings.Trim(path, "/") == "" {
			return nil, fmt.Errorf("endpoints: empty path for %s", col)
		}
		out[col] = path
	}
	return out, nil
}

// HealthURL is the absolute probe URL, or "" when probing is disabled.
func (c Config) HealthURL() string {
	if c.Connectivity.HealthPath == "" {
		return ""
	}
	return strings.TrimRight(c.Remote.BaseURL, "/") + c.Connectivity.HealthPath
}
