package logging

import (
	"log/slog"
	"os"
	"strings"
)

// Environment types
const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
	EnvTest        = "test"
)

// GetConfigFromEnv reads LOG_LEVEL, LOG_FORMAT, ENVIRONMENT and LOG_ADD_SOURCE
// on top of DefaultConfig.
func GetConfigFromEnv() Config {
	return ApplyEnv(DefaultConfig)
}

// ApplyEnv overrides fields of config from the environment.
func ApplyEnv(config Config) Config {
	explicitFormat := false
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		config.Level = strings.ToLower(level)
	}

	if format := os.Getenv("LOG_FORMAT"); format != "" {
		config.Format = strings.ToLower(format)
		explicitFormat = true
	}

	if env := os.Getenv("ENVIRONMENT"); env != "" {
		config.Environment = strings.ToLower(env)
	}

	switch config.Environment {
	case EnvProduction:
		if !explicitFormat {
			config.Format = "json"
		}
		config.AddSource = false
	case EnvTest:
		config.AddSource = false
	}

	if addSource := os.Getenv("LOG_ADD_SOURCE"); addSource != "" {
		config.AddSource = strings.ToLower(addSource) == "true"
	}

	return config
}

// CustomLevel defines a level outside slog's built-in set.
type CustomLevel slog.Level

const (
	LevelTrace CustomLevel = CustomLevel(slog.LevelDebug - 4)
)

// String returns the string representation of the custom level
func (l CustomLevel) String() string {
	if l == LevelTrace {
		return "TRACE"
	}
	return slog.Level(l).String()
}

// DynamicLevelVar allows changing log level at runtime
type DynamicLevelVar struct {
	*slog.LevelVar
}

// NewDynamicLevelVar creates a new dynamic level variable
func NewDynamicLevelVar(initialLevel slog.Level) *DynamicLevelVar {
	levelVar := &slog.LevelVar{}
	levelVar.Set(initialLevel)
	return &DynamicLevelVar{LevelVar: levelVar}
}

// SetFromString sets the level from its name and reports whether it was known.
func (d *DynamicLevelVar) SetFromString(level string) bool {
	switch strings.ToLower(level) {
	case "trace", "debug", "info", "warn", "warning", "error":
		d.Set(ParseLevel(strings.ToLower(level)))
		return true
	default:
		return false
	}
}

// NewLoggerWithDynamicLevel creates a logger whose level can change at runtime.
func NewLoggerWithDynamicLevel(config Config) (*Logger, *DynamicLevelVar) {
	levelVar := NewDynamicLevelVar(ParseLevel(config.Level))
	return &Logger{Logger: slog.New(newHandler(config, levelVar.LevelVar))}, levelVar
}
