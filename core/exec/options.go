package exec

import (
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"

	"github.com/asaidimu/go-daraja/core/analyzer"
	"github.com/asaidimu/go-daraja/core/driver"
	"github.com/asaidimu/go-daraja/core/plan"
)

// DefaultPoolSize bounds concurrent executions per backend when no pool
// size is configured.
const DefaultPoolSize = 8

// Duration is a time.Duration that unmarshals from yaml scalars like
// "500ms" or "2s".
type Duration time.Duration

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return errors.Wrapf(err, "parse duration %q", raw)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// BackendOptions configure one named backend in a daraja.yaml file.
type BackendOptions struct {
	// Driver names the backend kind: "sqlite", "postgres", "memory",
	// "pebble".
	Driver string `yaml:"driver"`
	// DSN is the backend connection string or data directory.
	DSN string `yaml:"dsn"`
}

// Options configure an Engine. The zero value is not usable; start from
// DefaultOptions or LoadOptions. The yaml tags mirror the daraja.yaml
// configuration file.
type Options struct {
	// DefaultBackend names the backend used when a request does not pick
	// one. Empty means the first registered backend.
	DefaultBackend string `yaml:"defaultBackend"`
	// CacheCapacity bounds each backend's compiled plan cache.
	CacheCapacity int `yaml:"cacheCapacity"`
	// PoolSize bounds concurrent executions per backend.
	PoolSize int `yaml:"poolSize"`
	// PoolTimeout bounds how long an execution waits for a pool slot.
	PoolTimeout Duration `yaml:"poolTimeout"`
	// SlowQueries sets how many slow executions the statistics retain.
	SlowQueries int `yaml:"slowQueries"`
	// LogLevel is consumed by hosts building the logger: "debug", "info",
	// "warn", "error".
	LogLevel string `yaml:"logLevel"`
	// Backends holds per-backend connection settings, keyed by the name
	// the backend registers under.
	Backends map[string]BackendOptions `yaml:"backends"`
}

// DefaultOptions returns the settings an Engine runs with when the host
// configures nothing.
func DefaultOptions() Options {
	return Options{
		CacheCapacity: plan.DefaultCacheCapacity,
		PoolSize:      DefaultPoolSize,
		PoolTimeout:   Duration(driver.DefaultAcquireTimeout),
		SlowQueries:   analyzer.DefaultSlowQueryLimit,
		LogLevel:      "info",
	}
}

// LoadOptions reads a yaml configuration file, filling unset fields from
// DefaultOptions.
func LoadOptions(path string) (*Options, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read config %s", path)
	}
	opts := DefaultOptions()
	if err := yaml.Unmarshal(raw, &opts); err != nil {
		return nil, errors.Wrapf(err, "parse config %s", path)
	}
	return &opts, nil
}

// Option adjusts engine settings at construction.
type Option func(*Options)

// WithOptions replaces the whole option set, for configuration loaded
// from a file.
func WithOptions(o Options) Option {
	return func(target *Options) { *target = o }
}

// WithDefaultBackend sets the backend used by requests that name none.
func WithDefaultBackend(name string) Option {
	return func(o *Options) { o.DefaultBackend = name }
}

// WithCacheCapacity bounds each backend's plan cache.
func WithCacheCapacity(n int) Option {
	return func(o *Options) { o.CacheCapacity = n }
}

// WithPoolSize bounds concurrent executions per backend.
func WithPoolSize(n int) Option {
	return func(o *Options) { o.PoolSize = n }
}

// WithPoolTimeout bounds the wait for an execution slot.
func WithPoolTimeout(d time.Duration) Option {
	return func(o *Options) { o.PoolTimeout = Duration(d) }
}

// WithSlowQueryLimit sets how many slow executions the statistics keep.
func WithSlowQueryLimit(n int) Option {
	return func(o *Options) { o.SlowQueries = n }
}
