package main

import (
	"context"
	"os"
	"sort"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/asaidimu/go-daraja/core/access"
	"github.com/asaidimu/go-daraja/core/driver"
	"github.com/asaidimu/go-daraja/core/exec"
	"github.com/asaidimu/go-daraja/core/schema"
	"github.com/asaidimu/go-daraja/memory"
	"github.com/asaidimu/go-daraja/pebble"
	"github.com/asaidimu/go-daraja/postgres"
	"github.com/asaidimu/go-daraja/sqlite"
)

const defaultConfigFile = "daraja.yaml"

// rootOptions holds the global flags shared by every subcommand.
type rootOptions struct {
	Config  string
	Backend string
	Role    string
	Format  string
	Verbose bool
}

var (
	validFormats = []string{"table", "json"}
	validRoles   = []string{"admin", "reader"}
)

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "daraja",
		Short: "Explore the query engine against a seeded music library",
		Long: `daraja runs queries, plan explanations and execution statistics against
a small seeded music library (albums and tracks).

Without a configuration file everything runs on the in-memory backend.
A daraja.yaml file can configure sqlite, pebble or postgres backends,
the plan cache capacity and the execution pools instead:

  backends:
    local:
      driver: sqlite
      dsn: library.db
  cacheCapacity: 64
  poolSize: 4`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !oneOf(opts.Format, validFormats) {
				return errors.Newf("invalid format %q: must be one of %v", opts.Format, validFormats)
			}
			if !oneOf(opts.Role, validRoles) {
				return errors.Newf("invalid role %q: must be one of %v", opts.Role, validRoles)
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.Config, "config", "c", "", "configuration file (daraja.yaml is picked up when present)")
	cmd.PersistentFlags().StringVar(&opts.Backend, "backend", "", "backend to execute against (default: first configured)")
	cmd.PersistentFlags().StringVar(&opts.Role, "as", "admin", "role to run as (admin|reader)")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "table", "output format (table|json)")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "debug logging")

	cmd.AddCommand(newQueryCommand(opts))
	cmd.AddCommand(newExplainCommand(opts))
	cmd.AddCommand(newStatsCommand(opts))

	return cmd
}

func oneOf(value string, allowed []string) bool {
	for _, candidate := range allowed {
		if value == candidate {
			return true
		}
	}
	return false
}

func (o *rootOptions) identity() *access.Context {
	return &access.Context{Subject: "cli", Roles: []string{o.Role}}
}

// environment is one fully wired engine: config loaded, demo objects
// registered, backends opened and seeded.
type environment struct {
	logger *zap.Logger
	engine *exec.Engine
}

func (o *rootOptions) setup(ctx context.Context) (*environment, error) {
	options, err := loadOptions(o.Config)
	if err != nil {
		return nil, err
	}
	logger, err := buildLogger(o.Verbose, options.LogLevel)
	if err != nil {
		return nil, err
	}

	registry := schema.NewStaticRegistry(logger)
	for _, obj := range demoObjects() {
		if err := registry.Register(obj); err != nil {
			return nil, err
		}
	}

	engine, err := exec.NewEngine(registry, demoPolicy(), logger, exec.WithOptions(*options))
	if err != nil {
		return nil, err
	}

	backends := options.Backends
	if len(backends) == 0 {
		backends = map[string]exec.BackendOptions{"memory": {Driver: "memory"}}
	}
	names := make([]string, 0, len(backends))
	for name := range backends {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		d, err := openBackend(ctx, name, backends[name], logger)
		if err != nil {
			closeQuietly(engine, logger)
			return nil, errors.Wrapf(err, "open backend %q", name)
		}
		if err := prepareSchema(ctx, d); err != nil {
			_ = d.Close()
			closeQuietly(engine, logger)
			return nil, errors.Wrapf(err, "prepare schema on %q", name)
		}
		if err := engine.Register(name, d); err != nil {
			_ = d.Close()
			closeQuietly(engine, logger)
			return nil, err
		}
		if err := seedDemo(ctx, engine, name, logger); err != nil {
			closeQuietly(engine, logger)
			return nil, errors.Wrapf(err, "seed backend %q", name)
		}
	}

	return &environment{logger: logger, engine: engine}, nil
}

func (e *environment) Close() {
	closeQuietly(e.engine, e.logger)
	_ = e.logger.Sync()
}

func closeQuietly(engine *exec.Engine, logger *zap.Logger) {
	if err := engine.Close(); err != nil {
		logger.Warn("close backends", zap.Error(err))
	}
}

// loadOptions resolves configuration: an explicit path must exist, the
// default path is used only when present.
func loadOptions(path string) (*exec.Options, error) {
	if path == "" {
		if _, err := os.Stat(defaultConfigFile); err != nil {
			defaults := exec.DefaultOptions()
			return &defaults, nil
		}
		path = defaultConfigFile
	}
	return exec.LoadOptions(path)
}

func buildLogger(verbose bool, level string) (*zap.Logger, error) {
	parsed := zapcore.InfoLevel
	if level != "" {
		var err error
		parsed, err = zapcore.ParseLevel(level)
		if err != nil {
			return nil, errors.Wrapf(err, "log level %q", level)
		}
	}
	if verbose {
		parsed = zapcore.DebugLevel
	}
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(parsed)
	return cfg.Build()
}

func openBackend(ctx context.Context, name string, cfg exec.BackendOptions, logger *zap.Logger) (driver.Driver, error) {
	backendLogger := logger.Named(name)
	switch cfg.Driver {
	case "memory", "":
		return memory.New(backendLogger), nil
	case "sqlite":
		dsn := cfg.DSN
		if dsn == "" {
			dsn = ":memory:"
		}
		return sqlite.Open(dsn, backendLogger, nil)
	case "pebble":
		if cfg.DSN == "" {
			return nil, errors.Newf("backend %q needs a dsn naming the pebble data directory", name)
		}
		return pebble.Open(cfg.DSN, backendLogger, nil)
	case "postgres":
		if cfg.DSN == "" {
			return nil, errors.Newf("backend %q needs a postgres dsn", name)
		}
		return postgres.Open(ctx, cfg.DSN, backendLogger, nil)
	default:
		return nil, errors.Newf("backend %q names unknown driver %q", name, cfg.Driver)
	}
}

// prepareSchema creates tables and indexes on backends that have DDL.
func prepareSchema(ctx context.Context, d driver.Driver) error {
	es, ok := d.(interface {
		EnsureObject(ctx context.Context, obj *schema.Object) error
	})
	if !ok {
		return nil
	}
	for _, obj := range demoObjects() {
		if err := es.EnsureObject(ctx, obj); err != nil {
			return err
		}
	}
	return nil
}
