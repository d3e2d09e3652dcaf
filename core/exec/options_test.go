package exec

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asaidimu/go-daraja/core/analyzer"
	"github.com/asaidimu/go-daraja/core/plan"
)

func TestLoadOptions(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "daraja.yaml")
	config := `defaultBackend: main
cacheCapacity: 64
poolSize: 4
poolTimeout: 250ms
slowQueries: 5
logLevel: debug
backends:
  main:
    driver: sqlite
    dsn: file:tasks.db
  archive:
    driver: pebble
    dsn: /var/lib/daraja/archive
`
	require.NoError(t, os.WriteFile(path, []byte(config), 0o600))

	opts, err := LoadOptions(path)
	require.NoError(t, err)
	assert.Equal(t, "main", opts.DefaultBackend)
	assert.Equal(t, 64, opts.CacheCapacity)
	assert.Equal(t, 4, opts.PoolSize)
	assert.Equal(t, 250*time.Millisecond, opts.PoolTimeout.Std())
	assert.Equal(t, 5, opts.SlowQueries)
	assert.Equal(t, "debug", opts.LogLevel)
	require.Len(t, opts.Backends, 2)
	assert.Equal(t, "sqlite", opts.Backends["main"].Driver)
	assert.Equal(t, "/var/lib/daraja/archive", opts.Backends["archive"].DSN)
}

func TestLoadOptionsFillsDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "daraja.yaml")
	require.NoError(t, os.WriteFile(path, []byte("defaultBackend: main\n"), 0o600))

	opts, err := LoadOptions(path)
	require.NoError(t, err)
	assert.Equal(t, plan.DefaultCacheCapacity, opts.CacheCapacity)
	assert.Equal(t, DefaultPoolSize, opts.PoolSize)
	assert.Equal(t, analyzer.DefaultSlowQueryLimit, opts.SlowQueries)
	assert.Positive(t, opts.PoolTimeout.Std())
}

func TestLoadOptionsRejectsBadDuration(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "daraja.yaml")
	require.NoError(t, os.WriteFile(path, []byte("poolTimeout: soon\n"), 0o600))

	_, err := LoadOptions(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "soon")
}

func TestLoadOptionsMissingFile(t *testing.T) {
	_, err := LoadOptions(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestFunctionalOptions(t *testing.T) {
	opts := DefaultOptions()
	for _, apply := range []Option{
		WithDefaultBackend("main"),
		WithCacheCapacity(32),
		WithPoolSize(2),
		WithPoolTimeout(time.Second),
		WithSlowQueryLimit(3),
	} {
		apply(&opts)
	}
	assert.Equal(t, "main", opts.DefaultBackend)
	assert.Equal(t, 32, opts.CacheCapacity)
	assert.Equal(t, 2, opts.PoolSize)
	assert.Equal(t, time.Second, opts.PoolTimeout.Std())
	assert.Equal(t, 3, opts.SlowQueries)
}
