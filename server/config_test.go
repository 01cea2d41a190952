package server

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFile(t *testing.T) {
	assert := assert.New(t)

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
listen_addr: ":9090"
backend: duckdb
database_path: /tmp/cache.db
cleanup_interval: 15m
default_ttl: 168h
size_cap: 5000
popular_threshold: 10
tls:
  key_file: /tmp/key.pem
  cert_file: /tmp/cert.pem
`), 0644))

	c, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(":9090", c.ListenAddr)
	assert.Equal("duckdb", c.Backend)
	assert.Equal("/tmp/cache.db", c.DatabasePath)
	assert.Equal(15*time.Minute, c.CleanupInterval.Std())
	assert.Equal(168*time.Hour, c.DefaultTTL.Std())
	assert.Equal(5000, c.SizeCap)
	assert.Equal(int64(10), c.PopularThreshold)
	require.NotNil(t, c.TLS)
	assert.Equal("/tmp/key.pem", c.TLS.KeyFile)
}

func TestLoadFileInvalidDuration(t *testing.T) {
	assert := assert.New(t)

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("cleanup_interval: soon\n"), 0644))

	_, err := LoadFile(path)
	assert.Error(err)
}

func TestLoadFileMissing(t *testing.T) {
	assert := assert.New(t)

	_, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(err)
}
