package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

const minimalYAML = `
hub: central
replicas:
  central:
    driver: postgres
    dsn: postgres://localhost/syncmesh
    code: C
  north:
    driver: sqlite
    dsn: north.db
    code: N
`

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalYAML))
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, 100, cfg.Sync.BatchSize)
	assert.Equal(t, 5*time.Second, cfg.PollInterval())
	assert.Equal(t, 10*time.Second, cfg.ApplyTimeout())
	assert.Equal(t, 30*time.Minute, cfg.LinkTTL())
	assert.Equal(t, 15*time.Minute, cfg.SessionTTL())
	assert.Equal(t, "syncmesh", cfg.JWT.Issuer)
	assert.Equal(t, "memory", cfg.Cache.Kind)
	assert.Equal(t, []string{"north"}, cfg.Edges())
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("SERVER_ADDR", ":9999")
	t.Setenv("SYNC_BATCH_SIZE", "25")

	cfg, err := Load(writeConfig(t, minimalYAML))
	require.NoError(t, err)

	assert.Equal(t, ":9999", cfg.Server.Addr)
	assert.Equal(t, 25, cfg.Sync.BatchSize)
}

func TestLoadRejectsUnknownHub(t *testing.T) {
	_, err := Load(writeConfig(t, `
hub: nope
replicas:
  central:
    driver: postgres
    dsn: x
    code: C
`))
	assert.Error(t, err)
}

func TestLoadRejectsDuplicateCodes(t *testing.T) {
	_, err := Load(writeConfig(t, `
hub: central
replicas:
  central:
    driver: postgres
    dsn: x
    code: C
  south:
    driver: sqlite
    dsn: y
    code: C
`))
	assert.Error(t, err)
}

func TestLoadRejectsUnknownDriver(t *testing.T) {
	_, err := Load(writeConfig(t, `
hub: central
replicas:
  central:
    driver: oracle
    dsn: x
    code: C
`))
	assert.Error(t, err)
}

func TestLoadRejectsBadDuration(t *testing.T) {
	_, err := Load(writeConfig(t, minimalYAML+`
sync:
  poll_interval: "cinco segundos"
`))
	assert.Error(t, err)
}

func TestProdRequiresSecret(t *testing.T) {
	t.Setenv("APP_ENV", "prod")
	_, err := Load(writeConfig(t, minimalYAML))
	assert.Error(t, err)
}
