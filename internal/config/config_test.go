package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestLoadParsesNestedSectionsAndDurations(t *testing.T) {
	path := writeTempConfig(t, `
database:
  url: postgres://localhost:5432/ollyscale
  pool_min: 4
  pool_max: 32
query:
  deadline: 15s
api:
  addr: ":9090"
schema:
  required_version: 3
opamp:
  pending_ttl: 48h
retention:
  horizon: 720h
  sweep_interval: 10m
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "postgres://localhost:5432/ollyscale", cfg.Database.URL)
	assert.EqualValues(t, 4, cfg.Database.PoolMin)
	assert.EqualValues(t, 32, cfg.Database.PoolMax)
	assert.Equal(t, 15*time.Second, cfg.Query.Deadline)
	assert.Equal(t, ":9090", cfg.API.Addr)
	assert.Equal(t, 3, cfg.Schema.RequiredVersion)
	assert.Equal(t, 48*time.Hour, cfg.OpAMP.PendingTTL)
	assert.Equal(t, 720*time.Hour, cfg.Retention.Horizon)
	assert.Equal(t, 10*time.Minute, cfg.Retention.SweepInterval)
}

func TestLoadAppliesDefaultsForOmittedSections(t *testing.T) {
	path := writeTempConfig(t, `
database:
  url: postgres://localhost:5432/ollyscale
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 10*time.Second, cfg.Query.Deadline)
	assert.Equal(t, ":8080", cfg.API.Addr)
	assert.Equal(t, 30*24*time.Hour, cfg.Retention.Horizon)
	assert.Equal(t, 15*time.Minute, cfg.Retention.SweepInterval)
}

func TestLoadRejectsMissingDatabaseURL(t *testing.T) {
	path := writeTempConfig(t, `query:
  deadline: 5s
`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadEmptyPathUsesEnvironmentAndDefaults(t *testing.T) {
	t.Setenv("OLLYSCALE_DATABASE_URL", "postgres://localhost:5432/fromenv")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "postgres://localhost:5432/fromenv", cfg.Database.URL)
}

func TestEnvironmentOverrideWinsOverFileValue(t *testing.T) {
	path := writeTempConfig(t, `
database:
  url: postgres://localhost:5432/ollyscale
query:
  deadline: 5s
`)
	t.Setenv("OLLYSCALE_QUERY_DEADLINE", "20s")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 20*time.Second, cfg.Query.Deadline)
}

func TestLoadRejectsBadEnvironmentDuration(t *testing.T) {
	path := writeTempConfig(t, `database:
  url: postgres://localhost:5432/ollyscale
`)
	t.Setenv("OLLYSCALE_QUERY_DEADLINE", "not-a-duration")

	_, err := Load(path)
	assert.Error(t, err)
}
