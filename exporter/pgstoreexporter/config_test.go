package pgstoreexporter

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ollyscale/core/internal/schema"
	"github.com/ollyscale/core/internal/store/postgres"
)

func testDatabaseConfig() postgres.Config {
	return postgres.Config{URL: "postgres://localhost:5432/test"}
}

func TestConfigValidateAppliesDefaults(t *testing.T) {
	cfg := &Config{Database: testDatabaseConfig()}
	require.NoError(t, cfg.Validate())

	assert.Equal(t, defaultMaxItems, cfg.MaxItems)
	assert.Equal(t, defaultMaxBytes, cfg.MaxBytes)
	assert.Equal(t, defaultMaxDelay, cfg.MaxDelay)
	assert.Equal(t, defaultQueueCapacity, cfg.QueueCapacity)
	assert.Equal(t, defaultQueueHighWater, cfg.QueueHighWater)
	assert.Equal(t, defaultAdmissionTimeout, cfg.AdmissionTimeout)
	assert.Equal(t, defaultMaxRetries, cfg.MaxRetries)
	assert.Equal(t, 4, cfg.PersistWorkers)
	assert.Equal(t, schema.CurrentSchemaVersion, cfg.Schema.RequiredVersion)
}

func TestConfigValidateClampsHighWaterToCapacity(t *testing.T) {
	cfg := &Config{Database: testDatabaseConfig(), QueueCapacity: 100, QueueHighWater: 500}
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 100, cfg.QueueHighWater)
}

func TestConfigValidateRejectsMissingDatabaseURL(t *testing.T) {
	cfg := &Config{}
	require.Error(t, cfg.Validate())
}

func TestApplyEnvironmentOverridesSetsAdmissionTimeout(t *testing.T) {
	os.Setenv("OLLYSCALE_ADMISSION_TIMEOUT", "30s")
	defer os.Unsetenv("OLLYSCALE_ADMISSION_TIMEOUT")

	cfg := &Config{Database: testDatabaseConfig()}
	require.NoError(t, cfg.applyEnvironmentOverrides())
	assert.Equal(t, 30*time.Second, cfg.AdmissionTimeout)
}

func TestApplyEnvironmentOverridesRejectsBadDuration(t *testing.T) {
	os.Setenv("OLLYSCALE_ADMISSION_TIMEOUT", "not-a-duration")
	defer os.Unsetenv("OLLYSCALE_ADMISSION_TIMEOUT")

	cfg := &Config{Database: testDatabaseConfig()}
	require.Error(t, cfg.applyEnvironmentOverrides())
}
