package cycle

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigValidAppliesDefaults(t *testing.T) {
	cfg := Config{ConfigBlobPath: "blob.bin"}
	require.NoError(t, cfg.Valid())
	assert.Equal(t, 16500*time.Microsecond, cfg.Period)
}

func TestConfigValidRejectsOutOfRangePeriod(t *testing.T) {
	cfg := Config{Period: 2 * time.Second, ConfigBlobPath: "blob.bin"}
	assert.Error(t, cfg.Valid())
}

func TestConfigValidRequiresBlobPath(t *testing.T) {
	cfg := Config{}
	assert.Error(t, cfg.Valid())
}

func TestLoadConfigFromINI(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cycle.ini")
	contents := "[cycle]\nperiod_us = 20000\nconfig_blob = /var/ioen/config.bin\ncan_routing_enabled = true\n"
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 20000*time.Microsecond, cfg.Period)
	assert.Equal(t, "/var/ioen/config.bin", cfg.ConfigBlobPath)
	assert.True(t, cfg.CanRoutingEnabled)
}
