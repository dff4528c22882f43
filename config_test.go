package runcycle

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runcycle/runcycle/model/types"
)

func TestLoadConfigDefaults(t *testing.T) {
	config, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, 1, config.Workers)
	assert.Equal(t, 1, config.Cycles)
	assert.Equal(t, "output", config.OutSubdir)
	assert.True(t, config.Record)
	assert.Equal(t, 10*time.Minute, config.DefaultTimeout)
}

func TestLoadConfigMissingFileIsNotAnError(t *testing.T) {
	config, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 1, config.Workers)
}

func TestLoadConfigFromYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.yaml")
	require.NoError(t, os.WriteFile(path, []byte("workers: 4\ncycles: 3\noutSubdir: out\n"), 0644))

	config, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 4, config.Workers)
	assert.Equal(t, 3, config.Cycles)
	assert.Equal(t, "out", config.OutSubdir)
	// Unset fields keep their defaults.
	assert.True(t, config.Record)
}

func TestLoadConfigEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.yaml")
	require.NoError(t, os.WriteFile(path, []byte("workers: 4\n"), 0644))
	t.Setenv("RUNCYCLE_WORKERS", "2")
	t.Setenv("RUNCYCLE_DEFAULT_TIMEOUT", "30s")

	config, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 2, config.Workers)
	assert.Equal(t, 30*time.Second, config.DefaultTimeout)
}

func TestLoadConfigRejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.yaml")
	require.NoError(t, os.WriteFile(path, []byte("workers: [not an int\n"), 0644))

	_, err := LoadConfig(path)
	assert.True(t, types.IsConfigError(err))
}

func TestConfigValidate(t *testing.T) {
	config := DefaultConfig()
	assert.NoError(t, config.Validate())

	config.Workers = 0
	assert.True(t, types.IsConfigError(config.Validate()))

	config = DefaultConfig()
	config.Workers = 1 << 20
	assert.True(t, types.IsConfigError(config.Validate()))

	config = DefaultConfig()
	config.Cycles = 0
	assert.True(t, types.IsConfigError(config.Validate()))

	config = DefaultConfig()
	config.OutSubdir = ""
	assert.True(t, types.IsConfigError(config.Validate()))
}
