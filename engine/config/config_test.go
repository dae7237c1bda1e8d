package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/inflight/engine/core"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 2, cfg.Device.BufferCount)
	assert.Equal(t, "inclusive", cfg.Device.ReclaimBoundary)
	assert.Equal(t, 2*time.Second, cfg.Device.FenceTimeout.Std())
}

func TestParseOverridesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
[log]
level = "debug"

[device]
buffer_count = 3
fence_timeout = "250ms"
reclaim_boundary = "strict"
`))
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 3, cfg.Device.BufferCount)
	assert.Equal(t, 250*time.Millisecond, cfg.Device.FenceTimeout.Std())
	assert.Equal(t, "strict", cfg.Device.ReclaimBoundary)
	// Untouched keys keep their default.
	assert.Equal(t, Default().Device.CommandListCount, cfg.Device.CommandListCount)
}

func TestParseRejects(t *testing.T) {
	for name, doc := range map[string]string{
		"unknown key":        "[device]\nring = 2\n",
		"bad duration":       "[device]\nfence_timeout = \"soon\"\n",
		"zero ring":          "[device]\nbuffer_count = 0\n",
		"unknown backend":    "[device]\nbackend = \"metal\"\n",
		"unknown boundary":   "[device]\nreclaim_boundary = \"lazy\"\n",
		"too many producers": "[device]\ncommand_list_count = 2\n[testbed]\nproducers = 3\n",
		"destroy rate":       "[testbed]\ndestroy_rate = 2.0\n",
		"not toml":           "[device\n",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			assert.ErrorIs(t, err, core.ErrInvalidConfig)
		})
	}
}

func TestEncodeRoundTripsDefaults(t *testing.T) {
	data, err := Default().Encode()
	require.NoError(t, err)
	cfg, err := Parse(data)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "inflight.toml")
	require.NoError(t, os.WriteFile(path, []byte("[jobs]\nworkers = 2\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Jobs.Workers)

	_, err = Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}

func TestRequiresRestart(t *testing.T) {
	cur := Default()
	next := cur
	next.Log.Level = "debug"
	next.Testbed.Frames = 10
	assert.False(t, cur.RequiresRestart(next))

	next.Device.BufferCount = 3
	assert.True(t, cur.RequiresRestart(next))
}
