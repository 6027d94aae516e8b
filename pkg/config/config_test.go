package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func flags(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs)
	require.NoError(t, fs.Parse(args))
	return fs
}

func TestDefaults(t *testing.T) {
	c, err := Load(nil)
	require.NoError(t, err)
	assert.Equal(t, Default(), c)
	assert.Equal(t, time.Second/30, c.SendInterval())
	assert.InDelta(t, 1.0/30, c.Timeline().SendInterval, 1e-9)
}

func TestPrecedence(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "netsync.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`
tick_rate: 20
max_connections: 8
owned_objects_policy: keep
snapshot:
  buffer_limit: 16
`), 0o600))

	t.Setenv("NETSYNC_MAX_CONNECTIONS", "12")
	t.Setenv("NETSYNC_SNAPSHOT_CATCHUP_SPEED", "0.5")
	t.Setenv("NETSYNC_DISCONNECT_INACTIVE_TIMEOUT", "90s")

	c, err := Load(flags(t, "--config", file, "--tick-rate", "60"))
	require.NoError(t, err)

	assert.Equal(t, 60, c.TickRate, "flag beats file")
	assert.Equal(t, 12, c.MaxConnections, "env beats file")
	assert.Equal(t, KeepOwned, c.OwnedObjectsPolicy)
	assert.Equal(t, 16, c.Snapshot.BufferLimit)
	assert.Equal(t, 0.5, c.Snapshot.CatchupSpeed)
	assert.Equal(t, 90*time.Second, c.DisconnectInactiveTimeout)
	assert.Equal(t, Default().Transport, c.Transport, "untouched keys keep defaults")
}

func TestUnchangedFlagsDoNotOverrideEnv(t *testing.T) {
	t.Setenv("NETSYNC_TRANSPORT", "websocket")
	c, err := Load(flags(t))
	require.NoError(t, err)
	assert.Equal(t, "websocket", c.Transport)
}

func TestMissingConfigFile(t *testing.T) {
	_, err := Load(flags(t, "--config", filepath.Join(t.TempDir(), "absent.yaml")))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cases := map[string]func(c *Config){
		"zero tick rate":       func(c *Config) { c.TickRate = 0 },
		"no connections":       func(c *Config) { c.MaxConnections = 0 },
		"negative timeout":     func(c *Config) { c.DisconnectInactiveTimeout = -time.Second },
		"negative sync":        func(c *Config) { c.DefaultSyncInterval = -1 },
		"unknown policy":       func(c *Config) { c.OwnedObjectsPolicy = "recycle" },
		"unknown transport":    func(c *Config) { c.Transport = "carrier-pigeon" },
		"huge strings":         func(c *Config) { c.Limits.MaxStringLength = 1 << 20 },
		"zero blob limit":      func(c *Config) { c.Limits.MaxBlobLength = 0 },
		"zero snapshot buffer": func(c *Config) { c.Snapshot.BufferLimit = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := Default()
			mutate(&c)
			assert.Error(t, c.Validate())
		})
	}
	assert.NoError(t, Default().Validate())
}

func TestWireLimits(t *testing.T) {
	c := Default()
	c.Limits.MaxCollectionLength = 10
	assert.Equal(t, 10, c.WireLimits().MaxCollectionLength)
}
