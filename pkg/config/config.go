// Package config loads netsync settings from defaults, an optional config
// file, NETSYNC_* environment variables and command line flags, in rising
// order of precedence.
package config

import (
	"strings"
	"time"

	"github.com/QYUbit/netsync/pkg/timesync"
	"github.com/QYUbit/netsync/pkg/wire"
	"github.com/rotisserie/eris"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const EnvPrefix = "NETSYNC"

type OwnedObjectsPolicy string

const (
	// DestroyOwned destroys a connection's entities when it disconnects.
	DestroyOwned OwnedObjectsPolicy = "destroy"
	// KeepOwned keeps them spawned and strips their authority.
	KeepOwned OwnedObjectsPolicy = "keep"
)

type SnapshotConfig struct {
	BufferTimeMultiplier       float64 `mapstructure:"buffer_time_multiplier"`
	BufferLimit                int     `mapstructure:"buffer_limit"`
	CatchupSpeed               float64 `mapstructure:"catchup_speed"`
	SlowdownSpeed              float64 `mapstructure:"slowdown_speed"`
	CatchupNegativeThreshold   float64 `mapstructure:"catchup_negative_threshold"`
	CatchupPositiveThreshold   float64 `mapstructure:"catchup_positive_threshold"`
	DriftEmaDuration           float64 `mapstructure:"drift_ema_duration"`
	DeliveryTimeEmaDuration    float64 `mapstructure:"delivery_time_ema_duration"`
	DynamicAdjustment          bool    `mapstructure:"dynamic_adjustment"`
	DynamicAdjustmentTolerance float64 `mapstructure:"dynamic_adjustment_tolerance"`
}

type LimitsConfig struct {
	MaxStringLength     int `mapstructure:"max_string_length"`
	MaxBlobLength       int `mapstructure:"max_blob_length"`
	MaxCollectionLength int `mapstructure:"max_collection_length"`
}

type Config struct {
	TickRate                      int                `mapstructure:"tick_rate"`
	MaxConnections                int                `mapstructure:"max_connections"`
	DisconnectInactiveConnections bool               `mapstructure:"disconnect_inactive_connections"`
	DisconnectInactiveTimeout     time.Duration      `mapstructure:"disconnect_inactive_timeout"`
	ExceptionsDisconnect          bool               `mapstructure:"exceptions_disconnect"`
	DefaultSyncInterval           time.Duration      `mapstructure:"default_sync_interval"`
	OwnedObjectsPolicy            OwnedObjectsPolicy `mapstructure:"owned_objects_policy"`
	PingInterval                  time.Duration      `mapstructure:"ping_interval"`

	ListenAddress string `mapstructure:"listen_address"`
	Transport     string `mapstructure:"transport"`
	LogLevel      string `mapstructure:"log_level"`
	LogFormat     string `mapstructure:"log_format"`
	StatsdAddress string `mapstructure:"statsd_address"`

	Snapshot SnapshotConfig `mapstructure:"snapshot"`
	Limits   LimitsConfig   `mapstructure:"limits"`
}

func Default() Config {
	tl := timesync.DefaultTimelineConfig(30)
	return Config{
		TickRate:                      30,
		MaxConnections:                100,
		DisconnectInactiveConnections: true,
		DisconnectInactiveTimeout:     60 * time.Second,
		ExceptionsDisconnect:          true,
		OwnedObjectsPolicy:            DestroyOwned,
		PingInterval:                  2 * time.Second,
		ListenAddress:                 ":7777",
		Transport:                     "quic",
		LogLevel:                      "info",
		LogFormat:                     "json",
		Snapshot: SnapshotConfig{
			BufferTimeMultiplier:       tl.BufferTimeMultiplier,
			BufferLimit:                tl.BufferLimit,
			CatchupSpeed:               tl.CatchupSpeed,
			SlowdownSpeed:              tl.SlowdownSpeed,
			CatchupNegativeThreshold:   tl.CatchupNegativeThreshold,
			CatchupPositiveThreshold:   tl.CatchupPositiveThreshold,
			DriftEmaDuration:           tl.DriftEmaDuration,
			DeliveryTimeEmaDuration:    tl.DeliveryTimeEmaDuration,
			DynamicAdjustment:          tl.DynamicAdjustment,
			DynamicAdjustmentTolerance: tl.DynamicAdjustmentTolerance,
		},
		Limits: LimitsConfig{
			MaxStringLength:     wire.DefaultLimits.MaxStringLength,
			MaxBlobLength:       wire.DefaultLimits.MaxBlobLength,
			MaxCollectionLength: wire.DefaultLimits.MaxCollectionLength,
		},
	}
}

// setDefaults registers every key, which also makes each of them
// reachable through the environment.
func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("tick_rate", d.TickRate)
	v.SetDefault("max_connections", d.MaxConnections)
	v.SetDefault("disconnect_inactive_connections", d.DisconnectInactiveConnections)
	v.SetDefault("disconnect_inactive_timeout", d.DisconnectInactiveTimeout)
	v.SetDefault("exceptions_disconnect", d.ExceptionsDisconnect)
	v.SetDefault("default_sync_interval", d.DefaultSyncInterval)
	v.SetDefault("owned_objects_policy", string(d.OwnedObjectsPolicy))
	v.SetDefault("ping_interval", d.PingInterval)
	v.SetDefault("listen_address", d.ListenAddress)
	v.SetDefault("transport", d.Transport)
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("log_format", d.LogFormat)
	v.SetDefault("statsd_address", d.StatsdAddress)

	v.SetDefault("snapshot.buffer_time_multiplier", d.Snapshot.BufferTimeMultiplier)
	v.SetDefault("snapshot.buffer_limit", d.Snapshot.BufferLimit)
	v.SetDefault("snapshot.catchup_speed", d.Snapshot.CatchupSpeed)
	v.SetDefault("snapshot.slowdown_speed", d.Snapshot.SlowdownSpeed)
	v.SetDefault("snapshot.catchup_negative_threshold", d.Snapshot.CatchupNegativeThreshold)
	v.SetDefault("snapshot.catchup_positive_threshold", d.Snapshot.CatchupPositiveThreshold)
	v.SetDefault("snapshot.drift_ema_duration", d.Snapshot.DriftEmaDuration)
	v.SetDefault("snapshot.delivery_time_ema_duration", d.Snapshot.DeliveryTimeEmaDuration)
	v.SetDefault("snapshot.dynamic_adjustment", d.Snapshot.DynamicAdjustment)
	v.SetDefault("snapshot.dynamic_adjustment_tolerance", d.Snapshot.DynamicAdjustmentTolerance)

	v.SetDefault("limits.max_string_length", d.Limits.MaxStringLength)
	v.SetDefault("limits.max_blob_length", d.Limits.MaxBlobLength)
	v.SetDefault("limits.max_collection_length", d.Limits.MaxCollectionLength)
}

// flagKeys maps flag names to config keys.
var flagKeys = map[string]string{
	"tick-rate":             "tick_rate",
	"max-connections":       "max_connections",
	"inactive-timeout":      "disconnect_inactive_timeout",
	"owned-objects":         "owned_objects_policy",
	"listen":                "listen_address",
	"transport":             "transport",
	"log-level":             "log_level",
	"log-format":            "log_format",
	"statsd":                "statsd_address",
	"ping-interval":         "ping_interval",
	"sync-interval":         "default_sync_interval",
	"exceptions-disconnect": "exceptions_disconnect",
}

// RegisterFlags adds the command line flags Load understands to fs.
func RegisterFlags(fs *pflag.FlagSet) {
	d := Default()
	fs.String("config", "", "path to a yaml, toml or json config file")
	fs.Int("tick-rate", d.TickRate, "server broadcast and client send rate in Hz")
	fs.Int("max-connections", d.MaxConnections, "maximum number of concurrent connections")
	fs.Duration("inactive-timeout", d.DisconnectInactiveTimeout, "disconnect connections silent for this long")
	fs.String("owned-objects", string(d.OwnedObjectsPolicy), "what happens to owned entities on disconnect: destroy or keep")
	fs.String("listen", d.ListenAddress, "listen address")
	fs.String("transport", d.Transport, "transport: quic or websocket")
	fs.String("log-level", d.LogLevel, "log level")
	fs.String("log-format", d.LogFormat, "log format: json or console")
	fs.String("statsd", d.StatsdAddress, "dogstatsd address, empty disables metrics")
	fs.Duration("ping-interval", d.PingInterval, "interval between pings")
	fs.Duration("sync-interval", d.DefaultSyncInterval, "default minimum interval between component syncs")
	fs.Bool("exceptions-disconnect", d.ExceptionsDisconnect, "disconnect peers whose remote calls fail")
}

// Load builds a Config. fs may be nil and, when it carries a non-empty
// "config" flag, names the file to read.
func Load(fs *pflag.FlagSet) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if fs != nil {
		for name, key := range flagKeys {
			if f := fs.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return Config{}, eris.Wrapf(err, "binding flag %s", name)
				}
			}
		}
		if f := fs.Lookup("config"); f != nil && f.Value.String() != "" {
			v.SetConfigFile(f.Value.String())
			if err := v.ReadInConfig(); err != nil {
				return Config{}, eris.Wrap(err, "couldn't load config")
			}
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, eris.Wrap(err, "couldn't read config")
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c Config) Validate() error {
	if c.TickRate <= 0 {
		return eris.New("tick rate must be positive")
	}
	if c.MaxConnections <= 0 {
		return eris.New("max connections must be positive")
	}
	if c.DisconnectInactiveTimeout < 0 {
		return eris.New("inactive timeout cannot be negative")
	}
	if c.DefaultSyncInterval < 0 {
		return eris.New("sync interval cannot be negative")
	}
	if c.PingInterval < 0 {
		return eris.New("ping interval cannot be negative")
	}
	switch c.OwnedObjectsPolicy {
	case DestroyOwned, KeepOwned:
	default:
		return eris.Errorf("unknown owned objects policy %q", c.OwnedObjectsPolicy)
	}
	switch c.Transport {
	case "quic", "websocket":
	default:
		return eris.Errorf("unknown transport %q", c.Transport)
	}
	if c.Limits.MaxStringLength <= 0 || c.Limits.MaxStringLength > wire.MaxStringLength {
		return eris.Errorf("max string length must be in 1..%d", wire.MaxStringLength)
	}
	if c.Limits.MaxBlobLength <= 0 || c.Limits.MaxCollectionLength <= 0 {
		return eris.New("blob and collection limits must be positive")
	}
	if c.Snapshot.BufferLimit <= 0 || c.Snapshot.BufferTimeMultiplier <= 0 {
		return eris.New("snapshot buffer limit and multiplier must be positive")
	}
	return nil
}

// SendInterval is the time between two broadcasts.
func (c Config) SendInterval() time.Duration {
	return time.Second / time.Duration(c.TickRate)
}

func (c Config) Timeline() timesync.TimelineConfig {
	return timesync.TimelineConfig{
		SendInterval:               1 / float64(c.TickRate),
		BufferTimeMultiplier:       c.Snapshot.BufferTimeMultiplier,
		BufferLimit:                c.Snapshot.BufferLimit,
		CatchupSpeed:               c.Snapshot.CatchupSpeed,
		SlowdownSpeed:              c.Snapshot.SlowdownSpeed,
		CatchupNegativeThreshold:   c.Snapshot.CatchupNegativeThreshold,
		CatchupPositiveThreshold:   c.Snapshot.CatchupPositiveThreshold,
		DriftEmaDuration:           c.Snapshot.DriftEmaDuration,
		DeliveryTimeEmaDuration:    c.Snapshot.DeliveryTimeEmaDuration,
		DynamicAdjustment:          c.Snapshot.DynamicAdjustment,
		DynamicAdjustmentTolerance: c.Snapshot.DynamicAdjustmentTolerance,
	}
}

func (c Config) WireLimits() wire.Limits {
	return wire.Limits{
		MaxStringLength:     c.Limits.MaxStringLength,
		MaxBlobLength:       c.Limits.MaxBlobLength,
		MaxCollectionLength: c.Limits.MaxCollectionLength,
	}
}
