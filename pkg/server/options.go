package server

import (
	"time"

	"github.com/QYUbit/netsync/pkg/config"
	"github.com/QYUbit/netsync/pkg/metrics"
	"github.com/QYUbit/netsync/pkg/netlog"
	"github.com/QYUbit/netsync/pkg/replica"
	"github.com/QYUbit/netsync/pkg/timesync"
	"github.com/QYUbit/netsync/pkg/transport"
	"github.com/QYUbit/netsync/pkg/wire"
)

type Options struct {
	Transport   transport.Transport
	Logger      netlog.Logger
	Metrics     metrics.Recorder
	Clock       timesync.Clock
	RemoteCalls *replica.RemoteCalls
	// Policy decides visibility. Nil shows every entity to every ready
	// connection.
	Policy replica.Policy

	TickRate                      int
	MaxConnections                int
	DisconnectInactiveConnections bool
	DisconnectInactiveTimeout     time.Duration
	ExceptionsDisconnect          bool
	DefaultSyncInterval           time.Duration
	OwnedObjects                  config.OwnedObjectsPolicy
	PingInterval                  time.Duration
	Limits                        wire.Limits

	// ManualAuthentication leaves new connections unauthenticated until
	// Authenticate is called.
	ManualAuthentication bool

	OnConnect    func(conn *replica.Connection)
	OnDisconnect func(conn *replica.Connection)
	// OnAddPlayer answers a client's request for a player entity, usually
	// by calling AddPlayer.
	OnAddPlayer func(conn *replica.Connection) error
}

// OptionsFromConfig copies the session settings of c. Collaborators such as
// the transport are left for the caller.
func OptionsFromConfig(c config.Config) Options {
	return Options{
		TickRate:                      c.TickRate,
		MaxConnections:                c.MaxConnections,
		DisconnectInactiveConnections: c.DisconnectInactiveConnections,
		DisconnectInactiveTimeout:     c.DisconnectInactiveTimeout,
		ExceptionsDisconnect:          c.ExceptionsDisconnect,
		DefaultSyncInterval:           c.DefaultSyncInterval,
		OwnedObjects:                  c.OwnedObjectsPolicy,
		PingInterval:                  c.PingInterval,
		Limits:                        c.WireLimits(),
	}
}

func (o *Options) defaults() {
	d := config.Default()
	o.Logger = netlog.OrNop(o.Logger)
	o.Metrics = metrics.OrNop(o.Metrics)
	if o.Clock == nil {
		o.Clock = timesync.NewSystemClock()
	}
	if o.RemoteCalls == nil {
		o.RemoteCalls = replica.NewRemoteCalls()
	}
	if o.TickRate <= 0 {
		o.TickRate = d.TickRate
	}
	if o.MaxConnections <= 0 {
		o.MaxConnections = d.MaxConnections
	}
	if o.OwnedObjects == "" {
		o.OwnedObjects = d.OwnedObjectsPolicy
	}
	if o.Limits == (wire.Limits{}) {
		o.Limits = wire.DefaultLimits
	}
}
