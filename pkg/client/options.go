package client

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
	Transport   transport.ClientTransport
	Logger      netlog.Logger
	Metrics     metrics.Recorder
	Clock       timesync.Clock
	RemoteCalls *replica.RemoteCalls

	// TickRate must match the server's, the timeline is tuned to it.
	TickRate     int
	PingInterval time.Duration
	Timeline     timesync.TimelineConfig
	Limits       wire.Limits

	OnConnect    func()
	OnDisconnect func()
	// OnNotReady runs when the server takes the ready state away, usually
	// before a scene change.
	OnNotReady func()
}

// OptionsFromConfig copies the session settings of c.
func OptionsFromConfig(c config.Config) Options {
	return Options{
		TickRate:     c.TickRate,
		PingInterval: c.PingInterval,
		Timeline:     c.Timeline(),
		Limits:       c.WireLimits(),
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
	if o.Timeline.SendInterval <= 0 {
		o.Timeline = timesync.DefaultTimelineConfig(o.TickRate)
	}
	if o.Limits == (wire.Limits{}) {
		o.Limits = wire.DefaultLimits
	}
}
