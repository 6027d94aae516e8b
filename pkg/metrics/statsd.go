package metrics

import (
	"strconv"
	"time"

	ddstatsd "github.com/DataDog/datadog-go/v5/statsd"
	"github.com/QYUbit/netsync/pkg/netlog"
	"github.com/rotisserie/eris"
)

const Namespace = "netsync."

// Statsd forwards diagnostics to a dogstatsd agent.
type Statsd struct {
	client ddstatsd.ClientInterface
	log    netlog.Logger
}

func NewStatsd(address string, tags []string, log netlog.Logger) (*Statsd, error) {
	if address == "" {
		return nil, eris.New("address must not be empty")
	}
	opts := []ddstatsd.Option{
		ddstatsd.WithNamespace(Namespace),
	}
	if len(tags) > 0 {
		opts = append(opts, ddstatsd.WithTags(tags))
	}

	client, err := ddstatsd.New(address, opts...)
	if err != nil {
		return nil, eris.Wrapf(err, "statsd client for %s", address)
	}
	return NewStatsdWithClient(client, log), nil
}

func NewStatsdWithClient(client ddstatsd.ClientInterface, log netlog.Logger) *Statsd {
	if client == nil {
		client = &ddstatsd.NoOpClient{}
	}
	return &Statsd{client: client, log: netlog.OrNop(log)}
}

func messageTags(name string, channel int) []string {
	return []string{"message:" + name, "channel:" + strconv.Itoa(channel)}
}

func (s *Statsd) warn(err error, metric string) {
	if err != nil {
		s.log.Warn("failed to emit stat", "metric", metric, "error", err)
	}
}

func (s *Statsd) MessageOut(name string, channel int, bytes, count int) {
	tags := messageTags(name, channel)
	s.warn(s.client.Count("message.out.count", int64(count), tags, 1), "message.out.count")
	s.warn(s.client.Count("message.out.bytes", int64(bytes*count), tags, 1), "message.out.bytes")
}

func (s *Statsd) MessageIn(name string, channel int, bytes int) {
	tags := messageTags(name, channel)
	s.warn(s.client.Count("message.in.count", 1, tags, 1), "message.in.count")
	s.warn(s.client.Count("message.in.bytes", int64(bytes), tags, 1), "message.in.bytes")
}

func (s *Statsd) Tick(stage string, d time.Duration) {
	s.warn(s.client.Timing("tick", d, []string{"stage:" + stage}, 1), "tick")
}

func (s *Statsd) Gauge(name string, v float64) {
	s.warn(s.client.Gauge(name, v, nil, 1), name)
}

func (s *Statsd) Close() error {
	return s.client.Close()
}
