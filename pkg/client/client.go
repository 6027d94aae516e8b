// Package client is the remote side of a session. It instantiates the
// entities the server spawns, applies their state, runs RPCs and sends
// commands and client authoritative state back.
//
// Like the server, a Client is driven from one goroutine through
// EarlyUpdate and LateUpdate.
package client

import (
	"cmp"
	"context"
	"slices"
	"time"

	"github.com/QYUbit/netsync/pkg/metrics"
	"github.com/QYUbit/netsync/pkg/netlog"
	"github.com/QYUbit/netsync/pkg/protocol"
	"github.com/QYUbit/netsync/pkg/replica"
	"github.com/QYUbit/netsync/pkg/timesync"
	"github.com/QYUbit/netsync/pkg/transport"
)

// serverLink lets a replica.Connection write to a client transport.
type serverLink struct {
	t transport.ClientTransport
}

func (l serverLink) Send(_ string, data []byte, channel int) error {
	return l.t.Send(data, channel)
}

func (l serverLink) MaxPacketSize(channel int) int {
	return l.t.MaxPacketSize(channel)
}

type Client struct {
	opts      Options
	logger    netlog.Logger
	metrics   metrics.Recorder
	transport transport.ClientTransport
	clock     timesync.Clock
	calls     *replica.RemoteCalls
	handlers  *protocol.Handlers[*replica.Connection]
	timeline  *timesync.Timeline

	conn      *replica.Connection
	connected bool
	ready     bool

	spawned       map[uint32]*replica.Entity
	prefabs       map[uint32]prefab
	sceneEntities map[uint64]*replica.Entity
	localPlayer   *replica.Entity
	spawnFinished bool

	sendInterval float64
	lastSend     float64
	lastPing     float64
	lastStep     float64
}

func NewClient(opts Options) (*Client, error) {
	if opts.Transport == nil {
		return nil, ErrNoTransport
	}
	opts.defaults()

	c := &Client{
		opts:          opts,
		logger:        opts.Logger,
		metrics:       opts.Metrics,
		transport:     opts.Transport,
		clock:         opts.Clock,
		calls:         opts.RemoteCalls,
		handlers:      protocol.NewHandlers[*replica.Connection](),
		timeline:      timesync.NewTimeline(opts.Timeline),
		spawned:       make(map[uint32]*replica.Entity),
		prefabs:       make(map[uint32]prefab),
		sceneEntities: make(map[uint64]*replica.Entity),
		sendInterval:  1 / float64(opts.TickRate),
	}
	if err := c.registerHandlers(); err != nil {
		return nil, err
	}
	return c, nil
}

// ==================================================================
// Lifecycle
// ==================================================================

func (c *Client) Connect(ctx context.Context) error {
	if c.connected {
		return ErrAlreadyConnected
	}
	if err := c.transport.Connect(ctx); err != nil {
		return err
	}

	c.conn = replica.NewConnection("server", "", serverLink{t: c.transport}, c.clock)
	c.conn.Unbatcher().SetLimits(c.opts.Limits)
	c.conn.SetAuthenticated(true)
	c.conn.OnMessageOut(func(id uint16, channel, bytes int) {
		c.metrics.MessageOut(protocol.NameOf(id), channel, bytes, 1)
	})
	c.connected = true
	c.spawnFinished = true

	now := c.clock.Seconds()
	c.lastSend, c.lastPing, c.lastStep = now, now, now
	c.logger.Info("connected to server")
	if c.opts.OnConnect != nil {
		c.opts.OnConnect()
	}
	return nil
}

// Run connects and drives both update phases at the tick rate until ctx is
// done or the server goes away.
func (c *Client) Run(ctx context.Context) error {
	if !c.connected {
		if err := c.Connect(ctx); err != nil {
			return err
		}
	}

	ticker := time.NewTicker(time.Second / time.Duration(c.opts.TickRate))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			c.EarlyUpdate()
			if !c.connected {
				return ErrNotConnected
			}
			c.LateUpdate()
		}
	}
}

// Close flushes what is queued, closes the transport and clears every
// spawned entity.
func (c *Client) Close() error {
	if !c.connected {
		return ErrNotConnected
	}
	if err := c.conn.Flush(); err != nil {
		c.logger.Debug("failed to flush before close", "error", err)
	}
	err := c.transport.Close()
	c.disconnected()
	return err
}

func (c *Client) disconnected() {
	if !c.connected {
		return
	}
	c.connected = false
	c.ready = false

	for _, e := range c.Spawned() {
		c.removeEntity(e, true)
	}
	c.conn.Cleanup()
	c.timeline.Reset()

	c.logger.Info("disconnected from server")
	if c.opts.OnDisconnect != nil {
		c.opts.OnDisconnect()
	}
}

func (c *Client) Connected() bool {
	return c.connected
}

// Ready tells the server the client can receive entities. The server
// answers with the current spawn set.
func (c *Client) Ready() error {
	if !c.connected {
		return ErrNotConnected
	}
	if c.ready {
		return nil
	}
	if err := c.conn.Send(&protocol.ReadyMessage{}, transport.ChannelReliable); err != nil {
		return err
	}
	c.ready = true
	return nil
}

func (c *Client) IsReady() bool {
	return c.ready
}

// AddPlayer asks the server for a player entity.
func (c *Client) AddPlayer() error {
	if !c.ready {
		return ErrNotReady
	}
	return c.conn.Send(&protocol.AddPlayerMessage{}, transport.ChannelReliable)
}

// EarlyUpdate drains the transport and advances the interpolation timeline.
func (c *Client) EarlyUpdate() {
	if !c.connected {
		return
	}
	start := time.Now()
	defer metrics.Since(c.metrics, "early", start)

	for {
		select {
		case msg, ok := <-c.transport.Messages():
			if !ok {
				c.disconnected()
				return
			}
			c.onData(msg.Data, msg.Channel)
			if !c.connected {
				return
			}
			continue
		case err, ok := <-c.transport.Errors():
			if ok {
				c.logger.Warn("transport error", "error", err)
				continue
			}
		default:
		}
		break
	}

	select {
	case <-c.transport.Done():
		c.disconnected()
		return
	default:
	}

	now := c.clock.Seconds()
	c.timeline.Step(now - c.lastStep)
	c.lastStep = now
}

// LateUpdate sends owned client authoritative state once per send interval
// and flushes queued messages.
func (c *Client) LateUpdate() {
	if !c.connected {
		return
	}
	start := time.Now()
	defer metrics.Since(c.metrics, "late", start)

	now := c.clock.Seconds()
	if timesync.Elapsed(now, c.sendInterval, &c.lastSend) {
		c.broadcast(now)
	}
	if c.opts.PingInterval > 0 && timesync.Elapsed(now, c.opts.PingInterval.Seconds(), &c.lastPing) {
		c.send(&protocol.PingMessage{LocalTime: now}, transport.ChannelUnreliable)
	}

	if err := c.conn.Flush(); err != nil {
		c.logger.Warn("failed to flush", "error", err)
	}
}

func (c *Client) broadcast(now float64) {
	if !c.ready {
		return
	}
	c.send(&protocol.TimeSnapshotMessage{}, transport.ChannelUnreliable)

	for _, e := range ownedSorted(c.spawned) {
		c.sendState(e, now)
	}
}

// ==================================================================
// Lookup
// ==================================================================

func (c *Client) Handlers() *protocol.Handlers[*replica.Connection] {
	return c.handlers
}

func (c *Client) RemoteCalls() *replica.RemoteCalls {
	return c.calls
}

// Connection is the server as seen by this client. It is nil before Connect.
func (c *Client) Connection() *replica.Connection {
	return c.conn
}

func (c *Client) Timeline() *timesync.Timeline {
	return c.timeline
}

func (c *Client) RTT() float64 {
	if c.conn == nil {
		return 0
	}
	return c.conn.RTT().Value()
}

func (c *Client) LocalPlayer() *replica.Entity {
	return c.localPlayer
}

func (c *Client) Entity(netID uint32) (*replica.Entity, bool) {
	e, ok := c.spawned[netID]
	return e, ok
}

// Spawned returns a snapshot of the spawned entities ordered by net id.
func (c *Client) Spawned() []*replica.Entity {
	out := make([]*replica.Entity, 0, len(c.spawned))
	for _, e := range c.spawned {
		out = append(out, e)
	}
	slices.SortFunc(out, func(a, b *replica.Entity) int { return cmp.Compare(a.NetID(), b.NetID()) })
	return out
}

func (c *Client) send(msg protocol.Message, channel int) {
	if err := c.conn.Send(msg, channel); err != nil {
		c.logger.Warn("failed to queue message", "msg", protocol.NameOf(msg.ID()), "error", err)
	}
}
