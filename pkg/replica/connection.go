package replica

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/QYUbit/netsync/pkg/batch"
	"github.com/QYUbit/netsync/pkg/protocol"
	"github.com/QYUbit/netsync/pkg/timesync"
	"github.com/QYUbit/netsync/pkg/wire"
	"github.com/rotisserie/eris"
)

// Sender is the part of a transport a connection writes batches to. data is
// only valid for the duration of the call.
type Sender interface {
	Send(connID string, data []byte, channel int) error
	MaxPacketSize(channel int) int
}

// Connection is one peer as seen by a session: readiness, authentication,
// what it observes, what it owns and its batching state.
type Connection struct {
	id      string
	address string
	sender  Sender
	clock   timesync.Clock

	ready         bool
	authenticated bool
	// AuthData is free for the authenticator to attach peer data.
	AuthData any

	observing map[*Entity]struct{}
	owned     map[*Entity]struct{}
	player    *Entity

	unbatcher   *batch.Unbatcher
	batchers    []*batch.Batcher
	flushWriter *wire.Writer

	lastMessageTime float64
	remoteTimestamp float64
	rtt             *timesync.RTT

	onMessageOut func(id uint16, channel, bytes int)
}

func NewConnection(id, address string, sender Sender, clock timesync.Clock) *Connection {
	return &Connection{
		id:          id,
		address:     address,
		sender:      sender,
		clock:       clock,
		observing:   make(map[*Entity]struct{}),
		owned:       make(map[*Entity]struct{}),
		unbatcher:   batch.NewUnbatcher(),
		flushWriter: wire.NewWriter(),
		rtt:         timesync.NewRTT(10),
	}
}

func (c *Connection) String() string {
	return fmt.Sprintf("connection(%s, %s)", c.id, c.address)
}

func (c *Connection) ID() string {
	return c.id
}

func (c *Connection) Address() string {
	return c.address
}

func (c *Connection) IsReady() bool {
	return c.ready
}

func (c *Connection) SetReady(v bool) {
	c.ready = v
}

func (c *Connection) IsAuthenticated() bool {
	return c.authenticated
}

func (c *Connection) SetAuthenticated(v bool) {
	c.authenticated = v
}

// Player is the entity added for this connection with AddPlayer, if any.
func (c *Connection) Player() *Entity {
	return c.player
}

func (c *Connection) SetPlayer(e *Entity) {
	c.player = e
}

func (c *Connection) Unbatcher() *batch.Unbatcher {
	return c.unbatcher
}

func (c *Connection) RTT() *timesync.RTT {
	return c.rtt
}

func (c *Connection) LastMessageTime() float64 {
	return c.lastMessageTime
}

// Touch records that the peer was heard from at now.
func (c *Connection) Touch(now float64) {
	c.lastMessageTime = now
}

// RemoteTimestamp is the timestamp of the batch currently being processed.
func (c *Connection) RemoteTimestamp() float64 {
	return c.remoteTimestamp
}

func (c *Connection) SetRemoteTimestamp(ts float64) {
	c.remoteTimestamp = ts
}

// ======================
// Owned and observed
// ======================

func sortedEntities(set map[*Entity]struct{}) []*Entity {
	out := make([]*Entity, 0, len(set))
	for e := range set {
		out = append(out, e)
	}
	slices.SortFunc(out, func(a, b *Entity) int {
		return cmp.Compare(a.netID, b.netID)
	})
	return out
}

// Owned returns a snapshot of the owned entities in net id order.
func (c *Connection) Owned() []*Entity {
	return sortedEntities(c.owned)
}

func (c *Connection) Owns(e *Entity) bool {
	_, ok := c.owned[e]
	return ok
}

func (c *Connection) AddOwned(e *Entity) {
	c.owned[e] = struct{}{}
}

func (c *Connection) RemoveOwned(e *Entity) {
	delete(c.owned, e)
}

// Observing returns a snapshot of the observed entities in net id order.
func (c *Connection) Observing() []*Entity {
	return sortedEntities(c.observing)
}

func (c *Connection) ObservingCount() int {
	return len(c.observing)
}

func (c *Connection) IsObserving(e *Entity) bool {
	_, ok := c.observing[e]
	return ok
}

// AddObserving reports false if e was already observed.
func (c *Connection) AddObserving(e *Entity) bool {
	if _, ok := c.observing[e]; ok {
		return false
	}
	c.observing[e] = struct{}{}
	return true
}

func (c *Connection) RemoveObserving(e *Entity) bool {
	if _, ok := c.observing[e]; !ok {
		return false
	}
	delete(c.observing, e)
	return true
}

// ======================
// Sending
// ======================

func (c *Connection) batcher(channel int) *batch.Batcher {
	for len(c.batchers) <= channel {
		c.batchers = append(c.batchers, nil)
	}
	if c.batchers[channel] == nil {
		c.batchers[channel] = batch.NewBatcher(c.sender.MaxPacketSize(channel))
	}
	return c.batchers[channel]
}

// Send packs msg and queues it on channel. Nothing is written to the
// transport before Flush.
func (c *Connection) Send(msg protocol.Message, channel int) error {
	if c.sender == nil {
		return ErrNoSender
	}

	w := wire.GetWriter()
	defer wire.PutWriter(w)

	if err := protocol.Pack(w, msg); err != nil {
		return err
	}

	limit := c.sender.MaxPacketSize(channel) - batch.HeaderSize
	if w.Len() > limit {
		return eris.Wrapf(ErrMessageTooLarge, "%s of %d bytes on channel %d, max %d",
			protocol.NameOf(msg.ID()), w.Len(), channel, limit)
	}

	c.batcher(channel).AddMessage(w.Bytes(), c.clock.Seconds())
	if c.onMessageOut != nil {
		c.onMessageOut(msg.ID(), channel, w.Len())
	}
	return nil
}

// OnMessageOut installs fn to be told about every queued message.
func (c *Connection) OnMessageOut(fn func(id uint16, channel, bytes int)) {
	c.onMessageOut = fn
}

// Flush hands every pending batch to the transport, channel by channel.
func (c *Connection) Flush() error {
	if c.sender == nil {
		return ErrNoSender
	}

	var lastErr error
	for channel, b := range c.batchers {
		if b == nil {
			continue
		}
		for b.MakeNextBatch(c.flushWriter) {
			if err := c.sender.Send(c.id, c.flushWriter.Bytes(), channel); err != nil {
				lastErr = err
			}
			c.flushWriter.Reset()
		}
	}
	return lastErr
}

// Cleanup drops all queued batches in both directions.
func (c *Connection) Cleanup() {
	for _, b := range c.batchers {
		if b != nil {
			b.Clear()
		}
	}
	c.unbatcher.Clear()
}
