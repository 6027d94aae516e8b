package client

import (
	"errors"

	"github.com/QYUbit/netsync/pkg/protocol"
	"github.com/QYUbit/netsync/pkg/replica"
	"github.com/QYUbit/netsync/pkg/timesync"
	"github.com/QYUbit/netsync/pkg/transport"
	"github.com/QYUbit/netsync/pkg/wire"
)

// ==================================================================
// Inbound
// ==================================================================

func (c *Client) onData(data []byte, channel int) {
	if !c.conn.Unbatcher().AddBatch(data) {
		c.logger.Error("received malformed batch", "bytes", len(data))
		c.abort()
		return
	}

	for c.connected {
		r, ts, ok := c.conn.Unbatcher().NextMessage()
		if !ok {
			break
		}
		c.conn.SetRemoteTimestamp(ts)
		c.conn.Touch(c.clock.Seconds())
		if !c.handleMessage(r, channel) {
			return
		}
	}

	if n := c.conn.Unbatcher().BatchesCount(); n > 0 {
		c.logger.Error("unprocessed batches left after handling", "batches", n)
	}
}

// handleMessage dispatches one message. A message that cannot be consumed
// leaves the rest of the batch unreadable, so it ends the session.
func (c *Client) handleMessage(r *wire.Reader, channel int) bool {
	start := r.Position()

	id, err := protocol.UnpackID(r)
	if err != nil {
		c.logger.Error("failed to read message header", "error", err)
		c.abort()
		return false
	}

	entry, ok := c.handlers.Lookup(id)
	if !ok {
		c.logger.Error("unknown message", "msgId", id)
		c.abort()
		return false
	}
	if err := entry.Invoke(c.conn, r, channel); err != nil {
		c.logger.Error("failed to handle message", "msgId", id, "msg", entry.Name, "error", err)
		c.abort()
		return false
	}

	c.metrics.MessageIn(entry.Name, channel, r.Position()-start)
	return true
}

func (c *Client) abort() {
	if err := c.transport.Close(); err != nil {
		c.logger.Debug("failed to close transport", "error", err)
	}
	c.disconnected()
}

func (c *Client) registerHandlers() error {
	h := c.handlers
	return errors.Join(
		protocol.Register(h, false, c.onSpawn),
		protocol.Register(h, false, c.onChangeOwner),
		protocol.Register(h, false, c.onSpawnStarted),
		protocol.Register(h, false, c.onSpawnFinished),
		protocol.Register(h, false, c.onObjectDestroy),
		protocol.Register(h, false, c.onObjectHide),
		protocol.Register(h, false, c.onEntityState),
		protocol.Register(h, false, c.onRpc),
		protocol.Register(h, false, c.onNotReady),
		protocol.Register(h, false, c.onTimeSnapshot),
		protocol.Register(h, false, c.onPing),
		protocol.Register(h, false, c.onPong),
	)
}

// ==================================================================
// State
// ==================================================================

// State for entities that are gone is dropped, a destroy can overtake a
// state message on another channel.
func (c *Client) onEntityState(_ *replica.Connection, msg *protocol.EntityStateMessage, _ int) error {
	e, ok := c.spawned[msg.NetID]
	if !ok {
		c.logger.Debug("state for unknown entity", "netId", msg.NetID)
		return nil
	}
	if err := e.DeserializeClient(wire.NewReaderWithLimits(msg.Payload, c.opts.Limits), false); err != nil {
		c.logger.Warn("failed to apply state", "entity", e.String(), "error", err)
	}
	return nil
}

func (c *Client) onRpc(_ *replica.Connection, msg *protocol.RpcMessage, _ int) error {
	e, ok := c.spawned[msg.NetID]
	if !ok {
		c.logger.Warn("rpc for unknown entity", "netId", msg.NetID, "hash", msg.FunctionHash)
		return nil
	}
	comp, ok := e.Component(int(msg.ComponentIndex))
	if !ok {
		c.logger.Warn("rpc for unknown component", "netId", msg.NetID, "component", msg.ComponentIndex)
		return nil
	}
	inv, ok := c.calls.Lookup(replica.KindRpc, msg.FunctionHash)
	if !ok {
		c.logger.Warn("unknown rpc", "netId", msg.NetID, "hash", msg.FunctionHash)
		return nil
	}
	if err := inv.Invoke(comp, wire.NewReaderWithLimits(msg.Payload, c.opts.Limits), nil); err != nil {
		c.logger.Warn("rpc failed", "entity", e.String(), "rpc", inv.Name, "error", err)
	}
	return nil
}

func (c *Client) onNotReady(*replica.Connection, *protocol.NotReadyMessage, int) error {
	c.ready = false
	c.logger.Debug("server set client not ready")
	if c.opts.OnNotReady != nil {
		c.opts.OnNotReady()
	}
	return nil
}

// ==================================================================
// Time
// ==================================================================

func (c *Client) onTimeSnapshot(conn *replica.Connection, _ *protocol.TimeSnapshotMessage, _ int) error {
	c.timeline.Insert(timesync.Snapshot{
		RemoteTime: conn.RemoteTimestamp(),
		LocalTime:  c.clock.Seconds(),
	})
	return nil
}

func (c *Client) onPing(_ *replica.Connection, msg *protocol.PingMessage, _ int) error {
	c.send(&protocol.PongMessage{LocalTime: msg.LocalTime}, transport.ChannelUnreliable)
	return nil
}

func (c *Client) onPong(conn *replica.Connection, msg *protocol.PongMessage, _ int) error {
	conn.RTT().Add(c.clock.Seconds(), msg.LocalTime)
	return nil
}
