package client

import (
	"github.com/QYUbit/netsync/pkg/protocol"
	"github.com/QYUbit/netsync/pkg/replica"
	"github.com/QYUbit/netsync/pkg/serializer"
	"github.com/rotisserie/eris"
)

// SendCommand queues a call of hash on the server side twin of comp.
// Commands registered with authority are refused locally for entities this
// client does not own.
func (c *Client) SendCommand(comp replica.Component, hash uint16, payload []byte, channel int) error {
	if !c.connected {
		return ErrNotConnected
	}
	if !c.ready {
		return ErrNotReady
	}

	e := comp.Base().Entity()
	if e == nil || !e.IsSpawned() {
		return ErrNotSpawned
	}
	if _, ok := c.spawned[e.NetID()]; !ok {
		return eris.Wrapf(ErrNotSpawned, "%s", e)
	}
	if inv, ok := c.calls.Lookup(replica.KindCommand, hash); ok && inv.RequiresAuthority && !e.IsOwned() {
		return eris.Wrapf(ErrNotOwner, "%s on %s", inv.Name, e)
	}

	return c.conn.Send(&protocol.CommandMessage{
		NetID:          e.NetID(),
		ComponentIndex: byte(comp.Base().Index()),
		FunctionHash:   hash,
		Payload:        payload,
	}, channel)
}

// SendCommandValue encodes args with ser and sends them like SendCommand.
func SendCommandValue[A any](c *Client, ser serializer.Serializer, comp replica.Component, hash uint16, args A, channel int) error {
	payload, err := ser.Marshal(args)
	if err != nil {
		return eris.Wrap(err, "encode command arguments")
	}
	return c.SendCommand(comp, hash, payload, channel)
}
