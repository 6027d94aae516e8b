package server

import (
	"errors"

	"github.com/QYUbit/netsync/pkg/protocol"
	"github.com/QYUbit/netsync/pkg/replica"
	"github.com/QYUbit/netsync/pkg/transport"
	"github.com/QYUbit/netsync/pkg/wire"
	"github.com/rotisserie/eris"
)

func (s *Server) registerHandlers() error {
	h := s.handlers
	return errors.Join(
		protocol.Register(h, true, s.onReady),
		protocol.Register(h, true, s.onNotReady),
		protocol.Register(h, true, s.onAddPlayer),
		protocol.Register(h, true, s.onCommand),
		protocol.Register(h, true, s.onEntityState),
		protocol.Register(h, false, s.onPing),
		protocol.Register(h, false, s.onPong),
		protocol.Register(h, false, s.onTimeSnapshot),
	)
}

func (s *Server) onReady(conn *replica.Connection, _ *protocol.ReadyMessage, _ int) error {
	s.SetClientReady(conn)
	return nil
}

func (s *Server) onNotReady(conn *replica.Connection, _ *protocol.NotReadyMessage, _ int) error {
	s.setNotReady(conn, false)
	return nil
}

func (s *Server) onAddPlayer(conn *replica.Connection, _ *protocol.AddPlayerMessage, _ int) error {
	if s.opts.OnAddPlayer == nil {
		s.logger.Warn("add player requested but no handler is installed", "conn", conn.ID())
		return nil
	}
	if conn.Player() != nil {
		s.logger.Warn("add player requested twice", "conn", conn.ID())
		return nil
	}
	return s.opts.OnAddPlayer(conn)
}

// onCommand runs a client's remote call. Lookup misses and authority
// violations are warnings, since interest management can legitimately race
// with the client.
func (s *Server) onCommand(conn *replica.Connection, msg *protocol.CommandMessage, _ int) error {
	if !conn.IsReady() {
		s.logger.Warn("command from a connection that is not ready", "conn", conn.ID(), "netId", msg.NetID)
		return nil
	}

	e, ok := s.spawned[msg.NetID]
	if !ok {
		s.logger.Warn("command for unknown entity", "conn", conn.ID(), "netId", msg.NetID)
		return nil
	}
	c, ok := e.Component(int(msg.ComponentIndex))
	if !ok {
		s.logger.Warn("command for unknown component", "conn", conn.ID(), "netId", msg.NetID, "component", msg.ComponentIndex)
		return nil
	}
	inv, ok := s.calls.Lookup(replica.KindCommand, msg.FunctionHash)
	if !ok {
		s.logger.Warn("unknown command", "conn", conn.ID(), "netId", msg.NetID, "hash", msg.FunctionHash)
		return nil
	}
	if inv.RequiresAuthority && e.Owner() != conn {
		s.logger.Warn("command without authority", "conn", conn.ID(), "netId", msg.NetID, "command", inv.Name)
		return nil
	}

	err := inv.Invoke(c, wire.NewReaderWithLimits(msg.Payload, s.opts.Limits), conn)
	if err == nil {
		return nil
	}
	if s.opts.ExceptionsDisconnect {
		return eris.Wrapf(err, "command %s on %s", inv.Name, e)
	}
	s.logger.Warn("command failed", "conn", conn.ID(), "netId", msg.NetID, "command", inv.Name, "error", err)
	return nil
}

// onEntityState applies client authoritative state. Writes to server
// authoritative components are refused without dropping the client, other
// failures disconnect it when ExceptionsDisconnect is set.
func (s *Server) onEntityState(conn *replica.Connection, msg *protocol.EntityStateMessage, _ int) error {
	e, ok := s.spawned[msg.NetID]
	if !ok {
		s.logger.Debug("state for unknown entity", "conn", conn.ID(), "netId", msg.NetID)
		return nil
	}
	if e.Owner() != conn {
		s.logger.Warn("state from a connection that does not own the entity", "conn", conn.ID(), "netId", msg.NetID)
		return nil
	}

	err := e.DeserializeServer(wire.NewReaderWithLimits(msg.Payload, s.opts.Limits))
	if err == nil {
		return nil
	}
	if errors.Is(err, replica.ErrNotClientWritable) {
		s.logger.Warn("client wrote a server authoritative component", "conn", conn.ID(), "netId", msg.NetID, "error", err)
		return nil
	}
	if s.opts.ExceptionsDisconnect {
		return eris.Wrapf(err, "state for %s", e)
	}
	s.logger.Warn("failed to apply client state", "conn", conn.ID(), "netId", msg.NetID, "error", err)
	return nil
}

func (s *Server) onPing(conn *replica.Connection, msg *protocol.PingMessage, _ int) error {
	return conn.Send(&protocol.PongMessage{LocalTime: msg.LocalTime}, transport.ChannelUnreliable)
}

func (s *Server) onPong(conn *replica.Connection, msg *protocol.PongMessage, _ int) error {
	conn.RTT().Add(s.clock.Seconds(), msg.LocalTime)
	return nil
}

// Batch timestamps already carry the client's clock.
func (s *Server) onTimeSnapshot(*replica.Connection, *protocol.TimeSnapshotMessage, int) error {
	return nil
}

func (s *Server) sendPings(now float64) {
	ping := &protocol.PingMessage{LocalTime: now}
	for _, conn := range s.Connections() {
		if err := conn.Send(ping, transport.ChannelUnreliable); err != nil {
			s.logger.Debug("failed to queue ping", "conn", conn.ID(), "error", err)
		}
	}
}
