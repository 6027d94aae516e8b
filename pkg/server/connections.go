package server

import (
	"github.com/QYUbit/netsync/pkg/config"
	"github.com/QYUbit/netsync/pkg/protocol"
	"github.com/QYUbit/netsync/pkg/replica"
	"github.com/QYUbit/netsync/pkg/transport"
	"github.com/QYUbit/netsync/pkg/wire"
)

// ==================================================================
// Connect / disconnect
// ==================================================================

func (s *Server) drainConnections() {
	for {
		select {
		case c, ok := <-s.transport.Connections():
			if !ok {
				return
			}
			s.onConnect(c)
		default:
			return
		}
	}
}

func (s *Server) onConnect(c transport.Connection) {
	if _, dup := s.connections[c.ClientId]; dup {
		s.logger.Warn("duplicate connection id", "conn", c.ClientId)
		return
	}
	if len(s.connections) >= s.opts.MaxConnections {
		s.logger.Warn("rejecting connection, server is full", "conn", c.ClientId, "max", s.opts.MaxConnections)
		if err := s.transport.CloseClient(c.ClientId, 0, "server full"); err != nil {
			s.logger.Debug("failed to close rejected client", "conn", c.ClientId, "error", err)
		}
		return
	}

	conn := replica.NewConnection(c.ClientId, c.RemoteAddr, s.transport, s.clock)
	conn.Unbatcher().SetLimits(s.opts.Limits)
	conn.Touch(s.clock.Seconds())
	conn.OnMessageOut(func(id uint16, channel, bytes int) {
		s.metrics.MessageOut(protocol.NameOf(id), channel, bytes, 1)
	})
	if !s.opts.ManualAuthentication {
		conn.SetAuthenticated(true)
	}
	s.connections[c.ClientId] = conn

	s.logger.Info("client connected", "conn", c.ClientId, "address", c.RemoteAddr)
	if s.opts.OnConnect != nil {
		s.opts.OnConnect(conn)
	}
}

// Disconnect closes conn at the transport and forgets it right away.
func (s *Server) Disconnect(conn *replica.Connection, reason string) {
	if _, ok := s.connections[conn.ID()]; !ok {
		return
	}
	if err := conn.Flush(); err != nil {
		s.logger.Debug("failed to flush before disconnect", "conn", conn.ID(), "error", err)
	}
	if err := s.transport.CloseClient(conn.ID(), 0, reason); err != nil {
		s.logger.Debug("failed to close client", "conn", conn.ID(), "error", err)
	}
	s.removeConnection(conn)
}

// removeConnection drops conn from every observer set, then destroys or
// releases what it owned.
func (s *Server) removeConnection(conn *replica.Connection) {
	if _, ok := s.connections[conn.ID()]; !ok {
		return
	}
	delete(s.connections, conn.ID())
	conn.SetReady(false)

	for _, e := range conn.Observing() {
		e.DetachObserver(conn)
		conn.RemoveObserving(e)
	}

	for _, e := range conn.Owned() {
		if e.IsSceneEntity() || s.opts.OwnedObjects == config.KeepOwned {
			if err := s.SetOwner(e, nil); err != nil {
				s.logger.Warn("failed to release owned entity", "conn", conn.ID(), "entity", e.String(), "error", err)
			}
			continue
		}
		if err := s.Destroy(e); err != nil {
			s.logger.Warn("failed to destroy owned entity", "conn", conn.ID(), "entity", e.String(), "error", err)
		}
	}
	conn.SetPlayer(nil)
	conn.Cleanup()

	if s.opts.OnDisconnect != nil {
		s.opts.OnDisconnect(conn)
	}
}

func (s *Server) disconnectInactive(now float64) {
	timeout := s.opts.DisconnectInactiveTimeout.Seconds()
	for _, conn := range s.Connections() {
		if now-conn.LastMessageTime() > timeout {
			s.logger.Warn("disconnecting inactive connection", "conn", conn.ID(), "idle", now-conn.LastMessageTime())
			s.Disconnect(conn, "inactive")
		}
	}
}

// Authenticate lets conn use handlers that require authentication.
func (s *Server) Authenticate(conn *replica.Connection) {
	conn.SetAuthenticated(true)
}

// ==================================================================
// Inbound
// ==================================================================

func (s *Server) onData(id string, data []byte, channel int) {
	conn, ok := s.connections[id]
	if !ok {
		// the connect event may still be queued
		s.drainConnections()
		if conn, ok = s.connections[id]; !ok {
			s.logger.Debug("data from unknown connection", "conn", id)
			return
		}
	}

	if !conn.Unbatcher().AddBatch(data) {
		s.logger.Error("received malformed batch", "conn", id, "bytes", len(data))
		s.Disconnect(conn, "malformed batch")
		return
	}

	for {
		if _, alive := s.connections[id]; !alive {
			return
		}
		r, ts, ok := conn.Unbatcher().NextMessage()
		if !ok {
			break
		}
		conn.SetRemoteTimestamp(ts)
		conn.Touch(s.clock.Seconds())
		if !s.handleMessage(conn, r, channel) {
			return
		}
	}

	if n := conn.Unbatcher().BatchesCount(); n > 0 {
		s.logger.Error("unprocessed batches left after handling", "conn", id, "batches", n)
	}
}

// handleMessage dispatches one message and reports whether the connection
// is still usable afterwards. Messages carry no length, so any failure to
// consume one costs the connection.
func (s *Server) handleMessage(conn *replica.Connection, r *wire.Reader, channel int) bool {
	start := r.Position()

	id, err := protocol.UnpackID(r)
	if err != nil {
		s.logger.Error("failed to read message header", "conn", conn.ID(), "error", err)
		s.Disconnect(conn, "malformed message")
		return false
	}

	entry, ok := s.handlers.Lookup(id)
	if !ok {
		s.logger.Error("unknown message", "conn", conn.ID(), "msgId", id)
		s.Disconnect(conn, "unknown message")
		return false
	}
	if entry.RequireAuth && !conn.IsAuthenticated() {
		s.logger.Warn("message requires authentication", "conn", conn.ID(), "msg", entry.Name)
		s.Disconnect(conn, "not authenticated")
		return false
	}

	if err := entry.Invoke(conn, r, channel); err != nil {
		s.logger.Error("failed to handle message", "conn", conn.ID(), "msgId", id, "msg", entry.Name, "error", err)
		s.Disconnect(conn, "message handling failed")
		return false
	}

	s.metrics.MessageIn(entry.Name, channel, r.Position()-start)
	return true
}
