// Package server is the authoritative side of a session. It owns the
// connection table and the spawned entity table, decides who observes what
// and broadcasts state once per tick.
//
// A Server is not safe for concurrent use. EarlyUpdate, LateUpdate and every
// entity operation must run on one goroutine, Run does exactly that.
package server

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

type Server struct {
	opts      Options
	logger    netlog.Logger
	metrics   metrics.Recorder
	transport transport.Transport
	clock     timesync.Clock
	calls     *replica.RemoteCalls
	handlers  *protocol.Handlers[*replica.Connection]

	connections map[string]*replica.Connection
	spawned     map[uint32]*replica.Entity
	nextNetID   uint32

	active       bool
	tick         int64
	sendInterval float64
	lastSend     float64
	lastPing     float64
	lastRebuild  float64
}

func NewServer(opts Options) (*Server, error) {
	if opts.Transport == nil {
		return nil, ErrNoTransport
	}
	opts.defaults()

	s := &Server{
		opts:         opts,
		logger:       opts.Logger,
		metrics:      opts.Metrics,
		transport:    opts.Transport,
		clock:        opts.Clock,
		calls:        opts.RemoteCalls,
		handlers:     protocol.NewHandlers[*replica.Connection](),
		connections:  make(map[string]*replica.Connection),
		spawned:      make(map[uint32]*replica.Entity),
		sendInterval: 1 / float64(opts.TickRate),
	}
	if err := s.registerHandlers(); err != nil {
		return nil, err
	}
	return s, nil
}

// ==================================================================
// Lifecycle
// ==================================================================

func (s *Server) Start(ctx context.Context) error {
	if s.active {
		return ErrAlreadyStarted
	}
	if err := s.transport.Start(ctx); err != nil {
		return err
	}
	s.active = true
	now := s.clock.Seconds()
	s.lastSend, s.lastPing, s.lastRebuild = now, now, now
	s.logger.Info("server started", "tickRate", s.opts.TickRate)
	return nil
}

// Run starts the server and drives both update phases at the tick rate
// until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	if !s.active {
		if err := s.Start(ctx); err != nil {
			return err
		}
	}

	ticker := time.NewTicker(time.Second / time.Duration(s.opts.TickRate))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.EarlyUpdate()
			s.LateUpdate()
		}
	}
}

// Close disconnects everyone, resets every spawned entity and closes the
// transport.
func (s *Server) Close() error {
	if !s.active {
		return ErrServerNotRunning
	}

	for _, conn := range s.Connections() {
		s.Disconnect(conn, "server shutting down")
	}
	for _, e := range s.Spawned() {
		delete(s.spawned, e.NetID())
		e.StopServer(s.logger)
		if !e.IsSceneEntity() {
			e.MarkDestroyed()
		}
		e.ResetState()
	}
	s.nextNetID = 0
	s.active = false

	s.logger.Info("server stopped")
	return s.transport.Close()
}

func (s *Server) Active() bool {
	return s.active
}

// EarlyUpdate drains everything the transport delivered since the last call.
func (s *Server) EarlyUpdate() {
	start := time.Now()
	defer metrics.Since(s.metrics, "early", start)

	s.drainConnections()

	for {
		select {
		case msg, ok := <-s.transport.Messages():
			if !ok {
				return
			}
			s.onData(msg.ClientId, msg.Data, msg.Channel)
			continue
		default:
		}
		break
	}

	for {
		select {
		case id, ok := <-s.transport.Disconnections():
			if !ok {
				return
			}
			if conn, found := s.connections[id]; found {
				s.logger.Info("client disconnected", "conn", id)
				s.removeConnection(conn)
			}
			continue
		case err, ok := <-s.transport.Errors():
			if !ok {
				return
			}
			s.logger.Warn("transport error", "error", err)
			continue
		default:
		}
		break
	}
}

// LateUpdate broadcasts once per send interval and runs the periodic
// housekeeping.
func (s *Server) LateUpdate() {
	if !s.active {
		return
	}
	start := time.Now()
	defer metrics.Since(s.metrics, "late", start)

	now := s.clock.Seconds()

	if s.opts.PingInterval > 0 && timesync.Elapsed(now, s.opts.PingInterval.Seconds(), &s.lastPing) {
		s.sendPings(now)
	}

	if timesync.Elapsed(now, s.sendInterval, &s.lastSend) {
		s.tick++
		s.broadcast(now)
	}

	if r, ok := s.opts.Policy.(replica.RebuildIntervaler); ok && r.RebuildInterval() > 0 {
		if timesync.Elapsed(now, r.RebuildInterval().Seconds(), &s.lastRebuild) {
			s.RebuildAll()
		}
	}

	if s.opts.DisconnectInactiveConnections && s.opts.DisconnectInactiveTimeout > 0 {
		s.disconnectInactive(now)
	}

	s.metrics.Gauge("connections", float64(len(s.connections)))
	s.metrics.Gauge("spawned", float64(len(s.spawned)))
}

// ==================================================================
// Lookup
// ==================================================================

// Handlers exposes the message table so applications can register their
// own messages with protocol.Register.
func (s *Server) Handlers() *protocol.Handlers[*replica.Connection] {
	return s.handlers
}

func (s *Server) RemoteCalls() *replica.RemoteCalls {
	return s.calls
}

func (s *Server) Tick() int64 {
	return s.tick
}

func (s *Server) Connection(id string) (*replica.Connection, bool) {
	conn, ok := s.connections[id]
	return conn, ok
}

// Connections returns a snapshot of the connection table ordered by id.
func (s *Server) Connections() []*replica.Connection {
	out := make([]*replica.Connection, 0, len(s.connections))
	for _, conn := range s.connections {
		out = append(out, conn)
	}
	slices.SortFunc(out, func(a, b *replica.Connection) int { return cmp.Compare(a.ID(), b.ID()) })
	return out
}

func (s *Server) Entity(netID uint32) (*replica.Entity, bool) {
	e, ok := s.spawned[netID]
	return e, ok
}

// Spawned returns a snapshot of the spawned table ordered by net id.
func (s *Server) Spawned() []*replica.Entity {
	out := make([]*replica.Entity, 0, len(s.spawned))
	for _, e := range s.spawned {
		out = append(out, e)
	}
	slices.SortFunc(out, func(a, b *replica.Entity) int { return cmp.Compare(a.NetID(), b.NetID()) })
	return out
}
