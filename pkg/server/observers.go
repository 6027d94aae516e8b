package server

import (
	"github.com/QYUbit/netsync/pkg/protocol"
	"github.com/QYUbit/netsync/pkg/replica"
	"github.com/QYUbit/netsync/pkg/transport"
	"github.com/QYUbit/netsync/pkg/wire"
)

// ==================================================================
// Ready state
// ==================================================================

// SetClientReady marks conn ready and spawns everything it may see,
// bracketed by SpawnStarted and SpawnFinished.
func (s *Server) SetClientReady(conn *replica.Connection) {
	if conn.IsReady() {
		return
	}
	conn.SetReady(true)
	s.logger.Debug("client ready", "conn", conn.ID())

	s.send(conn, &protocol.SpawnStartedMessage{}, transport.ChannelReliable)
	for _, e := range s.Spawned() {
		if s.visibleTo(e, conn) {
			s.AddObserver(e, conn)
		}
	}
	s.send(conn, &protocol.SpawnFinishedMessage{}, transport.ChannelReliable)
}

// SetClientNotReady hides every entity from conn and tells it to stop
// expecting state, e.g. before a scene change.
func (s *Server) SetClientNotReady(conn *replica.Connection) {
	s.setNotReady(conn, true)
}

func (s *Server) setNotReady(conn *replica.Connection, notify bool) {
	if !conn.IsReady() {
		return
	}
	for _, e := range conn.Observing() {
		s.removeObserver(e, conn, true)
	}
	if notify {
		s.send(conn, &protocol.NotReadyMessage{}, transport.ChannelReliable)
	}
	conn.SetReady(false)
	s.logger.Debug("client not ready", "conn", conn.ID())
}

// ==================================================================
// Observers
// ==================================================================

// AddObserver makes conn observe e and sends it the spawn record. Adding an
// existing observer does nothing.
func (s *Server) AddObserver(e *replica.Entity, conn *replica.Connection) {
	if e.ServerOnly {
		return
	}
	if !conn.IsReady() {
		s.logger.Warn("cannot observe, connection is not ready", "conn", conn.ID(), "entity", e.String())
		return
	}
	if e.IsObservedBy(conn) {
		return
	}

	// changes piled up while nobody watched are part of the spawn payload
	if e.ObserverCount() == 0 {
		e.ClearAllComponentsDirtyBits(s.clock.Seconds())
	}
	e.AttachObserver(conn)
	conn.AddObserving(e)
	s.sendSpawn(e, conn)
}

// RemoveObserver stops conn from observing e and hides e on conn.
func (s *Server) RemoveObserver(e *replica.Entity, conn *replica.Connection) {
	s.removeObserver(e, conn, true)
}

func (s *Server) removeObserver(e *replica.Entity, conn *replica.Connection, hide bool) {
	if !e.DetachObserver(conn) {
		return
	}
	conn.RemoveObserving(e)
	if hide {
		s.send(conn, &protocol.ObjectHideMessage{NetID: e.NetID()}, transport.ChannelReliable)
	}
}

// RebuildObservers recomputes who observes e. Connections that lost sight
// of e get a hide, new ones get a spawn record.
func (s *Server) RebuildObservers(e *replica.Entity) {
	if e.ServerOnly || !e.IsSpawned() {
		return
	}

	next := make(map[*replica.Connection]struct{})
	for _, conn := range s.Connections() {
		if s.visibleTo(e, conn) {
			next[conn] = struct{}{}
		}
	}

	for _, conn := range e.Observers() {
		if _, keep := next[conn]; !keep {
			s.removeObserver(e, conn, true)
		}
	}
	for _, conn := range s.Connections() {
		if _, ok := next[conn]; ok {
			s.AddObserver(e, conn)
		}
	}
}

// RebuildAll rebuilds the observers of every spawned entity.
func (s *Server) RebuildAll() {
	if p, ok := s.opts.Policy.(replica.RebuildPreparer); ok {
		p.PrepareRebuild()
	}
	for _, e := range s.Spawned() {
		s.RebuildObservers(e)
	}
}

// visibleTo decides whether conn should observe e right now.
func (s *Server) visibleTo(e *replica.Entity, conn *replica.Connection) bool {
	if e.ServerOnly || !conn.IsReady() {
		return false
	}
	if e.Owner() == conn {
		return true
	}
	switch e.Visibility {
	case replica.VisibilityForceHidden:
		return false
	case replica.VisibilityForceShown:
		return true
	}
	if s.opts.Policy == nil {
		return true
	}
	return s.opts.Policy.ShouldObserve(e, conn)
}

// ==================================================================
// Spawn records
// ==================================================================

func (s *Server) sendSpawn(e *replica.Entity, conn *replica.Connection) {
	owner, observers := wire.GetWriter(), wire.GetWriter()
	defer wire.PutWriter(owner)
	defer wire.PutWriter(observers)

	if err := e.SerializeServer(true, owner, observers, s.clock.Seconds()); err != nil {
		s.logger.Warn("failed to serialize spawn payload", "conn", conn.ID(), "entity", e.String(), "error", err)
	}

	isOwner := e.Owner() == conn
	payload := observers.Bytes()
	if isOwner {
		payload = owner.Bytes()
	}

	msg := &protocol.SpawnMessage{
		NetID:         e.NetID(),
		IsLocalPlayer: conn.Player() == e,
		IsOwner:       isOwner,
		SceneID:       e.SceneID,
		AssetID:       e.AssetID,
		Position:      e.Position,
		Rotation:      e.Rotation,
		Scale:         e.Scale,
		Payload:       payload,
	}
	s.send(conn, msg, transport.ChannelReliable)
}

func (s *Server) send(conn *replica.Connection, msg protocol.Message, channel int) {
	if err := conn.Send(msg, channel); err != nil {
		s.logger.Warn("failed to queue message", "conn", conn.ID(), "msg", protocol.NameOf(msg.ID()), "error", err)
	}
}
