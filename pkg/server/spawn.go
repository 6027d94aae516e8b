package server

import (
	"github.com/QYUbit/netsync/pkg/protocol"
	"github.com/QYUbit/netsync/pkg/replica"
	"github.com/QYUbit/netsync/pkg/transport"
	"github.com/rotisserie/eris"
)

// ==================================================================
// Spawn
// ==================================================================

// Spawn assigns e a net id and replicates it to every connection the
// visibility policy selects. owner may be nil.
func (s *Server) Spawn(e *replica.Entity, owner *replica.Connection) error {
	if !s.active {
		return ErrServerNotRunning
	}
	if e.IsSpawned() {
		return eris.Wrapf(ErrAlreadySpawned, "%s", e)
	}
	if e.IsDestroyed() {
		return eris.Wrapf(ErrEntityDestroyed, "%s", e)
	}
	if owner != nil {
		if _, ok := s.connections[owner.ID()]; !ok {
			return ErrConnectionNotFound{ConnID: owner.ID()}
		}
	}

	s.nextNetID++
	e.SetNetID(s.nextNetID)
	e.SetServer(true)
	if s.opts.DefaultSyncInterval > 0 {
		for _, c := range e.Components() {
			if b := c.Base(); b.SyncInterval == 0 {
				b.SyncInterval = s.opts.DefaultSyncInterval
			}
		}
	}
	s.spawned[e.NetID()] = e

	if owner != nil {
		e.SetOwner(owner)
		owner.AddOwned(e)
	}

	e.StartServer(s.logger)
	if l, ok := s.opts.Policy.(replica.SpawnListener); ok {
		l.OnSpawned(e)
	}
	s.logger.Debug("spawned entity", "entity", e.String(), "owner", connID(owner))

	s.RebuildObservers(e)
	return nil
}

// Unspawn removes e from every client and returns it to its unspawned
// state. The entity can be spawned again.
func (s *Server) Unspawn(e *replica.Entity) error {
	return s.unspawn(e, false)
}

// Destroy is Unspawn for good. Scene entities are only unspawned.
func (s *Server) Destroy(e *replica.Entity) error {
	return s.unspawn(e, true)
}

func (s *Server) unspawn(e *replica.Entity, destroy bool) error {
	if _, ok := s.spawned[e.NetID()]; !ok || !e.IsSpawned() {
		return eris.Wrapf(ErrNotSpawned, "%s", e)
	}

	delete(s.spawned, e.NetID())

	if owner := e.Owner(); owner != nil {
		owner.RemoveOwned(e)
		if owner.Player() == e {
			owner.SetPlayer(nil)
		}
	}

	msg := &protocol.ObjectDestroyMessage{NetID: e.NetID()}
	for _, conn := range e.Observers() {
		conn.RemoveObserving(e)
		if err := conn.Send(msg, transport.ChannelReliable); err != nil {
			s.logger.Warn("failed to send destroy", "conn", conn.ID(), "entity", e.String(), "error", err)
		}
	}

	e.StopServer(s.logger)
	s.logger.Debug("unspawned entity", "entity", e.String(), "destroy", destroy)
	if destroy && !e.IsSceneEntity() {
		e.MarkDestroyed()
	}
	if l, ok := s.opts.Policy.(replica.SpawnListener); ok {
		l.OnDestroyed(e)
	}
	e.ResetState()
	return nil
}

// ==================================================================
// Ownership
// ==================================================================

// SetOwner hands e to conn, or takes it back for the server when conn is
// nil. Observers learn about the change and owner only state is resent.
func (s *Server) SetOwner(e *replica.Entity, conn *replica.Connection) error {
	if _, ok := s.spawned[e.NetID()]; !ok || !e.IsSpawned() {
		return eris.Wrapf(ErrNotSpawned, "%s", e)
	}
	if conn != nil {
		if _, ok := s.connections[conn.ID()]; !ok {
			return ErrConnectionNotFound{ConnID: conn.ID()}
		}
	}

	prev := e.Owner()
	if prev == conn {
		return nil
	}
	if prev != nil {
		prev.RemoveOwned(e)
		if prev.Player() == e {
			prev.SetPlayer(nil)
		}
	}
	e.SetOwner(conn)
	if conn != nil {
		conn.AddOwned(e)
	}

	for _, obs := range e.Observers() {
		msg := &protocol.ChangeOwnerMessage{
			NetID:         e.NetID(),
			IsOwner:       obs == conn,
			IsLocalPlayer: obs.Player() == e,
		}
		if err := obs.Send(msg, transport.ChannelReliable); err != nil {
			s.logger.Warn("failed to send owner change", "conn", obs.ID(), "entity", e.String(), "error", err)
		}
	}

	// an observing new owner has only seen the observer payload, resend the
	// full owner view
	if conn != nil && e.IsObservedBy(conn) {
		s.sendSpawn(e, conn)
	}

	s.logger.Debug("owner changed", "entity", e.String(), "from", connID(prev), "to", connID(conn))
	s.RebuildObservers(e)
	return nil
}

// ==================================================================
// Players
// ==================================================================

// AddPlayer makes e the player entity of conn. The connection is made ready
// if needed and e is spawned with conn as owner, or handed over if it is
// spawned already.
func (s *Server) AddPlayer(conn *replica.Connection, e *replica.Entity) error {
	if _, ok := s.connections[conn.ID()]; !ok {
		return ErrConnectionNotFound{ConnID: conn.ID()}
	}
	if conn.Player() != nil {
		return eris.Wrapf(ErrHasPlayer, "%s", conn)
	}
	if !conn.IsReady() {
		s.SetClientReady(conn)
	}

	conn.SetPlayer(e)
	if !e.IsSpawned() {
		if err := s.Spawn(e, conn); err != nil {
			conn.SetPlayer(nil)
			return err
		}
		return nil
	}
	if err := s.SetOwner(e, conn); err != nil {
		conn.SetPlayer(nil)
		return err
	}
	return nil
}

// ReplacePlayer swaps the player entity of conn for e. The old player is
// kept, still owned by conn, unless destroyOld is set.
func (s *Server) ReplacePlayer(conn *replica.Connection, e *replica.Entity, destroyOld bool) error {
	old := conn.Player()
	conn.SetPlayer(nil)
	if err := s.AddPlayer(conn, e); err != nil {
		conn.SetPlayer(old)
		return err
	}
	if old != nil && old != e && destroyOld {
		return s.Destroy(old)
	}
	return nil
}

// RemovePlayer detaches the player entity of conn. It is destroyed when
// destroy is set, otherwise the server takes ownership.
func (s *Server) RemovePlayer(conn *replica.Connection, destroy bool) error {
	e := conn.Player()
	if e == nil {
		return nil
	}
	conn.SetPlayer(nil)
	if destroy {
		return s.Destroy(e)
	}
	return s.SetOwner(e, nil)
}

func connID(conn *replica.Connection) string {
	if conn == nil {
		return ""
	}
	return conn.ID()
}
