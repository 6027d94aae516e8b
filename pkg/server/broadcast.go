package server

import (
	"github.com/QYUbit/netsync/pkg/protocol"
	"github.com/QYUbit/netsync/pkg/replica"
	"github.com/QYUbit/netsync/pkg/transport"
)

// broadcast sends one tick of state. Every entity serializes at most once,
// whatever its observer count, and each connection gets the owner or the
// observer payload depending on who it is.
func (s *Server) broadcast(now float64) {
	for _, conn := range s.Connections() {
		if conn.IsReady() {
			s.send(conn, &protocol.TimeSnapshotMessage{}, transport.ChannelUnreliable)
			for _, e := range conn.Observing() {
				s.sendState(conn, e, now)
			}
		}
		if err := conn.Flush(); err != nil {
			s.logger.Warn("failed to flush connection", "conn", conn.ID(), "error", err)
		}
	}
}

func (s *Server) sendState(conn *replica.Connection, e *replica.Entity, now float64) {
	ser := e.SerializationAtTick(s.tick, now)
	if ser.Err != nil {
		s.logger.Warn("failed to serialize entity", "entity", e.String(), "error", ser.Err)
	}

	w := ser.Observers
	if e.Owner() == conn {
		w = ser.Owner
	}
	if w.Len() == 0 {
		return
	}
	s.send(conn, &protocol.EntityStateMessage{NetID: e.NetID(), Payload: w.Bytes()}, transport.ChannelReliable)
}
