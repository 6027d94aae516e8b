package server

import (
	"errors"

	"github.com/QYUbit/netsync/pkg/protocol"
	"github.com/QYUbit/netsync/pkg/replica"
	"github.com/QYUbit/netsync/pkg/serializer"
	"github.com/rotisserie/eris"
)

// SendRpc queues a call of hash on every ready observer of c's entity.
// The owner is skipped unless includeOwner is set.
func (s *Server) SendRpc(c replica.Component, hash uint16, payload []byte, channel int, includeOwner bool) error {
	e, msg, err := s.rpcMessage(c, hash, payload)
	if err != nil {
		return err
	}

	var errs []error
	for _, conn := range e.Observers() {
		if !conn.IsReady() || (!includeOwner && e.Owner() == conn) {
			continue
		}
		if err := conn.Send(msg, channel); err != nil {
			errs = append(errs, eris.Wrapf(err, "rpc to %s", conn))
		}
	}
	return errors.Join(errs...)
}

// SendTargetRpc queues a call of hash on conn alone, or on the owner when
// conn is nil.
func (s *Server) SendTargetRpc(conn *replica.Connection, c replica.Component, hash uint16, payload []byte, channel int) error {
	e, msg, err := s.rpcMessage(c, hash, payload)
	if err != nil {
		return err
	}
	if conn == nil {
		conn = e.Owner()
	}
	if conn == nil {
		return eris.Wrapf(ErrNoTarget, "%s has no owner", e)
	}
	if !e.IsObservedBy(conn) {
		return eris.Wrapf(ErrNotObserving, "%s on %s", conn, e)
	}
	return conn.Send(msg, channel)
}

// SendRpcValue encodes args with ser and sends them like SendRpc.
func SendRpcValue[A any](s *Server, ser serializer.Serializer, c replica.Component, hash uint16, args A, channel int, includeOwner bool) error {
	payload, err := ser.Marshal(args)
	if err != nil {
		return eris.Wrap(err, "encode rpc arguments")
	}
	return s.SendRpc(c, hash, payload, channel, includeOwner)
}

// SendTargetRpcValue encodes args with ser and sends them like SendTargetRpc.
func SendTargetRpcValue[A any](s *Server, conn *replica.Connection, ser serializer.Serializer, c replica.Component, hash uint16, args A, channel int) error {
	payload, err := ser.Marshal(args)
	if err != nil {
		return eris.Wrap(err, "encode rpc arguments")
	}
	return s.SendTargetRpc(conn, c, hash, payload, channel)
}

func (s *Server) rpcMessage(c replica.Component, hash uint16, payload []byte) (*replica.Entity, *protocol.RpcMessage, error) {
	e := c.Base().Entity()
	if e == nil || !e.IsSpawned() {
		return nil, nil, ErrNotSpawned
	}
	if _, ok := s.spawned[e.NetID()]; !ok {
		return nil, nil, eris.Wrapf(ErrNotSpawned, "%s", e)
	}
	if e.ServerOnly {
		return nil, nil, eris.Errorf("rpc on server only entity %s", e)
	}
	msg := &protocol.RpcMessage{
		NetID:          e.NetID(),
		ComponentIndex: byte(c.Base().Index()),
		FunctionHash:   hash,
		Payload:        payload,
	}
	return e, msg, nil
}
