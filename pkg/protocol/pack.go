// Package protocol defines the netsync message catalogue and the table that
// routes decoded messages to their handlers.
package protocol

import (
	"github.com/QYUbit/netsync/pkg/wire"
	"github.com/rotisserie/eris"
)

// Pack writes the message id followed by the message body.
func Pack(w *wire.Writer, msg Message) error {
	w.WriteUint16(msg.ID())
	if err := msg.Serialize(w); err != nil {
		return eris.Wrapf(err, "serialize %s", NameOf(msg.ID()))
	}
	return nil
}

// UnpackID reads the leading message id.
func UnpackID(r *wire.Reader) (uint16, error) {
	id, err := r.ReadUint16()
	if err != nil {
		return 0, eris.Wrap(ErrMalformed, "truncated message header")
	}
	return id, nil
}

// Unpack reads a full message of a known type, header included.
func Unpack(r *wire.Reader, msg Message) error {
	id, err := UnpackID(r)
	if err != nil {
		return err
	}
	if id != msg.ID() {
		return eris.Wrapf(ErrUnknownMessage, "expected %s, got id %d", NameOf(msg.ID()), id)
	}
	return msg.Deserialize(r)
}
