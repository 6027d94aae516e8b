// Package synccol provides replicated collections. Every local mutation is
// applied, appended to a change log while recording and announced through
// callbacks. The owning component ships either the full contents or the
// change log, receivers replay it.
package synccol

import (
	"github.com/QYUbit/netsync/pkg/wire"
	"github.com/rotisserie/eris"
)

var (
	ErrReadOnly   = eris.New("synccol: collection is not writable on this side")
	ErrOutOfRange = eris.New("synccol: index out of range")
	ErrKeyExists  = eris.New("synccol: key already present")
	ErrUnknownOp  = eris.New("synccol: unknown operation")
)

// Operation tags one change record on the wire.
type Operation byte

const (
	OpAdd Operation = iota
	OpClear
	OpInsert
	OpSet
	OpRemove
)

func (o Operation) String() string {
	switch o {
	case OpAdd:
		return "add"
	case OpClear:
		return "clear"
	case OpInsert:
		return "insert"
	case OpSet:
		return "set"
	case OpRemove:
		return "remove"
	}
	return "unknown"
}

// SyncObject is implemented by every replicated collection. Components own
// sync objects and drive their serialization.
type SyncObject interface {
	// SetHooks wires the collection to its owner. onDirty is called after a
	// change was recorded, isRecording decides whether changes are logged and
	// isWritable whether local mutations are allowed.
	SetHooks(onDirty func(), isRecording func() bool, isWritable func() bool)

	OnSerializeAll(w *wire.Writer) error
	OnSerializeDelta(w *wire.Writer) error
	OnDeserializeAll(r *wire.Reader) error
	OnDeserializeDelta(r *wire.Reader) error

	// ClearChanges drops the change log after it was sent to everyone.
	ClearChanges()

	// Reset empties the collection for reuse.
	Reset()
}

type hooks struct {
	onDirty      func()
	isRecording  func() bool
	isWritable   func() bool
	changesAhead int
}

func (h *hooks) SetHooks(onDirty func(), isRecording func() bool, isWritable func() bool) {
	h.onDirty = onDirty
	h.isRecording = isRecording
	h.isWritable = isWritable
}

func (h *hooks) writable() bool {
	return h.isWritable == nil || h.isWritable()
}

func (h *hooks) recording() bool {
	return h.isRecording == nil || h.isRecording()
}

func (h *hooks) dirty() {
	if h.onDirty != nil {
		h.onDirty()
	}
}

// skip reports whether an incoming change is already part of a full state
// received earlier, consuming one pending skip if so.
func (h *hooks) skip() bool {
	if h.changesAhead > 0 {
		h.changesAhead--
		return true
	}
	return false
}

// ChangesAhead reports how many incoming change records will be skipped.
func (h *hooks) ChangesAhead() int {
	return h.changesAhead
}

func readIndex(r *wire.Reader) (int, error) {
	v, err := r.ReadUvarint()
	if err != nil {
		return 0, err
	}
	if v > uint64(r.Limits().MaxCollectionLength) {
		return 0, eris.Wrapf(wire.ErrTooLarge, "index %d", v)
	}
	return int(v), nil
}

func readOp(r *wire.Reader) (Operation, error) {
	b, err := r.ReadByte()
	if err != nil {
		return 0, err
	}
	if b > byte(OpRemove) {
		return 0, eris.Wrapf(ErrUnknownOp, "op %d", b)
	}
	return Operation(b), nil
}
