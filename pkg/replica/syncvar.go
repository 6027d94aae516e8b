package replica

import (
	"github.com/QYUbit/netsync/pkg/wire"
)

// SyncVar is a replicated scalar owned by a component.
type SyncVar[T comparable] struct {
	b     *Behaviour
	bit   uint64
	codec wire.Codec[T]
	value T

	// OnChange runs after the value changed, locally or by replication.
	OnChange func(old, new T)
}

// NewSyncVar registers a sync var with b. Registration order decides the
// var's bit and must match on every peer.
func NewSyncVar[T comparable](b *Behaviour, codec wire.Codec[T], initial T) *SyncVar[T] {
	v := &SyncVar[T]{b: b, codec: codec, value: initial}
	v.bit = b.addSyncVar(v)
	return v
}

func (v *SyncVar[T]) Get() T {
	return v.value
}

// Set stores value and marks the var dirty. Equal values are ignored.
func (v *SyncVar[T]) Set(value T) {
	if v.value == value {
		return
	}
	old := v.value
	v.value = value
	v.b.SetSyncVarDirtyBit(v.bit)
	if v.OnChange != nil {
		v.OnChange(old, value)
	}
}

func (v *SyncVar[T]) write(w *wire.Writer) error {
	return v.codec.Write(w, v.value)
}

func (v *SyncVar[T]) read(r *wire.Reader) error {
	value, err := v.codec.Read(r)
	if err != nil {
		return err
	}
	if value == v.value {
		return nil
	}
	old := v.value
	v.value = value
	if v.OnChange != nil {
		v.OnChange(old, value)
	}
	return nil
}
