package replica

import (
	"math/bits"
	"time"

	"github.com/QYUbit/netsync/pkg/synccol"
	"github.com/QYUbit/netsync/pkg/wire"
	"github.com/rotisserie/eris"
)

// Component is a behaviour attached to an entity. Implementations embed
// Behaviour, which supplies Base and a default OnSerialize/OnDeserialize
// covering every registered sync var and sync object.
type Component interface {
	Base() *Behaviour
	OnSerialize(w *wire.Writer, initial bool) error
	OnDeserialize(r *wire.Reader, initial bool) error
}

type syncVar interface {
	write(w *wire.Writer) error
	read(r *wire.Reader) error
}

// Behaviour carries the replication state of one component.
type Behaviour struct {
	SyncDirection SyncDirection
	SyncMode      SyncMode
	// SyncInterval throttles dirty driven sends of this component.
	SyncInterval time.Duration

	entity *Entity
	index  int

	syncVarDirtyBits    uint64
	syncObjectDirtyBits uint64
	lastSyncTime        float64

	syncVars    []syncVar
	syncObjects []synccol.SyncObject
}

func (b *Behaviour) Base() *Behaviour {
	return b
}

func (b *Behaviour) Entity() *Entity {
	return b.entity
}

// Index is the position of the component inside its entity.
func (b *Behaviour) Index() int {
	return b.index
}

func (b *Behaviour) NetID() uint32 {
	if b.entity == nil {
		return 0
	}
	return b.entity.netID
}

func (b *Behaviour) IsServer() bool {
	return b.entity != nil && b.entity.isServer
}

func (b *Behaviour) IsClient() bool {
	return b.entity != nil && b.entity.isClient
}

func (b *Behaviour) IsOwned() bool {
	return b.entity != nil && b.entity.isOwned
}

func (b *Behaviour) IsLocalPlayer() bool {
	return b.entity != nil && b.entity.isLocalPlayer
}

// Owner is the owning connection on the server, nil elsewhere.
func (b *Behaviour) Owner() *Connection {
	if b.entity == nil {
		return nil
	}
	return b.entity.owner
}

// ======================
// Dirty bits
// ======================

func (b *Behaviour) SetSyncVarDirtyBit(bit uint64) {
	b.syncVarDirtyBits |= bit
}

func (b *Behaviour) setSyncObjectDirtyBit(bit uint64) {
	b.syncObjectDirtyBits |= bit
}

// SetDirty marks every sync var dirty so the next delta carries all of them.
func (b *Behaviour) SetDirty() {
	b.syncVarDirtyBits = ^uint64(0)
}

func (b *Behaviour) DirtyBits() (syncVars, syncObjects uint64) {
	return b.syncVarDirtyBits, b.syncObjectDirtyBits
}

// IsDirty reports whether the component has pending changes and its sync
// interval elapsed.
func (b *Behaviour) IsDirty(now float64) bool {
	return (b.syncVarDirtyBits|b.syncObjectDirtyBits) != 0 &&
		now-b.lastSyncTime >= b.SyncInterval.Seconds()
}

// ClearAllDirtyBits drops all dirty bits and the sync objects' change logs.
func (b *Behaviour) ClearAllDirtyBits(now float64) {
	b.lastSyncTime = now
	b.syncVarDirtyBits = 0
	b.syncObjectDirtyBits = 0
	for _, obj := range b.syncObjects {
		obj.ClearChanges()
	}
}

// ======================
// Registration
// ======================

// AddSyncObject registers a replicated collection with the component.
func (b *Behaviour) AddSyncObject(obj synccol.SyncObject) {
	if len(b.syncObjects) >= 64 {
		panic(eris.Wrap(ErrTooManySyncVars, "sync objects"))
	}
	bit := uint64(1) << len(b.syncObjects)
	b.syncObjects = append(b.syncObjects, obj)

	obj.SetHooks(
		func() { b.setSyncObjectDirtyBit(bit) },
		b.syncObjectRecording,
		b.syncObjectWritable,
	)
}

// syncObjectRecording: the server records while anyone observes, a client
// only for collections it writes.
func (b *Behaviour) syncObjectRecording() bool {
	e := b.entity
	if e == nil {
		return false
	}
	if e.isServer {
		return len(e.observers) > 0
	}
	if e.isClient {
		return b.SyncDirection == ClientToServer && e.isOwned
	}
	return false
}

func (b *Behaviour) syncObjectWritable() bool {
	e := b.entity
	if e == nil || e.netID == 0 {
		return true
	}
	if e.isServer {
		return b.SyncDirection == ServerToClient
	}
	if e.isClient {
		return b.SyncDirection == ClientToServer && e.isOwned
	}
	return true
}

func (b *Behaviour) addSyncVar(v syncVar) uint64 {
	if len(b.syncVars) >= 64 {
		panic(ErrTooManySyncVars)
	}
	bit := uint64(1) << len(b.syncVars)
	b.syncVars = append(b.syncVars, v)
	return bit
}

// NewSyncList creates a list registered with b.
func NewSyncList[T comparable](b *Behaviour, codec wire.Codec[T], items ...T) *synccol.List[T] {
	l := synccol.NewList(codec, items...)
	b.AddSyncObject(l)
	return l
}

func NewSyncSet[T comparable](b *Behaviour, codec wire.Codec[T], items ...T) *synccol.Set[T] {
	s := synccol.NewSet(codec, items...)
	b.AddSyncObject(s)
	return s
}

func NewSyncMap[K comparable, V any](b *Behaviour, keys wire.Codec[K], values wire.Codec[V]) *synccol.Map[K, V] {
	m := synccol.NewMap(keys, values)
	b.AddSyncObject(m)
	return m
}

// ======================
// Default serialization
// ======================

// OnSerialize writes sync objects first, then sync vars. A delta writes a
// dirty mask per group followed by the dirty members only.
func (b *Behaviour) OnSerialize(w *wire.Writer, initial bool) error {
	if initial {
		for _, obj := range b.syncObjects {
			if err := obj.OnSerializeAll(w); err != nil {
				return err
			}
		}
		for _, v := range b.syncVars {
			if err := v.write(w); err != nil {
				return err
			}
		}
		return nil
	}

	objMask := b.syncObjectDirtyBits & lowBits(len(b.syncObjects))
	w.WriteUvarint(objMask)
	for m := objMask; m != 0; m &= m - 1 {
		if err := b.syncObjects[bits.TrailingZeros64(m)].OnSerializeDelta(w); err != nil {
			return err
		}
	}

	varMask := b.syncVarDirtyBits & lowBits(len(b.syncVars))
	w.WriteUvarint(varMask)
	for m := varMask; m != 0; m &= m - 1 {
		if err := b.syncVars[bits.TrailingZeros64(m)].write(w); err != nil {
			return err
		}
	}
	return nil
}

func (b *Behaviour) OnDeserialize(r *wire.Reader, initial bool) error {
	if initial {
		for _, obj := range b.syncObjects {
			if err := obj.OnDeserializeAll(r); err != nil {
				return err
			}
		}
		for _, v := range b.syncVars {
			if err := v.read(r); err != nil {
				return err
			}
		}
		return nil
	}

	objMask, err := r.ReadUvarint()
	if err != nil {
		return err
	}
	if objMask&^lowBits(len(b.syncObjects)) != 0 {
		return eris.Errorf("replica: sync object mask %b exceeds %d objects", objMask, len(b.syncObjects))
	}
	for m := objMask; m != 0; m &= m - 1 {
		if err := b.syncObjects[bits.TrailingZeros64(m)].OnDeserializeDelta(r); err != nil {
			return err
		}
	}

	varMask, err := r.ReadUvarint()
	if err != nil {
		return err
	}
	if varMask&^lowBits(len(b.syncVars)) != 0 {
		return eris.Errorf("replica: sync var mask %b exceeds %d vars", varMask, len(b.syncVars))
	}
	for m := varMask; m != 0; m &= m - 1 {
		if err := b.syncVars[bits.TrailingZeros64(m)].read(r); err != nil {
			return err
		}
	}
	return nil
}

func (b *Behaviour) resetSyncObjects() {
	for _, obj := range b.syncObjects {
		obj.Reset()
	}
}

func lowBits(n int) uint64 {
	if n >= 64 {
		return ^uint64(0)
	}
	return uint64(1)<<n - 1
}
