package replica

import (
	"errors"
	"math/bits"

	"github.com/QYUbit/netsync/pkg/wire"
	"github.com/rotisserie/eris"
)

// ==================================================================
// Dirty masks
// ==================================================================

// serverDirtyMasks builds the component masks for the owner and for the
// other observers. The owner gets everything the server writes, observers
// only components in observer mode.
func (e *Entity) serverDirtyMasks(initial bool, now float64) (owner, observers uint64) {
	for i, c := range e.components {
		b := c.Base()
		dirty := b.IsDirty(now)
		bit := uint64(1) << i

		if initial || (b.SyncDirection == ServerToClient && dirty) {
			owner |= bit
		}
		if b.SyncMode == SyncObservers && (initial || dirty) {
			observers |= bit
		}
	}
	return
}

// clientDirtyMask selects the owned, client authoritative components with changes.
func (e *Entity) clientDirtyMask(now float64) uint64 {
	var mask uint64
	if !e.isOwned {
		return 0
	}
	for i, c := range e.components {
		b := c.Base()
		if b.SyncDirection == ClientToServer && b.IsDirty(now) {
			mask |= uint64(1) << i
		}
	}
	return mask
}

// ==================================================================
// Safety framing
// ==================================================================

// serializeComponent writes one component behind a one byte safety marker
// holding the low byte of the payload size. A failing component is written
// with an empty payload.
func serializeComponent(c Component, w *wire.Writer, initial bool) error {
	header := w.Reserve()
	start := w.Len()

	err := safeCall(func() error {
		return c.OnSerialize(w, initial)
	})
	if err != nil {
		w.Truncate(start)
	}

	size := w.Len() - start
	_ = w.PatchByte(header, byte(size&0xFF))
	return err
}

// deserializeComponent reads one framed component. If the component reads
// more or less than was written, the reader is moved to where the payload
// should have ended as far as the safety byte can tell. The returned error
// is fatal only when the frame itself cannot be read.
func deserializeComponent(c Component, r *wire.Reader, initial bool) (fatal bool, err error) {
	safety, err := r.ReadByte()
	if err != nil {
		return true, eris.Wrap(err, "read safety byte")
	}
	start := r.Position()

	derr := safeCall(func() error {
		return c.OnDeserialize(r, initial)
	})

	size := r.Position() - start
	if byte(size&0xFF) == safety {
		return false, derr
	}

	corrected := (size &^ 0xFF) | int(safety)
	if serr := r.SetPosition(start + corrected); serr != nil {
		return true, eris.Wrapf(ErrSizeMismatch, "read %d bytes, safety %d, cannot seek: %v", size, safety, serr)
	}

	mismatch := eris.Wrapf(ErrSizeMismatch, "read %d bytes, corrected to %d", size, corrected)
	if derr != nil {
		return false, errors.Join(derr, mismatch)
	}
	return false, mismatch
}

// ==================================================================
// Server
// ==================================================================

// SerializeServer writes the owner and the observer payload of the entity.
// Each mask is only written when it is nonzero, so idle entities produce
// nothing. Every selected component serializes once and its bytes are copied
// to both outputs as needed. Delta writes clear the dirty bits of the
// components they included, initial writes never touch them.
func (e *Entity) SerializeServer(initial bool, owner, observers *wire.Writer, now float64) error {
	ownerMask, observersMask := e.serverDirtyMasks(initial, now)

	if ownerMask != 0 {
		owner.WriteUvarint(ownerMask)
	}
	if observersMask != 0 {
		observers.WriteUvarint(observersMask)
	}

	mask := ownerMask | observersMask
	if mask == 0 {
		return nil
	}

	scratch := wire.GetWriter()
	defer wire.PutWriter(scratch)

	var errs []error
	for m := mask; m != 0; m &= m - 1 {
		i := bits.TrailingZeros64(m)
		bit := uint64(1) << i
		c := e.components[i]

		scratch.Reset()
		err := serializeComponent(c, scratch, initial)
		if err != nil {
			errs = append(errs, eris.Wrapf(err, "serialize %s component %d", e, i))
		}

		if ownerMask&bit != 0 {
			owner.Write(scratch.Bytes())
		}
		if observersMask&bit != 0 {
			observers.Write(scratch.Bytes())
		}

		if !initial && err == nil {
			c.Base().ClearAllDirtyBits(now)
		}
	}
	return errors.Join(errs...)
}

// DeserializeServer applies a client payload. Only client authoritative
// components are accepted and applied components are marked dirty so the
// server forwards them to the other observers.
func (e *Entity) DeserializeServer(r *wire.Reader) error {
	if r.Remaining() == 0 {
		return nil
	}
	mask, err := r.ReadUvarint()
	if err != nil {
		return err
	}

	var errs []error
	for m := mask; m != 0; m &= m - 1 {
		i := bits.TrailingZeros64(m)
		if i >= len(e.components) {
			return ErrComponentIndex{NetID: e.netID, Index: i}
		}
		c := e.components[i]
		if c.Base().SyncDirection != ClientToServer {
			return eris.Wrapf(ErrNotClientWritable, "%s component %d", e, i)
		}

		fatal, err := deserializeComponent(c, r, false)
		if fatal {
			return err
		}
		if err != nil {
			errs = append(errs, eris.Wrapf(err, "deserialize %s component %d", e, i))
			continue
		}
		c.Base().SetDirty()
	}
	return errors.Join(errs...)
}

// ==================================================================
// Client
// ==================================================================

// SerializeClient writes the owned client authoritative components that changed.
func (e *Entity) SerializeClient(w *wire.Writer, now float64) error {
	mask := e.clientDirtyMask(now)
	if mask == 0 {
		return nil
	}
	w.WriteUvarint(mask)

	var errs []error
	for m := mask; m != 0; m &= m - 1 {
		i := bits.TrailingZeros64(m)
		c := e.components[i]
		if err := serializeComponent(c, w, false); err != nil {
			errs = append(errs, eris.Wrapf(err, "serialize %s component %d", e, i))
			continue
		}
		c.Base().ClearAllDirtyBits(now)
	}
	return errors.Join(errs...)
}

// DeserializeClient applies a server payload. Failing components are
// skipped with the help of their safety byte and reported in the error.
func (e *Entity) DeserializeClient(r *wire.Reader, initial bool) error {
	if r.Remaining() == 0 {
		return nil
	}
	mask, err := r.ReadUvarint()
	if err != nil {
		return err
	}

	var errs []error
	for m := mask; m != 0; m &= m - 1 {
		i := bits.TrailingZeros64(m)
		if i >= len(e.components) {
			return errors.Join(append(errs, ErrComponentIndex{NetID: e.netID, Index: i})...)
		}

		fatal, err := deserializeComponent(e.components[i], r, initial)
		if fatal {
			return errors.Join(append(errs, err)...)
		}
		if err != nil {
			errs = append(errs, eris.Wrapf(err, "deserialize %s component %d", e, i))
		}
	}
	return errors.Join(errs...)
}

// ==================================================================
// Per tick cache
// ==================================================================

// Serialization is the cached broadcast payload of one entity for one tick.
type Serialization struct {
	Owner     *wire.Writer
	Observers *wire.Writer
	Err       error
}

type serializationCache struct {
	valid bool
	tick  int64
	Serialization
}

func (c *serializationCache) invalidate() {
	c.valid = false
}

// SerializationAtTick returns the delta payloads for tick, serializing at
// most once per tick no matter how many observers ask.
func (e *Entity) SerializationAtTick(tick int64, now float64) *Serialization {
	c := &e.cache
	if c.valid && c.tick == tick {
		return &c.Serialization
	}

	if c.Owner == nil {
		c.Owner = wire.NewWriter()
		c.Observers = wire.NewWriter()
	}
	c.Owner.Reset()
	c.Observers.Reset()
	c.Err = e.SerializeServer(false, c.Owner, c.Observers, now)
	c.tick = tick
	c.valid = true
	return &c.Serialization
}
