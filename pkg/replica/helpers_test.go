package replica

import (
	"github.com/QYUbit/netsync/pkg/synccol"
	"github.com/QYUbit/netsync/pkg/wire"
)

type health struct {
	Behaviour
	HP   *SyncVar[int32]
	Name *SyncVar[string]
	Tags *synccol.List[string]
}

func newHealth() *health {
	h := &health{}
	h.HP = NewSyncVar(&h.Behaviour, wire.Int32, 100)
	h.Name = NewSyncVar(&h.Behaviour, wire.String, "")
	h.Tags = NewSyncList(&h.Behaviour, wire.String)
	return h
}

type input struct {
	Behaviour
	Dir *SyncVar[wire.Vector3]
}

func newInput() *input {
	c := &input{}
	c.SyncDirection = ClientToServer
	c.Dir = NewSyncVar(&c.Behaviour, wire.Vec3, wire.Vector3{})
	return c
}

// skewed writes four bytes but reads four plus extra, or fewer when extra is negative.
type skewed struct {
	Behaviour
	extra int
}

func (s *skewed) OnSerialize(w *wire.Writer, initial bool) error {
	w.WriteUint32(0xAABBCCDD)
	return nil
}

func (s *skewed) OnDeserialize(r *wire.Reader, initial bool) error {
	n := 4 + s.extra
	return r.Skip(n)
}

type panicky struct {
	Behaviour
	onSerialize   bool
	onDeserialize bool
	calls         int
}

func (p *panicky) OnSerialize(w *wire.Writer, initial bool) error {
	p.calls++
	if p.onSerialize {
		panic("serialize exploded")
	}
	w.WriteByte(1)
	return nil
}

func (p *panicky) OnDeserialize(r *wire.Reader, initial bool) error {
	if p.onDeserialize {
		panic("deserialize exploded")
	}
	_, err := r.ReadByte()
	return err
}

// serverAndClient returns a spawned server side entity together with its
// client replica.
func serverAndClient(server, client []Component) (*Entity, *Entity) {
	se := MustNewEntity(server...)
	se.SetNetID(1)
	se.SetServer(true)

	ce := MustNewEntity(client...)
	ce.SetNetID(1)
	ce.SetClient(true)
	return se, ce
}

func initialOf(e *Entity) (owner, observers []byte, err error) {
	ow, obs := wire.NewWriter(), wire.NewWriter()
	err = e.SerializeServer(true, ow, obs, 0)
	return ow.Bytes(), obs.Bytes(), err
}

func deltaOf(e *Entity, now float64) (owner, observers []byte, err error) {
	ow, obs := wire.NewWriter(), wire.NewWriter()
	err = e.SerializeServer(false, ow, obs, now)
	return ow.Bytes(), obs.Bytes(), err
}
