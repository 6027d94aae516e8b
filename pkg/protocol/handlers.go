package protocol

import (
	"reflect"

	"github.com/QYUbit/netsync/pkg/wire"
	"github.com/rotisserie/eris"
)

// Entry is a compiled handler. Invoke decodes the body from r and calls the handler.
type Entry[C any] struct {
	Name        string
	Type        reflect.Type
	RequireAuth bool
	Invoke      func(peer C, r *wire.Reader, channel int) error
}

// Handlers is a message id to handler table for peers of type C.
type Handlers[C any] struct {
	entries map[uint16]Entry[C]
}

func NewHandlers[C any]() *Handlers[C] {
	return &Handlers[C]{entries: make(map[uint16]Entry[C])}
}

// Register installs fn for message type M, replacing a previous handler of the
// same message. Registering a different message under an id already taken fails.
func Register[M any, PM interface {
	*M
	Message
}, C any](h *Handlers[C], requireAuth bool, fn func(peer C, msg *M, channel int) error) error {
	var zero M
	id := PM(&zero).ID()
	typ := reflect.TypeFor[M]()
	name := NameOf(id)
	if name != typ.Name() {
		name = typ.String()
	}

	if prev, ok := h.entries[id]; ok && prev.Type != typ {
		return eris.Wrapf(ErrIDCollision, "%s and %s share id %d", prev.Type, typ, id)
	}

	h.entries[id] = Entry[C]{
		Name:        name,
		Type:        typ,
		RequireAuth: requireAuth,
		Invoke: func(peer C, r *wire.Reader, channel int) error {
			var msg M
			if err := PM(&msg).Deserialize(r); err != nil {
				return eris.Wrapf(err, "decode %s", name)
			}
			return fn(peer, &msg, channel)
		},
	}
	return nil
}

func (h *Handlers[C]) Unregister(id uint16) {
	delete(h.entries, id)
}

func (h *Handlers[C]) Lookup(id uint16) (Entry[C], bool) {
	e, ok := h.entries[id]
	return e, ok
}

func (h *Handlers[C]) Len() int {
	return len(h.entries)
}

// Clear drops every handler.
func (h *Handlers[C]) Clear() {
	clear(h.entries)
}
