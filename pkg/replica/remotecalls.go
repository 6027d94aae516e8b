package replica

import (
	"fmt"

	"github.com/QYUbit/netsync/pkg/serializer"
	"github.com/QYUbit/netsync/pkg/wire"
	"github.com/rotisserie/eris"
)

type CallKind byte

const (
	KindCommand CallKind = iota
	KindRpc
)

func (k CallKind) String() string {
	if k == KindRpc {
		return "rpc"
	}
	return "command"
}

// Invoker is one registered remote call.
type Invoker struct {
	Kind              CallKind
	Name              string
	Hash              uint16
	RequiresAuthority bool

	call func(c Component, r *wire.Reader, sender *Connection) error
}

// Invoke runs the handler on c. A handler panic comes back as ErrPanic.
func (inv *Invoker) Invoke(c Component, r *wire.Reader, sender *Connection) error {
	return safeCall(func() error {
		return inv.call(c, r, sender)
	})
}

// RemoteCalls maps stable 16 bit hashes of call names to handlers. Both
// peers build the same table, the hash is what travels on the wire.
type RemoteCalls struct {
	byHash map[uint16]*Invoker
}

func NewRemoteCalls() *RemoteCalls {
	return &RemoteCalls{byHash: make(map[uint16]*Invoker)}
}

func (rc *RemoteCalls) register(inv *Invoker) error {
	if prev, ok := rc.byHash[inv.Hash]; ok {
		if prev.Name != inv.Name || prev.Kind != inv.Kind {
			return eris.Wrapf(ErrHashCollision, "%s %q and %s %q both hash to %#04x",
				prev.Kind, prev.Name, inv.Kind, inv.Name, inv.Hash)
		}
	}
	rc.byHash[inv.Hash] = inv
	return nil
}

// Lookup finds the invoker for a hash of the given kind.
func (rc *RemoteCalls) Lookup(kind CallKind, hash uint16) (*Invoker, bool) {
	inv, ok := rc.byHash[hash]
	if !ok || inv.Kind != kind {
		return nil, false
	}
	return inv, true
}

func (rc *RemoteCalls) Len() int {
	return len(rc.byHash)
}

// RegisterCommand registers a client to server call on components of type
// C and returns its hash. name should be fully qualified, e.g. "Player.Move".
// Commands with requiresAuthority are only accepted from the owner.
func RegisterCommand[C Component](rc *RemoteCalls, name string, requiresAuthority bool, fn func(c C, r *wire.Reader, sender *Connection) error) (uint16, error) {
	inv := &Invoker{
		Kind:              KindCommand,
		Name:              name,
		Hash:              wire.StableHash16(name),
		RequiresAuthority: requiresAuthority,
		call: func(c Component, r *wire.Reader, sender *Connection) error {
			typed, ok := c.(C)
			if !ok {
				return eris.Wrapf(ErrWrongComponentType, "%s expects %s, got %T", name, typeName[C](), c)
			}
			return fn(typed, r, sender)
		},
	}
	return inv.Hash, rc.register(inv)
}

// RegisterRpc registers a server to client call on components of type C.
func RegisterRpc[C Component](rc *RemoteCalls, name string, fn func(c C, r *wire.Reader) error) (uint16, error) {
	inv := &Invoker{
		Kind: KindRpc,
		Name: name,
		Hash: wire.StableHash16(name),
		call: func(c Component, r *wire.Reader, _ *Connection) error {
			typed, ok := c.(C)
			if !ok {
				return eris.Wrapf(ErrWrongComponentType, "%s expects %s, got %T", name, typeName[C](), c)
			}
			return fn(typed, r)
		},
	}
	return inv.Hash, rc.register(inv)
}

func typeName[T any]() string {
	var zero T
	return fmt.Sprintf("%T", zero)
}

// TypedCommand adapts a handler taking decoded arguments. The call payload
// is the serializer's encoding of A.
func TypedCommand[C Component, A any](s serializer.Serializer, fn func(c C, args A, sender *Connection) error) func(c C, r *wire.Reader, sender *Connection) error {
	return func(c C, r *wire.Reader, sender *Connection) error {
		args, err := serializer.Decode[A](s, r)
		if err != nil {
			return err
		}
		return fn(c, args, sender)
	}
}

func TypedRpc[C Component, A any](s serializer.Serializer, fn func(c C, args A) error) func(c C, r *wire.Reader) error {
	return func(c C, r *wire.Reader) error {
		args, err := serializer.Decode[A](s, r)
		if err != nil {
			return err
		}
		return fn(c, args)
	}
}
