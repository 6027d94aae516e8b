// Package replica holds the replicated object model: entities, their
// behaviour components, sync vars and the delta serialization engine that
// turns dirty state into owner and observer payloads.
package replica

import (
	"fmt"

	"github.com/rotisserie/eris"
)

// MaxComponents is the number of components an entity can carry, one per dirty mask bit.
const MaxComponents = 64

// SyncDirection names the side that writes a component's state.
type SyncDirection byte

const (
	ServerToClient SyncDirection = iota
	ClientToServer
)

func (d SyncDirection) String() string {
	if d == ClientToServer {
		return "ClientToServer"
	}
	return "ServerToClient"
}

// SyncMode decides whether observers other than the owner receive a component.
type SyncMode byte

const (
	SyncObservers SyncMode = iota
	SyncOwner
)

func (m SyncMode) String() string {
	if m == SyncOwner {
		return "Owner"
	}
	return "Observers"
}

type Visibility byte

const (
	VisibilityDefault Visibility = iota
	VisibilityForceHidden
	VisibilityForceShown
)

// ==================================================================
// Errors
// ==================================================================

var (
	ErrTooManyComponents  = eris.New("replica: too many components")
	ErrTooManySyncVars    = eris.New("replica: too many sync vars")
	ErrSizeMismatch       = eris.New("replica: component read size mismatch")
	ErrNotClientWritable  = eris.New("replica: component is not client authoritative")
	ErrHashCollision      = eris.New("replica: remote call hash collision")
	ErrWrongComponentType = eris.New("replica: remote call on wrong component type")
	ErrMessageTooLarge    = eris.New("replica: message exceeds packet size")
	ErrNoSender           = eris.New("replica: connection has no transport")
)

type ErrComponentIndex struct {
	NetID uint32
	Index int
}

func (e ErrComponentIndex) Error() string {
	return fmt.Sprintf("entity %d has no component %d", e.NetID, e.Index)
}

type ErrPanic struct {
	Value any
}

func (e ErrPanic) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// safeCall runs fn and turns a panic into ErrPanic.
func safeCall(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = ErrPanic{Value: r}
		}
	}()
	return fn()
}
