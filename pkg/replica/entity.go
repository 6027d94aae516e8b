package replica

import (
	"fmt"
	"slices"
	"strings"

	"github.com/QYUbit/netsync/pkg/wire"
	"github.com/rotisserie/eris"
)

// Entity is a replicated object made of up to 64 components.
//
// The fields below are authored before spawning. Everything else is state
// owned by the server or client session the entity is spawned in.
type Entity struct {
	Name string
	// SceneID identifies entities placed in a scene, unique within it.
	SceneID uint64
	// AssetID tells remote peers which template to instantiate.
	AssetID uint32
	// ServerOnly entities are tracked by the server but never sent.
	ServerOnly bool
	Visibility Visibility

	Position wire.Vector3
	Rotation wire.Quaternion
	Scale    wire.Vector3

	netID      uint32
	components []Component

	isServer      bool
	isClient      bool
	isOwned       bool
	isLocalPlayer bool
	hadAuthority  bool
	destroyed     bool

	serverStarted      bool
	clientStarted      bool
	localPlayerStarted bool

	owner     *Connection
	observers map[string]*Connection

	cache serializationCache
}

// NewEntity builds an entity and assigns every component its index.
func NewEntity(components ...Component) (*Entity, error) {
	if len(components) > MaxComponents {
		return nil, eris.Wrapf(ErrTooManyComponents, "%d components, max %d", len(components), MaxComponents)
	}

	e := &Entity{
		Rotation:   wire.IdentityQuaternion,
		Scale:      wire.Vector3{X: 1, Y: 1, Z: 1},
		components: components,
		observers:  make(map[string]*Connection),
	}
	for i, c := range components {
		b := c.Base()
		if b.entity != nil && b.entity != e {
			return nil, eris.Errorf("replica: component %d already belongs to another entity", i)
		}
		b.entity = e
		b.index = i
	}
	return e, nil
}

// MustNewEntity is NewEntity for static setups. It panics on error.
func MustNewEntity(components ...Component) *Entity {
	e, err := NewEntity(components...)
	if err != nil {
		panic(err)
	}
	return e
}

func (e *Entity) String() string {
	var sb strings.Builder
	if e.Name != "" {
		sb.WriteString(e.Name)
	} else {
		sb.WriteString("entity")
	}
	fmt.Fprintf(&sb, "[netId=%d", e.netID)
	if e.SceneID != 0 {
		fmt.Fprintf(&sb, " scene=%x", e.SceneID)
	}
	if e.AssetID != 0 {
		fmt.Fprintf(&sb, " asset=%d", e.AssetID)
	}
	sb.WriteString("]")
	return sb.String()
}

func (e *Entity) NetID() uint32 {
	return e.netID
}

func (e *Entity) Components() []Component {
	return e.components
}

func (e *Entity) Component(i int) (Component, bool) {
	if i < 0 || i >= len(e.components) {
		return nil, false
	}
	return e.components[i], true
}

func (e *Entity) IsServer() bool      { return e.isServer }
func (e *Entity) IsClient() bool      { return e.isClient }
func (e *Entity) IsOwned() bool       { return e.isOwned }
func (e *Entity) IsLocalPlayer() bool { return e.isLocalPlayer }
func (e *Entity) IsDestroyed() bool   { return e.destroyed }
func (e *Entity) IsSpawned() bool     { return e.netID != 0 }

// IsSceneEntity reports whether the entity was placed in a scene. Scene
// entities are only ever unspawned, never destroyed.
func (e *Entity) IsSceneEntity() bool {
	return e.SceneID != 0
}

// Owner is the owning connection on the server.
func (e *Entity) Owner() *Connection {
	return e.owner
}

// ==================================================================
// Session facing state
// ==================================================================

// The setters below are driven by the server and client sessions.

func (e *Entity) SetNetID(id uint32) {
	e.netID = id
}

func (e *Entity) SetServer(v bool) {
	e.isServer = v
}

func (e *Entity) SetClient(v bool) {
	e.isClient = v
}

func (e *Entity) SetOwned(v bool) {
	e.isOwned = v
}

func (e *Entity) SetLocalPlayer(v bool) {
	e.isLocalPlayer = v
}

// SetOwner sets the owning connection on the server.
func (e *Entity) SetOwner(conn *Connection) {
	e.owner = conn
}

func (e *Entity) MarkDestroyed() {
	e.destroyed = true
}

// ======================
// Observers
// ======================

func (e *Entity) ObserverCount() int {
	return len(e.observers)
}

func (e *Entity) IsObservedBy(conn *Connection) bool {
	_, ok := e.observers[conn.id]
	return ok
}

// Observers returns a snapshot of the observers ordered by connection id.
func (e *Entity) Observers() []*Connection {
	out := make([]*Connection, 0, len(e.observers))
	for _, c := range e.observers {
		out = append(out, c)
	}
	slices.SortFunc(out, func(a, b *Connection) int {
		return strings.Compare(a.id, b.id)
	})
	return out
}

// AttachObserver adds conn to the observer set. It reports false if conn
// already observes.
func (e *Entity) AttachObserver(conn *Connection) bool {
	if _, ok := e.observers[conn.id]; ok {
		return false
	}
	e.observers[conn.id] = conn
	return true
}

func (e *Entity) DetachObserver(conn *Connection) bool {
	if _, ok := e.observers[conn.id]; !ok {
		return false
	}
	delete(e.observers, conn.id)
	return true
}

// ClearAllComponentsDirtyBits drops pending changes of every component.
func (e *Entity) ClearAllComponentsDirtyBits(now float64) {
	for _, c := range e.components {
		c.Base().ClearAllDirtyBits(now)
	}
}

// ResetState returns the entity to its unspawned state so it can be spawned again.
func (e *Entity) ResetState() {
	e.netID = 0
	e.isServer = false
	e.isClient = false
	e.isOwned = false
	e.isLocalPlayer = false
	e.hadAuthority = false
	e.serverStarted = false
	e.clientStarted = false
	e.localPlayerStarted = false
	e.owner = nil
	clear(e.observers)
	e.cache.invalidate()

	for _, c := range e.components {
		b := c.Base()
		b.syncVarDirtyBits = 0
		b.syncObjectDirtyBits = 0
		b.lastSyncTime = 0
		for _, obj := range b.syncObjects {
			obj.ClearChanges()
		}
	}
}

// ResetSyncObjects empties every component's collections.
func (e *Entity) ResetSyncObjects() {
	for _, c := range e.components {
		c.Base().resetSyncObjects()
	}
}
