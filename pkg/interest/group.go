package interest

import (
	"github.com/QYUbit/netsync/pkg/replica"
)

// Group partitions the world into named groups such as matches or scenes.
// Grouped entities are visible to connections of the same group only.
// Ungrouped entities are visible to everyone.
//
// Unspawned entities keep their group for the next spawn, destroyed ones
// leave it. Changing a group does not rebuild anything by itself. Callers
// rebuild the affected entities afterwards.
type Group struct {
	entities map[*replica.Entity]string
	conns    map[string]string
}

func NewGroup() *Group {
	return &Group{
		entities: make(map[*replica.Entity]string),
		conns:    make(map[string]string),
	}
}

// SetEntity moves e into group. An empty group removes it from any group.
func (g *Group) SetEntity(e *replica.Entity, group string) {
	if group == "" {
		delete(g.entities, e)
		return
	}
	g.entities[e] = group
}

// SetConnection moves conn into group. An empty group removes it.
func (g *Group) SetConnection(conn *replica.Connection, group string) {
	if group == "" {
		delete(g.conns, conn.ID())
		return
	}
	g.conns[conn.ID()] = group
}

func (g *Group) EntityGroup(e *replica.Entity) string {
	return g.entities[e]
}

func (g *Group) ConnectionGroup(conn *replica.Connection) string {
	return g.conns[conn.ID()]
}

// Members lists the entities currently in group.
func (g *Group) Members(group string) []*replica.Entity {
	var out []*replica.Entity
	for e, grp := range g.entities {
		if grp == group {
			out = append(out, e)
		}
	}
	return out
}

func (g *Group) ShouldObserve(e *replica.Entity, conn *replica.Connection) bool {
	grp, ok := g.entities[e]
	if !ok {
		return true
	}
	return g.conns[conn.ID()] == grp
}

func (g *Group) OnSpawned(e *replica.Entity) {}

func (g *Group) OnDestroyed(e *replica.Entity) {
	if e.IsDestroyed() {
		delete(g.entities, e)
	}
}

var (
	_ replica.Policy        = (*Group)(nil)
	_ replica.SpawnListener = (*Group)(nil)
)
