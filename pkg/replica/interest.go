package replica

import "time"

// Policy decides visibility. It is consulted once per candidate connection
// whenever an entity's observers are rebuilt. Owners always observe their
// own entities regardless of the answer.
type Policy interface {
	ShouldObserve(e *Entity, conn *Connection) bool
}

// SpawnListener is implemented by policies that index entities. OnDestroyed
// runs on unspawn as well, IsDestroyed tells the two apart.
type SpawnListener interface {
	OnSpawned(e *Entity)
	OnDestroyed(e *Entity)
}

// RebuildIntervaler is implemented by policies whose answers change over
// time, e.g. with distance. The server rebuilds every entity at that interval.
type RebuildIntervaler interface {
	RebuildInterval() time.Duration
}

// RebuildPreparer is implemented by policies that cache entity state. The
// server calls PrepareRebuild before rebuilding every entity.
type RebuildPreparer interface {
	PrepareRebuild()
}
