// Package interest provides visibility policies for the server's observer
// rebuilds. Policies judge a connection by the position of its player
// entity; connections without a player see nothing beyond what they own.
package interest

import (
	"time"

	"github.com/QYUbit/netsync/pkg/replica"
	"github.com/QYUbit/netsync/pkg/wire"
)

// VisRanger lets a component override the visibility range of its entity.
type VisRanger interface {
	VisRange() float32
}

func visRange(e *replica.Entity, fallback float32) float32 {
	for _, c := range e.Components() {
		if r, ok := c.(VisRanger); ok {
			return r.VisRange()
		}
	}
	return fallback
}

// Distance shows entities within Range of the connection's player.
type Distance struct {
	Range    float32
	Interval time.Duration
}

func NewDistance(visRange float32, interval time.Duration) *Distance {
	return &Distance{Range: visRange, Interval: interval}
}

func (d *Distance) ShouldObserve(e *replica.Entity, conn *replica.Connection) bool {
	player := conn.Player()
	if player == nil {
		return false
	}
	r := visRange(e, d.Range)
	return player.Position.Sub(e.Position).SqrMagnitude() <= r*r
}

func (d *Distance) RebuildInterval() time.Duration {
	return d.Interval
}

var (
	_ replica.Policy            = (*Distance)(nil)
	_ replica.RebuildIntervaler = (*Distance)(nil)
)

// Plane picks the two axes a Grid hashes on.
type Plane int

const (
	PlaneXZ Plane = iota
	PlaneXY
)

type Cell struct {
	X, Y int32
}

func (p Plane) project(v wire.Vector3) (float32, float32) {
	if p == PlaneXY {
		return v.X, v.Y
	}
	return v.X, v.Z
}
