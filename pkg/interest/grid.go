package interest

import (
	"math"
	"slices"
	"sort"
	"time"

	"github.com/QYUbit/netsync/pkg/replica"
	"github.com/QYUbit/netsync/pkg/wire"
)

// Grid is a spatial hash. An entity is visible when its cell is the
// player's cell or one of the eight around it, so the effective range is
// between one and two cell widths.
//
// Spawned entities are hashed once when they spawn and again on every full
// rebuild, visibility follows those cells. Entities the grid does not track
// are hashed on the spot.
type Grid struct {
	CellSize float32
	Plane    Plane
	Interval time.Duration

	index map[*replica.Entity]Cell
	cells map[Cell][]*replica.Entity
}

func NewGrid(cellSize float32, interval time.Duration) *Grid {
	return &Grid{
		CellSize: cellSize,
		Interval: interval,
		index:    make(map[*replica.Entity]Cell),
		cells:    make(map[Cell][]*replica.Entity),
	}
}

func (g *Grid) CellOf(pos wire.Vector3) Cell {
	a, b := g.Plane.project(pos)
	return Cell{
		X: int32(math.Floor(float64(a / g.CellSize))),
		Y: int32(math.Floor(float64(b / g.CellSize))),
	}
}

func neighbours(a, b Cell) bool {
	dx, dy := a.X-b.X, a.Y-b.Y
	return dx >= -1 && dx <= 1 && dy >= -1 && dy <= 1
}

// cell is the indexed cell of e, or its current one when e is not tracked.
func (g *Grid) cell(e *replica.Entity) Cell {
	if c, ok := g.index[e]; ok {
		return c
	}
	return g.CellOf(e.Position)
}

func (g *Grid) ShouldObserve(e *replica.Entity, conn *replica.Connection) bool {
	player := conn.Player()
	if player == nil {
		return false
	}
	return neighbours(g.cell(e), g.cell(player))
}

func (g *Grid) RebuildInterval() time.Duration {
	return g.Interval
}

func (g *Grid) PrepareRebuild() {
	g.Reindex()
}

func (g *Grid) OnSpawned(e *replica.Entity) {
	g.insert(e, g.CellOf(e.Position))
}

func (g *Grid) OnDestroyed(e *replica.Entity) {
	c, ok := g.index[e]
	if !ok {
		return
	}
	delete(g.index, e)
	bucket := slices.DeleteFunc(g.cells[c], func(o *replica.Entity) bool { return o == e })
	if len(bucket) == 0 {
		delete(g.cells, c)
		return
	}
	g.cells[c] = bucket
}

func (g *Grid) insert(e *replica.Entity, c Cell) {
	g.index[e] = c
	g.cells[c] = append(g.cells[c], e)
}

// Reindex rehashes every tracked entity at its current position.
func (g *Grid) Reindex() {
	clear(g.cells)
	for e := range g.index {
		g.insert(e, g.CellOf(e.Position))
	}
}

// Near returns the tracked entities indexed in the nine cells around pos,
// ordered by net id.
func (g *Grid) Near(pos wire.Vector3) []*replica.Entity {
	center := g.CellOf(pos)
	var out []*replica.Entity
	for dx := int32(-1); dx <= 1; dx++ {
		for dy := int32(-1); dy <= 1; dy++ {
			out = append(out, g.cells[Cell{center.X + dx, center.Y + dy}]...)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NetID() < out[j].NetID() })
	return out
}

var (
	_ replica.Policy            = (*Grid)(nil)
	_ replica.SpawnListener     = (*Grid)(nil)
	_ replica.RebuildIntervaler = (*Grid)(nil)
	_ replica.RebuildPreparer   = (*Grid)(nil)
)
