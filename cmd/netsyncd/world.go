package main

import (
	"math"
	"math/rand/v2"

	"github.com/QYUbit/netsync/pkg/netlog"
	"github.com/QYUbit/netsync/pkg/replica"
	"github.com/QYUbit/netsync/pkg/serializer"
	"github.com/QYUbit/netsync/pkg/server"
	"github.com/QYUbit/netsync/pkg/wire"
)

const (
	worldSize float32 = 400

	assetAvatar   uint32 = 1
	assetWanderer uint32 = 2

	avatarSpeed   float32 = 8
	wandererSpeed float32 = 3
)

// ======================
// Components
// ======================

// body is the replicated transform part every demo entity carries.
type body struct {
	replica.Behaviour
	Pos  *replica.SyncVar[wire.Vector3]
	Name *replica.SyncVar[string]

	velocity wire.Vector3
}

func newBody(name string) *body {
	b := &body{}
	b.Pos = replica.NewSyncVar(&b.Behaviour, wire.Vec3, wire.Vector3{})
	b.Name = replica.NewSyncVar(&b.Behaviour, wire.String, name)
	return b
}

// moveArgs is the payload of Avatar.Move.
type moveArgs struct {
	X float32 `msgpack:"x"`
	Z float32 `msgpack:"z"`
}

// score only travels to the owner.
type score struct {
	replica.Behaviour
	Points *replica.SyncVar[int32]
}

func newScore() *score {
	s := &score{}
	s.SyncMode = replica.SyncOwner
	s.Points = replica.NewSyncVar(&s.Behaviour, wire.Int32, 0)
	return s
}

func bodyOf(e *replica.Entity) *body {
	c, _ := e.Component(0)
	return c.(*body)
}

// ======================
// World
// ======================

type world struct {
	log    netlog.Logger
	calls  *replica.RemoteCalls
	srv    *server.Server
	status *status

	wanderers []*replica.Entity
	rng       *rand.Rand
}

func newWorld(log netlog.Logger) *world {
	w := &world{
		log:    log,
		calls:  replica.NewRemoteCalls(),
		status: newStatus(),
		rng:    rand.New(rand.NewPCG(1, 2)),
	}
	if _, err := replica.RegisterCommand(w.calls, "Avatar.Move", true,
		replica.TypedCommand(serializer.MsgPack{}, w.move)); err != nil {
		panic(err)
	}
	return w
}

func (w *world) populate(n int) error {
	for i := range n {
		e := replica.MustNewEntity(newBody("wanderer"))
		e.Name = "wanderer"
		e.AssetID = assetWanderer
		b := bodyOf(e)
		b.velocity = w.heading(wandererSpeed)
		place(e, w.randomPoint())
		if err := w.srv.Spawn(e, nil); err != nil {
			return err
		}
		w.wanderers = append(w.wanderers, e)
		w.log.Debug("wanderer spawned", "index", i, "netId", e.NetID())
	}
	return nil
}

func (w *world) addPlayer(conn *replica.Connection) error {
	e := replica.MustNewEntity(newBody(conn.ID()), newScore())
	e.Name = "avatar"
	e.AssetID = assetAvatar
	place(e, w.randomPoint())
	return w.srv.AddPlayer(conn, e)
}

func (w *world) move(b *body, args moveArgs, sender *replica.Connection) error {
	dir := wire.NewVector3(args.X, 0, args.Z)
	if m := dir.Magnitude(); m > 1 {
		dir = wire.NewVector3(dir.X/m, 0, dir.Z/m)
	}
	b.velocity = wire.NewVector3(dir.X*avatarSpeed, 0, dir.Z*avatarSpeed)
	return nil
}

// update moves everything by its velocity. Wanderers turn at the border,
// avatars stop there and score a point.
func (w *world) update(dt float64) {
	for _, e := range w.srv.Spawned() {
		b := bodyOf(e)
		if b.velocity == (wire.Vector3{}) {
			continue
		}
		step := wire.NewVector3(b.velocity.X*float32(dt), 0, b.velocity.Z*float32(dt))
		next := e.Position.Add(step)

		if inside(next) {
			place(e, next)
			continue
		}
		if e.AssetID == assetWanderer {
			b.velocity = w.heading(wandererSpeed)
			continue
		}
		b.velocity = wire.Vector3{}
		if c, ok := e.Component(1); ok {
			s := c.(*score)
			s.Points.Set(s.Points.Get() + 1)
		}
	}
}

func (w *world) randomPoint() wire.Vector3 {
	return wire.NewVector3(
		(w.rng.Float32()-0.5)*worldSize,
		0,
		(w.rng.Float32()-0.5)*worldSize,
	)
}

func (w *world) heading(speed float32) wire.Vector3 {
	a := w.rng.Float64() * 2 * math.Pi
	return wire.NewVector3(float32(math.Cos(a))*speed, 0, float32(math.Sin(a))*speed)
}

func place(e *replica.Entity, pos wire.Vector3) {
	e.Position = pos
	bodyOf(e).Pos.Set(pos)
}

func inside(p wire.Vector3) bool {
	half := worldSize / 2
	return p.X >= -half && p.X <= half && p.Z >= -half && p.Z <= half
}
