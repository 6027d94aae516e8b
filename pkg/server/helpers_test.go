package server

import (
	"context"
	"testing"
	"time"

	"github.com/QYUbit/netsync/pkg/client"
	"github.com/QYUbit/netsync/pkg/metrics"
	"github.com/QYUbit/netsync/pkg/netlog"
	"github.com/QYUbit/netsync/pkg/protocol"
	"github.com/QYUbit/netsync/pkg/replica"
	"github.com/QYUbit/netsync/pkg/synccol"
	"github.com/QYUbit/netsync/pkg/timesync"
	"github.com/QYUbit/netsync/pkg/transport/memory"
	"github.com/QYUbit/netsync/pkg/wire"
	"github.com/stretchr/testify/require"
)

const (
	tickRate = 30
	tick     = 34 * time.Millisecond

	assetMonster uint32 = 1
	assetHero    uint32 = 2
)

// ======================
// Components
// ======================

type monster struct {
	replica.Behaviour
	HP   *replica.SyncVar[int32]
	Name *replica.SyncVar[string]

	flashes int
}

func newMonster() *monster {
	m := &monster{}
	m.HP = replica.NewSyncVar(&m.Behaviour, wire.Int32, 100)
	m.Name = replica.NewSyncVar(&m.Behaviour, wire.String, "grunt")
	return m
}

type mover struct {
	replica.Behaviour
	Dir *replica.SyncVar[wire.Vector3]

	jumps int
}

func newMover() *mover {
	m := &mover{}
	m.SyncDirection = replica.ClientToServer
	m.Dir = replica.NewSyncVar(&m.Behaviour, wire.Vec3, wire.Vector3{})
	return m
}

type wallet struct {
	replica.Behaviour
	Gold  *replica.SyncVar[int32]
	Items *synccol.List[string]
}

func newWallet() *wallet {
	w := &wallet{}
	w.SyncMode = replica.SyncOwner
	w.Gold = replica.NewSyncVar(&w.Behaviour, wire.Int32, 0)
	w.Items = replica.NewSyncList(&w.Behaviour, wire.String)
	return w
}

func monsterEntity() *replica.Entity {
	e := replica.MustNewEntity(newMonster())
	e.AssetID = assetMonster
	return e
}

func heroEntity() *replica.Entity {
	e := replica.MustNewEntity(newMonster(), newMover(), newWallet())
	e.AssetID = assetHero
	return e
}

func monsterOf(e *replica.Entity) *monster {
	c, _ := e.Component(0)
	return c.(*monster)
}

func moverOf(e *replica.Entity) *mover {
	c, _ := e.Component(1)
	return c.(*mover)
}

func walletOf(e *replica.Entity) *wallet {
	c, _ := e.Component(2)
	return c.(*wallet)
}

// ======================
// Harness
// ======================

type peer struct {
	cl      *client.Client
	tr      *memory.Client
	metrics *metrics.Memory
}

func (p *peer) entity(t *testing.T, netID uint32) *replica.Entity {
	t.Helper()
	e, ok := p.cl.Entity(netID)
	require.True(t, ok, "client has no entity %d", netID)
	return e
}

type harness struct {
	t     *testing.T
	clock *timesync.ManualClock
	mem   *memory.Server
	srv   *Server
	log   *netlog.Memory
	peers []*peer
}

func newHarness(t *testing.T, configure func(o *Options)) *harness {
	t.Helper()
	h := &harness{
		t:     t,
		clock: timesync.NewManualClock(1),
		mem:   memory.NewServer(memory.Options{}),
		log:   netlog.NewMemory(),
	}

	opts := Options{
		Transport: h.mem,
		Logger:    h.log,
		Clock:     h.clock,
		TickRate:  tickRate,
	}
	if configure != nil {
		configure(&opts)
	}

	srv, err := NewServer(opts)
	require.NoError(t, err)
	require.NoError(t, srv.Start(context.Background()))
	h.srv = srv

	t.Cleanup(func() {
		if srv.Active() {
			_ = srv.Close()
		}
	})
	return h
}

// connect dials a client without making it ready.
func (h *harness) connect(configure func(o *client.Options)) *peer {
	h.t.Helper()
	p := &peer{tr: h.mem.NewClient(), metrics: metrics.NewMemory()}

	opts := client.Options{
		Transport: p.tr,
		Logger:    h.log.With("side", "client"),
		Metrics:   p.metrics,
		Clock:     h.clock,
		TickRate:  tickRate,
	}
	if configure != nil {
		configure(&opts)
	}
	cl, err := client.NewClient(opts)
	require.NoError(h.t, err)
	cl.RegisterPrefab(assetMonster, func(*protocol.SpawnMessage) (*replica.Entity, error) {
		return monsterEntity(), nil
	}, nil)
	cl.RegisterPrefab(assetHero, func(*protocol.SpawnMessage) (*replica.Entity, error) {
		return heroEntity(), nil
	}, nil)

	require.NoError(h.t, cl.Connect(context.Background()))
	p.cl = cl
	h.peers = append(h.peers, p)
	return p
}

// join connects a client, makes it ready and waits for the initial spawn set.
func (h *harness) join() (*peer, *replica.Connection) {
	h.t.Helper()
	p := h.connect(nil)
	require.NoError(h.t, p.cl.Ready())
	h.step(2)
	return p, h.conn(p)
}

func (h *harness) conn(p *peer) *replica.Connection {
	h.t.Helper()
	conn, ok := h.srv.Connection(p.tr.ID())
	require.True(h.t, ok, "server has no connection for %s", p.tr.ID())
	return conn
}

// step runs n full ticks: the server receives and broadcasts, then every
// client receives and sends.
func (h *harness) step(n int) {
	for range n {
		h.clock.Advance(tick)
		h.srv.EarlyUpdate()
		h.srv.LateUpdate()
		for _, p := range h.peers {
			p.cl.EarlyUpdate()
			p.cl.LateUpdate()
		}
	}
}

// deliver runs enough ticks for messages the clients queued so far to be
// handled by the server. Clients flush after the server has received.
func (h *harness) deliver() {
	h.step(2)
}

func (h *harness) spawn(e *replica.Entity, owner *replica.Connection) {
	h.t.Helper()
	require.NoError(h.t, h.srv.Spawn(e, owner))
}
