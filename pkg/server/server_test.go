package server

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/QYUbit/netsync/pkg/client"
	"github.com/QYUbit/netsync/pkg/config"
	"github.com/QYUbit/netsync/pkg/interest"
	"github.com/QYUbit/netsync/pkg/protocol"
	"github.com/QYUbit/netsync/pkg/replica"
	"github.com/QYUbit/netsync/pkg/transport/memory"
	"github.com/QYUbit/netsync/pkg/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewServerNeedsTransport(t *testing.T) {
	_, err := NewServer(Options{})
	assert.True(t, errors.Is(err, ErrNoTransport))
}

func TestStartTwice(t *testing.T) {
	h := newHarness(t, nil)
	err := h.srv.Start(context.Background())
	assert.True(t, errors.Is(err, ErrAlreadyStarted))
}

func TestSpawnRequiresRunningServer(t *testing.T) {
	srv, err := NewServer(Options{Transport: memory.NewServer(memory.Options{})})
	require.NoError(t, err)
	err = srv.Spawn(monsterEntity(), nil)
	assert.True(t, errors.Is(err, ErrServerNotRunning))
}

func TestSpawnAndDelta(t *testing.T) {
	h := newHarness(t, nil)
	p, conn := h.join()

	e := monsterEntity()
	h.spawn(e, conn)
	assert.Equal(t, uint32(1), e.NetID())
	assert.True(t, e.IsObservedBy(conn))
	assert.True(t, conn.IsObserving(e))

	h.step(1)
	ce := p.entity(t, 1)
	assert.True(t, ce.IsOwned())
	assert.True(t, ce.ClientStarted())
	assert.Equal(t, int32(100), monsterOf(ce).HP.Get())
	assert.Equal(t, "grunt", monsterOf(ce).Name.Get())
	assert.Equal(t, 0, p.metrics.In("EntityStateMessage").Count)

	monsterOf(e).HP.Set(42)
	h.step(1)
	assert.Equal(t, int32(42), monsterOf(ce).HP.Get())
	assert.Equal(t, "grunt", monsterOf(ce).Name.Get())
	assert.Equal(t, 1, p.metrics.In("EntityStateMessage").Count)

	// nothing dirty, nothing sent
	h.step(3)
	assert.Equal(t, 1, p.metrics.In("EntityStateMessage").Count)
}

func TestSpawnTwiceFails(t *testing.T) {
	h := newHarness(t, nil)
	e := monsterEntity()
	h.spawn(e, nil)

	err := h.srv.Spawn(e, nil)
	assert.True(t, errors.Is(err, ErrAlreadySpawned))
}

func TestObserverJoinSnapshot(t *testing.T) {
	h := newHarness(t, nil)
	e := monsterEntity()
	h.spawn(e, nil)

	m := monsterOf(e)
	m.HP.Set(7)
	vars, _ := m.DirtyBits()
	require.NotZero(t, vars)

	p, _ := h.join()
	vars, _ = m.DirtyBits()
	assert.Zero(t, vars)

	assert.Equal(t, int32(7), monsterOf(p.entity(t, e.NetID())).HP.Get())
	h.step(3)
	assert.Equal(t, 0, p.metrics.In("EntityStateMessage").Count)
}

func TestReadyBracketsInitialSpawns(t *testing.T) {
	h := newHarness(t, nil)
	h.spawn(monsterEntity(), nil)
	h.spawn(monsterEntity(), nil)

	p, _ := h.join()
	assert.Equal(t, 1, p.metrics.In("ObjectSpawnStartedMessage").Count)
	assert.Equal(t, 2, p.metrics.In("SpawnMessage").Count)
	assert.Equal(t, 1, p.metrics.In("ObjectSpawnFinishedMessage").Count)
	for _, e := range p.cl.Spawned() {
		assert.True(t, e.ClientStarted())
	}
}

func TestServerOnlyEntityIsNeverSent(t *testing.T) {
	h := newHarness(t, nil)
	p, _ := h.join()

	e := monsterEntity()
	e.ServerOnly = true
	h.spawn(e, nil)
	h.step(1)

	_, ok := h.srv.Entity(e.NetID())
	assert.True(t, ok)
	assert.Empty(t, p.cl.Spawned())
	assert.Zero(t, e.ObserverCount())
}

func TestDestroyAndUnspawn(t *testing.T) {
	h := newHarness(t, nil)
	p, _ := h.join()

	e := monsterEntity()
	h.spawn(e, nil)
	h.step(1)
	require.Len(t, p.cl.Spawned(), 1)

	require.NoError(t, h.srv.Unspawn(e))
	assert.False(t, e.IsSpawned())
	assert.False(t, e.IsDestroyed())
	h.step(1)
	assert.Empty(t, p.cl.Spawned())

	h.spawn(e, nil)
	assert.Equal(t, uint32(2), e.NetID())
	h.step(1)
	p.entity(t, 2)

	require.NoError(t, h.srv.Destroy(e))
	assert.True(t, e.IsDestroyed())
	assert.True(t, errors.Is(h.srv.Spawn(e, nil), ErrEntityDestroyed))
	assert.True(t, errors.Is(h.srv.Destroy(e), ErrNotSpawned))
}

func TestDestroySceneEntityOnlyUnspawns(t *testing.T) {
	h := newHarness(t, nil)
	e := monsterEntity()
	e.SceneID = 0x5eed
	h.spawn(e, nil)

	require.NoError(t, h.srv.Destroy(e))
	assert.False(t, e.IsDestroyed())
	require.NoError(t, h.srv.Spawn(e, nil))
}

func TestOwnershipTransfer(t *testing.T) {
	h := newHarness(t, nil)
	a, connA := h.join()
	b, connB := h.join()

	e := heroEntity()
	h.spawn(e, nil)
	h.step(1)
	assert.False(t, a.entity(t, 1).IsOwned())

	walletOf(e).Gold.Set(9)
	require.NoError(t, h.srv.SetOwner(e, connA))
	h.step(1)
	assert.True(t, a.entity(t, 1).IsOwned())
	assert.False(t, b.entity(t, 1).IsOwned())
	assert.Equal(t, int32(9), walletOf(a.entity(t, 1)).Gold.Get())
	assert.Equal(t, int32(0), walletOf(b.entity(t, 1)).Gold.Get())
	assert.True(t, connA.Owns(e))

	require.NoError(t, h.srv.SetOwner(e, connB))
	h.step(1)
	assert.False(t, a.entity(t, 1).IsOwned())
	assert.True(t, b.entity(t, 1).IsOwned())
	assert.False(t, connA.Owns(e))
	assert.True(t, connB.Owns(e))
}

func TestNewOwnerReceivesOwnerOnlyState(t *testing.T) {
	h := newHarness(t, nil)
	p, conn := h.join()

	e := heroEntity()
	h.spawn(e, nil)
	require.NoError(t, walletOf(e).Items.Add("sword"))
	require.NoError(t, walletOf(e).Items.Add("shield"))
	walletOf(e).Gold.Set(40)
	h.step(3)
	assert.Empty(t, walletOf(p.entity(t, e.NetID())).Items.Items())

	require.NoError(t, h.srv.SetOwner(e, conn))
	h.step(1)

	local := p.entity(t, e.NetID())
	assert.True(t, local.IsOwned())
	assert.Equal(t, []string{"sword", "shield"}, walletOf(local).Items.Items())
	assert.Equal(t, int32(40), walletOf(local).Gold.Get())

	require.NoError(t, walletOf(e).Items.Add("bow"))
	h.step(1)
	assert.Equal(t, []string{"sword", "shield", "bow"}, walletOf(local).Items.Items())
}

func TestAddPlayerRequest(t *testing.T) {
	var h *harness
	h = newHarness(t, func(o *Options) {
		o.OnAddPlayer = func(conn *replica.Connection) error {
			return h.srv.AddPlayer(conn, heroEntity())
		}
	})
	p, conn := h.join()

	require.NoError(t, p.cl.AddPlayer())
	h.step(2)

	require.NotNil(t, conn.Player())
	local := p.cl.LocalPlayer()
	require.NotNil(t, local)
	assert.True(t, local.IsLocalPlayer())
	assert.True(t, local.IsOwned())
	assert.Equal(t, conn.Player().NetID(), local.NetID())

	assert.True(t, errors.Is(h.srv.AddPlayer(conn, heroEntity()), ErrHasPlayer))
}

func TestRemovePlayerKeepsEntity(t *testing.T) {
	h := newHarness(t, nil)
	p, conn := h.join()

	hero := heroEntity()
	require.NoError(t, h.srv.AddPlayer(conn, hero))
	h.step(1)
	require.NotNil(t, p.cl.LocalPlayer())

	require.NoError(t, h.srv.RemovePlayer(conn, false))
	h.step(1)
	assert.Nil(t, conn.Player())
	assert.Nil(t, hero.Owner())
	assert.True(t, hero.IsSpawned())
	assert.Nil(t, p.cl.LocalPlayer())
	assert.False(t, p.entity(t, hero.NetID()).IsOwned())
}

// ==================================================================
// Commands and client state
// ==================================================================

func registerJump(t *testing.T, calls *replica.RemoteCalls, fail bool) uint16 {
	hash, err := replica.RegisterCommand(calls, "Mover.Jump", true, func(m *mover, r *wire.Reader, sender *replica.Connection) error {
		if fail {
			return errors.New("jump failed")
		}
		m.jumps++
		return nil
	})
	require.NoError(t, err)
	return hash
}

func TestCommandAuthority(t *testing.T) {
	h := newHarness(t, nil)
	hash := registerJump(t, h.srv.RemoteCalls(), false)

	a, connA := h.join()
	b, _ := h.join()
	hero := heroEntity()
	require.NoError(t, h.srv.AddPlayer(connA, hero))
	h.step(1)

	require.NoError(t, a.cl.SendCommand(moverOf(a.entity(t, 1)), hash, nil, 0))
	require.NoError(t, b.cl.SendCommand(moverOf(b.entity(t, 1)), hash, nil, 0))
	h.deliver()

	assert.Equal(t, 1, moverOf(hero).jumps)
	assert.Equal(t, 1, h.log.Count("warn", "command without authority"))
	assert.Len(t, h.srv.Connections(), 2)
}

func TestClientRefusesCommandWithoutAuthority(t *testing.T) {
	h := newHarness(t, nil)
	h.join()
	b := h.connect(nil)
	require.NoError(t, b.cl.Ready())
	hash := registerJump(t, b.cl.RemoteCalls(), false)
	h.step(2)

	h.spawn(heroEntity(), h.conn(h.peers[0]))
	h.step(1)

	err := b.cl.SendCommand(moverOf(b.entity(t, 1)), hash, nil, 0)
	assert.True(t, errors.Is(err, client.ErrNotOwner))
}

func TestCommandFailureDisconnects(t *testing.T) {
	for _, disconnect := range []bool{true, false} {
		t.Run(fmt.Sprintf("disconnect=%v", disconnect), func(t *testing.T) {
			h := newHarness(t, func(o *Options) { o.ExceptionsDisconnect = disconnect })
			hash := registerJump(t, h.srv.RemoteCalls(), true)

			p, conn := h.join()
			require.NoError(t, h.srv.AddPlayer(conn, heroEntity()))
			h.step(1)

			require.NoError(t, p.cl.SendCommand(moverOf(p.cl.LocalPlayer()), hash, nil, 0))
			h.deliver()

			if disconnect {
				assert.Empty(t, h.srv.Connections())
				assert.False(t, p.cl.Connected())
				return
			}
			assert.Len(t, h.srv.Connections(), 1)
			assert.Equal(t, 1, h.log.Count("warn", "command failed"))
		})
	}
}

func TestClientAuthoritativeStateReachesObservers(t *testing.T) {
	h := newHarness(t, nil)
	a, connA := h.join()
	b, _ := h.join()

	hero := heroEntity()
	require.NoError(t, h.srv.AddPlayer(connA, hero))
	h.step(1)

	dir := wire.NewVector3(1, 0, -1)
	moverOf(a.cl.LocalPlayer()).Dir.Set(dir)
	h.step(2)

	assert.Equal(t, dir, moverOf(hero).Dir.Get())
	assert.Equal(t, dir, moverOf(b.entity(t, hero.NetID())).Dir.Get())
}

func TestClientCannotWriteServerState(t *testing.T) {
	h := newHarness(t, nil)
	p, conn := h.join()

	hero := heroEntity()
	require.NoError(t, h.srv.AddPlayer(conn, hero))
	h.step(1)

	w := wire.NewWriter()
	w.WriteUvarint(1) // monster component, server authoritative
	w.WriteByte(0)
	state := &protocol.EntityStateMessage{NetID: hero.NetID(), Payload: w.Bytes()}
	require.NoError(t, p.cl.Connection().Send(state, 0))
	h.deliver()

	assert.Equal(t, 1, h.log.Count("warn", "client wrote a server authoritative component"))
	assert.Len(t, h.srv.Connections(), 1)
}

func TestMalformedClientState(t *testing.T) {
	for _, disconnect := range []bool{true, false} {
		t.Run(fmt.Sprintf("disconnect=%v", disconnect), func(t *testing.T) {
			h := newHarness(t, func(o *Options) { o.ExceptionsDisconnect = disconnect })
			p, conn := h.join()

			hero := heroEntity()
			require.NoError(t, h.srv.AddPlayer(conn, hero))
			h.step(1)

			// the mover reads two empty masks but the safety byte claims three bytes
			w := wire.NewWriter()
			w.WriteUvarint(1 << 1)
			w.WriteByte(3)
			w.WriteUvarint(0)
			w.WriteUvarint(0)
			w.WriteByte(0)
			state := &protocol.EntityStateMessage{NetID: hero.NetID(), Payload: w.Bytes()}
			require.NoError(t, p.cl.Connection().Send(state, 0))
			h.deliver()

			if disconnect {
				assert.Empty(t, h.srv.Connections())
				return
			}
			assert.Len(t, h.srv.Connections(), 1)
			assert.Equal(t, 1, h.log.Count("warn", "failed to apply client state"))
		})
	}
}

// ==================================================================
// RPCs
// ==================================================================

func TestRpc(t *testing.T) {
	h := newHarness(t, nil)
	calls := replica.NewRemoteCalls()
	hash, err := replica.RegisterRpc(calls, "Monster.Flash", func(m *monster, r *wire.Reader) error {
		m.flashes++
		return nil
	})
	require.NoError(t, err)

	var peers []*peer
	for range 2 {
		p := h.connect(func(o *client.Options) { o.RemoteCalls = calls })
		require.NoError(t, p.cl.Ready())
		peers = append(peers, p)
	}
	h.step(2)
	owner := h.conn(peers[0])

	e := monsterEntity()
	h.spawn(e, owner)
	h.step(1)

	require.NoError(t, h.srv.SendRpc(monsterOf(e), hash, nil, 0, false))
	h.step(1)
	assert.Equal(t, 0, monsterOf(peers[0].entity(t, 1)).flashes)
	assert.Equal(t, 1, monsterOf(peers[1].entity(t, 1)).flashes)

	require.NoError(t, h.srv.SendTargetRpc(nil, monsterOf(e), hash, nil, 0))
	h.step(1)
	assert.Equal(t, 1, monsterOf(peers[0].entity(t, 1)).flashes)
	assert.Equal(t, 1, monsterOf(peers[1].entity(t, 1)).flashes)
}

func TestTargetRpcErrors(t *testing.T) {
	h := newHarness(t, nil)
	_, conn := h.join()

	e := monsterEntity()
	e.Visibility = replica.VisibilityForceHidden
	h.spawn(e, nil)

	err := h.srv.SendTargetRpc(nil, monsterOf(e), 1, nil, 0)
	assert.True(t, errors.Is(err, ErrNoTarget))
	err = h.srv.SendTargetRpc(conn, monsterOf(e), 1, nil, 0)
	assert.True(t, errors.Is(err, ErrNotObserving))
}

// ==================================================================
// Visibility
// ==================================================================

func TestForceHiddenAndRebuild(t *testing.T) {
	h := newHarness(t, nil)
	p, _ := h.join()

	e := monsterEntity()
	e.Visibility = replica.VisibilityForceHidden
	h.spawn(e, nil)
	h.step(1)
	assert.Empty(t, p.cl.Spawned())

	e.Visibility = replica.VisibilityDefault
	h.srv.RebuildObservers(e)
	h.step(1)
	require.Len(t, p.cl.Spawned(), 1)

	e.Visibility = replica.VisibilityForceHidden
	h.srv.RebuildObservers(e)
	h.step(1)
	assert.Empty(t, p.cl.Spawned())
	assert.Zero(t, e.ObserverCount())
}

func TestGroupSurvivesUnspawn(t *testing.T) {
	groups := interest.NewGroup()
	h := newHarness(t, func(o *Options) { o.Policy = groups })
	red, connRed := h.join()
	blue, connBlue := h.join()
	groups.SetConnection(connRed, "red")
	groups.SetConnection(connBlue, "blue")

	e := monsterEntity()
	groups.SetEntity(e, "red")
	h.spawn(e, nil)
	h.step(1)
	assert.Len(t, red.cl.Spawned(), 1)
	assert.Empty(t, blue.cl.Spawned())

	require.NoError(t, h.srv.Unspawn(e))
	h.spawn(e, nil)
	h.step(1)
	assert.Equal(t, "red", groups.EntityGroup(e))
	assert.Len(t, red.cl.Spawned(), 1)
	assert.Empty(t, blue.cl.Spawned())

	require.NoError(t, h.srv.Destroy(e))
	assert.Empty(t, groups.EntityGroup(e))
}

func TestDistancePolicy(t *testing.T) {
	h := newHarness(t, func(o *Options) {
		o.Policy = interest.NewDistance(10, 100*time.Millisecond)
	})
	near, connNear := h.join()
	far, connFar := h.join()

	heroNear, heroFar := heroEntity(), heroEntity()
	heroFar.Position = wire.NewVector3(100, 0, 0)
	require.NoError(t, h.srv.AddPlayer(connNear, heroNear))
	require.NoError(t, h.srv.AddPlayer(connFar, heroFar))

	e := monsterEntity()
	e.Position = wire.NewVector3(5, 0, 0)
	h.spawn(e, nil)
	h.step(1)

	assert.Len(t, near.cl.Spawned(), 2)
	assert.Len(t, far.cl.Spawned(), 1)
	assert.True(t, e.IsObservedBy(connNear))

	// walk over, the periodic rebuild picks it up
	heroFar.Position = wire.NewVector3(6, 0, 0)
	heroNear.Position = wire.NewVector3(-50, 0, 0)
	h.step(5)

	assert.True(t, e.IsObservedBy(connFar))
	assert.False(t, e.IsObservedBy(connNear))
	_, ok := far.cl.Entity(e.NetID())
	assert.True(t, ok)
	_, ok = near.cl.Entity(e.NetID())
	assert.False(t, ok)
}

func TestSetClientNotReady(t *testing.T) {
	notified := 0
	h := newHarness(t, nil)
	p := h.connect(func(o *client.Options) { o.OnNotReady = func() { notified++ } })
	require.NoError(t, p.cl.Ready())
	h.step(2)
	conn := h.conn(p)

	e := monsterEntity()
	h.spawn(e, nil)
	h.step(1)
	require.Len(t, p.cl.Spawned(), 1)

	h.srv.SetClientNotReady(conn)
	h.step(1)
	assert.False(t, conn.IsReady())
	assert.Zero(t, e.ObserverCount())
	assert.False(t, p.cl.IsReady())
	assert.Empty(t, p.cl.Spawned())
	assert.Equal(t, 1, notified)

	require.NoError(t, p.cl.Ready())
	h.step(2)
	assert.Len(t, p.cl.Spawned(), 1)
}

// ==================================================================
// Connections
// ==================================================================

func TestMaxConnections(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.MaxConnections = 1 })
	first, _ := h.join()
	second := h.connect(nil)
	h.step(2)

	assert.Len(t, h.srv.Connections(), 1)
	assert.True(t, first.cl.Connected())
	assert.False(t, second.cl.Connected())
}

func TestInactiveConnectionsAreDropped(t *testing.T) {
	h := newHarness(t, func(o *Options) {
		o.DisconnectInactiveConnections = true
		o.DisconnectInactiveTimeout = time.Second
	})
	h.join()
	h.step(10)
	h.srv.EarlyUpdate()
	require.Len(t, h.srv.Connections(), 1)

	h.clock.Advance(2 * time.Second)
	h.srv.LateUpdate()
	assert.Empty(t, h.srv.Connections())
	assert.Equal(t, 1, h.log.Count("warn", "disconnecting inactive connection"))
}

func TestDisconnectOwnedObjects(t *testing.T) {
	cases := []struct {
		name    string
		policy  config.OwnedObjectsPolicy
		sceneID uint64
		kept    bool
	}{
		{"destroy", config.DestroyOwned, 0, false},
		{"keep", config.KeepOwned, 0, true},
		{"scene entities survive", config.DestroyOwned, 0xabc, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, func(o *Options) { o.OwnedObjects = tc.policy })
			p, conn := h.join()
			watcher, _ := h.join()

			e := heroEntity()
			e.SceneID = tc.sceneID
			if tc.sceneID != 0 {
				for _, c := range []*peer{p, watcher} {
					local := heroEntity()
					local.SceneID = tc.sceneID
					require.NoError(t, c.cl.RegisterSceneEntity(local))
				}
			}
			h.spawn(e, conn)
			h.step(1)
			require.Len(t, watcher.cl.Spawned(), 1)

			require.NoError(t, p.tr.Close())
			h.step(1)

			assert.Len(t, h.srv.Connections(), 1)
			assert.Equal(t, tc.kept, e.IsSpawned())
			assert.Nil(t, e.Owner())
			assert.Equal(t, !tc.kept, e.IsDestroyed())
			assert.Equal(t, tc.kept, len(watcher.cl.Spawned()) == 1)
		})
	}
}

func TestManualAuthentication(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.ManualAuthentication = true })

	rejected := h.connect(nil)
	require.NoError(t, rejected.cl.Ready())
	h.step(2)
	assert.Empty(t, h.srv.Connections())
	assert.Equal(t, 1, h.log.Count("warn", "message requires authentication"))

	p := h.connect(nil)
	h.step(1)
	conn := h.conn(p)
	assert.False(t, conn.IsAuthenticated())
	h.srv.Authenticate(conn)

	require.NoError(t, p.cl.Ready())
	h.step(2)
	assert.True(t, conn.IsReady())
}

func TestPingPong(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.PingInterval = 100 * time.Millisecond })
	p, _ := h.join()
	h.step(10)

	assert.Positive(t, p.metrics.In("NetworkPingMessage").Count)
	assert.Equal(t, 1, h.log.Count("info", "client connected"))
	assert.Positive(t, h.conn(p).RTT().Value())
}

func TestCloseResetsEntities(t *testing.T) {
	h := newHarness(t, nil)
	p, _ := h.join()

	e, scene := monsterEntity(), monsterEntity()
	scene.SceneID = 1
	h.spawn(e, nil)
	h.spawn(scene, nil)
	h.step(1)

	require.NoError(t, h.srv.Close())
	assert.False(t, h.srv.Active())
	assert.True(t, e.IsDestroyed())
	assert.False(t, scene.IsDestroyed())
	assert.False(t, scene.IsSpawned())
	assert.Empty(t, h.srv.Spawned())

	p.cl.EarlyUpdate()
	assert.False(t, p.cl.Connected())
	assert.True(t, errors.Is(h.srv.Close(), ErrServerNotRunning))
}
