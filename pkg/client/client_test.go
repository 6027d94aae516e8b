package client

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/QYUbit/netsync/pkg/netlog"
	"github.com/QYUbit/netsync/pkg/protocol"
	"github.com/QYUbit/netsync/pkg/replica"
	"github.com/QYUbit/netsync/pkg/timesync"
	"github.com/QYUbit/netsync/pkg/transport/memory"
	"github.com/QYUbit/netsync/pkg/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const assetTracker uint32 = 7

type tracker struct {
	replica.Behaviour
	Value *replica.SyncVar[int32]

	started *[]uint32
}

func (p *tracker) OnStartClient() {
	if p.started != nil {
		*p.started = append(*p.started, p.NetID())
	}
}

func newTracker(started *[]uint32) *tracker {
	p := &tracker{started: started}
	p.Value = replica.NewSyncVar(&p.Behaviour, wire.Int32, 0)
	return p
}

func trackerOf(e *replica.Entity) *tracker {
	c, _ := e.Component(0)
	return c.(*tracker)
}

// fixture is a client wired to a bare memory server. The test plays the
// server by hand through srv.
type fixture struct {
	t     *testing.T
	clock *timesync.ManualClock
	log   *netlog.Memory
	cl    *Client
	srv   *replica.Connection

	started []uint32
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{t: t, clock: timesync.NewManualClock(1), log: netlog.NewMemory()}

	mem := memory.NewServer(memory.Options{})
	require.NoError(t, mem.Start(context.Background()))

	cl, err := NewClient(Options{
		Transport: mem.NewClient(),
		Logger:    f.log,
		Clock:     f.clock,
		TickRate:  30,
	})
	require.NoError(t, err)
	cl.RegisterPrefab(assetTracker, func(*protocol.SpawnMessage) (*replica.Entity, error) {
		e := replica.MustNewEntity(newTracker(&f.started))
		return e, nil
	}, nil)
	require.NoError(t, cl.Connect(context.Background()))
	f.cl = cl

	c := <-mem.Connections()
	f.srv = replica.NewConnection(c.ClientId, c.RemoteAddr, mem, f.clock)
	t.Cleanup(func() { _ = mem.Close() })
	return f
}

// deliver sends msgs as one batch and lets the client process it.
func (f *fixture) deliver(msgs ...protocol.Message) {
	f.t.Helper()
	for _, msg := range msgs {
		require.NoError(f.t, f.srv.Send(msg, 0))
	}
	require.NoError(f.t, f.srv.Flush())
	f.clock.Advance(34 * time.Millisecond)
	f.cl.EarlyUpdate()
}

func spawnRecord(netID uint32, value int32) *protocol.SpawnMessage {
	w := wire.NewWriter()
	e := replica.MustNewEntity(newTracker(nil))
	trackerOf(e).Value.Set(value)
	_ = e.SerializeServer(true, wire.NewWriter(), w, 0)
	return &protocol.SpawnMessage{
		NetID:    netID,
		AssetID:  assetTracker,
		Rotation: wire.IdentityQuaternion,
		Scale:    wire.NewVector3(1, 1, 1),
		Payload:  w.Bytes(),
	}
}

func TestNewClientNeedsTransport(t *testing.T) {
	_, err := NewClient(Options{})
	assert.True(t, errors.Is(err, ErrNoTransport))
}

func TestSpawnAppliesPayload(t *testing.T) {
	f := newFixture(t)
	f.deliver(spawnRecord(3, 55))

	e, ok := f.cl.Entity(3)
	require.True(t, ok)
	assert.Equal(t, int32(55), trackerOf(e).Value.Get())
	assert.Equal(t, assetTracker, e.AssetID)
	assert.True(t, e.IsClient())
	assert.Equal(t, []uint32{3}, f.started)
}

func TestSpawnFinishedStartsInNetIDOrder(t *testing.T) {
	f := newFixture(t)
	f.deliver(
		&protocol.SpawnStartedMessage{},
		spawnRecord(9, 1),
		spawnRecord(2, 1),
	)
	assert.Empty(t, f.started)
	assert.Len(t, f.cl.Spawned(), 2)

	f.deliver(&protocol.SpawnFinishedMessage{})
	assert.Equal(t, []uint32{2, 9}, f.started)
}

func TestSpawnUnknownAsset(t *testing.T) {
	f := newFixture(t)
	rec := spawnRecord(1, 0)
	rec.AssetID = 99
	f.deliver(rec)

	assert.Empty(t, f.cl.Spawned())
	assert.True(t, f.cl.Connected())
	assert.Equal(t, 1, f.log.Count(netlog.LevelError, "failed to spawn entity"))
}

func TestSceneEntity(t *testing.T) {
	f := newFixture(t)

	scene := replica.MustNewEntity(newTracker(nil))
	assert.True(t, errors.Is(f.cl.RegisterSceneEntity(scene), ErrNoSceneID))
	scene.SceneID = 0x44
	require.NoError(t, f.cl.RegisterSceneEntity(scene))

	rec := spawnRecord(5, 12)
	rec.SceneID = 0x44
	f.deliver(rec)

	e, ok := f.cl.Entity(5)
	require.True(t, ok)
	assert.Same(t, scene, e)
	assert.Equal(t, int32(12), trackerOf(scene).Value.Get())

	f.deliver(&protocol.ObjectHideMessage{NetID: 5})
	assert.Empty(t, f.cl.Spawned())
	assert.False(t, scene.IsSpawned())
	assert.False(t, scene.IsDestroyed())

	f.deliver(rec)
	e, ok = f.cl.Entity(5)
	require.True(t, ok)
	assert.Same(t, scene, e)
}

func TestStateAndDestroy(t *testing.T) {
	f := newFixture(t)
	f.deliver(spawnRecord(1, 1))

	w := wire.NewWriter()
	server := replica.MustNewEntity(newTracker(nil))
	trackerOf(server).Value.Set(8)
	require.NoError(t, server.SerializeServer(false, wire.NewWriter(), w, 1))
	f.deliver(&protocol.EntityStateMessage{NetID: 1, Payload: w.Bytes()})

	e, _ := f.cl.Entity(1)
	assert.Equal(t, int32(8), trackerOf(e).Value.Get())

	f.deliver(&protocol.ObjectDestroyMessage{NetID: 1})
	assert.Empty(t, f.cl.Spawned())
	assert.True(t, e.IsDestroyed())
}

func TestStateForUnknownEntityIsDropped(t *testing.T) {
	f := newFixture(t)
	f.deliver(&protocol.EntityStateMessage{NetID: 42, Payload: []byte{1, 0}})

	assert.True(t, f.cl.Connected())
	assert.Equal(t, 1, f.log.Count(netlog.LevelDebug, "state for unknown entity"))
}

func TestChangeOwner(t *testing.T) {
	f := newFixture(t)
	f.deliver(spawnRecord(1, 0))
	e, _ := f.cl.Entity(1)
	require.False(t, e.IsOwned())

	f.deliver(&protocol.ChangeOwnerMessage{NetID: 1, IsOwner: true, IsLocalPlayer: true})
	assert.True(t, e.IsOwned())
	assert.Same(t, e, f.cl.LocalPlayer())

	f.deliver(&protocol.ChangeOwnerMessage{NetID: 1})
	assert.False(t, e.IsOwned())
	assert.Nil(t, f.cl.LocalPlayer())
}

type unknownMessage struct{}

func (*unknownMessage) ID() uint16                     { return 0xfffe }
func (*unknownMessage) Serialize(*wire.Writer) error   { return nil }
func (*unknownMessage) Deserialize(*wire.Reader) error { return nil }

func TestUnknownMessageDisconnects(t *testing.T) {
	f := newFixture(t)
	f.deliver(&unknownMessage{})

	assert.False(t, f.cl.Connected())
	assert.Equal(t, 1, f.log.Count(netlog.LevelError, "unknown message"))
}

func TestReadyAndCommandPreconditions(t *testing.T) {
	f := newFixture(t)
	f.deliver(spawnRecord(1, 0))
	e, _ := f.cl.Entity(1)

	err := f.cl.SendCommand(trackerOf(e), 1, nil, 0)
	assert.True(t, errors.Is(err, ErrNotReady))
	assert.True(t, errors.Is(f.cl.AddPlayer(), ErrNotReady))

	require.NoError(t, f.cl.Ready())
	assert.True(t, f.cl.IsReady())
	require.NoError(t, f.cl.SendCommand(trackerOf(e), 1, nil, 0))

	f.deliver(&protocol.NotReadyMessage{})
	assert.False(t, f.cl.IsReady())
}

func TestTimelineFollowsSnapshots(t *testing.T) {
	f := newFixture(t)
	for range 5 {
		f.deliver(&protocol.TimeSnapshotMessage{})
	}
	assert.Positive(t, f.cl.Timeline().Len())
	assert.Positive(t, f.cl.Timeline().Time())
}

func TestCloseClearsEntities(t *testing.T) {
	f := newFixture(t)
	f.deliver(spawnRecord(1, 0))

	require.NoError(t, f.cl.Close())
	assert.False(t, f.cl.Connected())
	assert.Empty(t, f.cl.Spawned())
	assert.True(t, errors.Is(f.cl.Close(), ErrNotConnected))
}
