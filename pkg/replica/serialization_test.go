package replica

import (
	"errors"
	"testing"
	"time"

	"github.com/QYUbit/netsync/pkg/synccol"
	"github.com/QYUbit/netsync/pkg/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFullSyncRoundTrip(t *testing.T) {
	sh := newHealth()
	ch := newHealth()
	se, ce := serverAndClient([]Component{sh}, []Component{ch})

	sh.HP.Set(42)
	sh.Name.Set("orc")
	require.NoError(t, sh.Tags.Add("elite"))

	owner, observers, err := initialOf(se)
	require.NoError(t, err)
	assert.Equal(t, owner, observers)

	require.NoError(t, ce.DeserializeClient(wire.NewReader(owner), true))
	assert.Equal(t, int32(42), ch.HP.Get())
	assert.Equal(t, "orc", ch.Name.Get())
	assert.Equal(t, []string{"elite"}, ch.Tags.Items())

	vars, objs := ch.DirtyBits()
	assert.Zero(t, vars)
	assert.Zero(t, objs)

	// initial writes leave pending changes for existing observers
	vars, _ = sh.DirtyBits()
	assert.NotZero(t, vars)
}

func TestIdleEntityWritesNothing(t *testing.T) {
	sh := newHealth()
	se, _ := serverAndClient([]Component{sh}, []Component{newHealth()})

	owner, observers, err := deltaOf(se, 1)
	require.NoError(t, err)
	assert.Empty(t, owner)
	assert.Empty(t, observers)
}

func TestDeltaCarriesOnlyDirtyComponent(t *testing.T) {
	a, b := newHealth(), newHealth()
	ca, cb := newHealth(), newHealth()
	se, ce := serverAndClient([]Component{a, b}, []Component{ca, cb})

	b.HP.Set(7)
	owner, observers, err := deltaOf(se, 1)
	require.NoError(t, err)

	r := wire.NewReader(observers)
	mask, err := r.ReadUvarint()
	require.NoError(t, err)
	assert.Equal(t, uint64(0b10), mask)

	require.NoError(t, ce.DeserializeClient(wire.NewReader(owner), false))
	assert.Equal(t, int32(7), cb.HP.Get())
	assert.Equal(t, int32(100), ca.HP.Get())

	vars, _ := b.DirtyBits()
	assert.Zero(t, vars)

	owner, observers, err = deltaOf(se, 2)
	require.NoError(t, err)
	assert.Empty(t, owner)
	assert.Empty(t, observers)
}

func TestOwnerModeSkipsObservers(t *testing.T) {
	secret := newHealth()
	secret.SyncMode = SyncOwner
	se, _ := serverAndClient([]Component{secret}, []Component{newHealth()})

	secret.HP.Set(1)
	owner, observers, err := deltaOf(se, 1)
	require.NoError(t, err)
	assert.NotEmpty(t, owner)
	assert.Empty(t, observers)

	owner, observers, err = initialOf(se)
	require.NoError(t, err)
	assert.NotEmpty(t, owner)
	assert.Empty(t, observers)
}

func TestClientAuthoritativeMasks(t *testing.T) {
	si, ci := newInput(), newInput()
	se, ce := serverAndClient([]Component{si}, []Component{ci})

	// server never authors client owned state for the owner
	si.Dir.Set(wire.NewVector3(1, 0, 0))
	ownerMask, observersMask := se.serverDirtyMasks(false, 1)
	assert.Zero(t, ownerMask)
	assert.Equal(t, uint64(1), observersMask)

	w := wire.NewWriter()
	require.NoError(t, ce.SerializeClient(w, 1))
	assert.Zero(t, w.Len(), "not owned")

	ce.SetOwned(true)
	require.NoError(t, ce.SerializeClient(w, 1))
	assert.Zero(t, w.Len(), "not dirty")

	ci.Dir.Set(wire.NewVector3(0, 0, 1))
	require.NoError(t, ce.SerializeClient(w, 1))
	assert.NotZero(t, w.Len())

	si.ClearAllDirtyBits(1)
	require.NoError(t, se.DeserializeServer(wire.NewReader(w.Bytes())))
	assert.Equal(t, wire.NewVector3(0, 0, 1), si.Dir.Get())
	assert.True(t, si.IsDirty(2), "server forwards client state")
}

func TestServerRejectsServerAuthoritativeWrites(t *testing.T) {
	sh := newHealth()
	se, _ := serverAndClient([]Component{sh}, nil)

	ch := newHealth()
	ch.SyncDirection = ClientToServer
	ce := MustNewEntity(ch)
	ce.SetClient(true)
	ce.SetOwned(true)
	ch.HP.Set(1)

	w := wire.NewWriter()
	require.NoError(t, ce.SerializeClient(w, 0))

	err := se.DeserializeServer(wire.NewReader(w.Bytes()))
	assert.True(t, errors.Is(err, ErrNotClientWritable))
	assert.Equal(t, int32(100), sh.HP.Get())
}

func TestSyncIntervalThrottles(t *testing.T) {
	sh := newHealth()
	sh.SyncInterval = time.Second
	se, _ := serverAndClient([]Component{sh}, nil)

	sh.HP.Set(5)
	owner, _, err := deltaOf(se, 0.5)
	require.NoError(t, err)
	assert.Empty(t, owner)

	owner, _, err = deltaOf(se, 1.0)
	require.NoError(t, err)
	assert.NotEmpty(t, owner)

	sh.HP.Set(6)
	owner, _, _ = deltaOf(se, 1.5)
	assert.Empty(t, owner)
}

func TestSafetyByteRecoversOverRead(t *testing.T) {
	for _, extra := range []int{-4, -1, 1, 3} {
		sk, sh := &skewed{}, newHealth()
		csk, ch := &skewed{extra: extra}, newHealth()
		sh.HP.Set(9)

		se, ce := serverAndClient([]Component{sk, sh}, []Component{csk, ch})
		owner, _, err := initialOf(se)
		require.NoError(t, err)

		err = ce.DeserializeClient(wire.NewReader(owner), true)
		require.Error(t, err, "extra %d", extra)
		assert.True(t, errors.Is(err, ErrSizeMismatch), "extra %d", extra)
		assert.Equal(t, int32(9), ch.HP.Get(), "next component still applied with extra %d", extra)
	}
}

func TestSafetyByteRangeBeyondPayload(t *testing.T) {
	se, ce := serverAndClient([]Component{&skewed{}}, []Component{&skewed{extra: 100}})
	owner, _, err := initialOf(se)
	require.NoError(t, err)

	err = ce.DeserializeClient(wire.NewReader(owner), true)
	assert.Error(t, err)
}

func TestPanickingComponentsAreIsolated(t *testing.T) {
	bad, sh := &panicky{onSerialize: true}, newHealth()
	cbad, ch := &panicky{}, newHealth()
	sh.HP.Set(3)

	se, ce := serverAndClient([]Component{bad, sh}, []Component{cbad, ch})
	owner, _, err := initialOf(se)
	var p ErrPanic
	assert.True(t, errors.As(err, &p))

	err = ce.DeserializeClient(wire.NewReader(owner), true)
	assert.Error(t, err)
	assert.Equal(t, int32(3), ch.HP.Get())

	cbad.onDeserialize = true
	bad.onSerialize = false
	owner, _, err = initialOf(se)
	require.NoError(t, err)
	err = ce.DeserializeClient(wire.NewReader(owner), true)
	assert.True(t, errors.As(err, &p))
}

func TestUnknownComponentBit(t *testing.T) {
	_, ce := serverAndClient(nil, []Component{newHealth()})
	w := wire.NewWriter()
	w.WriteUvarint(1 << 5)

	err := ce.DeserializeClient(wire.NewReader(w.Bytes()), false)
	var idx ErrComponentIndex
	require.True(t, errors.As(err, &idx))
	assert.Equal(t, 5, idx.Index)
}

func TestCollectionDeltaThroughEntity(t *testing.T) {
	sh, ch := newHealth(), newHealth()
	se, ce := serverAndClient([]Component{sh}, []Component{ch})

	// recording only starts once someone observes
	require.NoError(t, sh.Tags.Add("ignored"))
	_, objs := sh.DirtyBits()
	assert.Zero(t, objs)

	owner, _, _ := initialOf(se)
	require.NoError(t, ce.DeserializeClient(wire.NewReader(owner), true))

	se.AttachObserver(NewConnection("a", "", nil, nil))
	require.NoError(t, sh.Tags.Add("boss"))
	require.NoError(t, sh.Tags.RemoveAt(0))

	owner, _, err := deltaOf(se, 1)
	require.NoError(t, err)
	require.NoError(t, ce.DeserializeClient(wire.NewReader(owner), false))
	assert.Equal(t, []string{"boss"}, ch.Tags.Items())

	// clients cannot write server authoritative collections
	assert.ErrorIs(t, ch.Tags.Add("x"), synccol.ErrReadOnly)
}

func TestSerializationCachedPerTick(t *testing.T) {
	p := &panicky{}
	se, _ := serverAndClient([]Component{p}, nil)
	p.SetDirty()

	first := se.SerializationAtTick(1, 1)
	require.NoError(t, first.Err)
	assert.Equal(t, 1, p.calls)
	assert.NotZero(t, first.Owner.Len())

	again := se.SerializationAtTick(1, 1)
	assert.Same(t, first, again)
	assert.Equal(t, 1, p.calls)

	next := se.SerializationAtTick(2, 2)
	assert.Equal(t, 1, p.calls, "nothing dirty, nothing serialized")
	assert.Zero(t, next.Owner.Len())
}
