package protocol

import (
	"testing"

	"github.com/QYUbit/netsync/pkg/wire"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageIDsAreStable(t *testing.T) {
	assert.Equal(t, wire.StableHash16("netsync.SpawnMessage"), SpawnID)
	assert.Equal(t, "EntityStateMessage", NameOf(EntityStateID))
}

func TestSpawnMessageRoundTrip(t *testing.T) {
	in := &SpawnMessage{
		NetID:         7,
		IsLocalPlayer: true,
		IsOwner:       true,
		AssetID:       42,
		Position:      wire.NewVector3(1, 2, 3),
		Rotation:      wire.IdentityQuaternion,
		Scale:         wire.NewVector3(1, 1, 1),
		Payload:       []byte{9, 9},
	}

	w := wire.NewWriter()
	require.NoError(t, Pack(w, in))

	var out SpawnMessage
	r := wire.NewReader(w.Bytes())
	require.NoError(t, Unpack(r, &out))
	assert.Equal(t, *in, out)
	assert.Zero(t, r.Remaining())
}

func TestUnpackWrongType(t *testing.T) {
	w := wire.NewWriter()
	require.NoError(t, Pack(w, &ObjectDestroyMessage{NetID: 1}))

	err := Unpack(wire.NewReader(w.Bytes()), &ObjectHideMessage{})
	assert.True(t, eris.Is(err, ErrUnknownMessage))
}

func TestTruncatedHeader(t *testing.T) {
	_, err := UnpackID(wire.NewReader([]byte{1}))
	assert.True(t, eris.Is(err, ErrMalformed))
}

func TestHandlersDispatch(t *testing.T) {
	h := NewHandlers[string]()

	var got []uint32
	require.NoError(t, Register(h, true, func(peer string, msg *ObjectDestroyMessage, channel int) error {
		assert.Equal(t, "peer-a", peer)
		assert.Equal(t, 0, channel)
		got = append(got, msg.NetID)
		return nil
	}))

	w := wire.NewWriter()
	require.NoError(t, Pack(w, &ObjectDestroyMessage{NetID: 3}))
	require.NoError(t, Pack(w, &ObjectDestroyMessage{NetID: 4}))

	r := wire.NewReader(w.Bytes())
	for r.Remaining() > 0 {
		id, err := UnpackID(r)
		require.NoError(t, err)
		entry, ok := h.Lookup(id)
		require.True(t, ok)
		assert.True(t, entry.RequireAuth)
		require.NoError(t, entry.Invoke("peer-a", r, 0))
	}
	assert.Equal(t, []uint32{3, 4}, got)
}

func TestRegisterReplacesSameMessage(t *testing.T) {
	h := NewHandlers[int]()
	noop := func(int, *ReadyMessage, int) error { return nil }

	require.NoError(t, Register(h, false, noop))
	require.NoError(t, Register(h, true, noop))
	assert.Equal(t, 1, h.Len())

	entry, _ := h.Lookup(ReadyID)
	assert.True(t, entry.RequireAuth)
}

type chatMessage struct{ Text string }

func (*chatMessage) ID() uint16 { return 4242 }
func (m *chatMessage) Serialize(w *wire.Writer) error {
	return w.WriteString(m.Text)
}
func (m *chatMessage) Deserialize(r *wire.Reader) (err error) {
	m.Text, err = r.ReadString()
	return err
}

type emoteMessage struct{ chatMessage }

type fakeSpawnMessage struct{ chatMessage }

func (*fakeSpawnMessage) ID() uint16 { return SpawnID }

func TestRegisterRejectsIDCollision(t *testing.T) {
	h := NewHandlers[int]()

	require.NoError(t, Register(h, false, func(int, *chatMessage, int) error { return nil }))
	err := Register(h, false, func(int, *emoteMessage, int) error { return nil })
	assert.True(t, eris.Is(err, ErrIDCollision))

	entry, ok := h.Lookup(4242)
	require.True(t, ok)
	assert.Equal(t, "protocol.chatMessage", entry.Name)

	require.NoError(t, Register(h, false, func(int, *SpawnMessage, int) error { return nil }))
	err = Register(h, false, func(int, *fakeSpawnMessage, int) error { return nil })
	assert.True(t, eris.Is(err, ErrIDCollision))

	entry, _ = h.Lookup(SpawnID)
	assert.Equal(t, "SpawnMessage", entry.Name)
}

func TestCallMessageRoundTrip(t *testing.T) {
	w := wire.NewWriter()
	require.NoError(t, Pack(w, &CommandMessage{NetID: 300, ComponentIndex: 2, FunctionHash: 0xBEEF, Payload: []byte("x")}))

	var cmd CommandMessage
	require.NoError(t, Unpack(wire.NewReader(w.Bytes()), &cmd))
	assert.Equal(t, uint32(300), cmd.NetID)
	assert.Equal(t, byte(2), cmd.ComponentIndex)
	assert.Equal(t, uint16(0xBEEF), cmd.FunctionHash)
	assert.Equal(t, []byte("x"), cmd.Payload)
}
