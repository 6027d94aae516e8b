package protocol

import (
	"github.com/QYUbit/netsync/pkg/wire"
	"github.com/rotisserie/eris"
)

// Message is one protocol message. Every message on the wire starts with the
// 16 bit id returned by ID, followed by the body written by Serialize.
type Message interface {
	ID() uint16
	Serialize(w *wire.Writer) error
	Deserialize(r *wire.Reader) error
}

func messageID(name string) uint16 {
	id := wire.StableHash16("netsync." + name)
	if prev, ok := catalogue[id]; ok {
		panic("protocol: message id collision between " + prev + " and " + name)
	}
	catalogue[id] = name
	return id
}

var catalogue = map[uint16]string{}

var (
	ReadyID         = messageID("ReadyMessage")
	NotReadyID      = messageID("NotReadyMessage")
	AddPlayerID     = messageID("AddPlayerMessage")
	CommandID       = messageID("CommandMessage")
	RpcID           = messageID("RpcMessage")
	SpawnID         = messageID("SpawnMessage")
	ChangeOwnerID   = messageID("ChangeOwnerMessage")
	SpawnStartedID  = messageID("ObjectSpawnStartedMessage")
	SpawnFinishedID = messageID("ObjectSpawnFinishedMessage")
	ObjectDestroyID = messageID("ObjectDestroyMessage")
	ObjectHideID    = messageID("ObjectHideMessage")
	EntityStateID   = messageID("EntityStateMessage")
	TimeSnapshotID  = messageID("TimeSnapshotMessage")
	PingID          = messageID("NetworkPingMessage")
	PongID          = messageID("NetworkPongMessage")
)

// NameOf returns the name of a built in message id, or "" if the id is unknown.
func NameOf(id uint16) string {
	return catalogue[id]
}

// ======================
// Empty messages
// ======================

type ReadyMessage struct{}

func (*ReadyMessage) ID() uint16                     { return ReadyID }
func (*ReadyMessage) Serialize(*wire.Writer) error   { return nil }
func (*ReadyMessage) Deserialize(*wire.Reader) error { return nil }

type NotReadyMessage struct{}

func (*NotReadyMessage) ID() uint16                     { return NotReadyID }
func (*NotReadyMessage) Serialize(*wire.Writer) error   { return nil }
func (*NotReadyMessage) Deserialize(*wire.Reader) error { return nil }

type AddPlayerMessage struct{}

func (*AddPlayerMessage) ID() uint16                     { return AddPlayerID }
func (*AddPlayerMessage) Serialize(*wire.Writer) error   { return nil }
func (*AddPlayerMessage) Deserialize(*wire.Reader) error { return nil }

type SpawnStartedMessage struct{}

func (*SpawnStartedMessage) ID() uint16                     { return SpawnStartedID }
func (*SpawnStartedMessage) Serialize(*wire.Writer) error   { return nil }
func (*SpawnStartedMessage) Deserialize(*wire.Reader) error { return nil }

type SpawnFinishedMessage struct{}

func (*SpawnFinishedMessage) ID() uint16                     { return SpawnFinishedID }
func (*SpawnFinishedMessage) Serialize(*wire.Writer) error   { return nil }
func (*SpawnFinishedMessage) Deserialize(*wire.Reader) error { return nil }

// TimeSnapshotMessage has no body, the batch timestamp is the snapshot time.
type TimeSnapshotMessage struct{}

func (*TimeSnapshotMessage) ID() uint16                     { return TimeSnapshotID }
func (*TimeSnapshotMessage) Serialize(*wire.Writer) error   { return nil }
func (*TimeSnapshotMessage) Deserialize(*wire.Reader) error { return nil }

// ======================
// Remote calls
// ======================

// CommandMessage invokes a handler on the server. Payload holds the arguments.
type CommandMessage struct {
	NetID          uint32
	ComponentIndex byte
	FunctionHash   uint16
	Payload        []byte
}

func (*CommandMessage) ID() uint16 { return CommandID }

func (m *CommandMessage) Serialize(w *wire.Writer) error {
	writeCall(w, m.NetID, m.ComponentIndex, m.FunctionHash, m.Payload)
	return nil
}

func (m *CommandMessage) Deserialize(r *wire.Reader) (err error) {
	m.NetID, m.ComponentIndex, m.FunctionHash, m.Payload, err = readCall(r)
	return
}

// RpcMessage invokes a handler on a client.
type RpcMessage struct {
	NetID          uint32
	ComponentIndex byte
	FunctionHash   uint16
	Payload        []byte
}

func (*RpcMessage) ID() uint16 { return RpcID }

func (m *RpcMessage) Serialize(w *wire.Writer) error {
	writeCall(w, m.NetID, m.ComponentIndex, m.FunctionHash, m.Payload)
	return nil
}

func (m *RpcMessage) Deserialize(r *wire.Reader) (err error) {
	m.NetID, m.ComponentIndex, m.FunctionHash, m.Payload, err = readCall(r)
	return
}

func writeCall(w *wire.Writer, netID uint32, index byte, hash uint16, payload []byte) {
	w.WriteUvarint(uint64(netID))
	w.WriteByte(index)
	w.WriteUint16(hash)
	w.WriteBlob(payload)
}

func readCall(r *wire.Reader) (netID uint32, index byte, hash uint16, payload []byte, err error) {
	if netID, err = readNetID(r); err != nil {
		return
	}
	if index, err = r.ReadByte(); err != nil {
		return
	}
	if hash, err = r.ReadUint16(); err != nil {
		return
	}
	payload, err = r.ReadBlobView()
	return
}

// ======================
// Spawning
// ======================

// SpawnMessage carries everything a client needs to create or reveal an entity.
// Exactly one of SceneID and AssetID is expected to be set.
type SpawnMessage struct {
	NetID         uint32
	IsLocalPlayer bool
	IsOwner       bool
	SceneID       uint64
	AssetID       uint32
	Position      wire.Vector3
	Rotation      wire.Quaternion
	Scale         wire.Vector3
	Payload       []byte
}

func (*SpawnMessage) ID() uint16 { return SpawnID }

func (m *SpawnMessage) Serialize(w *wire.Writer) error {
	w.WriteUvarint(uint64(m.NetID))
	w.WriteBool(m.IsLocalPlayer)
	w.WriteBool(m.IsOwner)
	w.WriteUint64(m.SceneID)
	w.WriteUint32(m.AssetID)
	w.WriteVector3(m.Position)
	w.WriteQuaternion(m.Rotation)
	w.WriteVector3(m.Scale)
	w.WriteBlob(m.Payload)
	return nil
}

func (m *SpawnMessage) Deserialize(r *wire.Reader) (err error) {
	if m.NetID, err = readNetID(r); err != nil {
		return err
	}
	if m.IsLocalPlayer, err = r.ReadBool(); err != nil {
		return err
	}
	if m.IsOwner, err = r.ReadBool(); err != nil {
		return err
	}
	if m.SceneID, err = r.ReadUint64(); err != nil {
		return err
	}
	if m.AssetID, err = r.ReadUint32(); err != nil {
		return err
	}
	if m.Position, err = r.ReadVector3(); err != nil {
		return err
	}
	if m.Rotation, err = r.ReadQuaternion(); err != nil {
		return err
	}
	if m.Scale, err = r.ReadVector3(); err != nil {
		return err
	}
	m.Payload, err = r.ReadBlobView()
	return err
}

type ChangeOwnerMessage struct {
	NetID         uint32
	IsOwner       bool
	IsLocalPlayer bool
}

func (*ChangeOwnerMessage) ID() uint16 { return ChangeOwnerID }

func (m *ChangeOwnerMessage) Serialize(w *wire.Writer) error {
	w.WriteUvarint(uint64(m.NetID))
	w.WriteBool(m.IsOwner)
	w.WriteBool(m.IsLocalPlayer)
	return nil
}

func (m *ChangeOwnerMessage) Deserialize(r *wire.Reader) (err error) {
	if m.NetID, err = readNetID(r); err != nil {
		return err
	}
	if m.IsOwner, err = r.ReadBool(); err != nil {
		return err
	}
	m.IsLocalPlayer, err = r.ReadBool()
	return err
}

type ObjectDestroyMessage struct {
	NetID uint32
}

func (*ObjectDestroyMessage) ID() uint16 { return ObjectDestroyID }

func (m *ObjectDestroyMessage) Serialize(w *wire.Writer) error {
	w.WriteUvarint(uint64(m.NetID))
	return nil
}

func (m *ObjectDestroyMessage) Deserialize(r *wire.Reader) (err error) {
	m.NetID, err = readNetID(r)
	return err
}

type ObjectHideMessage struct {
	NetID uint32
}

func (*ObjectHideMessage) ID() uint16 { return ObjectHideID }

func (m *ObjectHideMessage) Serialize(w *wire.Writer) error {
	w.WriteUvarint(uint64(m.NetID))
	return nil
}

func (m *ObjectHideMessage) Deserialize(r *wire.Reader) (err error) {
	m.NetID, err = readNetID(r)
	return err
}

// EntityStateMessage carries a delta produced by the serialization engine.
type EntityStateMessage struct {
	NetID   uint32
	Payload []byte
}

func (*EntityStateMessage) ID() uint16 { return EntityStateID }

func (m *EntityStateMessage) Serialize(w *wire.Writer) error {
	w.WriteUvarint(uint64(m.NetID))
	w.WriteBlob(m.Payload)
	return nil
}

func (m *EntityStateMessage) Deserialize(r *wire.Reader) (err error) {
	if m.NetID, err = readNetID(r); err != nil {
		return err
	}
	m.Payload, err = r.ReadBlobView()
	return err
}

// ======================
// Time
// ======================

// PingMessage carries the sender's local time. The peer echoes it in a PongMessage.
type PingMessage struct {
	LocalTime float64
}

func (*PingMessage) ID() uint16 { return PingID }

func (m *PingMessage) Serialize(w *wire.Writer) error {
	w.WriteFloat64(m.LocalTime)
	return nil
}

func (m *PingMessage) Deserialize(r *wire.Reader) (err error) {
	m.LocalTime, err = r.ReadFloat64()
	return err
}

type PongMessage struct {
	LocalTime float64
}

func (*PongMessage) ID() uint16 { return PongID }

func (m *PongMessage) Serialize(w *wire.Writer) error {
	w.WriteFloat64(m.LocalTime)
	return nil
}

func (m *PongMessage) Deserialize(r *wire.Reader) (err error) {
	m.LocalTime, err = r.ReadFloat64()
	return err
}

func readNetID(r *wire.Reader) (uint32, error) {
	v, err := r.ReadUvarint()
	if err != nil {
		return 0, err
	}
	if v > 0xFFFFFFFF {
		return 0, eris.Wrapf(ErrMalformed, "net id %d overflows 32 bits", v)
	}
	return uint32(v), nil
}
