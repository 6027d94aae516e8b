package client

import (
	"cmp"
	"slices"

	"github.com/QYUbit/netsync/pkg/protocol"
	"github.com/QYUbit/netsync/pkg/replica"
	"github.com/QYUbit/netsync/pkg/transport"
	"github.com/QYUbit/netsync/pkg/wire"
	"github.com/rotisserie/eris"
)

// SpawnFunc builds the local replica of an asset. The record's transform
// and payload are applied by the client afterwards.
type SpawnFunc func(msg *protocol.SpawnMessage) (*replica.Entity, error)

// UnspawnFunc releases a replica built by a SpawnFunc.
type UnspawnFunc func(e *replica.Entity)

type prefab struct {
	spawn   SpawnFunc
	unspawn UnspawnFunc
}

// RegisterPrefab installs the constructor for assetID. unspawn may be nil.
func (c *Client) RegisterPrefab(assetID uint32, spawn SpawnFunc, unspawn UnspawnFunc) {
	c.prefabs[assetID] = prefab{spawn: spawn, unspawn: unspawn}
}

func (c *Client) UnregisterPrefab(assetID uint32) {
	delete(c.prefabs, assetID)
}

// RegisterSceneEntity makes a scene placed entity available to spawn
// records carrying its scene id.
func (c *Client) RegisterSceneEntity(e *replica.Entity) error {
	if e.SceneID == 0 {
		return eris.Wrapf(ErrNoSceneID, "%s", e)
	}
	c.sceneEntities[e.SceneID] = e
	return nil
}

// ==================================================================
// Spawn records
// ==================================================================

func (c *Client) onSpawnStarted(*replica.Connection, *protocol.SpawnStartedMessage, int) error {
	c.spawnFinished = false
	return nil
}

// onSpawnFinished starts everything the initial spawn set delivered, in
// net id order, so entities that reference each other find their peers.
func (c *Client) onSpawnFinished(*replica.Connection, *protocol.SpawnFinishedMessage, int) error {
	for _, e := range c.Spawned() {
		c.start(e)
	}
	c.spawnFinished = true
	return nil
}

func (c *Client) onSpawn(_ *replica.Connection, msg *protocol.SpawnMessage, _ int) error {
	e, ok := c.spawned[msg.NetID]
	if !ok {
		var err error
		if e, err = c.instantiate(msg); err != nil {
			c.logger.Error("failed to spawn entity", "netId", msg.NetID, "assetId", msg.AssetID, "sceneId", msg.SceneID, "error", err)
			return nil
		}
	}

	e.SetNetID(msg.NetID)
	e.SetClient(true)
	e.SetOwned(msg.IsOwner)
	e.SetLocalPlayer(msg.IsLocalPlayer)
	e.Position, e.Rotation, e.Scale = msg.Position, msg.Rotation, msg.Scale
	c.spawned[msg.NetID] = e

	if err := e.DeserializeClient(wire.NewReaderWithLimits(msg.Payload, c.opts.Limits), true); err != nil {
		c.logger.Warn("failed to apply spawn payload", "entity", e.String(), "error", err)
	}

	if c.spawnFinished {
		c.start(e)
	}
	return nil
}

func (c *Client) instantiate(msg *protocol.SpawnMessage) (*replica.Entity, error) {
	if msg.SceneID != 0 {
		e, ok := c.sceneEntities[msg.SceneID]
		if !ok {
			return nil, ErrNoSpawnHandler{SceneID: msg.SceneID}
		}
		return e, nil
	}

	p, ok := c.prefabs[msg.AssetID]
	if !ok {
		return nil, ErrNoSpawnHandler{AssetID: msg.AssetID}
	}
	e, err := p.spawn(msg)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, eris.Errorf("spawn handler for asset %d returned no entity", msg.AssetID)
	}
	e.AssetID = msg.AssetID
	return e, nil
}

func (c *Client) start(e *replica.Entity) {
	e.StartClient(c.logger)
	if e.IsLocalPlayer() {
		c.localPlayer = e
		e.StartLocalPlayer(c.logger)
	}
	e.NotifyAuthority(c.logger)
}

func (c *Client) onChangeOwner(_ *replica.Connection, msg *protocol.ChangeOwnerMessage, _ int) error {
	e, ok := c.spawned[msg.NetID]
	if !ok {
		c.logger.Warn("owner change for unknown entity", "netId", msg.NetID)
		return nil
	}

	wasLocal := e.IsLocalPlayer()
	e.SetOwned(msg.IsOwner)
	e.SetLocalPlayer(msg.IsLocalPlayer)

	switch {
	case msg.IsLocalPlayer && !wasLocal:
		c.localPlayer = e
		e.StartLocalPlayer(c.logger)
	case !msg.IsLocalPlayer && wasLocal:
		if c.localPlayer == e {
			c.localPlayer = nil
		}
		e.StopLocalPlayer(c.logger)
	}
	e.NotifyAuthority(c.logger)
	return nil
}

// ==================================================================
// Destroy / hide
// ==================================================================

func (c *Client) onObjectDestroy(_ *replica.Connection, msg *protocol.ObjectDestroyMessage, _ int) error {
	c.remove(msg.NetID, true)
	return nil
}

func (c *Client) onObjectHide(_ *replica.Connection, msg *protocol.ObjectHideMessage, _ int) error {
	c.remove(msg.NetID, false)
	return nil
}

func (c *Client) remove(netID uint32, destroyed bool) {
	e, ok := c.spawned[netID]
	if !ok {
		c.logger.Debug("remove of unknown entity", "netId", netID, "destroyed", destroyed)
		return
	}
	c.removeEntity(e, destroyed)
}

// removeEntity stops e and hands it back to its prefab. Scene entities are
// reset and stay registered for the next spawn.
func (c *Client) removeEntity(e *replica.Entity, destroyed bool) {
	delete(c.spawned, e.NetID())

	if c.localPlayer == e {
		c.localPlayer = nil
	}
	e.StopLocalPlayer(c.logger)
	e.SetOwned(false)
	e.NotifyAuthority(c.logger)
	e.StopClient(c.logger)

	c.logger.Debug("entity removed", "entity", e.String(), "destroyed", destroyed)
	if e.IsSceneEntity() {
		e.ResetState()
		e.ResetSyncObjects()
		return
	}
	if p, ok := c.prefabs[e.AssetID]; ok && p.unspawn != nil {
		p.unspawn(e)
	}
	e.ResetState()
	if destroyed {
		e.MarkDestroyed()
	}
}

// ==================================================================
// Outbound
// ==================================================================

func (c *Client) sendState(e *replica.Entity, now float64) {
	w := wire.GetWriter()
	defer wire.PutWriter(w)

	if err := e.SerializeClient(w, now); err != nil {
		c.logger.Warn("failed to serialize owned entity", "entity", e.String(), "error", err)
	}
	if w.Len() == 0 {
		return
	}
	c.send(&protocol.EntityStateMessage{NetID: e.NetID(), Payload: w.Bytes()}, transport.ChannelReliable)
}

// ownedSorted lists the owned entities in net id order.
func ownedSorted(spawned map[uint32]*replica.Entity) []*replica.Entity {
	out := make([]*replica.Entity, 0)
	for _, e := range spawned {
		if e.IsOwned() {
			out = append(out, e)
		}
	}
	slices.SortFunc(out, func(a, b *replica.Entity) int { return cmp.Compare(a.NetID(), b.NetID()) })
	return out
}
