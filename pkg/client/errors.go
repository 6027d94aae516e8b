package client

import (
	"fmt"

	"github.com/rotisserie/eris"
)

var (
	ErrNoTransport      = eris.New("client needs a transport")
	ErrNotConnected     = eris.New("client is not connected")
	ErrAlreadyConnected = eris.New("client is already connected")
	ErrNotReady         = eris.New("client is not ready")
	ErrNotOwner         = eris.New("command requires authority")
	ErrNoSceneID        = eris.New("scene entity without a scene id")
	ErrNotSpawned       = eris.New("entity is not spawned on the client")
)

// ErrNoSpawnHandler is returned when the server spawns an asset nobody
// registered.
type ErrNoSpawnHandler struct {
	AssetID uint32
	SceneID uint64
}

func (e ErrNoSpawnHandler) Error() string {
	if e.SceneID != 0 {
		return fmt.Sprintf("no scene entity %#x", e.SceneID)
	}
	return fmt.Sprintf("no spawn handler for asset %d", e.AssetID)
}
