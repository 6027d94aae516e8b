package server

import (
	"fmt"

	"github.com/rotisserie/eris"
)

var (
	ErrNoTransport      = eris.New("server needs a transport")
	ErrAlreadyStarted   = eris.New("server has already started")
	ErrServerNotRunning = eris.New("server is not running")
	ErrAlreadySpawned   = eris.New("entity is already spawned")
	ErrNotSpawned       = eris.New("entity is not spawned")
	ErrEntityDestroyed  = eris.New("entity was destroyed")
	ErrHasPlayer        = eris.New("connection already has a player")
	ErrNoTarget         = eris.New("target rpc without a target connection")
	ErrNotObserving     = eris.New("connection does not observe the entity")
)

type ErrConnectionNotFound struct {
	ConnID string
}

func (e ErrConnectionNotFound) Error() string {
	return fmt.Sprintf("connection %s not found", e.ConnID)
}
