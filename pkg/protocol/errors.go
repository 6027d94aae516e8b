package protocol

import "github.com/rotisserie/eris"

var (
	ErrMalformed      = eris.New("protocol: malformed message")
	ErrUnknownMessage = eris.New("protocol: unknown message id")
	ErrIDCollision    = eris.New("protocol: message id collision")
)
