// Package transport serves as a network abstraction at (not necessarily) transport level.
//
// Payloads are opaque batches. Channel 0 is reliable and ordered, channel 1
// is unreliable and unordered. Implementations may degrade channel 1 to
// reliable delivery, never the other way round.
package transport

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
)

const (
	ChannelReliable   = 0
	ChannelUnreliable = 1
)

var (
	ErrTransportClosed = eris.New("transport is closed")
	ErrNotConnected    = eris.New("transport is not connected")
	ErrUnknownChannel  = eris.New("unknown channel")
	ErrQueueFull       = eris.New("send queue is full")
	ErrFrameTooLarge   = eris.New("frame exceeds the maximum packet size")
)

type ErrClientNotFound struct {
	ClientId string
}

func (e ErrClientNotFound) Error() string {
	return fmt.Sprintf("client %s not found", e.ClientId)
}

type Message struct {
	ClientId string
	Data     []byte
	Channel  int
}

type Connection struct {
	ClientId   string
	RemoteAddr string
}

type IdGenerator func() string

type ConnectionValidator func(remoteAddr string) (accept bool, reason string)

// DefaultIdGenerator hands out random UUIDs.
func DefaultIdGenerator() string {
	return uuid.NewString()
}

// ValidChannel reports whether channel is one of the two well-known channels.
func ValidChannel(channel int) bool {
	return channel == ChannelReliable || channel == ChannelUnreliable
}

// Transport is the server side of a transport. A Connection event for a
// client is always emitted before any of its messages.
type Transport interface {
	Start(ctx context.Context) error
	Close() error
	Send(clientId string, data []byte, channel int) error
	MaxPacketSize(channel int) int
	CloseClient(clientId string, code int, reason string) error
	GetClients() (clientIds []string)
	Messages() <-chan Message
	Connections() <-chan Connection
	Disconnections() <-chan string
	Errors() <-chan error
	SetIdGenerator(idGenerator IdGenerator)
	SetValidator(validator ConnectionValidator)
}

// ClientTransport is the dialing side. Messages carry an empty ClientId.
// Done is closed once the connection is gone.
type ClientTransport interface {
	Connect(ctx context.Context) error
	Close() error
	Send(data []byte, channel int) error
	MaxPacketSize(channel int) int
	Messages() <-chan Message
	Errors() <-chan error
	Done() <-chan struct{}
}
