package quic

import (
	"github.com/QYUbit/netsync/pkg/transport"
)

const (
	// MaxFrameSize bounds one reliable frame.
	MaxFrameSize = 64 * 1024
	// MaxDatagramSize stays below the smallest datagram payload quic-go
	// accepts on a 1280 byte path.
	MaxDatagramSize = 1100

	closeCodeNormal   = 0x0
	closeCodeRejected = 0xa
)

type hubOperationType int

const (
	opRegisterClient hubOperationType = iota
	opUnregisterClient
	opSendMessage
)

type hubOperation struct {
	Type     hubOperationType
	ClientId string
	Client   *client
	Message  []byte
	Channel  int
	Code     int
	Response chan error
}

type outgoingMessage struct {
	Content []byte
	Channel int
}

func maxPacketSize(channel int) int {
	if channel == transport.ChannelUnreliable {
		return MaxDatagramSize
	}
	return MaxFrameSize
}
