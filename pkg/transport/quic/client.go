package quic

import (
	"bufio"
	"context"
	"sync/atomic"

	"github.com/QYUbit/netsync/pkg/transport"
	"github.com/quic-go/quic-go"
	"github.com/rotisserie/eris"
)

// client is the server side state of one QUIC connection.
type client struct {
	id     string
	conn   *quic.Conn
	stream *quic.Stream
	send   chan outgoingMessage
	done   chan struct{}
	closed atomic.Bool
}

func newClient(id string, conn *quic.Conn, stream *quic.Stream) *client {
	return &client{
		id:     id,
		conn:   conn,
		stream: stream,
		send:   make(chan outgoingMessage, 256),
		done:   make(chan struct{}),
	}
}

func (c *client) shutdown(code quic.ApplicationErrorCode, reason string) {
	if c.closed.CompareAndSwap(false, true) {
		close(c.done)
		c.conn.CloseWithError(code, reason)
	}
}

func (c *client) readPump(t *QuicTransport, ctx context.Context) {
	defer t.unregister(c.id, ctx)

	r := bufio.NewReader(c.stream)
	for {
		message, err := readFrame(r)
		if err != nil {
			if eris.Is(err, transport.ErrFrameTooLarge) {
				t.transmitError(eris.Wrapf(err, "client %s", c.id))
			}
			return
		}
		if len(message) == 0 {
			continue
		}

		t.transmitMessage(c.id, message, transport.ChannelReliable)
	}
}

func (c *client) datagramPump(t *QuicTransport, ctx context.Context) {
	defer t.unregister(c.id, ctx)

	for {
		message, err := c.conn.ReceiveDatagram(ctx)
		if err != nil {
			return
		}

		t.transmitMessage(c.id, message, transport.ChannelUnreliable)
	}
}

func (c *client) writePump(t *QuicTransport, ctx context.Context) {
	defer func() {
		if err := recover(); err != nil {
			t.transmitError(eris.Errorf("writePump panic for client %s: %v", c.id, err))
		}
	}()

	var scratch []byte
	for {
		select {
		case <-ctx.Done():
			return

		case <-c.done:
			return

		case message := <-c.send:
			if message.Channel == transport.ChannelUnreliable {
				if err := c.conn.SendDatagram(message.Content); err != nil {
					t.transmitError(eris.Wrapf(err, "failed sending datagram to client %s", c.id))
				}
				continue
			}

			var err error
			scratch, err = writeFrame(c.stream, scratch, message.Content)
			if err != nil {
				t.transmitError(eris.Wrapf(err, "failed writing to stream for client %s", c.id))
				go t.unregister(c.id, ctx)
				return
			}
		}
	}
}
