package quic

import (
	"bufio"
	"context"
	"crypto/tls"
	"sync"

	"github.com/QYUbit/netsync/pkg/transport"
	"github.com/quic-go/quic-go"
	"github.com/rotisserie/eris"
)

// Dialer implements transport.ClientTransport.
type Dialer struct {
	address    string
	tlsConfig  *tls.Config
	quicConfig *quic.Config

	mu      sync.Mutex
	conn    *quic.Conn
	stream  *quic.Stream
	scratch []byte

	messages  chan transport.Message
	errors    chan error
	done      chan struct{}
	closeOnce sync.Once
}

func NewDialer(address string, tlsConf *tls.Config, config *quic.Config) *Dialer {
	return &Dialer{
		address:    address,
		tlsConfig:  tlsConf,
		quicConfig: withDatagrams(config),
		messages:   make(chan transport.Message, 256),
		errors:     make(chan error, 5),
		done:       make(chan struct{}),
	}
}

func (d *Dialer) Connect(ctx context.Context) error {
	conn, err := quic.DialAddr(ctx, d.address, d.tlsConfig, d.quicConfig)
	if err != nil {
		return eris.Wrapf(err, "dialing %s", d.address)
	}

	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		conn.CloseWithError(closeCodeNormal, "no stream")
		return eris.Wrap(err, "opening reliable stream")
	}

	d.mu.Lock()
	d.conn = conn
	d.stream = stream
	// announce the stream
	d.scratch, err = writeFrame(stream, d.scratch, nil)
	d.mu.Unlock()
	if err != nil {
		conn.CloseWithError(closeCodeNormal, "handshake failed")
		return eris.Wrap(err, "opening reliable stream")
	}

	go d.readPump(stream)
	go d.datagramPump(conn)
	return nil
}

func (d *Dialer) Close() error {
	d.shutdown("client closed")
	return nil
}

func (d *Dialer) shutdown(reason string) {
	d.closeOnce.Do(func() {
		d.mu.Lock()
		conn := d.conn
		d.mu.Unlock()
		if conn != nil {
			conn.CloseWithError(closeCodeNormal, reason)
		}
		close(d.done)
	})
}

func (d *Dialer) Send(data []byte, channel int) error {
	if !transport.ValidChannel(channel) {
		return transport.ErrUnknownChannel
	}
	if len(data) > maxPacketSize(channel) {
		return transport.ErrFrameTooLarge
	}

	select {
	case <-d.done:
		return transport.ErrTransportClosed
	default:
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.conn == nil {
		return transport.ErrNotConnected
	}
	if channel == transport.ChannelUnreliable {
		return d.conn.SendDatagram(data)
	}

	var err error
	d.scratch, err = writeFrame(d.stream, d.scratch, data)
	return err
}

func (d *Dialer) MaxPacketSize(channel int) int {
	return maxPacketSize(channel)
}

func (d *Dialer) Messages() <-chan transport.Message {
	return d.messages
}

func (d *Dialer) Errors() <-chan error {
	return d.errors
}

func (d *Dialer) Done() <-chan struct{} {
	return d.done
}

func (d *Dialer) deliver(data []byte, channel int) bool {
	select {
	case d.messages <- transport.Message{Data: data, Channel: channel}:
		return true
	case <-d.done:
		return false
	}
}

func (d *Dialer) readPump(stream *quic.Stream) {
	defer d.shutdown("connection lost")

	r := bufio.NewReader(stream)
	for {
		message, err := readFrame(r)
		if err != nil {
			select {
			case d.errors <- err:
			default:
			}
			return
		}
		if len(message) == 0 {
			continue
		}
		if !d.deliver(message, transport.ChannelReliable) {
			return
		}
	}
}

func (d *Dialer) datagramPump(conn *quic.Conn) {
	for {
		message, err := conn.ReceiveDatagram(conn.Context())
		if err != nil {
			return
		}
		if !d.deliver(message, transport.ChannelUnreliable) {
			return
		}
	}
}
