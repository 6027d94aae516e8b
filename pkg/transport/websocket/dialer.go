package websockets

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/QYUbit/netsync/pkg/transport"
	"github.com/gorilla/websocket"
	"github.com/rotisserie/eris"
)

// Dialer implements transport.ClientTransport.
type Dialer struct {
	url    string
	header http.Header

	mu   sync.Mutex
	conn *websocket.Conn

	messages  chan transport.Message
	errors    chan error
	done      chan struct{}
	closeOnce sync.Once
}

func NewDialer(url string, header http.Header) *Dialer {
	return &Dialer{
		url:      url,
		header:   header,
		messages: make(chan transport.Message, 256),
		errors:   make(chan error, 5),
		done:     make(chan struct{}),
	}
}

func (d *Dialer) Connect(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, d.url, d.header)
	if err != nil {
		return eris.Wrapf(err, "dialing %s", d.url)
	}
	conn.SetReadLimit(MaxMessageSize)

	d.mu.Lock()
	d.conn = conn
	d.mu.Unlock()

	go d.readPump(conn)
	return nil
}

func (d *Dialer) Close() error {
	d.shutdown()
	return nil
}

func (d *Dialer) shutdown() {
	d.closeOnce.Do(func() {
		d.mu.Lock()
		conn := d.conn
		if conn != nil {
			conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client closed"),
				time.Now().Add(time.Second),
			)
			conn.Close()
		}
		d.mu.Unlock()
		close(d.done)
	})
}

func (d *Dialer) Send(data []byte, channel int) error {
	if !transport.ValidChannel(channel) {
		return transport.ErrUnknownChannel
	}
	if len(data) > MaxMessageSize {
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
	d.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return d.conn.WriteMessage(websocket.BinaryMessage, data)
}

func (d *Dialer) MaxPacketSize(int) int {
	return MaxMessageSize
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

func (d *Dialer) readPump(conn *websocket.Conn) {
	defer d.shutdown()

	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				select {
				case d.errors <- err:
				default:
				}
			}
			return
		}
		if kind != websocket.BinaryMessage {
			continue
		}
		select {
		case d.messages <- transport.Message{Data: data, Channel: transport.ChannelReliable}:
		case <-d.done:
			return
		}
	}
}
