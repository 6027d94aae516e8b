package websockets

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rotisserie/eris"
)

type peer struct {
	id        string
	conn      *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newPeer(id string, conn *websocket.Conn) *peer {
	return &peer{
		id:   id,
		conn: conn,
		send: make(chan []byte, 256),
		done: make(chan struct{}),
	}
}

func (p *peer) shutdown(code int, reason string) {
	p.closeOnce.Do(func() {
		close(p.done)
		p.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(code, reason),
			time.Now().Add(time.Second),
		)
		p.conn.Close()
	})
}

func (p *peer) readPump(t *Transport) {
	defer t.remove(p.id)

	p.conn.SetReadLimit(MaxMessageSize)
	p.conn.SetReadDeadline(time.Now().Add(pongWait))
	p.conn.SetPongHandler(func(string) error {
		return p.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		kind, data, err := p.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				t.transmitError(eris.Wrapf(err, "client %s", p.id))
			}
			return
		}
		if kind != websocket.BinaryMessage {
			continue
		}
		t.transmitMessage(p.id, data)
	}
}

func (p *peer) writePump(t *Transport) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-p.done:
			return

		case message := <-p.send:
			p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.conn.WriteMessage(websocket.BinaryMessage, message); err != nil {
				t.transmitError(eris.Wrapf(err, "failed writing to client %s", p.id))
				go t.remove(p.id)
				return
			}

		case <-ticker.C:
			p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				go t.remove(p.id)
				return
			}
		}
	}
}
