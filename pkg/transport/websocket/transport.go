// Package websockets implements the transport interfaces over gorilla
// websockets. Every channel is delivered reliably.
package websockets

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/QYUbit/netsync/pkg/transport"
	"github.com/gorilla/websocket"
	"github.com/rotisserie/eris"
)

const (
	MaxMessageSize = 64 * 1024

	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// Implements transport.Transport. Mount it as an http.Handler or let Start
// serve it on its own address.
type Transport struct {
	address  string
	path     string
	upgrader websocket.Upgrader

	httpServer *http.Server
	listener   net.Listener

	clients  map[string]*peer
	clientMu sync.RWMutex

	connectChan    chan transport.Connection
	disconnectChan chan string
	messageChan    chan transport.Message
	errorChan      chan error

	idGenerator transport.IdGenerator
	validator   transport.ConnectionValidator

	closed    atomic.Bool
	closeOnce sync.Once
}

// NewTransport serves websocket upgrades on path. An empty address means
// the caller mounts the transport on its own mux.
func NewTransport(address, path string) *Transport {
	if path == "" {
		path = "/"
	}
	return &Transport{
		address: address,
		path:    path,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		clients:        make(map[string]*peer),
		connectChan:    make(chan transport.Connection, 10),
		disconnectChan: make(chan string, 10),
		messageChan:    make(chan transport.Message, 100),
		errorChan:      make(chan error, 5),
		idGenerator:    transport.DefaultIdGenerator,
	}
}

func (t *Transport) Start(ctx context.Context) error {
	if t.address == "" {
		return nil
	}

	l, err := net.Listen("tcp", t.address)
	if err != nil {
		return eris.Wrapf(err, "listening on %s", t.address)
	}
	t.listener = l

	mux := http.NewServeMux()
	mux.Handle(t.path, t)
	t.httpServer = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := t.httpServer.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			t.transmitError(eris.Wrap(err, "websocket server stopped"))
		}
	}()
	go func() {
		<-ctx.Done()
		t.Close()
	}()
	return nil
}

// Addr is the bound listener address, nil when the transport is mounted.
func (t *Transport) Addr() net.Addr {
	if t.listener == nil {
		return nil
	}
	return t.listener.Addr()
}

func (t *Transport) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if t.closed.Load() {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	if t.validator != nil {
		if accept, reason := t.validator(r.RemoteAddr); !accept {
			http.Error(w, reason, http.StatusForbidden)
			return
		}
	}

	conn, err := t.upgrader.Upgrade(w, r, nil)
	if err != nil {
		t.transmitError(eris.Wrap(err, "upgrade failed"))
		return
	}

	p := newPeer(t.idGenerator(), conn)

	t.clientMu.Lock()
	t.clients[p.id] = p
	t.clientMu.Unlock()

	select {
	case t.connectChan <- transport.Connection{ClientId: p.id, RemoteAddr: r.RemoteAddr}:
	case <-time.After(time.Second):
		t.clientMu.Lock()
		delete(t.clients, p.id)
		t.clientMu.Unlock()
		p.shutdown(websocket.CloseTryAgainLater, "server busy")
		return
	}

	go p.writePump(t)
	p.readPump(t)
}

func (t *Transport) Close() error {
	t.closed.Store(true)

	var lastErr error
	t.closeOnce.Do(func() {
		t.clientMu.Lock()
		clients := t.clients
		t.clients = make(map[string]*peer)
		t.clientMu.Unlock()

		for _, p := range clients {
			p.shutdown(websocket.CloseGoingAway, "server closed")
		}

		if t.httpServer != nil {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			lastErr = t.httpServer.Shutdown(ctx)
		}
	})
	return lastErr
}

func (t *Transport) Send(clientId string, data []byte, channel int) error {
	if t.closed.Load() {
		return transport.ErrTransportClosed
	}
	if !transport.ValidChannel(channel) {
		return transport.ErrUnknownChannel
	}
	if len(data) > MaxMessageSize {
		return transport.ErrFrameTooLarge
	}

	t.clientMu.RLock()
	p, ok := t.clients[clientId]
	t.clientMu.RUnlock()
	if !ok {
		return transport.ErrClientNotFound{ClientId: clientId}
	}

	message := make([]byte, len(data))
	copy(message, data)

	select {
	case p.send <- message:
		return nil
	case <-p.done:
		return transport.ErrClientNotFound{ClientId: clientId}
	default:
		return eris.Wrapf(transport.ErrQueueFull, "client %s", clientId)
	}
}

func (t *Transport) MaxPacketSize(int) int {
	return MaxMessageSize
}

func (t *Transport) CloseClient(clientId string, code int, reason string) error {
	if !t.remove(clientId) {
		return transport.ErrClientNotFound{ClientId: clientId}
	}
	return nil
}

// remove unregisters the client and reports whether it was still known.
func (t *Transport) remove(clientId string) bool {
	t.clientMu.Lock()
	p, ok := t.clients[clientId]
	delete(t.clients, clientId)
	t.clientMu.Unlock()

	if !ok {
		return false
	}
	p.shutdown(websocket.CloseNormalClosure, "closed")

	select {
	case t.disconnectChan <- clientId:
	case <-time.After(time.Second):
	}
	return true
}

func (t *Transport) GetClients() []string {
	t.clientMu.RLock()
	defer t.clientMu.RUnlock()

	ids := make([]string, 0, len(t.clients))
	for id := range t.clients {
		ids = append(ids, id)
	}
	return ids
}

func (t *Transport) transmitError(err error) {
	select {
	case t.errorChan <- err:
	case <-time.After(time.Second):
		return
	}
}

func (t *Transport) transmitMessage(id string, data []byte) {
	select {
	case t.messageChan <- transport.Message{ClientId: id, Data: data, Channel: transport.ChannelReliable}:
	case <-time.After(time.Second):
		t.transmitError(eris.Wrapf(transport.ErrQueueFull, "dropped message from %s", id))
	}
}

func (t *Transport) Messages() <-chan transport.Message {
	return t.messageChan
}

func (t *Transport) Connections() <-chan transport.Connection {
	return t.connectChan
}

func (t *Transport) Disconnections() <-chan string {
	return t.disconnectChan
}

func (t *Transport) Errors() <-chan error {
	return t.errorChan
}

func (t *Transport) SetIdGenerator(idGenerator transport.IdGenerator) {
	t.idGenerator = idGenerator
}

func (t *Transport) SetValidator(validator transport.ConnectionValidator) {
	t.validator = validator
}
