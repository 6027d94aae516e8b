// Package quic implements transport.Transport and transport.ClientTransport
// using quic-go. Channel 0 rides one long-lived bidirectional stream per
// connection, channel 1 uses QUIC datagrams.
package quic

import (
	"context"
	"crypto/tls"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/QYUbit/netsync/pkg/transport"
	"github.com/quic-go/quic-go"
	"github.com/rotisserie/eris"
)

// handshakeTimeout bounds how long a fresh connection may take to open its
// reliable stream.
const handshakeTimeout = 5 * time.Second

// Implements transport.Transport
type QuicTransport struct {
	address    string
	tlsConfig  *tls.Config
	quicConfig *quic.Config

	listener *quic.Listener

	clients  map[string]*client
	clientMu sync.RWMutex

	operations chan hubOperation

	connectChan    chan transport.Connection
	disconnectChan chan string
	messageChan    chan transport.Message
	errorChan      chan error

	idGenerator transport.IdGenerator
	validator   transport.ConnectionValidator

	started         atomic.Bool
	closed          atomic.Bool
	closeOnce       sync.Once
	cancel          context.CancelFunc
	connectionsDone chan struct{}
	operationDone   chan struct{}
}

func NewQuicTransport(address string, tlsConf *tls.Config, config *quic.Config) *QuicTransport {
	t := &QuicTransport{
		address:         address,
		tlsConfig:       tlsConf,
		quicConfig:      withDatagrams(config),
		clients:         make(map[string]*client),
		operations:      make(chan hubOperation, 100),
		connectChan:     make(chan transport.Connection, 10),
		disconnectChan:  make(chan string, 10),
		messageChan:     make(chan transport.Message, 100),
		errorChan:       make(chan error, 5),
		idGenerator:     transport.DefaultIdGenerator,
		connectionsDone: make(chan struct{}),
		operationDone:   make(chan struct{}),
	}

	return t
}

func withDatagrams(config *quic.Config) *quic.Config {
	if config == nil {
		config = &quic.Config{}
	} else {
		config = config.Clone()
	}
	config.EnableDatagrams = true
	return config
}

func (t *QuicTransport) Start(ctx context.Context) error {
	listener, err := quic.ListenAddr(t.address, t.tlsConfig, t.quicConfig)
	if err != nil {
		return eris.Wrapf(err, "listening on %s", t.address)
	}
	t.listener = listener

	ctx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	t.started.Store(true)

	go t.run(ctx)
	go t.acceptConnections(ctx)
	return nil
}

func (t *QuicTransport) acceptConnections(ctx context.Context) {
	defer close(t.connectionsDone)

	for {
		conn, err := t.listener.Accept(ctx)
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
				t.transmitError(eris.Wrap(err, "failed accepting connection"))
				continue
			}
		}

		go t.handshake(ctx, conn)
	}
}

// handshake waits for the reliable stream, announces the client and only
// then starts its pumps, so the connect event precedes every message.
func (t *QuicTransport) handshake(ctx context.Context, conn *quic.Conn) {
	remoteAddr := conn.RemoteAddr().String()

	if t.validator != nil {
		if accept, reason := t.validator(remoteAddr); !accept {
			conn.CloseWithError(closeCodeRejected, reason)
			return
		}
	}

	streamCtx, cancel := context.WithTimeout(ctx, handshakeTimeout)
	stream, err := conn.AcceptStream(streamCtx)
	cancel()
	if err != nil {
		conn.CloseWithError(closeCodeRejected, "no stream")
		t.transmitError(eris.Wrapf(err, "handshake with %s", remoteAddr))
		return
	}

	id := t.idGenerator()
	c := newClient(id, conn, stream)

	select {
	case t.connectChan <- transport.Connection{ClientId: id, RemoteAddr: remoteAddr}:
	case <-ctx.Done():
		conn.CloseWithError(closeCodeNormal, "shutting down")
		return
	}

	if err := t.registerClient(c, ctx); err != nil {
		t.transmitError(err)
		conn.CloseWithError(closeCodeNormal, err.Error())
	}
}

func (t *QuicTransport) run(ctx context.Context) {
	defer close(t.operationDone)

	for {
		select {
		case <-ctx.Done():
			t.closeAll()
			return

		case op := <-t.operations:
			t.handleOperation(op, ctx)
		}
	}
}

func (t *QuicTransport) handleOperation(op hubOperation, ctx context.Context) {
	var err error

	switch op.Type {
	case opRegisterClient:
		t.clientMu.Lock()
		t.clients[op.Client.id] = op.Client
		t.clientMu.Unlock()
		go op.Client.readPump(t, ctx)
		go op.Client.datagramPump(t, ctx)
		go op.Client.writePump(t, ctx)

	case opUnregisterClient:
		t.clientMu.Lock()
		client, ok := t.clients[op.ClientId]
		if ok {
			delete(t.clients, op.ClientId)
		}
		t.clientMu.Unlock()

		if !ok {
			err = transport.ErrClientNotFound{ClientId: op.ClientId}
			break
		}
		client.shutdown(quic.ApplicationErrorCode(op.Code), string(op.Message))
		t.transmitDisconnect(op.ClientId)

	case opSendMessage:
		t.clientMu.RLock()
		client, exists := t.clients[op.ClientId]
		t.clientMu.RUnlock()

		if !exists {
			err = transport.ErrClientNotFound{ClientId: op.ClientId}
		} else {
			select {
			case client.send <- outgoingMessage{Content: op.Message, Channel: op.Channel}:
			default:
				err = eris.Wrapf(transport.ErrQueueFull, "client %s", op.ClientId)
			}
		}
	}

	if op.Response != nil {
		op.Response <- err
	}
}

func (t *QuicTransport) closeAll() {
	t.clientMu.Lock()
	clients := t.clients
	t.clients = make(map[string]*client)
	t.clientMu.Unlock()

	for _, c := range clients {
		c.shutdown(closeCodeNormal, "server closed")
	}
}

func (t *QuicTransport) transmitError(err error) {
	select {
	case t.errorChan <- err:
	case <-time.After(time.Second):
		// Consumer timeout
		return
	}
}

func (t *QuicTransport) transmitMessage(id string, data []byte, channel int) {
	select {
	case t.messageChan <- transport.Message{ClientId: id, Data: data, Channel: channel}:
	case <-time.After(time.Second):
		t.transmitError(eris.Wrapf(transport.ErrQueueFull, "dropped message from %s", id))
	}
}

func (t *QuicTransport) transmitDisconnect(id string) {
	select {
	case t.disconnectChan <- id:
	case <-time.After(time.Second):
		return
	}
}

func (t *QuicTransport) isClosed() bool {
	return t.closed.Load()
}

func (t *QuicTransport) Close() error {
	t.closed.Store(true)

	var lastError error

	t.closeOnce.Do(func() {
		if !t.started.Load() {
			return
		}
		t.cancel()

		<-t.connectionsDone
		<-t.operationDone

		lastError = t.listener.Close()
	})

	return lastError
}

func (t *QuicTransport) registerClient(c *client, ctx context.Context) error {
	if t.isClosed() {
		return transport.ErrTransportClosed
	}

	return t.submit(ctx, hubOperation{
		Type:   opRegisterClient,
		Client: c,
	})
}

// submit hands op to the hub and waits for its result.
func (t *QuicTransport) submit(ctx context.Context, op hubOperation) error {
	if !t.started.Load() {
		return transport.ErrNotConnected
	}
	op.Response = make(chan error, 1)

	select {
	case t.operations <- op:
	case <-ctx.Done():
		return transport.ErrTransportClosed
	case <-t.operationDone:
		return transport.ErrTransportClosed
	}

	select {
	case err := <-op.Response:
		return err
	case <-ctx.Done():
		return transport.ErrTransportClosed
	case <-t.operationDone:
		return transport.ErrTransportClosed
	}
}

func (t *QuicTransport) CloseClient(id string, code int, reason string) error {
	if t.isClosed() {
		return transport.ErrTransportClosed
	}

	return t.submit(context.Background(), hubOperation{
		Type:     opUnregisterClient,
		ClientId: id,
		Code:     code,
		Message:  []byte(reason),
	})
}

// unregister is CloseClient for pumps that noticed a dead connection.
func (t *QuicTransport) unregister(id string, ctx context.Context) {
	err := t.submit(ctx, hubOperation{
		Type:     opUnregisterClient,
		ClientId: id,
		Message:  []byte("connection lost"),
	})
	if _, gone := err.(transport.ErrClientNotFound); err != nil && !gone && !t.isClosed() {
		t.transmitError(err)
	}
}

func (t *QuicTransport) GetClients() []string {
	t.clientMu.RLock()
	defer t.clientMu.RUnlock()

	ids := make([]string, 0, len(t.clients))
	for id := range t.clients {
		ids = append(ids, id)
	}
	return ids
}

// Addr is the bound listener address, nil before Start.
func (t *QuicTransport) Addr() net.Addr {
	if t.listener == nil {
		return nil
	}
	return t.listener.Addr()
}

func (t *QuicTransport) MaxPacketSize(channel int) int {
	return maxPacketSize(channel)
}

// Send queues data for clientId. data is copied, callers may reuse it.
func (t *QuicTransport) Send(clientId string, data []byte, channel int) error {
	if t.isClosed() {
		return transport.ErrTransportClosed
	}
	if !transport.ValidChannel(channel) {
		return transport.ErrUnknownChannel
	}
	if len(data) > maxPacketSize(channel) {
		return transport.ErrFrameTooLarge
	}

	message := make([]byte, len(data))
	copy(message, data)

	return t.submit(context.Background(), hubOperation{
		Type:     opSendMessage,
		ClientId: clientId,
		Message:  message,
		Channel:  channel,
	})
}

func (t *QuicTransport) Connections() <-chan transport.Connection {
	return t.connectChan
}

func (t *QuicTransport) Disconnections() <-chan string {
	return t.disconnectChan
}

func (t *QuicTransport) Messages() <-chan transport.Message {
	return t.messageChan
}

func (t *QuicTransport) Errors() <-chan error {
	return t.errorChan
}

func (t *QuicTransport) SetIdGenerator(idGenerator transport.IdGenerator) {
	t.idGenerator = idGenerator
}

func (t *QuicTransport) SetValidator(validator transport.ConnectionValidator) {
	t.validator = validator
}
