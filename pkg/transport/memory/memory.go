// Package memory implements an in-process loopback transport. It backs tests
// and host mode, where the server and a local client share one process.
package memory

import (
	"context"
	"sync"

	"github.com/QYUbit/netsync/pkg/transport"
)

const (
	DefaultQueueSize     = 4096
	DefaultReliableMTU   = 64 * 1024
	DefaultUnreliableMTU = 1200
)

type Options struct {
	QueueSize     int
	ReliableMTU   int
	UnreliableMTU int
}

func (o *Options) defaults() {
	if o.QueueSize <= 0 {
		o.QueueSize = DefaultQueueSize
	}
	if o.ReliableMTU <= 0 {
		o.ReliableMTU = DefaultReliableMTU
	}
	if o.UnreliableMTU <= 0 {
		o.UnreliableMTU = DefaultUnreliableMTU
	}
}

func copyBytes(p []byte) []byte {
	out := make([]byte, len(p))
	copy(out, p)
	return out
}

// Server implements transport.Transport.
type Server struct {
	opts Options

	mu      sync.RWMutex
	clients map[string]*Client
	closed  bool
	started bool

	connectChan    chan transport.Connection
	disconnectChan chan string
	messageChan    chan transport.Message
	errorChan      chan error

	idGenerator transport.IdGenerator
	validator   transport.ConnectionValidator
}

func NewServer(opts Options) *Server {
	opts.defaults()
	return &Server{
		opts:           opts,
		clients:        make(map[string]*Client),
		connectChan:    make(chan transport.Connection, opts.QueueSize),
		disconnectChan: make(chan string, opts.QueueSize),
		messageChan:    make(chan transport.Message, opts.QueueSize),
		errorChan:      make(chan error, opts.QueueSize),
		idGenerator:    transport.DefaultIdGenerator,
	}
}

func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return transport.ErrTransportClosed
	}
	s.started = true
	return nil
}

func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	clients := s.clients
	s.clients = make(map[string]*Client)
	s.mu.Unlock()

	for _, c := range clients {
		c.shutdown()
	}
	return nil
}

func (s *Server) MaxPacketSize(channel int) int {
	if channel == transport.ChannelUnreliable {
		return s.opts.UnreliableMTU
	}
	return s.opts.ReliableMTU
}

func (s *Server) Send(clientId string, data []byte, channel int) error {
	if !transport.ValidChannel(channel) {
		return transport.ErrUnknownChannel
	}
	if len(data) > s.MaxPacketSize(channel) {
		return transport.ErrFrameTooLarge
	}

	s.mu.RLock()
	c, ok := s.clients[clientId]
	closed := s.closed
	s.mu.RUnlock()

	if closed {
		return transport.ErrTransportClosed
	}
	if !ok {
		return transport.ErrClientNotFound{ClientId: clientId}
	}
	return c.deliver(transport.Message{Data: copyBytes(data), Channel: channel})
}

func (s *Server) CloseClient(clientId string, code int, reason string) error {
	s.mu.Lock()
	c, ok := s.clients[clientId]
	if ok {
		delete(s.clients, clientId)
	}
	s.mu.Unlock()

	if !ok {
		return transport.ErrClientNotFound{ClientId: clientId}
	}
	c.shutdown()
	s.emitDisconnect(clientId)
	return nil
}

func (s *Server) GetClients() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.clients))
	for id := range s.clients {
		ids = append(ids, id)
	}
	return ids
}

func (s *Server) Messages() <-chan transport.Message {
	return s.messageChan
}

func (s *Server) Connections() <-chan transport.Connection {
	return s.connectChan
}

func (s *Server) Disconnections() <-chan string {
	return s.disconnectChan
}

func (s *Server) Errors() <-chan error {
	return s.errorChan
}

func (s *Server) SetIdGenerator(idGenerator transport.IdGenerator) {
	s.idGenerator = idGenerator
}

func (s *Server) SetValidator(validator transport.ConnectionValidator) {
	s.validator = validator
}

// NewClient returns a client that dials this server on Connect.
func (s *Server) NewClient() *Client {
	return &Client{
		server:   s,
		messages: make(chan transport.Message, s.opts.QueueSize),
		errors:   make(chan error, 16),
		done:     make(chan struct{}),
	}
}

func (s *Server) accept(c *Client) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || !s.started {
		return transport.ErrNotConnected
	}

	addr := "memory"
	if s.validator != nil {
		if accept, reason := s.validator(addr); !accept {
			return &RejectedError{Reason: reason}
		}
	}

	c.id = s.idGenerator()
	s.clients[c.id] = c

	select {
	case s.connectChan <- transport.Connection{ClientId: c.id, RemoteAddr: addr}:
		return nil
	default:
		delete(s.clients, c.id)
		return transport.ErrQueueFull
	}
}

func (s *Server) receive(id string, data []byte, channel int) error {
	select {
	case s.messageChan <- transport.Message{ClientId: id, Data: data, Channel: channel}:
		return nil
	default:
		return transport.ErrQueueFull
	}
}

func (s *Server) disconnect(id string) {
	s.mu.Lock()
	_, ok := s.clients[id]
	delete(s.clients, id)
	s.mu.Unlock()

	if ok {
		s.emitDisconnect(id)
	}
}

func (s *Server) emitDisconnect(id string) {
	select {
	case s.disconnectChan <- id:
	default:
		select {
		case s.errorChan <- transport.ErrQueueFull:
		default:
		}
	}
}

type RejectedError struct {
	Reason string
}

func (e *RejectedError) Error() string {
	return "connection rejected: " + e.Reason
}
