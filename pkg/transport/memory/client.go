package memory

import (
	"context"
	"sync"

	"github.com/QYUbit/netsync/pkg/transport"
)

// Client implements transport.ClientTransport against a Server.
type Client struct {
	server *Server
	id     string

	mu        sync.Mutex
	connected bool
	closeOnce sync.Once

	messages chan transport.Message
	errors   chan error
	done     chan struct{}
}

// ID is the connection id the server assigned, empty before Connect.
func (c *Client) ID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.id
}

func (c *Client) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	select {
	case <-c.done:
		return transport.ErrTransportClosed
	default:
	}
	if c.connected {
		return nil
	}
	if err := c.server.accept(c); err != nil {
		return err
	}
	c.connected = true
	return nil
}

func (c *Client) Close() error {
	c.mu.Lock()
	connected := c.connected
	id := c.id
	c.mu.Unlock()

	if connected {
		c.server.disconnect(id)
	}
	c.shutdown()
	return nil
}

func (c *Client) Send(data []byte, channel int) error {
	if !transport.ValidChannel(channel) {
		return transport.ErrUnknownChannel
	}
	if len(data) > c.MaxPacketSize(channel) {
		return transport.ErrFrameTooLarge
	}

	c.mu.Lock()
	connected := c.connected
	id := c.id
	c.mu.Unlock()

	if !connected {
		return transport.ErrNotConnected
	}
	select {
	case <-c.done:
		return transport.ErrTransportClosed
	default:
	}
	return c.server.receive(id, copyBytes(data), channel)
}

func (c *Client) MaxPacketSize(channel int) int {
	return c.server.MaxPacketSize(channel)
}

func (c *Client) Messages() <-chan transport.Message {
	return c.messages
}

func (c *Client) Errors() <-chan error {
	return c.errors
}

func (c *Client) Done() <-chan struct{} {
	return c.done
}

func (c *Client) deliver(msg transport.Message) error {
	select {
	case <-c.done:
		return transport.ErrTransportClosed
	default:
	}
	select {
	case c.messages <- msg:
		return nil
	default:
		return transport.ErrQueueFull
	}
}

func (c *Client) shutdown() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.connected = false
		c.mu.Unlock()
		close(c.done)
	})
}
