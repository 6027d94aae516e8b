package websockets

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/QYUbit/netsync/pkg/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(5 * time.Second):
		t.Fatal("timed out")
	}
	var zero T
	return zero
}

func TestMountedLoopback(t *testing.T) {
	tr := NewTransport("", "/ws")
	tr.SetIdGenerator(func() string { return "peer" })
	require.NoError(t, tr.Start(context.Background()))

	srv := httptest.NewServer(tr)
	defer srv.Close()
	defer tr.Close()

	d := NewDialer("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, d.Connect(context.Background()))
	defer d.Close()

	assert.Equal(t, "peer", receive(t, tr.Connections()).ClientId)

	require.NoError(t, d.Send([]byte{1, 2}, transport.ChannelUnreliable))
	msg := receive(t, tr.Messages())
	assert.Equal(t, []byte{1, 2}, msg.Data)
	assert.Equal(t, transport.ChannelReliable, msg.Channel, "everything is reliable")

	require.NoError(t, tr.Send("peer", []byte{3}, transport.ChannelReliable))
	assert.Equal(t, []byte{3}, receive(t, d.Messages()).Data)

	require.NoError(t, tr.CloseClient("peer", 0, "bye"))
	assert.Equal(t, "peer", receive(t, tr.Disconnections()))
	receive(t, d.Done())
}

func TestValidatorRejectsUpgrade(t *testing.T) {
	tr := NewTransport("", "/")
	tr.SetValidator(func(string) (bool, string) { return false, "banned" })

	srv := httptest.NewServer(tr)
	defer srv.Close()

	d := NewDialer("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	assert.Error(t, d.Connect(context.Background()))
	assert.Empty(t, tr.GetClients())
}
