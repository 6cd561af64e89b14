package server

import (
	"context"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	gorilla "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/wailbentafat/foxglove-hub/protocol"
	"github.com/wailbentafat/foxglove-hub/websocket"
)

type closer struct{ closed bool }

func (c *closer) Close() error {
	c.closed = true
	return nil
}

func TestServeAndShutdown(t *testing.T) {
	hub := websocket.NewBroker(websocket.DefaultOptions())
	srv := NewServer("", "/", hub, "/metrics", zap.NewNop())

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	served := make(chan error, 1)
	go func() { served <- srv.Serve(lis) }()
	addr := lis.Addr().String()

	dialer := gorilla.Dialer{Subprotocols: []string{protocol.Subprotocol}}
	conn, resp, err := dialer.Dial("ws://"+addr+"/", nil)
	require.NoError(t, err)
	resp.Body.Close()
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	msg, err := protocol.DecodeServerMessage(data)
	require.NoError(t, err)
	assert.IsType(t, protocol.ServerInfo{}, msg)

	metrics, err := http.Get("http://" + addr + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(metrics.Body)
	metrics.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, metrics.StatusCode)
	assert.Contains(t, string(body), "foxglove_hub_clients_connected")

	health, err := http.Get("http://" + addr + "/healthz")
	require.NoError(t, err)
	health.Body.Close()
	assert.Equal(t, http.StatusOK, health.StatusCode)

	relay := &closer{}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	srv.Shutdown(ctx, hub, relay)

	assert.True(t, relay.closed)
	assert.Equal(t, 0, hub.Clients().Count())

	// Drain the rest of the greeting up to the close frame.
	for {
		_, _, err = conn.ReadMessage()
		if err != nil {
			break
		}
	}
	assert.True(t, gorilla.IsCloseError(err, gorilla.CloseGoingAway), "got %v", err)

	select {
	case err := <-served:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return")
	}
}

func TestStartFailsOnBadAddress(t *testing.T) {
	hub := websocket.NewBroker(websocket.DefaultOptions())
	defer hub.Close()
	srv := NewServer("256.0.0.1:bad", "/", hub, "", zap.NewNop())
	require.Error(t, srv.Start())
}
