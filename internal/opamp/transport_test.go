package opamp

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestTransportDeliversPendingConfigOnNextMessage(t *testing.T) {
	coord, err := New(Config{PendingTTL: time.Hour, AckTimeout: time.Minute}, zap.NewNop())
	require.NoError(t, err)
	transport := NewTransport(coord, zap.NewNop())

	server := httptest.NewServer(transport)
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(message{Type: "handshake", InstanceID: "agent-1", AgentType: "collector", AgentVersion: "v1"}))

	require.NoError(t, coord.SetPending("agent-1", []byte("level: debug\n")))

	require.NoError(t, conn.WriteJSON(message{Type: "status_report", InstanceID: "agent-1", EffectiveConfig: []byte("level: info\n")}))

	var reply message
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	require.NoError(t, conn.ReadJSON(&reply))
	require.Equal(t, "config_update", reply.Type)
	require.Equal(t, []byte("level: debug\n"), reply.PendingConfig)

	agent, ok := coord.Get("agent-1")
	require.True(t, ok)
	require.Equal(t, StatusConnected, agent.Status)
}

func TestTransportDisconnectsAgentOnConnectionClose(t *testing.T) {
	coord, err := New(Config{PendingTTL: time.Hour, AckTimeout: time.Minute}, zap.NewNop())
	require.NoError(t, err)
	transport := NewTransport(coord, zap.NewNop())

	server := httptest.NewServer(transport)
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)

	require.NoError(t, conn.WriteJSON(message{Type: "handshake", InstanceID: "agent-1"}))
	time.Sleep(50 * time.Millisecond)
	conn.Close()
	time.Sleep(100 * time.Millisecond)

	agent, ok := coord.Get("agent-1")
	require.True(t, ok)
	require.Equal(t, StatusDisconnected, agent.Status)
}
