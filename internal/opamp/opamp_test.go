package opamp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestCoordinator(t *testing.T) *Coordinator {
	t.Helper()
	c, err := New(Config{PendingTTL: time.Hour, AckTimeout: time.Minute}, zap.NewNop())
	require.NoError(t, err)
	return c
}

func TestHandshakeCreatesConnectedAgent(t *testing.T) {
	c := newTestCoordinator(t)
	agent := c.Handshake("agent-1", "collector", "v1.2.3")
	assert.Equal(t, StatusConnected, agent.Status)
	assert.Equal(t, "collector", agent.AgentType)

	got, ok := c.Get("agent-1")
	require.True(t, ok)
	assert.Equal(t, StatusConnected, got.Status)
}

func TestReportStatusUnknownAgentReturnsNotFound(t *testing.T) {
	c := newTestCoordinator(t)
	err := c.ReportStatus("ghost", []byte("config: {}"))
	require.Error(t, err)
}

func TestSetPendingThenAckClearsPending(t *testing.T) {
	c := newTestCoordinator(t)
	c.Handshake("agent-1", "collector", "v1")

	cfg := []byte("level: debug\n")
	require.NoError(t, c.SetPending("agent-1", cfg))

	got, ok := c.Get("agent-1")
	require.True(t, ok)
	assert.True(t, got.HasPending)

	// Delivery: NextPending hands the config to the transport.
	delivered, ok := c.NextPending("agent-1")
	require.True(t, ok)
	assert.Equal(t, cfg, delivered)

	// Agent acks by reporting the new config as its effective config.
	require.NoError(t, c.ReportStatus("agent-1", cfg))

	got, ok = c.Get("agent-1")
	require.True(t, ok)
	assert.False(t, got.HasPending)
	assert.Equal(t, cfg, got.EffectiveConfig)
}

func TestReportStatusWithMismatchedConfigLeavesPendingSet(t *testing.T) {
	c := newTestCoordinator(t)
	c.Handshake("agent-1", "collector", "v1")
	require.NoError(t, c.SetPending("agent-1", []byte("a: 1\n")))

	require.NoError(t, c.ReportStatus("agent-1", []byte("a: 2\n")))

	got, ok := c.Get("agent-1")
	require.True(t, ok)
	assert.True(t, got.HasPending, "pending should remain set until effective config matches the pending hash")
}

func TestSetPendingUnknownAgentReturnsNotFound(t *testing.T) {
	c := newTestCoordinator(t)
	err := c.SetPending("ghost", []byte("a: 1\n"))
	require.Error(t, err)
}

func TestBroadcastAcceptsEmptyFleet(t *testing.T) {
	c := newTestCoordinator(t)
	c.Broadcast([]byte("a: 1\n")) // must not panic or error with zero agents
	assert.Empty(t, c.List())
}

func TestBroadcastQueuesForEveryAgent(t *testing.T) {
	c := newTestCoordinator(t)
	c.Handshake("agent-1", "collector", "v1")
	c.Handshake("agent-2", "collector", "v1")

	c.Broadcast([]byte("a: 1\n"))

	for _, id := range []string{"agent-1", "agent-2"} {
		got, ok := c.Get(id)
		require.True(t, ok)
		assert.True(t, got.HasPending)
	}
}

func TestSoleReturnsOnlyAgentWhenExactlyOne(t *testing.T) {
	c := newTestCoordinator(t)
	_, ok := c.Sole()
	assert.False(t, ok, "no agents yet")

	c.Handshake("agent-1", "collector", "v1")
	agent, ok := c.Sole()
	require.True(t, ok)
	assert.Equal(t, "agent-1", agent.InstanceID)

	c.Handshake("agent-2", "collector", "v1")
	_, ok = c.Sole()
	assert.False(t, ok, "more than one agent connected")
}

func TestSweepEvictsExpiredDisconnectedAgents(t *testing.T) {
	c := newTestCoordinator(t)
	c.Handshake("agent-1", "collector", "v1")
	c.Disconnect("agent-1")

	c.Sweep(time.Now().Add(2 * time.Hour)) // past the 1h PendingTTL

	_, ok := c.Get("agent-1")
	assert.False(t, ok)
}

func TestSweepKeepsConnectedAgentsRegardlessOfAge(t *testing.T) {
	c := newTestCoordinator(t)
	c.Handshake("agent-1", "collector", "v1")

	c.Sweep(time.Now().Add(2 * time.Hour))

	_, ok := c.Get("agent-1")
	assert.True(t, ok)
}

func TestRetryStalePendingClearsSentTimestamp(t *testing.T) {
	c := newTestCoordinator(t)
	c.Handshake("agent-1", "collector", "v1")
	require.NoError(t, c.SetPending("agent-1", []byte("a: 1\n")))
	_, _ = c.NextPending("agent-1")

	c.RetryStalePending(time.Now().Add(2 * time.Minute)) // past the 1m AckTimeout

	got, ok := c.Get("agent-1")
	require.True(t, ok)
	assert.True(t, got.PendingSentAt.IsZero())
}

func TestContentHashEqualForIdenticalBytes(t *testing.T) {
	a := ContentHash([]byte("same"))
	b := ContentHash([]byte("same"))
	assert.Equal(t, a, b)
}
