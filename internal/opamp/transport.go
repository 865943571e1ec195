package opamp

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// message is the wire shape exchanged over the WebSocket transport. It is a
// deliberately small envelope (handshake, status report, or server push of a
// pending config) rather than a full OpAMP protobuf implementation, matching
// the spec's framing of OpAMP as "real state-machine complexity" worth
// modeling, not wire-protocol completeness.
type message struct {
	Type            string `json:"type"` // "handshake", "status_report", "config_update"
	InstanceID      string `json:"instance_id,omitempty"`
	AgentType       string `json:"agent_type,omitempty"`
	AgentVersion    string `json:"agent_version,omitempty"`
	EffectiveConfig []byte `json:"effective_config,omitempty"`
	PendingConfig   []byte `json:"pending_config,omitempty"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Transport hosts the WebSocket endpoint collector agents connect to.
type Transport struct {
	coord  *Coordinator
	logger *zap.Logger
}

func NewTransport(coord *Coordinator, logger *zap.Logger) *Transport {
	return &Transport{coord: coord, logger: logger}
}

// ServeHTTP implements the /v1/opamp WebSocket endpoint (spec §4.E, §6
// "Collector connects via OpAMP WebSocket at /v1/opamp").
func (t *Transport) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		t.logger.Warn("opamp websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	var instanceID string
	defer func() {
		if instanceID != "" {
			t.coord.Disconnect(instanceID)
		}
	}()

	for {
		var msg message
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				t.logger.Warn("opamp connection closed unexpectedly", zap.Error(err))
			}
			return
		}

		switch msg.Type {
		case "handshake":
			instanceID = msg.InstanceID
			t.coord.Handshake(msg.InstanceID, msg.AgentType, msg.AgentVersion)
		case "status_report":
			if instanceID == "" {
				instanceID = msg.InstanceID
			}
			if err := t.coord.ReportStatus(instanceID, msg.EffectiveConfig); err != nil {
				t.logger.Warn("status report from unknown agent", zap.String("instance_id", instanceID), zap.Error(err))
				continue
			}
		default:
			t.logger.Warn("unrecognized opamp message type", zap.String("type", msg.Type))
			continue
		}

		if instanceID == "" {
			continue
		}
		if cfg, ok := t.coord.NextPending(instanceID); ok {
			if err := conn.WriteJSON(message{Type: "config_update", PendingConfig: cfg}); err != nil {
				t.logger.Warn("failed to push pending config", zap.String("instance_id", instanceID), zap.Error(err))
				return
			}
		}
	}
}

// RunRetrySweep periodically retries stale pending updates and evicts
// expired disconnected-agent state (spec §4.E) on every tick of interval.
// Run it in its own goroutine from the hosting binary (cmd/opampserver); it
// returns once stop is closed.
func (t *Transport) RunRetrySweep(stop <-chan struct{}, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case now := <-ticker.C:
			t.coord.RetryStalePending(now)
			t.coord.Sweep(now)
		}
	}
}
