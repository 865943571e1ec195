package opamp

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/ollyscale/core/internal/ollyerr"
)

// API serves the REST facade named in spec §4.E/§6:
// GET/POST /api/opamp/{status,config,health}.
type API struct {
	coord  *Coordinator
	logger *zap.Logger
}

func NewAPI(coord *Coordinator, logger *zap.Logger) *API {
	return &API{coord: coord, logger: logger}
}

// Router returns a mux.Router exposing just the REST facade; the OpAMP
// coordinator binary mounts it alongside the /v1/opamp WebSocket transport.
func (a *API) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/api/opamp/status", a.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/api/opamp/config", a.handleGetConfig).Methods(http.MethodGet)
	r.HandleFunc("/api/opamp/config", a.handleSetConfig).Methods(http.MethodPost)
	r.HandleFunc("/api/opamp/health", a.handleHealth).Methods(http.MethodGet)
	return r
}

type agentStatusDTO struct {
	InstanceID   string `json:"instance_id"`
	AgentType    string `json:"agent_type"`
	AgentVersion string `json:"agent_version"`
	Status       string `json:"status"`
	HasPending   bool   `json:"has_pending"`
	LastSeen     string `json:"last_seen"`
}

func newAgentStatusDTO(a Agent) agentStatusDTO {
	return agentStatusDTO{
		InstanceID:   a.InstanceID,
		AgentType:    a.AgentType,
		AgentVersion: a.AgentVersion,
		Status:       a.Status.String(),
		HasPending:   a.HasPending,
		LastSeen:     a.LastSeen.UTC().Format(time.RFC3339),
	}
}

// handleStatus serves GET /api/opamp/status: "connected agent list with
// last-seen timestamp" (spec §4.E).
func (a *API) handleStatus(w http.ResponseWriter, r *http.Request) {
	agents := a.coord.List()
	items := make([]agentStatusDTO, 0, len(agents))
	for _, ag := range agents {
		items = append(items, newAgentStatusDTO(ag))
	}
	a.writeJSON(w, http.StatusOK, map[string]interface{}{"items": items, "count": len(items)})
}

// handleGetConfig serves GET /api/opamp/config?instance_id=...: the named
// agent's reported effective config, or — if instance_id is omitted and
// exactly one agent is known — that agent's config (spec §4.E).
func (a *API) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	instanceID := r.URL.Query().Get("instance_id")

	var agent Agent
	var ok bool
	if instanceID == "" {
		agent, ok = a.coord.Sole()
		if !ok {
			a.writeError(w, "invalid", http.StatusBadRequest, "instance_id is required when more than one agent is connected", nil)
			return
		}
	} else {
		agent, ok = a.coord.Get(instanceID)
		if !ok {
			a.writeError(w, "not_found", http.StatusNotFound, "unknown agent instance_id", nil)
			return
		}
	}

	w.Header().Set("Content-Type", "application/yaml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(agent.EffectiveConfig)
}

type setConfigRequest struct {
	InstanceID string `json:"instance_id"`
	Broadcast  bool   `json:"broadcast"`
}

// handleSetConfig serves POST /api/opamp/config: the body is YAML
// (validated syntactically only, per spec §4.E), the target is named via
// the instance_id query param or JSON field; broadcast=true targets every
// known agent.
func (a *API) handleSetConfig(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		a.writeError(w, "invalid", http.StatusBadRequest, "failed to read request body", err)
		return
	}

	var doc interface{}
	if err := yaml.Unmarshal(body, &doc); err != nil {
		a.writeError(w, "invalid", http.StatusBadRequest, "malformed YAML config", err)
		return
	}

	instanceID := r.URL.Query().Get("instance_id")
	broadcast := r.URL.Query().Get("broadcast") == "true"

	if instanceID == "" && r.Header.Get("Content-Type") == "application/json" {
		var req setConfigRequest
		if err := json.Unmarshal(body, &req); err == nil {
			instanceID = req.InstanceID
			broadcast = broadcast || req.Broadcast
		}
	}

	if broadcast {
		// batchID correlates this one operator action across every
		// agent's eventual delivery log line, since Broadcast fans out to
		// an a priori unknown number of agents.
		batchID := uuid.NewString()
		a.coord.Broadcast(body)
		a.logger.Info("broadcast config queued", zap.String("batch_id", batchID), zap.Int("agent_count", len(a.coord.List())))
		a.writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued", "target": "broadcast", "batch_id": batchID})
		return
	}

	if instanceID == "" {
		a.writeError(w, "invalid", http.StatusBadRequest, "instance_id is required unless broadcast=true", nil)
		return
	}
	if err := a.coord.SetPending(instanceID, body); err != nil {
		a.handleErr(w, "failed to queue config", err)
		return
	}
	a.writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued", "target": instanceID})
}

// handleHealth serves GET /api/opamp/health: liveness of the coordinator
// process (SPEC_FULL.md supplemented feature).
func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	a.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *API) handleErr(w http.ResponseWriter, msg string, err error) {
	kind := ollyerr.As(err)
	a.writeError(w, kind.String(), kind.HTTPStatus(), msg, err)
}

func (a *API) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		a.logger.Debug("failed to encode response", zap.Error(err))
	}
}

func (a *API) writeError(w http.ResponseWriter, code string, status int, msg string, err error) {
	if status >= http.StatusInternalServerError {
		a.logger.Error(msg, zap.Error(err))
	} else {
		a.logger.Warn(msg, zap.Error(err))
	}
	body := map[string]string{"code": code, "message": msg}
	if err != nil {
		body["details"] = err.Error()
	}
	a.writeJSON(w, status, body)
}
