// Package opamp implements the OpAMP coordinator (spec §4.E): it tracks
// connected collector agents over a long-lived transport, queues
// operator-submitted configuration, and exposes a REST facade for status and
// config delivery. Grounded on the teacher's zap logging/config-validation
// conventions, generalized to the agent state machine spec §4.E names — the
// teacher has no analogue of its own (a single collector process has no
// fleet to coordinate).
package opamp

import (
	"crypto/sha256"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ollyscale/core/internal/ollyerr"
)

// Status is an agent's connection state (spec §4.E "State per agent").
type Status int

const (
	StatusDisconnected Status = iota
	StatusConnected
)

func (s Status) String() string {
	if s == StatusConnected {
		return "connected"
	}
	return "disconnected"
}

// Agent is the per-instance state the coordinator tracks.
type Agent struct {
	InstanceID      string
	AgentType       string
	AgentVersion    string
	Status          Status
	EffectiveConfig []byte
	PendingConfig   []byte
	PendingHash     [32]byte
	HasPending      bool
	PendingSentAt   time.Time
	LastSeen        time.Time
}

// ContentHash returns the SHA-256 content hash of cfg (spec §9 design note:
// "use a content hash so hash equality implies config equality; avoid
// timestamps as hashes").
func ContentHash(cfg []byte) [32]byte {
	return sha256.Sum256(cfg)
}

// Config configures the coordinator's pending-update retry behavior.
type Config struct {
	// PendingTTL is how long disconnected-agent state is retained to
	// survive reconnects (spec §4.E "state retained for a TTL").
	PendingTTL time.Duration `mapstructure:"pending_ttl"`
	// AckTimeout is how long a pending update waits for acknowledgment
	// before being marked stale and retried on the next connection (spec
	// §4.E "Failure semantics").
	AckTimeout time.Duration `mapstructure:"ack_timeout"`
}

const (
	defaultPendingTTL = 24 * time.Hour
	defaultAckTimeout = 60 * time.Second
)

func (c *Config) Validate() error {
	if c.PendingTTL == 0 {
		c.PendingTTL = defaultPendingTTL
	}
	if c.AckTimeout == 0 {
		c.AckTimeout = defaultAckTimeout
	}
	return nil
}

// Coordinator owns the in-memory agent fleet. All exported methods are
// safe for concurrent use; a single mutex protects the map because agent
// counts are small (tens to low hundreds) and updates are infrequent
// relative to read traffic from the REST facade.
type Coordinator struct {
	mu     sync.Mutex
	agents map[string]*Agent
	cfg    Config
	logger *zap.Logger
}

func New(cfg Config, logger *zap.Logger) (*Coordinator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Coordinator{agents: make(map[string]*Agent), cfg: cfg, logger: logger}, nil
}

// Handshake implements Disconnected -> Connected (spec §4.E lifecycle): an
// inbound connection identifies itself; if this instance_id is new, a fresh
// Agent is created, otherwise the existing state (including any pending
// config) is reused.
func (c *Coordinator) Handshake(instanceID, agentType, agentVersion string) *Agent {
	c.mu.Lock()
	defer c.mu.Unlock()

	a, ok := c.agents[instanceID]
	if !ok {
		a = &Agent{InstanceID: instanceID}
		c.agents[instanceID] = a
	}
	a.AgentType = agentType
	a.AgentVersion = agentVersion
	a.Status = StatusConnected
	a.LastSeen = time.Now()
	return a
}

// ReportStatus records an agent's self-reported effective config (spec
// §4.E: "effective_config captured on first status report" and "pending
// cleared iff hash(effective_config)==pending_hash").
func (c *Coordinator) ReportStatus(instanceID string, effectiveConfig []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	a, ok := c.agents[instanceID]
	if !ok {
		return ollyerr.NotFound("unknown agent instance_id", nil)
	}
	a.EffectiveConfig = effectiveConfig
	a.LastSeen = time.Now()
	a.Status = StatusConnected

	if a.HasPending && ContentHash(effectiveConfig) == a.PendingHash {
		a.HasPending = false
		a.PendingConfig = nil
	}
	return nil
}

// Disconnect implements "any state -> on transport close -> Disconnected"
// (spec §4.E). State is retained, not deleted, so a reconnect within
// PendingTTL resumes with pending config intact.
func (c *Coordinator) Disconnect(instanceID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if a, ok := c.agents[instanceID]; ok {
		a.Status = StatusDisconnected
		a.LastSeen = time.Now()
	}
}

// NextPending returns the config an agent should be sent on its next
// message, if any (spec §4.E: "next agent message sends the update").
func (c *Coordinator) NextPending(instanceID string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	a, ok := c.agents[instanceID]
	if !ok || !a.HasPending {
		return nil, false
	}
	a.PendingSentAt = time.Now()
	return a.PendingConfig, true
}

// SetPending queues cfg for delivery to instanceID (spec §4.E REST facade
// "POST /config ... stores it as pending"). Returns NotFound if the agent
// has never connected, since there is nothing to target.
func (c *Coordinator) SetPending(instanceID string, cfg []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	a, ok := c.agents[instanceID]
	if !ok {
		return ollyerr.NotFound("unknown agent instance_id", nil)
	}
	a.PendingConfig = cfg
	a.PendingHash = ContentHash(cfg)
	a.HasPending = true
	a.PendingSentAt = time.Time{}
	return nil
}

// Broadcast queues cfg for every currently known agent. An empty fleet is
// accepted and queued against future connections (spec §4.E "no agents
// connected for a broadcast -> accepted and queued") — there is simply
// nothing to queue against yet, which is not an error.
func (c *Coordinator) Broadcast(cfg []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	hash := ContentHash(cfg)
	for _, a := range c.agents {
		a.PendingConfig = cfg
		a.PendingHash = hash
		a.HasPending = true
		a.PendingSentAt = time.Time{}
	}
}

// Get returns a snapshot of one agent's state.
func (c *Coordinator) Get(instanceID string) (Agent, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	a, ok := c.agents[instanceID]
	if !ok {
		return Agent{}, false
	}
	return *a, true
}

// List returns a snapshot of every tracked agent, sorted by instance_id for
// deterministic REST output.
func (c *Coordinator) List() []Agent {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Agent, 0, len(c.agents))
	for _, a := range c.agents {
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].InstanceID < out[j].InstanceID })
	return out
}

// Sole returns a snapshot of the single tracked agent when there is exactly
// one, for the REST facade's "or the common default if no id is
// given and there is only one agent" rule (spec §4.E).
func (c *Coordinator) Sole() (Agent, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.agents) != 1 {
		return Agent{}, false
	}
	for _, a := range c.agents {
		return *a, true
	}
	return Agent{}, false
}

// RetryStalePending marks any pending update whose AckTimeout has elapsed
// for redelivery on the agent's next connection (spec §4.E "a pending
// update that isn't acknowledged within a timeout is marked stale and
// retried on the next connection"). Since NextPending already resends
// HasPending config on every connection, "retry" here just means the stale
// send timestamp is cleared so a future NextPending call isn't mistaken for
// a fresh delivery still in flight.
func (c *Coordinator) RetryStalePending(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, a := range c.agents {
		if a.HasPending && !a.PendingSentAt.IsZero() && now.Sub(a.PendingSentAt) > c.cfg.AckTimeout {
			a.PendingSentAt = time.Time{}
		}
	}
}

// Sweep drops Disconnected agents whose LastSeen exceeds PendingTTL (spec
// §4.E "state retained for a TTL to survive reconnects").
func (c *Coordinator) Sweep(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, a := range c.agents {
		if a.Status == StatusDisconnected && now.Sub(a.LastSeen) > c.cfg.PendingTTL {
			delete(c.agents, id)
		}
	}
}
