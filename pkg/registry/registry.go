package registry

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/voxelforge/fabric/pkg/events"
	"github.com/voxelforge/fabric/pkg/metrics"
	"github.com/voxelforge/fabric/pkg/types"
)

var (
	// ErrAgentNotFound is returned for operations on unknown agent IDs.
	ErrAgentNotFound = errors.New("agent not found")

	// ErrAgentOffline is returned when dispatching to an offline agent.
	ErrAgentOffline = errors.New("agent offline")

	// ErrAgentBusy is returned when dispatching to a busy agent.
	ErrAgentBusy = errors.New("agent busy")
)

// Default health thresholds: online below 30s, degraded below 120s.
const (
	DefaultOnlineThreshold   = 30 * time.Second
	DefaultDegradedThreshold = 120 * time.Second
)

// Registry tracks remote agents by ID. Agents are implicitly registered
// on first heartbeat with empty capabilities and are never forgotten
// until an operator removes them.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]*types.Agent

	onlineThreshold   time.Duration
	degradedThreshold time.Duration

	lastHealth map[string]types.Health
	broker     *events.Broker
	log        zerolog.Logger
	now        func() time.Time
}

// Option configures a Registry.
type Option func(*Registry)

// WithThresholds overrides the online/degraded health thresholds.
func WithThresholds(online, degraded time.Duration) Option {
	return func(r *Registry) {
		r.onlineThreshold = online
		r.degradedThreshold = degraded
	}
}

// WithClock overrides the clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		r.now = now
	}
}

// New creates an empty registry publishing status changes to the broker.
func New(broker *events.Broker, logger zerolog.Logger, opts ...Option) *Registry {
	r := &Registry{
		agents:            make(map[string]*types.Agent),
		onlineThreshold:   DefaultOnlineThreshold,
		degradedThreshold: DefaultDegradedThreshold,
		lastHealth:        make(map[string]types.Health),
		broker:            broker,
		log:               logger.With().Str("component", "registry").Logger(),
		now:               time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds or updates an agent. An existing agent keeps its
// capabilities unless new ones are given.
func (r *Registry) Register(id string, kind types.AgentKind, label string, capabilities []string) *types.Agent {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.agents[id]
	if !ok {
		a = &types.Agent{
			ID:           id,
			Kind:         kind,
			Status:       types.AgentStatusIdle,
			RegisteredAt: r.now(),
		}
		r.agents[id] = a
		r.log.Info().Str("agent", id).Str("kind", string(kind)).Msg("agent registered")
	}
	if label != "" {
		a.Label = label
	}
	if kind != "" {
		a.Kind = kind
	}
	if len(capabilities) > 0 {
		a.Capabilities = capabilities
	}
	a.LastSeen = r.now()
	return a
}

// Heartbeat records liveness for an agent, implicitly registering
// unknown IDs with empty capabilities.
func (r *Registry) Heartbeat(id string, kind types.AgentKind, label string) *types.Agent {
	return r.Register(id, kind, label, nil)
}

// UpdateStatus sets the self-reported status of an agent and refreshes
// its heartbeat.
func (r *Registry) UpdateStatus(id string, status types.AgentStatus, currentJob int64, stats map[string]string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.agents[id]
	if !ok {
		return ErrAgentNotFound
	}
	a.Status = status
	a.CurrentJob = currentJob
	if stats != nil {
		a.Stats = stats
	}
	a.LastSeen = r.now()
	return nil
}

// Remove drops an agent from the registry.
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.agents[id]; !ok {
		return ErrAgentNotFound
	}
	delete(r.agents, id)
	delete(r.lastHealth, id)
	return nil
}

// Get returns a copy of one agent.
func (r *Registry) Get(id string) (*types.Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[id]
	if !ok {
		return nil, ErrAgentNotFound
	}
	cp := *a
	return &cp, nil
}

// GetAll returns copies of all agents sorted by ID.
func (r *Registry) GetAll() []*types.Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*types.Agent, 0, len(r.agents))
	for _, a := range r.agents {
		cp := *a
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// GetIdle returns the first idle, not-offline agent claiming the given
// capability, in ascending ID order for determinism. An empty
// capability matches any agent.
func (r *Registry) GetIdle(capability string) *types.Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.agents))
	for id := range r.agents {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		a := r.agents[id]
		if a.Status != types.AgentStatusIdle {
			continue
		}
		if r.healthLocked(a) == types.HealthOffline {
			continue
		}
		if !a.HasCapability(capability) {
			continue
		}
		cp := *a
		return &cp
	}
	return nil
}

// Health derives the health of one agent from its last heartbeat.
func (r *Registry) Health(id string) (types.Health, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[id]
	if !ok {
		return "", ErrAgentNotFound
	}
	return r.healthLocked(a), nil
}

func (r *Registry) healthLocked(a *types.Agent) types.Health {
	age := r.now().Sub(a.LastSeen)
	switch {
	case age < r.onlineThreshold:
		return types.HealthOnline
	case age < r.degradedThreshold:
		return types.HealthDegraded
	default:
		return types.HealthOffline
	}
}

// StatusChange records one health transition observed by a sweep.
type StatusChange struct {
	AgentID   string
	OldHealth types.Health
	NewHealth types.Health
}

// Sweep recomputes health for every agent and emits an
// agent_status_change event for each transition since the last sweep.
// It also refreshes the per-kind health gauges.
func (r *Registry) Sweep() []StatusChange {
	r.mu.Lock()
	defer r.mu.Unlock()

	var changes []StatusChange
	counts := make(map[[2]string]int)
	ids := make([]string, 0, len(r.agents))
	for id := range r.agents {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		a := r.agents[id]
		h := r.healthLocked(a)
		counts[[2]string{string(a.Kind), string(h)}]++

		prev, seen := r.lastHealth[id]
		r.lastHealth[id] = h
		if !seen {
			prev = types.HealthOnline
		}
		if h == prev {
			continue
		}
		changes = append(changes, StatusChange{AgentID: id, OldHealth: prev, NewHealth: h})
		r.log.Info().
			Str("agent", id).
			Str("old", string(prev)).
			Str("new", string(h)).
			Msg("agent health changed")
	}

	metrics.AgentsTotal.Reset()
	for k, n := range counts {
		metrics.AgentsTotal.WithLabelValues(k[0], k[1]).Set(float64(n))
	}

	if r.broker != nil {
		for _, c := range changes {
			r.broker.Publish(events.New(events.EventAgentStatusChange, "agent health changed", map[string]any{
				"agentId":   c.AgentID,
				"newHealth": string(c.NewHealth),
				"oldHealth": string(c.OldHealth),
			}))
		}
	}
	return changes
}
