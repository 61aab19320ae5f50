package registry

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voxelforge/fabric/pkg/types"
)

// fakeClock is a settable clock for health-threshold tests.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestRegistry(t *testing.T) (*Registry, *fakeClock) {
	t.Helper()
	clk := &fakeClock{t: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
	return New(nil, zerolog.Nop(), WithClock(clk.now)), clk
}

func TestHeartbeatImplicitlyRegisters(t *testing.T) {
	r, _ := newTestRegistry(t)

	a := r.Heartbeat("crafter_1", types.AgentKindCrafter, "Crafty")
	require.NotNil(t, a)
	assert.Equal(t, types.AgentStatusIdle, a.Status)
	assert.Empty(t, a.Capabilities)

	got, err := r.Get("crafter_1")
	require.NoError(t, err)
	assert.Equal(t, "Crafty", got.Label)
}

func TestRegisterKeepsCapabilitiesOnHeartbeat(t *testing.T) {
	r, _ := newTestRegistry(t)

	r.Register("crafter_1", types.AgentKindCrafter, "", []string{"craft"})
	r.Heartbeat("crafter_1", types.AgentKindCrafter, "")

	got, err := r.Get("crafter_1")
	require.NoError(t, err)
	assert.Equal(t, []string{"craft"}, got.Capabilities)
}

func TestHealthThresholds(t *testing.T) {
	r, clk := newTestRegistry(t)
	r.Heartbeat("w1", types.AgentKindWorker, "")

	tests := []struct {
		name string
		age  time.Duration
		want types.Health
	}{
		{"fresh", 0, types.HealthOnline},
		{"just under online", 29 * time.Second, types.HealthOnline},
		{"at online threshold", 30 * time.Second, types.HealthDegraded},
		{"under degraded", 119 * time.Second, types.HealthDegraded},
		{"at degraded threshold", 120 * time.Second, types.HealthOffline},
		{"long gone", time.Hour, types.HealthOffline},
	}

	base := clk.t
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clk.t = base.Add(tt.age)
			h, err := r.Health("w1")
			require.NoError(t, err)
			assert.Equal(t, tt.want, h)
		})
	}
}

func TestSweepEmitsTransitions(t *testing.T) {
	r, clk := newTestRegistry(t)
	r.Heartbeat("w1", types.AgentKindWorker, "")

	// First sweep while fresh: previous health defaults to online, so a
	// still-online agent produces no change.
	changes := r.Sweep()
	assert.Empty(t, changes)

	clk.advance(45 * time.Second)
	changes = r.Sweep()
	require.Len(t, changes, 1)
	assert.Equal(t, types.HealthOnline, changes[0].OldHealth)
	assert.Equal(t, types.HealthDegraded, changes[0].NewHealth)

	// No further transition until the next threshold.
	assert.Empty(t, r.Sweep())

	clk.advance(90 * time.Second)
	changes = r.Sweep()
	require.Len(t, changes, 1)
	assert.Equal(t, types.HealthOffline, changes[0].NewHealth)

	// Heartbeat brings it straight back.
	r.Heartbeat("w1", types.AgentKindWorker, "")
	changes = r.Sweep()
	require.Len(t, changes, 1)
	assert.Equal(t, types.HealthOffline, changes[0].OldHealth)
	assert.Equal(t, types.HealthOnline, changes[0].NewHealth)
}

func TestGetIdleFiltersAndOrders(t *testing.T) {
	r, clk := newTestRegistry(t)
	r.Register("crafter_2", types.AgentKindCrafter, "", []string{"craft"})
	r.Register("crafter_1", types.AgentKindCrafter, "", []string{"craft"})
	r.Register("worker_1", types.AgentKindWorker, "", []string{"work"})

	// Lowest ID with the capability wins.
	a := r.GetIdle("craft")
	require.NotNil(t, a)
	assert.Equal(t, "crafter_1", a.ID)

	require.NoError(t, r.UpdateStatus("crafter_1", types.AgentStatusBusy, 7, nil))
	a = r.GetIdle("craft")
	require.NotNil(t, a)
	assert.Equal(t, "crafter_2", a.ID)

	// Offline agents are never dispatched to, even if nominally idle.
	clk.advance(3 * time.Minute)
	r.Heartbeat("worker_1", types.AgentKindWorker, "")
	assert.Nil(t, r.GetIdle("craft"))
	a = r.GetIdle("work")
	require.NotNil(t, a)
	assert.Equal(t, "worker_1", a.ID)
}

func TestGetIdleEmptyCapabilityMatchesAny(t *testing.T) {
	r, _ := newTestRegistry(t)
	r.Register("t1", types.AgentKindTurtle, "", nil)

	a := r.GetIdle("")
	require.NotNil(t, a)
	assert.Equal(t, "t1", a.ID)
	assert.Nil(t, r.GetIdle("craft"), "no capabilities means no named capability")
}

func TestUpdateStatusRefreshesHeartbeat(t *testing.T) {
	r, clk := newTestRegistry(t)
	r.Heartbeat("w1", types.AgentKindWorker, "")

	clk.advance(100 * time.Second)
	require.NoError(t, r.UpdateStatus("w1", types.AgentStatusIdle, 0, map[string]string{"fuel": "512"}))

	h, err := r.Health("w1")
	require.NoError(t, err)
	assert.Equal(t, types.HealthOnline, h)

	got, err := r.Get("w1")
	require.NoError(t, err)
	assert.Equal(t, "512", got.Stats["fuel"])

	assert.ErrorIs(t, r.UpdateStatus("ghost", types.AgentStatusIdle, 0, nil), ErrAgentNotFound)
}

func TestRemove(t *testing.T) {
	r, _ := newTestRegistry(t)
	r.Heartbeat("w1", types.AgentKindWorker, "")

	require.NoError(t, r.Remove("w1"))
	_, err := r.Get("w1")
	assert.ErrorIs(t, err, ErrAgentNotFound)
	assert.ErrorIs(t, r.Remove("w1"), ErrAgentNotFound)
}
