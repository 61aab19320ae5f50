package transfer

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voxelforge/fabric/pkg/driver"
	"github.com/voxelforge/fabric/pkg/inventory"
	"github.com/voxelforge/fabric/pkg/types"
)

var coal = types.ItemKey{BaseID: "minecraft:coal"}

func newTestEngine(t *testing.T) (*Engine, *inventory.Index, *driver.SimDriver) {
	t.Helper()
	sim := driver.NewSimDriver()
	sim.AddContainer("chestA", 27, types.RoleStorage)
	sim.AddContainer("chestB", 27, types.RoleStorage)
	sim.AddContainer("buffer", 9, types.RoleExportBuffer)
	sim.SetSlot("chestA", 3, coal, 30)
	sim.SetSlot("chestB", 7, coal, 50)

	idx := inventory.New(sim, zerolog.Nop())
	_, err := idx.Scan(context.Background(), true)
	require.NoError(t, err)
	return New(sim, idx, zerolog.Nop()), idx, sim
}

func TestBuildPlanLaws(t *testing.T) {
	e, idx, _ := newTestEngine(t)
	sources := idx.FindItem(coal, true)

	for _, n := range []uint{1, 30, 64, 80, 200} {
		tasks := e.BuildPlan(sources, "buffer", 0, n)
		var planned uint
		seen := make(map[[2]any]bool)
		for _, task := range tasks {
			planned += task.Want
			assert.LessOrEqual(t, task.Want, uint(50), "no task exceeds its source stack")
			key := [2]any{task.Src, task.SrcSlot}
			assert.False(t, seen[key], "one task per source slot")
			seen[key] = true
		}
		assert.LessOrEqual(t, planned, n, "plan never overshoots the quota")
		if n <= 80 {
			assert.Equal(t, n, planned, "plan covers the quota when stock suffices")
		}
	}
}

func TestBuildPlanSkipsDestination(t *testing.T) {
	e, idx, _ := newTestEngine(t)
	sources := idx.FindItem(coal, true)
	tasks := e.BuildPlan(sources, "chestB", 0, 80)
	for _, task := range tasks {
		assert.NotEqual(t, "chestB", task.Src)
	}
}

func TestWithdrawMovesLargestStackFirst(t *testing.T) {
	e, idx, sim := newTestEngine(t)
	e.RegisterExportTarget("buffer")

	moved, err := e.Withdraw(context.Background(), coal, 64, "buffer", 1)
	require.NoError(t, err)
	assert.Equal(t, uint(64), moved)
	assert.Equal(t, uint(64), sim.Count("buffer", coal))
	assert.Equal(t, uint(16), idx.GetStock(coal))

	// chestB held the larger stack so it was consumed first.
	locs := idx.FindItem(coal, true)
	require.Len(t, locs, 1)
	assert.Equal(t, "chestA", locs[0].Container)
	assert.Equal(t, uint(16), locs[0].Count)
}

func TestWithdrawInsufficientStock(t *testing.T) {
	e, _, sim := newTestEngine(t)
	e.RegisterExportTarget("buffer")

	moved, err := e.Withdraw(context.Background(), coal, 100, "buffer", 0)
	assert.ErrorIs(t, err, ErrInsufficientStock)
	assert.Equal(t, uint(80), moved, "partial amount is still moved")
	assert.Equal(t, uint(80), sim.Count("buffer", coal))
}

func TestExecuteRefusesUnregisteredExportTarget(t *testing.T) {
	e, _, sim := newTestEngine(t)

	moved, err := e.Withdraw(context.Background(), coal, 10, "buffer", 0)
	assert.ErrorIs(t, err, ErrDestinationNotAllowed)
	assert.Zero(t, moved)
	assert.Zero(t, sim.Count("buffer", coal), "nothing leaks into unconfigured buffers")
}

func TestUnavailableSourceYieldsZeroAndMarksStale(t *testing.T) {
	e, idx, sim := newTestEngine(t)
	e.RegisterExportTarget("buffer")
	sim.SetUnavailable("chestB", true)

	moved, err := e.Withdraw(context.Background(), coal, 80, "buffer", 0)
	assert.ErrorIs(t, err, ErrInsufficientStock)
	assert.Equal(t, uint(30), moved, "the reachable source still contributes")
	assert.True(t, idx.IsStale("chestB"))
}

func TestPullSlotToStorage(t *testing.T) {
	e, idx, sim := newTestEngine(t)
	sim.SetSlot("buffer", 2, coal, 25)
	_, err := idx.Scan(context.Background(), true)
	require.NoError(t, err)

	moved := e.PullSlotToStorage(context.Background(), "buffer", 2, coal, 25)
	assert.Equal(t, uint(25), moved)
	assert.Zero(t, sim.Count("buffer", coal))
	assert.Equal(t, uint(105), idx.GetStock(coal))
}

func TestDepositWithKeyFilter(t *testing.T) {
	e, idx, sim := newTestEngine(t)
	dirt := types.ItemKey{BaseID: "minecraft:dirt"}
	sim.SetSlot("buffer", 1, coal, 10)
	sim.SetSlot("buffer", 2, dirt, 5)
	_, err := idx.Scan(context.Background(), true)
	require.NoError(t, err)

	moved, err := e.Deposit(context.Background(), "buffer", &coal)
	require.NoError(t, err)
	assert.Equal(t, uint(10), moved)
	assert.Equal(t, uint(5), sim.Count("buffer", dirt), "filtered slots stay put")
}

func TestDepositDrainsEverything(t *testing.T) {
	e, idx, sim := newTestEngine(t)
	dirt := types.ItemKey{BaseID: "minecraft:dirt"}
	sim.SetSlot("buffer", 1, coal, 10)
	sim.SetSlot("buffer", 2, dirt, 5)
	_, err := idx.Scan(context.Background(), true)
	require.NoError(t, err)

	moved, err := e.Deposit(context.Background(), "buffer", nil)
	require.NoError(t, err)
	assert.Equal(t, uint(15), moved)
	assert.Zero(t, sim.Count("buffer", coal))
	assert.Zero(t, sim.Count("buffer", dirt))
}
