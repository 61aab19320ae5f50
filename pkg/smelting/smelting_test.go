package smelting

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voxelforge/fabric/pkg/driver"
	"github.com/voxelforge/fabric/pkg/inventory"
	"github.com/voxelforge/fabric/pkg/recipe"
	"github.com/voxelforge/fabric/pkg/transfer"
	"github.com/voxelforge/fabric/pkg/types"
)

var (
	rawIron  = types.ItemKey{BaseID: "minecraft:raw_iron"}
	ironBar  = types.ItemKey{BaseID: "minecraft:iron_ingot"}
	coal     = types.ItemKey{BaseID: "minecraft:coal"}
	blazeRod = types.ItemKey{BaseID: "minecraft:blaze_rod"}
)

func smeltLibrary() *recipe.Library {
	lib := recipe.NewLibrary()
	lib.AddSmelt("minecraft:raw_iron", "minecraft:iron_ingot")
	lib.AddFuel("minecraft:coal", 8)
	lib.AddFuel("minecraft:blaze_rod", 12)
	return lib
}

type fixture struct {
	orch *Orchestrator
	idx  *inventory.Index
	sim  *driver.SimDriver
}

type fakeDemands struct {
	demands map[string]uint
}

func (f *fakeDemands) TakeSmeltDemands() map[string]uint {
	out := f.demands
	f.demands = nil
	return out
}

func newFixture(t *testing.T, targets []types.SmeltTarget, demands DemandSource) *fixture {
	t.Helper()
	sim := driver.NewSimDriver()
	sim.AddContainer("chest", 27, types.RoleStorage)
	sim.AddContainer("furnace_1", 3, types.RoleFurnace)
	idx := inventory.New(sim, zerolog.Nop())
	xfer := transfer.New(sim, idx, zerolog.Nop())
	orch := New(idx, xfer, smeltLibrary(), targets, demands, zerolog.Nop())
	return &fixture{orch: orch, idx: idx, sim: sim}
}

func (f *fixture) scan(t *testing.T) {
	t.Helper()
	_, err := f.idx.Scan(context.Background(), true)
	require.NoError(t, err)
}

func TestTickDrainsOutput(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.sim.SetSlot("furnace_1", SlotOutput, ironBar, 20)
	f.scan(t)

	f.orch.Tick(context.Background())

	assert.Equal(t, uint(0), f.sim.Count("furnace_1", ironBar))
	assert.Equal(t, uint(20), f.sim.Count("chest", ironBar))
	assert.Equal(t, uint(20), f.idx.GetStock(ironBar), "drained output lands in stock")
}

func TestRefuelUsesPriorityOrder(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.sim.SetSlot("chest", 1, coal, 30)
	f.sim.SetSlot("chest", 2, blazeRod, 10)
	f.scan(t)

	f.orch.Tick(context.Background())

	// Coal is listed first, so an empty fuel slot takes coal even though
	// blaze rods burn longer.
	fuel := f.sim.Count("furnace_1", coal)
	assert.Equal(t, uint(30), fuel, "fills toward capacity from what stock has")
	assert.Equal(t, uint(0), f.sim.Count("furnace_1", blazeRod))
}

func TestRefuelNeverMixesFuelTypes(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.sim.SetSlot("furnace_1", SlotFuel, blazeRod, 3)
	f.sim.SetSlot("chest", 1, coal, 30)
	f.sim.SetSlot("chest", 2, blazeRod, 5)
	f.scan(t)

	f.orch.Tick(context.Background())

	// The slot already holds blaze rods; only blaze rods are added.
	assert.Equal(t, uint(8), f.sim.Count("furnace_1", blazeRod))
	assert.Equal(t, uint(0), f.sim.Count("furnace_1", coal))
}

func TestRefuelSkipsWhenAboveLowWater(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.sim.SetSlot("furnace_1", SlotFuel, coal, DefaultLowFuel)
	f.sim.SetSlot("chest", 1, coal, 30)
	f.scan(t)

	f.orch.Tick(context.Background())

	assert.Equal(t, uint(DefaultLowFuel), f.sim.Count("furnace_1", coal))
}

func TestFeedInputsFromTargetDeficit(t *testing.T) {
	f := newFixture(t, []types.SmeltTarget{{Output: "minecraft:iron_ingot", Qty: 32}}, nil)
	f.sim.SetSlot("chest", 1, ironBar, 10)
	f.sim.SetSlot("chest", 2, rawIron, 50)
	f.scan(t)

	f.orch.Tick(context.Background())

	// Deficit is 22; raw iron is abundant, so exactly 22 are fed.
	assert.Equal(t, uint(22), f.sim.Count("furnace_1", rawIron))
	assert.Equal(t, uint(28), f.sim.Count("chest", rawIron))
}

func TestFeedInputsCappedByAvailableInput(t *testing.T) {
	f := newFixture(t, []types.SmeltTarget{{Output: "minecraft:iron_ingot", Qty: 64}}, nil)
	f.sim.SetSlot("chest", 2, rawIron, 5)
	f.scan(t)

	f.orch.Tick(context.Background())

	assert.Equal(t, uint(5), f.sim.Count("furnace_1", rawIron))
}

func TestFeedInputsPartitionsAcrossFurnaces(t *testing.T) {
	f := newFixture(t, []types.SmeltTarget{{Output: "minecraft:iron_ingot", Qty: 100}}, nil)
	f.sim.AddContainer("furnace_2", 3, types.RoleFurnace)
	f.sim.SetSlot("chest", 2, rawIron, 100)
	f.scan(t)

	f.orch.Tick(context.Background())

	// One furnace takes a full input stack, the next takes the rest.
	first := f.sim.Count("furnace_1", rawIron)
	second := f.sim.Count("furnace_2", rawIron)
	assert.Equal(t, uint(100), first+second)
	assert.LessOrEqual(t, first, uint(SlotCap))
	assert.LessOrEqual(t, second, uint(SlotCap))
}

func TestInputSlotHoldingOtherItemBlocksFurnace(t *testing.T) {
	f := newFixture(t, []types.SmeltTarget{{Output: "minecraft:iron_ingot", Qty: 32}}, nil)
	f.sim.SetSlot("furnace_1", SlotInput, coal, 4)
	f.sim.SetSlot("chest", 2, rawIron, 50)
	f.scan(t)

	f.orch.Tick(context.Background())

	assert.Equal(t, uint(4), f.sim.Count("furnace_1", coal), "foreign input left alone")
	assert.Equal(t, uint(0), f.sim.Count("furnace_1", rawIron))
}

func TestPlannerDemandsCarryAsBacklog(t *testing.T) {
	demands := &fakeDemands{demands: map[string]uint{"minecraft:iron_ingot": 10}}
	f := newFixture(t, nil, demands)
	f.sim.SetSlot("chest", 2, rawIron, 4)
	f.scan(t)

	f.orch.Tick(context.Background())
	assert.Equal(t, uint(4), f.sim.Count("furnace_1", rawIron), "feeds what input exists")

	// More raw iron arrives; the unfed remainder was carried over even
	// though the demand source drained on the first tick.
	f.sim.SetSlot("chest", 3, rawIron, 20)
	f.scan(t)
	f.orch.Tick(context.Background())

	assert.Equal(t, uint(10), f.sim.Count("furnace_1", rawIron))
}

func TestNoFurnacesIsANoOp(t *testing.T) {
	sim := driver.NewSimDriver()
	sim.AddContainer("chest", 27, types.RoleStorage)
	idx := inventory.New(sim, zerolog.Nop())
	xfer := transfer.New(sim, idx, zerolog.Nop())
	orch := New(idx, xfer, smeltLibrary(), nil, nil, zerolog.Nop())

	orch.Tick(context.Background())
}
