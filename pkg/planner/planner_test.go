package planner

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voxelforge/fabric/pkg/queue"
	"github.com/voxelforge/fabric/pkg/recipe"
	"github.com/voxelforge/fabric/pkg/storage"
	"github.com/voxelforge/fabric/pkg/types"
)

func craftLibrary(t *testing.T) *recipe.Library {
	t.Helper()
	lib := recipe.NewLibrary()
	require.NoError(t, lib.AddRecipe(recipe.Recipe{
		Output: "minecraft:oak_planks",
		Count:  4,
		Inputs: map[string]uint{"minecraft:oak_log": 1},
	}))
	require.NoError(t, lib.AddRecipe(recipe.Recipe{
		Output: "minecraft:crafting_table",
		Count:  1,
		Inputs: map[string]uint{"minecraft:oak_planks": 4},
	}))
	lib.AddSmelt("minecraft:raw_iron", "minecraft:iron_ingot")
	return lib
}

func newTestPlanner(t *testing.T, lib *recipe.Library) (*Planner, *queue.Queue) {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	q, err := queue.New(store, lib, nil, zerolog.Nop())
	require.NoError(t, err)
	return New(q, lib, zerolog.Nop()), q
}

func stock(pairs map[string]uint) map[types.ItemKey]uint {
	out := make(map[types.ItemKey]uint, len(pairs))
	for base, n := range pairs {
		out[types.ItemKey{BaseID: base}] = n
	}
	return out
}

func request(item string, qty uint) *types.Request {
	return &types.Request{
		ID:   "req_1",
		Item: types.ItemKey{BaseID: item},
		Qty:  qty,
	}
}

func TestPlanDirectFromStock(t *testing.T) {
	p, _ := newTestPlanner(t, craftLibrary(t))

	ids, err := p.Plan(request("minecraft:oak_planks", 4), stock(map[string]uint{
		"minecraft:oak_planks": 8,
	}))
	require.NoError(t, err)
	assert.Empty(t, ids, "already in stock, nothing to craft")
}

func TestPlanRecursesIntoMissingInputs(t *testing.T) {
	p, q := newTestPlanner(t, craftLibrary(t))

	// One log in stock, no planks: the table needs a planks job first,
	// and the planks job's projected output feeds the table job.
	ids, err := p.Plan(request("minecraft:crafting_table", 1), stock(map[string]uint{
		"minecraft:oak_log": 1,
	}))
	require.NoError(t, err)
	require.Len(t, ids, 2)

	planksJob, err := q.Get(ids[0])
	require.NoError(t, err)
	assert.Equal(t, "minecraft:oak_planks", planksJob.Output.BaseID)
	assert.Equal(t, uint(4), planksJob.Qty)
	assert.Equal(t, uint(1), planksJob.Materials["minecraft:oak_log"])

	tableJob, err := q.Get(ids[1])
	require.NoError(t, err)
	assert.Equal(t, "minecraft:crafting_table", tableJob.Output.BaseID)
	assert.Equal(t, uint(4), tableJob.Materials["minecraft:oak_planks"])
	assert.Equal(t, "req_1", tableJob.RequestID)
}

func TestPlanIsIdempotentForActiveJobs(t *testing.T) {
	p, _ := newTestPlanner(t, craftLibrary(t))

	req := request("minecraft:crafting_table", 1)
	first, err := p.Plan(req, stock(map[string]uint{"minecraft:oak_log": 1}))
	require.NoError(t, err)
	require.Len(t, first, 2)
	req.JobIDs = first

	// Replanning while those jobs are still live queues nothing new.
	again, err := p.CheckAndQueueMore(req, stock(map[string]uint{"minecraft:oak_log": 1}))
	require.NoError(t, err)
	assert.Empty(t, again)
}

func TestPlanDefersWhenInputsCannotBeCrafted(t *testing.T) {
	lib := recipe.NewLibrary()
	require.NoError(t, lib.AddRecipe(recipe.Recipe{
		Output: "minecraft:piston",
		Count:  1,
		Inputs: map[string]uint{"minecraft:iron_ingot": 1, "minecraft:cobblestone": 4},
	}))
	lib.AddSmelt("minecraft:raw_iron", "minecraft:iron_ingot")
	p, q := newTestPlanner(t, lib)

	// Iron is smeltable, not craftable: its demand is noted and the
	// piston job deferred until the ingots land in stock.
	ids, err := p.Plan(request("minecraft:piston", 1), stock(map[string]uint{
		"minecraft:cobblestone": 4,
	}))
	require.NoError(t, err)
	assert.Empty(t, ids)
	assert.Empty(t, q.Active())

	demands := p.TakeSmeltDemands()
	assert.Equal(t, uint(1), demands["minecraft:iron_ingot"])
	assert.Empty(t, p.TakeSmeltDemands(), "demands drain once")
}

func TestPlanNoRecipeFails(t *testing.T) {
	p, _ := newTestPlanner(t, craftLibrary(t))

	_, err := p.Plan(request("minecraft:bedrock", 1), nil)
	assert.ErrorIs(t, err, queue.ErrNoRecipe)
}

func TestPlanCycleDetected(t *testing.T) {
	lib := recipe.NewLibrary()
	require.NoError(t, lib.AddRecipe(recipe.Recipe{
		Output: "a", Count: 1, Inputs: map[string]uint{"b": 1},
	}))
	require.NoError(t, lib.AddRecipe(recipe.Recipe{
		Output: "b", Count: 1, Inputs: map[string]uint{"a": 1},
	}))
	p, q := newTestPlanner(t, lib)

	_, err := p.Plan(request("a", 1), nil)
	assert.ErrorIs(t, err, ErrCycleDetected)
	assert.Empty(t, q.Active(), "nothing queued on a failed plan")
}

func TestPlanSiblingsMayShareAnItem(t *testing.T) {
	lib := recipe.NewLibrary()
	require.NoError(t, lib.AddRecipe(recipe.Recipe{
		Output: "minecraft:stick",
		Count:  4,
		Inputs: map[string]uint{"minecraft:oak_planks": 2},
	}))
	require.NoError(t, lib.AddRecipe(recipe.Recipe{
		Output: "minecraft:oak_planks",
		Count:  4,
		Inputs: map[string]uint{"minecraft:oak_log": 1},
	}))
	require.NoError(t, lib.AddRecipe(recipe.Recipe{
		Output: "minecraft:ladder",
		Count:  3,
		Inputs: map[string]uint{"minecraft:stick": 7, "minecraft:oak_planks": 1},
	}))
	p, _ := newTestPlanner(t, lib)

	// Planks appear both as a direct input and under sticks. The visited
	// set only guards a single branch, so this is not a cycle.
	ids, err := p.Plan(request("minecraft:ladder", 3), stock(map[string]uint{
		"minecraft:oak_log": 4,
	}))
	require.NoError(t, err)
	assert.NotEmpty(t, ids)
}

func TestPlanMaxDepth(t *testing.T) {
	lib := recipe.NewLibrary()
	// A strictly deeper chain than the guard allows.
	items := make([]string, DefaultMaxDepth+3)
	for i := range items {
		items[i] = string(rune('a' + i))
	}
	for i := 0; i < len(items)-1; i++ {
		require.NoError(t, lib.AddRecipe(recipe.Recipe{
			Output: items[i],
			Count:  1,
			Inputs: map[string]uint{items[i+1]: 1},
		}))
	}
	p, _ := newTestPlanner(t, lib)

	_, err := p.Plan(request(items[0], 1), nil)
	assert.ErrorIs(t, err, ErrMaxDepthExceeded)
}
