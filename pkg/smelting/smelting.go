package smelting

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/voxelforge/fabric/pkg/inventory"
	"github.com/voxelforge/fabric/pkg/recipe"
	"github.com/voxelforge/fabric/pkg/transfer"
	"github.com/voxelforge/fabric/pkg/types"
)

// Furnace slot layout: input on top, fuel below, output to the side.
const (
	SlotInput  = 1
	SlotFuel   = 2
	SlotOutput = 3

	// SlotCap is the per-slot stack capacity assumed when partitioning
	// work across furnaces.
	SlotCap = 64
)

// DefaultLowFuel is the fuel-slot count below which a furnace is
// refuelled.
const DefaultLowFuel = 8

// DemandSource supplies extra smelt demand beyond the configured
// targets; the planner notes smeltable items it cannot craft.
type DemandSource interface {
	TakeSmeltDemands() map[string]uint
}

// Orchestrator drives furnace-like containers: drain outputs, keep fuel
// topped up by priority, and partition pending inputs across furnaces.
type Orchestrator struct {
	idx     *inventory.Index
	xfer    *transfer.Engine
	recipes *recipe.Library
	log     zerolog.Logger

	targets []types.SmeltTarget
	demands DemandSource
	lowFuel uint

	// carried demand from the planner that could not be fully
	// partitioned yet
	backlog map[string]uint
}

// New creates an orchestrator. demands may be nil.
func New(idx *inventory.Index, xfer *transfer.Engine, recipes *recipe.Library, targets []types.SmeltTarget, demands DemandSource, logger zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		idx:     idx,
		xfer:    xfer,
		recipes: recipes,
		log:     logger.With().Str("component", "smelting").Logger(),
		targets: targets,
		demands: demands,
		lowFuel: DefaultLowFuel,
		backlog: make(map[string]uint),
	}
}

// Tick runs one furnace pass inside an index batch.
func (o *Orchestrator) Tick(ctx context.Context) {
	furnaces := o.idx.ContainersByRole(types.RoleFurnace)
	if len(furnaces) == 0 {
		return
	}

	o.idx.BeginBatch()
	defer o.idx.EndBatch()

	for _, f := range furnaces {
		o.drainOutput(ctx, f)
	}
	for _, f := range furnaces {
		o.refuel(ctx, f)
	}
	o.feedInputs(ctx, furnaces)
}

func (o *Orchestrator) drainOutput(ctx context.Context, furnace string) {
	stack, ok := o.idx.Slots(furnace)[SlotOutput]
	if !ok || stack.Count == 0 {
		return
	}
	moved := o.xfer.PullSlotToStorage(ctx, furnace, SlotOutput, stack.Key, stack.Count)
	if moved > 0 {
		o.log.Debug().Str("furnace", furnace).Str("item", stack.Key.String()).Uint64("moved", uint64(moved)).Msg("pulled smelted output")
	}
}

// refuel tops the fuel slot up to capacity. A slot already holding fuel
// is only topped up with the same item; fuel types are never mixed.
func (o *Orchestrator) refuel(ctx context.Context, furnace string) {
	stack, has := o.idx.Slots(furnace)[SlotFuel]
	if has && stack.Count >= o.lowFuel {
		return
	}

	var fuel types.ItemKey
	var room uint = SlotCap
	if has && stack.Count > 0 {
		fuel = stack.Key
		room = SlotCap - stack.Count
	} else {
		for _, f := range o.recipes.Fuels() {
			if o.storageStock(f.Item) > 0 {
				fuel = types.ItemKey{BaseID: f.Item}
				break
			}
		}
	}
	if fuel.IsZero() || room == 0 {
		return
	}

	moved, err := o.xfer.Withdraw(ctx, fuel, room, furnace, SlotFuel)
	if err != nil && !errors.Is(err, transfer.ErrInsufficientStock) {
		o.log.Warn().Err(err).Str("furnace", furnace).Msg("refuel failed")
		return
	}
	if moved > 0 {
		o.log.Debug().Str("furnace", furnace).Str("fuel", fuel.String()).Uint64("moved", uint64(moved)).Msg("refuelled")
	}
}

// feedInputs computes the deficit of each smelted output against its
// target, then partitions the matching input across furnace input
// slots.
func (o *Orchestrator) feedInputs(ctx context.Context, furnaces []string) {
	deficits := make(map[string]uint)
	for _, t := range o.targets {
		have := o.totalStock(t.Output)
		if have < t.Qty {
			deficits[t.Output] += t.Qty - have
		}
	}
	if o.demands != nil {
		for item, qty := range o.demands.TakeSmeltDemands() {
			o.backlog[item] += qty
		}
	}
	for item, qty := range o.backlog {
		deficits[item] += qty
	}

	for output, deficit := range deficits {
		input, ok := o.recipes.SmeltInput(output)
		if !ok {
			o.log.Debug().Str("output", output).Msg("no smelt mapping, skipping")
			delete(o.backlog, output)
			continue
		}
		available := o.storageStock(input)
		work := deficit
		if work > available {
			work = available
		}
		if work == 0 {
			continue
		}

		var fed uint
		for _, f := range furnaces {
			if work == 0 {
				break
			}
			room := o.inputRoom(f, input)
			if room == 0 {
				continue
			}
			n := work
			if n > room {
				n = room
			}
			moved, err := o.xfer.WithdrawMatching(ctx, input, types.NBTAny, "", n, f, SlotInput)
			if err != nil && !errors.Is(err, transfer.ErrInsufficientStock) {
				o.log.Warn().Err(err).Str("furnace", f).Str("input", input).Msg("input push failed")
				continue
			}
			work -= moved
			fed += moved
		}
		if fed > 0 {
			o.log.Info().Str("output", output).Str("input", input).Uint64("fed", uint64(fed)).Msg("scheduled smelting")
		}
		if o.backlog[output] > 0 {
			if fed >= o.backlog[output] {
				delete(o.backlog, output)
			} else {
				o.backlog[output] -= fed
			}
		}
	}
}

// inputRoom is how many more of the given input the furnace's input
// slot can take. A slot holding a different item blocks the furnace.
func (o *Orchestrator) inputRoom(furnace, input string) uint {
	stack, ok := o.idx.Slots(furnace)[SlotInput]
	if !ok || stack.Count == 0 {
		return SlotCap
	}
	if stack.Key.BaseID != input {
		return 0
	}
	if stack.Count >= SlotCap {
		return 0
	}
	return SlotCap - stack.Count
}

// storageStock sums storage-role stock of a base id.
func (o *Orchestrator) storageStock(baseID string) uint {
	var total uint
	for _, loc := range o.idx.FindByBaseID(baseID, true) {
		total += loc.Count
	}
	return total
}

// totalStock sums stock of a base id across every NBT variant.
func (o *Orchestrator) totalStock(baseID string) uint {
	var total uint
	for _, key := range o.idx.KeysForBase(baseID) {
		total += o.idx.GetStock(key)
	}
	return total
}
