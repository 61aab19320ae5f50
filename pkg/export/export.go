package export

import (
	"context"
	"errors"
	"sort"

	"github.com/rs/zerolog"

	"github.com/voxelforge/fabric/pkg/driver"
	"github.com/voxelforge/fabric/pkg/inventory"
	"github.com/voxelforge/fabric/pkg/metrics"
	"github.com/voxelforge/fabric/pkg/transfer"
	"github.com/voxelforge/fabric/pkg/types"
)

// Engine walks the declarative per-container export policy each tick
// and turns it into transfer plans. It only ever pushes into containers
// named by a configured target; ambient containers discovered on the
// fabric are never written to.
type Engine struct {
	idx     *inventory.Index
	xfer    *transfer.Engine
	log     zerolog.Logger
	targets []types.ExportTarget
}

// New creates an export engine and registers every target container
// with the transfer engine's push guard.
func New(idx *inventory.Index, xfer *transfer.Engine, targets []types.ExportTarget, logger zerolog.Logger) *Engine {
	for _, t := range targets {
		xfer.RegisterExportTarget(t.Container)
	}
	return &Engine{
		idx:     idx,
		xfer:    xfer,
		log:     logger.With().Str("component", "export").Logger(),
		targets: targets,
	}
}

// Targets returns the configured policy.
func (e *Engine) Targets() []types.ExportTarget {
	return e.targets
}

// Tick enforces the policy once. Transfers run inside an index batch so
// only the cheap stock-delta path runs per move.
func (e *Engine) Tick(ctx context.Context) {
	timer := metrics.NewTimer()
	e.idx.BeginBatch()
	defer e.idx.EndBatch()
	defer timer.ObserveDuration(metrics.ExportTickDuration)

	for _, t := range e.targets {
		if err := e.enforce(ctx, t); err != nil {
			e.log.Warn().Err(err).Str("container", t.Container).Msg("export target tick failed")
		}
	}
}

func (e *Engine) enforce(ctx context.Context, t types.ExportTarget) error {
	slots := e.idx.Slots(t.Container)
	if slots == nil {
		if err := e.idx.RescanContainer(ctx, t.Container); err != nil {
			return err
		}
		slots = e.idx.Slots(t.Container)
		if slots == nil {
			e.log.Debug().Str("container", t.Container).Msg("export target not on the fabric, skipping")
			return nil
		}
	}

	if t.Mode == types.ExportModeEmpty && len(t.Slots) == 0 {
		moved, err := e.xfer.Deposit(ctx, t.Container, nil)
		if moved > 0 {
			e.log.Info().Str("container", t.Container).Uint64("moved", uint64(moved)).Msg("drained export buffer")
		}
		return err
	}

	for _, spec := range t.Slots {
		if spec.Vacuum {
			e.vacuum(ctx, t, spec)
		}
		if spec.Wildcard() {
			continue
		}
		switch t.Mode {
		case types.ExportModeStock:
			e.stock(ctx, t, spec)
		case types.ExportModeEmpty:
			e.drain(ctx, t, spec)
		}
	}
	return nil
}

// vacuum pulls non-matching items out of the spec's slot range. A
// wildcard vacuum with no range clears every slot not claimed by a
// sibling spec, so declared stock slots survive the sweep.
func (e *Engine) vacuum(ctx context.Context, t types.ExportTarget, spec types.SlotSpec) {
	lo, hi := spec.Range()
	for _, slot := range sortedSlots(e.idx.Slots(t.Container)) {
		if lo > 0 && (slot < lo || slot > hi) {
			continue
		}
		stack, ok := e.idx.Slots(t.Container)[slot]
		if !ok || stack.Count == 0 {
			continue
		}
		if spec.Wildcard() {
			if claimedBySibling(t, spec, slot, stack.Key) {
				continue
			}
		} else if inventory.MatchesSpec(stack.Key, spec) {
			continue
		}
		moved := e.xfer.PullSlotToStorage(ctx, t.Container, slot, stack.Key, stack.Count)
		if moved < stack.Count {
			e.log.Debug().Str("container", t.Container).Int("slot", slot).Uint64("left", uint64(stack.Count-moved)).Msg("vacuum incomplete, storage full or unavailable")
		}
	}
}

// stock tops the spec's range up to qty with matching items from
// storage.
func (e *Engine) stock(ctx context.Context, t types.ExportTarget, spec types.SlotSpec) {
	current := e.matchingCount(t.Container, spec)
	if current >= spec.Qty {
		return
	}
	want := spec.Qty - current
	moved, err := e.xfer.WithdrawMatching(ctx, spec.Item, spec.NBTMode, spec.NBTHash, want, t.Container, spec.Slot)
	if err != nil && !errors.Is(err, transfer.ErrInsufficientStock) {
		e.log.Warn().Err(err).Str("container", t.Container).Str("item", spec.Item).Msg("stock fill failed")
		return
	}
	if moved > 0 {
		e.log.Debug().Str("container", t.Container).Str("item", spec.Item).Uint64("moved", uint64(moved)).Msg("stocked export slot")
	}
}

// drain pulls matching items beyond qty out of the spec's range into
// storage. Qty zero empties the range.
func (e *Engine) drain(ctx context.Context, t types.ExportTarget, spec types.SlotSpec) {
	current := e.matchingCount(t.Container, spec)
	if current == 0 || current <= spec.Qty {
		return
	}
	excess := current - spec.Qty

	lo, hi := spec.Range()
	type cand struct {
		slot  int
		stack driver.Stack
	}
	var cands []cand
	for slot, stack := range e.idx.Slots(t.Container) {
		if lo > 0 && (slot < lo || slot > hi) {
			continue
		}
		if stack.Count == 0 || !inventory.MatchesSpec(stack.Key, spec) {
			continue
		}
		cands = append(cands, cand{slot, stack})
	}
	sort.Slice(cands, func(i, j int) bool {
		if cands[i].stack.Count != cands[j].stack.Count {
			return cands[i].stack.Count > cands[j].stack.Count
		}
		return cands[i].slot < cands[j].slot
	})

	for _, c := range cands {
		if excess == 0 {
			return
		}
		n := c.stack.Count
		if n > excess {
			n = excess
		}
		moved := e.xfer.PullSlotToStorage(ctx, t.Container, c.slot, c.stack.Key, n)
		excess -= moved
		if moved < n {
			e.log.Debug().Str("container", t.Container).Int("slot", c.slot).Msg("drain incomplete")
		}
	}
}

// matchingCount measures the items in the spec's range that satisfy its
// predicate.
func (e *Engine) matchingCount(container string, spec types.SlotSpec) uint {
	lo, hi := spec.Range()
	var total uint
	for slot, stack := range e.idx.Slots(container) {
		if lo > 0 && (slot < lo || slot > hi) {
			continue
		}
		if inventory.MatchesSpec(stack.Key, spec) {
			total += stack.Count
		}
	}
	return total
}

// claimedBySibling reports whether another spec of the same target
// covers this slot and matches its content.
func claimedBySibling(t types.ExportTarget, self types.SlotSpec, slot int, key types.ItemKey) bool {
	for _, other := range t.Slots {
		if other == self || other.Wildcard() {
			continue
		}
		lo, hi := other.Range()
		if lo > 0 && (slot < lo || slot > hi) {
			continue
		}
		if inventory.MatchesSpec(key, other) {
			return true
		}
	}
	return false
}

func sortedSlots(slots map[int]driver.Stack) []int {
	out := make([]int, 0, len(slots))
	for s := range slots {
		out = append(out, s)
	}
	sort.Ints(out)
	return out
}
