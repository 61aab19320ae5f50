package transfer

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/voxelforge/fabric/pkg/driver"
	"github.com/voxelforge/fabric/pkg/inventory"
	"github.com/voxelforge/fabric/pkg/metrics"
	"github.com/voxelforge/fabric/pkg/types"
)

// DefaultBatchWidth bounds how many transfer tasks run concurrently.
const DefaultBatchWidth = 8

// DefaultPullAlternatives is how many storage candidates a pull with an
// unknown destination slot tries per source slot.
const DefaultPullAlternatives = 4

// ErrInsufficientStock reports that fewer items than requested were
// available; the partial amount may still be nonzero.
var ErrInsufficientStock = errors.New("insufficient stock")

// ErrDestinationNotAllowed reports a push to a buffer container that is
// not a configured export target.
var ErrDestinationNotAllowed = errors.New("destination is not a configured export target")

// Task is one planned push: move Want items of Key from
// (Src, SrcSlot) to (Dest, DestSlot). DestSlot zero lets the runtime
// pick slots.
type Task struct {
	Src      string
	SrcSlot  int
	Dest     string
	DestSlot int
	Key      types.ItemKey
	Want     uint
}

// Result summarises an executed plan.
type Result struct {
	Moved     uint
	PerSource map[string]uint
}

// Engine executes batched parallel transfer plans against the driver
// and feeds the resulting deltas back into the index. It never moves
// more than planned: the n passed to Push is the per-task cap, and the
// driver's return value is the authoritative transferred amount.
type Engine struct {
	drv        driver.Driver
	idx        *inventory.Index
	log        zerolog.Logger
	batchWidth int

	mu      sync.RWMutex
	exports map[string]bool
}

// New creates a transfer engine over the driver and index.
func New(drv driver.Driver, idx *inventory.Index, logger zerolog.Logger) *Engine {
	return &Engine{
		drv:        drv,
		idx:        idx,
		log:        logger.With().Str("component", "transfer").Logger(),
		batchWidth: DefaultBatchWidth,
		exports:    make(map[string]bool),
	}
}

// RegisterExportTarget allows pushes into the named buffer container.
// Pushing to an export-buffer that was never registered is refused,
// which keeps items out of ambient containers discovered on the fabric.
func (e *Engine) RegisterExportTarget(name string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.exports[name] = true
}

func (e *Engine) exportAllowed(name string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.exports[name]
}

// BuildPlan greedily allocates from the sorted source list until n is
// exhausted, producing tasks with Σ want ≤ n. Sources are consumed in
// the order given; the index returns them largest stack first so fewer
// transfers are needed.
func (e *Engine) BuildPlan(sources []inventory.Location, dest string, destSlot int, n uint) []Task {
	var tasks []Task
	remaining := n
	for _, src := range sources {
		if remaining == 0 {
			break
		}
		if src.Container == dest || src.Count == 0 {
			continue
		}
		want := src.Count
		if want > remaining {
			want = remaining
		}
		tasks = append(tasks, Task{
			Src:      src.Container,
			SrcSlot:  src.Slot,
			Dest:     dest,
			DestSlot: destSlot,
			Key:      src.Key,
			Want:     want,
		})
		remaining -= want
	}
	return tasks
}

// Execute runs the plan in parallel batches of bounded width. Tasks
// targeting one specific destination slot serialise on that slot. Each
// completed task emits a delta to the index in completion order; the
// key recorded is the source slot's key so NBT-variant accounting is
// exact. A task failing with unavailable or blocked yields zero and is
// not retried; the caller's next tick works from fresh state.
func (e *Engine) Execute(ctx context.Context, tasks []Task) (Result, error) {
	res := Result{PerSource: make(map[string]uint)}
	if len(tasks) == 0 {
		return res, nil
	}

	if role, ok := e.idx.Role(tasks[0].Dest); ok && role == types.RoleExportBuffer {
		if !e.exportAllowed(tasks[0].Dest) {
			return res, ErrDestinationNotAllowed
		}
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	width := e.batchWidth
	if tasks[0].DestSlot > 0 {
		// Peripheral semantics: one in-flight op per destination slot.
		width = 1
	}
	g.SetLimit(width)

	for _, t := range tasks {
		t := t
		g.Go(func() error {
			moved := e.runTask(gctx, t)
			if moved > 0 {
				mu.Lock()
				res.Moved += moved
				res.PerSource[t.Src] += moved
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return res, err
	}
	return res, nil
}

func (e *Engine) runTask(ctx context.Context, t Task) uint {
	moved, err := e.drv.Push(ctx, t.Src, t.SrcSlot, t.Want, t.Dest, t.DestSlot)
	switch {
	case errors.Is(err, driver.ErrUnavailable):
		metrics.TransfersTotal.WithLabelValues("unavailable").Inc()
		e.log.Debug().Str("src", t.Src).Int("slot", t.SrcSlot).Msg("push skipped, container unavailable")
		e.idx.SetStale(t.Src)
		return 0
	case errors.Is(err, driver.ErrBlocked):
		metrics.TransfersTotal.WithLabelValues("blocked").Inc()
		e.log.Debug().Str("dest", t.Dest).Int("slot", t.DestSlot).Msg("push skipped, target blocked")
		return 0
	case err != nil:
		metrics.TransfersTotal.WithLabelValues("error").Inc()
		e.log.Warn().Err(err).Str("src", t.Src).Msg("push failed")
		return 0
	}
	if moved == 0 {
		metrics.TransfersTotal.WithLabelValues("empty").Inc()
		return 0
	}
	metrics.TransfersTotal.WithLabelValues("ok").Inc()
	metrics.ItemsMoved.Add(float64(moved))
	e.idx.RecordTransfer(t.Src, t.SrcSlot, t.Dest, t.DestSlot, t.Key, moved)
	return moved
}

// Withdraw moves up to n items of the exact key from storage into the
// destination container. Returns the amount moved together with
// ErrInsufficientStock when it falls short.
func (e *Engine) Withdraw(ctx context.Context, key types.ItemKey, n uint, dest string, destSlot int) (uint, error) {
	sources := e.idx.FindItem(key, true)
	return e.moveFrom(ctx, sources, dest, destSlot, n)
}

// WithdrawMatching moves up to n items matching (item, mode, hash) from
// storage into the destination container.
func (e *Engine) WithdrawMatching(ctx context.Context, item string, mode types.NBTMode, hash string, n uint, dest string, destSlot int) (uint, error) {
	var sources []inventory.Location
	for _, loc := range e.idx.FindByBaseID(item, true) {
		if inventory.Matches(loc.Key, item, mode, hash) {
			sources = append(sources, loc)
		}
	}
	return e.moveFrom(ctx, sources, dest, destSlot, n)
}

func (e *Engine) moveFrom(ctx context.Context, sources []inventory.Location, dest string, destSlot int, n uint) (uint, error) {
	tasks := e.BuildPlan(sources, dest, destSlot, n)
	res, err := e.Execute(ctx, tasks)
	if err != nil {
		return res.Moved, err
	}
	if res.Moved < n {
		return res.Moved, ErrInsufficientStock
	}
	return res.Moved, nil
}

// PullSlotToStorage drains up to n items of key from one slot of src
// into storage, preferring containers with known free slots and trying
// a bounded number of alternatives.
func (e *Engine) PullSlotToStorage(ctx context.Context, src string, srcSlot int, key types.ItemKey, n uint) uint {
	candidates := e.idx.StorageCandidates()
	if len(candidates) > DefaultPullAlternatives {
		candidates = candidates[:DefaultPullAlternatives]
	}
	var moved uint
	for _, dest := range candidates {
		if moved >= n {
			break
		}
		if dest == src {
			continue
		}
		got, err := e.drv.Pull(ctx, dest, src, srcSlot, n-moved, 0)
		switch {
		case errors.Is(err, driver.ErrUnavailable):
			metrics.TransfersTotal.WithLabelValues("unavailable").Inc()
			e.idx.SetStale(dest)
			continue
		case errors.Is(err, driver.ErrBlocked):
			metrics.TransfersTotal.WithLabelValues("blocked").Inc()
			continue
		case err != nil:
			metrics.TransfersTotal.WithLabelValues("error").Inc()
			e.log.Warn().Err(err).Str("src", src).Str("dest", dest).Msg("pull failed")
			continue
		}
		if got > 0 {
			metrics.TransfersTotal.WithLabelValues("ok").Inc()
			metrics.ItemsMoved.Add(float64(got))
			e.idx.RecordTransfer(src, srcSlot, dest, 0, key, got)
			moved += got
		}
	}
	return moved
}

// Deposit drains a container into storage. With a non-nil key only
// matching slots are drained. Slots are drained in parallel batches;
// each slot picks its own storage destinations.
func (e *Engine) Deposit(ctx context.Context, from string, only *types.ItemKey) (uint, error) {
	slots := e.idx.Slots(from)
	if slots == nil {
		fresh, err := e.drv.List(ctx, from)
		if err != nil {
			return 0, err
		}
		slots = fresh
	}

	var mu sync.Mutex
	var total uint
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.batchWidth)
	for slot, stack := range slots {
		if only != nil && stack.Key != *only {
			continue
		}
		slot, stack := slot, stack
		g.Go(func() error {
			moved := e.PullSlotToStorage(gctx, from, slot, stack.Key, stack.Count)
			if moved > 0 {
				mu.Lock()
				total += moved
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return total, err
	}
	return total, nil
}
