package planner

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/voxelforge/fabric/pkg/queue"
	"github.com/voxelforge/fabric/pkg/recipe"
	"github.com/voxelforge/fabric/pkg/types"
)

// DefaultMaxDepth bounds recipe recursion.
const DefaultMaxDepth = 10

var (
	// ErrMaxDepthExceeded means the recipe DAG is deeper than the guard.
	ErrMaxDepthExceeded = errors.New("maximum depth exceeded")
	// ErrCycleDetected means the recipe graph loops back on itself.
	ErrCycleDetected = errors.New("circular dependency")
)

// Planner turns a requested (item, qty) into a DAG of crafting jobs.
// It plans against a private projected copy of stock so dependent items
// can count on the output of jobs that are queued but not yet crafted;
// the authoritative stock is only ever mutated by scans and transfers.
type Planner struct {
	mu       sync.Mutex
	queue    *queue.Queue
	recipes  *recipe.Library
	log      zerolog.Logger
	maxDepth int

	smeltWanted map[string]uint
}

// New creates a planner over the given queue and recipe tables.
func New(q *queue.Queue, recipes *recipe.Library, logger zerolog.Logger) *Planner {
	return &Planner{
		queue:       q,
		recipes:     recipes,
		log:         logger.With().Str("component", "planner").Logger(),
		maxDepth:    DefaultMaxDepth,
		smeltWanted: make(map[string]uint),
	}
}

// Plan queues the jobs needed to satisfy a request against a stock
// snapshot. The snapshot is copied before projection. Returned job IDs
// are the jobs newly queued by this call.
func (p *Planner) Plan(req *types.Request, stock map[types.ItemKey]uint) ([]int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	projected := copyStock(stock)
	p.projectActiveJobs(req, projected)

	visited := make(map[string]bool)
	jobIDs, err := p.queueRecursive(req.Item.BaseID, req.Qty, projected, req.ID, 0, visited)
	if err != nil {
		return nil, err
	}
	return jobIDs, nil
}

// CheckAndQueueMore retries planning for a request whose earlier pass
// could not queue everything. Idempotent: jobs already queued for the
// request are projected into stock first, so satisfied sub-trees are
// not planned twice.
func (p *Planner) CheckAndQueueMore(req *types.Request, stock map[types.ItemKey]uint) ([]int64, error) {
	return p.Plan(req, stock)
}

// TakeSmeltDemands drains the demands noted for smeltable items that
// had no craft recipe. The smelting orchestrator picks these up.
func (p *Planner) TakeSmeltDemands() map[string]uint {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := p.smeltWanted
	p.smeltWanted = make(map[string]uint)
	return out
}

func (p *Planner) queueRecursive(item string, qty uint, stock map[types.ItemKey]uint, requestID string, depth int, visited map[string]bool) ([]int64, error) {
	if depth > p.maxDepth {
		return nil, fmt.Errorf("%w at %s", ErrMaxDepthExceeded, item)
	}
	if visited[item] {
		return nil, fmt.Errorf("%w at %s", ErrCycleDetected, item)
	}

	have := queue.StockForBase(stock, item)
	if have >= qty {
		return nil, nil
	}
	need := qty - have

	r, ok := p.recipes.Get(item)
	if !ok {
		if p.recipes.Smeltable(item) {
			p.smeltWanted[item] += need
			p.log.Debug().Str("item", item).Uint64("qty", uint64(need)).Msg("noted smelt demand")
			return nil, nil
		}
		return nil, fmt.Errorf("%w for %s", queue.ErrNoRecipe, item)
	}

	crafts := (need + r.Count - 1) / r.Count

	// Plan missing inputs first. The visited set guards this branch
	// only; it is cleared on return so siblings may craft the same item.
	visited[item] = true
	var jobIDs []int64
	for _, input := range sortedInputs(r.Inputs) {
		required := r.Inputs[input] * crafts
		inStock := queue.StockForBase(stock, input)
		if inStock >= required {
			continue
		}
		subIDs, err := p.queueRecursive(input, required, stock, requestID, depth+1, visited)
		if err != nil {
			delete(visited, item)
			return nil, err
		}
		jobIDs = append(jobIDs, subIDs...)
	}
	delete(visited, item)

	job, err := p.queue.Add(types.ItemKey{BaseID: item}, need, requestID, stock)
	if err != nil {
		var missing *queue.MissingMaterialsError
		if errors.As(err, &missing) {
			// Sub-jobs are queued but not complete. The caller retries
			// on a later tick once their output lands in stock.
			p.log.Debug().Str("item", item).Str("request", requestID).Msg("deferred, waiting on sub-jobs")
			return jobIDs, nil
		}
		return nil, err
	}
	jobIDs = append(jobIDs, job.ID)

	// Project the reservation: inputs leave stock now, the expected
	// output arrives. Dependents plan against this view.
	for input, n := range job.Materials {
		deductBase(stock, types.ParseItemKey(input).BaseID, n)
	}
	stock[types.ItemKey{BaseID: item}] += job.Qty

	p.log.Info().Int64("job", job.ID).Str("item", item).Uint64("qty", uint64(need)).Int("depth", depth).Msg("job planned")
	return jobIDs, nil
}

// projectActiveJobs applies the expected effect of a request's live
// jobs to a stock map: materials out, output in.
func (p *Planner) projectActiveJobs(req *types.Request, stock map[types.ItemKey]uint) {
	for _, id := range req.JobIDs {
		job, err := p.queue.Get(id)
		if err != nil || job.Status.Terminal() {
			continue
		}
		for input, n := range job.Materials {
			deductBase(stock, types.ParseItemKey(input).BaseID, n)
		}
		stock[job.Output] += job.Qty
	}
}

func copyStock(stock map[types.ItemKey]uint) map[types.ItemKey]uint {
	out := make(map[types.ItemKey]uint, len(stock))
	for k, v := range stock {
		out[k] = v
	}
	return out
}

// deductBase removes n items of a base id from a stock map, walking
// NBT variants in deterministic order.
func deductBase(stock map[types.ItemKey]uint, baseID string, n uint) {
	keys := make([]types.ItemKey, 0, 4)
	for k := range stock {
		if k.BaseID == baseID {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].NBTHash < keys[j].NBTHash })
	for _, k := range keys {
		if n == 0 {
			return
		}
		take := stock[k]
		if take > n {
			take = n
		}
		stock[k] -= take
		if stock[k] == 0 {
			delete(stock, k)
		}
		n -= take
	}
}

func sortedInputs(inputs map[string]uint) []string {
	out := make([]string, 0, len(inputs))
	for k := range inputs {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
