package queue

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/voxelforge/fabric/pkg/events"
	"github.com/voxelforge/fabric/pkg/metrics"
	"github.com/voxelforge/fabric/pkg/recipe"
	"github.com/voxelforge/fabric/pkg/storage"
	"github.com/voxelforge/fabric/pkg/types"
)

// DefaultHistorySize bounds each terminal-job history ring.
const DefaultHistorySize = 100

// ErrNoRecipe is returned when no craft definition exists for an item.
var ErrNoRecipe = errors.New("no recipe")

// ErrJobNotFound is returned for operations on unknown job IDs.
var ErrJobNotFound = errors.New("job not found")

// MissingMaterialsError reports that a recipe exists but inputs are
// short, enumerating each shortfall.
type MissingMaterialsError struct {
	Output  string
	Missing []types.MaterialShortfall
}

func (e *MissingMaterialsError) Error() string {
	parts := make([]string, len(e.Missing))
	for i, m := range e.Missing {
		parts[i] = m.String()
	}
	return fmt.Sprintf("missing materials for %s: %s", e.Output, strings.Join(parts, ", "))
}

// Queue is the ordered persistent queue of crafting jobs. Job IDs are
// monotonic integers surviving restart; terminal jobs move to bounded
// history rings.
type Queue struct {
	mu      sync.Mutex
	store   storage.Store
	recipes *recipe.Library
	broker  *events.Broker
	log     zerolog.Logger

	pending   []*types.Job
	jobs      map[int64]*types.Job
	completed []*types.Job
	failed    []*types.Job
	histSize  int
}

// New creates a queue, restoring any persisted active jobs in creation
// order.
func New(store storage.Store, recipes *recipe.Library, broker *events.Broker, logger zerolog.Logger) (*Queue, error) {
	q := &Queue{
		store:    store,
		recipes:  recipes,
		broker:   broker,
		log:      logger.With().Str("component", "queue").Logger(),
		jobs:     make(map[int64]*types.Job),
		histSize: DefaultHistorySize,
	}

	persisted, err := store.ListJobs()
	if err != nil {
		return nil, fmt.Errorf("restore queue: %w", err)
	}
	sort.Slice(persisted, func(i, j int) bool { return persisted[i].ID < persisted[j].ID })
	for _, job := range persisted {
		q.jobs[job.ID] = job
		if job.Status == types.JobStatusPending {
			q.pending = append(q.pending, job)
		}
	}
	return q, nil
}

// StockForBase sums the stock of every NBT variant of a base id.
func StockForBase(stock map[types.ItemKey]uint, baseID string) uint {
	var total uint
	for key, n := range stock {
		if key.BaseID == baseID {
			total += n
		}
	}
	return total
}

// Add creates a pending job producing at least qty of output, reserving
// the exact input multiset against the given stock snapshot. Inputs not
// covered by stock fail the add with a structured shortfall list; the
// snapshot itself is not mutated, that is the planner's business.
func (q *Queue) Add(output types.ItemKey, qty uint, requestID string, stock map[types.ItemKey]uint) (*types.Job, error) {
	r, ok := q.recipes.Get(output.BaseID)
	if !ok {
		return nil, fmt.Errorf("%w for %s", ErrNoRecipe, output.BaseID)
	}

	crafts := (qty + r.Count - 1) / r.Count
	materials := make(map[string]uint, len(r.Inputs))
	var missing []types.MaterialShortfall
	for input, per := range r.Inputs {
		needed := per * crafts
		have := StockForBase(stock, input)
		if have < needed {
			missing = append(missing, types.MaterialShortfall{Item: input, Needed: needed, Have: have})
			continue
		}
		materials[input] = needed
	}
	if len(missing) > 0 {
		sort.Slice(missing, func(i, j int) bool { return missing[i].Item < missing[j].Item })
		return nil, &MissingMaterialsError{Output: output.BaseID, Missing: missing}
	}

	id, err := q.store.NextID("job")
	if err != nil {
		return nil, fmt.Errorf("allocate job id: %w", err)
	}
	job := &types.Job{
		ID:        id,
		Output:    output,
		Qty:       crafts * r.Count,
		Recipe:    output.BaseID,
		Materials: materials,
		RequestID: requestID,
		Status:    types.JobStatusPending,
		CreatedAt: time.Now(),
	}
	if err := q.store.SaveJob(job); err != nil {
		return nil, fmt.Errorf("persist job: %w", err)
	}

	q.mu.Lock()
	q.jobs[job.ID] = job
	q.pending = append(q.pending, job)
	q.mu.Unlock()

	q.log.Info().Int64("job", job.ID).Str("output", output.String()).Uint64("qty", uint64(job.Qty)).Msg("job queued")
	return job.Clone(), nil
}

// Next returns the oldest pending job, or nil.
func (q *Queue) Next() *types.Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return nil
	}
	return q.pending[0].Clone()
}

// Get returns a copy of one job, searching active jobs then history.
func (q *Queue) Get(id int64) (*types.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if job, ok := q.jobs[id]; ok {
		return job.Clone(), nil
	}
	for _, ring := range [][]*types.Job{q.completed, q.failed} {
		for _, job := range ring {
			if job.ID == id {
				return job.Clone(), nil
			}
		}
	}
	return nil, ErrJobNotFound
}

// Active returns copies of all non-terminal jobs sorted by ID.
func (q *Queue) Active() []*types.Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*types.Job, 0, len(q.jobs))
	for _, job := range q.jobs {
		out = append(out, job.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Assign moves a pending job to an agent.
func (q *Queue) Assign(jobID int64, agentID string) error {
	return q.transition(jobID, types.JobStatusPending, func(job *types.Job) {
		job.Status = types.JobStatusAssigned
		job.AssignedTo = agentID
		job.AssignedAt = time.Now()
	})
}

// StartCrafting marks an assigned job as in progress.
func (q *Queue) StartCrafting(jobID int64) error {
	return q.transition(jobID, types.JobStatusAssigned, func(job *types.Job) {
		job.Status = types.JobStatusCrafting
		job.StartedAt = time.Now()
	})
}

// Complete marks a crafting job as done and archives it.
func (q *Queue) Complete(jobID int64, actualOutput uint) error {
	err := q.transition(jobID, types.JobStatusCrafting, func(job *types.Job) {
		job.Status = types.JobStatusCompleted
		if actualOutput > 0 {
			job.ActualOutput = actualOutput
		} else {
			job.ActualOutput = job.Qty
		}
		job.FinishedAt = time.Now()
	})
	if err != nil {
		return err
	}
	metrics.JobsCompleted.Inc()
	return nil
}

// Fail marks an assigned or crafting job as failed with a reason.
func (q *Queue) Fail(jobID int64, reason string) error {
	q.mu.Lock()
	job, ok := q.jobs[jobID]
	if !ok {
		q.mu.Unlock()
		return ErrJobNotFound
	}
	if job.Status != types.JobStatusAssigned && job.Status != types.JobStatusCrafting {
		q.mu.Unlock()
		return fmt.Errorf("job %d is %s, cannot fail", jobID, job.Status)
	}
	job.Status = types.JobStatusFailed
	job.FailReason = reason
	job.FinishedAt = time.Now()
	q.archiveLocked(job)
	q.mu.Unlock()

	metrics.JobsFailed.Inc()
	return q.persistTerminal(job)
}

// Cancel aborts a job; only pending jobs can be cancelled.
func (q *Queue) Cancel(jobID int64) error {
	q.mu.Lock()
	job, ok := q.jobs[jobID]
	if !ok {
		q.mu.Unlock()
		return ErrJobNotFound
	}
	if job.Status != types.JobStatusPending {
		q.mu.Unlock()
		return fmt.Errorf("job %d is %s, only pending jobs can be cancelled", jobID, job.Status)
	}
	job.Status = types.JobStatusCancelled
	job.FinishedAt = time.Now()
	q.archiveLocked(job)
	q.mu.Unlock()

	return q.persistTerminal(job)
}

// CompletedHistory returns the bounded ring of completed jobs, newest
// last.
func (q *Queue) CompletedHistory() []*types.Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	return cloneAll(q.completed)
}

// FailedHistory returns the bounded ring of failed jobs, newest last.
func (q *Queue) FailedHistory() []*types.Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	return cloneAll(q.failed)
}

func cloneAll(jobs []*types.Job) []*types.Job {
	out := make([]*types.Job, len(jobs))
	for i, job := range jobs {
		out[i] = job.Clone()
	}
	return out
}

func (q *Queue) transition(jobID int64, from types.JobStatus, apply func(*types.Job)) error {
	q.mu.Lock()
	job, ok := q.jobs[jobID]
	if !ok {
		q.mu.Unlock()
		return ErrJobNotFound
	}
	if job.Status != from {
		q.mu.Unlock()
		return fmt.Errorf("job %d is %s, expected %s", jobID, job.Status, from)
	}
	apply(job)
	if job.Status.Terminal() {
		q.archiveLocked(job)
	} else if from == types.JobStatusPending {
		q.dropPendingLocked(jobID)
	}
	q.mu.Unlock()

	if job.Status.Terminal() {
		return q.persistTerminal(job)
	}
	return q.store.SaveJob(job)
}

// archiveLocked moves a terminal job out of the active set into its
// history ring, dropping the oldest entry past the cap.
func (q *Queue) archiveLocked(job *types.Job) {
	delete(q.jobs, job.ID)
	q.dropPendingLocked(job.ID)

	var ring *[]*types.Job
	switch job.Status {
	case types.JobStatusFailed, types.JobStatusCancelled:
		ring = &q.failed
	default:
		ring = &q.completed
	}
	*ring = append(*ring, job)
	if len(*ring) > q.histSize {
		*ring = (*ring)[len(*ring)-q.histSize:]
	}
}

func (q *Queue) dropPendingLocked(jobID int64) {
	for i, p := range q.pending {
		if p.ID == jobID {
			q.pending = append(q.pending[:i], q.pending[i+1:]...)
			return
		}
	}
}

func (q *Queue) persistTerminal(job *types.Job) error {
	if err := q.store.DeleteJob(job.ID); err != nil {
		return err
	}
	if err := q.store.AppendJobHistory(job); err != nil {
		return err
	}
	if q.broker != nil {
		switch job.Status {
		case types.JobStatusCompleted:
			q.broker.Publish(events.New(events.EventCraftComplete, "craft complete", map[string]any{
				"jobId":        job.ID,
				"output":       job.Output.String(),
				"actualOutput": job.ActualOutput,
			}))
		case types.JobStatusFailed:
			q.broker.Publish(events.New(events.EventCraftFailed, "craft failed", map[string]any{
				"jobId":  job.ID,
				"output": job.Output.String(),
				"reason": job.FailReason,
			}))
		}
	}
	return nil
}
