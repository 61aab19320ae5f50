// Package controller assembles the coordinator process and owns the
// request lifecycle.
package controller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/voxelforge/fabric/pkg/api"
	"github.com/voxelforge/fabric/pkg/bus"
	"github.com/voxelforge/fabric/pkg/config"
	"github.com/voxelforge/fabric/pkg/driver"
	"github.com/voxelforge/fabric/pkg/events"
	"github.com/voxelforge/fabric/pkg/export"
	"github.com/voxelforge/fabric/pkg/inventory"
	"github.com/voxelforge/fabric/pkg/metrics"
	"github.com/voxelforge/fabric/pkg/planner"
	"github.com/voxelforge/fabric/pkg/queue"
	"github.com/voxelforge/fabric/pkg/recipe"
	"github.com/voxelforge/fabric/pkg/registry"
	"github.com/voxelforge/fabric/pkg/scheduler"
	"github.com/voxelforge/fabric/pkg/smelting"
	"github.com/voxelforge/fabric/pkg/storage"
	"github.com/voxelforge/fabric/pkg/transfer"
	"github.com/voxelforge/fabric/pkg/types"
)

// CapabilityCraft must be claimed by an agent before the dispatcher
// sends it CRAFT_REQUEST envelopes. CapabilityWork is the analogue for
// generic worker tasks.
const (
	CapabilityCraft = "craft"
	CapabilityWork  = "work"
)

// DefaultRequestMaxAge is how long terminal requests are kept before
// cleanup.
const DefaultRequestMaxAge = 24 * time.Hour

// Controller is the item-fabric coordinator process: the inventory
// index and its scan loop, the export and furnace policies, the
// job/request lifecycle, agent dispatch, and the HTTP API, all driven
// by one scheduler.
type Controller struct {
	cfg     *config.Config
	log     zerolog.Logger
	store   storage.Store
	drv     driver.Driver
	broker  *events.Broker
	idx     *inventory.Index
	xfer    *transfer.Engine
	exports *export.Engine
	recipes *recipe.Library
	queue   *queue.Queue
	plan    *planner.Planner
	smelter *smelting.Orchestrator
	agents  *registry.Registry
	bus     *bus.Bus
	sched   *scheduler.Scheduler
	apiSrv  *api.Server

	mu        sync.Mutex
	forceScan bool
}

// New wires a controller from its parts. The driver and store are
// injected so tests and the simulator share the same assembly.
func New(cfg *config.Config, drv driver.Driver, store storage.Store, recipes *recipe.Library, logger zerolog.Logger) (*Controller, error) {
	c := &Controller{
		cfg:     cfg,
		log:     logger.With().Str("component", "controller").Logger(),
		store:   store,
		drv:     drv,
		recipes: recipes,
	}

	c.broker = events.NewBroker()
	c.idx = inventory.New(drv, logger)
	c.xfer = transfer.New(drv, c.idx, logger)
	c.exports = export.New(c.idx, c.xfer, cfg.ExportTargets, logger)
	c.agents = registry.New(c.broker, logger,
		registry.WithThresholds(cfg.Health.OnlineThreshold, cfg.Health.DegradedThreshold))

	q, err := queue.New(store, recipes, c.broker, logger)
	if err != nil {
		return nil, err
	}
	c.queue = q
	c.plan = planner.New(q, recipes, logger)
	c.smelter = smelting.New(c.idx, c.xfer, recipes, cfg.SmeltTargets, c.plan, logger)

	b, err := bus.New(bus.Config{
		ListenAddr:    cfg.Bus.ListenAddr,
		BroadcastAddr: cfg.Bus.BroadcastAddr,
		SelfID:        cfg.Bus.SelfID,
		SelfLabel:     cfg.Bus.SelfLabel,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("bus: %w", err)
	}
	c.bus = b
	c.registerBusHandlers()

	c.sched = scheduler.New(logger)
	c.sched.OnPanic(func(task string) {
		c.mu.Lock()
		c.forceScan = true
		c.mu.Unlock()
		c.log.Warn().Str("task", task).Msg("forcing full rescan after tick panic")
	})
	if err := c.registerTasks(); err != nil {
		return nil, err
	}

	c.apiSrv = api.New(cfg.API.ListenAddr, c, logger)
	return c, nil
}

func (c *Controller) registerTasks() error {
	iv := c.cfg.Intervals
	tasks := []struct {
		name     string
		interval time.Duration
		fn       scheduler.TaskFunc
	}{
		{"scan", iv.Scan, c.scanTick},
		{"export", iv.Export, c.exports.Tick},
		{"furnace", iv.Furnace, c.smelter.Tick},
		{"heartbeat", iv.Heartbeat, c.heartbeatTick},
		{"health-sweep", iv.HealthSweep, c.healthSweepTick},
		{"dispatch", iv.Dispatch, c.dispatchTick},
		{"requests", iv.Planner, c.requestTick},
	}
	for _, t := range tasks {
		if err := c.sched.Every(t.name, t.interval, t.fn); err != nil {
			return err
		}
	}
	return nil
}

// Start brings the event broker, the bus pump, the scheduler and the
// API up. An initial forced scan runs before the first tick so policy
// loops never act on an empty index.
func (c *Controller) Start(ctx context.Context) error {
	c.broker.Start()
	c.bus.Start()

	if _, err := c.idx.Scan(ctx, true); err != nil {
		c.log.Warn().Err(err).Msg("initial scan failed, loops will retry")
	}

	c.sched.Start()
	go func() {
		if err := c.apiSrv.Start(); err != nil {
			c.log.Error().Err(err).Msg("api server exited")
		}
	}()
	c.log.Info().Msg("controller started")
	return nil
}

// Stop shuts the controller down in reverse order.
func (c *Controller) Stop(ctx context.Context) {
	if err := c.apiSrv.Shutdown(ctx); err != nil {
		c.log.Warn().Err(err).Msg("api shutdown")
	}
	c.sched.Stop()
	c.bus.Stop()
	c.broker.Stop()
	if err := c.store.Close(); err != nil {
		c.log.Warn().Err(err).Msg("store close")
	}
	c.log.Info().Msg("controller stopped")
}

// Broker exposes the event broker for in-process subscribers.
func (c *Controller) Broker() *events.Broker {
	return c.broker
}

// ── periodic ticks ──

func (c *Controller) scanTick(ctx context.Context) {
	c.mu.Lock()
	force := c.forceScan
	c.forceScan = false
	c.mu.Unlock()

	stock, err := c.idx.Scan(ctx, force)
	if err != nil {
		c.log.Warn().Err(err).Msg("scan failed")
		return
	}
	if err := c.store.SaveStockCache(stock); err != nil {
		c.log.Debug().Err(err).Msg("stock cache write failed")
	}
}

func (c *Controller) heartbeatTick(_ context.Context) {
	if err := c.bus.Broadcast(bus.MsgPing, nil); err != nil {
		c.log.Debug().Err(err).Msg("heartbeat broadcast failed")
	}
}

func (c *Controller) healthSweepTick(_ context.Context) {
	c.agents.Sweep()
}

// dispatchTick hands the oldest pending job to the first idle agent
// with the craft capability.
func (c *Controller) dispatchTick(_ context.Context) {
	c.updateJobGauges()

	for {
		job := c.queue.Next()
		if job == nil {
			return
		}
		agent := c.agents.GetIdle(CapabilityCraft)
		if agent == nil {
			return
		}
		if err := c.queue.Assign(job.ID, agent.ID); err != nil {
			c.log.Warn().Err(err).Int64("job", job.ID).Msg("assign failed")
			return
		}
		if err := c.agents.UpdateStatus(agent.ID, types.AgentStatusBusy, job.ID, nil); err != nil {
			c.log.Debug().Err(err).Str("agent", agent.ID).Msg("status update failed")
		}
		if err := c.bus.Send(bus.MsgCraftRequest, map[string]any{"job": job}, agent.ID); err != nil {
			c.log.Warn().Err(err).Int64("job", job.ID).Str("agent", agent.ID).Msg("craft request send failed, job stays assigned")
			return
		}
		c.log.Info().Int64("job", job.ID).Str("agent", agent.ID).Msg("job dispatched")
	}
}

func (c *Controller) updateJobGauges() {
	counts := make(map[types.JobStatus]int)
	for _, job := range c.queue.Active() {
		counts[job.Status]++
	}
	for _, status := range []types.JobStatus{types.JobStatusPending, types.JobStatusAssigned, types.JobStatusCrafting} {
		metrics.JobsTotal.WithLabelValues(string(status)).Set(float64(counts[status]))
	}
}

// ── request lifecycle ──

// CreateRequest registers a user goal and plans it immediately.
func (c *Controller) CreateRequest(item types.ItemKey, qty uint, deliverTo string) (*types.Request, error) {
	if item.IsZero() || qty == 0 {
		return nil, api.ErrInvalidRequest
	}
	req := &types.Request{
		ID:        uuid.New().String(),
		Item:      item,
		Qty:       qty,
		DeliverTo: deliverTo,
		Status:    types.RequestStatusPending,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	if err := c.store.SaveRequest(req); err != nil {
		return nil, err
	}
	c.planRequest(req)
	return req, nil
}

// planRequest runs the planner for one request and applies the error
// policy: missing materials wait, cycle and depth guards fail
// terminally, a missing recipe fails unless the item is smeltable.
func (c *Controller) planRequest(req *types.Request) {
	jobIDs, err := c.plan.Plan(req, c.idx.GetAllStock())
	switch {
	case err == nil:
	case errors.Is(err, planner.ErrCycleDetected),
		errors.Is(err, planner.ErrMaxDepthExceeded),
		errors.Is(err, queue.ErrNoRecipe):
		req.Status = types.RequestStatusFailed
		req.Reason = err.Error()
		req.UpdatedAt = time.Now()
		c.saveRequest(req)
		return
	default:
		c.log.Warn().Err(err).Str("request", req.ID).Msg("planning failed, will retry")
		return
	}

	req.JobIDs = append(req.JobIDs, jobIDs...)
	if len(req.JobIDs) == 0 && c.recipes.Smeltable(req.Item.BaseID) {
		req.Status = types.RequestStatusSmelting
	} else {
		req.Status = types.RequestStatusQueued
	}
	req.UpdatedAt = time.Now()
	c.saveRequest(req)
}

// requestTick advances every live request: retry planning, fold in job
// results, deliver finished goods, and clean up old terminal requests.
func (c *Controller) requestTick(ctx context.Context) {
	reqs, err := c.store.ListRequests()
	if err != nil {
		c.log.Warn().Err(err).Msg("request list failed")
		return
	}
	now := time.Now()
	for _, req := range reqs {
		switch req.Status {
		case types.RequestStatusPending:
			c.planRequest(req)
		case types.RequestStatusQueued, types.RequestStatusCrafting, types.RequestStatusSmelting:
			c.progressRequest(ctx, req)
		case types.RequestStatusReady:
			c.deliverRequest(ctx, req)
		case types.RequestStatusDelivered, types.RequestStatusFailed, types.RequestStatusCancelled:
			if now.Sub(req.UpdatedAt) > DefaultRequestMaxAge {
				if err := c.store.DeleteRequest(req.ID); err != nil {
					c.log.Debug().Err(err).Str("request", req.ID).Msg("request cleanup failed")
				}
			}
		}
	}
}

func (c *Controller) progressRequest(ctx context.Context, req *types.Request) {
	// A smelting request is ready once stock covers it.
	if req.Status == types.RequestStatusSmelting {
		if c.baseStock(req.Item.BaseID) >= req.Qty {
			req.Status = types.RequestStatusReady
			req.Produced = req.Qty
			req.UpdatedAt = time.Now()
			c.saveRequest(req)
			c.deliverRequest(ctx, req)
		}
		return
	}

	var produced uint
	var anyActive, anyFailed bool
	var failReason string
	for _, id := range req.JobIDs {
		job, err := c.queue.Get(id)
		if err != nil {
			continue
		}
		switch job.Status {
		case types.JobStatusCompleted:
			produced += job.ActualOutput
		case types.JobStatusFailed:
			anyFailed = true
			failReason = job.FailReason
		case types.JobStatusCancelled:
			anyFailed = true
			failReason = "job cancelled"
		default:
			anyActive = true
		}
	}
	req.Produced = produced

	switch {
	case anyFailed && !anyActive:
		req.Status = types.RequestStatusFailed
		req.Reason = failReason
	case !anyActive && c.baseStock(req.Item.BaseID) >= req.Qty:
		req.Status = types.RequestStatusReady
	case !anyActive:
		// Jobs settled but output is still short: plan the remainder.
		ids, err := c.plan.CheckAndQueueMore(req, c.idx.GetAllStock())
		if err != nil {
			req.Status = types.RequestStatusFailed
			req.Reason = err.Error()
		} else {
			req.JobIDs = append(req.JobIDs, ids...)
		}
	default:
		req.Status = types.RequestStatusCrafting
	}
	req.UpdatedAt = time.Now()
	c.saveRequest(req)
	if req.Status == types.RequestStatusReady {
		c.deliverRequest(ctx, req)
	}
}

func (c *Controller) deliverRequest(ctx context.Context, req *types.Request) {
	if req.DeliverTo == "" {
		req.Status = types.RequestStatusDelivered
		req.Delivered = req.Qty
		req.UpdatedAt = time.Now()
		c.saveRequest(req)
		return
	}
	want := req.Qty - req.Delivered
	moved, err := c.xfer.Withdraw(ctx, req.Item, want, req.DeliverTo, 0)
	req.Delivered += moved
	if err != nil && !errors.Is(err, transfer.ErrInsufficientStock) {
		c.log.Warn().Err(err).Str("request", req.ID).Msg("delivery failed, will retry")
	}
	if req.Delivered >= req.Qty {
		req.Status = types.RequestStatusDelivered
	}
	req.UpdatedAt = time.Now()
	c.saveRequest(req)
}

func (c *Controller) saveRequest(req *types.Request) {
	if err := c.store.SaveRequest(req); err != nil {
		c.log.Error().Err(err).Str("request", req.ID).Msg("request persist failed")
	}
}

func (c *Controller) baseStock(baseID string) uint {
	var total uint
	for _, key := range c.idx.KeysForBase(baseID) {
		total += c.idx.GetStock(key)
	}
	return total
}

// ── bus handlers ──

func (c *Controller) registerBusHandlers() {
	c.bus.On(bus.MsgPing, func(env *bus.Envelope) {
		c.agents.Heartbeat(env.SenderID, agentKind(env), env.SenderLabel)
		if err := c.bus.Send(bus.MsgPong, nil, env.SenderID); err != nil {
			c.log.Debug().Err(err).Msg("pong send failed")
		}
	})
	c.bus.On(bus.MsgPong, func(env *bus.Envelope) {
		c.agents.Heartbeat(env.SenderID, agentKind(env), env.SenderLabel)
	})
	c.bus.On(bus.MsgAislePong, func(env *bus.Envelope) {
		c.agents.Heartbeat(env.SenderID, types.AgentKindAisle, env.SenderLabel)
	})
	c.bus.On(bus.MsgStatus, c.onStatus)
	c.bus.On(bus.MsgCraftComplete, c.onCraftComplete)
	c.bus.On(bus.MsgCraftFailed, c.onCraftFailed)
	c.bus.On(bus.MsgWorkComplete, c.onCraftComplete)
	c.bus.On(bus.MsgWorkFailed, c.onCraftFailed)
}

func (c *Controller) onStatus(env *bus.Envelope) {
	c.agents.Heartbeat(env.SenderID, agentKind(env), env.SenderLabel)

	status := types.AgentStatus(asString(env.Data["status"]))
	if status == "" {
		return
	}
	currentJob := asInt64(env.Data["currentJob"])
	var stats map[string]string
	if raw, ok := env.Data["stats"].(map[string]any); ok {
		stats = make(map[string]string, len(raw))
		for k, v := range raw {
			stats[k] = asString(v)
		}
	}
	if err := c.agents.UpdateStatus(env.SenderID, status, currentJob, stats); err != nil {
		c.log.Debug().Err(err).Str("agent", env.SenderID).Msg("status update failed")
	}

	if status == types.AgentStatusIdle {
		eventType := events.EventWorkerIdle
		if agent, err := c.agents.Get(env.SenderID); err == nil && agent.Kind == types.AgentKindCrafter {
			eventType = events.EventCrafterIdle
		}
		c.broker.Publish(events.New(eventType, "agent idle", map[string]any{"agentId": env.SenderID}))
	}

	// STATUS with a current job implies crafting has begun.
	if currentJob > 0 {
		if job, err := c.queue.Get(currentJob); err == nil && job.Status == types.JobStatusAssigned {
			if err := c.queue.StartCrafting(currentJob); err != nil {
				c.log.Debug().Err(err).Int64("job", currentJob).Msg("start crafting failed")
			}
		}
	}
}

func (c *Controller) onCraftComplete(env *bus.Envelope) {
	jobID := asInt64(env.Data["jobId"])
	if jobID == 0 {
		c.log.Debug().Str("sender", env.SenderID).Msg("craft complete without job id")
		return
	}
	// A crafter may report completion straight from assigned.
	if job, err := c.queue.Get(jobID); err == nil && job.Status == types.JobStatusAssigned {
		if err := c.queue.StartCrafting(jobID); err != nil {
			c.log.Debug().Err(err).Int64("job", jobID).Msg("start crafting failed")
		}
	}
	actual := uint(asInt64(env.Data["actualOutput"]))
	if err := c.queue.Complete(jobID, actual); err != nil {
		c.log.Warn().Err(err).Int64("job", jobID).Msg("complete failed")
		return
	}
	c.freeAgent(env.SenderID)
}

func (c *Controller) onCraftFailed(env *bus.Envelope) {
	jobID := asInt64(env.Data["jobId"])
	if jobID == 0 {
		return
	}
	reason := asString(env.Data["reason"])
	if reason == "" {
		reason = "agent reported failure"
	}
	if err := c.queue.Fail(jobID, reason); err != nil {
		c.log.Warn().Err(err).Int64("job", jobID).Msg("fail transition failed")
		return
	}
	c.freeAgent(env.SenderID)
}

func (c *Controller) freeAgent(id string) {
	if err := c.agents.UpdateStatus(id, types.AgentStatusIdle, 0, nil); err != nil {
		c.log.Debug().Err(err).Str("agent", id).Msg("agent release failed")
	}
}

func agentKind(env *bus.Envelope) types.AgentKind {
	if kind, ok := env.Data["kind"].(string); ok && kind != "" {
		return types.AgentKind(kind)
	}
	return types.AgentKindWorker
}

// ── api.Backend ──

func (c *Controller) Stock() map[string]uint {
	return c.idx.StockMap()
}

func (c *Controller) Agents() []*types.Agent {
	return c.agents.GetAll()
}

func (c *Controller) Jobs() []*types.Job {
	return c.queue.Active()
}

func (c *Controller) JobHistory() ([]*types.Job, []*types.Job) {
	return c.queue.CompletedHistory(), c.queue.FailedHistory()
}

func (c *Controller) ListRequests() ([]*types.Request, error) {
	return c.store.ListRequests()
}

func (c *Controller) GetRequest(id string) (*types.Request, error) {
	req, err := c.store.GetRequest(id)
	if err != nil || req == nil {
		return nil, api.ErrNotFound
	}
	return req, nil
}

// CancelRequest cancels a request and its still-pending jobs. Jobs
// already crafting run to completion; their output lands in storage.
func (c *Controller) CancelRequest(id string) error {
	req, err := c.store.GetRequest(id)
	if err != nil || req == nil {
		return api.ErrNotFound
	}
	for _, jobID := range req.JobIDs {
		if job, err := c.queue.Get(jobID); err == nil && job.Status == types.JobStatusPending {
			if err := c.queue.Cancel(jobID); err != nil {
				c.log.Debug().Err(err).Int64("job", jobID).Msg("cancel failed")
			}
		}
	}
	req.Status = types.RequestStatusCancelled
	req.UpdatedAt = time.Now()
	return c.store.SaveRequest(req)
}

func (c *Controller) Products() ([]*types.Product, error) {
	return c.store.ListProducts()
}

// ── payload helpers ──

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case uint64:
		return int64(n)
	case int32:
		return int64(n)
	case uint32:
		return int64(n)
	case int8:
		return int64(n)
	case int16:
		return int64(n)
	case float64:
		return int64(n)
	case float32:
		return int64(n)
	}
	return 0
}
