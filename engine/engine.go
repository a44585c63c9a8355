// Package engine wires the resource-flow subsystems together and owns their
// scheduling: one run loop drives the conversion tick and periodic flow
// optimization so the two never interleave mid-step. Everything callers need
// goes through the Engine facade; the subsystem packages stay internal to
// the composition.
package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/c360/flownet/chain"
	"github.com/c360/flownet/config"
	"github.com/c360/flownet/conversion"
	"github.com/c360/flownet/errors"
	"github.com/c360/flownet/event"
	"github.com/c360/flownet/metric"
	"github.com/c360/flownet/nodestore"
	"github.com/c360/flownet/optimizer"
	"github.com/c360/flownet/resource"
	"github.com/c360/flownet/statecache"
)

// Engine is the resource-flow network engine facade.
type Engine struct {
	cfg     *config.Config
	logger  *slog.Logger
	metrics *metric.Metrics

	registry    *resource.Registry
	states      *statecache.Cache
	store       *nodestore.Store
	events      *event.Publisher
	conversions *conversion.Engine
	chains      *chain.Orchestrator
	optimizer   *optimizer.Optimizer

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New assembles an engine from configuration. The context bounds background
// resources (cache cleanup); it is not the run context passed to Start.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, metrics *metric.Metrics) (*Engine, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	registry := resource.NewRegistry()
	events := event.NewPublisher(logger, metrics)

	states, err := statecache.New(ctx, registry, cfg.Cache.TTL.Std(), logger)
	if err != nil {
		return nil, errors.Wrap(err, "engine", "New", "create state cache")
	}

	store := nodestore.NewStore(states, events, logger)
	conversions := conversion.NewEngine(store, states, events, metrics, logger)
	chains := chain.NewOrchestrator(store, conversions, events, metrics, logger)

	optOpts := []optimizer.Option{
		optimizer.WithHistoryCapacity(cfg.Optimizer.HistoryCapacity),
		optimizer.WithOffloadTimeout(cfg.Optimizer.OffloadTimeout.Std()),
	}
	if cfg.Optimizer.ParallelOffload {
		optOpts = append(optOpts, optimizer.WithParallelOffload(
			cfg.Optimizer.Workers, cfg.Optimizer.QueueSize, cfg.Optimizer.BatchThreshold))
	}
	if cfg.Optimizer.SpatialPartitioning {
		optOpts = append(optOpts, optimizer.WithSpatialPartitioning(cfg.Optimizer.RegionSize))
	}
	opt := optimizer.New(store, states, events, metrics, logger, optOpts...)

	return &Engine{
		cfg:         cfg,
		logger:      logger,
		metrics:     metrics,
		registry:    registry,
		states:      states,
		store:       store,
		events:      events,
		conversions: conversions,
		chains:      chains,
		optimizer:   opt,
	}, nil
}

// Start launches the run loop and, when configured, the optimizer's offload
// pool. It returns immediately; Stop shuts everything down.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return errors.WrapInvalid(
			errors.ErrValidation, "engine", "Start", "already started")
	}

	if err := e.optimizer.Start(ctx); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.done = make(chan struct{})
	e.started = true

	go e.run(runCtx)

	e.logger.Info("Engine started",
		"conversion_tick", e.cfg.Engine.ConversionTickInterval.Std(),
		"optimize_interval", e.cfg.Engine.OptimizeInterval.Std(),
		"parallel_offload", e.cfg.Optimizer.ParallelOffload,
		"spatial_partitioning", e.cfg.Optimizer.SpatialPartitioning)
	return nil
}

// Stop halts the run loop, drains the offload pool and releases the state
// cache.
func (e *Engine) Stop(timeout time.Duration) error {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return nil
	}
	e.started = false
	cancel := e.cancel
	done := e.done
	e.mu.Unlock()

	cancel()
	select {
	case <-done:
	case <-time.After(timeout):
		e.logger.Warn("Engine run loop did not stop within timeout", "timeout", timeout)
	}

	if err := e.optimizer.Stop(timeout); err != nil {
		e.logger.Warn("Offload pool shutdown failed", "error", err)
	}
	if err := e.states.Close(); err != nil {
		e.logger.Warn("State cache close failed", "error", err)
	}
	e.logger.Info("Engine stopped")
	return nil
}

// run is the owner loop: conversion ticks and optimization passes are
// serialized here so their mutations never interleave.
func (e *Engine) run(ctx context.Context) {
	defer close(e.done)

	tick := time.NewTicker(e.cfg.Engine.ConversionTickInterval.Std())
	defer tick.Stop()

	var optimizeC <-chan time.Time
	if interval := e.cfg.Engine.OptimizeInterval.Std(); interval > 0 {
		optTick := time.NewTicker(interval)
		defer optTick.Stop()
		optimizeC = optTick.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-tick.C:
			e.tickConversions(now)
		case <-optimizeC:
			e.optimizer.Optimize()
		}
	}
}

// tickConversions advances active processes and routes terminal ones to the
// chain orchestrator.
func (e *Engine) tickConversions(now time.Time) {
	for _, p := range e.conversions.Tick(now) {
		e.chains.ObserveProcess(p)
	}
}

// Events exposes the engine's event publisher for external subscribers.
func (e *Engine) Events() *event.Publisher {
	return e.events
}

// RegisterNode adds or replaces a node. Returns false when validation
// rejects it.
func (e *Engine) RegisterNode(node *nodestore.Node) bool {
	return e.store.RegisterNode(node) == nil
}

// UnregisterNode removes a node and every connection referencing it.
func (e *Engine) UnregisterNode(id string) bool {
	return e.store.UnregisterNode(id)
}

// RegisterConnection adds a directed resource edge between existing nodes.
func (e *Engine) RegisterConnection(conn *nodestore.Connection) bool {
	return e.store.RegisterConnection(conn) == nil
}

// UnregisterConnection removes a connection.
func (e *Engine) UnregisterConnection(id string) bool {
	return e.store.UnregisterConnection(id)
}

// UpdateResourceState overwrites a resource type's canonical aggregate
// state.
func (e *Engine) UpdateResourceState(t resource.Type, state resource.State) error {
	return e.states.UpdateState(t, state)
}

// GetResourceState returns a resource type's aggregate state, cached within
// the configured TTL.
func (e *Engine) GetResourceState(t resource.Type) (resource.State, bool) {
	return e.states.GetState(t)
}

// RegisterRecipe adds a conversion recipe.
func (e *Engine) RegisterRecipe(r *conversion.Recipe) bool {
	return e.conversions.RegisterRecipe(r) == nil
}

// UnregisterRecipe removes a conversion recipe.
func (e *Engine) UnregisterRecipe(id string) bool {
	return e.conversions.UnregisterRecipe(id)
}

// RegisterChain adds a chain definition.
func (e *Engine) RegisterChain(c *chain.Chain) bool {
	return e.chains.RegisterChain(c) == nil
}

// UnregisterChain removes a chain definition.
func (e *Engine) UnregisterChain(id string) bool {
	return e.chains.UnregisterChain(id)
}

// StartConversion starts a standalone conversion process at a converter.
func (e *Engine) StartConversion(converterID, recipeID string) (*conversion.Process, error) {
	return e.conversions.StartProcess(converterID, recipeID)
}

// PauseConversion suspends an active process.
func (e *Engine) PauseConversion(processID string) error {
	return e.conversions.Pause(processID)
}

// ResumeConversion restarts a paused process.
func (e *Engine) ResumeConversion(processID string) error {
	return e.conversions.Resume(processID)
}

// CancelConversion fails a process without refunding its inputs. A process
// belonging to a chain step fails that chain.
func (e *Engine) CancelConversion(processID string) error {
	p, err := e.conversions.Cancel(processID)
	if err != nil {
		return err
	}
	e.chains.ObserveProcess(p)
	return nil
}

// StartChain begins executing a registered chain.
func (e *Engine) StartChain(chainID string) (*chain.Execution, error) {
	return e.chains.StartChain(chainID)
}

// StopChain cancels a chain execution.
func (e *Engine) StopChain(executionID string) bool {
	return e.chains.StopChain(executionID)
}

// OptimizeFlows runs one optimization pass, or joins the pass already in
// flight.
func (e *Engine) OptimizeFlows() *optimizer.Result {
	return e.optimizer.Optimize()
}

// Node returns a copy of a node.
func (e *Engine) Node(id string) (*nodestore.Node, bool) {
	return e.store.Node(id)
}

// Nodes returns copies of every node.
func (e *Engine) Nodes() []*nodestore.Node {
	return e.store.Nodes()
}

// Connection returns a copy of a connection.
func (e *Engine) Connection(id string) (*nodestore.Connection, bool) {
	return e.store.Connection(id)
}

// Connections returns copies of every connection.
func (e *Engine) Connections() []*nodestore.Connection {
	return e.store.Connections()
}

// ActiveProcesses returns copies of every live conversion process.
func (e *Engine) ActiveProcesses() []*conversion.Process {
	return e.conversions.ActiveProcesses()
}

// ConverterProcesses returns the live processes owned by one converter.
func (e *Engine) ConverterProcesses(converterID string) []*conversion.Process {
	return e.conversions.ConverterProcesses(converterID)
}

// ConverterStatus returns a converter's live production counters.
func (e *Engine) ConverterStatus(converterID string) (*nodestore.ConverterStatus, bool) {
	node, ok := e.store.Node(converterID)
	if !ok || node.Status == nil {
		return nil, false
	}
	return node.Status, true
}

// Execution returns a chain execution with progress freshly computed.
func (e *Engine) Execution(executionID string) (*chain.Execution, bool) {
	return e.chains.Execution(executionID)
}

// TransferHistory returns the optimizer's retained transfer records.
func (e *Engine) TransferHistory() []optimizer.Transfer {
	return e.optimizer.TransferHistory()
}
