// Package conversion runs recipes on converter nodes. It owns the recipe
// registry and the per-process state machine: processes start by atomically
// consuming their inputs, advance on a fixed tick, and finish by crediting
// outputs scaled by an applied efficiency fixed at start.
package conversion

import (
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/c360/flownet/errors"
	"github.com/c360/flownet/event"
	"github.com/c360/flownet/metric"
	"github.com/c360/flownet/nodestore"
	"github.com/c360/flownet/resource"
	"github.com/c360/flownet/statecache"
)

// Engine is the conversion engine. All methods are safe for concurrent use.
type Engine struct {
	mu        sync.Mutex
	recipes   map[string]*Recipe
	processes map[string]*Process

	store   *nodestore.Store
	states  *statecache.Cache
	events  *event.Publisher
	metrics *metric.Metrics
	logger  *slog.Logger
	rng     *rand.Rand
	clock   func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithRand overrides the random source used for quality variance and
// byproduct trials.
func WithRand(rng *rand.Rand) Option {
	return func(e *Engine) { e.rng = rng }
}

// WithClock overrides the time source.
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) { e.clock = clock }
}

// NewEngine creates a conversion engine bound to the node store and state
// cache. events and metrics may be nil.
func NewEngine(store *nodestore.Store, states *statecache.Cache, events *event.Publisher, metrics *metric.Metrics, logger *slog.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		recipes:   make(map[string]*Recipe),
		processes: make(map[string]*Process),
		store:     store,
		states:    states,
		events:    events,
		metrics:   metrics,
		logger:    logger,
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
		clock:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// RegisterRecipe adds a recipe to the registry. Re-registering an ID
// overwrites the previous definition.
func (e *Engine) RegisterRecipe(r *Recipe) error {
	if err := validateRecipe(r); err != nil {
		e.logger.Warn("Recipe registration rejected", "error", err)
		return err
	}

	e.mu.Lock()
	e.recipes[r.ID] = cloneRecipe(r)
	e.mu.Unlock()

	e.logger.Debug("Recipe registered", "recipe", r.ID, "inputs", len(r.Inputs), "outputs", len(r.Outputs))
	return nil
}

// UnregisterRecipe removes a recipe. Unknown IDs are a no-op returning false.
func (e *Engine) UnregisterRecipe(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.recipes[id]; !ok {
		return false
	}
	delete(e.recipes, id)
	return true
}

// Recipe returns a copy of the recipe with the given ID.
func (e *Engine) Recipe(id string) (*Recipe, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	r, ok := e.recipes[id]
	if !ok {
		return nil, false
	}
	return cloneRecipe(r), true
}

// Recipes returns copies of every registered recipe.
func (e *Engine) Recipes() []*Recipe {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*Recipe, 0, len(e.recipes))
	for _, r := range e.recipes {
		out = append(out, cloneRecipe(r))
	}
	return out
}

// StartProcess starts a standalone conversion at a converter.
func (e *Engine) StartProcess(converterID, recipeID string) (*Process, error) {
	return e.start(converterID, recipeID, "", 0)
}

// StartChainProcess starts a conversion on behalf of a chain step. The
// converter's chain bonus applies to the efficiency.
func (e *Engine) StartChainProcess(converterID, recipeID, executionID string, step int) (*Process, error) {
	return e.start(converterID, recipeID, executionID, step)
}

func (e *Engine) start(converterID, recipeID, executionID string, step int) (*Process, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	recipe, ok := e.recipes[recipeID]
	if !ok {
		return nil, errors.WrapInvalid(
			fmt.Errorf("recipe %q not registered: %w", recipeID, errors.ErrNotFound),
			"conversion", "start", "recipe lookup")
	}

	node, ok := e.store.Node(converterID)
	if !ok || node.Role != nodestore.RoleConverter || node.Converter == nil {
		return nil, errors.WrapInvalid(
			fmt.Errorf("converter %q not registered: %w", converterID, errors.ErrNotFound),
			"conversion", "start", "converter lookup")
	}
	if !node.Active {
		return nil, errors.WrapInvalid(
			fmt.Errorf("converter %q is inactive: %w", converterID, errors.ErrValidation),
			"conversion", "start", "converter check")
	}
	if !node.Converter.Supports(recipeID) {
		return nil, errors.WrapInvalid(
			fmt.Errorf("converter %q does not support recipe %q: %w", converterID, recipeID, errors.ErrValidation),
			"conversion", "start", "converter check")
	}

	if max := node.Converter.MaxConcurrentProcesses; max > 0 && node.Status != nil && len(node.Status.ActiveProcesses) >= max {
		err := errors.WrapInvalid(
			fmt.Errorf("converter %q at concurrent process limit %d: %w", converterID, max, errors.ErrCapacityExceeded),
			"conversion", "start", "capacity check")
		e.failStart(recipeID, converterID, "capacity_exceeded")
		return nil, err
	}

	efficiency := e.calculateEfficiency(node, recipe, executionID != "")

	if err := e.states.ConsumeAll(recipe.Inputs); err != nil {
		e.failStart(recipeID, converterID, "insufficient_resource")
		return nil, err
	}

	now := e.clock()
	duration := time.Duration(float64(recipe.ProcessingTime) / efficiency)
	p := &Process{
		ID:                uuid.NewString(),
		RecipeID:          recipeID,
		ConverterID:       converterID,
		Status:            StatusPending,
		AppliedEfficiency: efficiency,
		StartTime:         now,
		EndTime:           now.Add(duration),
		ChainExecutionID:  executionID,
		ChainStep:         step,
		duration:          duration,
		runningSince:      now,
	}
	p.Status = StatusActive
	e.processes[p.ID] = p

	e.store.UpdateConverterStatus(converterID, func(s *nodestore.ConverterStatus) {
		s.ActiveProcesses = append(s.ActiveProcesses, p.ID)
	})

	if e.metrics != nil {
		e.metrics.ConversionsStarted.Inc()
		e.metrics.ActiveProcesses.Inc()
	}
	if e.events != nil {
		e.events.Publish(event.NewConversionStarted(p.ID, recipeID, converterID, efficiency))
		for _, in := range recipe.Inputs {
			e.events.Publish(event.NewResourceConsumed(in.Type, in.Amount, converterID))
		}
	}

	e.logger.Info("Conversion started",
		"process", p.ID, "recipe", recipeID, "converter", converterID,
		"efficiency", efficiency, "duration", duration)
	return cloneProcess(p), nil
}

// failStart records a rejected start. No state was mutated.
func (e *Engine) failStart(recipeID, converterID, reason string) {
	if e.metrics != nil {
		e.metrics.ConversionsFailed.WithLabelValues(reason).Inc()
	}
	if e.events != nil {
		e.events.Publish(event.NewConversionFailed("", recipeID, converterID, reason))
	}
}

// Pause suspends an active process. Progress and the completion deadline
// freeze until Resume.
func (e *Engine) Pause(processID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, ok := e.processes[processID]
	if !ok {
		return errors.WrapInvalid(
			fmt.Errorf("process %q not found: %w", processID, errors.ErrNotFound),
			"conversion", "Pause", "lookup")
	}
	if p.Status != StatusActive {
		return errors.WrapInvalid(
			fmt.Errorf("process %q is %s, not active: %w", processID, p.Status, errors.ErrValidation),
			"conversion", "Pause", "transition check")
	}

	now := e.clock()
	p.accrued += now.Sub(p.runningSince)
	p.Status = StatusPaused
	p.updateProgress(now)

	e.logger.Info("Conversion paused", "process", processID, "progress", p.Progress)
	return nil
}

// Resume restarts a paused process and pushes its deadline out by the time
// spent paused.
func (e *Engine) Resume(processID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, ok := e.processes[processID]
	if !ok {
		return errors.WrapInvalid(
			fmt.Errorf("process %q not found: %w", processID, errors.ErrNotFound),
			"conversion", "Resume", "lookup")
	}
	if p.Status != StatusPaused {
		return errors.WrapInvalid(
			fmt.Errorf("process %q is %s, not paused: %w", processID, p.Status, errors.ErrValidation),
			"conversion", "Resume", "transition check")
	}

	now := e.clock()
	p.Status = StatusActive
	p.runningSince = now
	p.EndTime = now.Add(p.duration - p.accrued)

	e.logger.Info("Conversion resumed", "process", processID, "progress", p.Progress)
	return nil
}

// Cancel fails an active or paused process. Consumed inputs are not
// refunded: scarcity is intentional, a cancelled batch is a lost batch.
func (e *Engine) Cancel(processID string) (*Process, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, ok := e.processes[processID]
	if !ok {
		return nil, errors.WrapInvalid(
			fmt.Errorf("process %q not found: %w", processID, errors.ErrNotFound),
			"conversion", "Cancel", "lookup")
	}
	if p.Status.Terminal() {
		return nil, errors.WrapInvalid(
			fmt.Errorf("process %q already %s: %w", processID, p.Status, errors.ErrValidation),
			"conversion", "Cancel", "transition check")
	}

	now := e.clock()
	p.updateProgress(now)
	p.Status = StatusFailed
	p.FailureReason = "cancelled"
	p.EndTime = now
	delete(e.processes, processID)

	e.store.UpdateConverterStatus(p.ConverterID, func(s *nodestore.ConverterStatus) {
		s.ActiveProcesses = removeID(s.ActiveProcesses, processID)
		s.FailedCount++
	})

	if e.metrics != nil {
		e.metrics.ConversionsFailed.WithLabelValues("cancelled").Inc()
		e.metrics.ActiveProcesses.Dec()
	}
	if e.events != nil {
		e.events.Publish(event.NewConversionFailed(processID, p.RecipeID, p.ConverterID, "cancelled"))
	}

	e.logger.Info("Conversion cancelled", "process", processID, "progress", p.Progress)
	return cloneProcess(p), nil
}

// Tick advances every active process and completes those whose progress
// reached 1. It returns copies of the processes that hit a terminal state
// during this tick, for chain bookkeeping.
func (e *Engine) Tick(now time.Time) []*Process {
	e.mu.Lock()
	defer e.mu.Unlock()

	var done []*Process
	for _, p := range e.processes {
		if p.Status != StatusActive {
			continue
		}
		p.updateProgress(now)
		if p.Progress >= 1 {
			e.completeLocked(p, now)
			done = append(done, cloneProcess(p))
		}
	}
	for _, p := range done {
		delete(e.processes, p.ID)
	}
	return done
}

// completeLocked credits outputs and byproducts, updates converter counters
// and emits ConversionCompleted. Caller holds e.mu.
func (e *Engine) completeLocked(p *Process, now time.Time) {
	p.Status = StatusCompleted
	p.Progress = 1
	p.EndTime = now

	recipe := e.recipes[p.RecipeID]
	outputs := make(map[resource.Type]float64)
	if recipe != nil {
		for _, out := range recipe.Outputs {
			amount := math.Floor(out.Amount * p.AppliedEfficiency)
			if amount < 1 {
				amount = 1
			}
			outputs[out.Type] += amount
			if err := e.states.Produce(out.Type, amount); err != nil {
				e.logger.Warn("Output credit failed", "process", p.ID, "resource", out.Type, "error", err)
			}
			if e.events != nil {
				e.events.Publish(event.NewResourceProduced(out.Type, amount, p.ConverterID))
			}
		}
	}

	byproducts := e.rollByproducts(p.ConverterID)

	e.store.UpdateConverterStatus(p.ConverterID, func(s *nodestore.ConverterStatus) {
		s.ActiveProcesses = removeID(s.ActiveProcesses, p.ID)
		s.RecordCompletion(p.AppliedEfficiency)
	})

	if e.metrics != nil {
		e.metrics.ConversionsCompleted.Inc()
		e.metrics.ActiveProcesses.Dec()
	}
	if e.events != nil {
		e.events.Publish(event.NewConversionCompleted(p.ID, p.RecipeID, p.ConverterID, outputs, byproducts, p.AppliedEfficiency))
	}

	e.logger.Info("Conversion completed",
		"process", p.ID, "recipe", p.RecipeID, "converter", p.ConverterID,
		"efficiency", p.AppliedEfficiency, "byproducts", len(byproducts))
}

// rollByproducts runs one independent trial per configured byproduct,
// crediting 1 to 3 units on success. Caller holds e.mu.
func (e *Engine) rollByproducts(converterID string) map[resource.Type]float64 {
	node, ok := e.store.Node(converterID)
	if !ok || node.Converter == nil || len(node.Converter.Byproducts) == 0 {
		return nil
	}

	types := make([]resource.Type, 0, len(node.Converter.Byproducts))
	for t := range node.Converter.Byproducts {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })

	byproducts := make(map[resource.Type]float64)
	for _, t := range types {
		if e.rng.Float64() >= node.Converter.Byproducts[t] {
			continue
		}
		units := float64(1 + e.rng.Intn(3))
		byproducts[t] = units
		if err := e.states.Produce(t, units); err != nil {
			e.logger.Warn("Byproduct credit failed", "converter", converterID, "resource", t, "error", err)
		}
		if e.events != nil {
			e.events.Publish(event.NewResourceProduced(t, units, converterID))
		}
	}
	if len(byproducts) == 0 {
		return nil
	}
	return byproducts
}

// Process returns a copy of a live (non-terminal) process.
func (e *Engine) Process(processID string) (*Process, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.processes[processID]
	if !ok {
		return nil, false
	}
	return cloneProcess(p), true
}

// ActiveProcesses returns copies of every live process, paused included.
func (e *Engine) ActiveProcesses() []*Process {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*Process, 0, len(e.processes))
	for _, p := range e.processes {
		out = append(out, cloneProcess(p))
	}
	return out
}

// ConverterProcesses returns copies of the live processes owned by one
// converter.
func (e *Engine) ConverterProcesses(converterID string) []*Process {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []*Process
	for _, p := range e.processes {
		if p.ConverterID == converterID {
			out = append(out, cloneProcess(p))
		}
	}
	return out
}

func removeID(ids []string, id string) []string {
	out := ids[:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
