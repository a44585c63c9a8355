package chain

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/c360/flownet/conversion"
	"github.com/c360/flownet/errors"
	"github.com/c360/flownet/event"
	"github.com/c360/flownet/metric"
	"github.com/c360/flownet/nodestore"
)

// Orchestrator owns chain definitions and their executions. It hands each
// step to the conversion engine and advances on the terminal processes the
// engine's tick reports back.
type Orchestrator struct {
	mu     sync.Mutex
	chains map[string]*Chain
	execs  map[string]*Execution

	store       *nodestore.Store
	conversions *conversion.Engine
	events      *event.Publisher
	metrics     *metric.Metrics
	logger      *slog.Logger
	clock       func() time.Time
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithClock overrides the time source.
func WithClock(clock func() time.Time) Option {
	return func(o *Orchestrator) { o.clock = clock }
}

// NewOrchestrator creates a chain orchestrator. events and metrics may be
// nil.
func NewOrchestrator(store *nodestore.Store, conversions *conversion.Engine, events *event.Publisher, metrics *metric.Metrics, logger *slog.Logger, opts ...Option) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	o := &Orchestrator{
		chains:      make(map[string]*Chain),
		execs:       make(map[string]*Execution),
		store:       store,
		conversions: conversions,
		events:      events,
		metrics:     metrics,
		logger:      logger,
		clock:       time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// RegisterChain adds a chain definition. Step recipes are resolved at
// execution time, not here, so chains may be registered before their
// recipes.
func (o *Orchestrator) RegisterChain(c *Chain) error {
	if err := validateChain(c); err != nil {
		o.logger.Warn("Chain registration rejected", "error", err)
		return err
	}

	o.mu.Lock()
	o.chains[c.ID] = cloneChain(c)
	o.mu.Unlock()

	o.logger.Debug("Chain registered", "chain", c.ID, "steps", len(c.Steps))
	return nil
}

// UnregisterChain removes a chain definition. Running executions are
// unaffected. Unknown IDs are a no-op returning false.
func (o *Orchestrator) UnregisterChain(id string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.chains[id]; !ok {
		return false
	}
	delete(o.chains, id)
	return true
}

// Chain returns a copy of a chain definition.
func (o *Orchestrator) Chain(id string) (*Chain, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	c, ok := o.chains[id]
	if !ok {
		return nil, false
	}
	return cloneChain(c), true
}

// Chains returns copies of every registered chain.
func (o *Orchestrator) Chains() []*Chain {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]*Chain, 0, len(o.chains))
	for _, c := range o.chains {
		out = append(out, cloneChain(c))
	}
	return out
}

// StartChain begins a new execution of a chain and immediately processes its
// first step. A first-step failure still returns the execution, already
// marked Failed.
func (o *Orchestrator) StartChain(chainID string) (*Execution, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	c, ok := o.chains[chainID]
	if !ok {
		return nil, errors.WrapInvalid(
			fmt.Errorf("chain %q not registered: %w", chainID, errors.ErrNotFound),
			"chain", "StartChain", "lookup")
	}

	exec := &Execution{
		ID:        uuid.NewString(),
		ChainID:   chainID,
		Steps:     make([]StepStatus, len(c.Steps)),
		Active:    true,
		StartedAt: o.clock(),
	}
	for i, recipeID := range c.Steps {
		exec.Steps[i] = StepStatus{RecipeID: recipeID, State: StepPending}
	}
	o.execs[exec.ID] = exec

	o.logger.Info("Chain execution started", "chain", chainID, "execution", exec.ID, "steps", len(c.Steps))
	o.processNextStepLocked(exec)
	return o.snapshotLocked(exec), nil
}

// StopChain cancels an execution: the in-flight step's process is cancelled
// and the execution is marked Failed. Unknown or already terminal executions
// return false.
func (o *Orchestrator) StopChain(executionID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	exec, ok := o.execs[executionID]
	if !ok || exec.Completed || exec.Failed {
		return false
	}

	step := &exec.Steps[exec.CurrentStep]
	if step.State == StepInProgress && step.ProcessID != "" {
		// The cancelled process reports back through ObserveProcess, but
		// the execution is already terminal by then.
		if _, err := o.conversions.Cancel(step.ProcessID); err != nil {
			o.logger.Warn("Chain stop could not cancel process",
				"execution", executionID, "process", step.ProcessID, "error", err)
		}
	}
	o.failLocked(exec, exec.CurrentStep, "stopped by request")
	return true
}

// PauseExecution keeps the current step running but stops the chain from
// advancing past it.
func (o *Orchestrator) PauseExecution(executionID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	exec, ok := o.execs[executionID]
	if !ok || exec.Completed || exec.Failed || exec.Paused {
		return false
	}
	exec.Paused = true
	return true
}

// ResumeExecution lifts a pause. If the current step already finished while
// paused, the next step is processed immediately.
func (o *Orchestrator) ResumeExecution(executionID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	exec, ok := o.execs[executionID]
	if !ok || exec.Completed || exec.Failed || !exec.Paused {
		return false
	}
	exec.Paused = false
	if exec.Steps[exec.CurrentStep].State == StepPending {
		o.processNextStepLocked(exec)
	}
	return true
}

// ObserveProcess ingests a terminal conversion process. Processes not linked
// to a live execution are ignored.
func (o *Orchestrator) ObserveProcess(p *conversion.Process) {
	if p == nil || p.ChainExecutionID == "" {
		return
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	exec, ok := o.execs[p.ChainExecutionID]
	if !ok || exec.Completed || exec.Failed {
		return
	}
	if p.ChainStep >= len(exec.Steps) || exec.Steps[p.ChainStep].ProcessID != p.ID {
		return
	}

	switch p.Status {
	case conversion.StatusCompleted:
		o.completeStepLocked(exec, p.ChainStep)
	case conversion.StatusFailed:
		o.failLocked(exec, p.ChainStep,
			fmt.Sprintf("step %d process failed: %s", p.ChainStep, p.FailureReason))
	}
}

// Execution returns a copy of an execution with Progress freshly computed.
func (o *Orchestrator) Execution(executionID string) (*Execution, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	exec, ok := o.execs[executionID]
	if !ok {
		return nil, false
	}
	return o.snapshotLocked(exec), true
}

// Executions returns copies of every execution, terminal ones included.
func (o *Orchestrator) Executions() []*Execution {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]*Execution, 0, len(o.execs))
	for _, exec := range o.execs {
		out = append(out, o.snapshotLocked(exec))
	}
	return out
}

// processNextStepLocked starts the execution's current step: it resolves the
// recipe, picks the most efficient eligible converter and hands the step to
// the conversion engine. Any failure is terminal for the chain.
func (o *Orchestrator) processNextStepLocked(exec *Execution) {
	step := exec.CurrentStep
	recipeID := exec.Steps[step].RecipeID

	if _, ok := o.conversions.Recipe(recipeID); !ok {
		o.failLocked(exec, step, fmt.Sprintf("step %d references unregistered recipe %q", step, recipeID))
		return
	}

	conv := o.selectConverter(recipeID)
	if conv == nil {
		o.failLocked(exec, step, fmt.Sprintf("no eligible converter for recipe %q at step %d", recipeID, step))
		return
	}

	p, err := o.conversions.StartChainProcess(conv.ID, recipeID, exec.ID, step)
	if err != nil {
		o.failLocked(exec, step, fmt.Sprintf("step %d start failed on converter %q: %v", step, conv.ID, err))
		return
	}

	exec.Steps[step].State = StepInProgress
	exec.Steps[step].ProcessID = p.ID
	o.logger.Info("Chain step started",
		"execution", exec.ID, "step", step, "recipe", recipeID, "converter", conv.ID, "process", p.ID)
}

// selectConverter returns the active converter supporting the recipe with
// spare concurrent-process capacity, preferring higher node efficiency.
func (o *Orchestrator) selectConverter(recipeID string) *nodestore.Node {
	var best *nodestore.Node
	for _, node := range o.store.NodesByRole(nodestore.RoleConverter) {
		if !node.Active || node.Converter == nil || !node.Converter.Supports(recipeID) {
			continue
		}
		if max := node.Converter.MaxConcurrentProcesses; max > 0 && node.Status != nil && len(node.Status.ActiveProcesses) >= max {
			continue
		}
		if best == nil || node.Efficiency > best.Efficiency {
			best = node
		}
	}
	return best
}

func (o *Orchestrator) completeStepLocked(exec *Execution, step int) {
	exec.Steps[step].State = StepCompleted

	if step == len(exec.Steps)-1 {
		exec.Completed = true
		exec.Active = false
		exec.Progress = 1
		exec.FinishedAt = o.clock()

		if o.metrics != nil {
			o.metrics.ChainsCompleted.Inc()
		}
		if o.events != nil {
			o.events.Publish(event.NewChainCompleted(exec.ChainID, exec.ID))
		}
		o.logger.Info("Chain execution completed", "chain", exec.ChainID, "execution", exec.ID)
		return
	}

	exec.CurrentStep = step + 1
	if exec.Active && !exec.Paused {
		o.processNextStepLocked(exec)
	}
}

func (o *Orchestrator) failLocked(exec *Execution, step int, message string) {
	exec.Steps[step].State = StepFailed
	exec.Failed = true
	exec.Active = false
	exec.ErrorMessage = message
	exec.FinishedAt = o.clock()

	if o.metrics != nil {
		o.metrics.ChainsFailed.Inc()
	}
	if o.events != nil {
		o.events.Publish(event.NewChainFailed(exec.ChainID, exec.ID, step, message))
	}
	o.logger.Warn("Chain execution failed",
		"chain", exec.ChainID, "execution", exec.ID, "step", step, "reason", message)
}

// snapshotLocked clones an execution and recomputes Progress from live
// process state.
func (o *Orchestrator) snapshotLocked(exec *Execution) *Execution {
	out := cloneExecution(exec)
	if exec.Completed {
		out.Progress = 1
		return out
	}

	var credit float64
	for _, s := range exec.Steps {
		switch s.State {
		case StepCompleted:
			credit++
		case StepInProgress:
			if p, ok := o.conversions.Process(s.ProcessID); ok {
				credit += p.Progress
			}
		}
	}
	out.Progress = credit / float64(len(exec.Steps))
	return out
}
