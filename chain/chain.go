// Package chain orchestrates multi-step conversion chains: ordered recipe
// sequences executed across converter nodes as one job. Step failures are
// terminal for the whole chain and are never retried.
package chain

import (
	"fmt"
	"time"

	"github.com/c360/flownet/errors"
)

// Chain is an ordered list of recipe IDs executed as one multi-step job.
type Chain struct {
	ID          string   `json:"id"`
	Name        string   `json:"name,omitempty"`
	Description string   `json:"description,omitempty"`
	Steps       []string `json:"steps"`
}

func validateChain(c *Chain) error {
	if c == nil {
		return errors.WrapInvalid(
			fmt.Errorf("chain cannot be nil: %w", errors.ErrValidation),
			"chain", "validateChain", "validation")
	}
	if c.ID == "" {
		return errors.WrapInvalid(
			fmt.Errorf("chain ID cannot be empty: %w", errors.ErrValidation),
			"chain", "validateChain", "validation")
	}
	if len(c.Steps) == 0 {
		return errors.WrapInvalid(
			fmt.Errorf("chain %q has no steps: %w", c.ID, errors.ErrValidation),
			"chain", "validateChain", "validation")
	}
	for i, step := range c.Steps {
		if step == "" {
			return errors.WrapInvalid(
				fmt.Errorf("chain %q step %d has empty recipe ID: %w", c.ID, i, errors.ErrValidation),
				"chain", "validateChain", "validation")
		}
	}
	return nil
}

func cloneChain(c *Chain) *Chain {
	out := *c
	out.Steps = append([]string(nil), c.Steps...)
	return &out
}

// StepState is one step's position in its lifecycle.
type StepState string

// Step states.
const (
	StepPending    StepState = "pending"
	StepInProgress StepState = "in_progress"
	StepCompleted  StepState = "completed"
	StepFailed     StepState = "failed"
)

// StepStatus tracks one chain step across an execution.
type StepStatus struct {
	RecipeID  string    `json:"recipe_id"`
	State     StepState `json:"state"`
	ProcessID string    `json:"process_id,omitempty"`
}

// Execution is one run of a chain. It is terminal once Completed or Failed
// is set; a failed execution is never resumed or retried.
type Execution struct {
	ID          string       `json:"id"`
	ChainID     string       `json:"chain_id"`
	CurrentStep int          `json:"current_step"`
	Steps       []StepStatus `json:"steps"`
	Active      bool         `json:"active"`
	Paused      bool         `json:"paused"`
	Completed   bool         `json:"completed"`
	Failed      bool         `json:"failed"`

	// ErrorMessage names what failed the chain, empty otherwise.
	ErrorMessage string `json:"error_message,omitempty"`

	// Progress is per-step credit averaged over the step count: 1 for a
	// completed step, live process progress for the in-progress step.
	Progress float64 `json:"progress"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitempty"`
}

func cloneExecution(e *Execution) *Execution {
	out := *e
	out.Steps = append([]StepStatus(nil), e.Steps...)
	return &out
}
