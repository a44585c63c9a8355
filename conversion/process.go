package conversion

import (
	"time"
)

// Status is a process's position in its lifecycle. Transitions are
// Pending -> Active -> {Completed | Failed | Paused}; Paused may resume to
// Active, Completed and Failed are terminal.
type Status string

// Process statuses.
const (
	StatusPending   Status = "pending"
	StatusActive    Status = "active"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Process is one in-flight execution of a recipe at a converter.
type Process struct {
	ID          string  `json:"id"`
	RecipeID    string  `json:"recipe_id"`
	ConverterID string  `json:"converter_id"`
	Status      Status  `json:"status"`
	Progress    float64 `json:"progress"`

	// AppliedEfficiency is fixed at start and scales both duration and
	// output amounts.
	AppliedEfficiency float64 `json:"applied_efficiency"`

	StartTime time.Time `json:"start_time"`
	// EndTime is the scheduled completion; pauses push it out.
	EndTime time.Time `json:"end_time"`

	// FailureReason is set when Status is Failed.
	FailureReason string `json:"failure_reason,omitempty"`

	// Chain linkage, empty for standalone processes.
	ChainExecutionID string `json:"chain_execution_id,omitempty"`
	ChainStep        int    `json:"chain_step,omitempty"`

	// duration is processingTime scaled by efficiency.
	duration time.Duration
	// accrued is run time banked before the most recent resume.
	accrued time.Duration
	// runningSince is when the process last entered Active.
	runningSince time.Time
}

// elapsed returns total active run time as of now.
func (p *Process) elapsed(now time.Time) time.Duration {
	e := p.accrued
	if p.Status == StatusActive {
		e += now.Sub(p.runningSince)
	}
	return e
}

// updateProgress recomputes Progress from elapsed run time.
func (p *Process) updateProgress(now time.Time) {
	if p.duration <= 0 {
		p.Progress = 1
		return
	}
	progress := float64(p.elapsed(now)) / float64(p.duration)
	if progress > 1 {
		progress = 1
	}
	p.Progress = progress
}

func cloneProcess(p *Process) *Process {
	out := *p
	return &out
}
