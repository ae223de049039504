package progress

import (
	"time"
)

// AgentState represents the execution state of a single agent.
type AgentState string

const (
	AgentPending   AgentState = "pending"
	AgentRunning   AgentState = "running"
	AgentCompleted AgentState = "completed"
	AgentFailed    AgentState = "failed"
	AgentTimeout   AgentState = "timeout"
	AgentCancelled AgentState = "cancelled"
)

// Terminal reports whether the state admits no further transitions.
func (s AgentState) Terminal() bool {
	switch s {
	case AgentCompleted, AgentFailed, AgentTimeout, AgentCancelled:
		return true
	}
	return false
}

// AgentProgress tracks one named unit of work inside a workflow.
// It is not safe for concurrent use on its own; the owning
// WorkflowProgress serializes all access under its lock.
type AgentProgress struct {
	AgentName               string
	State                   AgentState
	ProgressPercentage      float64
	CurrentOperation        string
	StartTime               *time.Time
	EndTime                 *time.Time
	ExecutionTime           float64 // seconds, set on terminal transition
	ErrorMessage            string
	RetryCount              int
	EstimatedCompletionTime *time.Time
}

func newAgentProgress(name string) *AgentProgress {
	return &AgentProgress{
		AgentName: name,
		State:     AgentPending,
	}
}

// updateProgress clamps percentage into [0,100] and optionally replaces
// the current operation text. Out-of-range input is clamped, not rejected.
func (a *AgentProgress) updateProgress(percentage float64, operation string) {
	a.ProgressPercentage = clampPercentage(percentage)
	if operation != "" {
		a.CurrentOperation = operation
	}
}

func (a *AgentProgress) startExecution(now time.Time) {
	a.State = AgentRunning
	a.StartTime = &now
	a.ProgressPercentage = 0
}

func (a *AgentProgress) completeExecution(now time.Time) {
	a.State = AgentCompleted
	a.EndTime = &now
	a.ProgressPercentage = 100
	a.computeExecutionTime()
}

func (a *AgentProgress) failExecution(now time.Time, errMsg string) {
	a.State = AgentFailed
	a.EndTime = &now
	a.ErrorMessage = errMsg
	a.computeExecutionTime()
}

func (a *AgentProgress) timeoutExecution(now time.Time) {
	a.State = AgentTimeout
	a.EndTime = &now
	a.ErrorMessage = "Agent execution timed out"
	a.computeExecutionTime()
}

func (a *AgentProgress) cancelExecution(now time.Time) {
	a.State = AgentCancelled
	a.EndTime = &now
	a.computeExecutionTime()
}

// computeExecutionTime derives seconds between start and end. Only
// meaningful once both timestamps exist; callers invoke it on terminal
// transitions.
func (a *AgentProgress) computeExecutionTime() {
	if a.StartTime != nil && a.EndTime != nil {
		a.ExecutionTime = a.EndTime.Sub(*a.StartTime).Seconds()
	}
}

func (a *AgentProgress) summary() AgentSummary {
	return AgentSummary{
		AgentName:               a.AgentName,
		State:                   string(a.State),
		ProgressPercentage:      a.ProgressPercentage,
		CurrentOperation:        a.CurrentOperation,
		StartTime:               a.StartTime,
		EndTime:                 a.EndTime,
		ExecutionTime:           a.ExecutionTime,
		ErrorMessage:            a.ErrorMessage,
		RetryCount:              a.RetryCount,
		EstimatedCompletionTime: a.EstimatedCompletionTime,
	}
}

func clampPercentage(p float64) float64 {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
