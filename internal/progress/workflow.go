package progress

import (
	"sync"
	"time"
)

// WorkflowState represents the aggregate state of one workflow execution.
type WorkflowState string

const (
	WorkflowInitialized WorkflowState = "initialized"
	WorkflowRunning     WorkflowState = "running"
	WorkflowCompleted   WorkflowState = "completed"
	WorkflowFailed      WorkflowState = "failed"
	WorkflowDegraded    WorkflowState = "degraded"
	WorkflowCancelled   WorkflowState = "cancelled"
)

// Terminal reports whether no further transitions are expected.
func (s WorkflowState) Terminal() bool {
	switch s {
	case WorkflowCompleted, WorkflowFailed, WorkflowDegraded, WorkflowCancelled:
		return true
	}
	return false
}

// WorkflowProgress aggregates per-agent progress for one workflow
// execution. All methods are safe for concurrent use; handlers run on
// independent goroutines so every mutator and snapshot takes the lock.
type WorkflowProgress struct {
	mu sync.Mutex

	workflowID string
	contractID string
	state      WorkflowState

	totalAgents     int
	completedAgents int
	failedAgents    int
	runningAgents   int

	overallProgress float64
	currentStage    string
	currentAgent    string

	startTime               time.Time
	estimatedCompletionTime *time.Time
	endTime                 *time.Time
	totalExecutionTime      float64

	agents          map[string]*AgentProgress
	errorMessage    string
	recoveryActions []string
	metadata        map[string]interface{}

	nowFn func() time.Time
}

func newWorkflowProgress(workflowID, contractID string, totalAgents int, metadata map[string]interface{}) *WorkflowProgress {
	nowFn := time.Now
	return &WorkflowProgress{
		workflowID:  workflowID,
		contractID:  contractID,
		state:       WorkflowInitialized,
		totalAgents: totalAgents,
		startTime:   nowFn(),
		agents:      make(map[string]*AgentProgress),
		metadata:    metadata,
		nowFn:       nowFn,
	}
}

// ID returns the workflow identifier.
func (w *WorkflowProgress) ID() string { return w.workflowID }

// State returns the current workflow state.
func (w *WorkflowProgress) State() WorkflowState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// AddAgent registers an agent with state pending. Registering a name that
// already exists is a no-op; total_agents is never adjusted here.
func (w *WorkflowProgress) AddAgent(name string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.agents[name]; ok {
		return
	}
	w.agents[name] = newAgentProgress(name)
}

// StartAgent marks the named agent running. Unknown names are ignored.
func (w *WorkflowProgress) StartAgent(name string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	agent, ok := w.agents[name]
	if !ok {
		return
	}
	agent.startExecution(w.nowFn())
	w.currentAgent = name
	w.runningAgents++
	w.recomputeOverallProgress()
	w.recomputeState()
}

// CompleteAgent marks the named agent completed and rolls the workflow
// state forward. Unknown names are ignored.
func (w *WorkflowProgress) CompleteAgent(name string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	agent, ok := w.agents[name]
	if !ok {
		return
	}
	agent.completeExecution(w.nowFn())
	w.completedAgents++
	if w.runningAgents > 0 {
		w.runningAgents--
	}
	w.pickCurrentAgent()
	w.recomputeOverallProgress()
	w.recomputeState()
}

// FailAgent marks the named agent failed with the given error message.
func (w *WorkflowProgress) FailAgent(name, errMsg string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	agent, ok := w.agents[name]
	if !ok {
		return
	}
	agent.failExecution(w.nowFn(), errMsg)
	w.failedAgents++
	if w.runningAgents > 0 {
		w.runningAgents--
	}
	w.pickCurrentAgent()
	w.recomputeOverallProgress()
	w.recomputeState()
}

// TimeoutAgent marks the named agent timed out. Nothing in the tracker
// invokes this on its own; timeout detection belongs to the orchestrator.
func (w *WorkflowProgress) TimeoutAgent(name string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	agent, ok := w.agents[name]
	if !ok {
		return
	}
	agent.timeoutExecution(w.nowFn())
	w.failedAgents++
	if w.runningAgents > 0 {
		w.runningAgents--
	}
	w.pickCurrentAgent()
	w.recomputeOverallProgress()
	w.recomputeState()
}

// UpdateAgentProgress updates one agent's percentage and operation text.
// Only the overall percentage is recomputed here; workflow state is
// refreshed on start/complete/fail, which is when it can actually change.
func (w *WorkflowProgress) UpdateAgentProgress(name string, percentage float64, operation string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	agent, ok := w.agents[name]
	if !ok {
		return
	}
	agent.updateProgress(percentage, operation)
	w.recomputeOverallProgress()
}

// SetStage updates the free-text stage description.
func (w *WorkflowProgress) SetStage(stage string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.currentStage = stage
}

// RecordRecoveryAction appends one entry to the audit trail.
func (w *WorkflowProgress) RecordRecoveryAction(action string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.recoveryActions = append(w.recoveryActions, action)
}

// Cancel flips the workflow to cancelled and cancels every agent that is
// currently running. Agents in any other state, pending included, are left
// untouched.
func (w *WorkflowProgress) Cancel() {
	w.mu.Lock()
	defer w.mu.Unlock()
	now := w.nowFn()
	w.state = WorkflowCancelled
	w.stampEnd(now)
	for _, agent := range w.agents {
		if agent.State == AgentRunning {
			agent.cancelExecution(now)
			if w.runningAgents > 0 {
				w.runningAgents--
			}
		}
	}
	w.currentAgent = ""
}

// EstimateCompletionTime linearly extrapolates remaining time from elapsed
// time and overall percentage. Returns nil when no progress has been made
// or the extrapolation yields nothing ahead of now. No smoothing.
func (w *WorkflowProgress) EstimateCompletionTime() *time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.overallProgress <= 0 {
		return nil
	}
	now := w.nowFn()
	elapsed := now.Sub(w.startTime).Seconds()
	if elapsed <= 0 {
		return nil
	}
	estimatedTotal := elapsed / (w.overallProgress / 100)
	remaining := estimatedTotal - elapsed
	if remaining <= 0 {
		return nil
	}
	eta := now.Add(time.Duration(remaining * float64(time.Second)))
	w.estimatedCompletionTime = &eta
	return &eta
}

// Agent returns a snapshot of one agent, or false if unknown.
func (w *WorkflowProgress) Agent(name string) (AgentSummary, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	agent, ok := w.agents[name]
	if !ok {
		return AgentSummary{}, false
	}
	return agent.summary(), true
}

// Summary produces the canonical serializable snapshot of the workflow.
func (w *WorkflowProgress) Summary() WorkflowSummary {
	w.mu.Lock()
	defer w.mu.Unlock()
	agents := make(map[string]AgentSummary, len(w.agents))
	for name, agent := range w.agents {
		agents[name] = agent.summary()
	}
	var recovery []string
	if len(w.recoveryActions) > 0 {
		recovery = append(recovery, w.recoveryActions...)
	}
	var metadata map[string]interface{}
	if len(w.metadata) > 0 {
		metadata = make(map[string]interface{}, len(w.metadata))
		for k, v := range w.metadata {
			metadata[k] = v
		}
	}
	return WorkflowSummary{
		WorkflowID:                w.workflowID,
		ContractID:                w.contractID,
		WorkflowState:             string(w.state),
		TotalAgents:               w.totalAgents,
		CompletedAgents:           w.completedAgents,
		FailedAgents:              w.failedAgents,
		RunningAgents:             w.runningAgents,
		OverallProgressPercentage: w.overallProgress,
		CurrentStage:              w.currentStage,
		CurrentAgent:              w.currentAgent,
		StartTime:                 w.startTime,
		EstimatedCompletionTime:   w.estimatedCompletionTime,
		EndTime:                   w.endTime,
		TotalExecutionTime:        w.totalExecutionTime,
		AgentProgress:             agents,
		ErrorMessage:              w.errorMessage,
		RecoveryActions:           recovery,
		Metadata:                  metadata,
	}
}

// recomputeOverallProgress keeps the overall percentage equal to the
// arithmetic mean over registered agents. Agents the caller declared in
// total_agents but never registered do not count, so a workflow can read
// 100% with registrations outstanding; callers rely on that reading.
func (w *WorkflowProgress) recomputeOverallProgress() {
	if len(w.agents) == 0 {
		w.overallProgress = 0
		return
	}
	var sum float64
	for _, agent := range w.agents {
		sum += agent.ProgressPercentage
	}
	w.overallProgress = sum / float64(len(w.agents))
}

// recomputeState derives the workflow state from agent counters. The rule
// keys off registered agents, not total_agents.
func (w *WorkflowProgress) recomputeState() {
	finished := w.completedAgents + w.failedAgents
	tracked := len(w.agents)
	switch {
	case w.failedAgents > 0 && finished == tracked:
		if w.completedAgents > 0 {
			w.state = WorkflowDegraded
		} else {
			w.state = WorkflowFailed
		}
		w.stampEnd(w.nowFn())
	case w.completedAgents == tracked && tracked > 0:
		w.state = WorkflowCompleted
		w.stampEnd(w.nowFn())
	case w.runningAgents > 0 || w.completedAgents > 0:
		w.state = WorkflowRunning
	}
	// otherwise the state is left as is; a workflow stays initialized
	// until the first agent starts or completes
}

// stampEnd records end_time and total_execution_time once. Later terminal
// recomputations never move them.
func (w *WorkflowProgress) stampEnd(now time.Time) {
	if w.endTime != nil {
		return
	}
	w.endTime = &now
	w.totalExecutionTime = now.Sub(w.startTime).Seconds()
}

// pickCurrentAgent selects an arbitrary still-running agent, or clears the
// field when none remain.
func (w *WorkflowProgress) pickCurrentAgent() {
	for name, agent := range w.agents {
		if agent.State == AgentRunning {
			w.currentAgent = name
			return
		}
	}
	w.currentAgent = ""
}
