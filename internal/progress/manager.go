package progress

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/contractpulse/tracker/internal/metrics"
)

// SnapshotSink receives a fresh workflow summary after every mutation.
// Implementations must be best-effort and must not block the caller for
// long; delivery failures stay inside the sink.
type SnapshotSink interface {
	PutSnapshot(summary WorkflowSummary)
}

// Archiver receives the final summary of a workflow exactly once, when it
// first enters a terminal state.
type Archiver interface {
	ArchiveWorkflow(summary WorkflowSummary)
}

// Manager is the process-wide registry of live workflow executions. It is
// constructed explicitly and injected wherever tracking is needed, so
// tests get isolated instances. State is in-memory only and lost on
// restart; the optional sinks mirror it outward without owning it.
type Manager struct {
	mu        sync.RWMutex
	workflows map[string]*WorkflowProgress

	logger   *zap.Logger
	mirror   SnapshotSink
	archiver Archiver
	nowFn    func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithMirror attaches a snapshot sink notified after every mutation.
func WithMirror(sink SnapshotSink) Option {
	return func(m *Manager) { m.mirror = sink }
}

// WithArchiver attaches an archiver notified on terminal transitions.
func WithArchiver(a Archiver) Option {
	return func(m *Manager) { m.archiver = a }
}

// NewManager creates an empty workflow registry.
func NewManager(logger *zap.Logger, opts ...Option) *Manager {
	m := &Manager{
		workflows: make(map[string]*WorkflowProgress),
		logger:    logger,
		nowFn:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// CreateOption configures workflow creation.
type CreateOption func(*createConfig)

type createConfig struct {
	contractID string
	metadata   map[string]interface{}
}

// WithContractID links the workflow to the contract being analyzed.
func WithContractID(id string) CreateOption {
	return func(c *createConfig) { c.contractID = id }
}

// WithMetadata attaches caller-supplied context to the workflow.
func WithMetadata(md map[string]interface{}) CreateOption {
	return func(c *createConfig) { c.metadata = md }
}

// CreateWorkflow registers a new workflow with every named agent in state
// pending. An existing workflow under the same id is silently replaced;
// id uniqueness is the caller's concern.
func (m *Manager) CreateWorkflow(workflowID string, agentNames []string, opts ...CreateOption) *WorkflowProgress {
	var cfg createConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	wp := newWorkflowProgress(workflowID, cfg.contractID, len(agentNames), cfg.metadata)
	wp.nowFn = m.nowFn
	wp.startTime = m.nowFn()
	for _, name := range agentNames {
		wp.AddAgent(name)
	}

	m.mu.Lock()
	m.workflows[workflowID] = wp
	m.mu.Unlock()

	m.logger.Info("Workflow tracking started",
		zap.String("workflow_id", workflowID),
		zap.String("contract_id", cfg.contractID),
		zap.Int("agents", len(agentNames)),
	)
	metrics.WorkflowsTracked.Inc()
	m.publish(wp)
	return wp
}

// GetWorkflow returns the tracked workflow or nil if unknown.
func (m *Manager) GetWorkflow(workflowID string) *WorkflowProgress {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.workflows[workflowID]
}

// StartAgent marks an agent running. Returns false for an unknown
// workflow id; unknown agent names are ignored by the workflow itself.
func (m *Manager) StartAgent(workflowID, agentName string) bool {
	wp := m.GetWorkflow(workflowID)
	if wp == nil {
		return false
	}
	wp.StartAgent(agentName)
	m.afterMutation(wp)
	return true
}

// CompleteAgent marks an agent completed.
func (m *Manager) CompleteAgent(workflowID, agentName string) bool {
	wp := m.GetWorkflow(workflowID)
	if wp == nil {
		return false
	}
	before := wp.State()
	wp.CompleteAgent(agentName)
	if agent, ok := wp.Agent(agentName); ok {
		metrics.RecordAgentFinished(agent.State, agent.ExecutionTime)
	}
	m.afterTransition(wp, before)
	return true
}

// FailAgent marks an agent failed with the given error message.
func (m *Manager) FailAgent(workflowID, agentName, errMsg string) bool {
	wp := m.GetWorkflow(workflowID)
	if wp == nil {
		return false
	}
	before := wp.State()
	wp.FailAgent(agentName, errMsg)
	if agent, ok := wp.Agent(agentName); ok {
		metrics.RecordAgentFinished(agent.State, agent.ExecutionTime)
	}
	m.afterTransition(wp, before)
	return true
}

// TimeoutAgent marks an agent timed out. The tracker never calls this on
// its own; it exists for orchestrators that do their own deadline checks.
func (m *Manager) TimeoutAgent(workflowID, agentName string) bool {
	wp := m.GetWorkflow(workflowID)
	if wp == nil {
		return false
	}
	before := wp.State()
	wp.TimeoutAgent(agentName)
	if agent, ok := wp.Agent(agentName); ok {
		metrics.RecordAgentFinished(agent.State, agent.ExecutionTime)
	}
	m.afterTransition(wp, before)
	return true
}

// UpdateAgentProgress updates one agent's percentage and operation text.
func (m *Manager) UpdateAgentProgress(workflowID, agentName string, percentage float64, operation string) bool {
	wp := m.GetWorkflow(workflowID)
	if wp == nil {
		return false
	}
	wp.UpdateAgentProgress(agentName, percentage, operation)
	m.publish(wp)
	return true
}

// CancelWorkflow cancels a tracked workflow, flipping every running agent
// to cancelled. Cancellation is advisory: it changes what watchers and
// queries observe, it does not stop whatever is executing the agents.
func (m *Manager) CancelWorkflow(workflowID, reason string) bool {
	wp := m.GetWorkflow(workflowID)
	if wp == nil {
		return false
	}
	before := wp.State()
	wp.Cancel()
	if reason != "" {
		wp.RecordRecoveryAction("cancelled: " + reason)
	}
	m.logger.Info("Workflow cancelled",
		zap.String("workflow_id", workflowID),
		zap.String("reason", reason),
	)
	m.afterTransition(wp, before)
	return true
}

// CleanupCompletedWorkflows drops terminal workflows older than maxAge,
// measured from end_time with start_time as fallback, and returns how many
// were removed. There is no background sweep; operators invoke this.
func (m *Manager) CleanupCompletedWorkflows(maxAge time.Duration) int {
	cutoff := m.nowFn().Add(-maxAge)

	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for id, wp := range m.workflows {
		summary := wp.Summary()
		if !WorkflowState(summary.WorkflowState).Terminal() {
			continue
		}
		ref := summary.StartTime
		if summary.EndTime != nil {
			ref = *summary.EndTime
		}
		if ref.Before(cutoff) {
			delete(m.workflows, id)
			removed++
		}
	}
	if removed > 0 {
		m.logger.Info("Cleaned up finished workflows", zap.Int("removed", removed))
		metrics.WorkflowsCleaned.Add(float64(removed))
	}
	return removed
}

// GetSummary returns a snapshot for one workflow, refreshing the
// completion estimate on the way, or false if unknown.
func (m *Manager) GetSummary(workflowID string) (WorkflowSummary, bool) {
	wp := m.GetWorkflow(workflowID)
	if wp == nil {
		return WorkflowSummary{}, false
	}
	wp.EstimateCompletionTime()
	return wp.Summary(), true
}

// AllWorkflows snapshots every tracked workflow.
func (m *Manager) AllWorkflows() map[string]WorkflowSummary {
	m.mu.RLock()
	wps := make([]*WorkflowProgress, 0, len(m.workflows))
	for _, wp := range m.workflows {
		wps = append(wps, wp)
	}
	m.mu.RUnlock()

	out := make(map[string]WorkflowSummary, len(wps))
	for _, wp := range wps {
		s := wp.Summary()
		out[s.WorkflowID] = s
	}
	return out
}

// publish pushes a fresh snapshot to the mirror, if any.
func (m *Manager) publish(wp *WorkflowProgress) {
	if m.mirror == nil {
		return
	}
	m.mirror.PutSnapshot(wp.Summary())
}

// afterMutation is the common post-mutation hook for ops that cannot
// produce a terminal transition on their own.
func (m *Manager) afterMutation(wp *WorkflowProgress) {
	m.publish(wp)
}

// afterTransition publishes and, when the workflow just crossed into a
// terminal state, hands the final summary to the archiver.
func (m *Manager) afterTransition(wp *WorkflowProgress, before WorkflowState) {
	summary := wp.Summary()
	if m.mirror != nil {
		m.mirror.PutSnapshot(summary)
	}
	after := WorkflowState(summary.WorkflowState)
	if !before.Terminal() && after.Terminal() {
		metrics.WorkflowsFinished.WithLabelValues(summary.WorkflowState).Inc()
		metrics.WorkflowDuration.Observe(summary.TotalExecutionTime)
		if m.archiver != nil {
			m.archiver.ArchiveWorkflow(summary)
		}
	}
}
