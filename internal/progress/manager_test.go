package progress

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestManagerEndToEnd(t *testing.T) {
	m := newTestManager(t)

	wp := m.CreateWorkflow("wf1", []string{"a", "b"}, WithContractID("c-9"))
	require.NotNil(t, wp)
	s := wp.Summary()
	assert.Equal(t, string(WorkflowInitialized), s.WorkflowState)
	assert.Equal(t, 0.0, s.OverallProgressPercentage)
	assert.Equal(t, "c-9", s.ContractID)

	require.True(t, m.StartAgent("wf1", "a"))
	require.True(t, m.CompleteAgent("wf1", "a"))
	require.True(t, m.StartAgent("wf1", "b"))
	s = wp.Summary()
	assert.Equal(t, string(WorkflowRunning), s.WorkflowState)
	assert.InDelta(t, 50.0, s.OverallProgressPercentage, 1e-9)

	require.True(t, m.CompleteAgent("wf1", "b"))
	s = wp.Summary()
	assert.Equal(t, string(WorkflowCompleted), s.WorkflowState)
	assert.Equal(t, 100.0, s.OverallProgressPercentage)
	assert.NotNil(t, s.EndTime)
}

func TestManagerDegradedFlow(t *testing.T) {
	m := newTestManager(t)
	m.CreateWorkflow("wf2", []string{"a", "b"})

	require.True(t, m.StartAgent("wf2", "a"))
	require.True(t, m.FailAgent("wf2", "a", "boom"))
	require.True(t, m.StartAgent("wf2", "b"))
	require.True(t, m.CompleteAgent("wf2", "b"))

	summary, ok := m.GetSummary("wf2")
	require.True(t, ok)
	assert.Equal(t, string(WorkflowDegraded), summary.WorkflowState)
	assert.Equal(t, "boom", summary.AgentProgress["a"].ErrorMessage)
}

func TestManagerCancelFlow(t *testing.T) {
	m := newTestManager(t)
	m.CreateWorkflow("wf3", []string{"a"})
	require.True(t, m.StartAgent("wf3", "a"))

	require.True(t, m.CancelWorkflow("wf3", "operator request"))

	summary, ok := m.GetSummary("wf3")
	require.True(t, ok)
	assert.Equal(t, string(WorkflowCancelled), summary.WorkflowState)
	assert.Equal(t, string(AgentCancelled), summary.AgentProgress["a"].State)
	assert.Contains(t, summary.RecoveryActions, "cancelled: operator request")
}

func TestManagerUnknownWorkflowReturnsFalse(t *testing.T) {
	m := newTestManager(t)

	assert.Nil(t, m.GetWorkflow("nope"))
	assert.False(t, m.StartAgent("nope", "a"))
	assert.False(t, m.CompleteAgent("nope", "a"))
	assert.False(t, m.FailAgent("nope", "a", "x"))
	assert.False(t, m.TimeoutAgent("nope", "a"))
	assert.False(t, m.UpdateAgentProgress("nope", "a", 10, ""))
	assert.False(t, m.CancelWorkflow("nope", ""))
	_, ok := m.GetSummary("nope")
	assert.False(t, ok)
}

func TestManagerCreateOverwritesSilently(t *testing.T) {
	m := newTestManager(t)
	m.CreateWorkflow("wf", []string{"a"})
	require.True(t, m.StartAgent("wf", "a"))

	// same id again: previous tracking record is replaced
	m.CreateWorkflow("wf", []string{"x", "y"})
	summary, ok := m.GetSummary("wf")
	require.True(t, ok)
	assert.Equal(t, string(WorkflowInitialized), summary.WorkflowState)
	assert.Len(t, summary.AgentProgress, 2)
}

func TestCleanupRemovesOnlyOldTerminalWorkflows(t *testing.T) {
	m := newTestManager(t)
	past := time.Now().Add(-48 * time.Hour)

	// finished long ago
	m.nowFn = func() time.Time { return past }
	m.CreateWorkflow("old-done", []string{"a"})
	require.True(t, m.StartAgent("old-done", "a"))
	require.True(t, m.CompleteAgent("old-done", "a"))

	// still running, same age
	m.CreateWorkflow("old-running", []string{"a"})
	require.True(t, m.StartAgent("old-running", "a"))

	// finished just now
	m.nowFn = time.Now
	m.CreateWorkflow("fresh-done", []string{"a"})
	require.True(t, m.StartAgent("fresh-done", "a"))
	require.True(t, m.CompleteAgent("fresh-done", "a"))

	removed := m.CleanupCompletedWorkflows(24 * time.Hour)
	assert.Equal(t, 1, removed)

	all := m.AllWorkflows()
	assert.NotContains(t, all, "old-done")
	assert.Contains(t, all, "old-running")
	assert.Contains(t, all, "fresh-done")
}

func TestCleanupZeroAgeRemovesJustFinished(t *testing.T) {
	m := newTestManager(t)
	m.CreateWorkflow("wf1", []string{"a"})
	require.True(t, m.StartAgent("wf1", "a"))
	require.True(t, m.CompleteAgent("wf1", "a"))

	removed := m.CleanupCompletedWorkflows(0)
	assert.Equal(t, 1, removed)
	assert.Empty(t, m.AllWorkflows())
}

type recordingSink struct {
	mu        sync.Mutex
	snapshots []WorkflowSummary
}

func (r *recordingSink) PutSnapshot(s WorkflowSummary) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snapshots = append(r.snapshots, s)
}

func (r *recordingSink) last() WorkflowSummary {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshots[len(r.snapshots)-1]
}

type recordingArchiver struct {
	mu    sync.Mutex
	final []WorkflowSummary
}

func (r *recordingArchiver) ArchiveWorkflow(s WorkflowSummary) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.final = append(r.final, s)
}

func TestMirrorReceivesEveryMutation(t *testing.T) {
	sink := &recordingSink{}
	m := NewManager(zap.NewNop(), WithMirror(sink))

	m.CreateWorkflow("wf", []string{"a"})
	m.StartAgent("wf", "a")
	m.UpdateAgentProgress("wf", "a", 30, "extracting")
	m.CompleteAgent("wf", "a")

	require.GreaterOrEqual(t, len(sink.snapshots), 4)
	assert.Equal(t, string(WorkflowCompleted), sink.last().WorkflowState)
}

func TestArchiverFiresExactlyOnceOnTerminalTransition(t *testing.T) {
	arch := &recordingArchiver{}
	m := NewManager(zap.NewNop(), WithArchiver(arch))

	m.CreateWorkflow("wf", []string{"a", "b"})
	m.StartAgent("wf", "a")
	m.CompleteAgent("wf", "a")
	assert.Empty(t, arch.final)

	m.StartAgent("wf", "b")
	m.CompleteAgent("wf", "b")
	require.Len(t, arch.final, 1)
	assert.Equal(t, string(WorkflowCompleted), arch.final[0].WorkflowState)

	// a stray mutation after the terminal transition must not re-archive
	m.CompleteAgent("wf", "a")
	assert.Len(t, arch.final, 1)
}

func TestManagerConcurrentMutations(t *testing.T) {
	m := newTestManager(t)
	agents := []string{"a", "b", "c", "d"}
	m.CreateWorkflow("wf", agents)

	var wg sync.WaitGroup
	for _, name := range agents {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			m.StartAgent("wf", name)
			for p := 0; p <= 100; p += 10 {
				m.UpdateAgentProgress("wf", name, float64(p), "")
			}
			m.CompleteAgent("wf", name)
		}(name)
	}
	wg.Wait()

	summary, ok := m.GetSummary("wf")
	require.True(t, ok)
	assert.Equal(t, string(WorkflowCompleted), summary.WorkflowState)
	assert.Equal(t, 100.0, summary.OverallProgressPercentage)
	assert.Equal(t, len(agents), summary.CompletedAgents)
	assert.Equal(t, 0, summary.RunningAgents)
}
