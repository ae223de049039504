package progress

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	return NewManager(zap.NewNop())
}

func TestAddAgentIsIdempotent(t *testing.T) {
	wp := newWorkflowProgress("wf", "", 2, nil)
	wp.AddAgent("a")
	wp.AddAgent("b")
	wp.StartAgent("a")
	wp.UpdateAgentProgress("a", 42, "parsing")

	// re-adding must not reset existing metrics or grow the map
	wp.AddAgent("a")

	s := wp.Summary()
	assert.Len(t, s.AgentProgress, 2)
	assert.Equal(t, 42.0, s.AgentProgress["a"].ProgressPercentage)
	assert.Equal(t, string(AgentRunning), s.AgentProgress["a"].State)
}

func TestUpdateProgressClamps(t *testing.T) {
	cases := []struct {
		in   float64
		want float64
	}{
		{-10, 0},
		{0, 0},
		{55.5, 55.5},
		{100, 100},
		{250, 100},
	}
	wp := newWorkflowProgress("wf", "", 1, nil)
	wp.AddAgent("a")
	for _, tc := range cases {
		wp.UpdateAgentProgress("a", tc.in, "")
		s := wp.Summary()
		assert.Equal(t, tc.want, s.AgentProgress["a"].ProgressPercentage, "input %v", tc.in)
	}
}

func TestOverallProgressIsMeanOfRegisteredAgents(t *testing.T) {
	wp := newWorkflowProgress("wf", "", 2, nil)
	wp.AddAgent("a")
	wp.AddAgent("b")

	assert.Equal(t, 0.0, wp.Summary().OverallProgressPercentage)

	wp.StartAgent("a")
	wp.CompleteAgent("a")
	wp.StartAgent("b")
	s := wp.Summary()
	assert.InDelta(t, 50.0, s.OverallProgressPercentage, 1e-9)
	assert.Equal(t, string(WorkflowRunning), s.WorkflowState)

	wp.UpdateAgentProgress("b", 50, "halfway")
	assert.InDelta(t, 75.0, wp.Summary().OverallProgressPercentage, 1e-9)
}

func TestOverallProgressIgnoresUnregisteredTotal(t *testing.T) {
	// total_agents says five, but only two ever registered: the mean
	// considers the two, so the workflow can read complete early.
	wp := newWorkflowProgress("wf", "", 5, nil)
	wp.AddAgent("a")
	wp.AddAgent("b")
	wp.StartAgent("a")
	wp.CompleteAgent("a")
	wp.StartAgent("b")
	wp.CompleteAgent("b")

	s := wp.Summary()
	assert.Equal(t, 100.0, s.OverallProgressPercentage)
	assert.Equal(t, string(WorkflowCompleted), s.WorkflowState)
	assert.Equal(t, 5, s.TotalAgents)
}

func TestAllCompletedReachesCompletedAndStampsEnd(t *testing.T) {
	wp := newWorkflowProgress("wf", "", 2, nil)
	wp.AddAgent("a")
	wp.AddAgent("b")

	assert.Equal(t, WorkflowInitialized, wp.State())

	wp.StartAgent("a")
	wp.CompleteAgent("a")
	wp.StartAgent("b")
	wp.CompleteAgent("b")

	s := wp.Summary()
	require.Equal(t, string(WorkflowCompleted), s.WorkflowState)
	require.NotNil(t, s.EndTime)
	assert.InDelta(t, s.EndTime.Sub(s.StartTime).Seconds(), s.TotalExecutionTime, 1e-6)

	// terminal timestamps never move
	end := *s.EndTime
	wp.CompleteAgent("a")
	s2 := wp.Summary()
	assert.Equal(t, end, *s2.EndTime)
}

func TestMixedOutcomeIsDegradedOrFailed(t *testing.T) {
	t.Run("some completed means degraded", func(t *testing.T) {
		wp := newWorkflowProgress("wf", "", 2, nil)
		wp.AddAgent("a")
		wp.AddAgent("b")
		wp.StartAgent("a")
		wp.FailAgent("a", "boom")
		wp.StartAgent("b")
		wp.CompleteAgent("b")

		s := wp.Summary()
		assert.Equal(t, string(WorkflowDegraded), s.WorkflowState)
		assert.Equal(t, "boom", s.AgentProgress["a"].ErrorMessage)
	})

	t.Run("all failed means failed", func(t *testing.T) {
		wp := newWorkflowProgress("wf", "", 2, nil)
		wp.AddAgent("a")
		wp.AddAgent("b")
		wp.StartAgent("a")
		wp.FailAgent("a", "x")
		wp.StartAgent("b")
		wp.FailAgent("b", "y")

		assert.Equal(t, WorkflowFailed, wp.State())
	})
}

func TestTimeoutCountsAsFailure(t *testing.T) {
	wp := newWorkflowProgress("wf", "", 1, nil)
	wp.AddAgent("a")
	wp.StartAgent("a")
	wp.TimeoutAgent("a")

	s := wp.Summary()
	assert.Equal(t, string(WorkflowFailed), s.WorkflowState)
	assert.Equal(t, string(AgentTimeout), s.AgentProgress["a"].State)
	assert.Equal(t, "Agent execution timed out", s.AgentProgress["a"].ErrorMessage)
}

func TestCancelFlipsOnlyRunningAgents(t *testing.T) {
	wp := newWorkflowProgress("wf", "", 4, nil)
	for _, n := range []string{"pending", "running", "done", "failed"} {
		wp.AddAgent(n)
	}
	wp.StartAgent("done")
	wp.CompleteAgent("done")
	wp.StartAgent("failed")
	wp.FailAgent("failed", "bad")
	wp.StartAgent("running")

	wp.Cancel()

	s := wp.Summary()
	assert.Equal(t, string(WorkflowCancelled), s.WorkflowState)
	assert.Equal(t, string(AgentPending), s.AgentProgress["pending"].State)
	assert.Equal(t, string(AgentCancelled), s.AgentProgress["running"].State)
	assert.Equal(t, string(AgentCompleted), s.AgentProgress["done"].State)
	assert.Equal(t, string(AgentFailed), s.AgentProgress["failed"].State)
	assert.NotNil(t, s.EndTime)
	assert.Equal(t, 0, s.RunningAgents)
	assert.NotNil(t, s.AgentProgress["running"].EndTime)
}

func TestUnknownAgentMutationsAreIgnored(t *testing.T) {
	wp := newWorkflowProgress("wf", "", 1, nil)
	wp.AddAgent("a")

	wp.StartAgent("ghost")
	wp.CompleteAgent("ghost")
	wp.FailAgent("ghost", "nope")
	wp.UpdateAgentProgress("ghost", 50, "")

	s := wp.Summary()
	assert.Equal(t, string(WorkflowInitialized), s.WorkflowState)
	assert.Equal(t, 0, s.RunningAgents)
	assert.Equal(t, 0.0, s.OverallProgressPercentage)
}

func TestEstimateCompletionTime(t *testing.T) {
	wp := newWorkflowProgress("wf", "", 1, nil)
	wp.AddAgent("a")

	// no progress yet: no estimate
	assert.Nil(t, wp.EstimateCompletionTime())

	base := time.Now()
	wp.startTime = base.Add(-10 * time.Second)
	wp.StartAgent("a")
	wp.UpdateAgentProgress("a", 50, "")

	eta := wp.EstimateCompletionTime()
	require.NotNil(t, eta)
	// 10s elapsed at 50% extrapolates to ~10s remaining
	assert.InDelta(t, 10.0, time.Until(*eta).Seconds(), 1.0)
	assert.NotNil(t, wp.Summary().EstimatedCompletionTime)
}

func TestAgentExecutionTimeSetOnTerminalOnly(t *testing.T) {
	wp := newWorkflowProgress("wf", "", 1, nil)
	wp.AddAgent("a")

	s := wp.Summary()
	assert.Zero(t, s.AgentProgress["a"].ExecutionTime)

	wp.StartAgent("a")
	assert.Zero(t, wp.Summary().AgentProgress["a"].ExecutionTime)
	assert.NotNil(t, wp.Summary().AgentProgress["a"].StartTime)

	wp.CompleteAgent("a")
	done := wp.Summary().AgentProgress["a"]
	assert.Equal(t, 100.0, done.ProgressPercentage)
	require.NotNil(t, done.EndTime)
	assert.GreaterOrEqual(t, done.ExecutionTime, 0.0)
}

func TestRecoveryActionsAreAppendOnly(t *testing.T) {
	wp := newWorkflowProgress("wf", "", 1, nil)
	wp.RecordRecoveryAction("first")
	wp.RecordRecoveryAction("second")

	s := wp.Summary()
	assert.Equal(t, []string{"first", "second"}, s.RecoveryActions)

	// mutating the snapshot must not leak back
	s.RecoveryActions[0] = "tampered"
	assert.Equal(t, "first", wp.Summary().RecoveryActions[0])
}
