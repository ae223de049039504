package mirror

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/contractpulse/tracker/internal/progress"
)

func newTestMirror(t *testing.T, ttl time.Duration) (*RedisMirror, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	m := NewWithClient(client, ttl, zap.NewNop())
	t.Cleanup(func() { m.Close() })
	return m, mr
}

func TestMirrorRoundTrip(t *testing.T) {
	m, _ := newTestMirror(t, time.Minute)

	summary := progress.WorkflowSummary{
		WorkflowID:                "wf-1",
		ContractID:                "contract-9",
		WorkflowState:             "running",
		TotalAgents:               3,
		CompletedAgents:           1,
		OverallProgressPercentage: 33.3,
		StartTime:                 time.Now().UTC().Truncate(time.Second),
	}
	m.PutSnapshot(summary)

	got, err := m.GetSnapshot(context.Background(), "wf-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "wf-1", got.WorkflowID)
	assert.Equal(t, "contract-9", got.ContractID)
	assert.Equal(t, "running", got.WorkflowState)
	assert.Equal(t, 1, got.CompletedAgents)
	assert.InDelta(t, 33.3, got.OverallProgressPercentage, 0.001)
}

func TestMirrorSetsTTL(t *testing.T) {
	m, mr := newTestMirror(t, 30*time.Second)

	m.PutSnapshot(progress.WorkflowSummary{WorkflowID: "wf-ttl"})

	require.True(t, mr.Exists("tracker:analysis:wf-ttl"))
	assert.Equal(t, 30*time.Second, mr.TTL("tracker:analysis:wf-ttl"))
}

func TestMirrorOverwritesOnRepeatedPut(t *testing.T) {
	m, _ := newTestMirror(t, time.Minute)

	m.PutSnapshot(progress.WorkflowSummary{WorkflowID: "wf-1", CompletedAgents: 1})
	m.PutSnapshot(progress.WorkflowSummary{WorkflowID: "wf-1", CompletedAgents: 2})

	got, err := m.GetSnapshot(context.Background(), "wf-1")
	require.NoError(t, err)
	assert.Equal(t, 2, got.CompletedAgents)
}

func TestMirrorMissReturnsNil(t *testing.T) {
	m, _ := newTestMirror(t, time.Minute)

	got, err := m.GetSnapshot(context.Background(), "never-written")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestMirrorPing(t *testing.T) {
	m, mr := newTestMirror(t, time.Minute)

	require.NoError(t, m.Ping(context.Background()))

	mr.Close()
	assert.Error(t, m.Ping(context.Background()))
}
