// Package mirror publishes workflow snapshots to Redis so out-of-process
// readers (dashboards, sibling instances) can observe progress without
// querying the tracker. The in-memory registry stays authoritative;
// mirror writes are best-effort and never block or fail a mutation.
package mirror

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/contractpulse/tracker/internal/metrics"
	"github.com/contractpulse/tracker/internal/progress"
)

const keyPrefix = "tracker:analysis:"

// RedisMirror implements progress.SnapshotSink over a Redis keyspace.
type RedisMirror struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// New connects to Redis and verifies the connection.
func New(redisURL string, ttl time.Duration, logger *zap.Logger) (*RedisMirror, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return NewWithClient(client, ttl, logger), nil
}

// NewWithClient wraps an existing client. Tests pass miniredis here.
func NewWithClient(client *redis.Client, ttl time.Duration, logger *zap.Logger) *RedisMirror {
	return &RedisMirror{client: client, ttl: ttl, logger: logger}
}

// PutSnapshot stores the summary JSON under the workflow key with the
// configured TTL. Failures are logged and counted, nothing more.
func (m *RedisMirror) PutSnapshot(summary progress.WorkflowSummary) {
	data, err := json.Marshal(summary)
	if err != nil {
		m.logger.Warn("Snapshot marshal failed", zap.String("workflow_id", summary.WorkflowID), zap.Error(err))
		metrics.SnapshotMirrorErrors.Inc()
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := m.client.Set(ctx, keyPrefix+summary.WorkflowID, data, m.ttl).Err(); err != nil {
		m.logger.Warn("Snapshot mirror write failed", zap.String("workflow_id", summary.WorkflowID), zap.Error(err))
		metrics.SnapshotMirrorErrors.Inc()
	}
}

// GetSnapshot reads a mirrored summary back, or nil if absent.
func (m *RedisMirror) GetSnapshot(ctx context.Context, workflowID string) (*progress.WorkflowSummary, error) {
	data, err := m.client.Get(ctx, keyPrefix+workflowID).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var summary progress.WorkflowSummary
	if err := json.Unmarshal(data, &summary); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return &summary, nil
}

// Ping reports mirror connectivity for health checks.
func (m *RedisMirror) Ping(ctx context.Context) error {
	return m.client.Ping(ctx).Err()
}

// Close releases the Redis connection.
func (m *RedisMirror) Close() error {
	return m.client.Close()
}
