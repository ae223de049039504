// Package history persists the final summary of finished analyses for
// audit and reporting. Writes are fire-and-forget through a bounded queue
// and a single worker; a database outage never slows the tracker down.
package history

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/contractpulse/tracker/internal/metrics"
	"github.com/contractpulse/tracker/internal/progress"
)

const createTableSQL = `
CREATE TABLE IF NOT EXISTS analysis_history (
    workflow_id          TEXT NOT NULL,
    contract_id          TEXT,
    state                TEXT NOT NULL,
    total_agents         INTEGER NOT NULL,
    completed_agents     INTEGER NOT NULL,
    failed_agents        INTEGER NOT NULL,
    overall_progress     DOUBLE PRECISION NOT NULL,
    start_time           TIMESTAMP NOT NULL,
    end_time             TIMESTAMP,
    total_execution_time DOUBLE PRECISION,
    summary              TEXT NOT NULL,
    archived_at          TIMESTAMP NOT NULL
)`

const insertSQL = `
INSERT INTO analysis_history (
    workflow_id, contract_id, state, total_agents, completed_agents,
    failed_agents, overall_progress, start_time, end_time,
    total_execution_time, summary, archived_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

// Store implements progress.Archiver over a SQL database. Drivers
// postgres (lib/pq) and sqlite3 are supported; statements are rebound per
// driver.
type Store struct {
	db     *sqlx.DB
	logger *zap.Logger

	queue  chan progress.WorkflowSummary
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New connects to the database and starts the write worker.
func New(driver, dsn string, logger *zap.Logger) (*Store, error) {
	db, err := sqlx.Connect(driver, dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	return NewWithDB(db, logger), nil
}

// NewWithDB wraps an existing connection and starts the worker. Tests
// pass a sqlmock-backed DB here.
func NewWithDB(db *sqlx.DB, logger *zap.Logger) *Store {
	s := &Store{
		db:     db,
		logger: logger,
		queue:  make(chan progress.WorkflowSummary, 256),
		stopCh: make(chan struct{}),
	}
	s.wg.Add(1)
	go s.worker()
	return s
}

// EnsureSchema creates the history table if needed.
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, createTableSQL)
	return err
}

// ArchiveWorkflow enqueues one final summary. When the queue is full the
// summary is dropped with a warning; audit history is best-effort.
func (s *Store) ArchiveWorkflow(summary progress.WorkflowSummary) {
	select {
	case s.queue <- summary:
	default:
		s.logger.Warn("History queue full, dropping record",
			zap.String("workflow_id", summary.WorkflowID))
	}
}

// Close drains the queue and shuts the worker down.
func (s *Store) Close() error {
	close(s.stopCh)
	s.wg.Wait()
	return s.db.Close()
}

func (s *Store) worker() {
	defer s.wg.Done()
	for {
		select {
		case summary := <-s.queue:
			s.write(summary)
		case <-s.stopCh:
			// drain whatever is already queued
			for {
				select {
				case summary := <-s.queue:
					s.write(summary)
				default:
					return
				}
			}
		}
	}
}

func (s *Store) write(summary progress.WorkflowSummary) {
	blob, err := json.Marshal(summary)
	if err != nil {
		s.logger.Error("History marshal failed",
			zap.String("workflow_id", summary.WorkflowID), zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err = s.db.ExecContext(ctx, s.db.Rebind(insertSQL),
		summary.WorkflowID,
		nullIfEmpty(summary.ContractID),
		summary.WorkflowState,
		summary.TotalAgents,
		summary.CompletedAgents,
		summary.FailedAgents,
		summary.OverallProgressPercentage,
		summary.StartTime,
		summary.EndTime,
		summary.TotalExecutionTime,
		string(blob),
		time.Now(),
	)
	if err != nil {
		s.logger.Error("History write failed",
			zap.String("workflow_id", summary.WorkflowID), zap.Error(err))
		return
	}
	metrics.WorkflowsArchived.WithLabelValues(summary.WorkflowState).Inc()
}

func nullIfEmpty(v string) interface{} {
	if v == "" {
		return nil
	}
	return v
}
