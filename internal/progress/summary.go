package progress

import "time"

// AgentSummary is the serializable snapshot of one agent's progress.
type AgentSummary struct {
	AgentName               string     `json:"agent_name"`
	State                   string     `json:"state"`
	ProgressPercentage      float64    `json:"progress_percentage"`
	CurrentOperation        string     `json:"current_operation,omitempty"`
	StartTime               *time.Time `json:"start_time,omitempty"`
	EndTime                 *time.Time `json:"end_time,omitempty"`
	ExecutionTime           float64    `json:"execution_time,omitempty"`
	ErrorMessage            string     `json:"error_message,omitempty"`
	RetryCount              int        `json:"retry_count"`
	EstimatedCompletionTime *time.Time `json:"estimated_completion_time,omitempty"`
}

// WorkflowSummary is the canonical read-only snapshot pushed to streaming
// clients and returned by REST reads. All fields are plain values; callers
// may retain it without holding any lock.
type WorkflowSummary struct {
	WorkflowID                string                  `json:"workflow_id"`
	ContractID                string                  `json:"contract_id,omitempty"`
	WorkflowState             string                  `json:"workflow_state"`
	TotalAgents               int                     `json:"total_agents"`
	CompletedAgents           int                     `json:"completed_agents"`
	FailedAgents              int                     `json:"failed_agents"`
	RunningAgents             int                     `json:"running_agents"`
	OverallProgressPercentage float64                 `json:"overall_progress_percentage"`
	CurrentStage              string                  `json:"current_stage,omitempty"`
	CurrentAgent              string                  `json:"current_agent,omitempty"`
	StartTime                 time.Time               `json:"start_time"`
	EstimatedCompletionTime   *time.Time              `json:"estimated_completion_time,omitempty"`
	EndTime                   *time.Time              `json:"end_time,omitempty"`
	TotalExecutionTime        float64                 `json:"total_execution_time,omitempty"`
	AgentProgress             map[string]AgentSummary `json:"agent_progress"`
	ErrorMessage              string                  `json:"error_message,omitempty"`
	RecoveryActions           []string                `json:"recovery_actions,omitempty"`
	Metadata                  map[string]interface{}  `json:"metadata,omitempty"`
}
