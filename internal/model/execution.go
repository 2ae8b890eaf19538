package model

import "time"

// Pipeline stage numbers. Higher stages subsume lower ones: an email that
// reached critical analysis also has contextual and triage results.
const (
	StageTriage     = 1
	StageContextual = 2
	StageCritical   = 3
)

// ExecutionStatus tracks the lifecycle of a pipeline run.
type ExecutionStatus string

const (
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusFailed    ExecutionStatus = "failed"
)

// ExecutionRecord is the durable progress record for a single pipeline run.
// It is created once at run start, its stage counters only increase within
// the run, and it is finalized exactly once as completed or failed.
type ExecutionRecord struct {
	ID           string          `json:"id"`
	StartedAt    time.Time       `json:"started_at"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
	Status       ExecutionStatus `json:"status"`
	Stage1Count  int             `json:"stage1_count"`
	Stage2Count  int             `json:"stage2_count"`
	Stage3Count  int             `json:"stage3_count"`
	ErrorMessage string          `json:"error_message,omitempty"`
}

// Terminal reports whether the execution reached a sticky terminal state.
func (e *ExecutionRecord) Terminal() bool {
	return e.Status == ExecutionStatusCompleted || e.Status == ExecutionStatusFailed
}

// PipelineStatus is the read-only snapshot exposed to callers of GetStatus.
type PipelineStatus struct {
	ExecutionID  string          `json:"execution_id"`
	Status       ExecutionStatus `json:"status"`
	StartedAt    time.Time       `json:"started_at"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
	Stage1Count  int             `json:"stage1_count"`
	Stage2Count  int             `json:"stage2_count"`
	Stage3Count  int             `json:"stage3_count"`
	ErrorMessage string          `json:"error_message,omitempty"`
}

// PipelineResults is the consolidated outcome of a completed run.
type PipelineResults struct {
	ExecutionID  string               `json:"execution_id"`
	Records      []ConsolidatedRecord `json:"records"`
	Duration     time.Duration        `json:"duration"`
	TotalEmails  int                  `json:"total_emails"`
	TokenUsage   TokenUsage           `json:"token_usage"`
	EstimatedUSD float64              `json:"estimated_usd"`
}

// TokenUsage accumulates model token consumption across a run.
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Add accumulates usage from another TokenUsage.
func (u *TokenUsage) Add(other TokenUsage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
}
