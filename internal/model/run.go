package model

import "time"

// RunStatus represents the current state of a dedup run.
type RunStatus string

const (
	RunStatusQueued    RunStatus = "queued"
	RunStatusMatching  RunStatus = "matching"
	RunStatusReranking RunStatus = "reranking"
	RunStatusResolving RunStatus = "resolving"
	RunStatusFlagging  RunStatus = "flagging"
	RunStatusComplete  RunStatus = "complete"
	RunStatusFailed    RunStatus = "failed"
)

// Run represents a single dedup run over a source table.
type Run struct {
	ID          string     `json:"id"`
	SourceTable string     `json:"source_table"`
	Status      RunStatus  `json:"status"`
	Result      *RunResult `json:"result,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// StepResult holds the outcome of one pipeline step.
type StepResult struct {
	Name     string         `json:"name"`
	Duration int64          `json:"duration_ms"`
	Error    string         `json:"error,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// RunResult is the final outcome of a dedup run.
type RunResult struct {
	ProcessedCount int          `json:"processed_count"`
	GroupCount     int          `json:"group_count"`
	ReviewCount    int          `json:"review_count"`
	FailedCount    int          `json:"failed_count"`
	OutputTable    string       `json:"output_table"`
	Steps          []StepResult `json:"steps"`
	Error          string       `json:"error,omitempty"`
}

// ReviewDecision is a human verdict on a flagged group.
type ReviewDecision string

const (
	ReviewMerge   ReviewDecision = "merge"
	ReviewDiscard ReviewDecision = "discard"
)

// ReviewGroup is a flagged cluster awaiting human adjudication.
type ReviewGroup struct {
	RunID   string   `json:"run_id"`
	GroupID int64    `json:"group_id"`
	Members []Record `json:"members"`
}
