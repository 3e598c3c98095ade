package models

import "time"

// ToolCallStatus values for a tool call record.
type ToolCallStatus string

const (
	ToolCallRunning ToolCallStatus = "running"
	ToolCallSuccess ToolCallStatus = "success"
	ToolCallError   ToolCallStatus = "error"
)

// ToolCallRecord captures one dispatched operation in a workflow run.
// Created at dispatch with status running; updated exactly once at
// completion.
type ToolCallRecord struct {
	ToolUseID  string         `json:"tool_use_id"`
	ToolName   string         `json:"tool_name"`
	Agent      string         `json:"agent,omitempty"`
	Input      map[string]any `json:"input,omitempty"`
	Status     ToolCallStatus `json:"status"`
	Error      string         `json:"error,omitempty"`
	StartedAt  time.Time      `json:"started_at"`
	EndedAt    *time.Time     `json:"ended_at,omitempty"`
	DurationMS int64          `json:"duration_ms,omitempty"`
}

// WorkflowLogEntry is one append-only structured event in a workflow run.
type WorkflowLogEntry struct {
	Type      string         `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Message   string         `json:"message"`
	Data      map[string]any `json:"data,omitempty"`
}
