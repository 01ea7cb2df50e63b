package scheduler

import "time"

// TaskType identifies which maintenance task an invocation runs.
type TaskType string

const (
	// TaskResetAIUsage starts a new AI-usage period for stale counters.
	TaskResetAIUsage TaskType = "reset_ai_usage"
	// TaskMigrate applies pending schema migrations.
	TaskMigrate TaskType = "migrate"
)

// MaintenancePayload is the event delivered to the maintenance function:
//
//	{
//	  "task": "reset_ai_usage",
//	  "reference_time": "2026-11-01T00:05:00Z"  // optional
//	}
type MaintenancePayload struct {
	Task TaskType `json:"task"`
	// ReferenceTime overrides "now" for backfills. Nil means time.Now().UTC().
	ReferenceTime *time.Time `json:"reference_time,omitempty"`
}
