package model

import "time"

// RunStatus is the lifecycle state of a processing run.
type RunStatus string

const (
	RunStatusQueued   RunStatus = "queued"
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
	RunStatusReview   RunStatus = "needs_review"
)

// Run is the audit record for one document-processing run.
type Run struct {
	ID        string            `json:"id"`
	DocID     int               `json:"doc_id"`
	Status    RunStatus         `json:"status"`
	Result    *ProcessingResult `json:"result,omitempty"`
	Error     string            `json:"error,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}
