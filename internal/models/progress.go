package models

import "time"

// ProgressError is one recorded failure, kept in the order it occurred.
type ProgressError struct {
	RecordID  string    `json:"record_id"`
	Field     string    `json:"field,omitempty"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// SyncProgress is the fine-grained, pollable view of a job run. Its status
// mirrors the job status and is the authoritative value a poller reads.
type SyncProgress struct {
	JobID            string          `json:"job_id" db:"job_id"`
	Status           string          `json:"status" db:"status"`
	ProcessedRecords int             `json:"processed_records" db:"processed_records"`
	TotalRecords     int             `json:"total_records" db:"total_records"`
	InsertedRecords  int             `json:"inserted_records" db:"inserted_records"`
	UpdatedRecords   int             `json:"updated_records" db:"updated_records"`
	Errors           []ProgressError `json:"errors"`
	StartedAt        *time.Time      `json:"started_at" db:"started_at"`
	CompletedAt      *time.Time      `json:"completed_at" db:"completed_at"`
}

// StatusPending is the progress status before the first run attempt starts.
const StatusPending = "pending"
