package models

import (
	"fmt"
	"time"
)

// SyncMode selects how fetched records are applied to the target table.
type SyncMode string

const (
	ModeAppend  SyncMode = "append"
	ModeUpsert  SyncMode = "upsert"
	ModeReplace SyncMode = "replace"
)

func (m SyncMode) Valid() bool {
	switch m {
	case ModeAppend, ModeUpsert, ModeReplace:
		return true
	}
	return false
}

// Job lifecycle statuses. Completed, failed and cancelled are terminal:
// the only way out is deletion or an explicit re-queue.
const (
	StatusQueued    = "queued"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

func IsTerminalStatus(status string) bool {
	switch status {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// SyncJobConfig is the immutable run configuration captured at job creation.
type SyncJobConfig struct {
	ConnectionID   string   `json:"connection_id" db:"connection_id"`
	FormID         string   `json:"form_id" db:"form_id"`
	TargetSchema   string   `json:"target_schema" db:"target_schema"`
	TargetTable    string   `json:"target_table" db:"target_table"`
	Mode           SyncMode `json:"mode" db:"mode"`
	ConflictColumn string   `json:"conflict_column,omitempty" db:"conflict_column"`
	CreateTable    bool     `json:"create_table" db:"create_table"`
}

func (c SyncJobConfig) Validate() error {
	if c.ConnectionID == "" {
		return fmt.Errorf("connection_id is required")
	}
	if c.FormID == "" {
		return fmt.Errorf("form_id is required")
	}
	if c.TargetSchema == "" || c.TargetTable == "" {
		return fmt.Errorf("target_schema and target_table are required")
	}
	if !c.Mode.Valid() {
		return fmt.Errorf("invalid sync mode %q", c.Mode)
	}
	if c.Mode == ModeUpsert && c.ConflictColumn == "" {
		return fmt.Errorf("conflict_column is required for upsert mode")
	}
	return nil
}

type SyncJob struct {
	ID        string        `json:"id" db:"id"`
	Name      string        `json:"name" db:"name"`
	Config    SyncJobConfig `json:"config"`
	Status    string        `json:"status" db:"status"`
	LastError *string       `json:"last_error" db:"last_error"`
	CreatedAt time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt time.Time     `json:"updated_at" db:"updated_at"`

	// LastSyncedAt is joined from the checkpoint store for API responses.
	LastSyncedAt *time.Time `json:"last_synced_at,omitempty"`
}

// SourceKey identifies the remote collection this job reads from.
func (j *SyncJob) SourceKey() string {
	return "surveycto:" + j.Config.FormID
}

// TargetKey identifies the destination table this job writes to.
func (j *SyncJob) TargetKey() string {
	return fmt.Sprintf("postgres:%s.%s", j.Config.TargetSchema, j.Config.TargetTable)
}
