package models

import "time"

// Checkpoint marks the end of the last successfully synced window for a
// (source, target) pair. It only ever moves forward.
type Checkpoint struct {
	ID           int64     `json:"id" db:"id"`
	Source       string    `json:"source" db:"source"`
	Target       string    `json:"target" db:"target"`
	LastSyncedAt time.Time `json:"last_synced_at" db:"last_synced_at"`
}

// Cooldown is a server-directed embargo: the source must not be polled
// again before Until. Expired entries are inert and may be purged.
type Cooldown struct {
	Source    string    `json:"source" db:"source"`
	Until     time.Time `json:"until" db:"until"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
