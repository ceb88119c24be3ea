package models

import "time"

// Status enumerates lifecycle states recorded for a tracked job. The store does not
// enforce transitions; any value may be written through SetStatus.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether the status rejects pause requests.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// MaxLogEntries bounds the per-job log; older entries are evicted first.
const MaxLogEntries = 5000

// Snapshot is the full view of a job returned by GetStatus.
type Snapshot struct {
	JobID       string         `json:"job_id"`
	Status      Status         `json:"status"`
	Log         []string       `json:"log"`
	Counters    map[string]any `json:"counters"`
	Error       *string        `json:"error"`
	Description *string        `json:"description"`
	Metadata    map[string]any `json:"metadata"`
	CreatedAt   float64        `json:"created_at"`
	UpdatedAt   float64        `json:"updated_at"`
}

// CreateParams collects the optional inputs recorded when a job is registered.
type CreateParams struct {
	Description string
	Metadata    map[string]any
}

// EpochSeconds converts t into the fractional seconds representation used in snapshots.
func EpochSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

// Time converts fractional epoch seconds back into a time.Time.
func Time(epoch float64) time.Time {
	return time.Unix(0, int64(epoch*float64(time.Second)))
}
