// Package jobstore records the lifecycle of long-running background jobs: status, a
// bounded log, merge-able counters and a cooperative pause flag.
//
// Every backend (memory, SQLite, Redis, Postgres) implements Store with the same
// semantics. Workloads report progress through a Handle bound to one job id; request
// handlers call GetStatus, Pause and Resume on the shared Store.
//
// Within one job id a single producer is assumed. Only the memory backend serializes
// concurrent producers; the others leave concurrent counter merges racing.
package jobstore

import (
	"context"

	"jobtracker/internal/models"
)

// Store is the contract every job-state backend implements.
type Store interface {
	// CreateJob registers a fresh queued job, discarding any record under the same id.
	CreateJob(ctx context.Context, jobID string, p models.CreateParams) error
	// AppendLog appends one entry and trims the log to the newest entries.
	AppendLog(ctx context.Context, jobID, message string) error
	// UpdateCounters merges values into the job counters, key by key.
	UpdateCounters(ctx context.Context, jobID string, values map[string]any) error
	// SetStatus overwrites the status and, when errMsg is non-nil, the error text.
	SetStatus(ctx context.Context, jobID string, status models.Status, errMsg *string) error
	// GetStatus returns a snapshot, or false when the job does not exist.
	GetStatus(ctx context.Context, jobID string) (models.Snapshot, bool, error)
	// Pause raises the pause flag. It reports false for unknown or terminal jobs.
	Pause(ctx context.Context, jobID string) (bool, error)
	// Resume clears the pause flag. It reports false only for unknown jobs.
	Resume(ctx context.Context, jobID string) (bool, error)
	// WaitIfPaused blocks until the pause flag is clear or ctx is done.
	WaitIfPaused(ctx context.Context, jobID string) error
	Close() error
}
