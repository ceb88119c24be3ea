package jobstore

import (
	"context"

	"jobtracker/internal/models"
)

// Handle binds a Store to one job id. Workloads report progress through it; every
// call is forwarded synchronously to the store.
type Handle struct {
	store Store
	jobID string
}

// NewHandle returns a handle for jobID. The job is not created.
func NewHandle(store Store, jobID string) Handle {
	return Handle{store: store, jobID: jobID}
}

// Initialise registers jobID in store and returns its handle.
func Initialise(ctx context.Context, store Store, jobID string, p models.CreateParams) (Handle, error) {
	if err := store.CreateJob(ctx, jobID, p); err != nil {
		return Handle{}, err
	}
	return NewHandle(store, jobID), nil
}

// ID returns the job id the handle is bound to.
func (h Handle) ID() string { return h.jobID }

// Log appends message to the job's log.
func (h Handle) Log(ctx context.Context, message string) error {
	return h.store.AppendLog(ctx, h.jobID, message)
}

// UpdateCounters merges values into the job's counters.
func (h Handle) UpdateCounters(ctx context.Context, values map[string]any) error {
	return h.store.UpdateCounters(ctx, h.jobID, values)
}

// WaitIfPaused blocks while the job is paused or until ctx is done.
func (h Handle) WaitIfPaused(ctx context.Context) error {
	return h.store.WaitIfPaused(ctx, h.jobID)
}

// SetStatus records status and leaves the error message untouched.
func (h Handle) SetStatus(ctx context.Context, status models.Status) error {
	return h.store.SetStatus(ctx, h.jobID, status, nil)
}

// SetStatusWithError records status together with an error message.
func (h Handle) SetStatusWithError(ctx context.Context, status models.Status, errMsg string) error {
	return h.store.SetStatus(ctx, h.jobID, status, &errMsg)
}

// Fail marks the job failed with err's text.
func (h Handle) Fail(ctx context.Context, err error) error {
	return h.SetStatusWithError(ctx, models.StatusFailed, err.Error())
}
