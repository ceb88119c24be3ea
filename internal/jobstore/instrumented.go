package jobstore

import (
	"context"
	"errors"
	"time"

	"jobtracker/internal/models"
	"jobtracker/internal/telemetry"
)

var _ Store = (*InstrumentedStore)(nil)

// InstrumentedStore records Prometheus metrics around another Store.
type InstrumentedStore struct {
	next    Store
	backend string
}

// Instrument wraps st so every call is counted under the given backend label.
func Instrument(st Store, backend string) *InstrumentedStore {
	return &InstrumentedStore{next: st, backend: backend}
}

// Backend returns the label used for metrics.
func (s *InstrumentedStore) Backend() string { return s.backend }

// Unwrap returns the decorated store.
func (s *InstrumentedStore) Unwrap() Store { return s.next }

func (s *InstrumentedStore) observe(op string, start time.Time, err error) {
	outcome := "ok"
	switch {
	case errors.Is(err, ErrUnknownJob):
		outcome = "unknown_job"
	case err != nil:
		outcome = "error"
	}
	telemetry.StoreOperations.WithLabelValues(s.backend, op, outcome).Inc()
	if !start.IsZero() {
		telemetry.StoreLatency.WithLabelValues(s.backend, op).Observe(time.Since(start).Seconds())
	}
}

func (s *InstrumentedStore) CreateJob(ctx context.Context, jobID string, p models.CreateParams) error {
	start := time.Now()
	err := s.next.CreateJob(ctx, jobID, p)
	s.observe("create_job", start, err)
	return err
}

func (s *InstrumentedStore) AppendLog(ctx context.Context, jobID, message string) error {
	start := time.Now()
	err := s.next.AppendLog(ctx, jobID, message)
	s.observe("append_log", start, err)
	return err
}

func (s *InstrumentedStore) UpdateCounters(ctx context.Context, jobID string, values map[string]any) error {
	start := time.Now()
	err := s.next.UpdateCounters(ctx, jobID, values)
	s.observe("update_counters", start, err)
	return err
}

func (s *InstrumentedStore) SetStatus(ctx context.Context, jobID string, status models.Status, errMsg *string) error {
	start := time.Now()
	err := s.next.SetStatus(ctx, jobID, status, errMsg)
	s.observe("set_status", start, err)
	return err
}

func (s *InstrumentedStore) GetStatus(ctx context.Context, jobID string) (models.Snapshot, bool, error) {
	start := time.Now()
	snap, ok, err := s.next.GetStatus(ctx, jobID)
	observed := err
	if err == nil && !ok {
		observed = ErrUnknownJob
	}
	s.observe("get_status", start, observed)
	return snap, ok, err
}

func (s *InstrumentedStore) Pause(ctx context.Context, jobID string) (bool, error) {
	start := time.Now()
	ok, err := s.next.Pause(ctx, jobID)
	s.observe("pause", start, err)
	if err == nil && !ok {
		telemetry.PauseRejected.Inc()
	}
	return ok, err
}

func (s *InstrumentedStore) Resume(ctx context.Context, jobID string) (bool, error) {
	start := time.Now()
	ok, err := s.next.Resume(ctx, jobID)
	s.observe("resume", start, err)
	return ok, err
}

// WaitIfPaused is counted but not timed; its duration is the pause length.
func (s *InstrumentedStore) WaitIfPaused(ctx context.Context, jobID string) error {
	err := s.next.WaitIfPaused(ctx, jobID)
	s.observe("wait_if_paused", time.Time{}, err)
	return err
}

func (s *InstrumentedStore) Close() error { return s.next.Close() }
