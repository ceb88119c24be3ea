package jobstore

import (
	"context"
	"sync"

	"jobtracker/internal/models"
)

// Compile-time interface check.
var _ Store = (*MemoryStore)(nil)

type memoryJob struct {
	status      models.Status
	log         []string
	counters    map[string]any
	errMsg      *string
	description *string
	metadata    map[string]any
	createdAt   float64
	updatedAt   float64

	// gate is closed while the job is clear to run and open while it is paused.
	gate   chan struct{}
	paused bool
}

func (j *memoryJob) hold() {
	if !j.paused {
		j.paused = true
		j.gate = make(chan struct{})
	}
}

func (j *memoryJob) release() {
	if j.paused {
		j.paused = false
		close(j.gate)
	}
}

// MemoryStore keeps job state in process memory. It is meant for tests and
// single-process deployments; nothing survives a restart.
type MemoryStore struct {
	mu   sync.RWMutex
	jobs map[string]*memoryJob
	opts options
}

// NewMemoryStore creates an empty in-process store.
func NewMemoryStore(opts ...Option) *MemoryStore {
	return &MemoryStore{
		jobs: make(map[string]*memoryJob),
		opts: buildOptions(opts),
	}
}

// CreateJob registers jobID as queued, replacing and releasing any previous record.
func (s *MemoryStore) CreateJob(_ context.Context, jobID string, p models.CreateParams) error {
	meta, err := normalize(p.Metadata)
	if err != nil {
		return err
	}
	now := s.opts.stamp()
	gate := make(chan struct{})
	close(gate)

	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.jobs[jobID]; ok {
		// Producers parked on the replaced record would otherwise never wake.
		prev.release()
	}
	s.jobs[jobID] = &memoryJob{
		status:      models.StatusQueued,
		log:         []string{},
		counters:    map[string]any{},
		description: emptyToNil(p.Description),
		metadata:    meta,
		createdAt:   now,
		updatedAt:   now,
		gate:        gate,
	}
	return nil
}

// AppendLog adds message to the job's log, dropping the oldest entries past the limit.
func (s *MemoryStore) AppendLog(_ context.Context, jobID, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return unknownJob(jobID)
	}
	j.log = append(j.log, message)
	if over := len(j.log) - s.opts.logLimit; over > 0 {
		n := copy(j.log, j.log[over:])
		clear(j.log[n:])
		j.log = j.log[:n]
	}
	j.updatedAt = s.opts.stamp()
	return nil
}

// UpdateCounters merges values into the job's counters key by key.
func (s *MemoryStore) UpdateCounters(_ context.Context, jobID string, values map[string]any) error {
	vals, err := normalize(values)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return unknownJob(jobID)
	}
	j.counters = merge(j.counters, vals)
	j.updatedAt = s.opts.stamp()
	return nil
}

// SetStatus records status and, when errMsg is non-nil, replaces the error message.
func (s *MemoryStore) SetStatus(_ context.Context, jobID string, status models.Status, errMsg *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return unknownJob(jobID)
	}
	j.status = status
	if errMsg != nil {
		j.errMsg = emptyToNil(*errMsg)
	}
	j.updatedAt = s.opts.stamp()
	return nil
}

// GetStatus returns a deep copy of the job's state.
func (s *MemoryStore) GetStatus(_ context.Context, jobID string) (models.Snapshot, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return models.Snapshot{}, false, nil
	}
	return models.Snapshot{
		JobID:       jobID,
		Status:      j.status,
		Log:         append([]string{}, j.log...),
		Counters:    copyMap(j.counters),
		Error:       copyString(j.errMsg),
		Description: copyString(j.description),
		Metadata:    copyMap(j.metadata),
		CreatedAt:   j.createdAt,
		UpdatedAt:   j.updatedAt,
	}, true, nil
}

// Pause holds a non-terminal job. It reports false for unknown or finished jobs.
func (s *MemoryStore) Pause(_ context.Context, jobID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok || j.status.Terminal() {
		return false, nil
	}
	j.hold()
	j.status = models.StatusPaused
	j.updatedAt = s.opts.stamp()
	return true, nil
}

// Resume releases the job's pause. It reports false only for unknown jobs.
func (s *MemoryStore) Resume(_ context.Context, jobID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return false, nil
	}
	j.release()
	if j.status == models.StatusPaused {
		j.status = models.StatusRunning
	}
	j.updatedAt = s.opts.stamp()
	return true, nil
}

// WaitIfPaused parks the caller on the job's gate without holding the table lock.
func (s *MemoryStore) WaitIfPaused(ctx context.Context, jobID string) error {
	s.mu.RLock()
	j, ok := s.jobs[jobID]
	var gate chan struct{}
	if ok {
		gate = j.gate
	}
	s.mu.RUnlock()
	if !ok {
		return unknownJob(jobID)
	}

	select {
	case <-gate:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close is a no-op; the table is released with the store.
func (s *MemoryStore) Close() error { return nil }

func copyString(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
