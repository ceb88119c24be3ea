package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"jobtracker/internal/jobstore"
	"jobtracker/internal/models"
	"jobtracker/internal/telemetry"
)

// Handler executes the workload of one job type, reporting through job.
type Handler func(ctx context.Context, job jobstore.Handle, payload map[string]any) error

// ErrUnknownType is returned by Launch for a job type without a handler.
var ErrUnknownType = errors.New("worker: no handler registered for job type")

// ErrInterrupted is recorded as the failure of a workload cancelled by Stop.
var ErrInterrupted = errors.New("interrupted by shutdown")

// Runner executes workloads in background goroutines and records their outcome
// in the store.
type Runner struct {
	store    jobstore.Store
	logger   *slog.Logger
	mu       sync.RWMutex
	handlers map[string]Handler
	wg       sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc
}

// NewRunner creates a runner with the built-in simulate handler registered.
func NewRunner(st jobstore.Store, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	r := &Runner{
		store:    st,
		logger:   logger,
		handlers: make(map[string]Handler),
		ctx:      ctx,
		cancel:   cancel,
	}
	r.RegisterHandler(SimulateType, Simulate)
	return r
}

// RegisterHandler binds a handler to a job type.
func (r *Runner) RegisterHandler(jobType string, handler Handler) {
	if jobType == "" || handler == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[jobType] = handler
}

// Launch starts the workload for jobID and returns once it is scheduled. The
// workload outlives ctx's cancellation but keeps its values; Stop cancels it.
func (r *Runner) Launch(ctx context.Context, jobID, jobType string, params models.CreateParams, payload map[string]any) error {
	r.mu.RLock()
	handler, ok := r.handlers[jobType]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownType, jobType)
	}
	if err := r.ctx.Err(); err != nil {
		return fmt.Errorf("worker: runner stopped: %w", err)
	}

	jobCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stop := context.AfterFunc(r.ctx, cancel)

	r.wg.Add(1)
	telemetry.JobsStarted.Inc()
	go func() {
		defer r.wg.Done()
		defer cancel()
		defer stop()
		r.run(jobCtx, jobID, jobType, params, payload, handler)
	}()
	return nil
}

func (r *Runner) run(ctx context.Context, jobID, jobType string, params models.CreateParams, payload map[string]any, handler Handler) {
	log := r.logger.With("job_id", jobID, "type", jobType)
	telemetry.JobsRunning.Inc()
	defer telemetry.JobsRunning.Dec()

	job, err := r.start(ctx, jobID, params)
	if err != nil {
		log.Error("could not mark job running", "error", err)
		telemetry.JobsFinished.WithLabelValues("error").Inc()
		return
	}

	runErr := handler(ctx, job, payload)
	if runErr != nil && r.ctx.Err() != nil && errors.Is(runErr, context.Canceled) {
		runErr = ErrInterrupted
	}

	// The final write must land even when the workload was cancelled.
	final := context.WithoutCancel(ctx)
	if runErr != nil {
		log.Warn("job failed", "error", runErr)
		telemetry.JobsFinished.WithLabelValues(string(models.StatusFailed)).Inc()
		if err := job.Fail(final, runErr); err != nil {
			log.Error("could not record failure", "error", err)
		}
		return
	}
	log.Info("job completed")
	telemetry.JobsFinished.WithLabelValues(string(models.StatusCompleted)).Inc()
	if err := job.SetStatus(final, models.StatusCompleted); err != nil {
		log.Error("could not record completion", "error", err)
	}
}

// start marks the job running, recreating it first if the store no longer knows it.
func (r *Runner) start(ctx context.Context, jobID string, params models.CreateParams) (jobstore.Handle, error) {
	job := jobstore.NewHandle(r.store, jobID)
	err := job.SetStatus(ctx, models.StatusRunning)
	if !errors.Is(err, jobstore.ErrUnknownJob) {
		return job, err
	}
	r.logger.Warn("job missing from store, re-initialising", "job_id", jobID)
	job, err = jobstore.Initialise(ctx, r.store, jobID, params)
	if err != nil {
		return job, err
	}
	return job, job.SetStatus(ctx, models.StatusRunning)
}

// Wait blocks until every launched workload has returned.
func (r *Runner) Wait() { r.wg.Wait() }

// Stop cancels running workloads and refuses new launches. It does not wait.
func (r *Runner) Stop() { r.cancel() }
