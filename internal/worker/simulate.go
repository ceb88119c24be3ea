package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"jobtracker/internal/jobstore"
)

// SimulateType is the job type served by Simulate.
const SimulateType = "simulate"

const defaultSimulateSteps = 10

// Simulate is a stand-in workload for demos and tests. Payload keys:
// steps (default 10), duration_ms slept per step, should_fail to fail half way.
func Simulate(ctx context.Context, job jobstore.Handle, payload map[string]any) error {
	steps := defaultSimulateSteps
	if n, ok := asInt(payload["steps"]); ok && n > 0 {
		steps = n
	}
	var pause time.Duration
	if ms, ok := asInt(payload["duration_ms"]); ok && ms > 0 {
		pause = time.Duration(ms) * time.Millisecond
	}
	shouldFail, _ := payload["should_fail"].(bool)

	for i := 1; i <= steps; i++ {
		if err := job.WaitIfPaused(ctx); err != nil {
			return err
		}
		if shouldFail && i > steps/2 {
			return errors.New("simulated failure requested by payload.should_fail")
		}
		if pause > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(pause):
			}
		}
		if err := job.Log(ctx, fmt.Sprintf("step %d/%d", i, steps)); err != nil {
			return err
		}
		if err := job.UpdateCounters(ctx, map[string]any{"processed": i, "total": steps}); err != nil {
			return err
		}
	}
	return nil
}

func asInt(v any) (int, bool) {
	switch t := v.(type) {
	case float64:
		return int(t), true
	case int:
		return t, true
	case int64:
		return int(t), true
	default:
		return 0, false
	}
}
