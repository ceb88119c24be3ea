package jobstore

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jobtracker/internal/models"
	"jobtracker/internal/telemetry"
)

func TestHandle_ReportsProgress(t *testing.T) {
	ctx := context.Background()
	st := NewMemoryStore()

	h, err := Initialise(ctx, st, "job-7", models.CreateParams{Description: "sync"})
	require.NoError(t, err)
	assert.Equal(t, "job-7", h.ID())

	require.NoError(t, h.SetStatus(ctx, models.StatusRunning))
	require.NoError(t, h.Log(ctx, "step 1/2"))
	require.NoError(t, h.UpdateCounters(ctx, map[string]any{"processed": 1}))
	require.NoError(t, h.WaitIfPaused(ctx))
	require.NoError(t, h.Fail(ctx, errors.New("upstream timeout")))

	snap, ok, err := st.GetStatus(ctx, "job-7")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, models.StatusFailed, snap.Status)
	assert.Equal(t, []string{"step 1/2"}, snap.Log)
	assert.Equal(t, map[string]any{"processed": float64(1)}, snap.Counters)
	require.NotNil(t, snap.Error)
	assert.Equal(t, "upstream timeout", *snap.Error)
}

func TestHandle_UnknownJob(t *testing.T) {
	h := NewHandle(NewMemoryStore(), "ghost")
	assert.ErrorIs(t, h.Log(context.Background(), "x"), ErrUnknownJob)
	assert.ErrorIs(t, h.SetStatusWithError(context.Background(), models.StatusFailed, "x"), ErrUnknownJob)
}

func TestInstrumentedStore_CountsOutcomes(t *testing.T) {
	ctx := context.Background()
	const backend = "memory-instrumented-test"
	st := Instrument(NewMemoryStore(), backend)
	assert.Equal(t, backend, st.Backend())

	count := func(op, outcome string) float64 {
		return counterValue(t, telemetry.StoreOperations.WithLabelValues(backend, op, outcome))
	}
	rejected := counterValue(t, telemetry.PauseRejected)

	require.NoError(t, st.CreateJob(ctx, "job", models.CreateParams{}))
	assert.ErrorIs(t, st.AppendLog(ctx, "missing", "x"), ErrUnknownJob)
	_, ok, err := st.GetStatus(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, st.SetStatus(ctx, "job", models.StatusCompleted, nil))
	ok, err = st.Pause(ctx, "job")
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, st.WaitIfPaused(ctx, "job"))

	assert.Equal(t, float64(1), count("create_job", "ok"))
	assert.Equal(t, float64(1), count("append_log", "unknown_job"))
	assert.Equal(t, float64(1), count("get_status", "unknown_job"))
	assert.Equal(t, float64(1), count("set_status", "ok"))
	assert.Equal(t, float64(1), count("pause", "ok"))
	assert.Equal(t, float64(1), count("wait_if_paused", "ok"))
	assert.Equal(t, rejected+1, counterValue(t, telemetry.PauseRejected))
	require.NoError(t, st.Close())
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, c.Write(&m))
	return m.GetCounter().GetValue()
}
