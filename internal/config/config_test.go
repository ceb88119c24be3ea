package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"JOB_STORE_URL", "REDIS_URL", "REDIS_HOST", "JOB_STORE_SQLITE_PATH", "JOB_STORE_POLL_INTERVAL"} {
		t.Setenv(key, "")
	}

	cfg := Load()
	assert.Equal(t, "8080", cfg.HTTPPort)
	assert.Equal(t, "job_state.db", cfg.JobStore.SQLitePath)
	assert.Equal(t, "jobtracker", cfg.JobStore.Namespace)
	assert.Equal(t, 500*time.Millisecond, cfg.JobStore.PollInterval)
	assert.Empty(t, cfg.JobStore.URL)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("JOB_STORE_URL", "redis://localhost:6379/0")
	t.Setenv("JOB_STORE_POLL_INTERVAL", "2s")
	t.Setenv("RATE_LIMIT_CAPACITY", "25")
	t.Setenv("RATE_LIMIT_REFILL_PER_SEC", "not-a-number")

	cfg := Load()
	assert.Equal(t, "redis://localhost:6379/0", cfg.JobStore.URL)
	assert.Equal(t, 2*time.Second, cfg.JobStore.PollInterval)
	assert.Equal(t, 25, cfg.RateLimitCapacity)
	assert.Equal(t, float64(1), cfg.RateLimitRefill)
}
