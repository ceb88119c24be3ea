package jobstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jobtracker/internal/models"
)

func TestSQLitePathFromURL(t *testing.T) {
	cases := map[string]string{
		"sqlite:///var/lib/jobs.db": "var/lib/jobs.db",
		"sqlite:////tmp/jobs.db":    "/tmp/jobs.db",
		"sqlite://jobs.db":          "jobs.db",
		"sqlite:///:memory:":        ":memory:",
		"job_state.db":              "job_state.db",
	}
	for in, want := range cases {
		assert.Equal(t, want, SQLitePathFromURL(in), in)
	}
}

func TestSQLiteStore_StatePersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "jobs.db")

	first, err := NewSQLiteStore(ctx, path)
	require.NoError(t, err)
	require.NoError(t, first.CreateJob(ctx, "job", models.CreateParams{Description: "import"}))
	require.NoError(t, first.AppendLog(ctx, "job", "line"))
	_, err = first.Pause(ctx, "job")
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second, err := NewSQLiteStore(ctx, path)
	require.NoError(t, err)
	defer second.Close()
	assert.Equal(t, path, second.Path())

	snap, ok, err := second.GetStatus(ctx, "job")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, models.StatusPaused, snap.Status)
	assert.Equal(t, []string{"line"}, snap.Log)
	require.NotNil(t, snap.Description)
	assert.Equal(t, "import", *snap.Description)
}

func TestSQLiteStore_TwoHandlesShareOneFile(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "jobs.db")

	worker, err := NewSQLiteStore(ctx, path)
	require.NoError(t, err)
	defer worker.Close()
	controller, err := NewSQLiteStore(ctx, path)
	require.NoError(t, err)
	defer controller.Close()

	require.NoError(t, worker.CreateJob(ctx, "job", models.CreateParams{}))
	ok, err := controller.Pause(ctx, "job")
	require.NoError(t, err)
	require.True(t, ok)

	snap, _, err := worker.GetStatus(ctx, "job")
	require.NoError(t, err)
	assert.Equal(t, models.StatusPaused, snap.Status)
}

func TestSQLiteStore_MalformedJSONReadsAsEmpty(t *testing.T) {
	ctx := context.Background()
	st, err := NewSQLiteStore(ctx, filepath.Join(t.TempDir(), "jobs.db"))
	require.NoError(t, err)
	defer st.Close()

	require.NoError(t, st.CreateJob(ctx, "job", models.CreateParams{}))
	_, err = st.db.ExecContext(ctx, `UPDATE jobs SET counters = '{oops', metadata = 'null' WHERE job_id = ?`, "job")
	require.NoError(t, err)

	snap, ok, err := st.GetStatus(ctx, "job")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, map[string]any{}, snap.Counters)
	assert.Equal(t, map[string]any{}, snap.Metadata)

	require.NoError(t, st.UpdateCounters(ctx, "job", map[string]any{"rows": 10}))
	snap, _, err = st.GetStatus(ctx, "job")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"rows": float64(10)}, snap.Counters)
}

func TestSQLiteStore_InMemory(t *testing.T) {
	ctx := context.Background()
	st, err := NewSQLiteStore(ctx, SQLitePathFromURL("sqlite:///:memory:"))
	require.NoError(t, err)
	defer st.Close()

	require.NoError(t, st.CreateJob(ctx, "job", models.CreateParams{}))
	require.NoError(t, st.AppendLog(ctx, "job", "x"))
	snap, ok, err := st.GetStatus(ctx, "job")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []string{"x"}, snap.Log)
}

func TestNewSQLiteStore_EmptyPath(t *testing.T) {
	_, err := NewSQLiteStore(context.Background(), "  ")
	require.Error(t, err)
	var initErr *InitError
	require.ErrorAs(t, err, &initErr)
	assert.Equal(t, CauseInvalidURL, initErr.Cause)
}

func TestMigrationsLoadInOrder(t *testing.T) {
	for _, dialect := range []string{"sqlite", "postgres"} {
		migs, err := loadMigrations(dialect)
		require.NoError(t, err, dialect)
		require.NotEmpty(t, migs, dialect)
		assert.Equal(t, 1, migs[0].version)
		for i := 1; i < len(migs); i++ {
			assert.Less(t, migs[i-1].version, migs[i].version)
		}
	}
}
