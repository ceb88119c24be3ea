package jobstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jobtracker/internal/models"
)

func newRedisStore(t *testing.T, opts ...Option) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	st, err := NewRedisStore(context.Background(), "redis://"+mr.Addr()+"/0", opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st, mr
}

func TestRedisStore_KeyLayout(t *testing.T) {
	ctx := context.Background()
	st, mr := newRedisStore(t, WithNamespace("acme"))

	require.NoError(t, st.CreateJob(ctx, "abc", models.CreateParams{}))
	require.NoError(t, st.AppendLog(ctx, "abc", "hello"))

	assert.True(t, mr.Exists("acme:job:abc"))
	assert.Equal(t, "queued", mr.HGet("acme:job:abc", "status"))
	flag, err := mr.Get("acme:job:abc:paused")
	require.NoError(t, err)
	assert.Equal(t, "0", flag)
	entries, err := mr.List("acme:job:abc:log")
	require.NoError(t, err)
	assert.Equal(t, []string{"hello"}, entries)

	_, err = st.Pause(ctx, "abc")
	require.NoError(t, err)
	flag, err = mr.Get("acme:job:abc:paused")
	require.NoError(t, err)
	assert.Equal(t, "1", flag)
}

func TestRedisStore_RejectsIDsAliasingAnotherJobsKeys(t *testing.T) {
	ctx := context.Background()
	st, mr := newRedisStore(t)
	require.NoError(t, st.CreateJob(ctx, "x", models.CreateParams{}))
	require.NoError(t, st.AppendLog(ctx, "x", "line 1"))

	for _, id := range []string{"x:log", "x:paused"} {
		assert.ErrorIs(t, st.CreateJob(ctx, id, models.CreateParams{}), ErrReservedJobID, id)
		assert.ErrorIs(t, st.AppendLog(ctx, id, "boom"), ErrUnknownJob, id)
		assert.ErrorIs(t, st.UpdateCounters(ctx, id, map[string]any{"n": 1}), ErrUnknownJob, id)
		assert.ErrorIs(t, st.SetStatus(ctx, id, models.StatusRunning, nil), ErrUnknownJob, id)
		assert.ErrorIs(t, st.WaitIfPaused(ctx, id), ErrUnknownJob, id)
		_, ok, err := st.GetStatus(ctx, id)
		require.NoError(t, err)
		assert.False(t, ok, id)
		ok, err = st.Pause(ctx, id)
		require.NoError(t, err)
		assert.False(t, ok, id)
		ok, err = st.Resume(ctx, id)
		require.NoError(t, err)
		assert.False(t, ok, id)
	}

	entries, err := mr.List(st.logKey("x"))
	require.NoError(t, err)
	assert.Equal(t, []string{"line 1"}, entries)
	flag, err := mr.Get(st.pauseKey("x"))
	require.NoError(t, err)
	assert.Equal(t, "0", flag)

	snap, ok, err := st.GetStatus(ctx, "x")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, models.StatusQueued, snap.Status)
	assert.Equal(t, []string{"line 1"}, snap.Log)
}

func TestRedisStore_MalformedFieldsReadAsEmpty(t *testing.T) {
	ctx := context.Background()
	st, mr := newRedisStore(t)
	require.NoError(t, st.CreateJob(ctx, "job", models.CreateParams{}))

	mr.HSet(st.jobKey("job"), "counters", "{not json", "metadata", "[1,2]")
	snap, ok, err := st.GetStatus(ctx, "job")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, map[string]any{}, snap.Counters)
	assert.Equal(t, map[string]any{}, snap.Metadata)

	require.NoError(t, st.UpdateCounters(ctx, "job", map[string]any{"n": 1}))
	snap, _, err = st.GetStatus(ctx, "job")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"n": float64(1)}, snap.Counters)
}

func TestRedisStore_MissingStatusReadsUnknown(t *testing.T) {
	ctx := context.Background()
	st, mr := newRedisStore(t)
	mr.HSet(st.jobKey("legacy"), "counters", "{}")

	snap, ok, err := st.GetStatus(ctx, "legacy")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, models.Status("unknown"), snap.Status)
	assert.Equal(t, []string{}, snap.Log)
}

// Counter merges are read-modify-write, so concurrent writers may drop each other's
// keys. Every surviving key must still carry the value its writer sent.
func TestRedisStore_ConcurrentCounterMergeIsLastWriterWins(t *testing.T) {
	ctx := context.Background()
	st, _ := newRedisStore(t)
	require.NoError(t, st.CreateJob(ctx, "job", models.CreateParams{}))

	const writers = 20
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, st.UpdateCounters(ctx, "job", map[string]any{fmt.Sprintf("k%d", i): i}))
		}(i)
	}
	wg.Wait()

	snap, _, err := st.GetStatus(ctx, "job")
	require.NoError(t, err)
	require.NotEmpty(t, snap.Counters)
	assert.LessOrEqual(t, len(snap.Counters), writers)
	for k, v := range snap.Counters {
		var i int
		_, err := fmt.Sscanf(k, "k%d", &i)
		require.NoError(t, err)
		assert.Equal(t, float64(i), v)
	}
}

func TestRedisStore_SharedServerSeesPauseFromOtherClient(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	url := "redis://" + mr.Addr() + "/0"
	worker, err := NewRedisStore(ctx, url, WithPollInterval(10*time.Millisecond))
	require.NoError(t, err)
	defer worker.Close()
	controller, err := NewRedisStore(ctx, url)
	require.NoError(t, err)
	defer controller.Close()

	require.NoError(t, worker.CreateJob(ctx, "job", models.CreateParams{}))
	ok, err := controller.Pause(ctx, "job")
	require.NoError(t, err)
	require.True(t, ok)

	done := make(chan error, 1)
	go func() { done <- worker.WaitIfPaused(ctx, "job") }()
	select {
	case <-done:
		t.Fatal("worker was not held by the pause flag")
	case <-time.After(100 * time.Millisecond):
	}

	_, err = controller.Resume(ctx, "job")
	require.NoError(t, err)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not observe resume")
	}
}

func TestNewRedisStore_InvalidURL(t *testing.T) {
	_, err := NewRedisStore(context.Background(), "redis://host:notaport/0")
	require.Error(t, err)

	var initErr *InitError
	require.ErrorAs(t, err, &initErr)
	assert.Equal(t, CauseInvalidURL, initErr.Cause)
	assert.ErrorIs(t, err, ErrInitFailed)
}

func TestNewRedisStore_AuthFailure(t *testing.T) {
	mr := miniredis.RunT(t)
	mr.RequireAuth("s3cret")

	for _, url := range []string{
		"redis://" + mr.Addr() + "/0",
		"redis://:wrong@" + mr.Addr() + "/0",
	} {
		_, err := NewRedisStore(context.Background(), url)
		require.Error(t, err, url)
		var initErr *InitError
		require.ErrorAs(t, err, &initErr)
		assert.Equal(t, CauseAuth, initErr.Cause, err.Error())
		assert.Contains(t, err.Error(), "authentication rejected")
	}

	st, err := NewRedisStore(context.Background(), "redis://:s3cret@"+mr.Addr()+"/0")
	require.NoError(t, err)
	_ = st.Close()
}

func TestNewRedisStore_Unreachable(t *testing.T) {
	mr := miniredis.NewMiniRedis()
	require.NoError(t, mr.Start())
	addr := mr.Addr()
	mr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, err := NewRedisStore(ctx, "redis://"+addr+"/0")
	require.Error(t, err)

	var initErr *InitError
	require.ErrorAs(t, err, &initErr)
	assert.Equal(t, CauseUnreachable, initErr.Cause)
	assert.Contains(t, err.Error(), "cannot reach")
}

func TestClassifyRedisError(t *testing.T) {
	cases := []struct {
		err  error
		want InitCause
	}{
		{errors.New("NOAUTH Authentication required."), CauseAuth},
		{errors.New("WRONGPASS invalid username-password pair or user is disabled."), CauseAuth},
		{errors.New("ERR invalid password"), CauseAuth},
		{errors.New("ERR DB index is out of range"), CauseDatabaseIndex},
		{errors.New("ERR SELECT is not allowed in cluster mode"), CauseDatabaseIndex},
		{errors.New("dial tcp 10.0.0.1:6379: connect: connection refused"), CauseUnreachable},
		{fmt.Errorf("dial: %w", context.DeadlineExceeded), CauseUnreachable},
		{errors.New("lookup cache.internal: no such host"), CauseUnreachable},
		{errors.New("something else"), CauseUnknown},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, classifyRedisError(tc.err), tc.err.Error())
	}
}
