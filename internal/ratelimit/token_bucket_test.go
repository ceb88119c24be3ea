package ratelimit

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newClient(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client, mr
}

func TestTokenBucket_Capacity(t *testing.T) {
	ctx := context.Background()
	client, mr := newClient(t)
	bucket := NewTokenBucket(client, 2, 1, time.Minute, WithPrefix("jobtracker:ratelimit"))

	allowed, _, err := bucket.Allow(ctx, "acme")
	require.NoError(t, err)
	assert.True(t, allowed)
	allowed, _, err = bucket.Allow(ctx, "acme")
	require.NoError(t, err)
	assert.True(t, allowed)
	allowed, _, err = bucket.Allow(ctx, "acme")
	require.NoError(t, err)
	assert.False(t, allowed)

	// Tenants do not share tokens.
	allowed, _, err = bucket.Allow(ctx, "globex")
	require.NoError(t, err)
	assert.True(t, allowed)

	assert.True(t, mr.Exists("jobtracker:ratelimit:acme"))
}

func TestTokenBucket_Refill(t *testing.T) {
	ctx := context.Background()
	client, _ := newClient(t)
	now := time.Unix(1_700_000_000, 0)
	bucket := NewTokenBucket(client, 1, 2, time.Minute, WithClock(func() time.Time { return now }))

	allowed, _, err := bucket.Allow(ctx, "acme")
	require.NoError(t, err)
	require.True(t, allowed)
	allowed, _, err = bucket.Allow(ctx, "acme")
	require.NoError(t, err)
	require.False(t, allowed)

	now = now.Add(600 * time.Millisecond)
	allowed, tokens, err := bucket.Allow(ctx, "acme")
	require.NoError(t, err)
	assert.True(t, allowed)
	assert.Equal(t, float64(0), tokens)
}

func TestDial(t *testing.T) {
	_, mr := newClient(t)
	client, err := Dial(context.Background(), "redis://"+mr.Addr()+"/0")
	require.NoError(t, err)
	_ = client.Close()

	_, err = Dial(context.Background(), "redis://host:bad/0")
	assert.Error(t, err)
}
