package counterstore

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	c := NewClientFromCmdable(rdb, WithRegisterer(prometheus.NewRegistry()))

	return c, mr
}

func TestClient_IncrAndExpire_FirstCreationSetsTTL(t *testing.T) {
	c, mr := newTestClient(t)
	ctx := context.Background()

	count, err := c.IncrAndExpire(ctx, "rate_limit:u1:0", 60)
	require.NoError(t, err)
	require.Equal(t, 1, count)

	ttl := mr.TTL("rate_limit:u1:0")
	require.Equal(t, 60*time.Second, ttl)
}

func TestClient_IncrAndExpire_SubsequentIncrementsDoNotResetTTL(t *testing.T) {
	c, mr := newTestClient(t)
	ctx := context.Background()

	_, err := c.IncrAndExpire(ctx, "rate_limit:u1:0", 60)
	require.NoError(t, err)

	mr.FastForward(10 * time.Second)

	count, err := c.IncrAndExpire(ctx, "rate_limit:u1:0", 60)
	require.NoError(t, err)
	require.Equal(t, 2, count)

	ttl := mr.TTL("rate_limit:u1:0")
	require.LessOrEqual(t, ttl, 50*time.Second)
}

func TestClient_TTL_AbsentKeyReturnsMinusTwo(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	d, err := c.TTL(ctx, "rate_limit:missing:0")
	require.NoError(t, err)
	require.Equal(t, -2*time.Second, d)
}

func TestClient_Get_AbsentKeyReturnsZero(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	n, err := c.Get(ctx, "rate_limit:missing:0")
	require.NoError(t, err)
	require.Equal(t, 0, n)
}

func TestClient_Get_ReflectsIncrementedValue(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	_, err := c.IncrAndExpire(ctx, "rate_limit:u1:0", 60)
	require.NoError(t, err)
	_, err = c.IncrAndExpire(ctx, "rate_limit:u1:0", 60)
	require.NoError(t, err)

	n, err := c.Get(ctx, "rate_limit:u1:0")
	require.NoError(t, err)
	require.Equal(t, 2, n)
}

func TestClient_Ready_PingsServer(t *testing.T) {
	c, _ := newTestClient(t)
	require.NoError(t, c.Ready(context.Background()))
}
