package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.gearno.de/ratelimitd/tierconfig"
)

func TestEngine_Stats_ReflectsCountWithoutMutating(t *testing.T) {
	registry := tierconfig.New(map[string]tierconfig.Plan{"free": {Requests: 10, WindowSeconds: 60}})
	now := time.Unix(0, 0)
	engine, _ := newTestEngine(t, registry, now)

	user := User{ID: uuid.New(), Tier: "free"}

	for i := 0; i < 3; i++ {
		_, err := engine.Check(context.Background(), user)
		require.NoError(t, err)
	}

	stats, err := engine.Stats(context.Background(), user)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.CurrentCount)
	assert.Equal(t, 10, stats.Limit)
	assert.Equal(t, 60, stats.WindowSeconds)
	assert.False(t, stats.OverrideActive)
	assert.GreaterOrEqual(t, stats.SecondsUntilReset, 0)
	assert.LessOrEqual(t, stats.SecondsUntilReset, 60)

	// Reading stats must not have incremented the counter.
	stats2, err := engine.Stats(context.Background(), user)
	require.NoError(t, err)
	assert.Equal(t, 3, stats2.CurrentCount)
}

func TestEngine_Stats_AbsentKeyReportsSentinel(t *testing.T) {
	registry := tierconfig.New(map[string]tierconfig.Plan{"free": {Requests: 10, WindowSeconds: 60}})
	engine, _ := newTestEngine(t, registry, time.Unix(0, 0))

	user := User{ID: uuid.New(), Tier: "free"}

	stats, err := engine.Stats(context.Background(), user)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.CurrentCount)
	assert.Equal(t, -2, stats.SecondsUntilReset)
}

func TestEngine_Stats_OverrideActive(t *testing.T) {
	registry := tierconfig.New(map[string]tierconfig.Plan{"free": {Requests: 10, WindowSeconds: 60}})
	now := time.Unix(0, 0)
	engine, _ := newTestEngine(t, registry, now)

	user := User{
		ID:   uuid.New(),
		Tier: "free",
		Override: &Override{
			Limit:         2,
			WindowSeconds: 30,
			Expiry:        now.Add(300 * time.Second),
		},
	}

	for i := 0; i < 3; i++ {
		_, err := engine.Check(context.Background(), user)
		require.NoError(t, err)
	}

	stats, err := engine.Stats(context.Background(), user)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Limit)
	assert.Equal(t, 30, stats.WindowSeconds)
	assert.True(t, stats.OverrideActive)
	assert.Equal(t, 3, stats.CurrentCount)
}
