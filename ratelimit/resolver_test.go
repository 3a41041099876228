package ratelimit

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.gearno.de/ratelimitd/tierconfig"
)

func testRegistry(t *testing.T) *tierconfig.Registry {
	t.Helper()
	return tierconfig.New(map[string]tierconfig.Plan{
		"free":    {Requests: 10, WindowSeconds: 60},
		"premium": {Requests: 1000, WindowSeconds: 60},
	})
}

func TestResolve_TierDefault(t *testing.T) {
	registry := testRegistry(t)
	now := time.Unix(1_000_000, 0)

	user := User{ID: uuid.New(), Tier: "free"}

	resolved, err := resolve(user, registry, now)
	require.NoError(t, err)
	assert.Equal(t, 10, resolved.Limit)
	assert.Equal(t, 60, resolved.WindowSeconds)
	assert.False(t, resolved.OverrideActive)
}

func TestResolve_UnknownTier(t *testing.T) {
	registry := testRegistry(t)
	now := time.Unix(1_000_000, 0)

	user := User{ID: uuid.New(), Tier: "platinum"}

	_, err := resolve(user, registry, now)
	require.Error(t, err)

	rlErr, ok := err.(*Error)
	require.True(t, ok)
	assert.Equal(t, KindConfigError, rlErr.Kind)
}

func TestResolve_ActiveOverrideSupersedesTier(t *testing.T) {
	registry := testRegistry(t)
	now := time.Unix(1_000_000, 0)

	user := User{
		ID:   uuid.New(),
		Tier: "free",
		Override: &Override{
			Limit:         2,
			WindowSeconds: 30,
			Expiry:        now.Add(300 * time.Second),
		},
	}

	resolved, err := resolve(user, registry, now)
	require.NoError(t, err)
	assert.Equal(t, 2, resolved.Limit)
	assert.Equal(t, 30, resolved.WindowSeconds)
	assert.True(t, resolved.OverrideActive)
}

func TestResolve_ExpiredOverrideFallsBackToTier(t *testing.T) {
	registry := testRegistry(t)
	now := time.Unix(1_000_000, 0)

	user := User{
		ID:   uuid.New(),
		Tier: "free",
		Override: &Override{
			Limit:         2,
			WindowSeconds: 30,
			Expiry:        now.Add(-1 * time.Second),
		},
	}

	resolved, err := resolve(user, registry, now)
	require.NoError(t, err)
	assert.Equal(t, 10, resolved.Limit)
	assert.Equal(t, 60, resolved.WindowSeconds)
	assert.False(t, resolved.OverrideActive)
}

func TestResolve_OverrideExpiringExactlyNowIsInactive(t *testing.T) {
	registry := testRegistry(t)
	now := time.Unix(1_000_000, 0)

	user := User{
		ID:   uuid.New(),
		Tier: "free",
		Override: &Override{
			Limit:         2,
			WindowSeconds: 30,
			Expiry:        now,
		},
	}

	resolved, err := resolve(user, registry, now)
	require.NoError(t, err)
	assert.False(t, resolved.OverrideActive)
}

func TestResolve_NonPositiveTierWindowIsConfigError(t *testing.T) {
	registry := tierconfig.New(map[string]tierconfig.Plan{
		"broken": {Requests: 10, WindowSeconds: 0},
	})
	now := time.Unix(1_000_000, 0)

	user := User{ID: uuid.New(), Tier: "broken"}

	_, err := resolve(user, registry, now)
	require.Error(t, err)
	rlErr, ok := err.(*Error)
	require.True(t, ok)
	assert.Equal(t, KindConfigError, rlErr.Kind)
}
