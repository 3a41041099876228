package userstore

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.gearno.de/ratelimitd/ratelimit"
)

func TestStore_GetByID_NoOverride(t *testing.T) {
	userID := uuid.New()

	client := &fakeClient{conn: &fakeConn{
		queryRow: func(ctx context.Context, sql string, args ...any) pgx.Row {
			return fakeRow{values: []any{"free", (*int)(nil), (*int)(nil), (*time.Time)(nil)}}
		},
	}}

	store := NewStore(client, WithRegisterer(prometheus.NewRegistry()))

	user, err := store.GetByID(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, userID, user.ID)
	assert.Equal(t, "free", user.Tier)
	assert.Nil(t, user.Override)
}

func TestStore_GetByID_ActiveOverride(t *testing.T) {
	userID := uuid.New()
	limit := 2
	windowSeconds := 30
	expiry := time.Now().Add(time.Hour)

	client := &fakeClient{conn: &fakeConn{
		queryRow: func(ctx context.Context, sql string, args ...any) pgx.Row {
			return fakeRow{values: []any{"free", &limit, &windowSeconds, &expiry}}
		},
	}}

	store := NewStore(client, WithRegisterer(prometheus.NewRegistry()))

	user, err := store.GetByID(context.Background(), userID)
	require.NoError(t, err)
	require.NotNil(t, user.Override)
	assert.Equal(t, 2, user.Override.Limit)
	assert.Equal(t, 30, user.Override.WindowSeconds)
}

func TestStore_GetByID_PartialOverrideCollapsesToNil(t *testing.T) {
	userID := uuid.New()
	limit := 2

	client := &fakeClient{conn: &fakeConn{
		queryRow: func(ctx context.Context, sql string, args ...any) pgx.Row {
			return fakeRow{values: []any{"free", &limit, (*int)(nil), (*time.Time)(nil)}}
		},
	}}

	store := NewStore(client, WithRegisterer(prometheus.NewRegistry()))

	user, err := store.GetByID(context.Background(), userID)
	require.NoError(t, err)
	assert.Nil(t, user.Override)
}

func TestStore_GetByID_NotFound(t *testing.T) {
	client := &fakeClient{conn: &fakeConn{
		queryRow: func(ctx context.Context, sql string, args ...any) pgx.Row {
			return fakeRow{err: pgx.ErrNoRows}
		},
	}}

	store := NewStore(client, WithRegisterer(prometheus.NewRegistry()))

	_, err := store.GetByID(context.Background(), uuid.New())
	require.Error(t, err)

	rlErr, ok := err.(*ratelimit.Error)
	require.True(t, ok)
	assert.Equal(t, ratelimit.KindNotFound, rlErr.Kind)
}
