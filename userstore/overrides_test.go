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

type fakeNotifier struct {
	calls []*ratelimit.Override
	done  chan struct{}
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{done: make(chan struct{}, 1)}
}

func (n *fakeNotifier) NotifyOverrideWritten(ctx context.Context, userID uuid.UUID, override *ratelimit.Override) {
	n.calls = append(n.calls, override)
	n.done <- struct{}{}
}

// wait blocks until WriteOverride's detached notification goroutine
// has delivered a call.
func (n *fakeNotifier) wait(t *testing.T) {
	t.Helper()
	select {
	case <-n.done:
	case <-time.After(time.Second):
		t.Fatal("override notifier was not called")
	}
}

func TestStore_WriteOverride_FullPatch(t *testing.T) {
	userID := uuid.New()
	limit := 5
	windowSeconds := 120
	expiry := time.Now().Add(time.Hour)

	client := &fakeClient{conn: &fakeConn{
		queryRow: func(ctx context.Context, sql string, args ...any) pgx.Row {
			return fakeRow{values: []any{&limit, &windowSeconds, &expiry}}
		},
	}}

	notifier := newFakeNotifier()
	store := NewStore(client, WithRegisterer(prometheus.NewRegistry()), WithOverrideNotifier(notifier))

	override, err := store.WriteOverride(context.Background(), userID, OverridePatch{
		Limit:         &limit,
		WindowSeconds: &windowSeconds,
		Expiry:        &expiry,
	})
	require.NoError(t, err)
	require.NotNil(t, override)
	assert.Equal(t, 5, override.Limit)

	notifier.wait(t)
	require.Len(t, notifier.calls, 1)
	assert.Equal(t, override, notifier.calls[0])
}

func TestStore_WriteOverride_NotFound(t *testing.T) {
	client := &fakeClient{conn: &fakeConn{
		queryRow: func(ctx context.Context, sql string, args ...any) pgx.Row {
			return fakeRow{err: pgx.ErrNoRows}
		},
	}}

	store := NewStore(client, WithRegisterer(prometheus.NewRegistry()))

	_, err := store.WriteOverride(context.Background(), uuid.New(), OverridePatch{})
	require.Error(t, err)

	rlErr, ok := err.(*ratelimit.Error)
	require.True(t, ok)
	assert.Equal(t, ratelimit.KindNotFound, rlErr.Kind)
}

func TestStore_WriteOverride_PartialPatchLeavesOverrideInactive(t *testing.T) {
	limit := 5

	client := &fakeClient{conn: &fakeConn{
		queryRow: func(ctx context.Context, sql string, args ...any) pgx.Row {
			return fakeRow{values: []any{&limit, (*int)(nil), (*time.Time)(nil)}}
		},
	}}

	notifier := newFakeNotifier()
	store := NewStore(client, WithRegisterer(prometheus.NewRegistry()), WithOverrideNotifier(notifier))

	override, err := store.WriteOverride(context.Background(), uuid.New(), OverridePatch{Limit: &limit})
	require.NoError(t, err)
	assert.Nil(t, override)

	notifier.wait(t)
	require.Len(t, notifier.calls, 1)
	assert.Nil(t, notifier.calls[0])
}
