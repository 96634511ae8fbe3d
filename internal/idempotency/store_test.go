package idempotency

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMemoryStore(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	store := NewMemoryStoreWithClock(func() time.Time { return now })
	ctx := context.Background()

	rec, err := store.Get(ctx, "missing")
	require.NoError(t, err)
	require.Nil(t, rec)

	require.NoError(t, store.Save(ctx, "abc", Record{
		StatusCode: 201,
		Response:   []byte("ok"),
		CreatedAt:  now,
		ExpiresAt:  now.Add(time.Minute),
	}))

	rec, err = store.Get(ctx, "abc")
	require.NoError(t, err)
	require.NotNil(t, rec)
	require.Equal(t, "ok", string(rec.Response))
	require.Equal(t, 201, rec.StatusCode)
}

func TestMemoryStoreExpiryAndPrune(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	store := NewMemoryStoreWithClock(func() time.Time { return now })
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, "short", Record{ExpiresAt: now.Add(time.Second)}))
	require.NoError(t, store.Save(ctx, "long", Record{ExpiresAt: now.Add(time.Hour)}))
	require.Equal(t, 2, store.Len())

	now = now.Add(time.Minute)
	rec, err := store.Get(ctx, "short")
	require.NoError(t, err)
	require.Nil(t, rec)

	require.Equal(t, 1, store.Prune())
	require.Equal(t, 1, store.Len())

	rec, err = store.Get(ctx, "long")
	require.NoError(t, err)
	require.NotNil(t, rec)
}
