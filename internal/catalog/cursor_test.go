package catalog

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestCursor(t *testing.T) (*ChangeCursor, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewChangeCursor(client, slog.New(slog.DiscardHandler)), mr
}

func TestChangeCursor(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("zero before any mutation", func(t *testing.T) {
		cursor, _ := newTestCursor(t)
		got, err := cursor.Current(ctx)
		require.NoError(t, err)
		require.True(t, got.IsZero())
	})

	t.Run("touch then read round trips", func(t *testing.T) {
		cursor, _ := newTestCursor(t)
		at := time.Date(2025, 6, 1, 9, 30, 0, 123456000, time.UTC)

		cursor.Touch(ctx, at)
		got, err := cursor.Current(ctx)
		require.NoError(t, err)
		require.True(t, got.Equal(at))
	})

	t.Run("later touches win", func(t *testing.T) {
		cursor, _ := newTestCursor(t)
		first := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
		second := first.Add(time.Minute)

		cursor.Touch(ctx, first)
		cursor.Touch(ctx, second)
		got, err := cursor.Current(ctx)
		require.NoError(t, err)
		require.True(t, got.Equal(second))
	})

	t.Run("nil cursor is inert", func(t *testing.T) {
		var cursor *ChangeCursor
		cursor.Touch(ctx, time.Now())
		got, err := cursor.Current(ctx)
		require.NoError(t, err)
		require.True(t, got.IsZero())
	})

	t.Run("redis outage does not panic touch", func(t *testing.T) {
		cursor, mr := newTestCursor(t)
		mr.Close()
		cursor.Touch(ctx, time.Now())
	})
}
