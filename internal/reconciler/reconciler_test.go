package reconciler

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"asset-pipeline/internal/models"
	"asset-pipeline/internal/store"
)

func TestSweepFailsStuckAssets(t *testing.T) {
	ctx := context.Background()
	assets := store.NewMemory()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	require.NoError(t, assets.Insert(ctx, "stuck"))
	require.NoError(t, assets.MarkProcessing(ctx, "stuck"))
	require.NoError(t, assets.Insert(ctx, "fresh"))

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, assets.MarkProcessing(ctx, "fresh"))

	r := New(assets, "@every 5m", 10*time.Millisecond, logger)
	r.Sweep(ctx)

	stuck, err := assets.Get(ctx, "stuck")
	require.NoError(t, err)
	assert.Equal(t, models.AssetFailed, stuck.Status)
	assert.NotEmpty(t, stuck.ErrorMessage)

	fresh, err := assets.Get(ctx, "fresh")
	require.NoError(t, err)
	assert.Equal(t, models.AssetProcessing, fresh.Status, "recently updated assets stay untouched")
}

func TestStartSchedulesSweep(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	assets := store.NewMemory()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	r := New(assets, "@every 1h", time.Minute, logger)
	require.NoError(t, r.Start(ctx))

	bad := New(assets, "not a cron spec", time.Minute, logger)
	assert.Error(t, bad.Start(ctx))
}
