package backend

import (
	"context"
	"errors"
	"testing"

	"github.com/dmitrijs2005/canvasvault/internal/models"
	"github.com/dmitrijs2005/canvasvault/internal/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUsage_FilesystemProbe(t *testing.T) {
	b, _ := newTestBackend(t)

	orig := freeSpace
	t.Cleanup(func() { freeSpace = orig })
	freeSpace = func(string) (uint64, error) { return 1 << 20, nil }

	u, err := b.Usage(context.Background())
	require.NoError(t, err)
	assert.False(t, u.Estimated)
	assert.Positive(t, u.Used)
	assert.Equal(t, u.Used+1<<20, u.Quota)
	assert.Greater(t, u.PercentUsed, 0.0)
	assert.LessOrEqual(t, u.PercentUsed, 100.0)
}

func TestUsage_FallsBackToEstimate(t *testing.T) {
	b, _ := newTestBackend(t)
	ctx := context.Background()

	orig := freeSpace
	t.Cleanup(func() { freeSpace = orig })
	freeSpace = func(string) (uint64, error) { return 0, errors.New("no statfs") }

	_, err := b.Put(ctx, schema.Jobs, models.Record{"id": "j", "notes": "0123456789"})
	require.NoError(t, err)

	u, err := b.Usage(ctx)
	require.NoError(t, err)
	assert.True(t, u.Estimated)
	assert.Equal(t, NominalQuota, u.Quota)
	assert.Greater(t, u.Used, int64(10))
}

func TestNewUsage_Percent(t *testing.T) {
	assert.Equal(t, 25.0, newUsage(1, 4, false).PercentUsed)
	assert.Equal(t, 33.33, newUsage(1, 3, false).PercentUsed)
	assert.Zero(t, newUsage(1, 0, true).PercentUsed)
}
