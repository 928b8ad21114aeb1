package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"UltraFlow/internal/domain/models"
	"UltraFlow/internal/domain/repository"
	"UltraFlow/pkg/cache"
)

func TestCacheBudgetStoreRoundTrip(t *testing.T) {
	mem := cache.NewMemoryCache()
	t.Cleanup(func() { mem.Close() })
	store := NewCacheBudgetStore(mem)

	snap := &models.BudgetSnapshot{
		Day:          "2026-08-31",
		RealizedLoss: 412.5,
		Open:         []string{"BTCUSDT"},
		Pending:      []string{"ETHUSDT"},
		UpdatedAt:    time.Now().UTC().Truncate(time.Second),
	}
	require.NoError(t, store.Save(context.Background(), snap))

	got, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, snap.Day, got.Day)
	assert.Equal(t, snap.RealizedLoss, got.RealizedLoss)
	assert.Equal(t, snap.Open, got.Open)
	assert.Equal(t, snap.Pending, got.Pending)
}

func TestCacheBudgetStoreEmpty(t *testing.T) {
	mem := cache.NewMemoryCache()
	t.Cleanup(func() { mem.Close() })
	store := NewCacheBudgetStore(mem)

	_, err := store.Load(context.Background())
	assert.ErrorIs(t, err, repository.ErrNoSnapshot)
}
