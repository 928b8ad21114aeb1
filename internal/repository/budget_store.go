package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"UltraFlow/internal/domain/models"
	"UltraFlow/internal/domain/repository"
	"UltraFlow/pkg/cache"
)

const budgetSnapshotKey = "budget:snapshot"

// Snapshots older than this are useless: the trading day they describe is
// over and the guard would discard them anyway.
const budgetSnapshotTTL = 48 * time.Hour

// CacheBudgetStore persists budget snapshots through the cache service. With
// the redis or layered backend the snapshot survives process restarts.
type CacheBudgetStore struct {
	cache cache.Service
}

func NewCacheBudgetStore(c cache.Service) *CacheBudgetStore {
	return &CacheBudgetStore{cache: c}
}

func (s *CacheBudgetStore) Save(ctx context.Context, snap *models.BudgetSnapshot) error {
	if err := s.cache.Set(ctx, budgetSnapshotKey, snap, budgetSnapshotTTL); err != nil {
		return fmt.Errorf("save budget snapshot: %w", err)
	}
	return nil
}

func (s *CacheBudgetStore) Load(ctx context.Context) (*models.BudgetSnapshot, error) {
	var snap models.BudgetSnapshot
	if err := s.cache.Get(ctx, budgetSnapshotKey, &snap); err != nil {
		if errors.Is(err, cache.ErrCacheMiss) {
			return nil, repository.ErrNoSnapshot
		}
		return nil, fmt.Errorf("load budget snapshot: %w", err)
	}
	return &snap, nil
}

var _ repository.BudgetStore = (*CacheBudgetStore)(nil)
