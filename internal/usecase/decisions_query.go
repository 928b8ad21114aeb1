package usecase

import (
	"context"
	"fmt"
	"time"

	"UltraFlow/internal/domain/models"
	domrepo "UltraFlow/internal/domain/repository"
)

// DecisionsUseCase provides business logic for querying recorded decisions.
type DecisionsUseCase struct {
	store domrepo.Storage
}

func NewDecisionsUseCase(store domrepo.Storage) *DecisionsUseCase {
	return &DecisionsUseCase{store: store}
}

type GetDecisionsParams struct {
	Symbol string
	From   time.Time
	To     time.Time
	Limit  int
}

type GetDecisionsResult struct {
	Symbol    string
	From      time.Time
	To        time.Time
	Count     int
	Decisions []*models.Decision
}

func (uc *DecisionsUseCase) GetDecisions(ctx context.Context, p GetDecisionsParams) (*GetDecisionsResult, error) {
	if p.Symbol == "" {
		return nil, fmt.Errorf("symbol required")
	}
	if p.To.IsZero() {
		p.To = time.Now().UTC()
	}
	if p.From.After(p.To) {
		return nil, fmt.Errorf("from must be <= to")
	}
	if p.Limit <= 0 {
		p.Limit = 1000
	}
	if p.Limit > 10000 {
		p.Limit = 10000
	}

	decisions, err := uc.store.Query(ctx, p.Symbol, p.From, p.To, p.Limit)
	if err != nil {
		return nil, fmt.Errorf("get decisions: %w", err)
	}

	return &GetDecisionsResult{
		Symbol:    p.Symbol,
		From:      p.From,
		To:        p.To,
		Count:     len(decisions),
		Decisions: decisions,
	}, nil
}
