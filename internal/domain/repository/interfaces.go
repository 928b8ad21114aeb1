package repository

import (
	"context"
	"errors"
	"time"

	"UltraFlow/internal/domain/models"
)

// ErrNoSnapshot is returned by BudgetStore.Load when nothing was persisted yet.
var ErrNoSnapshot = errors.New("budget: no snapshot")

// SignalStream is an inbound source of trade signals (charting platform feed).
type SignalStream interface {
	Connect(ctx context.Context) error
	Subscribe(ctx context.Context) error
	Read(ctx context.Context) (<-chan *models.Signal, <-chan error)
	Reconnect(ctx context.Context) error
	Close() error
	IsConnected() bool
}

// LotSizeSource reports the minimum tradable quantity step for a symbol, as
// published by the exchange. The sizer floors quantities to it.
type LotSizeSource interface {
	LotStep(symbol string) float64
}

// OrderSink is the outbound execution collaborator. It owns exchange-specific
// retries and rate limiting; placement outcomes come back as ExecutionReports.
type OrderSink interface {
	LotSizeSource
	Place(ctx context.Context, symbol string, side models.Side, quantity float64) (orderID string, err error)
	Close() error
}

// BudgetStore persists risk-budget snapshots so the daily loss counter
// survives process restarts.
type BudgetStore interface {
	Save(ctx context.Context, snap *models.BudgetSnapshot) error
	Load(ctx context.Context) (*models.BudgetSnapshot, error)
}

// Publisher emits decisions to the audit journal backend (Kafka).
type Publisher interface {
	Publish(ctx context.Context, d *models.Decision) error
	Close() error
}

// Storage stores decisions in the audit journal backend (ClickHouse).
type Storage interface {
	Store(ctx context.Context, d *models.Decision) error
	Query(ctx context.Context, symbol string, from, to time.Time, limit int) ([]*models.Decision, error)
	Health(ctx context.Context) error
	Close() error
}

// Metrics records pipeline observability signals.
type Metrics interface {
	RecordDecision(outcome, reason string)
	RecordScore(symbol string, score float64)
	RecordDailyLoss(loss float64)
	RecordOpenPositions(n int)
	RecordError(kind string)
	RecordLatency(op string, seconds float64)
}
