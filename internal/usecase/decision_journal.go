package usecase

import (
	"context"
	"fmt"
	"time"

	"UltraFlow/internal/domain/models"
	drepo "UltraFlow/internal/domain/repository"
)

// DecisionJournal records terminal decisions and routes them to the
// configured audit backend.
type DecisionJournal struct {
	pub     drepo.Publisher
	store   drepo.Storage
	metrics drepo.Metrics
	backend string
}

// NewDecisionJournal creates a new DecisionJournal instance.
func NewDecisionJournal(
	pub drepo.Publisher,
	store drepo.Storage,
	metrics drepo.Metrics,
	backend string,
) *DecisionJournal {
	return &DecisionJournal{
		pub:     pub,
		store:   store,
		metrics: metrics,
		backend: backend,
	}
}

// Record writes a single decision to the configured backend.
func (j *DecisionJournal) Record(ctx context.Context, d *models.Decision) error {
	if d == nil {
		return fmt.Errorf("decision is nil")
	}

	start := time.Now()
	var err error

	switch j.backend {
	case "kafka":
		if j.pub == nil {
			err = fmt.Errorf("kafka backend selected but no publisher configured")
			break
		}
		err = j.pub.Publish(ctx, d)
	case "clickhouse":
		if j.store == nil {
			err = fmt.Errorf("clickhouse backend selected but no storage configured")
			break
		}
		err = j.store.Store(ctx, d)
	default:
		err = fmt.Errorf("unknown backend: %s", j.backend)
	}

	if err != nil {
		j.metrics.RecordError("journal")
		return fmt.Errorf("record decision: %w", err)
	}

	j.metrics.RecordLatency("journal", time.Since(start).Seconds())
	return nil
}

// Close closes underlying resources if available.
func (j *DecisionJournal) Close() {
	if j.pub != nil {
		_ = j.pub.Close()
	}
	if j.store != nil {
		_ = j.store.Close()
	}
}
