package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"UltraFlow/internal/domain/models"
	domrepo "UltraFlow/internal/domain/repository"
	"UltraFlow/internal/risk"
	pkgkafka "UltraFlow/pkg/kafka"
)

// ExecutionReportsHandler consumes execution reports from Kafka and applies
// them to the risk guard. Placed confirms a pending slot, failed releases it,
// closed settles realized P&L against the daily budget.
type ExecutionReportsHandler struct {
	topic   string
	guard   *risk.Guard
	metrics domrepo.Metrics
}

func NewExecutionReportsHandler(topic string, guard *risk.Guard, metrics domrepo.Metrics) *ExecutionReportsHandler {
	return &ExecutionReportsHandler{topic: topic, guard: guard, metrics: metrics}
}

func (h *ExecutionReportsHandler) Topic() string { return h.topic }

func (h *ExecutionReportsHandler) Handle(ctx context.Context, b []byte) error {
	var r models.ExecutionReport
	if err := json.Unmarshal(b, &r); err != nil {
		h.metrics.RecordError("consumer_unmarshal")
		return err
	}
	if r.Symbol == "" {
		h.metrics.RecordError("consumer_report_invalid")
		return fmt.Errorf("execution report missing symbol")
	}

	// E2E latency from report time to now (approx)
	if !r.Timestamp.IsZero() {
		h.metrics.RecordLatency("report_e2e_seconds", time.Since(r.Timestamp).Seconds())
	}

	switch r.Kind {
	case models.ReportPlaced:
		h.guard.ConfirmOpen(ctx, r.Symbol)
	case models.ReportFailed:
		h.guard.ReleasePending(ctx, r.Symbol)
	case models.ReportClosed:
		h.guard.ReportClose(ctx, r.Symbol, r.PnL)
	default:
		h.metrics.RecordError("consumer_report_kind")
		return fmt.Errorf("unknown report kind: %s", r.Kind)
	}
	return nil
}

var _ pkgkafka.MessageHandler = (*ExecutionReportsHandler)(nil)
