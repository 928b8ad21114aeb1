package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"UltraFlow/internal/domain/models"
	"UltraFlow/internal/risk"
	xlogger "UltraFlow/pkg/logger"
)

type nopMetrics struct{}

func (nopMetrics) RecordDecision(string, string) {}

func (nopMetrics) RecordScore(string, float64) {}

func (nopMetrics) RecordDailyLoss(float64) {}

func (nopMetrics) RecordOpenPositions(int) {}

func (nopMetrics) RecordError(string) {}

func (nopMetrics) RecordLatency(string, float64) {}

type fakePublisher struct {
	published []*models.Decision
	failWith  error
	closed    bool
}

func (p *fakePublisher) Publish(_ context.Context, d *models.Decision) error {
	if p.failWith != nil {
		return p.failWith
	}
	p.published = append(p.published, d)
	return nil
}

func (p *fakePublisher) Close() error {
	p.closed = true
	return nil
}

type fakeStorage struct {
	stored  []*models.Decision
	queried []*models.Decision
	closed  bool
}

func (s *fakeStorage) Store(_ context.Context, d *models.Decision) error {
	s.stored = append(s.stored, d)
	return nil
}

func (s *fakeStorage) Query(_ context.Context, symbol string, from, to time.Time, limit int) ([]*models.Decision, error) {
	out := make([]*models.Decision, 0, len(s.queried))
	for _, d := range s.queried {
		if d.Symbol == symbol && len(out) < limit {
			out = append(out, d)
		}
	}
	return out, nil
}

func (s *fakeStorage) Health(context.Context) error { return nil }

func (s *fakeStorage) Close() error {
	s.closed = true
	return nil
}

func sampleDecision(symbol string) *models.Decision {
	return &models.Decision{
		ID:      "01ARZ3NDEKTSV4RRFFQ69G5FAV",
		Key:     symbol + "-1",
		Symbol:  symbol,
		Side:    models.SideLong,
		Outcome: models.OutcomeAdmitted,
	}
}

func TestDecisionJournalRoutesByBackend(t *testing.T) {
	pub := &fakePublisher{}
	store := &fakeStorage{}

	j := NewDecisionJournal(pub, store, nopMetrics{}, "kafka")
	require.NoError(t, j.Record(context.Background(), sampleDecision("BTCUSDT")))
	assert.Len(t, pub.published, 1)
	assert.Empty(t, store.stored)

	j = NewDecisionJournal(pub, store, nopMetrics{}, "clickhouse")
	require.NoError(t, j.Record(context.Background(), sampleDecision("ETHUSDT")))
	assert.Len(t, store.stored, 1)
}

func TestDecisionJournalRejectsUnknownBackend(t *testing.T) {
	j := NewDecisionJournal(&fakePublisher{}, &fakeStorage{}, nopMetrics{}, "carrier-pigeon")
	err := j.Record(context.Background(), sampleDecision("BTCUSDT"))
	assert.Error(t, err)
}

func TestDecisionJournalMissingBackendReturnsError(t *testing.T) {
	j := NewDecisionJournal(nil, nil, nopMetrics{}, "kafka")
	err := j.Record(context.Background(), sampleDecision("BTCUSDT"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no publisher configured")

	j = NewDecisionJournal(nil, nil, nopMetrics{}, "clickhouse")
	err = j.Record(context.Background(), sampleDecision("BTCUSDT"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no storage configured")
}

func TestDecisionJournalPropagatesPublishError(t *testing.T) {
	pub := &fakePublisher{failWith: errors.New("broker down")}
	j := NewDecisionJournal(pub, &fakeStorage{}, nopMetrics{}, "kafka")

	err := j.Record(context.Background(), sampleDecision("BTCUSDT"))
	require.Error(t, err)
	assert.ErrorIs(t, err, pub.failWith)
}

func TestDecisionJournalCloseClosesBackends(t *testing.T) {
	pub := &fakePublisher{}
	store := &fakeStorage{}
	j := NewDecisionJournal(pub, store, nopMetrics{}, "kafka")

	j.Close()
	assert.True(t, pub.closed)
	assert.True(t, store.closed)
}

func newTestGuard() *risk.Guard {
	return risk.NewGuard(risk.Config{
		MaxDailyLossFrac: 0.05,
		MaxOpenPositions: 10,
	}, nopMetrics{}, xlogger.Nop())
}

func admitPending(t *testing.T, g *risk.Guard, symbol string) {
	t.Helper()
	d := g.Admit(context.Background(), &models.Signal{
		Symbol:  symbol,
		Side:    models.SideLong,
		Balance: 10000,
	}, models.SizingResult{Quantity: 0.5, Notional: 100})
	require.Equal(t, models.OutcomeAdmitted, d.Outcome)
}

func reportBytes(t *testing.T, r models.ExecutionReport) []byte {
	t.Helper()
	b, err := json.Marshal(r)
	require.NoError(t, err)
	return b
}

func TestReportsHandlerConfirmsPlacement(t *testing.T) {
	guard := newTestGuard()
	admitPending(t, guard, "BTCUSDT")
	h := NewExecutionReportsHandler("execution-reports", guard, nopMetrics{})

	err := h.Handle(context.Background(), reportBytes(t, models.ExecutionReport{
		Symbol: "BTCUSDT", Kind: models.ReportPlaced, Timestamp: time.Now(),
	}))
	require.NoError(t, err)
	assert.Equal(t, risk.StateOpen, guard.State("BTCUSDT"))
}

func TestReportsHandlerReleasesFailedPlacement(t *testing.T) {
	guard := newTestGuard()
	admitPending(t, guard, "BTCUSDT")
	h := NewExecutionReportsHandler("execution-reports", guard, nopMetrics{})

	err := h.Handle(context.Background(), reportBytes(t, models.ExecutionReport{
		Symbol: "BTCUSDT", Kind: models.ReportFailed, Timestamp: time.Now(),
	}))
	require.NoError(t, err)
	assert.Equal(t, risk.StateIdle, guard.State("BTCUSDT"))
}

func TestReportsHandlerSettlesClose(t *testing.T) {
	guard := newTestGuard()
	admitPending(t, guard, "BTCUSDT")
	guard.ConfirmOpen(context.Background(), "BTCUSDT")
	h := NewExecutionReportsHandler("execution-reports", guard, nopMetrics{})

	err := h.Handle(context.Background(), reportBytes(t, models.ExecutionReport{
		Symbol: "BTCUSDT", Kind: models.ReportClosed, PnL: -125.5, Timestamp: time.Now(),
	}))
	require.NoError(t, err)
	assert.Equal(t, risk.StateIdle, guard.State("BTCUSDT"))
	assert.InDelta(t, 125.5, guard.Snapshot().RealizedLoss, 1e-9)
}

func TestReportsHandlerRejectsMalformedReports(t *testing.T) {
	h := NewExecutionReportsHandler("execution-reports", newTestGuard(), nopMetrics{})

	assert.Error(t, h.Handle(context.Background(), []byte("{not json")))
	assert.Error(t, h.Handle(context.Background(), reportBytes(t, models.ExecutionReport{
		Kind: models.ReportPlaced,
	})))
	assert.Error(t, h.Handle(context.Background(), reportBytes(t, models.ExecutionReport{
		Symbol: "BTCUSDT", Kind: "partial",
	})))
}

func TestExecutionReportJobDecodesPayloadForms(t *testing.T) {
	guard := newTestGuard()
	admitPending(t, guard, "BTCUSDT")
	job := NewExecutionReportJob(NewExecutionReportsHandler("execution-reports", guard, nopMetrics{}))

	assert.Equal(t, "execution-report", job.Name())
	assert.Equal(t, "execution_report", job.Type())

	raw := reportBytes(t, models.ExecutionReport{Symbol: "BTCUSDT", Kind: models.ReportPlaced})
	require.NoError(t, job.Handle(context.Background(), json.RawMessage(raw)))
	assert.Equal(t, risk.StateOpen, guard.State("BTCUSDT"))
}

func TestGetDecisionsDefaultsAndLimits(t *testing.T) {
	store := &fakeStorage{queried: []*models.Decision{
		sampleDecision("BTCUSDT"), sampleDecision("BTCUSDT"), sampleDecision("ETHUSDT"),
	}}
	uc := NewDecisionsUseCase(store)

	res, err := uc.GetDecisions(context.Background(), GetDecisionsParams{Symbol: "BTCUSDT"})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Count)
	assert.False(t, res.To.IsZero())

	_, err = uc.GetDecisions(context.Background(), GetDecisionsParams{})
	assert.Error(t, err)

	_, err = uc.GetDecisions(context.Background(), GetDecisionsParams{
		Symbol: "BTCUSDT",
		From:   time.Now().Add(time.Hour),
		To:     time.Now(),
	})
	assert.Error(t, err)

	res, err = uc.GetDecisions(context.Background(), GetDecisionsParams{Symbol: "BTCUSDT", Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Count)
}
