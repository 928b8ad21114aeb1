package middleware

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"UltraFlow/internal/domain/models"
)

type nopMetrics struct{}

func (nopMetrics) RecordDecision(string, string) {}

func (nopMetrics) RecordScore(string, float64) {}

func (nopMetrics) RecordDailyLoss(float64) {}

func (nopMetrics) RecordOpenPositions(int) {}

func (nopMetrics) RecordError(string) {}

func (nopMetrics) RecordLatency(string, float64) {}

type fakeAdmitter struct {
	fail  bool
	calls atomic.Int64
}

func (a *fakeAdmitter) Process(ctx context.Context, sig *models.Signal) (*models.Decision, error) {
	a.calls.Add(1)
	if a.fail {
		return nil, errors.New("downstream unavailable")
	}
	return &models.Decision{Symbol: sig.Symbol, Outcome: models.OutcomeAdmitted}, nil
}

func testIntakeSignal(symbol string) *models.Signal {
	return &models.Signal{
		Symbol:     symbol,
		Side:       models.SideLong,
		Features:   map[string]float64{"trend": 80},
		Balance:    10000,
		StopPct:    0.02,
		ReceivedAt: time.Now().UTC(),
	}
}

func TestIntakeForwardsValidSignal(t *testing.T) {
	next := &fakeAdmitter{}
	intake := NewSignalIntake(next, nopMetrics{})

	d, err := intake.Process(context.Background(), testIntakeSignal("BTCUSDT"))
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeAdmitted, d.Outcome)
	assert.Equal(t, int64(1), next.calls.Load())
}

func TestIntakeRejectsInvalidSignals(t *testing.T) {
	next := &fakeAdmitter{}
	intake := NewSignalIntake(next, nopMetrics{})

	cases := []*models.Signal{
		nil,
		{Side: models.SideLong, ReceivedAt: time.Now()},
		{Symbol: "BTCUSDT", Side: "sideways", ReceivedAt: time.Now()},
		{Symbol: "BTCUSDT", Side: models.SideLong},
	}
	for _, sig := range cases {
		_, err := intake.Process(context.Background(), sig)
		assert.Error(t, err)
	}
	assert.Equal(t, int64(0), next.calls.Load())
}

func TestIntakeThrottlesPerSymbol(t *testing.T) {
	next := &fakeAdmitter{}
	intake := NewSignalIntake(next, nopMetrics{}, WithMaxRPS(1), WithBurst(1))

	_, err := intake.Process(context.Background(), testIntakeSignal("BTCUSDT"))
	require.NoError(t, err)
	_, err = intake.Process(context.Background(), testIntakeSignal("BTCUSDT"))
	assert.Error(t, err)

	// other symbols have their own limiter
	_, err = intake.Process(context.Background(), testIntakeSignal("ETHUSDT"))
	assert.NoError(t, err)
}

func TestIntakeTransformAppliesBeforeValidation(t *testing.T) {
	next := &fakeAdmitter{}
	intake := NewSignalIntake(next, nopMetrics{}, WithTransform(func(s *models.Signal) *models.Signal {
		s.Symbol = "BTCUSDT"
		return s
	}))

	sig := testIntakeSignal("  ")
	_, err := intake.Process(context.Background(), sig)
	assert.NoError(t, err)
}

func TestIntakeBuffersOnDownstreamError(t *testing.T) {
	next := &fakeAdmitter{fail: true}
	intake := NewSignalIntake(next, nopMetrics{}, WithBufferSize(4))

	_, err := intake.Process(context.Background(), testIntakeSignal("BTCUSDT"))
	assert.Error(t, err)
	assert.Equal(t, int64(1), next.calls.Load())

	// flusher retries the buffered signal once downstream recovers
	next.fail = false
	intake.Start(context.Background())
	defer intake.Stop()

	assert.Eventually(t, func() bool {
		return next.calls.Load() >= 2
	}, 2*time.Second, 20*time.Millisecond)
}
