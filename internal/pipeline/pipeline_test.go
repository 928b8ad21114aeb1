package pipeline

import (
	"context"
	"fmt"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"UltraFlow/internal/domain/models"
	"UltraFlow/internal/risk"
	"UltraFlow/internal/scoring"
	"UltraFlow/internal/sizing"
	"UltraFlow/pkg/cache"
)

type noopMetrics struct{}

func (noopMetrics) RecordDecision(string, string) {}

func (noopMetrics) RecordScore(string, float64) {}

func (noopMetrics) RecordDailyLoss(float64) {}

func (noopMetrics) RecordOpenPositions(int) {}

func (noopMetrics) RecordError(string) {}

func (noopMetrics) RecordLatency(string, float64) {}

type fakeSink struct {
	mu     sync.Mutex
	placed []string
	fail   bool
	delay  time.Duration
	calls  atomic.Int64
}

func (f *fakeSink) LotStep(string) float64 { return 0.01 }

func (f *fakeSink) Place(ctx context.Context, symbol string, side models.Side, qty float64) (string, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if f.fail {
		return "", errors.New("exchange unavailable")
	}
	f.mu.Lock()
	f.placed = append(f.placed, symbol)
	f.mu.Unlock()
	return "ord-1", nil
}

func (f *fakeSink) Close() error { return nil }

type recordingJournal struct {
	mu      sync.Mutex
	records []*models.Decision
}

func (j *recordingJournal) Record(_ context.Context, d *models.Decision) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.records = append(j.records, d)
	return nil
}

func newTestPipeline(t *testing.T, sink *fakeSink, opts ...Option) (*Pipeline, *risk.Guard) {
	t.Helper()
	eng, err := scoring.NewEngine(map[string]float64{
		"structure": 0.25, "liquidity": 0.25, "reaction": 0.20, "volume": 0.20, "session": 0.10,
	}, 70, nil)
	require.NoError(t, err)

	guard := risk.NewGuard(risk.Config{MaxDailyLossFrac: 0.05}, nil, nil)
	sizer := sizing.NewSizer(0.01, sink)
	mem := cache.NewMemoryCache()
	t.Cleanup(func() { _ = mem.Close() })

	return New(eng, sizer, guard, sink, mem, noopMetrics{}, nil, opts...), guard
}

func goodSignal(symbol, nonce string) *models.Signal {
	return &models.Signal{
		Symbol: symbol,
		Side:   models.SideLong,
		Features: map[string]float64{
			"structure": 85, "liquidity": 90, "reaction": 78, "volume": 88, "session": 72,
		},
		Balance:    10000,
		StopPct:    0.02,
		ReceivedAt: time.Now(),
		Nonce:      nonce,
	}
}

func TestProcessAdmitsAndDispatches(t *testing.T) {
	sink := &fakeSink{}
	journal := &recordingJournal{}
	p, guard := newTestPipeline(t, sink, WithJournal(journal))

	d, err := p.Process(context.Background(), goodSignal("BTCUSDT", "n1"))
	require.NoError(t, err)

	assert.Equal(t, models.OutcomeAdmitted, d.Outcome)
	assert.InDelta(t, 84.15, d.Score, 1e-9)
	assert.NotEmpty(t, d.ID)
	assert.Equal(t, "n1", d.Key)
	assert.Equal(t, []string{"BTCUSDT"}, sink.placed)
	assert.Equal(t, risk.StateOpen, guard.State("BTCUSDT"))
	require.Len(t, journal.records, 1)
	assert.Equal(t, d.ID, journal.records[0].ID)
}

func TestProcessLowScoreRejected(t *testing.T) {
	sink := &fakeSink{}
	p, _ := newTestPipeline(t, sink)

	sig := goodSignal("BTCUSDT", "n1")
	sig.Features = map[string]float64{"structure": 10}

	d, err := p.Process(context.Background(), sig)
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeRejected, d.Outcome)
	assert.Equal(t, models.ReasonLowScore, d.Reason)
	assert.Zero(t, sink.calls.Load())
}

func TestProcessSizingRejections(t *testing.T) {
	sink := &fakeSink{}
	p, _ := newTestPipeline(t, sink)

	sig := goodSignal("BTCUSDT", "n1")
	sig.StopPct = 0
	d, err := p.Process(context.Background(), sig)
	require.NoError(t, err)
	assert.Equal(t, models.ReasonInvalidStopDistance, d.Reason)

	sig = goodSignal("BTCUSDT", "n2")
	sig.Balance = 0 // notional floors to zero
	d, err = p.Process(context.Background(), sig)
	require.NoError(t, err)
	assert.Equal(t, models.ReasonBelowMinimumSize, d.Reason)
}

func TestProcessIdempotentRedelivery(t *testing.T) {
	sink := &fakeSink{}
	p, _ := newTestPipeline(t, sink)
	ctx := context.Background()

	first, err := p.Process(ctx, goodSignal("BTCUSDT", "n1"))
	require.NoError(t, err)
	require.Equal(t, models.OutcomeAdmitted, first.Outcome)

	second, err := p.Process(ctx, goodSignal("BTCUSDT", "n1"))
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.Outcome, second.Outcome)
	assert.Equal(t, int64(1), sink.calls.Load(), "duplicate must not re-dispatch")
}

func TestProcessConcurrentDuplicatesSingleAdmission(t *testing.T) {
	sink := &fakeSink{delay: 20 * time.Millisecond}
	p, _ := newTestPipeline(t, sink)

	const n = 16
	var wg sync.WaitGroup
	out := make([]*models.Decision, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			d, err := p.Process(context.Background(), goodSignal("BTCUSDT", "dup"))
			if assert.NoError(t, err) {
				out[i] = d
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int64(1), sink.calls.Load())
	for _, d := range out {
		assert.Equal(t, out[0].ID, d.ID, "all deliveries observe the same decision")
	}
}

// brokenCache simulates a cache backend outage: writes fail and reads miss.
type brokenCache struct{}

func (brokenCache) Set(context.Context, string, interface{}, time.Duration) error {
	return errors.New("cache unavailable")
}

func (brokenCache) Get(context.Context, string, interface{}) error { return cache.ErrCacheMiss }

func (brokenCache) Delete(context.Context, ...string) error { return nil }

func (brokenCache) Close() error { return nil }

func TestProcessDuplicateObservesDecisionDuringCacheOutage(t *testing.T) {
	sink := &fakeSink{delay: 50 * time.Millisecond}
	eng, err := scoring.NewEngine(map[string]float64{
		"structure": 0.25, "liquidity": 0.25, "reaction": 0.20, "volume": 0.20, "session": 0.10,
	}, 70, nil)
	require.NoError(t, err)
	guard := risk.NewGuard(risk.Config{MaxDailyLossFrac: 0.05}, nil, nil)
	p := New(eng, sizing.NewSizer(0.01, sink), guard, sink, brokenCache{}, noopMetrics{}, nil)

	var wg sync.WaitGroup
	out := make([]*models.Decision, 2)
	wg.Add(1)
	go func() {
		defer wg.Done()
		d, err := p.Process(context.Background(), goodSignal("BTCUSDT", "n1"))
		if assert.NoError(t, err) {
			out[0] = d
		}
	}()
	time.Sleep(10 * time.Millisecond) // second delivery arrives mid-flight
	wg.Add(1)
	go func() {
		defer wg.Done()
		d, err := p.Process(context.Background(), goodSignal("BTCUSDT", "n1"))
		if assert.NoError(t, err) {
			out[1] = d
		}
	}()
	wg.Wait()

	require.NotNil(t, out[0])
	require.NotNil(t, out[1])
	assert.Equal(t, out[0].ID, out[1].ID, "waiter sees the leader's decision, not a re-run")
	assert.Equal(t, models.OutcomeAdmitted, out[1].Outcome)
	assert.Equal(t, int64(1), sink.calls.Load())
}

func TestProcessConcurrentDistinctSignalsSameSymbol(t *testing.T) {
	sink := &fakeSink{delay: 10 * time.Millisecond}
	p, _ := newTestPipeline(t, sink)

	const n = 8
	var wg sync.WaitGroup
	var admitted, alreadyOpen atomic.Int64
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			d, err := p.Process(context.Background(), goodSignal("ETHUSDT", fmt.Sprintf("sig-%d", i)))
			if !assert.NoError(t, err) {
				return
			}
			switch {
			case d.Outcome == models.OutcomeAdmitted:
				admitted.Add(1)
			case d.Reason == models.ReasonSymbolAlreadyOpen:
				alreadyOpen.Add(1)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int64(1), admitted.Load())
	assert.Equal(t, int64(n-1), alreadyOpen.Load())
}

func TestProcessPlacementFailureReleasesSlot(t *testing.T) {
	sink := &fakeSink{fail: true}
	p, guard := newTestPipeline(t, sink)
	ctx := context.Background()

	d, err := p.Process(ctx, goodSignal("BTCUSDT", "n1"))
	require.NoError(t, err)
	assert.Equal(t, models.OutcomePlacementFailed, d.Outcome)
	assert.Equal(t, models.ReasonPlacementFailed, d.Reason)
	assert.Equal(t, risk.StateIdle, guard.State("BTCUSDT"))

	// the symbol is free for a fresh signal once the sink recovers
	sink.fail = false
	d, err = p.Process(ctx, goodSignal("BTCUSDT", "n2"))
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeAdmitted, d.Outcome)
}

func TestProcessCompletesAfterCallerGone(t *testing.T) {
	sink := &fakeSink{delay: 30 * time.Millisecond}
	p, guard := newTestPipeline(t, sink)

	ctx, cancel := context.WithCancel(context.Background())
	resCh := make(chan *models.Decision, 1)
	go func() {
		d, err := p.Process(ctx, goodSignal("BTCUSDT", "n1"))
		if assert.NoError(t, err) {
			resCh <- d
		}
	}()
	time.Sleep(5 * time.Millisecond)
	cancel() // caller gives up mid-dispatch

	d := <-resCh
	assert.Equal(t, models.OutcomeAdmitted, d.Outcome)
	assert.Equal(t, risk.StateOpen, guard.State("BTCUSDT"))
}
