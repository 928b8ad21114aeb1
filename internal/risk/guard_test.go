package risk

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"UltraFlow/internal/domain/models"
	drepo "UltraFlow/internal/domain/repository"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type memStore struct {
	mu   sync.Mutex
	snap *models.BudgetSnapshot
}

func (s *memStore) Save(_ context.Context, snap *models.BudgetSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *snap
	s.snap = &cp
	return nil
}

func (s *memStore) Load(_ context.Context) (*models.BudgetSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snap == nil {
		return nil, drepo.ErrNoSnapshot
	}
	cp := *s.snap
	return &cp, nil
}

func testSignal(symbol string) *models.Signal {
	return &models.Signal{
		Symbol:     symbol,
		Side:       models.SideLong,
		Balance:    10000,
		StopPct:    0.02,
		ReceivedAt: time.Now(),
	}
}

func newTestGuard(t *testing.T, cfg Config, opts ...GuardOption) *Guard {
	t.Helper()
	if cfg.MaxDailyLossFrac == 0 {
		cfg.MaxDailyLossFrac = 0.05
	}
	return NewGuard(cfg, nil, nil, opts...)
}

func TestAdmitTransitionsToPending(t *testing.T) {
	g := newTestGuard(t, Config{})

	d := g.Admit(context.Background(), testSignal("BTCUSDT"), models.SizingResult{Quantity: 100})
	require.Equal(t, models.OutcomeAdmitted, d.Outcome)
	assert.Equal(t, StateOpenPending, g.State("BTCUSDT"))
}

func TestSecondSignalSameSymbolRejected(t *testing.T) {
	g := newTestGuard(t, Config{})
	ctx := context.Background()

	first := g.Admit(ctx, testSignal("BTCUSDT"), models.SizingResult{})
	require.Equal(t, models.OutcomeAdmitted, first.Outcome)

	second := g.Admit(ctx, testSignal("BTCUSDT"), models.SizingResult{})
	assert.Equal(t, models.OutcomeRejected, second.Outcome)
	assert.Equal(t, models.ReasonSymbolAlreadyOpen, second.Reason)
}

func TestPyramidingAllowsSecondEntry(t *testing.T) {
	g := newTestGuard(t, Config{AllowPyramiding: true})
	ctx := context.Background()

	require.Equal(t, models.OutcomeAdmitted, g.Admit(ctx, testSignal("BTCUSDT"), models.SizingResult{}).Outcome)
	assert.Equal(t, models.OutcomeAdmitted, g.Admit(ctx, testSignal("BTCUSDT"), models.SizingResult{}).Outcome)
}

func TestConcurrentAdmissionsOneWinner(t *testing.T) {
	g := newTestGuard(t, Config{})

	const n = 32
	var wg sync.WaitGroup
	decisions := make([]*models.Decision, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			decisions[i] = g.Admit(context.Background(), testSignal("ETHUSDT"), models.SizingResult{})
		}(i)
	}
	wg.Wait()

	admitted, rejected := 0, 0
	for _, d := range decisions {
		switch d.Outcome {
		case models.OutcomeAdmitted:
			admitted++
		case models.OutcomeRejected:
			require.Equal(t, models.ReasonSymbolAlreadyOpen, d.Reason)
			rejected++
		}
	}
	assert.Equal(t, 1, admitted)
	assert.Equal(t, n-1, rejected)
}

func TestPendingLifecycle(t *testing.T) {
	g := newTestGuard(t, Config{})
	ctx := context.Background()

	g.Admit(ctx, testSignal("BTCUSDT"), models.SizingResult{})

	// placement failure frees the slot
	g.ReleasePending(ctx, "BTCUSDT")
	assert.Equal(t, StateIdle, g.State("BTCUSDT"))
	assert.Equal(t, models.OutcomeAdmitted, g.Admit(ctx, testSignal("BTCUSDT"), models.SizingResult{}).Outcome)

	// confirmation makes it live
	g.ConfirmOpen(ctx, "BTCUSDT")
	assert.Equal(t, StateOpen, g.State("BTCUSDT"))

	// close returns it to idle
	g.ReportClose(ctx, "BTCUSDT", 12.5)
	assert.Equal(t, StateIdle, g.State("BTCUSDT"))
}

func TestDailyLimitBreach(t *testing.T) {
	g := newTestGuard(t, Config{MaxDailyLossFrac: 0.05})
	ctx := context.Background()

	// realize a loss exactly at the threshold: 5% of 10000 = 500
	g.Admit(ctx, testSignal("BTCUSDT"), models.SizingResult{})
	g.ConfirmOpen(ctx, "BTCUSDT")
	g.ReportClose(ctx, "BTCUSDT", -500)

	// the report itself does not flip the overlay; the next admission does
	assert.False(t, g.Breached())

	d := g.Admit(ctx, testSignal("ETHUSDT"), models.SizingResult{})
	assert.Equal(t, models.ReasonDailyLimitBreached, d.Reason)
	assert.True(t, g.Breached())

	// every symbol is rejected from here on
	d = g.Admit(ctx, testSignal("SOLUSDT"), models.SizingResult{})
	assert.Equal(t, models.ReasonDailyLimitBreached, d.Reason)
}

func TestDayRolloverResetsBreach(t *testing.T) {
	clk := &fakeClock{now: time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)}
	g := newTestGuard(t, Config{MaxDailyLossFrac: 0.05}, WithClock(clk))
	ctx := context.Background()

	g.Admit(ctx, testSignal("BTCUSDT"), models.SizingResult{})
	g.ConfirmOpen(ctx, "BTCUSDT")
	g.ReportClose(ctx, "BTCUSDT", -600)
	require.Equal(t, models.ReasonDailyLimitBreached, g.Admit(ctx, testSignal("ETHUSDT"), models.SizingResult{}).Reason)

	clk.Advance(24 * time.Hour)

	d := g.Admit(ctx, testSignal("ETHUSDT"), models.SizingResult{})
	assert.Equal(t, models.OutcomeAdmitted, d.Outcome)
	assert.False(t, g.Breached())
	assert.Zero(t, g.Snapshot().RealizedLoss)
}

func TestMaxOpenPositions(t *testing.T) {
	g := newTestGuard(t, Config{MaxOpenPositions: 2})
	ctx := context.Background()

	require.Equal(t, models.OutcomeAdmitted, g.Admit(ctx, testSignal("BTCUSDT"), models.SizingResult{}).Outcome)
	require.Equal(t, models.OutcomeAdmitted, g.Admit(ctx, testSignal("ETHUSDT"), models.SizingResult{}).Outcome)

	d := g.Admit(ctx, testSignal("SOLUSDT"), models.SizingResult{})
	assert.Equal(t, models.ReasonMaxPositionsReached, d.Reason)
}

func TestBlockedSymbolRejected(t *testing.T) {
	g := newTestGuard(t, Config{})
	ctx := context.Background()

	g.Block(ctx, "BTCUSDT")
	d := g.Admit(ctx, testSignal("BTCUSDT"), models.SizingResult{})
	assert.Equal(t, models.ReasonSymbolBlocked, d.Reason)

	g.Unblock(ctx, "BTCUSDT")
	assert.Equal(t, models.OutcomeAdmitted, g.Admit(ctx, testSignal("BTCUSDT"), models.SizingResult{}).Outcome)
}

func TestCloseReportForIdleSymbolIgnored(t *testing.T) {
	g := newTestGuard(t, Config{})

	// must not panic or corrupt state
	g.ReportClose(context.Background(), "GHOST", -100)
	assert.Zero(t, g.Snapshot().RealizedLoss)
}

func TestSnapshotRestoredSameDay(t *testing.T) {
	clk := &fakeClock{now: time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)}
	store := &memStore{}
	ctx := context.Background()

	g := newTestGuard(t, Config{}, WithClock(clk), WithStore(store))
	g.Admit(ctx, testSignal("BTCUSDT"), models.SizingResult{})
	g.ConfirmOpen(ctx, "BTCUSDT")
	g.ReportClose(ctx, "BTCUSDT", -150)
	g.Admit(ctx, testSignal("ETHUSDT"), models.SizingResult{})

	restarted := newTestGuard(t, Config{}, WithClock(clk), WithStore(store))
	snap := restarted.Snapshot()
	assert.InDelta(t, 150, snap.RealizedLoss, 1e-9)
	assert.Equal(t, StateOpenPending, restarted.State("ETHUSDT"))
}

func TestStaleSnapshotDiscarded(t *testing.T) {
	clk := &fakeClock{now: time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)}
	store := &memStore{}
	ctx := context.Background()

	g := newTestGuard(t, Config{}, WithClock(clk), WithStore(store))
	g.Admit(ctx, testSignal("BTCUSDT"), models.SizingResult{})
	g.ConfirmOpen(ctx, "BTCUSDT")
	g.ReportClose(ctx, "BTCUSDT", -300)

	clk.Advance(48 * time.Hour)
	restarted := newTestGuard(t, Config{}, WithClock(clk), WithStore(store))
	assert.Zero(t, restarted.Snapshot().RealizedLoss)
	assert.Equal(t, StateIdle, restarted.State("BTCUSDT"))
}
