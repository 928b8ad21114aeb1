package risk

import (
	"context"
	"sync"
	"time"

	"UltraFlow/internal/domain/models"
	drepo "UltraFlow/internal/domain/repository"
	xlogger "UltraFlow/pkg/logger"
)

// SymbolState tracks what the guard believes about one symbol.
type SymbolState int

const (
	StateIdle SymbolState = iota
	StateOpenPending
	StateOpen
	StateBlocked
)

func (s SymbolState) String() string {
	switch s {
	case StateOpenPending:
		return "open_pending"
	case StateOpen:
		return "open"
	case StateBlocked:
		return "blocked"
	default:
		return "idle"
	}
}

// Clock abstracts the time source so day rollover is testable.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Config is the guard's read-only configuration, fixed at construction.
type Config struct {
	MaxDailyLossFrac float64 // fraction of balance, breach at >=
	MaxOpenPositions int     // 0 means unlimited
	AllowPyramiding  bool    // skip the one-position-per-symbol rule
	Timezone         *time.Location
}

// Guard is the stateful admission controller. All state transitions happen
// inside one critical section covering both the day overlay and the
// per-symbol entry, so two racing signals cannot both win a slot and the
// day-breach check cannot go stale between check and act.
type Guard struct {
	mu      sync.Mutex
	cfg     Config
	clock   Clock
	store   drepo.BudgetStore
	metrics drepo.Metrics
	log     *xlogger.Logger

	day          string
	breached     bool
	realizedLoss float64
	symbols      map[string]SymbolState
}

// GuardOption configures optional collaborators.
type GuardOption func(*Guard)

// WithClock overrides the time source.
func WithClock(c Clock) GuardOption {
	return func(g *Guard) { g.clock = c }
}

// WithStore enables snapshot persistence across restarts.
func WithStore(s drepo.BudgetStore) GuardOption {
	return func(g *Guard) { g.store = s }
}

// NewGuard creates a guard for the current trading day. When a store is
// configured, a snapshot for the same day is restored so the loss counter
// survives restarts; a snapshot from an older day is discarded.
func NewGuard(cfg Config, metrics drepo.Metrics, log *xlogger.Logger, opts ...GuardOption) *Guard {
	if cfg.Timezone == nil {
		cfg.Timezone = time.UTC
	}
	if log == nil {
		log = xlogger.Nop()
	}
	g := &Guard{
		cfg:     cfg,
		clock:   realClock{},
		metrics: metrics,
		log:     log,
		symbols: make(map[string]SymbolState),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.day = g.tradingDay(g.clock.Now())
	g.restore()
	return g
}

func (g *Guard) tradingDay(t time.Time) string {
	return t.In(g.cfg.Timezone).Format("2006-01-02")
}

// restore loads the persisted snapshot, if any, for the active day.
func (g *Guard) restore() {
	if g.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	snap, err := g.store.Load(ctx)
	if err == drepo.ErrNoSnapshot {
		return
	}
	if err != nil {
		g.log.Warn("budget snapshot load failed", xlogger.Error(err))
		return
	}
	if snap.Day != g.day {
		g.log.Info("discarding stale budget snapshot",
			xlogger.String("snapshot_day", snap.Day), xlogger.String("day", g.day))
		return
	}
	g.realizedLoss = snap.RealizedLoss
	for _, s := range snap.Open {
		g.symbols[s] = StateOpen
	}
	for _, s := range snap.Pending {
		g.symbols[s] = StateOpenPending
	}
	g.log.Info("budget snapshot restored",
		xlogger.String("day", snap.Day),
		xlogger.Any("realized_loss", snap.RealizedLoss),
		xlogger.Int("open", len(snap.Open)),
		xlogger.Int("pending", len(snap.Pending)))
}

// rollover advances the trading day when the clock crossed a boundary.
// Caller must hold g.mu. The window only moves forward: a clock reading
// from an earlier day never rolls the counter back.
func (g *Guard) rollover() {
	d := g.tradingDay(g.clock.Now())
	if d <= g.day {
		return
	}
	g.log.Info("trading day rollover",
		xlogger.String("from", g.day), xlogger.String("to", d),
		xlogger.Any("closed_loss", g.realizedLoss))
	g.day = d
	g.breached = false
	g.realizedLoss = 0
	if g.metrics != nil {
		g.metrics.RecordDailyLoss(0)
	}
}

// Admit decides whether a sized signal may open a position. The day-breach
// check, the symbol-concurrency check and the Idle->OpenPending transition
// are one indivisible step.
func (g *Guard) Admit(ctx context.Context, sig *models.Signal, sz models.SizingResult) *models.Decision {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.rollover()
	d := &models.Decision{
		Symbol:   sig.Symbol,
		Side:     sig.Side,
		Day:      g.day,
		Quantity: sz.Quantity,
		Notional: sz.Notional,
	}

	threshold := g.cfg.MaxDailyLossFrac * sig.Balance
	if !g.breached && threshold > 0 && g.realizedLoss >= threshold {
		g.breached = true
		g.log.Warn("daily loss limit breached",
			xlogger.Any("realized_loss", g.realizedLoss), xlogger.Any("threshold", threshold))
	}
	if g.breached {
		d.Outcome = models.OutcomeRejected
		d.Reason = models.ReasonDailyLimitBreached
		return d
	}

	switch g.symbols[sig.Symbol] {
	case StateBlocked:
		d.Outcome = models.OutcomeRejected
		d.Reason = models.ReasonSymbolBlocked
		return d
	case StateOpen, StateOpenPending:
		if !g.cfg.AllowPyramiding {
			d.Outcome = models.OutcomeRejected
			d.Reason = models.ReasonSymbolAlreadyOpen
			return d
		}
	}

	if g.cfg.MaxOpenPositions > 0 && g.activeCount() >= g.cfg.MaxOpenPositions {
		d.Outcome = models.OutcomeRejected
		d.Reason = models.ReasonMaxPositionsReached
		return d
	}

	g.symbols[sig.Symbol] = StateOpenPending
	d.Outcome = models.OutcomeAdmitted
	g.persist(ctx)
	return d
}

// ConfirmOpen marks a pending symbol live after the collaborator confirms
// placement.
func (g *Guard) ConfirmOpen(ctx context.Context, symbol string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.symbols[symbol] == StateOpen {
		// duplicate confirmation, e.g. a placed report after a synchronous confirm
		return
	}
	if g.symbols[symbol] != StateOpenPending {
		g.log.Warn("placement confirmation for non-pending symbol",
			xlogger.String("symbol", symbol), xlogger.String("state", g.symbols[symbol].String()))
		if g.metrics != nil {
			g.metrics.RecordError("guard_confirm_mismatch")
		}
		return
	}
	g.symbols[symbol] = StateOpen
	g.persist(ctx)
}

// ReleasePending returns a symbol slot to Idle after a placement failure or
// timeout, so a later signal may retry.
func (g *Guard) ReleasePending(ctx context.Context, symbol string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.symbols[symbol] != StateOpenPending {
		g.log.Warn("release for non-pending symbol",
			xlogger.String("symbol", symbol), xlogger.String("state", g.symbols[symbol].String()))
		if g.metrics != nil {
			g.metrics.RecordError("guard_release_mismatch")
		}
		return
	}
	delete(g.symbols, symbol)
	g.persist(ctx)
}

// ReportClose records a realized close for a live symbol. A negative pnl
// accumulates into the day's loss counter. A report for a symbol the guard
// believes idle is logged and ignored: the collaborator is the source of
// truth for fills, the guard only for admission.
func (g *Guard) ReportClose(ctx context.Context, symbol string, pnl float64) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.rollover()
	if g.symbols[symbol] != StateOpen {
		g.log.Warn("close report for symbol not open",
			xlogger.String("symbol", symbol), xlogger.String("state", g.symbols[symbol].String()))
		if g.metrics != nil {
			g.metrics.RecordError("guard_close_mismatch")
		}
		return
	}
	delete(g.symbols, symbol)
	if pnl < 0 {
		g.realizedLoss += -pnl
	}
	if g.metrics != nil {
		g.metrics.RecordDailyLoss(g.realizedLoss)
		g.metrics.RecordOpenPositions(g.activeCount())
	}
	g.persist(ctx)
}

// Block administratively excludes a symbol from admission until unblocked.
func (g *Guard) Block(ctx context.Context, symbol string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.symbols[symbol] = StateBlocked
	g.persist(ctx)
}

// Unblock returns a blocked symbol to Idle.
func (g *Guard) Unblock(ctx context.Context, symbol string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.symbols[symbol] == StateBlocked {
		delete(g.symbols, symbol)
		g.persist(ctx)
	}
}

// Snapshot returns a copy of the current budget state.
func (g *Guard) Snapshot() models.BudgetSnapshot {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.snapshotLocked()
}

// State reports the guard's view of one symbol.
func (g *Guard) State(symbol string) SymbolState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.symbols[symbol]
}

// Breached reports whether the day overlay is in DayLimitBreached.
func (g *Guard) Breached() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.breached
}

func (g *Guard) activeCount() int {
	n := 0
	for _, st := range g.symbols {
		if st == StateOpen || st == StateOpenPending {
			n++
		}
	}
	return n
}

func (g *Guard) snapshotLocked() models.BudgetSnapshot {
	snap := models.BudgetSnapshot{
		Day:          g.day,
		RealizedLoss: g.realizedLoss,
		UpdatedAt:    g.clock.Now(),
	}
	for s, st := range g.symbols {
		switch st {
		case StateOpen:
			snap.Open = append(snap.Open, s)
		case StateOpenPending:
			snap.Pending = append(snap.Pending, s)
		}
	}
	return snap
}

// persist saves the snapshot best-effort. Caller must hold g.mu.
func (g *Guard) persist(ctx context.Context) {
	if g.store == nil {
		return
	}
	snap := g.snapshotLocked()
	if err := g.store.Save(ctx, &snap); err != nil {
		g.log.Warn("budget snapshot save failed", xlogger.Error(err))
		if g.metrics != nil {
			g.metrics.RecordError("budget_save")
		}
	}
}
