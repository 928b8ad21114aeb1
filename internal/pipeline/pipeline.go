package pipeline

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"UltraFlow/internal/domain/models"
	drepo "UltraFlow/internal/domain/repository"
	"UltraFlow/internal/risk"
	"UltraFlow/internal/scoring"
	"UltraFlow/internal/sizing"
	"UltraFlow/pkg/cache"
	xlogger "UltraFlow/pkg/logger"
)

// Journal records decisions in the audit backend. Recording is best-effort:
// a journal failure never changes a decision.
type Journal interface {
	Record(ctx context.Context, d *models.Decision) error
}

// Pipeline turns one inbound signal into a terminal Decision: idempotency
// check, score gate, sizing, admission, dispatch. Scoring and sizing are
// pure; all side effects live in the guard and the dispatch step.
type Pipeline struct {
	engine  *scoring.Engine
	sizer   *sizing.Sizer
	guard   *risk.Guard
	sink    drepo.OrderSink
	journal Journal
	cache   cache.Service
	metrics drepo.Metrics
	log     *xlogger.Logger

	dispatchTimeout time.Duration
	cacheTTL        time.Duration

	mu       sync.Mutex
	inflight map[string]*inflightDecision
	entropy  *rand.Rand
}

// inflightDecision hands the leader's result to duplicate waiters. The
// decision is set before done closes, so waiters never depend on the cache
// surviving the write.
type inflightDecision struct {
	done     chan struct{}
	decision *models.Decision
}

// Option configures optional pipeline behavior.
type Option func(*Pipeline)

// WithDispatchTimeout bounds the outbound placement call.
func WithDispatchTimeout(d time.Duration) Option {
	return func(p *Pipeline) {
		if d > 0 {
			p.dispatchTimeout = d
		}
	}
}

// WithCacheTTL sets how long decisions are retained for redelivery dedup.
// It should cover at least the trading day.
func WithCacheTTL(d time.Duration) Option {
	return func(p *Pipeline) {
		if d > 0 {
			p.cacheTTL = d
		}
	}
}

// WithJournal attaches the decision audit journal.
func WithJournal(j Journal) Option {
	return func(p *Pipeline) { p.journal = j }
}

// New creates a pipeline. cache holds decisions keyed by idempotency key.
func New(
	engine *scoring.Engine,
	sizer *sizing.Sizer,
	guard *risk.Guard,
	sink drepo.OrderSink,
	c cache.Service,
	metrics drepo.Metrics,
	log *xlogger.Logger,
	opts ...Option,
) *Pipeline {
	if log == nil {
		log = xlogger.Nop()
	}
	p := &Pipeline{
		engine:          engine,
		sizer:           sizer,
		guard:           guard,
		sink:            sink,
		cache:           c,
		metrics:         metrics,
		log:             log,
		dispatchTimeout: 30 * time.Second,
		cacheTTL:        36 * time.Hour,
		inflight:        make(map[string]*inflightDecision),
		entropy:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process produces the terminal Decision for a signal. Redelivered signals
// (same idempotency key) observe the already-produced Decision: concurrent
// duplicates wait for the first processing to finish rather than racing a
// second admission.
func (p *Pipeline) Process(ctx context.Context, sig *models.Signal) (*models.Decision, error) {
	if sig == nil {
		return nil, errors.New("pipeline: signal is nil")
	}
	if !sig.Side.Valid() {
		return nil, errors.New("pipeline: invalid side")
	}
	start := time.Now()
	key := sig.IdempotencyKey()

	for {
		if d, ok := p.cached(ctx, key); ok {
			p.metrics.RecordError("duplicate_delivery")
			return d, nil
		}

		call, leader := p.acquire(key)
		if leader {
			d := p.decide(ctx, sig, key)
			p.finish(ctx, key, d, call)
			p.metrics.RecordLatency("pipeline_process", time.Since(start).Seconds())
			return d, nil
		}

		// another delivery of the same key is mid-flight; wait for its result
		select {
		case <-call.done:
			if call.decision != nil {
				p.metrics.RecordError("duplicate_delivery")
				return call.decision, nil
			}
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Lookup returns the already-produced decision for an idempotency key.
func (p *Pipeline) Lookup(ctx context.Context, key string) (*models.Decision, bool) {
	return p.cached(ctx, key)
}

// cached returns the stored decision for a key, if any.
func (p *Pipeline) cached(ctx context.Context, key string) (*models.Decision, bool) {
	var d models.Decision
	err := p.cache.Get(ctx, "decision:"+key, &d)
	if err == nil {
		return &d, true
	}
	if !errors.Is(err, cache.ErrCacheMiss) {
		p.log.Warn("decision cache read failed", xlogger.Error(err))
		p.metrics.RecordError("decision_cache_get")
	}
	return nil, false
}

// acquire registers the key as in-flight. The second return is true for the
// winner; losers receive the winner's call entry.
func (p *Pipeline) acquire(key string) (*inflightDecision, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if call, ok := p.inflight[key]; ok {
		return call, false
	}
	call := &inflightDecision{done: make(chan struct{})}
	p.inflight[key] = call
	return call, true
}

// finish stores the decision, journals it, and wakes duplicate waiters.
func (p *Pipeline) finish(ctx context.Context, key string, d *models.Decision, call *inflightDecision) {
	if err := p.cache.Set(ctx, "decision:"+key, d, p.cacheTTL); err != nil {
		p.log.Error("decision cache write failed", xlogger.Error(err), xlogger.String("key", key))
		p.metrics.RecordError("decision_cache_set")
	}
	if p.journal != nil {
		if err := p.journal.Record(ctx, d); err != nil {
			p.log.Warn("decision journal write failed", xlogger.Error(err), xlogger.String("id", d.ID))
			p.metrics.RecordError("journal_record")
		}
	}
	p.metrics.RecordDecision(string(d.Outcome), string(d.Reason))

	p.mu.Lock()
	delete(p.inflight, key)
	p.mu.Unlock()
	call.decision = d
	close(call.done)
}

// decide runs score -> size -> admit -> dispatch for the winning delivery.
func (p *Pipeline) decide(ctx context.Context, sig *models.Signal, key string) *models.Decision {
	score := p.engine.Score(sig.Features)
	p.metrics.RecordScore(sig.Symbol, score.Score)

	if !score.Passed {
		return p.rejected(sig, key, score.Score, models.ReasonLowScore)
	}

	sz, err := p.sizer.Size(sig.Symbol, sig.Balance, score.Score/100, sig.StopPct)
	if err != nil {
		return p.rejected(sig, key, score.Score, sizingReason(err))
	}

	d := p.guard.Admit(ctx, sig, sz)
	d.ID = p.newID()
	d.Key = key
	d.Score = score.Score
	d.DecidedAt = time.Now()
	if !d.Admitted() {
		return d
	}

	// Dispatch is detached from the caller: an upstream timeout must not
	// strand the symbol in OpenPending, so the placement call gets its own
	// deadline and always resolves the slot.
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.dispatchTimeout)
	defer cancel()

	orderID, err := p.sink.Place(dctx, sig.Symbol, sig.Side, sz.Quantity)
	if err != nil {
		p.guard.ReleasePending(dctx, sig.Symbol)
		p.log.Warn("order placement failed",
			xlogger.String("symbol", sig.Symbol), xlogger.Error(err))
		p.metrics.RecordError("placement")
		d.Outcome = models.OutcomePlacementFailed
		d.Reason = models.ReasonPlacementFailed
		return d
	}

	p.guard.ConfirmOpen(dctx, sig.Symbol)
	p.log.Info("order dispatched",
		xlogger.String("symbol", sig.Symbol),
		xlogger.String("side", string(sig.Side)),
		xlogger.String("order_id", orderID),
		xlogger.Any("quantity", sz.Quantity),
		xlogger.Any("score", score.Score))
	return d
}

func (p *Pipeline) rejected(sig *models.Signal, key string, score float64, reason models.RejectReason) *models.Decision {
	return &models.Decision{
		ID:        p.newID(),
		Key:       key,
		Symbol:    sig.Symbol,
		Side:      sig.Side,
		Outcome:   models.OutcomeRejected,
		Reason:    reason,
		Score:     score,
		DecidedAt: time.Now(),
	}
}

func (p *Pipeline) newID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), p.entropy).String()
}

func sizingReason(err error) models.RejectReason {
	switch {
	case errors.Is(err, sizing.ErrInvalidStopDistance):
		return models.ReasonInvalidStopDistance
	case errors.Is(err, sizing.ErrBelowMinimumSize):
		return models.ReasonBelowMinimumSize
	default:
		return models.ReasonInvalidInputs
	}
}
