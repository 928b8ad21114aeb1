package middleware

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"UltraFlow/internal/domain/models"
	domrepo "UltraFlow/internal/domain/repository"
)

// Admitter is the minimal downstream interface the intake needs.
type Admitter interface {
	Process(ctx context.Context, sig *models.Signal) (*models.Decision, error)
}

// SignalIntake is a middleware between signal sources and the admission
// pipeline. It validates, normalizes, throttles per symbol, and buffers when
// downstream is unavailable.
type SignalIntake struct {
	next     Admitter
	metrics  domrepo.Metrics
	maxRPS   int
	burst    int
	bufSize  int
	bufCh    chan *models.Signal
	stopCh   chan struct{}
	started  bool
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	// optional normalization hook
	transform func(*models.Signal) *models.Signal
}

type IntakeOption func(*SignalIntake)

// WithMaxRPS sets the max signals per second per symbol.
func WithMaxRPS(n int) IntakeOption {
	return func(p *SignalIntake) {
		if n > 0 {
			p.maxRPS = n
		}
	}
}

// WithBurst sets the per-symbol burst allowance.
func WithBurst(n int) IntakeOption {
	return func(p *SignalIntake) {
		if n > 0 {
			p.burst = n
		}
	}
}

// WithBufferSize sets the temporary buffer size when downstream is unavailable.
func WithBufferSize(n int) IntakeOption {
	return func(p *SignalIntake) {
		if n > 0 {
			p.bufSize = n
		}
	}
}

// WithTransform sets a normalization hook applied before validation.
func WithTransform(fn func(*models.Signal) *models.Signal) IntakeOption {
	return func(p *SignalIntake) { p.transform = fn }
}

// NewSignalIntake creates a new intake middleware.
func NewSignalIntake(next Admitter, metrics domrepo.Metrics, opts ...IntakeOption) *SignalIntake {
	p := &SignalIntake{
		next:     next,
		metrics:  metrics,
		maxRPS:   20, // default throttle per symbol
		burst:    5,
		bufSize:  1000,
		bufCh:    make(chan *models.Signal, 1000),
		stopCh:   make(chan struct{}),
		limiters: make(map[string]*rate.Limiter),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.bufSize != cap(p.bufCh) {
		p.bufCh = make(chan *models.Signal, p.bufSize)
	}
	return p
}

// Start launches background flushing of buffered signals.
func (p *SignalIntake) Start(ctx context.Context) {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.mu.Unlock()

	go func() {
		backoff := 50 * time.Millisecond
		for {
			select {
			case <-p.stopCh:
				return
			case sig := <-p.bufCh:
				if sig == nil {
					continue
				}
				if _, err := p.next.Process(ctx, sig); err != nil {
					if backoff < 2*time.Second {
						backoff *= 2
					}
					p.metrics.RecordError("intake_flush")
					time.Sleep(backoff)
					// requeue if space; drop otherwise
					select {
					case p.bufCh <- sig:
					default:
						p.metrics.RecordError("intake_buffer_drop")
					}
				} else {
					backoff = 50 * time.Millisecond
				}
			}
		}
	}()
}

// Stop stops the background flushing.
func (p *SignalIntake) Stop() {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return
	}
	p.started = false
	p.mu.Unlock()
	close(p.stopCh)
}

// Process validates, throttles, and forwards the signal downstream,
// buffering on downstream errors.
func (p *SignalIntake) Process(ctx context.Context, sig *models.Signal) (*models.Decision, error) {
	start := time.Now()
	if p.transform != nil {
		sig = p.transform(sig)
	}
	if err := validateSignal(sig); err != nil {
		p.metrics.RecordError("intake_validate")
		return nil, err
	}
	if !p.allow(sig.Symbol) {
		// throttled; record and drop
		p.metrics.RecordError("intake_throttle")
		return nil, fmt.Errorf("throttled: %s", sig.Symbol)
	}

	d, err := p.next.Process(ctx, sig)
	if err != nil {
		p.metrics.RecordError("intake_process")
		// buffer non-blocking
		select {
		case p.bufCh <- sig:
		default:
			p.metrics.RecordError("intake_buffer_full")
		}
		return nil, fmt.Errorf("intake downstream: %w", err)
	}
	p.metrics.RecordLatency("intake_process", time.Since(start).Seconds())
	return d, nil
}

func validateSignal(sig *models.Signal) error {
	if sig == nil {
		return fmt.Errorf("signal nil")
	}
	if strings.TrimSpace(sig.Symbol) == "" {
		return fmt.Errorf("symbol empty")
	}
	if !sig.Side.Valid() {
		return fmt.Errorf("invalid side: %s", sig.Side)
	}
	if sig.ReceivedAt.IsZero() {
		return fmt.Errorf("received_at missing")
	}
	return nil
}

func (p *SignalIntake) allow(symbol string) bool {
	if p.maxRPS <= 0 {
		return true
	}
	p.mu.Lock()
	lim, ok := p.limiters[symbol]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(p.maxRPS), p.burst)
		p.limiters[symbol] = lim
	}
	p.mu.Unlock()
	return lim.Allow()
}
