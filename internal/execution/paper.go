package execution

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"UltraFlow/internal/domain/models"
	drepo "UltraFlow/internal/domain/repository"
	xlogger "UltraFlow/pkg/logger"
)

// PaperSink simulates order placement without talking to an exchange. Every
// Place succeeds and returns a synthetic order ID, so the rest of the pipeline
// behaves exactly as it would against a live venue.
type PaperSink struct {
	log         *xlogger.Logger
	defaultStep float64
	seq         atomic.Uint64

	mu    sync.RWMutex
	steps map[string]float64
}

type PaperOption func(*PaperSink)

// WithPaperLotStep overrides the lot step for a single symbol.
func WithPaperLotStep(symbol string, step float64) PaperOption {
	return func(s *PaperSink) {
		s.steps[symbol] = step
	}
}

// WithPaperDefaultLotStep sets the fallback step for symbols without an override.
func WithPaperDefaultLotStep(step float64) PaperOption {
	return func(s *PaperSink) {
		if step > 0 {
			s.defaultStep = step
		}
	}
}

func NewPaperSink(log *xlogger.Logger, opts ...PaperOption) *PaperSink {
	if log == nil {
		log = xlogger.Nop()
	}

	s := &PaperSink{
		log:         log,
		defaultStep: 0.001,
		steps:       make(map[string]float64),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *PaperSink) LotStep(symbol string) float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if step, ok := s.steps[symbol]; ok {
		return step
	}
	return s.defaultStep
}

func (s *PaperSink) Place(ctx context.Context, symbol string, side models.Side, quantity float64) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if quantity <= 0 {
		return "", fmt.Errorf("paper: invalid quantity %v for %s", quantity, symbol)
	}

	orderID := fmt.Sprintf("paper-%06d", s.seq.Add(1))
	s.log.Info("paper order filled",
		xlogger.String("order_id", orderID),
		xlogger.String("symbol", symbol),
		xlogger.String("side", string(side)),
		xlogger.Any("quantity", quantity))

	return orderID, nil
}

func (s *PaperSink) Close() error { return nil }

var _ drepo.OrderSink = (*PaperSink)(nil)
