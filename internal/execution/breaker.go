package execution

import (
	"context"
	"time"

	"github.com/sony/gobreaker"

	"UltraFlow/internal/domain/models"
	drepo "UltraFlow/internal/domain/repository"
	xlogger "UltraFlow/pkg/logger"
)

// BreakerConfig tunes the circuit breaker guarding the order sink.
type BreakerConfig struct {
	MaxRequests         uint32
	Interval            time.Duration
	Timeout             time.Duration
	ErrorRateThreshold  float64
	ConsecutiveFailures uint32
}

func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxRequests:         3,
		Interval:            60 * time.Second,
		Timeout:             30 * time.Second,
		ErrorRateThreshold:  0.15,
		ConsecutiveFailures: 5,
	}
}

// BreakerSink wraps an OrderSink with a circuit breaker so a failing venue
// sheds placement load instead of piling up timeouts. Lot step lookups bypass
// the breaker: they are cached and have their own fallback.
type BreakerSink struct {
	next    drepo.OrderSink
	breaker *gobreaker.CircuitBreaker
	log     *xlogger.Logger
}

func NewBreakerSink(next drepo.OrderSink, cfg BreakerConfig, log *xlogger.Logger) *BreakerSink {
	if log == nil {
		log = xlogger.Nop()
	}

	s := &BreakerSink{next: next, log: log}
	s.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "order-sink",
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.ConsecutiveFailures >= cfg.ConsecutiveFailures {
				return true
			}
			if counts.Requests < 10 {
				return false
			}
			errorRate := float64(counts.TotalFailures) / float64(counts.Requests)
			return errorRate >= cfg.ErrorRateThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker state change",
				xlogger.String("breaker", name),
				xlogger.String("from", from.String()),
				xlogger.String("to", to.String()))
		},
	})
	return s
}

func (s *BreakerSink) LotStep(symbol string) float64 {
	return s.next.LotStep(symbol)
}

func (s *BreakerSink) Place(ctx context.Context, symbol string, side models.Side, quantity float64) (string, error) {
	result, err := s.breaker.Execute(func() (interface{}, error) {
		return s.next.Place(ctx, symbol, side, quantity)
	})
	if err != nil {
		return "", err
	}
	return result.(string), nil
}

func (s *BreakerSink) Close() error {
	return s.next.Close()
}

// State exposes the breaker state for health reporting.
func (s *BreakerSink) State() gobreaker.State {
	return s.breaker.State()
}

var _ drepo.OrderSink = (*BreakerSink)(nil)
