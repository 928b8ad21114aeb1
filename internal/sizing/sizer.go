package sizing

import (
	"errors"
	"math"

	"UltraFlow/internal/domain/models"
	drepo "UltraFlow/internal/domain/repository"
)

var (
	// ErrInvalidStopDistance guards the division by stop distance.
	ErrInvalidStopDistance = errors.New("sizing: stop distance must be > 0")
	// ErrInvalidInputs covers negative balance or risk percent.
	ErrInvalidInputs = errors.New("sizing: balance and risk percent must be >= 0")
	// ErrBelowMinimumSize means flooring to the lot step produced a zero
	// quantity. The pipeline surfaces it as a rejection, not a fault.
	ErrBelowMinimumSize = errors.New("sizing: quantity below minimum tradable size")
)

// Sizer converts score, balance and stop distance into an order quantity.
// The lot step comes from the order sink's reported constraint, never from
// the sizer itself.
type Sizer struct {
	riskPct float64
	lots    drepo.LotSizeSource
}

// NewSizer creates a sizer with a fixed per-trade risk fraction.
func NewSizer(riskPct float64, lots drepo.LotSizeSource) *Sizer {
	return &Sizer{riskPct: riskPct, lots: lots}
}

// Size computes notional = balance * riskPct * confidence / stopPct and
// floors the quantity to the symbol's lot step. confidence is the normalized
// score in [0,1].
func (s *Sizer) Size(symbol string, balance, confidence, stopPct float64) (models.SizingResult, error) {
	if stopPct <= 0 {
		return models.SizingResult{}, ErrInvalidStopDistance
	}
	if balance < 0 || s.riskPct < 0 {
		return models.SizingResult{}, ErrInvalidInputs
	}

	notional := balance * s.riskPct * confidence / stopPct
	qty := notional
	if step := s.lots.LotStep(symbol); step > 0 {
		qty = math.Floor(notional/step) * step
	}
	if qty <= 0 {
		return models.SizingResult{}, ErrBelowMinimumSize
	}

	return models.SizingResult{
		Quantity:   qty,
		Notional:   notional,
		Confidence: confidence,
	}, nil
}
