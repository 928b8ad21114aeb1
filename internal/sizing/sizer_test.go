package sizing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedLots struct{ step float64 }

func (f fixedLots) LotStep(string) float64 { return f.step }

func TestSizeFormula(t *testing.T) {
	s := NewSizer(0.01, fixedLots{step: 0.01})

	res, err := s.Size("BTCUSDT", 10000, 0.85, 0.02)
	require.NoError(t, err)
	assert.InDelta(t, 4250, res.Notional, 1e-9)
	assert.InDelta(t, 4250, res.Quantity, 1e-6)
	assert.InDelta(t, 0.85, res.Confidence, 1e-9)
}

func TestSizeFloorsToLotStep(t *testing.T) {
	s := NewSizer(0.01, fixedLots{step: 100})

	res, err := s.Size("BTCUSDT", 10000, 0.85, 0.02)
	require.NoError(t, err)
	assert.InDelta(t, 4200, res.Quantity, 1e-9) // 4250 floored to step 100
	assert.InDelta(t, 4250, res.Notional, 1e-9)
}

func TestSizeInvalidStopDistance(t *testing.T) {
	s := NewSizer(0.01, fixedLots{step: 0.01})

	_, err := s.Size("BTCUSDT", 10000, 0.85, 0)
	assert.ErrorIs(t, err, ErrInvalidStopDistance)

	_, err = s.Size("BTCUSDT", 10000, 0.85, -0.5)
	assert.ErrorIs(t, err, ErrInvalidStopDistance)
}

func TestSizeNegativeBalance(t *testing.T) {
	s := NewSizer(0.01, fixedLots{step: 0.01})

	_, err := s.Size("BTCUSDT", -1, 0.85, 0.02)
	assert.ErrorIs(t, err, ErrInvalidInputs)
}

func TestSizeBelowMinimum(t *testing.T) {
	s := NewSizer(0.01, fixedLots{step: 10000})

	_, err := s.Size("BTCUSDT", 10000, 0.85, 0.02)
	assert.ErrorIs(t, err, ErrBelowMinimumSize)
}

func TestSizeZeroConfidence(t *testing.T) {
	s := NewSizer(0.01, fixedLots{step: 0.01})

	_, err := s.Size("BTCUSDT", 10000, 0, 0.02)
	assert.ErrorIs(t, err, ErrBelowMinimumSize)
}
