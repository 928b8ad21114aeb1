package execution

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"UltraFlow/internal/domain/models"
)

type stubSink struct {
	fail   bool
	calls  int
	closed bool
}

func (s *stubSink) LotStep(string) float64 { return 0.01 }

func (s *stubSink) Place(ctx context.Context, symbol string, side models.Side, qty float64) (string, error) {
	s.calls++
	if s.fail {
		return "", errors.New("venue unavailable")
	}
	return "stub-order", nil
}

func (s *stubSink) Close() error {
	s.closed = true
	return nil
}

func TestPaperSinkPlace(t *testing.T) {
	sink := NewPaperSink(nil, WithPaperLotStep("BTCUSDT", 0.001))

	id1, err := sink.Place(context.Background(), "BTCUSDT", models.SideLong, 0.5)
	require.NoError(t, err)
	id2, err := sink.Place(context.Background(), "ETHUSDT", models.SideShort, 2)
	require.NoError(t, err)

	assert.NotEmpty(t, id1)
	assert.NotEqual(t, id1, id2)
	assert.Equal(t, 0.001, sink.LotStep("BTCUSDT"))
	assert.Equal(t, 0.001, sink.LotStep("UNKNOWN"))
}

func TestPaperSinkDefaultLotStep(t *testing.T) {
	sink := NewPaperSink(nil, WithPaperDefaultLotStep(0.1))
	assert.Equal(t, 0.1, sink.LotStep("SOLUSDT"))
}

func TestPaperSinkRejectsInvalidQuantity(t *testing.T) {
	sink := NewPaperSink(nil)
	_, err := sink.Place(context.Background(), "BTCUSDT", models.SideLong, 0)
	assert.Error(t, err)
}

func TestPaperSinkHonorsCancelledContext(t *testing.T) {
	sink := NewPaperSink(nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := sink.Place(ctx, "BTCUSDT", models.SideLong, 1)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBreakerSinkPassesThrough(t *testing.T) {
	stub := &stubSink{}
	sink := NewBreakerSink(stub, DefaultBreakerConfig(), nil)

	id, err := sink.Place(context.Background(), "BTCUSDT", models.SideLong, 1)
	require.NoError(t, err)
	assert.Equal(t, "stub-order", id)
	assert.Equal(t, 0.01, sink.LotStep("BTCUSDT"))

	require.NoError(t, sink.Close())
	assert.True(t, stub.closed)
}

func TestBreakerSinkOpensAfterConsecutiveFailures(t *testing.T) {
	stub := &stubSink{fail: true}
	cfg := DefaultBreakerConfig()
	cfg.ConsecutiveFailures = 3
	cfg.Timeout = time.Minute
	sink := NewBreakerSink(stub, cfg, nil)

	for i := 0; i < 3; i++ {
		_, err := sink.Place(context.Background(), "BTCUSDT", models.SideLong, 1)
		assert.Error(t, err)
	}
	assert.Equal(t, gobreaker.StateOpen, sink.State())

	// Open breaker fails fast without hitting the sink.
	callsBefore := stub.calls
	_, err := sink.Place(context.Background(), "BTCUSDT", models.SideLong, 1)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, callsBefore, stub.calls)
}

func TestSideToBybit(t *testing.T) {
	assert.Equal(t, "Buy", sideToBybit(models.SideLong))
	assert.Equal(t, "Sell", sideToBybit(models.SideShort))
}
