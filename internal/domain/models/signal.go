package models

import (
	"fmt"
	"strings"
	"time"
)

// Side is the direction of a trade signal.
type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

// Valid reports whether the side is a known value.
func (s Side) Valid() bool {
	return s == SideLong || s == SideShort
}

// Signal is a single trade opportunity reported by the charting platform.
// Immutable once received; the pipeline never mutates it.
type Signal struct {
	Symbol     string
	Side       Side
	Features   map[string]float64 // metric name -> value in [0,100]
	Balance    float64
	StopPct    float64 // stop distance as a fraction of price, > 0
	ReceivedAt time.Time
	Nonce      string // optional explicit idempotency nonce
}

// IdempotencyKey returns the stable key that deduplicates redelivered
// signals: the explicit nonce when present, otherwise symbol+side+timestamp.
func (s *Signal) IdempotencyKey() string {
	if s.Nonce != "" {
		return s.Nonce
	}
	return fmt.Sprintf("%s:%s:%d", strings.ToUpper(s.Symbol), s.Side, s.ReceivedAt.UnixNano())
}

// ScoreResult carries the weighted confidence score with its per-metric
// breakdown for auditability.
type ScoreResult struct {
	Score         float64            // in [0,100]
	Contributions map[string]float64 // metric -> weighted contribution
	Passed        bool               // score >= configured minimum
}

// SizingResult is the sized order produced for an admitted signal.
type SizingResult struct {
	Quantity   float64 // floored to the sink's lot step, >= 0
	Notional   float64 // balance * riskPct * confidence / stopPct
	Confidence float64 // normalized score used, in [0,1]
}
