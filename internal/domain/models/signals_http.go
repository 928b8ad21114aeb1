package models

import (
	"time"

	"UltraFlow/pkg/util"
)

// Requests for the admission HTTP endpoints. Defined in domain for consistency and reuse.

// SignalRequest is the inbound webhook payload from the charting platform.
type SignalRequest struct {
	Symbol    string             `json:"symbol" validate:"required"`
	Side      string             `json:"side" validate:"required,oneof=long short"`
	Features  map[string]float64 `json:"features" validate:"required,min=1"`
	Balance   float64            `json:"balance" validate:"gte=0"`
	StopPct   float64            `json:"stop_pct" validate:"required"`
	Timestamp string             `json:"timestamp"` // RFC3339 or unix seconds; empty means arrival time
	Nonce     string             `json:"nonce"`
}

// ToSignal converts the validated payload into the typed Signal the pipeline
// accepts. now is used when the payload carries no timestamp.
func (r *SignalRequest) ToSignal(now time.Time) *Signal {
	return &Signal{
		Symbol:     r.Symbol,
		Side:       Side(r.Side),
		Features:   r.Features,
		Balance:    r.Balance,
		StopPct:    r.StopPct,
		ReceivedAt: util.ParseTimeDefault(r.Timestamp, now),
		Nonce:      r.Nonce,
	}
}

// DecisionRequest looks up a previously produced decision by idempotency key.
type DecisionRequest struct {
	Key string `param:"key" query:"key" json:"key" validate:"required"`
}
