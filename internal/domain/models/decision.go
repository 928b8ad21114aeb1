package models

import "time"

// Outcome classifies the terminal result of processing one signal.
type Outcome string

const (
	OutcomeAdmitted        Outcome = "admitted"
	OutcomeRejected        Outcome = "rejected"
	OutcomePlacementFailed Outcome = "placement_failed" // retryable by the caller
)

// RejectReason is a stable machine-readable code reported upstream.
type RejectReason string

const (
	ReasonNone                RejectReason = ""
	ReasonLowScore            RejectReason = "LOW_SCORE"
	ReasonInvalidStopDistance RejectReason = "INVALID_STOP_DISTANCE"
	ReasonBelowMinimumSize    RejectReason = "BELOW_MINIMUM_SIZE"
	ReasonSymbolAlreadyOpen   RejectReason = "SYMBOL_ALREADY_OPEN"
	ReasonSymbolBlocked       RejectReason = "SYMBOL_BLOCKED"
	ReasonDailyLimitBreached  RejectReason = "DAILY_LIMIT_BREACHED"
	ReasonMaxPositionsReached RejectReason = "MAX_POSITIONS_REACHED"
	ReasonInvalidInputs       RejectReason = "INVALID_INPUTS"
	ReasonPlacementFailed     RejectReason = "PLACEMENT_FAILED"
)

// Decision is the terminal verdict for one signal. Produced exactly once per
// idempotency key and never revised afterwards.
type Decision struct {
	ID        string       `json:"id"` // ULID, assigned by the pipeline
	Key       string       `json:"key"`
	Symbol    string       `json:"symbol"`
	Side      Side         `json:"side"`
	Outcome   Outcome      `json:"outcome"`
	Reason    RejectReason `json:"reason,omitempty"`
	Score     float64      `json:"score"`
	Quantity  float64      `json:"quantity,omitempty"`
	Notional  float64      `json:"notional,omitempty"`
	Day       string       `json:"day"` // trading day the decision belongs to
	DecidedAt time.Time    `json:"decided_at"`
}

// Admitted reports whether the signal resulted in a dispatched order.
func (d *Decision) Admitted() bool { return d.Outcome == OutcomeAdmitted }
