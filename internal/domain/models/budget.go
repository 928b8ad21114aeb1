package models

import "time"

// BudgetSnapshot is the persisted view of the risk guard's day-level state.
// It is written after every mutation so a restart resumes the trading day
// with the loss counter intact.
type BudgetSnapshot struct {
	Day          string    `json:"day"` // trading-day identifier, e.g. "2026-08-31"
	RealizedLoss float64   `json:"realized_loss"`
	Open         []string  `json:"open"`    // symbols the guard believes are live
	Pending      []string  `json:"pending"` // symbols awaiting placement confirmation
	UpdatedAt    time.Time `json:"updated_at"`
}
