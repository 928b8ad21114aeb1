package models

import "time"

// ReportKind identifies the execution collaborator event being reported.
type ReportKind string

const (
	ReportPlaced ReportKind = "placed" // order accepted by the exchange
	ReportFailed ReportKind = "failed" // placement failure or timeout
	ReportClosed ReportKind = "closed" // position closed with realized pnl
)

// ExecutionReport is the outcome message the exchange collaborator sends
// back. Placed/failed resolve a pending slot; closed carries realized P&L.
type ExecutionReport struct {
	Symbol    string     `json:"symbol"`
	OrderID   string     `json:"order_id,omitempty"`
	Kind      ReportKind `json:"kind"`
	PnL       float64    `json:"pnl,omitempty"` // realized, negative = loss
	Timestamp time.Time  `json:"timestamp"`
}
