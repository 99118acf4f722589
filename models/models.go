package models

import (
	"time"

	"gorm.io/gorm"
)

// DBOrder represents an order row in the ledger. Rows are created on broker
// acknowledgment and never hard-deleted; reconciliation mutates status and
// fill fields in place.
type DBOrder struct {
	gorm.Model
	OrderID        string `gorm:"uniqueIndex"`
	ParentID       string `gorm:"index"` // == OrderID for a standalone order
	Symbol         string `gorm:"index"`
	Side           string
	Qty            float64
	Type           string
	TimeInForce    string
	OrderClass     string
	Status         string `gorm:"index"`
	LimitPrice     float64
	StopPrice      float64
	TrailPercent   float64
	TrailPrice     float64
	FilledQty      float64
	FilledAvgPrice float64
	HWM            float64
	ReplacedBy     string
	ExtendedHours  bool
	SubmittedAt    time.Time `gorm:"index"`
	FilledAt       *time.Time
	CanceledAt     *time.Time
	ExpiredAt      *time.Time
	ReplacedAt     *time.Time
	FailedAt       *time.Time
}

// DBPosition represents the once-per-day position snapshot, keyed by
// (run_date, symbol, side) so the same symbol can be long and short on the
// same day without colliding.
type DBPosition struct {
	gorm.Model
	RunDate        time.Time `gorm:"uniqueIndex:idx_run_date_symbol_side"`
	Symbol         string    `gorm:"uniqueIndex:idx_run_date_symbol_side"`
	Side           string    `gorm:"uniqueIndex:idx_run_date_symbol_side"`
	Qty            float64
	EntryPrice     float64
	MarketPrice    float64
	LastdayPrice   float64
	MarketValue    float64
	UnrealizedPL   float64
	UnrealizedPLPC float64
}

// TableName overrides for cleaner table names
func (DBOrder) TableName() string {
	return "orders"
}

func (DBPosition) TableName() string {
	return "positions"
}
