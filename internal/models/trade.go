package models

import (
	"time"
)

// Side is the direction of a trade.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Valid reports whether s is BUY or SELL.
func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

// TradeStatus is the lifecycle state of a trade.
type TradeStatus string

const (
	TradeStatusOpen     TradeStatus = "OPEN"
	TradeStatusSettling TradeStatus = "SETTLING"
	TradeStatusClosed   TradeStatus = "CLOSED"
)

// CloseReason records which path closed a trade.
type CloseReason string

const (
	CloseReasonExpired   CloseReason = "EXPIRED"
	CloseReasonCancelled CloseReason = "CANCELLED"
)

// CreditStatus tracks whether the settlement reached the balance ledger.
type CreditStatus string

const (
	CreditStatusNone    CreditStatus = ""
	CreditStatusPending CreditStatus = "PENDING"
	CreditStatusApplied CreditStatus = "APPLIED"
)

// Trade is a user's position against one instrument.
// ExitPrice, PnL, IsProfit and ClosedAt stay nil until the trade is closed.
type Trade struct {
	ID               string       `gorm:"primaryKey;size:36" json:"id"`
	UserID           string       `gorm:"index;not null" json:"user_id"`
	Symbol           string       `gorm:"index;not null" json:"symbol"`
	Side             Side         `gorm:"size:4;not null" json:"side"`
	Amount           float64      `gorm:"not null" json:"amount"`
	EntryPrice       float64      `gorm:"not null" json:"entry_price"`
	TakeProfit       *float64     `json:"take_profit,omitempty"`
	StopLoss         *float64     `json:"stop_loss,omitempty"`
	DurationSeconds  float64      `gorm:"not null" json:"duration_seconds"`
	OpenedAt         time.Time    `gorm:"not null" json:"opened_at"`
	Status           TradeStatus  `gorm:"index;size:10;not null" json:"status"`
	ExitPrice        *float64     `json:"exit_price,omitempty"`
	PnL              *float64     `json:"pnl,omitempty"`
	IsProfit         *bool        `json:"is_profit,omitempty"`
	ClosedAt         *time.Time   `json:"closed_at,omitempty"`
	CloseReason      CloseReason  `gorm:"size:10" json:"close_reason,omitempty"`
	OutcomeSequence  uint64       `json:"outcome_sequence,omitempty"`
	MagnitudePercent float64      `json:"magnitude_percent,omitempty"`
	CreditStatus     CreditStatus `gorm:"size:8" json:"credit_status,omitempty"`
	UpdatedAt        time.Time    `json:"-"`
}

// Duration returns the configured lifetime of the trade.
func (t *Trade) Duration() time.Duration {
	return time.Duration(t.DurationSeconds * float64(time.Second))
}

// ExpiresAt is the moment the trade's duration elapses.
func (t *Trade) ExpiresAt() time.Time {
	return t.OpenedAt.Add(t.Duration())
}

// Remaining is duration - (now - openedAt).
func (t *Trade) Remaining(now time.Time) time.Duration {
	return t.Duration() - now.Sub(t.OpenedAt)
}

// IsOpen reports whether the trade still awaits settlement.
func (t *Trade) IsOpen() bool {
	return t.Status == TradeStatusOpen
}

// Close sets the closing fields. It must only be called once per trade.
func (t *Trade) Close(exitPrice, pnl float64, isProfit bool, at time.Time, reason CloseReason) {
	t.ExitPrice = &exitPrice
	t.PnL = &pnl
	t.IsProfit = &isProfit
	t.ClosedAt = &at
	t.CloseReason = reason
	t.Status = TradeStatusClosed
}

// Clone returns a deep copy so callers never share pointers with the engine.
func (t Trade) Clone() Trade {
	c := t
	if t.TakeProfit != nil {
		v := *t.TakeProfit
		c.TakeProfit = &v
	}
	if t.StopLoss != nil {
		v := *t.StopLoss
		c.StopLoss = &v
	}
	if t.ExitPrice != nil {
		v := *t.ExitPrice
		c.ExitPrice = &v
	}
	if t.PnL != nil {
		v := *t.PnL
		c.PnL = &v
	}
	if t.IsProfit != nil {
		v := *t.IsProfit
		c.IsProfit = &v
	}
	if t.ClosedAt != nil {
		v := *t.ClosedAt
		c.ClosedAt = &v
	}
	return c
}
