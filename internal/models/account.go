package models

import "gorm.io/gorm"

// Account holds a user's balances as seen by the trading core.
type Account struct {
	gorm.Model
	UserID          string  `gorm:"uniqueIndex;not null" json:"user_id"`
	TradableBalance float64 `gorm:"not null" json:"tradable_balance"`
	RealizedProfit  float64 `gorm:"not null;default:0" json:"realized_profit"`
}

// LedgerEntryKind distinguishes the two balance movements of a trade.
type LedgerEntryKind string

const (
	LedgerDebit  LedgerEntryKind = "DEBIT"
	LedgerCredit LedgerEntryKind = "CREDIT"
)

// LedgerEntry records one balance movement. The (trade, kind) pair is unique,
// which makes debits and credits idempotent per trade.
type LedgerEntry struct {
	gorm.Model
	TradeID string          `gorm:"uniqueIndex:idx_trade_kind;size:36;not null"`
	Kind    LedgerEntryKind `gorm:"uniqueIndex:idx_trade_kind;size:6;not null"`
	UserID  string          `gorm:"index;not null"`
	Stake   float64
	PnL     float64
}
