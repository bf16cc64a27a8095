package trading

import (
	"context"

	"quicktrade-sim-go/internal/market"
	"quicktrade-sim-go/internal/models"
)

// QuoteSource provides the latest simulated quote for an instrument.
type QuoteSource interface {
	Quote(symbol string) (market.Quote, bool)
}

// Ledger reads and moves user balances. Debits and credits are keyed by
// trade id and must be idempotent per trade.
type Ledger interface {
	TradableBalance(ctx context.Context, userID string) (float64, error)
	DebitStake(ctx context.Context, userID, tradeID string, amount float64) error
	ApplyBalanceDelta(ctx context.Context, userID, tradeID string, stakeReturned, pnl float64) error
}

// TradeStore persists trades. PersistTrade is an upsert that never moves a
// closed row back to an earlier status.
type TradeStore interface {
	PersistTrade(ctx context.Context, trade *models.Trade) error
	GetTrade(ctx context.Context, id string) (models.Trade, error)
	UnfinishedTrades(ctx context.Context) ([]models.Trade, error)
}

// Notifier receives lifecycle notifications. Implementations must not block
// for long; the controller calls them inline.
type Notifier interface {
	TradeOpened(ctx context.Context, trade models.Trade)
	TradeClosed(ctx context.Context, trade models.Trade)
}

type nopNotifier struct{}

func (nopNotifier) TradeOpened(context.Context, models.Trade) {}
func (nopNotifier) TradeClosed(context.Context, models.Trade) {}
