// Package notify delivers trade lifecycle events outside the engine.
package notify

import (
	"context"

	"go.uber.org/zap"

	"quicktrade-sim-go/internal/models"
	"quicktrade-sim-go/internal/trading"
)

const (
	EventTradeOpened = "trade.opened"
	EventTradeClosed = "trade.closed"
)

// Log writes one audit line per lifecycle event.
type Log struct {
	logger *zap.Logger
}

var _ trading.Notifier = (*Log)(nil)

// NewLog creates a Log notifier.
func NewLog(logger *zap.Logger) *Log {
	return &Log{logger: logger.Named("audit")}
}

func (l *Log) TradeOpened(_ context.Context, t models.Trade) {
	l.logger.Info(EventTradeOpened,
		zap.String("trade_id", t.ID),
		zap.String("user_id", t.UserID),
		zap.String("symbol", t.Symbol),
		zap.String("side", string(t.Side)),
		zap.Float64("amount", t.Amount),
		zap.Float64("entry_price", t.EntryPrice),
		zap.Time("expires_at", t.ExpiresAt()),
	)
}

func (l *Log) TradeClosed(_ context.Context, t models.Trade) {
	fields := []zap.Field{
		zap.String("trade_id", t.ID),
		zap.String("user_id", t.UserID),
		zap.String("symbol", t.Symbol),
		zap.String("reason", string(t.CloseReason)),
		zap.String("credit", string(t.CreditStatus)),
	}
	if t.ExitPrice != nil {
		fields = append(fields, zap.Float64("exit_price", *t.ExitPrice))
	}
	if t.PnL != nil {
		fields = append(fields, zap.Float64("pnl", *t.PnL))
	}
	l.logger.Info(EventTradeClosed, fields...)
}

// Multi fans events out to several notifiers in order.
type Multi []trading.Notifier

func (m Multi) TradeOpened(ctx context.Context, t models.Trade) {
	for _, n := range m {
		n.TradeOpened(ctx, t)
	}
}

func (m Multi) TradeClosed(ctx context.Context, t models.Trade) {
	for _, n := range m {
		n.TradeClosed(ctx, t)
	}
}
