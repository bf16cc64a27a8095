package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"quicktrade-sim-go/internal/models"
)

const defaultListLimit = 100

// History is the persisted trade and balance store.
type History interface {
	GetTrade(ctx context.Context, id string) (models.Trade, error)
	ListTrades(ctx context.Context, userID string, limit int) ([]models.Trade, error)
	ClosedTradesSince(ctx context.Context, since time.Time) ([]models.Trade, error)
	Account(ctx context.Context, userID string) (models.Account, error)
}

// HistoryHandler serves read-only views over persisted trades.
type HistoryHandler struct {
	log   *zap.Logger
	store History
	now   func() time.Time
}

// NewHistoryHandler creates a new HistoryHandler.
func NewHistoryHandler(log *zap.Logger, store History) *HistoryHandler {
	return &HistoryHandler{log: log, store: store, now: time.Now}
}

// Register adds the history routes to r.
func (h *HistoryHandler) Register(r gin.IRoutes) {
	r.GET("/trades", h.Trades)
	r.GET("/users/:user/trades", h.UserTrades)
	r.GET("/users/:user/account", h.Account)
	r.GET("/statistics", h.Statistics)
}

func limitParam(c *gin.Context) int {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultListLimit)))
	if err != nil || limit <= 0 {
		return defaultListLimit
	}
	return limit
}

// Trade returns one persisted trade.
func (h *HistoryHandler) Trade(c *gin.Context) {
	trade, err := h.store.GetTrade(c.Request.Context(), c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": trade})
}

// Trades returns the most recent trades of every user.
func (h *HistoryHandler) Trades(c *gin.Context) {
	h.list(c, "")
}

// UserTrades returns one user's trades, most recent first.
func (h *HistoryHandler) UserTrades(c *gin.Context) {
	h.list(c, c.Param("user"))
}

func (h *HistoryHandler) list(c *gin.Context, userID string) {
	trades, err := h.store.ListTrades(c.Request.Context(), userID, limitParam(c))
	if err != nil {
		h.log.Error("Failed to get trades from database", zap.Error(err))
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": trades})
}

// Account returns the user's balances.
func (h *HistoryHandler) Account(c *gin.Context) {
	account, err := h.store.Account(c.Request.Context(), c.Param("user"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"user_id":          account.UserID,
		"tradable_balance": account.TradableBalance,
		"realized_profit":  account.RealizedProfit,
	}})
}

// StatsDetail holds calculated statistics for a given period.
type StatsDetail struct {
	TotalTrades      int64   `json:"total_trades"`
	ProfitableTrades int64   `json:"profitable_trades"`
	CancelledTrades  int64   `json:"cancelled_trades"`
	WinRate          float64 `json:"win_rate"`
	TotalProfit      float64 `json:"total_profit"`
}

// StatisticsResponse is the structure for the /api/statistics endpoint.
type StatisticsResponse struct {
	Since24h StatsDetail `json:"since_24h"`
	AllTime  StatsDetail `json:"all_time"`
}

type statsAccumulator struct {
	detail StatsDetail
	profit decimal.Decimal
}

func (a *statsAccumulator) add(t models.Trade) {
	if t.CloseReason == models.CloseReasonCancelled {
		a.detail.CancelledTrades++
		return
	}
	a.detail.TotalTrades++
	if t.IsProfit != nil && *t.IsProfit {
		a.detail.ProfitableTrades++
	}
	if t.PnL != nil {
		a.profit = a.profit.Add(decimal.NewFromFloat(*t.PnL))
	}
}

func (a *statsAccumulator) result() StatsDetail {
	d := a.detail
	if d.TotalTrades > 0 {
		d.WinRate = float64(d.ProfitableTrades) / float64(d.TotalTrades)
	}
	d.TotalProfit = a.profit.Round(2).InexactFloat64()
	return d
}

// Statistics calculates win rate and profit over settled trades. Cancelled
// trades are counted separately and do not affect the win rate.
func (h *HistoryHandler) Statistics(c *gin.Context) {
	trades, err := h.store.ClosedTradesSince(c.Request.Context(), time.Time{})
	if err != nil {
		h.log.Error("Failed to get trades for statistics", zap.Error(err))
		abortWithError(c, err)
		return
	}

	since24h := h.now().Add(-24 * time.Hour)
	var day, all statsAccumulator
	for _, t := range trades {
		all.add(t)
		if t.ClosedAt != nil && t.ClosedAt.After(since24h) {
			day.add(t)
		}
	}

	c.JSON(http.StatusOK, StatisticsResponse{
		Since24h: day.result(),
		AllTime:  all.result(),
	})
}
