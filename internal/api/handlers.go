package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"quicktrade-sim-go/internal/ledger"
	"quicktrade-sim-go/internal/market"
	"quicktrade-sim-go/internal/models"
	"quicktrade-sim-go/internal/trading"
)

type quoteView struct {
	market.Quote
	Display market.DisplayQuote `json:"display"`
}

func viewOf(q market.Quote) quoteView {
	return quoteView{Quote: q, Display: q.Display()}
}

type openRequest struct {
	UserID          string   `json:"user_id" binding:"required"`
	Symbol          string   `json:"symbol" binding:"required"`
	Side            string   `json:"side" binding:"required"`
	Amount          float64  `json:"amount"`
	DurationSeconds float64  `json:"duration_seconds"`
	TakeProfit      *float64 `json:"take_profit"`
	StopLoss        *float64 `json:"stop_loss"`
}

// statusFor maps engine errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, trading.ErrInsufficientBalance), errors.Is(err, ledger.ErrInsufficientFunds):
		return http.StatusUnprocessableEntity
	case errors.Is(err, trading.ErrUnknownInstrument),
		errors.Is(err, trading.ErrTradeNotFound),
		errors.Is(err, ledger.ErrTradeNotFound),
		errors.Is(err, ledger.ErrAccountNotFound):
		return http.StatusNotFound
	case errors.Is(err, trading.ErrInvalidAmount),
		errors.Is(err, trading.ErrInvalidSide),
		errors.Is(err, trading.ErrInvalidDuration),
		errors.Is(err, trading.ErrMissingUser),
		errors.Is(err, trading.ErrNoQuote):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func abortWithError(c *gin.Context, err error) {
	code := statusFor(err)
	_ = c.Error(err)
	if code == http.StatusInternalServerError {
		c.AbortWithStatusJSON(code, gin.H{"error": "internal error"})
		return
	}
	c.AbortWithStatusJSON(code, gin.H{"error": err.Error()})
}

func (s *Server) instruments(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"data": s.feed.Instruments()})
}

func (s *Server) quotes(c *gin.Context) {
	snapshot := s.feed.Snapshot()
	views := make([]quoteView, len(snapshot))
	for i, q := range snapshot {
		views[i] = viewOf(q)
	}
	c.JSON(http.StatusOK, gin.H{"data": views})
}

// quote serves GET /api/quotes/:base/:quote, e.g. /api/quotes/EUR/USD.
func (s *Server) quote(c *gin.Context) {
	symbol := strings.ToUpper(c.Param("base") + "/" + c.Param("quote"))
	q, ok := s.feed.Quote(symbol)
	if !ok {
		abortWithError(c, trading.ErrUnknownInstrument)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": viewOf(q)})
}

func (s *Server) openTrade(c *gin.Context) {
	var req openRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	trade, err := s.trades.Open(c.Request.Context(), trading.OpenParams{
		UserID:     req.UserID,
		Symbol:     strings.ToUpper(req.Symbol),
		Side:       models.Side(strings.ToUpper(req.Side)),
		Amount:     req.Amount,
		Duration:   time.Duration(req.DurationSeconds * float64(time.Second)),
		TakeProfit: req.TakeProfit,
		StopLoss:   req.StopLoss,
	})
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": trade})
}

func (s *Server) getTrade(c *gin.Context) {
	id := c.Param("id")
	if trade, ok := s.trades.Trade(id); ok {
		c.JSON(http.StatusOK, gin.H{"data": trade})
		return
	}
	s.history.Trade(c)
}

func (s *Server) cancelTrade(c *gin.Context) {
	trade, err := s.trades.Cancel(c.Request.Context(), c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": trade})
}
