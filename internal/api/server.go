// Package api exposes the simulator and trade engine over HTTP and websockets.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"quicktrade-sim-go/internal/market"
	"quicktrade-sim-go/internal/models"
	"quicktrade-sim-go/internal/trading"
)

// QuoteFeed is the part of the market simulator the API reads.
type QuoteFeed interface {
	Snapshot() []market.Quote
	Quote(symbol string) (market.Quote, bool)
	Instruments() []models.Instrument
	Subscribe(fn market.Subscriber) (unsubscribe func())
	State() market.State
	TickCount() uint64
}

// TradeService is the part of the lifecycle controller the API drives.
type TradeService interface {
	Open(ctx context.Context, p trading.OpenParams) (models.Trade, error)
	Cancel(ctx context.Context, id string) (models.Trade, error)
	Trade(id string) (models.Trade, bool)
	OpenCount() int
	Decisions() uint64
}

// Server provides the HTTP interface for the simulator.
type Server struct {
	server  *http.Server
	router  *gin.Engine
	logger  *zap.Logger
	feed    QuoteFeed
	trades  TradeService
	history *HistoryHandler
	hub     *Hub

	UUID      string
	StartTime time.Time
}

// NewServer creates a Server listening on port once Start is called.
func NewServer(port int, logger *zap.Logger, feed QuoteFeed, trades TradeService, history History) *Server {
	logger = logger.Named("api-server")

	s := &Server{
		logger:    logger,
		feed:      feed,
		trades:    trades,
		history:   NewHistoryHandler(logger, history),
		hub:       NewHub(logger, feed),
		UUID:      uuid.NewString(),
		StartTime: time.Now(),
	}
	s.router = NewRouter(logger)
	s.routes()
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// NewRouter returns a gin engine with recovery and request logging installed.
func NewRouter(logger *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), RequestLogger(logger))
	return r
}

func (s *Server) routes() {
	s.router.GET("/health", Health)
	s.router.GET("/status", s.status)
	s.router.GET("/ws/quotes", s.hub.ServeWS)

	api := s.router.Group("/api")
	api.GET("/instruments", s.instruments)
	api.GET("/quotes", s.quotes)
	api.GET("/quotes/:base/:quote", s.quote)
	api.POST("/trades", s.openTrade)
	api.GET("/trades/:id", s.getTrade)
	api.POST("/trades/:id/cancel", s.cancelTrade)
	s.history.Register(api)
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start runs the HTTP server in a new goroutine.
func (s *Server) Start() {
	s.logger.Info("Starting API server", zap.String("address", s.server.Addr))
	go func() {
		if err := s.server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server failed", zap.Error(err))
		}
	}()
}

// Stop closes websocket clients and gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping API server...")
	s.hub.Close()
	return s.server.Shutdown(ctx)
}

// Health answers liveness probes.
func Health(c *gin.Context) {
	c.String(http.StatusOK, "OK\n")
}

func (s *Server) status(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"uuid":        s.UUID,
		"start_time":  s.StartTime.Format(time.RFC3339),
		"uptime":      time.Since(s.StartTime).Round(time.Second).String(),
		"market":      s.feed.State(),
		"ticks":       s.feed.TickCount(),
		"instruments": len(s.feed.Instruments()),
		"open_trades": s.trades.OpenCount(),
		"decisions":   s.trades.Decisions(),
		"ws_clients":  s.hub.ClientCount(),
	})
}
