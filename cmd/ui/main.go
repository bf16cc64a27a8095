package main

import (
	"fmt"
	"net/http"
	"os"

	"go.uber.org/zap"

	"quicktrade-sim-go/internal/api"
	"quicktrade-sim-go/internal/config"
	"quicktrade-sim-go/internal/database"
	"quicktrade-sim-go/internal/ledger"
	"quicktrade-sim-go/internal/logger"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig("./configs")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log, err := logger.NewLogger(cfg.Logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// Connect to the database
	db, err := database.NewDatabase(cfg.Database.DSN)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}

	store := ledger.NewStore(db, cfg.Trading.StartingBalance)
	history := api.NewHistoryHandler(log, store)

	router := api.NewRouter(log)
	router.GET("/health", api.Health)
	group := router.Group("/api")
	history.Register(group)
	group.GET("/trades/:id", history.Trade)

	addr := fmt.Sprintf(":%d", cfg.Server.UIPort)
	log.Info("Starting history server", zap.String("address", addr))

	if err := http.ListenAndServe(addr, router); err != nil {
		log.Fatal("History server failed", zap.Error(err))
	}
}
