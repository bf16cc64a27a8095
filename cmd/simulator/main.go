package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"quicktrade-sim-go/internal/api"
	"quicktrade-sim-go/internal/catalog"
	"quicktrade-sim-go/internal/config"
	"quicktrade-sim-go/internal/database"
	"quicktrade-sim-go/internal/ledger"
	"quicktrade-sim-go/internal/logger"
	"quicktrade-sim-go/internal/market"
	"quicktrade-sim-go/internal/notify"
	"quicktrade-sim-go/internal/outcome"
	"quicktrade-sim-go/internal/settlement"
	"quicktrade-sim-go/internal/trading"
)

func main() {
	// Load application configuration
	cfg, err := config.LoadConfig("./configs")
	if err != nil {
		// We can't use the logger here because it's not initialized yet.
		panic(fmt.Sprintf("could not load config: %v", err))
	}

	// Initialize logger
	log, err := logger.NewLogger(cfg.Logger)
	if err != nil {
		panic(err)
	}
	defer log.Sync()
	log.Info("Configuration loaded")

	// Initialize database
	db, err := database.NewDatabase(cfg.Database.DSN)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	log.Info("Database connection successful and schema migrated.")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Load the instrument catalog, seeding it on first start
	seed := catalog.Default()
	if len(cfg.Catalog.Instruments) > 0 {
		seed = catalog.FromConfig(cfg.Catalog.Instruments)
	}
	instruments, err := catalog.Load(ctx, db, seed)
	if err != nil {
		log.Fatal("Failed to load instrument catalog", zap.Error(err))
	}

	// Start the price simulation
	gen := market.NewGenerator(cfg.Market.PriceScale, cfg.Market.MinPrice)
	sim := market.NewSimulator(log, gen, cfg.Market.TickInterval())
	if err := sim.Initialize(instruments); err != nil {
		log.Fatal("Failed to start market simulation", zap.Error(err))
	}

	store := ledger.NewStore(db, cfg.Trading.StartingBalance)

	notifiers := notify.Multi{notify.NewLog(log)}
	var webhook *notify.Webhook
	if cfg.Webhook.URL != "" {
		webhook = notify.NewWebhook(cfg.Webhook, log)
		notifiers = append(notifiers, webhook)
		log.Info("Trade webhook enabled", zap.String("url", cfg.Webhook.URL))
	}

	controller := trading.NewController(log, trading.ConfigFrom(cfg.Trading), sim,
		outcome.NewDecider(), settlement.NewEngine(), store, store, notifiers)
	if _, err := controller.Restore(ctx); err != nil {
		log.Fatal("Failed to restore unfinished trades", zap.Error(err))
	}

	server := api.NewServer(cfg.Server.Port, log, sim, controller, store)
	server.Start()

	// Setup graceful shutdown
	go func() {
		sigchan := make(chan os.Signal, 1)
		signal.Notify(sigchan, syscall.SIGINT, syscall.SIGTERM)
		<-sigchan
		log.Info("Shutdown signal received, gracefully shutting down...")
		cancel()
	}()

	// Blocks until shutdown and until timer-driven settlements have been credited
	controller.Run(ctx)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Stop(shutdownCtx); err != nil {
		log.Error("API server shutdown failed", zap.Error(err))
	}
	sim.Stop()
	if err := catalog.SavePrices(shutdownCtx, db, sim.Instruments()); err != nil {
		log.Error("Failed to save last prices", zap.Error(err))
	}
	if webhook != nil {
		webhook.Wait()
	}

	log.Info("Simulator has been shut down.")
}
