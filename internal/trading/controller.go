package trading

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"quicktrade-sim-go/internal/config"
	"quicktrade-sim-go/internal/ledger"
	"quicktrade-sim-go/internal/models"
	"quicktrade-sim-go/internal/outcome"
	"quicktrade-sim-go/internal/settlement"
)

// closedRetention is how long a fully settled trade stays in memory.
const closedRetention = 5 * time.Minute

// Config tunes the lifecycle controller.
type Config struct {
	DefaultDuration time.Duration
	MaxDuration     time.Duration
	SweepInterval   time.Duration
	CreditRetries   int
	CreditBackoff   time.Duration
}

// ConfigFrom converts the trading section of the application config.
func ConfigFrom(cfg config.Trading) Config {
	return Config{
		DefaultDuration: time.Duration(cfg.DefaultDuration) * time.Second,
		MaxDuration:     time.Duration(cfg.MaxDuration) * time.Second,
		SweepInterval:   time.Duration(cfg.SweepIntervalMs) * time.Millisecond,
		CreditRetries:   cfg.CreditRetries,
		CreditBackoff:   time.Duration(cfg.CreditBackoffMs) * time.Millisecond,
	}
}

// OpenParams describes a trade request.
type OpenParams struct {
	UserID string
	Symbol string
	Side   models.Side
	Amount float64
	// Duration of zero selects the configured default.
	Duration   time.Duration
	TakeProfit *float64
	StopLoss   *float64
}

// Controller drives trades from Open to Closed. Two paths can close a trade,
// the per-trade timer and the expiry sweep; both go through Settle, and only
// the first caller performs the settlement.
type Controller struct {
	logger   *zap.Logger
	cfg      Config
	quotes   QuoteSource
	decider  *outcome.Decider
	engine   *settlement.Engine
	ledger   Ledger
	store    TradeStore
	notifier Notifier

	now   func() time.Time
	newID func() string

	// openMu serialises the balance check and the stake debit.
	openMu sync.Mutex

	mu        sync.Mutex
	trades    map[string]*models.Trade
	timers    map[string]*time.Timer
	crediting map[string]bool
	stopping  bool

	// inflight counts armed timers and timer-driven settlements.
	inflight sync.WaitGroup
}

// NewController wires a controller. A nil notifier disables notifications.
func NewController(
	logger *zap.Logger,
	cfg Config,
	quotes QuoteSource,
	decider *outcome.Decider,
	engine *settlement.Engine,
	ledger Ledger,
	store TradeStore,
	notifier Notifier,
) *Controller {
	if cfg.CreditRetries < 1 {
		cfg.CreditRetries = 1
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Second
	}
	if notifier == nil {
		notifier = nopNotifier{}
	}
	return &Controller{
		logger:    logger.Named("trading"),
		cfg:       cfg,
		quotes:    quotes,
		decider:   decider,
		engine:    engine,
		ledger:    ledger,
		store:     store,
		notifier:  notifier,
		now:       func() time.Time { return time.Now().UTC() },
		newID:     uuid.NewString,
		trades:    make(map[string]*models.Trade),
		timers:    make(map[string]*time.Timer),
		crediting: make(map[string]bool),
	}
}

func (c *Controller) validate(p *OpenParams) error {
	if p.UserID == "" {
		return ErrMissingUser
	}
	if !p.Side.Valid() {
		return ErrInvalidSide
	}
	if math.IsNaN(p.Amount) || math.IsInf(p.Amount, 0) || p.Amount <= 0 {
		return ErrInvalidAmount
	}
	if p.Duration == 0 {
		p.Duration = c.cfg.DefaultDuration
	}
	if p.Duration <= 0 || (c.cfg.MaxDuration > 0 && p.Duration > c.cfg.MaxDuration) {
		return fmt.Errorf("%w: %s", ErrInvalidDuration, p.Duration)
	}
	return nil
}

// Open validates the request, snapshots the entry price, reserves the stake and
// schedules settlement after the trade's duration.
func (c *Controller) Open(ctx context.Context, p OpenParams) (models.Trade, error) {
	if err := c.validate(&p); err != nil {
		return models.Trade{}, err
	}
	quote, ok := c.quotes.Quote(p.Symbol)
	if !ok {
		return models.Trade{}, fmt.Errorf("%w: %s", ErrUnknownInstrument, p.Symbol)
	}
	if !(quote.Last > 0) {
		return models.Trade{}, fmt.Errorf("%w: %s", ErrNoQuote, p.Symbol)
	}

	trade := &models.Trade{
		ID:              c.newID(),
		UserID:          p.UserID,
		Symbol:          p.Symbol,
		Side:            p.Side,
		Amount:          p.Amount,
		EntryPrice:      quote.Last,
		TakeProfit:      p.TakeProfit,
		StopLoss:        p.StopLoss,
		DurationSeconds: p.Duration.Seconds(),
		Status:          models.TradeStatusOpen,
	}

	l := c.logger.With(
		zap.String("trade_id", trade.ID),
		zap.String("user_id", p.UserID),
		zap.String("symbol", p.Symbol),
		zap.String("side", string(p.Side)),
		zap.Float64("amount", p.Amount),
	)

	c.openMu.Lock()
	balance, err := c.ledger.TradableBalance(ctx, p.UserID)
	if err != nil {
		c.openMu.Unlock()
		return models.Trade{}, fmt.Errorf("could not read tradable balance: %w", err)
	}
	if p.Amount > balance {
		c.openMu.Unlock()
		return models.Trade{}, fmt.Errorf("%w: amount %.2f, balance %.2f", ErrInsufficientBalance, p.Amount, balance)
	}
	if err := c.ledger.DebitStake(ctx, p.UserID, trade.ID, p.Amount); err != nil {
		c.openMu.Unlock()
		return models.Trade{}, fmt.Errorf("could not reserve stake: %w", err)
	}
	c.openMu.Unlock()

	// The open row is written before the timer exists, so no closing write
	// can land ahead of it.
	trade.OpenedAt = c.now()
	snapshot := trade.Clone()
	c.persist(ctx, &snapshot)

	c.mu.Lock()
	c.trades[trade.ID] = trade
	c.scheduleLocked(trade)
	c.mu.Unlock()

	l.Info("Trade opened",
		zap.Float64("entry_price", snapshot.EntryPrice),
		zap.Duration("duration", snapshot.Duration()))

	c.notifier.TradeOpened(ctx, snapshot)
	return snapshot, nil
}

// scheduleLocked arms the per-trade timer. Trades already past their expiry are
// left to the sweep, and nothing is armed once Run is shutting down. c.mu must
// be held.
func (c *Controller) scheduleLocked(trade *models.Trade) {
	remaining := trade.Remaining(c.now())
	if remaining <= 0 || c.stopping {
		return
	}
	id := trade.ID
	c.inflight.Add(1)
	c.timers[id] = time.AfterFunc(remaining, func() {
		defer c.inflight.Done()
		if _, err := c.Settle(context.Background(), id); err != nil {
			c.logger.Error("Scheduled settlement failed", zap.String("trade_id", id), zap.Error(err))
		}
	})
}

func (c *Controller) stopTimerLocked(id string) {
	if timer, ok := c.timers[id]; ok {
		// A timer that already fired releases inflight from its own callback.
		if timer.Stop() {
			c.inflight.Done()
		}
		delete(c.timers, id)
	}
}

// Settle performs the Open -> Settling -> Closed transition for an expired
// trade. It reports false without side effects when the trade is no longer
// open, which makes it safe for the timer and the sweep to race.
func (c *Controller) Settle(ctx context.Context, id string) (bool, error) {
	c.mu.Lock()
	trade, ok := c.trades[id]
	if !ok {
		c.mu.Unlock()
		return false, ErrTradeNotFound
	}
	if trade.Status != models.TradeStatusOpen {
		c.mu.Unlock()
		return false, nil
	}
	trade.Status = models.TradeStatusSettling
	c.stopTimerLocked(id)
	amount, side, entry := trade.Amount, trade.Side, trade.EntryPrice
	c.mu.Unlock()

	verdict := c.decider.Decide()
	result := c.engine.Settle(amount, side, entry, verdict)

	c.mu.Lock()
	trade.Close(result.ExitPrice, result.PnL, result.IsProfit, c.now(), models.CloseReasonExpired)
	trade.OutcomeSequence = verdict.Sequence
	trade.MagnitudePercent = verdict.MagnitudePercent
	trade.CreditStatus = models.CreditStatusPending
	c.crediting[id] = true
	snapshot := trade.Clone()
	c.mu.Unlock()

	c.logger.Info("Trade settled",
		zap.String("trade_id", id),
		zap.Uint64("decision", verdict.Sequence),
		zap.Bool("is_profit", result.IsProfit),
		zap.Float64("exit_price", result.ExitPrice),
		zap.Float64("pnl", result.PnL))

	c.persist(ctx, &snapshot)
	final := c.creditWithRetry(ctx, id, c.cfg.CreditRetries)
	c.notifier.TradeClosed(ctx, final)
	return true, nil
}

// Cancel closes an open trade early and refunds the full stake without P&L.
// No outcome slot is consumed. Cancelling a closed trade returns it unchanged,
// including one already dropped from memory.
func (c *Controller) Cancel(ctx context.Context, id string) (models.Trade, error) {
	c.mu.Lock()
	trade, ok := c.trades[id]
	if !ok {
		c.mu.Unlock()
		return c.closedFromStore(ctx, id)
	}
	if trade.Status != models.TradeStatusOpen {
		snapshot := trade.Clone()
		c.mu.Unlock()
		return snapshot, nil
	}
	c.stopTimerLocked(id)
	exit := trade.EntryPrice
	if q, ok := c.quotes.Quote(trade.Symbol); ok && q.Last > 0 {
		exit = q.Last
	}
	trade.Close(exit, 0, false, c.now(), models.CloseReasonCancelled)
	trade.CreditStatus = models.CreditStatusPending
	c.crediting[id] = true
	snapshot := trade.Clone()
	c.mu.Unlock()

	c.logger.Info("Trade cancelled", zap.String("trade_id", id), zap.String("user_id", snapshot.UserID))

	c.persist(ctx, &snapshot)
	final := c.creditWithRetry(ctx, id, c.cfg.CreditRetries)
	c.notifier.TradeClosed(ctx, final)
	return final, nil
}

// closedFromStore looks up a trade that is no longer tracked. Only a closed
// row counts; anything else was never opened by this controller.
func (c *Controller) closedFromStore(ctx context.Context, id string) (models.Trade, error) {
	if c.store == nil {
		return models.Trade{}, ErrTradeNotFound
	}
	trade, err := c.store.GetTrade(ctx, id)
	if err != nil {
		if !errors.Is(err, ledger.ErrTradeNotFound) {
			c.logger.Error("Failed to load trade", zap.String("trade_id", id), zap.Error(err))
		}
		return models.Trade{}, ErrTradeNotFound
	}
	if trade.Status != models.TradeStatusClosed {
		return models.Trade{}, ErrTradeNotFound
	}
	return trade, nil
}

// creditWithRetry applies the closed trade's balance movement. The caller must
// have set c.crediting[id]. If every attempt fails the trade keeps
// CreditStatusPending and the sweep retries it later.
func (c *Controller) creditWithRetry(ctx context.Context, id string, attempts int) models.Trade {
	c.mu.Lock()
	trade := c.trades[id]
	userID, stake := trade.UserID, trade.Amount
	pnl := 0.0
	if trade.PnL != nil {
		pnl = *trade.PnL
	}
	c.mu.Unlock()

	l := c.logger.With(zap.String("trade_id", id), zap.String("user_id", userID))

	var err error
	applied := false
retry:
	for i := 0; i < attempts; i++ {
		if err = c.ledger.ApplyBalanceDelta(ctx, userID, id, stake, pnl); err == nil {
			applied = true
			break
		}
		if i == attempts-1 {
			break
		}
		// Exponential backoff: base, 2*base, 4*base...
		wait := time.Duration(math.Pow(2, float64(i))) * c.cfg.CreditBackoff
		l.Warn("Balance credit failed, retrying...",
			zap.Int("attempt", i+1),
			zap.Duration("retry_after", wait),
			zap.Error(err))
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			err = ctx.Err()
			break retry
		}
	}

	c.mu.Lock()
	if applied {
		trade.CreditStatus = models.CreditStatusApplied
	}
	delete(c.crediting, id)
	snapshot := trade.Clone()
	c.mu.Unlock()

	if applied {
		l.Info("Balance credited", zap.Float64("stake", stake), zap.Float64("pnl", pnl))
		c.persist(ctx, &snapshot)
	} else {
		l.Error("Balance credit failed, queued for retry",
			zap.Float64("stake", stake), zap.Float64("pnl", pnl), zap.Error(err))
	}
	return snapshot
}

func (c *Controller) persist(ctx context.Context, trade *models.Trade) {
	if c.store == nil {
		return
	}
	if err := c.store.PersistTrade(ctx, trade); err != nil {
		// The in-memory state stays authoritative; the next transition writes again.
		c.logger.Error("Failed to persist trade", zap.String("trade_id", trade.ID), zap.Error(err))
	}
}

// Sweep force-settles open trades whose duration has elapsed, retries queued
// credits and drops long-settled trades from memory.
func (c *Controller) Sweep(ctx context.Context) {
	now := c.now()

	var expired, pending []string
	c.mu.Lock()
	for id, t := range c.trades {
		switch {
		case t.Status == models.TradeStatusOpen && t.Remaining(now) <= 0:
			expired = append(expired, id)
		case t.Status == models.TradeStatusClosed && t.CreditStatus == models.CreditStatusPending && !c.crediting[id]:
			c.crediting[id] = true
			pending = append(pending, id)
		case t.Status == models.TradeStatusClosed && t.CreditStatus == models.CreditStatusApplied &&
			t.ClosedAt != nil && now.Sub(*t.ClosedAt) > closedRetention:
			delete(c.trades, id)
		}
	}
	c.mu.Unlock()

	sort.Strings(expired)
	for _, id := range expired {
		settled, err := c.Settle(ctx, id)
		if err != nil {
			c.logger.Error("Expiry sweep failed to settle trade", zap.String("trade_id", id), zap.Error(err))
			continue
		}
		if settled {
			c.logger.Warn("Expiry sweep force-closed trade", zap.String("trade_id", id))
		}
	}
	for _, id := range pending {
		final := c.creditWithRetry(ctx, id, 1)
		if final.CreditStatus == models.CreditStatusApplied {
			c.logger.Info("Queued credit applied", zap.String("trade_id", id))
		}
	}
}

// Run calls Sweep on every sweep interval until ctx is cancelled. On the way
// out it disarms the remaining timers and waits for settlements their timers
// already started, so every closed trade is credited before Run returns.
func (c *Controller) Run(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.SweepInterval)
	defer ticker.Stop()

	c.logger.Info("Starting expiry sweep", zap.Duration("interval", c.cfg.SweepInterval))
	for {
		select {
		case <-ctx.Done():
			c.logger.Info("Stopping expiry sweep...")
			c.mu.Lock()
			c.stopping = true
			c.mu.Unlock()
			c.stopTimers()
			c.inflight.Wait()
			c.logger.Info("Expiry sweep stopped")
			return
		case <-ticker.C:
			c.Sweep(ctx)
		}
	}
}

func (c *Controller) stopTimers() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id := range c.timers {
		c.stopTimerLocked(id)
	}
}

// Restore reloads trades an earlier process left unfinished. Open trades get a
// fresh timer for their remaining time; expired ones settle on the next sweep.
// Trades caught mid-settlement go back to Open.
func (c *Controller) Restore(ctx context.Context) (int, error) {
	if c.store == nil {
		return 0, nil
	}
	trades, err := c.store.UnfinishedTrades(ctx)
	if err != nil {
		return 0, fmt.Errorf("could not load unfinished trades: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	restored := 0
	for i := range trades {
		t := trades[i].Clone()
		if _, exists := c.trades[t.ID]; exists {
			continue
		}
		if t.Status == models.TradeStatusSettling {
			t.Status = models.TradeStatusOpen
		}
		c.trades[t.ID] = &t
		if t.Status == models.TradeStatusOpen {
			c.scheduleLocked(&t)
		}
		restored++
	}
	c.logger.Info("Restored unfinished trades", zap.Int("count", restored))
	return restored, nil
}

// Trade returns a copy of a tracked trade.
func (c *Controller) Trade(id string) (models.Trade, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.trades[id]
	if !ok {
		return models.Trade{}, false
	}
	return t.Clone(), true
}

// Trades returns copies of the user's tracked trades, oldest first.
func (c *Controller) Trades(userID string) []models.Trade {
	c.mu.Lock()
	out := make([]models.Trade, 0)
	for _, t := range c.trades {
		if userID == "" || t.UserID == userID {
			out = append(out, t.Clone())
		}
	}
	c.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].OpenedAt.Before(out[j].OpenedAt) })
	return out
}

// OpenCount returns the number of trades awaiting settlement.
func (c *Controller) OpenCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.trades {
		if t.Status != models.TradeStatusClosed {
			n++
		}
	}
	return n
}

// Decisions returns how many win/loss decisions have been made.
func (c *Controller) Decisions() uint64 {
	return c.decider.Count()
}
