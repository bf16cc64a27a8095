package settlement

import (
	"math"
	"math/rand/v2"

	"github.com/shopspring/decimal"

	"quicktrade-sim-go/internal/models"
	"quicktrade-sim-go/internal/outcome"
)

const (
	baseStakeFraction   = 0.10 // baseline P&L magnitude as a share of the stake
	jitterFraction      = 0.25 // jitter is +/- 25% of the baseline
	lossBaseFraction    = 0.30 // losses keep 30% of the baseline plus |jitter|
	fallbackMovePercent = 1.0  // price move used when amount or entry price is degenerate

	pnlPlaces   = 2
	pricePlaces = 5
)

var priceStep = decimal.New(1, -pricePlaces)

// Result is the computed close of a trade.
type Result struct {
	ExitPrice float64 `json:"exit_price"`
	PnL       float64 `json:"pnl"`
	IsProfit  bool    `json:"is_profit"`
}

// Engine turns an outcome into an exit price and P&L. It performs no I/O;
// the caller applies the balance delta.
type Engine struct {
	uniform func() float64
}

// NewEngine returns an Engine drawing jitter from math/rand/v2.
func NewEngine() *Engine {
	return &Engine{uniform: rand.Float64}
}

// NewEngineWithSource returns an Engine drawing jitter from uniform, which
// must return values in [0, 1).
func NewEngineWithSource(uniform func() float64) *Engine {
	return &Engine{uniform: uniform}
}

// Settle computes the exit price and P&L for a trade of amount at entryPrice.
// For a BUY, a profit moves the exit above the entry and a loss below it; a
// SELL inverts this. The result never contains NaN or Inf.
func (e *Engine) Settle(amount float64, side models.Side, entryPrice float64, o outcome.Outcome) Result {
	amount = finiteNonNegative(amount)
	entryPrice = finiteNonNegative(entryPrice)

	base := amount * baseStakeFraction
	jitter := (e.uniform()*2 - 1) * jitterFraction * base

	var pnl float64
	if o.IsProfit {
		pnl = base + jitter
	} else {
		pnl = -(base*lossBaseFraction + math.Abs(jitter))
	}
	pnlDec := decimal.NewFromFloat(pnl).Round(pnlPlaces)

	movePercent := fallbackMovePercent
	if amount > 0 && entryPrice > 0 {
		movePercent = math.Abs(pnlDec.InexactFloat64()) / amount
	}

	up := (side == models.SideBuy) == o.IsProfit
	return Result{
		ExitPrice: exitPrice(entryPrice, movePercent, up),
		PnL:       pnlDec.InexactFloat64(),
		IsProfit:  o.IsProfit,
	}
}

// exitPrice moves entry by movePercent in the given direction and rounds to
// five places, keeping the exit strictly on the requested side of entry.
func exitPrice(entry, movePercent float64, up bool) float64 {
	if entry <= 0 {
		return 0
	}
	factor := movePercent / 100
	if !up {
		factor = -factor
	}

	entryDec := decimal.NewFromFloat(entry)
	exit := decimal.NewFromFloat(entry * (1 + factor)).Round(pricePlaces)

	if up && !exit.GreaterThan(entryDec) {
		exit = entryDec.RoundFloor(pricePlaces).Add(priceStep)
	}
	if !up && !exit.LessThan(entryDec) {
		exit = entryDec.RoundCeil(pricePlaces).Sub(priceStep)
		if exit.IsNegative() {
			exit = decimal.Zero
		}
	}
	return exit.InexactFloat64()
}

func finiteNonNegative(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0
	}
	return v
}
