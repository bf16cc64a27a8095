// Package catalog supplies the fixed instrument universe the simulator trades.
package catalog

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"quicktrade-sim-go/internal/config"
	"quicktrade-sim-go/internal/models"
)

// ErrEmpty is returned when no instrument can be loaded. Without instruments
// there is nothing to simulate, so callers treat it as fatal.
var ErrEmpty = errors.New("catalog: no instruments")

// Default returns the built-in universe: FX majors and crosses, crypto pairs and commodities.
func Default() []models.Instrument {
	return []models.Instrument{
		{Symbol: "EUR/USD", Name: "Euro / US Dollar", BasePrice: 1.0850, Spread: 0.0008, Volatility: 0.0001},
		{Symbol: "GBP/USD", Name: "British Pound / US Dollar", BasePrice: 1.2650, Spread: 0.0010, Volatility: 0.00012},
		{Symbol: "USD/JPY", Name: "US Dollar / Japanese Yen", BasePrice: 151.20, Spread: 0.02, Volatility: 0.0001},
		{Symbol: "EUR/JPY", Name: "Euro / Japanese Yen", BasePrice: 164.10, Spread: 0.03, Volatility: 0.00012},
		{Symbol: "AUD/USD", Name: "Australian Dollar / US Dollar", BasePrice: 0.6580, Spread: 0.0008, Volatility: 0.00015},
		{Symbol: "USD/CHF", Name: "US Dollar / Swiss Franc", BasePrice: 0.9050, Spread: 0.0009, Volatility: 0.0001},
		{Symbol: "BTC/USD", Name: "Bitcoin / US Dollar", BasePrice: 64000, Spread: 15, Volatility: 0.0015},
		{Symbol: "ETH/USD", Name: "Ethereum / US Dollar", BasePrice: 3100, Spread: 1.2, Volatility: 0.0018},
		{Symbol: "XAU/USD", Name: "Gold", BasePrice: 2350, Spread: 0.5, Volatility: 0.0004},
		{Symbol: "WTI/USD", Name: "Crude Oil WTI", BasePrice: 78.40, Spread: 0.04, Volatility: 0.0006},
	}
}

// FromConfig converts config entries into instruments. Entries without a
// symbol or a positive base price are skipped.
func FromConfig(entries []config.Instrument) []models.Instrument {
	out := make([]models.Instrument, 0, len(entries))
	for _, e := range entries {
		if e.Symbol == "" || e.BasePrice <= 0 {
			continue
		}
		out = append(out, models.Instrument{
			Symbol:     e.Symbol,
			Name:       e.Name,
			BasePrice:  e.BasePrice,
			Spread:     e.Spread,
			Volatility: e.Volatility,
		})
	}
	return out
}

// Load seeds the instruments table with seed (creating only missing symbols)
// and returns every stored instrument in catalog order.
func Load(ctx context.Context, db *gorm.DB, seed []models.Instrument) ([]models.Instrument, error) {
	for i, inst := range seed {
		inst.SortOrder = i
		inst.CurrentPrice = inst.BasePrice
		if err := db.WithContext(ctx).
			Where(models.Instrument{Symbol: inst.Symbol}).
			FirstOrCreate(&inst).Error; err != nil {
			return nil, fmt.Errorf("failed to seed instrument '%s': %w", inst.Symbol, err)
		}
	}

	var instruments []models.Instrument
	if err := db.WithContext(ctx).Order("sort_order, id").Find(&instruments).Error; err != nil {
		return nil, fmt.Errorf("failed to load instruments: %w", err)
	}
	if len(instruments) == 0 {
		return nil, ErrEmpty
	}
	return instruments, nil
}

// SavePrices records the latest simulated price of each instrument so a
// restart resumes from where the previous run stopped.
func SavePrices(ctx context.Context, db *gorm.DB, instruments []models.Instrument) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, inst := range instruments {
			if err := tx.Model(&models.Instrument{}).
				Where("symbol = ?", inst.Symbol).
				Update("current_price", inst.CurrentPrice).Error; err != nil {
				return fmt.Errorf("failed to save price for '%s': %w", inst.Symbol, err)
			}
		}
		return nil
	})
}
