package models

import (
	"strings"
	"time"
)

// Instrument is a tradable symbol with a synthetic price series.
// Rows are seeded once from the catalog and never deleted during a run.
type Instrument struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	Symbol       string    `gorm:"uniqueIndex;not null" json:"symbol"`
	Name         string    `json:"name"`
	BasePrice    float64   `gorm:"not null" json:"base_price"`
	CurrentPrice float64   `json:"current_price"`
	Spread       float64   `json:"spread"`
	Volatility   float64   `json:"volatility"`
	SortOrder    int       `json:"-"`
	CreatedAt    time.Time `json:"-"`
}

// Precision returns the display precision: 2 decimals for JPY-quoted pairs, 4 otherwise.
func (i Instrument) Precision() int {
	return PrecisionFor(i.Symbol)
}

// PrecisionFor derives the display precision from a symbol.
func PrecisionFor(symbol string) int {
	if strings.Contains(strings.ToUpper(symbol), "JPY") {
		return 2
	}
	return 4
}

// StartPrice is the price the simulation starts from.
func (i Instrument) StartPrice() float64 {
	if i.CurrentPrice > 0 {
		return i.CurrentPrice
	}
	return i.BasePrice
}
