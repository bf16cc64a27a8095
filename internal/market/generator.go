package market

import (
	"math"
	"math/rand/v2"
)

const (
	// DefaultPriceScale is the k multiplier applied to each perturbation.
	DefaultPriceScale = 2.0
	// DefaultMinPrice is the floor that keeps every price strictly positive.
	DefaultMinPrice = 0.0001
)

// Generator produces the next synthetic price for one instrument.
// It holds no per-instrument state, so a single value can serve every
// instrument concurrently.
type Generator struct {
	// K scales the perturbation: delta = (U - 0.5) * volatility * prev * K.
	K float64
	// MinPrice floors the result.
	MinPrice float64
	// Uniform returns U in [0, 1). It must be safe for concurrent use.
	Uniform func() float64
}

// NewGenerator returns a Generator backed by math/rand/v2.
func NewGenerator(k, minPrice float64) Generator {
	if k <= 0 {
		k = DefaultPriceScale
	}
	if minPrice <= 0 {
		minPrice = DefaultMinPrice
	}
	return Generator{K: k, MinPrice: minPrice, Uniform: rand.Float64}
}

// NextPrice applies one bounded random step to prev. The result is not rounded.
func (g Generator) NextPrice(prev, volatility float64) float64 {
	floor := g.MinPrice
	if floor <= 0 {
		floor = DefaultMinPrice
	}
	uniform := g.Uniform
	if uniform == nil {
		uniform = rand.Float64
	}

	delta := (uniform() - 0.5) * volatility * prev * g.K
	next := prev + delta
	if math.IsNaN(next) || math.IsInf(next, 0) || next < floor {
		return floor
	}
	return next
}
