// Package outcome decides whether a settled trade wins or loses.
//
// The scheme is scripted rather than fair: every third decision wins.
package outcome

import (
	"math/rand/v2"
	"sync"
)

const (
	winEvery = 3

	winMinPercent  = 70.0
	winMaxPercent  = 85.0
	lossMinPercent = 85.0
	lossMaxPercent = 100.0
)

// Outcome is the verdict for one trade.
type Outcome struct {
	// Sequence is the 1-based decision number that produced this outcome.
	Sequence uint64 `json:"sequence"`
	IsProfit bool   `json:"is_profit"`
	// MagnitudePercent is in [70, 85) for wins and [85, 100) for losses,
	// where it expresses loss severity.
	MagnitudePercent float64 `json:"magnitude_percent"`
}

// Decider owns the win/loss sequence cursor. Each Decide call consumes one
// slot of the cycle, so it must never be called speculatively.
type Decider struct {
	mu      sync.Mutex
	count   uint64
	uniform func() float64
}

// NewDecider returns a Decider starting at zero decisions.
func NewDecider() *Decider {
	return &Decider{uniform: rand.Float64}
}

// NewDeciderWithSource returns a Decider drawing magnitudes from uniform,
// which must return values in [0, 1).
func NewDeciderWithSource(uniform func() float64) *Decider {
	return &Decider{uniform: uniform}
}

// Decide increments the counter and returns the verdict for the new value.
func (d *Decider) Decide() Outcome {
	d.mu.Lock()
	d.count++
	n := d.count
	u := d.uniform()
	d.mu.Unlock()

	if n%winEvery == 0 {
		return Outcome{Sequence: n, IsProfit: true, MagnitudePercent: winMinPercent + u*(winMaxPercent-winMinPercent)}
	}
	return Outcome{Sequence: n, IsProfit: false, MagnitudePercent: lossMinPercent + u*(lossMaxPercent-lossMinPercent)}
}

// Count returns the number of decisions made so far.
func (d *Decider) Count() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.count
}

// Reset moves the cursor back to n decisions already made.
func (d *Decider) Reset(n uint64) {
	d.mu.Lock()
	d.count = n
	d.mu.Unlock()
}
