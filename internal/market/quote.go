package market

import (
	"math"
	"time"

	"github.com/shopspring/decimal"

	"quicktrade-sim-go/internal/models"
)

// Direction is the movement of the last price versus the previous tick.
type Direction string

const (
	DirectionUp      Direction = "up"
	DirectionDown    Direction = "down"
	DirectionNeutral Direction = "neutral"
)

// directionEpsilon is the tie threshold under which a move counts as neutral.
const directionEpsilon = 1e-5

// Quote is the current bid/ask/last snapshot for an instrument.
type Quote struct {
	InstrumentID  uint      `json:"instrument_id"`
	Symbol        string    `json:"symbol"`
	Last          float64   `json:"last"`
	Bid           float64   `json:"bid"`
	Ask           float64   `json:"ask"`
	Spread        float64   `json:"spread"`
	Change        float64   `json:"change"`
	ChangePercent float64   `json:"change_percent"`
	Direction     Direction `json:"direction"`
	Precision     int       `json:"precision"`
	Timestamp     time.Time `json:"timestamp"`
}

// DisplayQuote is a Quote rendered at the instrument's display precision.
type DisplayQuote struct {
	Symbol        string    `json:"symbol"`
	Last          string    `json:"last"`
	Bid           string    `json:"bid"`
	Ask           string    `json:"ask"`
	ChangePercent string    `json:"change_percent"`
	Direction     Direction `json:"direction"`
	Timestamp     time.Time `json:"timestamp"`
}

func newQuote(inst models.Instrument, last float64, at time.Time) Quote {
	q := Quote{
		InstrumentID: inst.ID,
		Symbol:       inst.Symbol,
		Spread:       inst.Spread,
		Direction:    DirectionNeutral,
		Precision:    inst.Precision(),
		Timestamp:    at,
	}
	q.setLast(last)
	return q
}

func (q *Quote) setLast(last float64) {
	q.Last = last
	q.Bid = last - q.Spread/2
	q.Ask = last + q.Spread/2
}

// advance returns the quote that follows q when the last price moves to next.
func (q Quote) advance(next float64, at time.Time) Quote {
	prev := q.Last
	q.setLast(next)
	q.Change = next - prev
	if prev != 0 {
		q.ChangePercent = q.Change / prev * 100
	} else {
		q.ChangePercent = 0
	}
	switch {
	case math.Abs(q.Change) < directionEpsilon:
		q.Direction = DirectionNeutral
	case q.Change > 0:
		q.Direction = DirectionUp
	default:
		q.Direction = DirectionDown
	}
	q.Timestamp = at
	return q
}

// Display rounds the quote for presentation.
func (q Quote) Display() DisplayQuote {
	places := int32(q.Precision)
	return DisplayQuote{
		Symbol:        q.Symbol,
		Last:          decimal.NewFromFloat(q.Last).StringFixed(places),
		Bid:           decimal.NewFromFloat(q.Bid).StringFixed(places),
		Ask:           decimal.NewFromFloat(q.Ask).StringFixed(places),
		ChangePercent: decimal.NewFromFloat(q.ChangePercent).StringFixed(2),
		Direction:     q.Direction,
		Timestamp:     q.Timestamp,
	}
}
