package trading

import "errors"

// Validation errors returned by Open. None of them leaves any state behind.
var (
	ErrInvalidAmount       = errors.New("amount must be a positive number")
	ErrInsufficientBalance = errors.New("amount exceeds tradable balance")
	ErrUnknownInstrument   = errors.New("unknown instrument")
	ErrNoQuote             = errors.New("no usable quote for instrument")
	ErrInvalidSide         = errors.New("side must be BUY or SELL")
	ErrInvalidDuration     = errors.New("duration out of range")
	ErrMissingUser         = errors.New("user id is required")
)

// ErrTradeNotFound is returned for ids the controller does not track.
var ErrTradeNotFound = errors.New("trade not found")
