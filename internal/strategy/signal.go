package strategy

import (
	"errors"
	"fmt"

	"candlebot/internal/market"
)

// Decision is the outcome of one strategy evaluation. None is distinct from
// Hold: it means the window was too short to decide anything.
type Decision int8

const (
	None Decision = iota
	Hold
	Buy
	Sell
)

func (d Decision) String() string {
	switch d {
	case Hold:
		return "HOLD"
	case Buy:
		return "BUY"
	case Sell:
		return "SELL"
	default:
		return "NONE"
	}
}

// settlingMargin is added to the slowest indicator lookback so the last two
// rows used for crossover checks are fully defined.
const settlingMargin = 2

var ErrInsufficientData = errors.New("insufficient candle data")

type InsufficientDataError struct {
	Strategy string
	Have     int
	Need     int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("%s: %d candles, need %d", e.Strategy, e.Have, e.Need)
}

func (e *InsufficientDataError) Is(target error) bool {
	return target == ErrInsufficientData
}

type Signal struct {
	Decision   Decision
	Indicators map[string]float64
}

// Strategy turns a candle window into a Decision. Implementations must not
// mutate the window or touch trading state.
type Strategy interface {
	Name() string
	MinWindow() int
	Evaluate(candles []market.Candle) (Signal, error)
}

func insufficient(s Strategy, have int) (Signal, error) {
	return Signal{Decision: None}, &InsufficientDataError{Strategy: s.Name(), Have: have, Need: s.MinWindow()}
}

func lastTwo(series []float64) (float64, float64) {
	n := len(series)
	return series[n-2], series[n-1]
}
