package market

import (
	"errors"
	"fmt"
	"time"
)

// ErrDataFetch marks market data that could not be obtained this cycle.
var ErrDataFetch = errors.New("market data unavailable")

type Candle struct {
	OpenTime time.Time `msgpack:"t" json:"open_time"`
	Open     float64   `msgpack:"o" json:"open"`
	High     float64   `msgpack:"h" json:"high"`
	Low      float64   `msgpack:"l" json:"low"`
	Close    float64   `msgpack:"c" json:"close"`
	Volume   float64   `msgpack:"v" json:"volume"`
}

// Validate reports whether candles are ordered by strictly increasing open
// time. Gaps are allowed.
func Validate(candles []Candle) error {
	for i := 1; i < len(candles); i++ {
		if !candles[i].OpenTime.After(candles[i-1].OpenTime) {
			return fmt.Errorf("candle %d at %s is not after %s", i, candles[i].OpenTime.UTC().Format(time.RFC3339), candles[i-1].OpenTime.UTC().Format(time.RFC3339))
		}
	}
	return nil
}

func Closes(candles []Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out
}

func Highs(candles []Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.High
	}
	return out
}

func Lows(candles []Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Low
	}
	return out
}

func Volumes(candles []Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Volume
	}
	return out
}

// Tail returns a copy of the last n candles.
func Tail(candles []Candle, n int) []Candle {
	if n <= 0 || n > len(candles) {
		n = len(candles)
	}
	out := make([]Candle, n)
	copy(out, candles[len(candles)-n:])
	return out
}
