// Package indicator computes technical indicators over float series.
// Every function returns a slice aligned with its input; positions where the
// indicator is not yet defined hold NaN.
package indicator

import "math"

func nanSlice(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}

// EMA is the recursive exponential moving average seeded with the first value
// (alpha = 2 / (span + 1)).
func EMA(values []float64, span int) []float64 {
	out := nanSlice(len(values))
	if len(values) == 0 || span < 1 {
		return out
	}
	alpha := 2 / (float64(span) + 1)
	out[0] = values[0]
	for i := 1; i < len(values); i++ {
		out[i] = alpha*values[i] + (1-alpha)*out[i-1]
	}
	return out
}

// SMA is the rolling mean over window values.
func SMA(values []float64, window int) []float64 {
	out := nanSlice(len(values))
	if window < 1 {
		return out
	}
	sum := 0.0
	for i, v := range values {
		sum += v
		if i >= window {
			sum -= values[i-window]
		}
		if i >= window-1 {
			out[i] = sum / float64(window)
		}
	}
	return out
}

// StdDev is the rolling sample standard deviation.
func StdDev(values []float64, window int) []float64 {
	out := nanSlice(len(values))
	if window < 2 {
		return out
	}
	for i := window - 1; i < len(values); i++ {
		mean := 0.0
		for _, v := range values[i-window+1 : i+1] {
			mean += v
		}
		mean /= float64(window)
		variance := 0.0
		for _, v := range values[i-window+1 : i+1] {
			variance += (v - mean) * (v - mean)
		}
		out[i] = math.Sqrt(variance / float64(window-1))
	}
	return out
}

// RSI uses simple rolling means of gains and losses. Undefined values are
// forward filled, and leading gaps default to the neutral 50.
func RSI(values []float64, period int) []float64 {
	out := nanSlice(len(values))
	if period < 1 || len(values) == 0 {
		return out
	}
	gains := make([]float64, len(values))
	losses := make([]float64, len(values))
	for i := 1; i < len(values); i++ {
		d := values[i] - values[i-1]
		if d > 0 {
			gains[i] = d
		} else {
			losses[i] = -d
		}
	}
	for i := period; i < len(values); i++ {
		g, l := 0.0, 0.0
		for j := i - period + 1; j <= i; j++ {
			g += gains[j]
			l += losses[j]
		}
		switch {
		case l == 0 && g == 0:
		case l == 0:
			out[i] = 100
		default:
			out[i] = 100 - 100/(1+g/l)
		}
	}
	last := math.NaN()
	for i := range out {
		if math.IsNaN(out[i]) {
			if math.IsNaN(last) {
				out[i] = 50
			} else {
				out[i] = last
			}
			continue
		}
		last = out[i]
	}
	return out
}

// MACD returns the MACD line (fast EMA minus slow EMA) and its signal EMA.
func MACD(values []float64, fast, slow, signal int) ([]float64, []float64) {
	fastEMA := EMA(values, fast)
	slowEMA := EMA(values, slow)
	line := make([]float64, len(values))
	for i := range values {
		line[i] = fastEMA[i] - slowEMA[i]
	}
	return line, EMA(line, signal)
}

// VWAP is the cumulative volume weighted average of closes.
func VWAP(closes, volumes []float64) []float64 {
	out := nanSlice(len(closes))
	pv, vol := 0.0, 0.0
	for i := range closes {
		pv += closes[i] * volumes[i]
		vol += volumes[i]
		if vol > 0 {
			out[i] = pv / vol
		}
	}
	return out
}

// TrueRange is undefined for the first bar.
func TrueRange(high, low, close []float64) []float64 {
	out := nanSlice(len(close))
	for i := 1; i < len(close); i++ {
		out[i] = math.Max(high[i]-low[i], math.Max(math.Abs(high[i]-close[i-1]), math.Abs(low[i]-close[i-1])))
	}
	return out
}

// ATR is the rolling mean of the true range.
func ATR(high, low, close []float64, period int) []float64 {
	out := nanSlice(len(close))
	if period < 1 {
		return out
	}
	tr := TrueRange(high, low, close)
	for i := period; i < len(close); i++ {
		sum := 0.0
		for _, v := range tr[i-period+1 : i+1] {
			sum += v
		}
		out[i] = sum / float64(period)
	}
	return out
}

// Vortex returns the positive and negative vortex indicator lines.
func Vortex(high, low, close []float64, period int) ([]float64, []float64) {
	plus := nanSlice(len(close))
	minus := nanSlice(len(close))
	if period < 1 {
		return plus, minus
	}
	tr := TrueRange(high, low, close)
	for i := period; i < len(close); i++ {
		var vmPlus, vmMinus, trSum float64
		for j := i - period + 1; j <= i; j++ {
			vmPlus += math.Abs(high[j] - low[j-1])
			vmMinus += math.Abs(low[j] - high[j-1])
			trSum += tr[j]
		}
		if trSum == 0 {
			continue
		}
		plus[i] = vmPlus / trSum
		minus[i] = vmMinus / trSum
	}
	return plus, minus
}

// TrailingStop is the ATR trailing stop used by UT Bot alerts.
func TrailingStop(close, atr []float64, multiplier float64) []float64 {
	out := nanSlice(len(close))
	for i := range close {
		if math.IsNaN(atr[i]) {
			continue
		}
		loss := multiplier * atr[i]
		prev := out[max(i-1, 0)]
		if i == 0 || math.IsNaN(prev) {
			out[i] = close[i] - loss
			continue
		}
		switch {
		case close[i] > prev && close[i-1] > prev:
			out[i] = math.Max(prev, close[i]-loss)
		case close[i] < prev && close[i-1] < prev:
			out[i] = math.Min(prev, close[i]+loss)
		case close[i] > prev:
			out[i] = close[i] - loss
		default:
			out[i] = close[i] + loss
		}
	}
	return out
}

// Last returns the last value of series or NaN when empty.
func Last(series []float64) float64 {
	if len(series) == 0 {
		return math.NaN()
	}
	return series[len(series)-1]
}

// Defined reports whether every value is a number.
func Defined(values ...float64) bool {
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
