package position

import "math"

// UnrealizedPct is the sign-sensitive return of price against entry, in
// percent.
func UnrealizedPct(entry, price float64) float64 {
	if entry <= 0 {
		return 0
	}
	return (price - entry) / entry * 100
}

// LossGate reports whether a discretionary exit at pnlPct may proceed. A
// negative acceptable value only allows exits at or above break even;
// otherwise losses down to -acceptable are accepted.
func LossGate(acceptable, pnlPct float64) bool {
	floor := -acceptable
	if acceptable < 0 {
		floor = 0
	}
	return pnlPct >= floor
}

func stopLossHit(s State, price, stopLoss float64, trailing bool) bool {
	ref := s.EntryPrice
	if trailing && s.HighWaterMark > ref {
		ref = s.HighWaterMark
	}
	return UnrealizedPct(ref, price) <= -stopLoss
}

// roundDown truncates qty to the given number of decimals so orders never
// exceed what is held or affordable.
func roundDown(qty float64, decimals int) float64 {
	scale := math.Pow10(decimals)
	// absorb float noise such as 0.3/0.1*0.1 before truncating
	return math.Floor(qty*scale+1e-9) / scale
}
