// Package indicator implements technical indicators over chronological
// close series. Inputs are always oldest-first; callers convert from the
// wire's newest-first order explicitly.
package indicator

import "math"

// round2 rounds to two decimal places (표시 자릿수).
func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// RSI computes Wilder's smoothed RSI over chronological closes.
// Returns nil with fewer than period+1 closes. An all-gain window returns
// exactly 100.
func RSI(closes []float64, period int) *float64 {
	if period <= 0 || len(closes) < period+1 {
		return nil
	}

	deltas := make([]float64, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		deltas[i-1] = closes[i] - closes[i-1]
	}

	var avgGain, avgLoss float64
	for _, d := range deltas[:period] {
		if d > 0 {
			avgGain += d
		} else {
			avgLoss += -d
		}
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)

	// Wilder smoothing over the remainder
	for _, d := range deltas[period:] {
		var gain, loss float64
		if d > 0 {
			gain = d
		} else {
			loss = -d
		}
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
	}

	if avgLoss == 0 {
		v := 100.0
		return &v
	}

	rs := avgGain / avgLoss
	v := round2(100 - 100/(1+rs))
	return &v
}

// SMA returns the simple moving average of the last period values, or nil
// when the series is too short.
func SMA(values []float64, period int) *float64 {
	if period <= 0 || len(values) < period {
		return nil
	}

	var sum float64
	for _, v := range values[len(values)-period:] {
		sum += v
	}
	v := round2(sum / float64(period))
	return &v
}

// PEG returns PER divided by EPS growth rate. Defined only when both inputs
// exist and growth is strictly positive; otherwise nil (음수 성장률에는
// 의미가 없다).
func PEG(per float64, epsGrowth *float64) *float64 {
	if per == 0 || epsGrowth == nil || *epsGrowth <= 0 {
		return nil
	}
	v := round2(per / *epsGrowth)
	return &v
}
