// Package ta computes the bar statistics handed to the decision provider.
package ta

import (
	"math"

	"llm-autotrader/internal/types"
)

// SMA is the simple moving average of the last n values, NaN when short.
func SMA(vals []float64, n int) float64 {
	if n <= 0 || len(vals) < n {
		return math.NaN()
	}
	sum := 0.0
	for _, v := range vals[len(vals)-n:] {
		sum += v
	}
	return sum / float64(n)
}

// RSI uses simple averages of gains and losses over period.
func RSI(closes []float64, period int) float64 {
	if period <= 0 || len(closes) < period+1 {
		return math.NaN()
	}
	gain, loss := 0.0, 0.0
	for i := len(closes) - period; i < len(closes); i++ {
		if d := closes[i] - closes[i-1]; d > 0 {
			gain += d
		} else {
			loss -= d
		}
	}
	if loss == 0 {
		return 100
	}
	rs := gain / loss
	return 100 - 100/(1+rs)
}

// ATR is the mean true range over period.
func ATR(bars []types.Candle, period int) float64 {
	if period <= 0 || len(bars) < period+1 {
		return math.NaN()
	}
	sum := 0.0
	for i := len(bars) - period; i < len(bars); i++ {
		prev := bars[i-1].Close
		tr := math.Max(bars[i].High-bars[i].Low,
			math.Max(math.Abs(bars[i].High-prev), math.Abs(bars[i].Low-prev)))
		sum += tr
	}
	return sum / float64(period)
}

// Summary is a compact view of a bar series. NaN fields mean too few bars.
type Summary struct {
	Bars      int     `json:"bars"`
	LastClose float64 `json:"last_close"`
	ChangePct float64 `json:"change_pct"`
	SMA20     float64 `json:"sma20"`
	RSI14     float64 `json:"rsi14"`
	ATR14     float64 `json:"atr14"`
}

func Summarize(bars []types.Candle) Summary {
	s := Summary{Bars: len(bars), SMA20: math.NaN(), RSI14: math.NaN(), ATR14: math.NaN()}
	if len(bars) == 0 {
		return s
	}
	closes := make([]float64, len(bars))
	for i, b := range bars {
		closes[i] = b.Close
	}
	s.LastClose = closes[len(closes)-1]
	if first := closes[0]; first > 0 {
		s.ChangePct = (s.LastClose - first) / first * 100
	}
	s.SMA20 = SMA(closes, 20)
	s.RSI14 = RSI(closes, 14)
	s.ATR14 = ATR(bars, 14)
	return s
}

// Map drops NaN fields so the summary serialises cleanly.
func (s Summary) Map() map[string]any {
	m := map[string]any{"bars": s.Bars, "last_close": s.LastClose, "change_pct": round2(s.ChangePct)}
	for k, v := range map[string]float64{"sma20": s.SMA20, "rsi14": s.RSI14, "atr14": s.ATR14} {
		if !math.IsNaN(v) {
			m[k] = round2(v)
		}
	}
	return m
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }
