package calculator

import (
	"errors"
	"fmt"

	"StockOracle/internal/model"
)

// TradingYear is the number of daily bars in roughly one calendar year.
const TradingYear = 252

// ErrShortSeries is returned when a window needs more bars than are stored.
var ErrShortSeries = errors.New("series shorter than window")

// neutralRSI is reported while the window cannot be filled or nothing moved.
const neutralRSI = 50.0

// SMA averages the trailing period values.
func SMA(values []float64, period int) (float64, error) {
	if period <= 0 {
		return 0, fmt.Errorf("sma period %d: must be positive", period)
	}
	if len(values) < period {
		return 0, fmt.Errorf("sma(%d) over %d values: %w", period, len(values), ErrShortSeries)
	}
	var sum float64
	for _, v := range values[len(values)-period:] {
		sum += v
	}
	return sum / float64(period), nil
}

// RSI is Wilder's relative strength index of the closes. The first period
// changes seed the averages; every later change is smoothed in.
func RSI(closes []float64, period int) (float64, error) {
	if period <= 0 {
		return 0, fmt.Errorf("rsi period %d: must be positive", period)
	}
	if len(closes) <= period {
		return neutralRSI, nil
	}

	var up, down float64
	for i := 1; i < len(closes); i++ {
		gain, loss := 0.0, 0.0
		if d := closes[i] - closes[i-1]; d > 0 {
			gain = d
		} else {
			loss = -d
		}
		if i <= period {
			up += gain / float64(period)
			down += loss / float64(period)
			continue
		}
		up = (up*float64(period-1) + gain) / float64(period)
		down = (down*float64(period-1) + loss) / float64(period)
	}

	switch {
	case up == 0 && down == 0:
		return neutralRSI, nil
	case down == 0:
		return 100, nil
	}
	return 100 - 100/(1+up/down), nil
}

// HighLow returns the highest high and lowest low of the trailing lookback bars.
func HighLow(bars []model.PricePoint, lookback int) (high, low float64, err error) {
	if lookback <= 0 {
		return 0, 0, fmt.Errorf("range lookback %d: must be positive", lookback)
	}
	if len(bars) == 0 {
		return 0, 0, fmt.Errorf("range over empty series: %w", ErrShortSeries)
	}
	if len(bars) > lookback {
		bars = bars[len(bars)-lookback:]
	}
	high, low = bars[0].High, bars[0].Low
	for _, b := range bars[1:] {
		high = max(high, b.High)
		low = min(low, b.Low)
	}
	return high, low, nil
}

// Position places v inside [low, high] as a fraction clamped to 0..1. A
// degenerate range reports the midpoint.
func Position(v, high, low float64) float64 {
	if high <= low {
		return 0.5
	}
	return min(max((v-low)/(high-low), 0), 1)
}
