package model

// Indicators holds descriptive statistics over a stored series.
type Indicators struct {
	Symbol   string
	Last     float64
	SMA20    float64
	SMA50    float64
	RSI14    float64
	High     float64 // highest high over the trailing year of bars
	Low      float64
	Position float64 // 0.0 ~ 1.0 within [Low, High]
}
