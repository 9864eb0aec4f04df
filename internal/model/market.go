package model

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// PricePoint is a single OHLCV bar for one symbol.
type PricePoint struct {
	Symbol string    `json:"symbol"`
	Time   time.Time `json:"time"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// Validate checks the bar invariants: close > 0, high >= low, finite values,
// non-negative volume and a set timestamp.
func (p PricePoint) Validate() error {
	fail := func(format string, args ...interface{}) error {
		return &ValidationError{Symbol: p.Symbol, Time: p.Time, Reason: fmt.Sprintf(format, args...)}
	}
	if p.Symbol == "" {
		return fail("empty symbol")
	}
	if p.Time.IsZero() {
		return fail("missing timestamp")
	}
	for _, f := range []struct {
		name string
		v    float64
	}{{"open", p.Open}, {"high", p.High}, {"low", p.Low}, {"close", p.Close}, {"volume", p.Volume}} {
		if math.IsNaN(f.v) || math.IsInf(f.v, 0) {
			return fail("%s is not finite", f.name)
		}
	}
	if p.Close <= 0 {
		return fail("close %.4f must be positive", p.Close)
	}
	if p.High < p.Low {
		return fail("high %.4f below low %.4f", p.High, p.Low)
	}
	if p.Volume < 0 {
		return fail("negative volume %.0f", p.Volume)
	}
	return nil
}

// SameValues reports whether both bars carry identical OHLCV fields.
func (p PricePoint) SameValues(o PricePoint) bool {
	return p.Open == o.Open && p.High == o.High && p.Low == o.Low &&
		p.Close == o.Close && p.Volume == o.Volume
}

// Series is the stored, ascending, duplicate-free history of one symbol.
type Series struct {
	Symbol string
	Points []PricePoint
}

func (s Series) Len() int { return len(s.Points) }

// Closes extracts the close prices in order.
func (s Series) Closes() []float64 {
	closes := make([]float64, len(s.Points))
	for i, p := range s.Points {
		closes[i] = p.Close
	}
	return closes
}

// Last returns the most recent bar, if any.
func (s Series) Last() (PricePoint, bool) {
	if len(s.Points) == 0 {
		return PricePoint{}, false
	}
	return s.Points[len(s.Points)-1], true
}

// FetchBatch is the transient result of one provider fetch.
type FetchBatch struct {
	ID        string
	Symbol    string
	Source    string
	Interval  string
	FetchedAt time.Time
	Points    []PricePoint
	Anomalies int // rows dropped while parsing
}

// SymbolInfo is one entry of a provider's symbol catalogue.
type SymbolInfo struct {
	Symbol   string `json:"symbol"`
	Name     string `json:"name"`
	Exchange string `json:"exchange"`
}

// DayStart truncates t to 00:00 UTC of its calendar day.
func DayStart(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// NormalizeSymbol trims and upper-cases a ticker.
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}
