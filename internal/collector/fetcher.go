package collector

import (
	"context"
	"net/http"
	"sort"
	"time"

	"StockOracle/internal/model"
)

// Fetcher pulls a window of bars for one symbol from a market-data provider.
// Returned points are ascending and lie within [from, to].
type Fetcher interface {
	Fetch(ctx context.Context, symbol string, from, to time.Time) (*model.FetchBatch, error)
	Name() string
}

// SymbolLister is implemented by providers that publish a symbol catalogue.
type SymbolLister interface {
	ListSymbols(ctx context.Context) ([]model.SymbolInfo, error)
}

// Options configures the HTTP-backed providers.
type Options struct {
	BaseURL    string
	SymbolsURL string
	APIKey     string
	Interval   string
	Proxy      string

	Timeout         time.Duration
	MinInterval     time.Duration
	MaxAttempts     int
	BackoffBase     time.Duration
	BackoffMax      time.Duration
	BreakerFailures uint32
	BreakerCooldown time.Duration

	// Client overrides the proxy-aware default client.
	Client *http.Client
}

func filterWindow(points []model.PricePoint, from, to time.Time) []model.PricePoint {
	out := points[:0]
	for _, p := range points {
		if !from.IsZero() && p.Time.Before(from) {
			continue
		}
		if !to.IsZero() && p.Time.After(to) {
			continue
		}
		out = append(out, p)
	}
	return out
}

// isDailyOrLonger reports whether bars of this interval are date-stamped.
func isDailyOrLonger(interval string) bool {
	switch interval {
	case "1day", "1week", "1month", "1d", "1wk", "1mo":
		return true
	}
	return false
}

func sortPoints(points []model.PricePoint) {
	sort.SliceStable(points, func(i, j int) bool { return points[i].Time.Before(points[j].Time) })
}
