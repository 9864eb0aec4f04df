package collector

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"StockOracle/internal/model"

	"github.com/google/uuid"
)

// MockFetcher returns controllable fixed data for development and testing.
// With Points unset it generates one deterministic bar per day across the
// requested window around Price.
type MockFetcher struct {
	Price  float64
	Points []model.PricePoint
	Err    error
	// Delay simulates a slow upstream; it honors ctx.
	Delay time.Duration

	mu    sync.Mutex
	calls atomic.Int64
	last  [2]time.Time
}

func (m *MockFetcher) Name() string { return "mock" }

// Calls reports how many times Fetch ran.
func (m *MockFetcher) Calls() int { return int(m.calls.Load()) }

// LastWindow returns the [from, to] of the most recent Fetch.
func (m *MockFetcher) LastWindow() (time.Time, time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last[0], m.last[1]
}

func (m *MockFetcher) Fetch(ctx context.Context, symbol string, from, to time.Time) (*model.FetchBatch, error) {
	m.calls.Add(1)
	m.mu.Lock()
	m.last = [2]time.Time{from, to}
	m.mu.Unlock()

	if err := sleepCtx(ctx, m.Delay); err != nil {
		return nil, err
	}
	if m.Err != nil {
		return nil, m.Err
	}

	var points []model.PricePoint
	if m.Points != nil {
		points = make([]model.PricePoint, 0, len(m.Points))
		for _, p := range m.Points {
			if p.Symbol == "" {
				p.Symbol = symbol
			}
			points = append(points, p)
		}
	} else {
		points = generateMockBars(symbol, m.Price, from, to)
	}

	return &model.FetchBatch{
		ID:        uuid.NewString(),
		Symbol:    symbol,
		Source:    m.Name(),
		Interval:  "1day",
		FetchedAt: time.Now().UTC(),
		Points:    points,
	}, nil
}

func generateMockBars(symbol string, basePrice float64, from, to time.Time) []model.PricePoint {
	if basePrice <= 0 {
		basePrice = 100
	}
	if to.IsZero() {
		to = time.Now()
	}
	if from.IsZero() {
		from = to.AddDate(0, 0, -30)
	}
	start, end := model.DayStart(from), model.DayStart(to)

	bars := []model.PricePoint{}
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		// price depends on the date only, so overlapping windows agree
		p := basePrice * (1 + float64(d.Unix()/86400%100)*0.001)
		bars = append(bars, model.PricePoint{
			Symbol: symbol,
			Time:   d,
			Open:   p * 0.999,
			High:   p * 1.005,
			Low:    p * 0.995,
			Close:  p,
			Volume: 1000000,
		})
	}
	return filterWindow(bars, from, to)
}
