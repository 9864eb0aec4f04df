package store

import (
	"context"
	"sort"
	"time"

	"StockOracle/internal/model"
)

// Store is durable, keyed storage of per-symbol price series.
type Store interface {
	// Upsert merges points into the symbol's series as one atomic batch.
	// Malformed points are rejected individually; the rest still apply.
	Upsert(ctx context.Context, symbol string, points []model.PricePoint) (*model.UpsertResult, error)
	// Read returns bars in [from, to] ascending. A zero bound is open.
	Read(ctx context.Context, symbol string, from, to time.Time) ([]model.PricePoint, error)
	// Tail returns the last n bars ascending.
	Tail(ctx context.Context, symbol string, n int) ([]model.PricePoint, error)
	LatestTimestamp(ctx context.Context, symbol string) (time.Time, bool, error)
	Symbols(ctx context.Context) ([]string, error)
	Close() error
}

// prepareBatch normalizes and validates an incoming batch. Points are
// truncated to whole seconds in UTC, duplicates collapse to the last one seen,
// and the result is sorted ascending.
func prepareBatch(symbol string, points []model.PricePoint) ([]model.PricePoint, []*model.ValidationError) {
	var rejected []*model.ValidationError
	byTime := make(map[int64]int, len(points))
	valid := make([]model.PricePoint, 0, len(points))

	for _, p := range points {
		if p.Symbol == "" {
			p.Symbol = symbol
		}
		p.Time = p.Time.UTC().Truncate(time.Second)
		if p.Symbol != symbol {
			rejected = append(rejected, &model.ValidationError{
				Symbol: p.Symbol, Time: p.Time, Reason: "symbol does not match batch " + symbol,
			})
			continue
		}
		if err := p.Validate(); err != nil {
			rejected = append(rejected, err.(*model.ValidationError))
			continue
		}
		key := p.Time.Unix()
		if i, ok := byTime[key]; ok {
			valid[i] = p
			continue
		}
		byTime[key] = len(valid)
		valid = append(valid, p)
	}

	sort.Slice(valid, func(i, j int) bool { return valid[i].Time.Before(valid[j].Time) })
	return valid, rejected
}
