package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"StockOracle/internal/model"
)

// MemoryStore keeps series in process memory. It is used when no database
// path is configured and as the store behind most tests.
type MemoryStore struct {
	mu     sync.RWMutex
	series map[string][]model.PricePoint
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{series: make(map[string][]model.PricePoint)}
}

func (m *MemoryStore) Upsert(ctx context.Context, symbol string, points []model.PricePoint) (*model.UpsertResult, error) {
	valid, rejected := prepareBatch(symbol, points)
	res := &model.UpsertResult{Rejected: rejected}
	if len(valid) == 0 {
		return res, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// Merge into a copy and swap it in at the end so a cancelled batch leaves
	// the published series untouched.
	cur := m.series[symbol]
	next := make([]model.PricePoint, len(cur), len(cur)+len(valid))
	copy(next, cur)
	index := make(map[int64]int, len(next))
	for i, p := range next {
		index[p.Time.Unix()] = i
	}

	for _, p := range valid {
		i, ok := index[p.Time.Unix()]
		switch {
		case !ok:
			index[p.Time.Unix()] = len(next)
			next = append(next, p)
			res.Inserted++
		case next[i].SameValues(p):
		default:
			next[i] = p
			res.Updated++
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("upsert %s: %w", symbol, err)
	}
	sort.Slice(next, func(i, j int) bool { return next[i].Time.Before(next[j].Time) })
	m.series[symbol] = next
	return res, nil
}

func (m *MemoryStore) Read(_ context.Context, symbol string, from, to time.Time) ([]model.PricePoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := []model.PricePoint{}
	for _, p := range m.series[symbol] {
		if !from.IsZero() && p.Time.Before(from) {
			continue
		}
		if !to.IsZero() && p.Time.After(to) {
			break
		}
		out = append(out, p)
	}
	return out, nil
}

func (m *MemoryStore) Tail(_ context.Context, symbol string, n int) ([]model.PricePoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := m.series[symbol]
	if n <= 0 {
		return []model.PricePoint{}, nil
	}
	if n > len(s) {
		n = len(s)
	}
	out := make([]model.PricePoint, n)
	copy(out, s[len(s)-n:])
	return out, nil
}

func (m *MemoryStore) LatestTimestamp(_ context.Context, symbol string) (time.Time, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := m.series[symbol]
	if len(s) == 0 {
		return time.Time{}, false, nil
	}
	return s[len(s)-1].Time, true, nil
}

func (m *MemoryStore) Symbols(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]string, 0, len(m.series))
	for sym, s := range m.series {
		if len(s) > 0 {
			out = append(out, sym)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (m *MemoryStore) Close() error { return nil }
