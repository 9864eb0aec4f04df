package cache

import (
	"context"
	"time"

	"StockOracle/internal/model"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

type key struct {
	Symbol  string
	Horizon int
}

// MemoryCache is a size-bounded in-process cache whose entries expire after
// a fixed TTL.
type MemoryCache struct {
	lru *expirable.LRU[key, model.Prediction]
}

func NewMemoryCache(size int, ttl time.Duration) *MemoryCache {
	if size <= 0 {
		size = 256
	}
	return &MemoryCache{lru: expirable.NewLRU[key, model.Prediction](size, nil, ttl)}
}

func (c *MemoryCache) Get(_ context.Context, symbol string, horizon int) (*model.Prediction, bool, error) {
	p, ok := c.lru.Get(key{symbol, horizon})
	if !ok {
		return nil, false, nil
	}
	return &p, true, nil
}

func (c *MemoryCache) Put(_ context.Context, p *model.Prediction) error {
	c.lru.Add(key{p.Symbol, p.HorizonDays}, *p)
	return nil
}

func (c *MemoryCache) Invalidate(_ context.Context, symbol string) error {
	for _, k := range c.lru.Keys() {
		if k.Symbol == symbol {
			c.lru.Remove(k)
		}
	}
	return nil
}

// Len reports the number of live entries.
func (c *MemoryCache) Len() int { return c.lru.Len() }

func (c *MemoryCache) Close() error {
	c.lru.Purge()
	return nil
}
