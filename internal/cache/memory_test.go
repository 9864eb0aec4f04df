package cache

import (
	"context"
	"testing"
	"time"

	"StockOracle/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCache_PutGetInvalidate(t *testing.T) {
	c := NewMemoryCache(16, time.Minute)
	ctx := context.Background()

	_, ok, err := c.Get(ctx, "AAPL", 1)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Put(ctx, &model.Prediction{Symbol: "AAPL", HorizonDays: 1, ProjectedPrice: 101}))
	require.NoError(t, c.Put(ctx, &model.Prediction{Symbol: "AAPL", HorizonDays: 5, ProjectedPrice: 105}))
	require.NoError(t, c.Put(ctx, &model.Prediction{Symbol: "MSFT", HorizonDays: 1, ProjectedPrice: 301}))

	p, ok, err := c.Get(ctx, "AAPL", 5)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 105.0, p.ProjectedPrice)

	require.NoError(t, c.Invalidate(ctx, "AAPL"))
	_, ok, _ = c.Get(ctx, "AAPL", 1)
	assert.False(t, ok)
	_, ok, _ = c.Get(ctx, "AAPL", 5)
	assert.False(t, ok)
	_, ok, _ = c.Get(ctx, "MSFT", 1)
	assert.True(t, ok)
	assert.Equal(t, 1, c.Len())
}

func TestMemoryCache_ReturnsCopies(t *testing.T) {
	c := NewMemoryCache(4, time.Minute)
	ctx := context.Background()
	require.NoError(t, c.Put(ctx, &model.Prediction{Symbol: "AAPL", HorizonDays: 1, ProjectedPrice: 1}))

	p, _, _ := c.Get(ctx, "AAPL", 1)
	p.ProjectedPrice = 999
	again, _, _ := c.Get(ctx, "AAPL", 1)
	assert.Equal(t, 1.0, again.ProjectedPrice)
}

func TestMemoryCache_Expires(t *testing.T) {
	c := NewMemoryCache(4, 30*time.Millisecond)
	ctx := context.Background()
	require.NoError(t, c.Put(ctx, &model.Prediction{Symbol: "AAPL", HorizonDays: 1}))

	assert.Eventually(t, func() bool {
		_, ok, _ := c.Get(ctx, "AAPL", 1)
		return !ok
	}, time.Second, 10*time.Millisecond)
}

func TestMemoryCache_EvictsLeastRecent(t *testing.T) {
	c := NewMemoryCache(2, time.Minute)
	ctx := context.Background()
	for h := 1; h <= 3; h++ {
		require.NoError(t, c.Put(ctx, &model.Prediction{Symbol: "AAPL", HorizonDays: h}))
	}
	_, ok, _ := c.Get(ctx, "AAPL", 1)
	assert.False(t, ok)
	_, ok, _ = c.Get(ctx, "AAPL", 3)
	assert.True(t, ok)
}
