package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"StockOracle/internal/model"

	"github.com/go-redis/redis/v8"
)

// RedisCache shares predictions between processes. Each symbol is one hash
// (prediction:{SYMBOL}) with a field per horizon; the whole hash expires
// ttl after the last write.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache connects and pings the server.
func NewRedisCache(ctx context.Context, opts *redis.Options, ttl time.Duration) (*RedisCache, error) {
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect redis %s: %w", opts.Addr, err)
	}
	return &RedisCache{client: client, ttl: ttl}, nil
}

func redisKey(symbol string) string { return "prediction:" + symbol }

func (c *RedisCache) Get(ctx context.Context, symbol string, horizon int) (*model.Prediction, bool, error) {
	raw, err := c.client.HGet(ctx, redisKey(symbol), strconv.Itoa(horizon)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis hget %s: %w", symbol, err)
	}
	var p model.Prediction
	if err := json.Unmarshal(raw, &p); err != nil {
		// a stale or foreign value is a miss
		return nil, false, nil
	}
	return &p, true, nil
}

func (c *RedisCache) Put(ctx context.Context, p *model.Prediction) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode prediction: %w", err)
	}
	k := redisKey(p.Symbol)
	pipe := c.client.TxPipeline()
	pipe.HSet(ctx, k, strconv.Itoa(p.HorizonDays), raw)
	if c.ttl > 0 {
		pipe.Expire(ctx, k, c.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis put %s: %w", p.Symbol, err)
	}
	return nil
}

func (c *RedisCache) Invalidate(ctx context.Context, symbol string) error {
	if err := c.client.Del(ctx, redisKey(symbol)).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", symbol, err)
	}
	return nil
}

func (c *RedisCache) Close() error { return c.client.Close() }
