package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/yohan-kwon/kquant-core/internal/types"
)

// RedisCache backs the KV Cache with Redis when config.CacheConfig.RedisAddr
// is set. TTL eviction delegates to Redis itself; LRU ordering for the
// memory-budget policy's bookkeeping is tracked via a sorted set scored
// by last-access time, since Go code cannot see Redis's own heap.
type RedisCache struct {
	rdb       *redis.Client
	lruZSet   string
	evictedTTL uint64
}

// NewRedisCache connects to addr (expects "host:port").
func NewRedisCache(addr, password string, db int) *RedisCache {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &RedisCache{rdb: rdb, lruZSet: "lru:access"}
}

func (c *RedisCache) touch(ctx context.Context, key string) {
	c.rdb.ZAdd(ctx, c.lruZSet, redis.Z{Score: float64(time.Now().UnixNano()), Member: key})
}

func (c *RedisCache) setJSON(ctx context.Context, key string, v interface{}, ttl time.Duration) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if err := c.rdb.Set(ctx, key, b, ttl).Err(); err != nil {
		return err
	}
	c.touch(ctx, key)
	return nil
}

func (c *RedisCache) getJSON(ctx context.Context, key string, out interface{}) (bool, error) {
	b, err := c.rdb.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	c.touch(ctx, key)
	if err := json.Unmarshal(b, out); err != nil {
		return false, err
	}
	return true, nil
}

func (c *RedisCache) SetMarketTick(ctx context.Context, symbol string, tick types.MarketTick) error {
	return c.setJSON(ctx, MarketKey(symbol), tick, MarketTTL)
}

func (c *RedisCache) GetMarketTick(ctx context.Context, symbol string) (types.MarketTick, bool, error) {
	var tick types.MarketTick
	ok, err := c.getJSON(ctx, MarketKey(symbol), &tick)
	return tick, ok, err
}

// PushCandle uses a pipelined LPUSH+LTRIM so the ring's size cap is
// enforced atomically within one round trip, per spec's "bounded push +
// trim, not push-then-trim-later" requirement.
func (c *RedisCache) PushCandle(ctx context.Context, symbol, interval string, candle types.Candle, capN int) error {
	if capN <= 0 {
		capN = DefaultRingCap
	}
	key := CandlesKey(symbol, interval)
	b, err := json.Marshal(candle)
	if err != nil {
		return err
	}

	_, err = c.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, key, b)
		pipe.LTrim(ctx, key, 0, int64(capN)-1)
		return nil
	})
	if err != nil {
		return err
	}
	c.touch(ctx, key)
	return nil
}

func (c *RedisCache) GetCandles(ctx context.Context, symbol, interval string) ([]types.Candle, error) {
	key := CandlesKey(symbol, interval)
	raw, err := c.rdb.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, err
	}
	c.touch(ctx, key)

	candles := make([]types.Candle, 0, len(raw))
	for _, r := range raw {
		var cd types.Candle
		if err := json.Unmarshal([]byte(r), &cd); err != nil {
			continue
		}
		candles = append(candles, cd)
	}
	return candles, nil
}

func (c *RedisCache) SetIndicators(ctx context.Context, symbol, interval string, snap types.IndicatorSnapshot) error {
	return c.setJSON(ctx, IndicatorsKey(symbol, interval), snap, IndicatorTTL)
}

func (c *RedisCache) GetIndicators(ctx context.Context, symbol, interval string) (types.IndicatorSnapshot, bool, error) {
	var snap types.IndicatorSnapshot
	ok, err := c.getJSON(ctx, IndicatorsKey(symbol, interval), &snap)
	return snap, ok, err
}

func (c *RedisCache) SetPosition(ctx context.Context, symbol string, pos types.Position) error {
	if err := c.setJSON(ctx, PositionKey(symbol), pos, 0); err != nil {
		return err
	}
	return c.rdb.SAdd(ctx, "positions:index", symbol).Err()
}

func (c *RedisCache) GetPosition(ctx context.Context, symbol string) (types.Position, bool, error) {
	var pos types.Position
	ok, err := c.getJSON(ctx, PositionKey(symbol), &pos)
	return pos, ok, err
}

func (c *RedisCache) AllPositions(ctx context.Context) (map[string]types.Position, error) {
	symbols, err := c.rdb.SMembers(ctx, "positions:index").Result()
	if err != nil {
		return nil, err
	}
	out := make(map[string]types.Position, len(symbols))
	for _, s := range symbols {
		pos, ok, err := c.GetPosition(ctx, s)
		if err != nil {
			return nil, err
		}
		if ok {
			out[s] = pos
		}
	}
	return out, nil
}

func (c *RedisCache) PushTrade(ctx context.Context, symbol string, fill types.Fill, capN int) error {
	if capN <= 0 {
		capN = TradesCap
	}
	key := TradesKey(symbol)
	b, err := json.Marshal(fill)
	if err != nil {
		return err
	}
	_, err = c.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, key, b)
		pipe.LTrim(ctx, key, 0, int64(capN)-1)
		return nil
	})
	if err != nil {
		return err
	}
	c.touch(ctx, key)
	return nil
}

func (c *RedisCache) GetTrades(ctx context.Context, symbol string) ([]types.Fill, error) {
	key := TradesKey(symbol)
	raw, err := c.rdb.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, err
	}
	fills := make([]types.Fill, 0, len(raw))
	for _, r := range raw {
		var f types.Fill
		if err := json.Unmarshal([]byte(r), &f); err != nil {
			continue
		}
		fills = append(fills, f)
	}
	return fills, nil
}

func (c *RedisCache) SetQueueState(ctx context.Context, orderID string, order types.Order) error {
	if err := c.setJSON(ctx, queueKey(orderID), order, 0); err != nil {
		return err
	}
	return c.rdb.SAdd(ctx, "queue:index", orderID).Err()
}

func (c *RedisCache) DeleteQueueState(ctx context.Context, orderID string) error {
	c.rdb.SRem(ctx, "queue:index", orderID)
	return c.rdb.Del(ctx, queueKey(orderID)).Err()
}

func (c *RedisCache) AllQueueState(ctx context.Context) (map[string]types.Order, error) {
	ids, err := c.rdb.SMembers(ctx, "queue:index").Result()
	if err != nil {
		return nil, err
	}
	out := make(map[string]types.Order, len(ids))
	for _, id := range ids {
		var o types.Order
		ok, err := c.getJSON(ctx, queueKey(id), &o)
		if err != nil {
			return nil, err
		}
		if ok {
			out[id] = o
		}
	}
	return out, nil
}

func (c *RedisCache) Stats() Stats {
	ctx := context.Background()
	n, _ := c.rdb.ZCard(ctx, c.lruZSet).Result()
	return Stats{Entries: int(n), EvictedTTL: c.evictedTTL}
}

func (c *RedisCache) Close() error {
	return c.rdb.Close()
}
