package cache

import (
	"container/list"
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/yohan-kwon/kquant-core/internal/types"
)

// entry is one keyspace slot. expiresAt.IsZero() means no TTL. lruElem
// points at this key's node in the LRU list so touch() is O(1).
type entry struct {
	value     interface{}
	expiresAt time.Time
	sizeBytes int64
	lruElem   *list.Element
}

// MemoryCache is the in-process Cache implementation: a mutex-guarded map
// with TTL-priority-then-LRU eviction against a configurable memory
// budget. Used when config.CacheConfig.RedisAddr is unset, and in tests.
type MemoryCache struct {
	mu     sync.Mutex
	data   map[string]*entry
	lru    *list.List // front = most recently used
	budget int64

	evictedTTL uint64
	evictedLRU uint64

	stopCh chan struct{}
	once   sync.Once
}

// NewMemoryCache builds an in-process cache bounded to budgetBytes total
// approximate size, started with its own background eviction sweep.
func NewMemoryCache(budgetBytes int64) *MemoryCache {
	if budgetBytes <= 0 {
		budgetBytes = DefaultMemoryBudgetBytes
	}
	c := &MemoryCache{
		data:   make(map[string]*entry),
		lru:    list.New(),
		budget: budgetBytes,
		stopCh: make(chan struct{}),
	}
	go c.evictionLoop()
	return c
}

func (c *MemoryCache) evictionLoop() {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.mu.Lock()
			c.evictExpiredLocked()
			c.evictLRULocked()
			c.mu.Unlock()
		}
	}
}

func (c *MemoryCache) evictExpiredLocked() {
	now := time.Now()
	for key, e := range c.data {
		if !e.expiresAt.IsZero() && now.After(e.expiresAt) {
			c.removeLocked(key)
			c.evictedTTL++
		}
	}
}

func (c *MemoryCache) evictLRULocked() {
	total := c.totalBytesLocked()
	for total > c.budget && c.lru.Len() > 0 {
		back := c.lru.Back()
		key := back.Value.(string)
		c.removeLocked(key)
		c.evictedLRU++
		total = c.totalBytesLocked()
	}
}

func (c *MemoryCache) totalBytesLocked() int64 {
	var total int64
	for _, e := range c.data {
		total += e.sizeBytes
	}
	return total
}

func (c *MemoryCache) removeLocked(key string) {
	e, ok := c.data[key]
	if !ok {
		return
	}
	if e.lruElem != nil {
		c.lru.Remove(e.lruElem)
	}
	delete(c.data, key)
}

// set writes value at key with ttl (zero = no expiry), touching LRU
// order and recomputing approximate size in the same critical section so
// the write is atomic per key.
func (c *MemoryCache) set(key string, value interface{}, ttl time.Duration) error {
	size := approxSize(value)

	c.mu.Lock()
	defer c.mu.Unlock()

	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl)
	}

	e, exists := c.data[key]
	if exists {
		e.value = value
		e.expiresAt = expiresAt
		e.sizeBytes = size
		c.lru.MoveToFront(e.lruElem)
	} else {
		e = &entry{value: value, expiresAt: expiresAt, sizeBytes: size}
		e.lruElem = c.lru.PushFront(key)
		c.data[key] = e
	}

	c.evictExpiredLocked()
	c.evictLRULocked()
	return nil
}

func (c *MemoryCache) get(key string) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.data[key]
	if !ok {
		return nil, false
	}
	if !e.expiresAt.IsZero() && time.Now().After(e.expiresAt) {
		c.removeLocked(key)
		c.evictedTTL++
		return nil, false
	}
	c.lru.MoveToFront(e.lruElem)
	return e.value, true
}

func approxSize(v interface{}) int64 {
	b, err := json.Marshal(v)
	if err != nil {
		return 64
	}
	return int64(len(b))
}

func (c *MemoryCache) SetMarketTick(_ context.Context, symbol string, tick types.MarketTick) error {
	return c.set(MarketKey(symbol), tick, MarketTTL)
}

func (c *MemoryCache) GetMarketTick(_ context.Context, symbol string) (types.MarketTick, bool, error) {
	v, ok := c.get(MarketKey(symbol))
	if !ok {
		return types.MarketTick{}, false, nil
	}
	return v.(types.MarketTick), true, nil
}

// PushCandle inserts candle at the ring head and trims to cap within the
// same locked critical section — bounded push+trim, not push-then-trim.
func (c *MemoryCache) PushCandle(_ context.Context, symbol, interval string, candle types.Candle, capN int) error {
	if capN <= 0 {
		capN = DefaultRingCap
	}
	key := CandlesKey(symbol, interval)

	c.mu.Lock()
	defer c.mu.Unlock()

	var ring []types.Candle
	if e, ok := c.data[key]; ok {
		ring = e.value.([]types.Candle)
	}
	ring = append([]types.Candle{candle}, ring...)
	if len(ring) > capN {
		ring = ring[:capN]
	}

	size := approxSize(ring)
	if e, ok := c.data[key]; ok {
		e.value = ring
		e.sizeBytes = size
		c.lru.MoveToFront(e.lruElem)
	} else {
		e := &entry{value: ring, sizeBytes: size}
		e.lruElem = c.lru.PushFront(key)
		c.data[key] = e
	}
	return nil
}

func (c *MemoryCache) GetCandles(_ context.Context, symbol, interval string) ([]types.Candle, error) {
	v, ok := c.get(CandlesKey(symbol, interval))
	if !ok {
		return nil, nil
	}
	return v.([]types.Candle), nil
}

func (c *MemoryCache) SetIndicators(_ context.Context, symbol, interval string, snap types.IndicatorSnapshot) error {
	return c.set(IndicatorsKey(symbol, interval), snap, IndicatorTTL)
}

func (c *MemoryCache) GetIndicators(_ context.Context, symbol, interval string) (types.IndicatorSnapshot, bool, error) {
	v, ok := c.get(IndicatorsKey(symbol, interval))
	if !ok {
		return types.IndicatorSnapshot{}, false, nil
	}
	return v.(types.IndicatorSnapshot), true, nil
}

func (c *MemoryCache) SetPosition(_ context.Context, symbol string, pos types.Position) error {
	return c.set(PositionKey(symbol), pos, 0)
}

func (c *MemoryCache) GetPosition(_ context.Context, symbol string) (types.Position, bool, error) {
	v, ok := c.get(PositionKey(symbol))
	if !ok {
		return types.Position{}, false, nil
	}
	return v.(types.Position), true, nil
}

func (c *MemoryCache) AllPositions(_ context.Context) (map[string]types.Position, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]types.Position)
	for key, e := range c.data {
		if len(key) > 10 && key[:10] == "positions:" {
			if !e.expiresAt.IsZero() && time.Now().After(e.expiresAt) {
				continue
			}
			pos := e.value.(types.Position)
			out[pos.Symbol] = pos
		}
	}
	return out, nil
}

func (c *MemoryCache) PushTrade(_ context.Context, symbol string, fill types.Fill, capN int) error {
	if capN <= 0 {
		capN = TradesCap
	}
	key := TradesKey(symbol)

	c.mu.Lock()
	defer c.mu.Unlock()

	var trades []types.Fill
	if e, ok := c.data[key]; ok {
		trades = e.value.([]types.Fill)
	}
	trades = append([]types.Fill{fill}, trades...)
	if len(trades) > capN {
		trades = trades[:capN]
	}

	size := approxSize(trades)
	if e, ok := c.data[key]; ok {
		e.value = trades
		e.sizeBytes = size
		c.lru.MoveToFront(e.lruElem)
	} else {
		e := &entry{value: trades, sizeBytes: size}
		e.lruElem = c.lru.PushFront(key)
		c.data[key] = e
	}
	return nil
}

func (c *MemoryCache) GetTrades(_ context.Context, symbol string) ([]types.Fill, error) {
	v, ok := c.get(TradesKey(symbol))
	if !ok {
		return nil, nil
	}
	return v.([]types.Fill), nil
}

func queueKey(orderID string) string { return "queue:" + orderID }

func (c *MemoryCache) SetQueueState(_ context.Context, orderID string, order types.Order) error {
	return c.set(queueKey(orderID), order, 0)
}

func (c *MemoryCache) DeleteQueueState(_ context.Context, orderID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removeLocked(queueKey(orderID))
	return nil
}

func (c *MemoryCache) AllQueueState(_ context.Context) (map[string]types.Order, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]types.Order)
	for key, e := range c.data {
		if len(key) > 6 && key[:6] == "queue:" {
			o := e.value.(types.Order)
			out[o.ID] = o
		}
	}
	return out, nil
}

func (c *MemoryCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Entries:     len(c.data),
		EvictedTTL:  c.evictedTTL,
		EvictedLRU:  c.evictedLRU,
		ApproxBytes: c.totalBytesLocked(),
	}
}

func (c *MemoryCache) Close() error {
	c.once.Do(func() { close(c.stopCh) })
	return nil
}
