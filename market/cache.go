package market

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"spotfolio/logger"
)

// PricePoint 一次价格观测
type PricePoint struct {
	Symbol     string    `json:"symbol"`
	Price      float64   `json:"price"`
	ObservedAt time.Time `json:"observed_at"`
}

// PriceCache 价格缓存，只做参考，不保证权威
//
// Get 返回任意时间的缓存值，新鲜度由调用方判断。
type PriceCache interface {
	Get(ctx context.Context, symbol string) (PricePoint, bool)
	Set(ctx context.Context, p PricePoint)
}

// MemoryPriceCache 进程内缓存
type MemoryPriceCache struct {
	mu     sync.RWMutex
	points map[string]PricePoint
}

func NewMemoryPriceCache() *MemoryPriceCache {
	return &MemoryPriceCache{points: make(map[string]PricePoint)}
}

func (c *MemoryPriceCache) Get(_ context.Context, symbol string) (PricePoint, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.points[symbol]
	return p, ok
}

func (c *MemoryPriceCache) Set(_ context.Context, p PricePoint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if old, ok := c.points[p.Symbol]; ok && old.ObservedAt.After(p.ObservedAt) {
		return
	}
	c.points[p.Symbol] = p
}

// Snapshot 当前缓存的全部价格
func (c *MemoryPriceCache) Snapshot() []PricePoint {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]PricePoint, 0, len(c.points))
	for _, p := range c.points {
		out = append(out, p)
	}
	return out
}

// RedisPriceCache 进程内缓存 + Redis 共享，多个查看器进程复用同一份价格
type RedisPriceCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	local  *MemoryPriceCache
}

// NewRedisPriceCache ttl 为 Redis 中的保留时间
func NewRedisPriceCache(client *redis.Client, prefix string, ttl time.Duration) *RedisPriceCache {
	return &RedisPriceCache{
		client: client,
		prefix: prefix,
		ttl:    ttl,
		local:  NewMemoryPriceCache(),
	}
}

// Get 取本地与 Redis 中较新的一个
func (c *RedisPriceCache) Get(ctx context.Context, symbol string) (PricePoint, bool) {
	local, okLocal := c.local.Get(ctx, symbol)

	data, err := c.client.Get(ctx, c.prefix+symbol).Bytes()
	if err != nil {
		if err != redis.Nil {
			logger.Debug("读取 Redis 价格缓存失败: %v", err)
		}
		return local, okLocal
	}
	var remote PricePoint
	if err := json.Unmarshal(data, &remote); err != nil {
		return local, okLocal
	}
	if !okLocal || remote.ObservedAt.After(local.ObservedAt) {
		c.local.Set(ctx, remote)
		return remote, true
	}
	return local, true
}

// Set 写本地并写穿到 Redis
func (c *RedisPriceCache) Set(ctx context.Context, p PricePoint) {
	c.local.Set(ctx, p)
	data, err := json.Marshal(p)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, c.prefix+p.Symbol, data, c.ttl).Err(); err != nil {
		logger.Debug("写入 Redis 价格缓存失败: %v", err)
	}
}

// Close 关闭 Redis 连接
func (c *RedisPriceCache) Close() error {
	return c.client.Close()
}
