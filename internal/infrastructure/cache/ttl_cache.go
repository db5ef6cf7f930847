package cache

import (
	"context"
	"sync"
	"time"
)

// Loader 缓存未命中时的回源函数
type Loader[K comparable, V any] func(ctx context.Context, key K) (V, error)

// TTLCache 带过期时间的进程内缓存
//
// 每个条目记录 (value, fetchedAt)，超过 ttl 视为过期；回源失败时不写入缓存。
// 作为显式依赖注入使用，不做包级全局变量
type TTLCache[K comparable, V any] struct {
	mu      sync.RWMutex
	entries map[K]ttlEntry[V]
	ttl     time.Duration
	loader  Loader[K, V]
	now     func() time.Time
}

type ttlEntry[V any] struct {
	value     V
	fetchedAt time.Time
}

func NewTTLCache[K comparable, V any](ttl time.Duration, loader Loader[K, V]) *TTLCache[K, V] {
	return &TTLCache[K, V]{
		entries: make(map[K]ttlEntry[V]),
		ttl:     ttl,
		loader:  loader,
		now:     time.Now,
	}
}

// Get 只读缓存，不回源；过期条目视为未命中
func (c *TTLCache[K, V]) Get(key K) (V, bool) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok || c.expired(entry) {
		var zero V
		return zero, false
	}
	return entry.value, true
}

// GetOrLoad 命中直接返回，否则回源并写入缓存
func (c *TTLCache[K, V]) GetOrLoad(ctx context.Context, key K) (V, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}
	return c.Refresh(ctx, key)
}

// Refresh 强制回源并覆盖缓存
func (c *TTLCache[K, V]) Refresh(ctx context.Context, key K) (V, error) {
	v, err := c.loader(ctx, key)
	if err != nil {
		var zero V
		return zero, err
	}

	c.mu.Lock()
	c.entries[key] = ttlEntry[V]{value: v, fetchedAt: c.now()}
	c.mu.Unlock()
	return v, nil
}

// Set 直接写入（已从其他渠道拿到权威值时使用）
func (c *TTLCache[K, V]) Set(key K, v V) {
	c.mu.Lock()
	c.entries[key] = ttlEntry[V]{value: v, fetchedAt: c.now()}
	c.mu.Unlock()
}

func (c *TTLCache[K, V]) Invalidate(key K) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

func (c *TTLCache[K, V]) InvalidateAll() {
	c.mu.Lock()
	c.entries = make(map[K]ttlEntry[V])
	c.mu.Unlock()
}

// FetchedAt 条目的写入时间，不存在时返回零值
func (c *TTLCache[K, V]) FetchedAt(key K) (time.Time, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[key]
	return entry.fetchedAt, ok
}

func (c *TTLCache[K, V]) expired(entry ttlEntry[V]) bool {
	return c.ttl > 0 && c.now().Sub(entry.fetchedAt) >= c.ttl
}
