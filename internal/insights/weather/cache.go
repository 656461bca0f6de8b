package weather

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"k8s.io/utils/clock"

	"github.com/barnapet/smartdrive/internal/pkg/metrics"
	"github.com/barnapet/smartdrive/pkg/log"
)

// ErrMiss is returned by a KVStore for absent or expired keys.
var ErrMiss = errors.New("cache miss")

// KVStore is the minimal key-value surface the cache needs.
type KVStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
}

// RedisKV stores cache entries in Redis with native expiry.
type RedisKV struct {
	c *redis.Client
}

func NewRedisKV(c *redis.Client) *RedisKV { return &RedisKV{c: c} }

func (r *RedisKV) Get(ctx context.Context, key string) (string, error) {
	val, err := r.c.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrMiss
		}
		return "", err
	}
	return val, nil
}

func (r *RedisKV) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return r.c.Set(ctx, key, value, ttl).Err()
}

type memoryItem struct {
	value   string
	expires time.Time
}

// MemoryKV is an in-process KVStore for single-replica deployments and tests.
type MemoryKV struct {
	clock clock.PassiveClock

	mu    sync.Mutex
	items map[string]memoryItem
}

func NewMemoryKV(clk clock.PassiveClock) *MemoryKV {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &MemoryKV{clock: clk, items: map[string]memoryItem{}}
}

func (m *MemoryKV) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	item, ok := m.items[key]
	if !ok {
		return "", ErrMiss
	}
	if !item.expires.IsZero() && !m.clock.Now().Before(item.expires) {
		delete(m.items, key)
		return "", ErrMiss
	}
	return item.value, nil
}

func (m *MemoryKV) Set(_ context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	item := memoryItem{value: value}
	if ttl > 0 {
		item.expires = m.clock.Now().Add(ttl)
	}
	m.items[key] = item
	return nil
}

// Cache is a Provider decorator. Locations are rounded to two decimals
// (about 1 km) so nearby vehicles share entries.
type Cache struct {
	next Provider
	kv   KVStore
	ttl  time.Duration
}

var _ Provider = (*Cache)(nil)

func NewCache(next Provider, kv KVStore, ttl time.Duration) *Cache {
	return &Cache{next: next, kv: kv, ttl: ttl}
}

func (c *Cache) Temperature(ctx context.Context, lat, lon float64) (float64, error) {
	return c.lookup(ctx, "current", lat, lon, c.next.Temperature)
}

func (c *Cache) ForecastMin(ctx context.Context, lat, lon float64) (float64, error) {
	return c.lookup(ctx, "forecast-min", lat, lon, c.next.ForecastMin)
}

func cacheKey(kind string, lat, lon float64) string {
	return fmt.Sprintf("weather:%s:%.2f:%.2f", kind, lat, lon)
}

func (c *Cache) lookup(ctx context.Context, kind string, lat, lon float64,
	fetch func(context.Context, float64, float64) (float64, error),
) (float64, error) {
	key := cacheKey(kind, lat, lon)

	raw, err := c.kv.Get(ctx, key)
	switch {
	case err == nil:
		if v, perr := strconv.ParseFloat(raw, 64); perr == nil {
			metrics.WeatherCacheTotal.WithLabelValues("hit").Inc()
			return v, nil
		}
		log.Warn("Discarding unreadable weather cache entry", "key", key)
	case !errors.Is(err, ErrMiss):
		log.Warn("Weather cache read failed", "key", key, "error", err.Error())
	}
	metrics.WeatherCacheTotal.WithLabelValues("miss").Inc()

	v, err := fetch(ctx, lat, lon)
	if err != nil {
		return 0, err
	}
	if err := c.kv.Set(ctx, key, strconv.FormatFloat(v, 'f', -1, 64), c.ttl); err != nil {
		log.Warn("Weather cache write failed", "key", key, "error", err.Error())
	}
	return v, nil
}
