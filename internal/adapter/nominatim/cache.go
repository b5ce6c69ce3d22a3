package nominatim

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/couchcryptid/trackside-presence/internal/domain"
	"github.com/couchcryptid/trackside-presence/internal/observability"
)

// CachedGeocoder wraps a Geocoder with an in-memory LRU cache.
type CachedGeocoder struct {
	inner   domain.Geocoder
	cache   *lruCache
	metrics *observability.Metrics
}

// NewCachedGeocoder creates a cache decorator around a geocoder.
func NewCachedGeocoder(inner domain.Geocoder, maxEntries int, metrics *observability.Metrics) *CachedGeocoder {
	return &CachedGeocoder{
		inner:   inner,
		cache:   newLRUCache(maxEntries),
		metrics: metrics,
	}
}

func (c *CachedGeocoder) ReverseGeocode(ctx context.Context, lat, lon float64) (domain.Place, error) {
	key := fmt.Sprintf("rev:%.6f,%.6f", lat, lon)
	if place, ok := c.lookup(methodReverse, key); ok {
		return place, nil
	}
	place, err := c.inner.ReverseGeocode(ctx, lat, lon)
	if err != nil {
		return place, err
	}
	c.cache.put(key, place)
	return place, nil
}

func (c *CachedGeocoder) GeocodePostalCode(ctx context.Context, code string) (domain.Place, error) {
	key := "zip:" + strings.ToUpper(strings.TrimSpace(code))
	if place, ok := c.lookup(methodPostal, key); ok {
		return place, nil
	}
	place, err := c.inner.GeocodePostalCode(ctx, code)
	if err != nil {
		return place, err
	}
	c.cache.put(key, place)
	return place, nil
}

func (c *CachedGeocoder) lookup(method, key string) (domain.Place, bool) {
	place, ok := c.cache.get(key)
	if c.metrics != nil {
		result := "miss"
		if ok {
			result = "hit"
		}
		c.metrics.GeocodeCache.WithLabelValues(method, result).Inc()
	}
	return place, ok
}

// lruCache is a simple thread-safe LRU cache for geocoded places.
type lruCache struct {
	maxEntries int
	mu         sync.Mutex
	entries    map[string]*entry
	head       *entry // most recently used
	tail       *entry // least recently used
}

type entry struct {
	key   string
	value domain.Place
	prev  *entry
	next  *entry
}

func newLRUCache(maxEntries int) *lruCache {
	if maxEntries < 1 {
		maxEntries = 1
	}
	return &lruCache{
		maxEntries: maxEntries,
		entries:    make(map[string]*entry),
	}
}

func (c *lruCache) get(key string) (domain.Place, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return domain.Place{}, false
	}
	c.moveToFront(e)
	return e.value, true
}

func (c *lruCache) put(key string, value domain.Place) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		e.value = value
		c.moveToFront(e)
		return
	}

	e := &entry{key: key, value: value}
	c.entries[key] = e
	c.addToFront(e)

	if len(c.entries) > c.maxEntries {
		c.evictTail()
	}
}

func (c *lruCache) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *lruCache) moveToFront(e *entry) {
	if e == c.head {
		return
	}
	c.unlink(e)
	c.addToFront(e)
}

func (c *lruCache) addToFront(e *entry) {
	e.next = c.head
	e.prev = nil
	if c.head != nil {
		c.head.prev = e
	}
	c.head = e
	if c.tail == nil {
		c.tail = e
	}
}

func (c *lruCache) unlink(e *entry) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		c.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		c.tail = e.prev
	}
}

func (c *lruCache) evictTail() {
	if c.tail == nil {
		return
	}
	delete(c.entries, c.tail.key)
	c.unlink(c.tail)
}
