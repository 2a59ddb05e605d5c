package cache

import (
	"crypto/sha256"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Entry is a cached value with the time it was stored
type Entry[V any] struct {
	Value     V
	Timestamp time.Time
}

// Cache is a concurrency-safe map whose entries expire after TTL
type Cache[V any] struct {
	ttl     time.Duration
	now     func() time.Time
	entries sync.Map
}

// New creates a cache; ttl <= 0 means entries never expire
func New[V any](ttl time.Duration) *Cache[V] {
	return &Cache[V]{ttl: ttl, now: time.Now}
}

// Load returns the value for key if present and fresh
func (c *Cache[V]) Load(key string) (V, bool) {
	var zero V
	val, ok := c.entries.Load(key)
	if !ok {
		return zero, false
	}
	entry := val.(Entry[V])
	if c.ttl > 0 && c.now().Sub(entry.Timestamp) > c.ttl {
		c.entries.Delete(key)
		return zero, false
	}
	return entry.Value, true
}

// Store saves value under key
func (c *Cache[V]) Store(key string, value V) {
	c.entries.Store(key, Entry[V]{Value: value, Timestamp: c.now()})
}

// GenerateKey hashes the normalized parts into a cache key
func GenerateKey(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(strings.ToLower(strings.TrimSpace(p))))
		h.Write([]byte{0})
	}
	return fmt.Sprintf("%x", h.Sum(nil))
}
