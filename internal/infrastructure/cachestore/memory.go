// Package cachestore implements port.CacheStore in process memory and on redis.
package cachestore

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"

	"reserve_tracker/internal/app/port"
)

// MemoryStore is a process-local CacheStore backed by go-cache.
type MemoryStore struct {
	c *cache.Cache
}

// NewMemoryStore creates a store whose expired entries are purged every cleanupInterval.
func NewMemoryStore(cleanupInterval time.Duration) *MemoryStore {
	return &MemoryStore{c: cache.New(cache.NoExpiration, cleanupInterval)}
}

// Get implements port.CacheStore.
func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	v, ok := s.c.Get(key)
	if !ok {
		return nil, port.ErrCacheMiss
	}
	b, _ := v.([]byte)
	return b, nil
}

// Set implements port.CacheStore. A non-positive ttl never expires.
func (s *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = cache.NoExpiration
	}
	s.c.Set(key, append([]byte(nil), value...), ttl)
	return nil
}

// Del implements port.CacheStore.
func (s *MemoryStore) Del(_ context.Context, key string) error {
	s.c.Delete(key)
	return nil
}
