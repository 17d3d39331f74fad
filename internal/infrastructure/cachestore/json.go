package cachestore

import (
	"context"
	"time"

	jsoniter "github.com/json-iterator/go"

	"reserve_tracker/internal/app/port"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// GetJSON reads key and decodes it into out. A miss returns port.ErrCacheMiss.
func GetJSON(ctx context.Context, store port.CacheStore, key string, out any) error {
	b, err := store.Get(ctx, key)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, out)
}

// SetJSON encodes v and writes it under key, replacing the previous value.
func SetJSON(ctx context.Context, store port.CacheStore, key string, v any, ttl time.Duration) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return store.Set(ctx, key, b, ttl)
}
