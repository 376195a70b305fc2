// Package cache provides the cache-aside layer used by the query services.
//
// Entries live in namespaces ("tasks", "projects"). Each namespace carries a
// generation number; evicting a namespace bumps it, so a reader that loaded
// from the store before a write cannot publish its stale result afterwards.
package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"
)

// Namespaces evicted as a whole by the command services.
const (
	NamespaceTasks    = "tasks"
	NamespaceProjects = "projects"
)

// Cache is the get/put/evict-by-namespace capability the services depend on.
type Cache interface {
	Generation(ctx context.Context, namespace string) (uint64, error)
	Get(ctx context.Context, namespace string, gen uint64, key string) ([]byte, bool, error)
	// Set stores value under key for the given generation. ttl <= 0 means no expiry.
	Set(ctx context.Context, namespace string, gen uint64, key string, value []byte, ttl time.Duration) error
	EvictNamespace(ctx context.Context, namespace string) error
}

// Load returns the cached value for key or calls load and caches its result.
// Cache failures are logged and fall through to load; only load errors are returned.
func Load[T any](
	ctx context.Context,
	c Cache,
	namespace, key string,
	ttl time.Duration,
	load func(ctx context.Context) (T, error),
) (T, error) {
	gen, err := c.Generation(ctx, namespace)
	if err != nil {
		slog.Warn("cache generation lookup failed", "namespace", namespace, "error", err)
		return load(ctx)
	}

	raw, ok, err := c.Get(ctx, namespace, gen, key)
	switch {
	case err != nil:
		slog.Warn("cache get failed", "namespace", namespace, "key", key, "error", err)
	case ok:
		var cached T
		if err := json.Unmarshal(raw, &cached); err == nil {
			slog.Debug("cache hit", "namespace", namespace, "key", key)
			return cached, nil
		}
		slog.Warn("cache entry undecodable", "namespace", namespace, "key", key)
	}

	value, err := load(ctx)
	if err != nil {
		return value, err
	}

	encoded, err := json.Marshal(value)
	if err != nil {
		slog.Warn("cache encode failed", "namespace", namespace, "key", key, "error", err)
		return value, nil
	}
	if err := c.Set(ctx, namespace, gen, key, encoded, ttl); err != nil {
		slog.Warn("cache set failed", "namespace", namespace, "key", key, "error", err)
	}
	return value, nil
}

// Evict drops every entry of the namespaces, logging instead of failing.
func Evict(ctx context.Context, c Cache, namespaces ...string) {
	for _, ns := range namespaces {
		if err := c.EvictNamespace(ctx, ns); err != nil {
			slog.Error("cache eviction failed", "namespace", ns, "error", err)
		}
	}
}
