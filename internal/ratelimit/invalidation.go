package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

const keyPattern = redisKeyPrefix + "ratelimit:*"

// ownsKey reports whether a limiter key belongs to ip, either its global
// budget or one of its endpoint budgets
func ownsKey(key, ip string) bool {
	return key == IPKey(ip) || (strings.HasPrefix(key, "ratelimit:endpoint:") && strings.HasSuffix(key, ":"+ip))
}

// forgetFallback drops in-memory buckets selected by match and returns how many went
func (rl *RateLimiter) forgetFallback(match func(key string) bool) int {
	rl.fallbackMutex.Lock()
	defer rl.fallbackMutex.Unlock()

	removed := 0
	for key := range rl.fallbackLimiters {
		if match(key) {
			delete(rl.fallbackLimiters, key)
			removed++
		}
	}
	return removed
}

// InvalidateIP clears the global and endpoint budgets of an IP address
func (rl *RateLimiter) InvalidateIP(ctx context.Context, ip string) error {
	if !rl.redisClient.IsEnabled() {
		n := rl.forgetFallback(func(key string) bool { return ownsKey(key, ip) })
		slog.Info("Cleared in-memory rate limits", "ip", ip, "buckets", n)
		return nil
	}

	n, err := rl.deleteMatching(ctx, redisKeyPrefix+IPKey(ip))
	if err != nil {
		return err
	}
	m, err := rl.deleteMatching(ctx, redisKeyPrefix+EndpointKey("*", ip))
	if err != nil {
		return err
	}
	slog.Info("Cleared Redis rate limits", "ip", ip, "keys", n+m)
	return nil
}

// InvalidateAll clears every budget of every client
func (rl *RateLimiter) InvalidateAll(ctx context.Context) error {
	if !rl.redisClient.IsEnabled() {
		n := rl.forgetFallback(func(string) bool { return true })
		slog.Warn("Cleared all in-memory rate limits", "buckets", n)
		return nil
	}

	n, err := rl.deleteMatching(ctx, keyPattern)
	if err != nil {
		return err
	}
	slog.Warn("Cleared all Redis rate limits", "keys", n)
	return nil
}

// GetKeyCount returns the number of live budgets
func (rl *RateLimiter) GetKeyCount(ctx context.Context) (int, error) {
	if !rl.redisClient.IsEnabled() {
		rl.fallbackMutex.Lock()
		defer rl.fallbackMutex.Unlock()
		return len(rl.fallbackLimiters), nil
	}

	count := 0
	err := rl.scan(ctx, keyPattern, func(keys []string) error {
		count += len(keys)
		return nil
	})
	return count, err
}

func (rl *RateLimiter) deleteMatching(ctx context.Context, pattern string) (int, error) {
	client := rl.redisClient.GetClient()
	deleted := 0
	err := rl.scan(ctx, pattern, func(keys []string) error {
		n, err := client.Del(ctx, keys...).Result()
		if err != nil {
			return fmt.Errorf("delete rate limit keys: %w", err)
		}
		deleted += int(n)
		return nil
	})
	return deleted, err
}

// scan walks Redis keys matching pattern in pages, calling fn for each
// non-empty page
func (rl *RateLimiter) scan(ctx context.Context, pattern string, fn func(keys []string) error) error {
	client := rl.redisClient.GetClient()

	var cursor uint64
	for {
		keys, next, err := client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return fmt.Errorf("scan rate limit keys: %w", err)
		}
		if len(keys) > 0 {
			if err := fn(keys); err != nil {
				return err
			}
		}
		if cursor = next; cursor == 0 {
			return nil
		}
	}
}
