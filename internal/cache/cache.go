package cache

import (
	"bytes"
	"context"
	"crypto/md5"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// Store is a byte cache with a fixed TTL per store
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, data []byte)
	Delete(ctx context.Context, key string)
}

// HitRecorder receives cache hit and miss counts
type HitRecorder interface {
	IncrementCacheHit()
	IncrementCacheMiss()
}

// Key returns a stable md5 key for arbitrary input, with a namespace prefix
func Key(namespace string, input []byte) string {
	return fmt.Sprintf("%s:%x", namespace, md5.Sum(input))
}

// CacheItem represents a cached item with expiration
type CacheItem struct {
	Data      []byte    `json:"data"`
	ExpiresAt time.Time `json:"expires_at"`
}

// IsExpired checks if the cache item has expired
func (c *CacheItem) IsExpired() bool {
	return time.Now().After(c.ExpiresAt)
}

// Memory is an in-process Store used when Redis is not configured
type Memory struct {
	mu    sync.RWMutex
	items map[string]*CacheItem
	ttl   time.Duration
	stop  chan struct{}
	once  sync.Once
}

// NewMemory creates an in-memory store and starts its janitor
func NewMemory(ttl time.Duration) *Memory {
	m := &Memory{
		items: make(map[string]*CacheItem),
		ttl:   ttl,
		stop:  make(chan struct{}),
	}
	go m.cleanup(5 * time.Minute)
	return m
}

func (m *Memory) cleanup(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.mu.Lock()
			for key, item := range m.items {
				if item.IsExpired() {
					delete(m.items, key)
				}
			}
			m.mu.Unlock()
		}
	}
}

// Get retrieves an unexpired item
func (m *Memory) Get(_ context.Context, key string) ([]byte, bool) {
	m.mu.RLock()
	item, exists := m.items[key]
	m.mu.RUnlock()

	if !exists || item.IsExpired() {
		return nil, false
	}
	return item.Data, true
}

// Set stores an item until the TTL elapses
func (m *Memory) Set(_ context.Context, key string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.items[key] = &CacheItem{
		Data:      data,
		ExpiresAt: time.Now().Add(m.ttl),
	}
}

// Delete removes an item from the cache
func (m *Memory) Delete(_ context.Context, key string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.items, key)
}

// Size returns the number of items, expired ones included
func (m *Memory) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.items)
}

// Close stops the janitor goroutine
func (m *Memory) Close() error {
	m.once.Do(func() { close(m.stop) })
	return nil
}

// Stats returns cache statistics
func (m *Memory) Stats() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	expired := 0
	for _, item := range m.items {
		if item.IsExpired() {
			expired++
		}
	}

	return map[string]interface{}{
		"backend":       "memory",
		"total_items":   len(m.items),
		"expired_items": expired,
		"active_items":  len(m.items) - expired,
		"ttl_seconds":   m.ttl.Seconds(),
	}
}

// Middleware caches successful JSON responses of a POST route keyed by the
// request body. Only deterministic routes (text-only analysis) should use it.
func Middleware(store Store, path string, recorder HitRecorder) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		if ctx.Request.Method != http.MethodPost || ctx.FullPath() != path {
			ctx.Next()
			return
		}

		body, err := io.ReadAll(ctx.Request.Body)
		if err != nil {
			ctx.Next()
			return
		}
		ctx.Request.Body = io.NopCloser(bytes.NewReader(body))

		cacheKey := Key("response", body)
		if cached, found := store.Get(ctx.Request.Context(), cacheKey); found {
			slog.Debug("Cache hit", "key", cacheKey)
			if recorder != nil {
				recorder.IncrementCacheHit()
			}
			ctx.Data(http.StatusOK, "application/json; charset=utf-8", cached)
			ctx.Abort()
			return
		}

		if recorder != nil {
			recorder.IncrementCacheMiss()
		}

		wrapper := &responseWriter{ResponseWriter: ctx.Writer, body: &bytes.Buffer{}}
		ctx.Writer = wrapper
		ctx.Next()

		if wrapper.Status() == http.StatusOK && !ctx.GetBool(SkipKey) {
			store.Set(ctx.Request.Context(), cacheKey, wrapper.body.Bytes())
		}
	}
}

// SkipKey, when set on the gin context, keeps a response out of the cache
const SkipKey = "cache_skip"

// responseWriter wraps gin.ResponseWriter to capture response body
type responseWriter struct {
	gin.ResponseWriter
	body *bytes.Buffer
}

func (w *responseWriter) Write(data []byte) (int, error) {
	w.body.Write(data)
	return w.ResponseWriter.Write(data)
}

func (w *responseWriter) WriteString(s string) (int, error) {
	w.body.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}
