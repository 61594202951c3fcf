package ratelimit

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// MemoryLimiter is a single-process fixed window limiter. Each key's counter
// expires with its window, so idle clients cost nothing.
type MemoryLimiter struct {
	limit  int
	window time.Duration

	mu    sync.Mutex
	cache *gocache.Cache
}

func NewMemoryLimiter(limit int, window time.Duration) (*MemoryLimiter, error) {
	if limit <= 0 || window <= 0 {
		return nil, errors.New("rate limiter requires positive limit and window")
	}
	return &MemoryLimiter{
		limit:  limit,
		window: window,
		cache:  gocache.New(window, 2*window),
	}, nil
}

func (l *MemoryLimiter) Allow(_ context.Context, key string) bool {
	if l == nil {
		return false
	}
	key = strings.TrimSpace(key)
	if key == "" {
		key = "unknown"
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.cache.Add(key, int64(1), l.window); err == nil {
		return true
	}
	count, err := l.cache.IncrementInt64(key, 1)
	if err != nil {
		// Expired between Add and Increment; start a new window.
		l.cache.Set(key, int64(1), l.window)
		return true
	}
	return count <= int64(l.limit)
}

// Reset drops all counters.
func (l *MemoryLimiter) Reset() {
	l.cache.Flush()
}
