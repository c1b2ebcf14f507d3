package router

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"codestream/internal/clock"
	"codestream/internal/logging"
)

// Limiter decides whether a connection may send another frame.
type Limiter interface {
	Allow(ctx context.Context, key string) bool
	// Forget drops any state kept for key.
	Forget(key string)
}

// MemoryLimiter implements per-connection fixed-window limiting in process.
// ARCHITECTURAL DISCOVERY: Per-client state tracking with proper cleanup prevents memory leaks
type MemoryLimiter struct {
	mu      sync.Mutex
	clients map[string]*ClientLimit
	limit   int
	window  time.Duration
	clock   clock.Clock
}

// ClientLimit tracks rate limiting for a single client
type ClientLimit struct {
	messageCount int
	windowStart  time.Time
}

// NewMemoryLimiter allows limit frames per window for each key.
func NewMemoryLimiter(limit int, window time.Duration, clk clock.Clock) *MemoryLimiter {
	if clk == nil {
		clk = clock.New()
	}
	return &MemoryLimiter{
		clients: make(map[string]*ClientLimit),
		limit:   limit,
		window:  window,
		clock:   clk,
	}
}

func (rl *MemoryLimiter) Allow(_ context.Context, key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.clock.Now()

	limit, exists := rl.clients[key]
	if !exists {
		rl.clients[key] = &ClientLimit{messageCount: 1, windowStart: now}
		return true
	}

	// TECHNICAL DISCOVERY: Window resets once it has fully elapsed
	if now.Sub(limit.windowStart) >= rl.window {
		limit.messageCount = 1
		limit.windowStart = now
		return true
	}

	if limit.messageCount >= rl.limit {
		return false
	}

	limit.messageCount++
	return true
}

func (rl *MemoryLimiter) Forget(key string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.clients, key)
}

// Cleanup removes entries idle for more than five windows.
func (rl *MemoryLimiter) Cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.clock.Now()
	for key, limit := range rl.clients {
		if now.Sub(limit.windowStart) > 5*rl.window {
			delete(rl.clients, key)
		}
	}
}

// RunCleanup calls Cleanup every window until ctx is done.
func (rl *MemoryLimiter) RunCleanup(ctx context.Context) {
	ticker := time.NewTicker(rl.window)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			rl.Cleanup()
		case <-ctx.Done():
			return
		}
	}
}

// RedisLimiter shares fixed-window counters across server instances.
// FUNCTIONAL DISCOVERY: Redis errors fail open; availability of the editor
// matters more than strict limiting.
type RedisLimiter struct {
	client *redis.Client
	limit  int
	window time.Duration
	log    *logrus.Entry
}

func NewRedisLimiter(client *redis.Client, limit int, window time.Duration) *RedisLimiter {
	return &RedisLimiter{
		client: client,
		limit:  limit,
		window: window,
		log:    logging.Component("ratelimit"),
	}
}

func (rl *RedisLimiter) Allow(ctx context.Context, key string) bool {
	if rl == nil || rl.client == nil {
		return true
	}

	// TECHNICAL DISCOVERY: INCR and EXPIRE NX go out in one MULTI so a counter
	// never exists without a TTL. NX keeps the window fixed from the first hit.
	redisKey := rl.key(key)
	var incr *redis.IntCmd
	var expire *redis.BoolCmd
	_, err := rl.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, redisKey)
		expire = pipe.ExpireNX(ctx, redisKey, rl.window)
		return nil
	})
	if incr == nil || incr.Err() != nil {
		rl.log.WithError(err).Debug("Redis unavailable, allowing frame")
		return true
	}
	if expire.Err() != nil {
		// A counter without a TTL would throttle the key forever.
		rl.log.WithError(expire.Err()).WithField("key", redisKey).Warn("Rate limit window not set, resetting counter")
		if delErr := rl.client.Del(ctx, redisKey).Err(); delErr != nil {
			rl.log.WithError(delErr).WithField("key", redisKey).Warn("Failed to reset rate limit counter")
		}
		return true
	}
	return int(incr.Val()) <= rl.limit
}

func (rl *RedisLimiter) Forget(key string) {
	if rl == nil || rl.client == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	rl.client.Del(ctx, rl.key(key))
}

func (rl *RedisLimiter) key(key string) string {
	return fmt.Sprintf("ratelimit:ws:%s", key)
}

// NewRedisClient builds a client from redis://, rediss:// or bare host:port.
func NewRedisClient(rawURL string) (*redis.Client, error) {
	if rawURL == "" {
		return nil, ErrInvalidRedisURL
	}
	if strings.HasPrefix(rawURL, "redis://") || strings.HasPrefix(rawURL, "rediss://") {
		opts, err := redis.ParseURL(rawURL)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidRedisURL, err)
		}
		return redis.NewClient(opts), nil
	}
	if strings.Contains(rawURL, "://") {
		return nil, fmt.Errorf("%w: unsupported scheme in %q", ErrInvalidRedisURL, rawURL)
	}
	return redis.NewClient(&redis.Options{Addr: rawURL}), nil
}
