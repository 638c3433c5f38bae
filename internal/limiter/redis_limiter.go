package limiter

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/evyataryagoni/geolookup/internal/logger"
	"github.com/redis/go-redis/v9"
)

const (
	redisKeyPrefix = "geolookup:ratelimit:"
	redisTimeout   = 100 * time.Millisecond
)

// fixedWindow increments the counter of the current window and sets its
// expiry on first use, atomically
var fixedWindow = redis.NewScript(`
local current = redis.call('INCR', KEYS[1])
if current == 1 then
	redis.call('EXPIRE', KEYS[1], ARGV[1])
end
return current
`)

// RedisLimiter implements distributed rate limiting using Redis
// Suitable for multi-instance deployments where limits are shared
//
// Algorithm: fixed window counter
//   - Key format: "geolookup:ratelimit:{ip}:{window}"
//   - Keys expire after two windows
type RedisLimiter struct {
	client     redis.UniversalClient
	limit      int64
	windowSize time.Duration
	logger     *logger.Logger
}

// NewRedisLimiter connects to Redis and creates a limiter
//
// Parameters:
//   - addr: Redis server address (e.g., "localhost:6379")
//   - password: Redis password (empty string if no password)
//   - db: Redis database number
//   - requestsPerSecond: allowed requests per second per client (can be fractional)
//
// Returns:
//   - *RedisLimiter: new Redis rate limiter instance
//   - error: any error that occurred during connection
func NewRedisLimiter(addr, password string, db int, requestsPerSecond float64) (*RedisLimiter, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis for rate limiting: %w", err)
	}

	return NewRedisLimiterWithClient(client, requestsPerSecond, nil), nil
}

// NewRedisLimiterWithClient wraps an existing client
// Fractional rates use a longer window: 0.2 req/s allows 1 request per 5 seconds
func NewRedisLimiterWithClient(client redis.UniversalClient, requestsPerSecond float64, log *logger.Logger) *RedisLimiter {
	if log == nil {
		log = logger.NewDefault()
	}
	windowSize := time.Second
	if requestsPerSecond > 0 && requestsPerSecond < 1.0 {
		windowSize = time.Duration(float64(time.Second) / requestsPerSecond)
	}
	return &RedisLimiter{
		client:     client,
		limit:      int64(math.Ceil(requestsPerSecond * windowSize.Seconds())),
		windowSize: windowSize,
		logger:     log.WithComponent("RedisLimiter"),
	}
}

// Allow checks if a request from the given client should be allowed
// Redis errors fail open: the request is allowed and the error logged
func (rl *RedisLimiter) Allow(ip string) bool {
	windowSeconds := int64(rl.windowSize.Seconds())
	window := time.Now().Unix() / windowSeconds
	key := fmt.Sprintf("%s%s:%d", redisKeyPrefix, ip, window)

	ctx, cancel := context.WithTimeout(context.Background(), redisTimeout)
	defer cancel()

	count, err := fixedWindow.Run(ctx, rl.client, []string{key}, windowSeconds*2).Int64()
	if err != nil {
		rl.logger.Warn().Err(err).Str("ip", ip).Msg("Rate limit check failed, allowing request")
		return true
	}
	return count <= rl.limit
}

// Close closes the Redis connection
func (rl *RedisLimiter) Close() error {
	if rl.client != nil {
		return rl.client.Close()
	}
	return nil
}
