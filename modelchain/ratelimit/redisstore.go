package ratelimit

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
)

// redisStore implements clusterStore on top of a *redis.Client, using a Lua
// script for the compare-and-swap step (Redis has no native CAS command)
// and Pub/Sub for cross-process change notifications.
type redisStore struct {
	cl *redis.Client
}

var casScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	redis.call("SET", KEYS[1], ARGV[2])
	return 1
end
return 0
`)

func (s *redisStore) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := s.cl.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (s *redisStore) SetIfNotExists(ctx context.Context, key, value string) (bool, error) {
	return s.cl.SetNX(ctx, key, value, 0).Result()
}

func (s *redisStore) CompareAndSwap(ctx context.Context, key, old, newVal string) (bool, error) {
	res, err := casScript.Run(ctx, s.cl, []string{key}, old, newVal).Int()
	if err != nil {
		return false, err
	}
	return res == 1, nil
}

// Subscribe returns a channel that receives a notification each time the
// given key changes, using Redis keyspace notifications on a channel named
// after the key. Callers must have enabled the Redis server config
// `notify-keyspace-events Kg$` for this to fire; the returned cancel
// function unsubscribes and closes the channel.
func (s *redisStore) Subscribe(ctx context.Context, key string) (<-chan struct{}, func()) {
	pubsub := s.cl.Subscribe(ctx, "__keyspace@0__:"+key)
	out := make(chan struct{}, 1)
	go func() {
		defer close(out)
		ch := pubsub.Channel()
		for range ch {
			select {
			case out <- struct{}{}:
			default:
			}
		}
	}()
	return out, func() { _ = pubsub.Close() }
}

// NewClusterRedis constructs an AdaptiveRateLimiter whose effective budget
// is coordinated across processes via the given Redis client and key.
func NewClusterRedis(ctx context.Context, cl *redis.Client, key string, initialTPM, maxTPM float64) *AdaptiveRateLimiter {
	if cl == nil || key == "" {
		return NewAdaptiveRateLimiter(initialTPM, maxTPM)
	}
	return NewCluster(ctx, &redisStore{cl: cl}, key, initialTPM, maxTPM)
}
