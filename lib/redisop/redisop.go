// Package redisop wraps the handful of go-redis commands the service issues
// with uniform debug logging. A missing key is reported as redis.Nil, never
// swallowed, so callers can tell "absent" from "backend down".
package redisop

import (
	"context"
	"time"

	"github.com/charmbracelet/log"
	"github.com/redis/go-redis/v9"
)

func Get(ctx context.Context, rdb redis.Cmdable, key string) (string, error) {
	val, err := rdb.Get(ctx, key).Result()
	if err != nil {
		if err != redis.Nil {
			log.Debug("redisop Get", "key", key, "err", err)
		}
		return "", err
	}
	return val, nil
}

func Del(ctx context.Context, rdb redis.Cmdable, key string) (int64, error) {
	val, err := rdb.Del(ctx, key).Result()
	if err != nil {
		log.Debug("redisop Del", "key", key, "err", err)
		return 0, err
	}
	return val, nil
}

func Set(ctx context.Context, rdb redis.Cmdable, key string, value any, expiration time.Duration) error {
	_, err := rdb.Set(ctx, key, value, expiration).Result()
	if err != nil {
		log.Debug("redisop Set", "key", key, "err", err)
		return err
	}
	return nil
}

func SetNX(ctx context.Context, rdb redis.Cmdable, key string, value any, expiration time.Duration) (bool, error) {
	result, err := rdb.SetNX(ctx, key, value, expiration).Result()
	if err != nil {
		log.Debug("redisop SetNX", "key", key, "err", err)
		return false, err
	}
	return result, nil
}

func Incr(ctx context.Context, rdb redis.Cmdable, key string) (int64, error) {
	val, err := rdb.Incr(ctx, key).Result()
	if err != nil {
		log.Debug("redisop Incr", "key", key, "err", err)
		return 0, err
	}
	return val, nil
}

func Publish(ctx context.Context, rdb redis.Cmdable, channel string, message any) (int64, error) {
	n, err := rdb.Publish(ctx, channel, message).Result()
	if err != nil {
		log.Debug("redisop Publish", "channel", channel, "err", err)
		return 0, err
	}
	return n, nil
}

// RunScript evaluates script and returns its integer reply.
func RunScript(ctx context.Context, rdb redis.Scripter, script *redis.Script, keys []string, args ...any) (int64, error) {
	val, err := script.Run(ctx, rdb, keys, args...).Int64()
	if err != nil {
		log.Debug("redisop RunScript", "keys", keys, "err", err)
		return 0, err
	}
	return val, nil
}

func Exists(ctx context.Context, rdb redis.Cmdable, key string) (bool, error) {
	n, err := rdb.Exists(ctx, key).Result()
	if err != nil {
		log.Debug("redisop Exists", "key", key, "err", err)
		return false, err
	}
	return n > 0, nil
}
