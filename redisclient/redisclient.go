package redisclient

import (
	"context"
	"time"

	"github.com/anchel/voucher-seckill/config"
	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
)

func NewRedis(ctx context.Context, conf config.Redis) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         conf.Addr,
		Password:     conf.Password,
		DB:           conf.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     50,
		MinIdleConns: 5,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrapf(err, "ping redis %s", conf.Addr)
	}

	return client, nil
}
