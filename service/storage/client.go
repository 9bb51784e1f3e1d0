package storage

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"PRelay/global/config"
	"PRelay/tools/errs"
)

// NewClient connects and pings Redis.
func NewClient(ctx context.Context, c config.RedisConfig) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     c.Addr,
		Password: c.Password,
		DB:       c.DB,
	})
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, errs.ErrStorage.WrapMsg("redis ping", "addr", c.Addr, "err", err)
	}
	return rdb, nil
}
