package redis

import (
	"time"

	"github.com/x-xyz/bidding/base/ctx"
	"github.com/x-xyz/bidding/service/cache/provider"
	"github.com/x-xyz/bidding/service/redis"
)

type impl struct {
	redis redis.Service
}

func NewRedis(redis redis.Service) provider.Provider {
	return &impl{redis}
}

func (im *impl) Get(c ctx.Ctx, key string) ([]byte, time.Duration, error) {
	if val, err := im.redis.Get(c, key); err != nil {
		if err == redis.ErrNotFound {
			return nil, time.Duration(0), provider.ErrNotFound
		}
		c.WithField("err", err).WithField("key", key).Error("redis.Get failed")
		return nil, time.Duration(0), err
	} else if ttl, err := im.redis.PTTL(c, key); err == redis.ErrNotFound {
		// expired between the two calls
		return nil, time.Duration(0), provider.ErrNotFound
	} else if err != nil {
		c.WithField("err", err).WithField("key", key).Error("redis.PTTL failed")
		return nil, time.Duration(0), err
	} else {
		return val, ttl, nil
	}
}

func (im *impl) Set(c ctx.Ctx, key string, value []byte, ttl time.Duration) error {
	if err := im.redis.Set(c, key, value, ttl); err != nil {
		c.WithField("err", err).WithField("key", key).Error("redis.Set failed")
		return err
	}
	return nil
}

func (im *impl) SetNX(c ctx.Ctx, key string, value []byte, ttl time.Duration) (bool, error) {
	ok, err := im.redis.SetNX(c, key, value, ttl)
	if err != nil {
		c.WithField("err", err).WithField("key", key).Error("redis.SetNX failed")
		return false, err
	}
	return ok, nil
}

func (im *impl) Del(c ctx.Ctx, key string) error {
	if _, err := im.redis.Del(c, key); err != nil {
		c.WithField("err", err).WithField("key", key).Error("redis.Del failed")
		return err
	}
	return nil
}
