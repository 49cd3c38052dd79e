package primitive

import (
	"time"

	"github.com/coocood/freecache"

	"github.com/x-xyz/bidding/base/ctx"
	"github.com/x-xyz/bidding/base/log"
	"github.com/x-xyz/bidding/service/cache/provider"
)

type impl struct {
	name  string
	cache *freecache.Cache
}

// NewPrimitive is an in-process provider of size megabytes
func NewPrimitive(name string, size int) provider.Provider {
	return &impl{name, freecache.NewCache(size * 1024 * 1024)}
}

func (im *impl) Get(c ctx.Ctx, key string) ([]byte, time.Duration, error) {
	if val, ttl, err := im.cache.GetWithExpiration([]byte(key)); err != nil {
		if err == freecache.ErrNotFound {
			return nil, time.Duration(0), provider.ErrNotFound
		}
		c.WithField("err", err).WithField("key", key).Error("cache.Get failed")
		return nil, time.Duration(0), err
	} else {
		return val, remaining(ttl), nil
	}
}

func (im *impl) Set(c ctx.Ctx, key string, value []byte, ttl time.Duration) error {
	if err := im.cache.Set([]byte(key), value, int(ttl.Seconds())); err != nil {
		c.WithFields(log.Fields{"err": err, "key": key, "cache": im.name}).Error("cache.Set failed")
		return err
	}
	return nil
}

func (im *impl) SetNX(c ctx.Ctx, key string, value []byte, ttl time.Duration) (bool, error) {
	prev, err := im.cache.GetOrSet([]byte(key), value, int(ttl.Seconds()))
	if err != nil {
		c.WithFields(log.Fields{"err": err, "key": key, "cache": im.name}).Error("cache.GetOrSet failed")
		return false, err
	}
	return prev == nil, nil
}

func (im *impl) Del(c ctx.Ctx, key string) error {
	im.cache.Del([]byte(key))
	return nil
}

// remaining converts freecache's absolute expiry to a duration, 0 means no expiry
func remaining(expireAt uint32) time.Duration {
	if expireAt == 0 {
		return time.Duration(0)
	}
	d := time.Until(time.Unix(int64(expireAt), 0))
	if d < 0 {
		return time.Duration(0)
	}
	return d
}
