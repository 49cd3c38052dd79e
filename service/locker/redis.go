package locker

import (
	"time"

	"golang.org/x/xerrors"

	"github.com/x-xyz/bidding/base/backoff"
	"github.com/x-xyz/bidding/base/ctx"
	"github.com/x-xyz/bidding/base/log"
	"github.com/x-xyz/bidding/domain"
	"github.com/x-xyz/bidding/service/redis"
)

// deletes the key only while it still holds our token
var releaseScript = redis.Script{
	KeyCount: 1,
	Src: `if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`,
}

type RedisLockerCfg struct {
	Redis redis.Service
	// TTL bounds how long a crashed holder blocks the aggregate
	TTL time.Duration
	// Wait bounds how long Lock retries before giving up
	Wait time.Duration
}

type redisImpl struct {
	redis redis.Service
	ttl   time.Duration
	wait  time.Duration
}

// NewRedis serializes writers across processes with SET NX PX
func NewRedis(cfg *RedisLockerCfg) domain.Locker {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	wait := cfg.Wait
	if wait <= 0 {
		wait = 5 * time.Second
	}
	return &redisImpl{
		redis: cfg.Redis,
		ttl:   ttl,
		wait:  wait,
	}
}

func (im *redisImpl) Lock(c ctx.Ctx, key string) (func(), error) {
	token := []byte(domain.NewId())
	waitCtx, cancel := ctx.WithTimeout(c, im.wait)
	defer cancel()

	bo := backoff.NewExponential(5*time.Millisecond, 200*time.Millisecond)
	for {
		ok, err := im.redis.SetNX(c, key, token, im.ttl)
		if err != nil {
			c.WithFields(log.Fields{"err": err, "key": key}).Error("failed to redis.SetNX")
			return nil, err
		}
		if ok {
			break
		}
		if err := bo.Backoff(waitCtx); err != nil {
			return nil, xerrors.Errorf("%s: %w", key, domain.ErrLockNotAcquired)
		}
	}

	return func() {
		if _, err := im.redis.Eval(ctx.Detach(c), releaseScript, key, token); err != nil {
			c.WithFields(log.Fields{"err": err, "key": key}).Warn("failed to release lock, ttl will clear it")
		}
	}, nil
}
