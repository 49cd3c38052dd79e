package redis

import (
	"time"

	"github.com/gomodule/redigo/redis"

	"github.com/x-xyz/bidding/base/ctx"
	"github.com/x-xyz/bidding/base/metrics"
	"github.com/x-xyz/bidding/domain/keys"
)

type redImpl struct {
	name string
	met  metrics.Service
	pool *redis.Pool
}

// New wraps a connected pool, name tags the metrics
func New(name string, met metrics.Service, pool *redis.Pool) Service {
	return &redImpl{
		name: name,
		met:  met,
		pool: pool,
	}
}

func (r *redImpl) tags(fn, key string) []string {
	return []string{"func", fn, "cluster", r.name, "prefix", keys.GetPrefix(key)}
}

func (r *redImpl) connDo(commandName string, args ...interface{}) (interface{}, error) {
	conn := r.pool.Get()
	if err := conn.Err(); err != nil {
		r.met.BumpSum("getConn.err", 1, "cluster", r.name)
		return nil, err
	}
	reply, err := conn.Do(commandName, args...)
	// release asap so the pool does not grow under load
	if err := conn.Close(); err != nil {
		r.met.BumpSum("conn.Close.err", 1, "cluster", r.name)
	}
	return reply, err
}

func (r *redImpl) Get(context ctx.Ctx, key string) ([]byte, error) {
	defer r.met.BumpTime("time", r.tags("get", key)...).End()
	val, err := redis.Bytes(r.connDo("GET", key))
	if err == redis.ErrNil {
		return nil, ErrNotFound
	} else if err != nil {
		context.WithField("err", err).Error("get redis failed")
		return nil, err
	}
	return val, nil
}

func (r *redImpl) Set(context ctx.Ctx, key string, val []byte, expire time.Duration) error {
	defer r.met.BumpTime("time", r.tags("set", key)...).End()
	var err error
	if expire == Forever {
		_, err = r.connDo("SET", key, val)
	} else {
		_, err = r.connDo("SET", key, val, "PX", expire.Milliseconds())
	}
	if err != nil {
		context.WithField("err", err).Error("set redis failed")
	}
	return err
}

func (r *redImpl) SetNX(context ctx.Ctx, key string, val []byte, expire time.Duration) (bool, error) {
	defer r.met.BumpTime("time", r.tags("setnx", key)...).End()
	var err error
	if expire == Forever {
		_, err = redis.String(r.connDo("SET", key, val, "NX"))
	} else {
		_, err = redis.String(r.connDo("SET", key, val, "NX", "PX", expire.Milliseconds()))
	}
	if err == redis.ErrNil {
		return false, nil
	} else if err != nil {
		context.WithField("err", err).Error("setnx redis failed")
		return false, err
	}
	return true, nil
}

func (r *redImpl) PTTL(context ctx.Ctx, key string) (time.Duration, error) {
	defer r.met.BumpTime("time", r.tags("pttl", key)...).End()
	ms, err := redis.Int64(r.connDo("PTTL", key))
	if err != nil {
		context.WithField("err", err).Error("pttl redis failed")
		return 0, err
	}
	switch {
	case ms == -2:
		return 0, ErrNotFound
	case ms < 0:
		return Forever, nil
	}
	return time.Duration(ms) * time.Millisecond, nil
}

func (r *redImpl) Del(context ctx.Ctx, ks ...string) (int, error) {
	if len(ks) == 0 {
		return 0, nil
	}
	defer r.met.BumpTime("time", r.tags("del", ks[0])...).End()
	args := make([]interface{}, len(ks))
	for i, k := range ks {
		args[i] = k
	}
	n, err := redis.Int(r.connDo("DEL", args...))
	if err != nil {
		context.WithField("err", err).Error("del redis failed")
	}
	return n, err
}

func (r *redImpl) Eval(context ctx.Ctx, script Script, keysAndArgs ...interface{}) (interface{}, error) {
	defer r.met.BumpTime("time", "func", "eval", "cluster", r.name).End()
	conn := r.pool.Get()
	defer conn.Close()
	reply, err := redis.NewScript(script.KeyCount, script.Src).Do(conn, keysAndArgs...)
	if err != nil {
		context.WithField("err", err).Error("eval redis failed")
	}
	return reply, err
}

func (r *redImpl) Ping(context ctx.Ctx) error {
	_, err := r.connDo("PING")
	return err
}
