package redis

import (
	"errors"
	"time"

	"github.com/x-xyz/bidding/base/ctx"
)

const (
	// Forever keeps the key without expiry
	Forever = time.Duration(0)
)

var (
	// ErrNotFound is returned when the key does not exist
	ErrNotFound = errors.New("redis key not found")
)

// Script is a lua script loaded once and invoked by its sha
type Script struct {
	KeyCount int
	Src      string
}

// Service is the subset of redis commands used by the lock and the response cache
type Service interface {
	Get(context ctx.Ctx, key string) ([]byte, error)
	Set(context ctx.Ctx, key string, val []byte, expire time.Duration) error
	// SetNX reports false when the key already exists
	SetNX(context ctx.Ctx, key string, val []byte, expire time.Duration) (bool, error)
	// PTTL returns the remaining time to live, Forever when the key has none
	PTTL(context ctx.Ctx, key string) (time.Duration, error)
	Del(context ctx.Ctx, keys ...string) (int, error)
	Eval(context ctx.Ctx, script Script, keysAndArgs ...interface{}) (interface{}, error)
	Ping(context ctx.Ctx) error
}
