package provider

import (
	"errors"
	"time"

	"github.com/x-xyz/bidding/base/ctx"
)

var (
	ErrNotFound = errors.New("Cache not found")
)

// raw cache implementation
type Provider interface {
	Get(c ctx.Ctx, key string) ([]byte, time.Duration, error)
	Set(c ctx.Ctx, key string, value []byte, ttl time.Duration) error
	// SetNX stores value only when key is absent and reports whether it did
	SetNX(c ctx.Ctx, key string, value []byte, ttl time.Duration) (bool, error)
	Del(c ctx.Ctx, key string) error
}
