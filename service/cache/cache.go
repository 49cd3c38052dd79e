package cache

import (
	"errors"
	"time"

	"github.com/x-xyz/bidding/base/ctx"
	"github.com/x-xyz/bidding/service/cache/provider"
)

var (
	ErrNotFound = errors.New("Cache not found")
)

type Serializer func(interface{}) ([]byte, error)

type Deserializer func([]byte, interface{}) error

// high order cache service
type Service interface {
	Get(c ctx.Ctx, key string, container interface{}) error
	Set(c ctx.Ctx, key string, value interface{}) error
	// SetNX stores value only if key is absent and reports whether it did
	SetNX(c ctx.Ctx, key string, value interface{}) (bool, error)
	Del(c ctx.Ctx, key string) error
}

type ServiceConfig struct {
	Ttl         time.Duration
	Pfx         string
	Cache       provider.Provider
	Serialize   Serializer
	Deserialize Deserializer
}
