package repository

import (
	"time"

	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/x-xyz/bidding/base/ctx"
	"github.com/x-xyz/bidding/base/database/mongoclient"
	hcdomain "github.com/x-xyz/bidding/domain/healthcheck"
	"github.com/x-xyz/bidding/service/redis"
)

const pingTimeout = 2 * time.Second

type impl struct {
	mgoClient  *mongoclient.Client
	redisCache redis.Service
}

// New returns the repo over the configured backends, either may be nil
// when the service runs on the memory driver or a local locker
func New(
	mgoClient *mongoclient.Client,
	redisCache redis.Service,
) hcdomain.HealthCheckRepo {
	return &impl{
		mgoClient:  mgoClient,
		redisCache: redisCache,
	}
}

func (im *impl) PingDB(context ctx.Ctx) (bool, error) {
	if im.mgoClient == nil {
		return false, nil
	}
	ctx, cancel := ctx.WithTimeout(context, pingTimeout)
	defer cancel()
	if err := im.mgoClient.Ping(ctx, readpref.Primary()); err != nil {
		context.WithField("err", err).Error("ping mongo error")
		return true, err
	}
	return true, nil
}

func (im *impl) PingCache(context ctx.Ctx) (bool, error) {
	if im.redisCache == nil {
		return false, nil
	}
	ctx, cancel := ctx.WithTimeout(context, pingTimeout)
	defer cancel()
	if err := im.redisCache.Ping(ctx); err != nil {
		context.WithField("err", err).Error("ping redis error")
		return true, err
	}
	return true, nil
}
