package main

import (
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/x-xyz/bidding/base/ctx"
	"github.com/x-xyz/bidding/base/database/mongoclient"
	"github.com/x-xyz/bidding/base/database/redisclient"
	"github.com/x-xyz/bidding/base/log"
	"github.com/x-xyz/bidding/base/metrics"
	bValidator "github.com/x-xyz/bidding/base/validator"
	"github.com/x-xyz/bidding/domain"
	"github.com/x-xyz/bidding/domain/bidcard"
	"github.com/x-xyz/bidding/domain/group"
	mmiddleware "github.com/x-xyz/bidding/middleware"
	"github.com/x-xyz/bidding/service/alert"
	"github.com/x-xyz/bidding/service/cache"
	"github.com/x-xyz/bidding/service/cache/provider"
	"github.com/x-xyz/bidding/service/cache/provider/compound"
	"github.com/x-xyz/bidding/service/cache/provider/primitive"
	redisProvider "github.com/x-xyz/bidding/service/cache/provider/redis"
	"github.com/x-xyz/bidding/service/identity"
	"github.com/x-xyz/bidding/service/locker"
	"github.com/x-xyz/bidding/service/notifier"
	"github.com/x-xyz/bidding/service/query"
	"github.com/x-xyz/bidding/service/redis"
	"github.com/x-xyz/bidding/service/scheduler"
	auth_middleware "github.com/x-xyz/bidding/stores/auth/delivery/http/middleware"
	auth_usecase "github.com/x-xyz/bidding/stores/auth/usecase"
	bidcard_delivery "github.com/x-xyz/bidding/stores/bidcard/delivery/http"
	bidcard_repository "github.com/x-xyz/bidding/stores/bidcard/repository"
	bidcard_usecase "github.com/x-xyz/bidding/stores/bidcard/usecase"
	group_delivery "github.com/x-xyz/bidding/stores/group/delivery/http"
	group_repository "github.com/x-xyz/bidding/stores/group/repository"
	group_usecase "github.com/x-xyz/bidding/stores/group/usecase"
	hc_delivery "github.com/x-xyz/bidding/stores/healthcheck/delivery/http"
	hc_repo "github.com/x-xyz/bidding/stores/healthcheck/repository"
	hc_usecase "github.com/x-xyz/bidding/stores/healthcheck/usecase"
)

var configFile = pflag.String("config", "infra/configs/config.yaml", "path of the yaml config")

func init() {
	pflag.Parse()
	viper.SetConfigType("yaml")
	viper.SetConfigFile(*configFile)
	err := viper.ReadInConfig()
	if err != nil {
		panic(err)
	}
	viper.SetEnvPrefix("bidding")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := log.Init(viper.GetString("log.level"), viper.GetBool("debug")); err != nil {
		panic(err)
	}
	if viper.GetBool(`debug`) {
		log.Log().Info("Service RUN on DEBUG mode")
	}
}

func main() {
	defer log.Sync()

	context, cancel := ctx.WithCancel(ctx.Background())
	defer cancel()
	clk := clock.New()
	met := metrics.New("api")

	// init echo
	e := echo.New()
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	middL := mmiddleware.InitMiddleware(met)
	e.Use(middL.ResponseLogger())
	e.Use(middL.AddContext())
	e.Use(middL.CORS)
	e.Validator = bValidator.NewCustomValidator(bValidator.New())

	var (
		bidcardRepo  bidcard.Repo
		bidGroupRepo group.BidGroupRepo
		groupBidRepo group.GroupBidRepo
		mongoClient  *mongoclient.Client
		err          error
	)
	switch driver := viper.GetString("storage.driver"); driver {
	case "mongo":
		context.Info("init mongo")
		mongoClient = mongoclient.MustConnectMongoClient(mongoclient.Config{
			URI:                viper.GetString("mongo.uri"),
			AuthDBName:         viper.GetString("mongo.authDBName"),
			DBName:             viper.GetString("mongo.dbName"),
			SSL:                viper.GetBool("mongo.enableSSL"),
			SetSafe:            true,
			PoolSizeMultiplier: 2,
		})
		q := query.New(mongoClient, metrics.New("mongo"))
		if bidcardRepo, err = bidcard_repository.NewMongo(context, q); err != nil {
			context.WithField("err", err).Panic("bidcard_repository.NewMongo failed")
		}
		if bidGroupRepo, err = group_repository.NewBidGroupMongo(context, q); err != nil {
			context.WithField("err", err).Panic("group_repository.NewBidGroupMongo failed")
		}
		if groupBidRepo, err = group_repository.NewGroupBidMongo(context, q); err != nil {
			context.WithField("err", err).Panic("group_repository.NewGroupBidMongo failed")
		}
	default:
		context.WithField("driver", driver).Warn("state is kept in memory and lost on restart")
		bidcardRepo = bidcard_repository.NewMemory()
		bidGroupRepo = group_repository.NewBidGroupMemory()
		groupBidRepo = group_repository.NewGroupBidMemory()
	}

	// lock and idempotency storage are shared across replicas only with redis
	var (
		redisCache redis.Service
		lock       domain.Locker
	)
	cacheLayers := []provider.Provider{
		primitive.NewPrimitive("idempotency", viper.GetInt("idempotency.localSizeMB")),
	}
	if uri := viper.GetString("redis_cache.uri"); uri != "" {
		context.Info("init redis cache")
		redisCacheName := viper.GetString("redis_cache.name")
		pool := redisclient.MustConnectRedis(uri, viper.GetString("redis_cache.password"), redisclient.RedisParam{
			PoolMultiplier: viper.GetFloat64("redis_cache.poolMultiplier"),
			Retry:          true,
		})
		redisCache = redis.New(redisCacheName, metrics.New(redisCacheName), pool)
		lock = locker.NewRedis(&locker.RedisLockerCfg{
			Redis: redisCache,
			TTL:   viper.GetDuration("locker.ttl"),
			Wait:  viper.GetDuration("locker.wait"),
		})
		cacheLayers = append(cacheLayers, redisProvider.NewRedis(redisCache))
	} else {
		lock = locker.NewLocal()
	}
	idemProvider := cacheLayers[0]
	if len(cacheLayers) > 1 {
		idemProvider = compound.NewCompound(cacheLayers)
	}
	idempotencyTtl := viper.GetDuration("idempotency.ttl")
	if idempotencyTtl <= 0 {
		idempotencyTtl = mmiddleware.DefaultIdempotencyTtl
	}
	idem := mmiddleware.Idempotency(cache.New(cache.ServiceConfig{
		Ttl:   idempotencyTtl,
		Cache: idemProvider,
	}))

	// events
	notifiers := []domain.Notifier{notifier.NewLog()}
	if url := viper.GetString("amqp.url"); url != "" {
		rabbit, err := notifier.NewRabbitMQ(&notifier.RabbitMQCfg{
			URL:      url,
			Exchange: viper.GetString("amqp.exchange"),
			Workers:  viper.GetInt("amqp.workers"),
			Timeout:  viper.GetDuration("amqp.timeout"),
			Metrics:  metrics.New("amqp"),
		})
		if err != nil {
			context.WithField("err", err).Panic("notifier.NewRabbitMQ failed")
		}
		defer rabbit.Close()
		notifiers = append(notifiers, rabbit)
	}
	if key := viper.GetString("discord.botKey"); key != "" {
		discord, err := alert.NewDiscord(&alert.DiscordCfg{
			BotKey:    key,
			ChannelId: viper.GetString("discord.channelId"),
		})
		if err != nil {
			context.WithField("err", err).Panic("alert.NewDiscord failed")
		}
		notifiers = append(notifiers, discord)
	}
	events := notifier.NewMulti(notifiers...)

	identityClient := identity.NewClient(&identity.ClientCfg{
		HttpClient: http.Client{},
		BaseUrl:    viper.GetString("identity.baseUrl"),
		Token:      viper.GetString("identity.token"),
		Timeout:    viper.GetDuration("identity.timeout"),
		Attempts:   viper.GetInt("identity.attempts"),
	})

	sched := scheduler.New(&scheduler.SchedulerCfg{
		Clock:      clk,
		Interval:   viper.GetDuration("scheduler.interval"),
		RetryStart: viper.GetDuration("scheduler.retryStart"),
		RetryLimit: viper.GetDuration("scheduler.retryLimit"),
	})

	bidcards := bidcard_usecase.New(&bidcard_usecase.BidCardUseCaseCfg{
		Repo:                       bidcardRepo,
		Locker:                     lock,
		Scheduler:                  sched,
		Notifier:                   events,
		Identity:                   identityClient,
		Clock:                      clk,
		Metrics:                    metrics.New("bidcard"),
		TieBreak:                   bidcard.ToTieBreak(viper.GetString("arbiter.tieBreak")),
		DefaultAcceptanceTimeLimit: viper.GetInt("arbiter.defaultAcceptanceTimeLimitHours"),
	})
	groups := group_usecase.New(&group_usecase.GroupUseCaseCfg{
		BidGroupRepo:  bidGroupRepo,
		GroupBidRepo:  groupBidRepo,
		BidCards:      bidcards,
		Locker:        lock,
		Scheduler:     sched,
		Notifier:      events,
		Clock:         clk,
		Metrics:       metrics.New("group"),
		MaxExtensions: viper.GetInt("group.maxExtensions"),
	})
	auth := auth_usecase.New(viper.GetString("auth.jwtSecret"), clk)
	hc := hc_usecase.New(hc_repo.New(mongoClient, redisCache), sched, clk)

	sched.Handle(domain.DeadlineAcceptanceExpiry, bidcards.HandleDeadline)
	sched.Handle(domain.DeadlineBidCard, bidcards.HandleDeadline)
	sched.Handle(domain.DeadlineCommitment, bidcards.HandleDeadline)
	sched.Handle(domain.DeadlineGroupBid, groups.HandleDeadline)
	sched.Handle(domain.DeadlineGroupHandOff, groups.HandleDeadline)

	// timers live in memory, rebuild them from persisted state
	if err := bidcards.Recover(context); err != nil {
		context.WithField("err", err).Panic("bidcards.Recover failed")
	}
	if err := groups.Recover(context); err != nil {
		context.WithField("err", err).Panic("groups.Recover failed")
	}
	go func() {
		for evt := range sched.Start(context) {
			log.Log().WithField("panic", evt.Panic).Error("scheduler stopped")
		}
	}()

	authMiddleware := auth_middleware.New(auth)
	hc_delivery.New(e, hc)
	bidcard_delivery.New(e, bidcards, authMiddleware, idem)
	group_delivery.New(e, groups, authMiddleware, idem)

	go func() {
		if err := e.Start(viper.GetString("server.address")); err != nil && err != http.ErrServerClosed {
			log.Log().WithField("err", err).Error("shutting down the server")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server with a timeout of 10 seconds.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	sig := <-quit
	log.Log().WithField("signal", sig).Info("received signal")
	cancel()

	shutdownCtx, shutdownCancel := ctx.WithTimeout(ctx.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Log().WithField("err", err).Error("shutting down the server")
	} else {
		log.Log().Info("shutdown server successfully")
	}
}
