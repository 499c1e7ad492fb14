package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/fathima-sithara/sortie-chat/internal/api"
	"github.com/fathima-sithara/sortie-chat/internal/auth"
	"github.com/fathima-sithara/sortie-chat/internal/config"
	"github.com/fathima-sithara/sortie-chat/internal/discovery"
	"github.com/fathima-sithara/sortie-chat/internal/events"
	"github.com/fathima-sithara/sortie-chat/internal/kafka"
	"github.com/fathima-sithara/sortie-chat/internal/membership"
	"github.com/fathima-sithara/sortie-chat/internal/notify"
	"github.com/fathima-sithara/sortie-chat/internal/presence"
	"github.com/fathima-sithara/sortie-chat/internal/repository"
	"github.com/fathima-sithara/sortie-chat/internal/service"
	"github.com/fathima-sithara/sortie-chat/internal/storage"
	"github.com/fathima-sithara/sortie-chat/internal/store"
	"github.com/fathima-sithara/sortie-chat/internal/utils"
	"github.com/fathima-sithara/sortie-chat/internal/ws"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
)

func main() {
	cfgPath := flag.String("config", "config/config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("config load: %v", err)
	}

	zl, err := utils.NewLogger(cfg.IsDev())
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer zl.Sync()
	logger := zl.Sugar().With("instance", cfg.App.InstanceID)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	validator, err := auth.NewValidator(cfg.JWT.Alg, cfg.JWT.HSSecret, cfg.JWT.PublicKeyPath)
	if err != nil {
		logger.Fatalw("jwt validator", "err", err)
	}

	// storage
	var (
		st    *repository.Store
		ready func(context.Context) error
	)
	switch cfg.Storage.Driver {
	case "memory":
		logger.Warn("using in-memory storage; data is lost on restart")
		st = store.NewMemoryStore().Store()
	default:
		mc, err := repository.Connect(ctx, cfg.Mongo.URI, cfg.RequestTimeout)
		if err != nil {
			logger.Fatalw("mongo connect", "err", err)
		}
		defer func() { _ = mc.Disconnect(context.Background()) }()
		st, err = repository.NewMongoStore(ctx, mc, mc.Database(cfg.Mongo.Database), repository.Collections{
			Chats:          cfg.Mongo.ChatsCollection,
			Conversations:  cfg.Mongo.ConversationsCollection,
			Messages:       cfg.Mongo.MessagesCollection,
			DirectMessages: cfg.Mongo.DirectMessagesCollection,
			Polls:          cfg.Mongo.PollsCollection,
			Users:          cfg.Mongo.UsersCollection,
			Participations: cfg.Mongo.ParticipationsCollection,
		}, cfg.RequestTimeout, cfg.Mongo.Transactions)
		if err != nil {
			logger.Fatalw("mongo store", "err", err)
		}
		ready = mongoReady(mc)
		logger.Infow("connected to mongo", "database", cfg.Mongo.Database)
	}

	memberOpts := []membership.Option{}
	if st.Participations != nil {
		memberOpts = append(memberOpts, membership.WithParticipationLookup(st.Participations))
	}

	// redis: membership cache and shared presence
	var pres ws.Presence
	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Pass,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Warnw("redis unreachable; continuing without cache", "addr", cfg.Redis.Addr, "err", err)
		} else {
			memberOpts = append(memberOpts, membership.WithCache(rdb, cfg.Redis.Prefix, cfg.MembershipTTL))
			pres = presence.NewStore(rdb, cfg.Redis.Prefix, 0)
		}
	}
	members := membership.NewStore(st.Chats, st.Conversations, logger, memberOpts...)

	// kafka: cross-instance relay, push notifications, activity events
	var (
		hubOpts  []ws.HubOption
		notifier notify.Dispatcher = notify.Nop{}
		relay    *kafka.RoomRelay
	)
	if cfg.Kafka.Enabled {
		relay = kafka.NewRoomRelay(cfg.Kafka.Brokers, cfg.Kafka.TopicRoomEvents, cfg.Kafka.GroupID, cfg.App.InstanceID, logger)
		defer relay.Close()
		hubOpts = append(hubOpts, ws.WithRelay(relay, cfg.RequestTimeout))

		pushProd := kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicNotifications, true)
		defer pushProd.Close()
		notifier = notify.NewBreakerDispatcher(pushProd, cfg.Notify.BreakerMaxFailures, cfg.BreakerOpen, logger)
	}

	hub := ws.NewHub(logger, hubOpts...)
	svc := service.New(service.Deps{
		Store:         st,
		Members:       members,
		Hub:           hub,
		Notifier:      notifier,
		Log:           logger,
		NotifyTimeout: cfg.NotifyTimeout,
	})

	if cfg.Kafka.Enabled {
		go func() {
			if err := relay.Run(ctx, hub); err != nil && !errors.Is(err, context.Canceled) {
				logger.Errorw("room relay stopped", "err", err)
			}
		}()
		activity := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicActivityEvents, cfg.Kafka.GroupID, logger)
		defer activity.Close()
		go func() {
			if err := activity.Start(ctx, events.NewActivityHandler(svc.Chats, logger).Handle); err != nil && !errors.Is(err, context.Canceled) {
				logger.Errorw("activity consumer stopped", "err", err)
			}
		}()
	}

	realtime := ws.NewServer(ws.Config{
		PingInterval:   cfg.PingInterval,
		WriteDeadline:  cfg.WriteDeadline,
		RequestTimeout: cfg.RequestTimeout,
		SendBuffer:     cfg.WS.SendBuffer,
		RecentOnJoin:   cfg.WS.RecentOnJoin,
		RatePerMinute:  cfg.RateLimit.PerMinute,
		RateBurst:      cfg.RateLimit.Burst,
	}, hub, validator, svc, members, pres, logger)

	var media *storage.MediaUploader
	if cfg.S3.Enabled {
		blobs, err := storage.NewS3Store(ctx, cfg.S3.Region, cfg.S3.Bucket, cfg.S3.Endpoint, cfg.S3.PublicBaseURL)
		if err != nil {
			logger.Fatalw("s3 store", "err", err)
		}
		media = storage.NewMediaUploader(blobs, cfg.S3.ThumbWidth, int64(cfg.S3.MaxUploadMB)<<20, logger)
	}

	limiter := api.NewUserRateLimiter(cfg.RateLimit.PerMinute, cfg.RateLimit.Burst, logger)
	go limiter.Run(ctx)

	app := api.NewApp(api.Deps{
		Services:       svc,
		Realtime:       realtime,
		Validator:      validator,
		Media:          media,
		Limiter:        limiter,
		Log:            logger,
		RequestTimeout: cfg.RequestTimeout,
		MaxFrameBytes:  cfg.WS.MaxMessageSizeBytes,
		BodyLimit:      (cfg.S3.MaxUploadMB + 1) << 20,
		Ready:          ready,
	})

	go func() {
		addr := fmt.Sprintf(":%d", cfg.App.Port)
		logger.Infow("sortie-chat listening", "addr", addr, "storage", cfg.Storage.Driver)
		if err := app.Listen(addr); err != nil {
			logger.Errorw("server stopped", "err", err)
			stop()
		}
	}()

	if cfg.Consul.Enabled {
		reg, err := discovery.NewRegistrar(cfg.Consul.Address, logger)
		if err != nil {
			logger.Warnw("consul client", "err", err)
		} else if err := reg.Register(cfg.Consul.ServiceName, cfg.App.InstanceID, cfg.Consul.ServiceHost, cfg.App.Port); err != nil {
			logger.Warnw("consul registration failed", "err", err)
		} else {
			defer func() { _ = reg.Deregister() }()
		}
	}

	<-ctx.Done()
	logger.Info("shutdown signal received, shutting down...")

	sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := app.ShutdownWithContext(sctx); err != nil {
		logger.Warnw("http shutdown", "err", err)
	}
	logger.Info("sortie-chat stopped")
}

func mongoReady(mc *mongo.Client) func(context.Context) error {
	return func(ctx context.Context) error {
		return mc.Ping(ctx, nil)
	}
}
