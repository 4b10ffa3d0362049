// README: Entry point; loads config, wires stores and services, starts the HTTP server and event relay.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"dispatch/internal/auth"
	"dispatch/internal/config"
	httptransport "dispatch/internal/http"
	"dispatch/internal/infra"
	"dispatch/internal/modules/order"
	"dispatch/internal/modules/user"
	"dispatch/internal/notify"
	"dispatch/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	logger := infra.NewLogger(cfg.Log.Level, cfg.Log.Pretty)
	decimal.MarshalJSONWithoutQuotes = true

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("dispatch-api stopped")
	}
}

func run(ctx context.Context, cfg config.Config, logger zerolog.Logger) error {
	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	tokens, err := auth.NewJWT(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	if err != nil {
		return err
	}

	hub := notify.NewHub(logger, cfg.HTTP.CORSOrigins...)
	var (
		publisher notify.Publisher = hub
		cache     user.Cache       = user.NopCache{}
	)
	if cfg.Redis.Addr != "" {
		rdb, err := infra.NewRedis(ctx, cfg.Redis.Addr)
		if err != nil {
			return err
		}
		defer rdb.Close()
		publisher = notify.NewRedisPublisher(rdb)
		cache = user.NewRedisCache(rdb, logger)
		go func() {
			if err := notify.Relay(ctx, rdb, hub, logger); err != nil {
				logger.Error().Err(err).Msg("event relay stopped")
			}
		}()
	}
	events := notify.NewNotifier(publisher, logger,
		notify.WithQueue(cfg.Dispatch.EventQueue),
		notify.WithPublishTimeout(cfg.Dispatch.PublishTimeout),
	)
	eventsCtx, stopEvents := context.WithCancel(ctx)
	eventsDone := make(chan struct{})
	go func() {
		defer close(eventsDone)
		events.Run(eventsCtx)
	}()
	defer func() {
		stopEvents()
		<-eventsDone
	}()

	userSvc := user.NewService(store.Users(), tokens,
		user.WithCache(cache),
		user.WithEmitter(events),
		user.WithLogger(logger),
		user.WithMaxAttempts(cfg.Dispatch.MaxAttempts),
	)
	orderSvc := order.NewService(store,
		order.WithEmitter(events),
		order.WithUserCache(cache),
		order.WithLogger(logger),
		order.WithConfig(order.Config{
			DefaultETA:  cfg.Dispatch.DefaultETA,
			MaxAttempts: cfg.Dispatch.MaxAttempts,
			ClockSkew:   cfg.Dispatch.ClockSkew,
		}),
	)

	server := httptransport.NewServer(httptransport.ServerDeps{
		Addr:        cfg.HTTP.Addr,
		CORSOrigins: cfg.HTTP.CORSOrigins,
		Order:       orderSvc,
		User:        userSvc,
		Hub:         hub,
		Verifier:    tokens,
		Log:         logger,
	})
	return server.Run(ctx)
}

func openStore(ctx context.Context, cfg config.Config, logger zerolog.Logger) (order.Store, func(), error) {
	if cfg.Store == "memory" {
		logger.Warn().Msg("using in-memory store; data is lost on exit")
		return storage.NewMemory(), func() {}, nil
	}
	if err := infra.Migrate(storage.Migrations, storage.MigrationsDir, cfg.DB.DSN, logger); err != nil {
		return nil, nil, err
	}
	pool, err := infra.NewDB(ctx, infra.PoolConfig{DSN: cfg.DB.DSN, MaxConns: int32(cfg.DB.MaxConns)})
	if err != nil {
		return nil, nil, err
	}
	return storage.NewPostgres(pool), pool.Close, nil
}
