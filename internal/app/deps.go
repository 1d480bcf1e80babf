package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/complicesconecta/backend/internal/access"
	"github.com/complicesconecta/backend/internal/auth"
	"github.com/complicesconecta/backend/internal/config"
	"github.com/complicesconecta/backend/internal/db"
	"github.com/complicesconecta/backend/internal/handlers"
	"github.com/complicesconecta/backend/internal/middleware"
	"github.com/complicesconecta/backend/internal/models"
	"github.com/complicesconecta/backend/internal/nft"
	"github.com/complicesconecta/backend/internal/notify"
	"github.com/complicesconecta/backend/internal/parental"
	"github.com/complicesconecta/backend/internal/repositories"
	"github.com/complicesconecta/backend/internal/storage"
	"github.com/complicesconecta/backend/internal/wallet"
)

const (
	gateStateTTL     = 24 * time.Hour
	limiterIdleTTL   = 10 * time.Minute
	fixtureJWTSecret = "complices-fixture-secret"
	fixtureMasterKey = "complices-fixture-master-key"
)

// runtime holds everything serve needs besides the HTTP server itself.
type runtime struct {
	deps    handlers.Dependencies
	sweeper *nft.Sweeper
	cleanup func(ctx context.Context) error
}

// stores groups the persistence implementations selected by the data source.
type stores struct {
	pinger    handlers.Pinger
	media     access.MediaStore
	requests  access.RequestStore
	wallets   wallet.Store
	couples   nft.RequestStore
	records   nft.RecordStore
	tokens    nft.TokenAllocator
	objects   storage.ObjectStore
	gateState parental.StateStore
	sink      notify.Sink
}

// buildDependencies wires together concrete implementations used by the HTTP handlers.
func buildDependencies(ctx context.Context, cfg config.Config, logger *slog.Logger) (*runtime, error) {
	var closers []func(context.Context) error
	cleanup := func(ctx context.Context) error {
		var errs []error
		for i := len(closers) - 1; i >= 0; i-- {
			errs = append(errs, closers[i](ctx))
		}
		return errors.Join(errs...)
	}

	var (
		s   stores
		err error
	)
	switch cfg.DataSource {
	case config.DataSourceFixture:
		s = fixtureStores(logger)
		if cfg.Auth.JWTSecret == "" {
			cfg.Auth.JWTSecret = fixtureJWTSecret
		}
		if cfg.Wallet.MasterKey == "" {
			cfg.Wallet.MasterKey = fixtureMasterKey
		}
	default:
		s, closers, err = liveStores(ctx, cfg, logger)
		if err != nil {
			_ = cleanup(ctx)
			return nil, err
		}
	}

	tokens, err := auth.NewTokenService(cfg.Auth.JWTSecret, cfg.Auth.Issuer)
	if err != nil {
		_ = cleanup(ctx)
		return nil, err
	}

	cipher, err := wallet.NewCipher(cfg.Wallet.MasterKey, cfg.Wallet.Salt)
	if err != nil {
		_ = cleanup(ctx)
		return nil, fmt.Errorf("wallet cipher: %w", err)
	}

	pin, err := parental.NewBcryptPIN(cfg.Parental.PIN, 0)
	if err != nil {
		_ = cleanup(ctx)
		return nil, fmt.Errorf("hash parental pin: %w", err)
	}
	gates, err := parental.NewManager(s.gateState, pin, nil, parental.Level(cfg.Parental.DefaultLevel), logger)
	if err != nil {
		_ = cleanup(ctx)
		return nil, err
	}
	gates.WithEviction(cfg.Parental.IdleTTL, cfg.Parental.MaxGates)

	dispatcher := notify.NewDispatcher(s.sink, notify.DispatcherConfig{
		QueueSize: cfg.Notifications.QueueSize,
		Workers:   cfg.Notifications.Workers,
	}, logger)

	ledger := access.NewLedger(s.requests, dispatcher, cfg.RemoteTimeout)
	wallets := wallet.NewRegistry(s.wallets, wallet.EthSigner{}, cipher, cfg.RemoteTimeout)
	network := models.Network(cfg.Wallet.Network)
	engine := nft.NewEngine(nft.Dependencies{
		Requests: s.couples,
		Records:  s.records,
		Tokens:   s.tokens,
		Wallets:  wallets,
		Objects:  s.objects,
		Notifier: dispatcher,
	}, nft.Config{Network: network, TTL: cfg.CoupleRequestTTL, Timeout: cfg.RemoteTimeout})
	sweeper := nft.NewSweeper(engine, cfg.ExpirySweepInterval, logger)

	// Closers run in reverse: gates stop persisting before the dispatcher drains and the sinks close.
	closers = append(closers, func(ctx context.Context) error {
		return dispatcher.Shutdown(ctx)
	}, func(context.Context) error {
		gates.CloseAll()
		return nil
	})

	return &runtime{
		deps: handlers.Dependencies{
			DB:      s.pinger,
			Tokens:  tokens,
			Limiter: middleware.NewIPRateLimiter(cfg.RateLimit.Requests, cfg.RateLimit.Window, cfg.RateLimit.Burst, limiterIdleTTL),
			Gallery: access.NewEngine(s.media, ledger),
			Ledger:  ledger,
			Gates:   gates,
			Wallets: wallets,
			NFTs:    engine,
			Network: network,
		},
		sweeper: sweeper,
		cleanup: cleanup,
	}, nil
}

func liveStores(ctx context.Context, cfg config.Config, logger *slog.Logger) (stores, []func(context.Context) error, error) {
	var closers []func(context.Context) error

	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return stores{}, closers, err
	}
	closers = append(closers, func(context.Context) error {
		pool.Close()
		return nil
	})

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	closers = append(closers, func(context.Context) error { return client.Close() })

	pingCtx, cancel := context.WithTimeout(ctx, cfg.RemoteTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return stores{}, closers, fmt.Errorf("connect redis at %s: %w", cfg.Redis.Addr, err)
	}

	objects, err := storage.NewS3Store(ctx, cfg.ObjectStore)
	if err != nil {
		return stores{}, closers, err
	}

	var sink notify.Sink = notify.LogSink{Logger: logger}
	if len(cfg.Kafka.Brokers) > 0 {
		kafka, err := notify.NewKafkaSink(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		if err != nil {
			return stores{}, closers, err
		}
		closers = append(closers, func(context.Context) error { return kafka.Close() })
		sink = kafka
	} else {
		logger.Warn("no kafka brokers configured, notifications are only logged")
	}

	couples := repositories.NewPostgresCoupleRequestRepository(pool)
	records := repositories.NewPostgresNFTRepository(pool)
	return stores{
		pinger:    pool,
		media:     repositories.NewPostgresMediaRepository(pool),
		requests:  repositories.NewPostgresAccessRequestRepository(pool),
		wallets:   repositories.NewPostgresWalletRepository(pool),
		couples:   couples,
		records:   records,
		tokens:    records,
		objects:   objects,
		gateState: parental.NewRedisStateStore(client, gateStateTTL),
		sink:      sink,
	}, closers, nil
}

func fixtureStores(logger *slog.Logger) stores {
	nftStore := nft.NewInMemoryStore()
	return stores{
		media:     access.NewInMemoryMediaStore(fixtureMedia()...),
		requests:  access.NewInMemoryRequestStore(),
		wallets:   wallet.NewInMemoryStore(),
		couples:   nftStore,
		records:   nftStore,
		tokens:    nftStore,
		objects:   storage.NewInMemoryStore(),
		gateState: parental.NewInMemoryStateStore(),
		sink:      notify.LogSink{Logger: logger},
	}
}

// fixtureMedia mirrors seeds/dev_seed.sql so both data sources serve the same demo galleries.
func fixtureMedia() []models.MediaItem {
	base := time.Date(2024, time.January, 1, 12, 0, 0, 0, time.UTC)
	return []models.MediaItem{
		{ID: "media-ana-1", OwnerID: "ana", IsPublic: true, URI: "https://cdn.complices.test/ana/beach.jpg", CreatedAt: base},
		{ID: "media-ana-2", OwnerID: "ana", IsPublic: false, URI: "https://cdn.complices.test/ana/private-1.jpg", CreatedAt: base.Add(time.Hour)},
		{ID: "media-ana-3", OwnerID: "ana", IsPublic: false, Gated: true, URI: "https://cdn.complices.test/ana/private-2.jpg", CreatedAt: base.Add(2 * time.Hour)},
		{ID: "media-luis-1", OwnerID: "luis", IsPublic: true, Gated: true, URI: "https://cdn.complices.test/luis/party.jpg", CreatedAt: base.Add(3 * time.Hour)},
		{ID: "media-luis-2", OwnerID: "luis", IsPublic: false, URI: "https://cdn.complices.test/luis/private-1.jpg", CreatedAt: base.Add(4 * time.Hour)},
	}
}
