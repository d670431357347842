package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/adeilh/rakh-auth/auth"
	"github.com/adeilh/rakh-auth/cache"
	"github.com/adeilh/rakh-auth/cache/memory"
	"github.com/adeilh/rakh-auth/cache/redis"
	"github.com/adeilh/rakh-auth/db/sql/postgres"
	"github.com/adeilh/rakh-auth/httpx"
	"github.com/adeilh/rakh-auth/internal/api"
	"github.com/adeilh/rakh-auth/internal/config"
	"github.com/adeilh/rakh-auth/internal/logctx"
	"github.com/adeilh/rakh-auth/internal/metrics"
)

const sweepInterval = time.Minute

func main() {
	configPath := flag.String("config", "", "path to the YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger := logctx.New(cfg.Env, os.Stdout)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("rakh-auth stopped", slog.Any("err", err))
		os.Exit(1)
	}
	logger.Info("rakh-auth stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	probes := make(map[string]api.Probe)

	users, closeUsers, err := openUsers(ctx, cfg, logger, probes)
	if err != nil {
		return err
	}
	defer closeUsers()

	revocations, events, closeInfra, err := openInfra(ctx, cfg, logger, probes)
	if err != nil {
		return err
	}
	defer closeInfra()

	mgr, err := auth.NewManager(auth.ManagerConfig{
		Secret:           []byte(cfg.Auth.Secret),
		KeyDigest:        cfg.Auth.KeyDigest,
		SigningAlgorithm: cfg.Auth.SigningAlgorithm,
		Issuer:           cfg.Auth.Issuer,
		AccessTTL:        cfg.Auth.AccessTTL(),
		RefreshTTL:       cfg.Auth.RefreshTTL(),
		UserRepository:   users,
		PasswordHasher:   newHasher(cfg.Password),
		Revocations:      revocations,
		Events:           events,
		Cookies: auth.CookieOptions{
			Secure:   cfg.Cookie.Secure,
			SameSite: auth.ParseSameSite(cfg.Cookie.SameSite),
			Domain:   cfg.Cookie.Domain,
		},
		Logger: logger,
	})
	if err != nil {
		return fmt.Errorf("build auth manager: %w", err)
	}

	if err := seed(ctx, cfg.Seed, mgr.Users(), logger); err != nil {
		return fmt.Errorf("seed users: %w", err)
	}

	handler, err := api.New(api.Config{
		Manager: mgr,
		Metrics: metrics.New(),
		Probes:  probes,
		Logger:  logger,
	})
	if err != nil {
		return err
	}

	srv := httpx.NewServer(
		httpx.WithAddress(cfg.HTTP.Addr),
		httpx.WithTimeouts(cfg.HTTP.ReadTimeout, cfg.HTTP.WriteTimeout),
		httpx.WithLogger(logger),
	)
	srv.RegisterRoutes(handler.Register)

	logger.Info("rakh-auth listening",
		slog.String("addr", cfg.HTTP.Addr),
		slog.String("env", cfg.Env),
		slog.Duration("access_ttl", cfg.Auth.AccessTTL()),
		slog.Duration("refresh_ttl", cfg.Auth.RefreshTTL()))
	return srv.Start(ctx, httpx.WithShutdownTimeout(cfg.HTTP.ShutdownTimeout))
}

// openUsers picks postgres when a database URL is configured and an
// in-memory repository otherwise.
func openUsers(ctx context.Context, cfg *config.Config, logger *slog.Logger, probes map[string]api.Probe) (auth.UserRepository, func(), error) {
	if cfg.DB.URL == "" {
		logger.Warn("DATABASE_URL not set, accounts are kept in memory")
		return auth.NewMemoryUserRepository(), func() {}, nil
	}

	db, err := postgres.Open(ctx, postgres.WithDSN(cfg.DB.URL))
	if err != nil {
		return nil, nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := postgres.Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("migrate postgres: %w", err)
	}
	probes["postgres"] = db.PingContext
	logger.Info("postgres user store ready")

	return postgres.NewUserRepository(db), closeDB(db, logger), nil
}

func closeDB(db *sql.DB, logger *slog.Logger) func() {
	return func() {
		if err := db.Close(); err != nil {
			logger.Warn("close postgres", slog.Any("err", err))
		}
	}
}

// openInfra builds the revocation store and the event publisher. Redis backs
// both when configured so every replica shares the deny list and the stream.
func openInfra(ctx context.Context, cfg *config.Config, logger *slog.Logger, probes map[string]api.Probe) (cache.Store, message.Publisher, func(), error) {
	wmLogger := watermill.NewStdLogger(false, false)

	if cfg.Redis.Addr == "" {
		store := memory.New()
		go sweep(ctx, store, logger)

		pubsub := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 64}, wmLogger)
		if err := logEvents(ctx, pubsub, logger); err != nil {
			_ = pubsub.Close()
			return nil, nil, nil, err
		}
		return store, pubsub, func() { _ = pubsub.Close() }, nil
	}

	store := redis.NewStore(redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		Prefix:   "rakh-auth",
	})
	if err := store.Ping(ctx); err != nil {
		_ = store.Close()
		return nil, nil, nil, fmt.Errorf("connect redis: %w", err)
	}
	probes["redis"] = store.Ping

	publisher, err := redisstream.NewPublisher(redisstream.PublisherConfig{Client: store.Client()}, wmLogger)
	if err != nil {
		_ = store.Close()
		return nil, nil, nil, fmt.Errorf("redis stream publisher: %w", err)
	}
	logger.Info("redis revocation store and event stream ready", slog.String("addr", cfg.Redis.Addr))

	return store, publisher, func() {
		if err := publisher.Close(); err != nil {
			logger.Warn("close event publisher", slog.Any("err", err))
		}
		if err := store.Close(); err != nil {
			logger.Warn("close redis", slog.Any("err", err))
		}
	}, nil
}

// logEvents drains the in-process topic so lifecycle events show up in the
// log when no external stream is configured.
func logEvents(ctx context.Context, sub message.Subscriber, logger *slog.Logger) error {
	msgs, err := sub.Subscribe(ctx, auth.EventsTopic)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", auth.EventsTopic, err)
	}
	go func() {
		for msg := range msgs {
			evt, err := auth.DecodeEvent(msg)
			if err != nil {
				logger.Warn("undecodable auth event", slog.String("uuid", msg.UUID), slog.Any("err", err))
				msg.Ack()
				continue
			}
			logger.Debug("auth event",
				slog.String("type", string(evt.Type)),
				slog.String("subject", evt.Subject),
				slog.String("reason", evt.Reason),
				slog.String("request_id", msg.Metadata.Get("request_id")))
			msg.Ack()
		}
	}()
	return nil
}

func sweep(ctx context.Context, store *memory.Store, logger *slog.Logger) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := store.Sweep(); n > 0 {
				logger.Debug("revocations swept", slog.Int("removed", n))
			}
		}
	}
}

func newHasher(cfg config.PasswordConfig) auth.PasswordHasher {
	var opts []auth.HasherOption
	if cfg.Pepper != "" {
		opts = append(opts, auth.WithPepper([]byte(cfg.Pepper)))
	}
	if cfg.Algorithm == "argon2id" {
		return auth.NewArgon2idHasher(auth.DefaultArgon2Params(), opts...)
	}
	return auth.NewBcryptHasher(cfg.BcryptCost, opts...)
}

func seed(ctx context.Context, cfg config.SeedConfig, users *auth.UserService, logger *slog.Logger) error {
	if cfg.UsersFile != "" {
		file, err := auth.LoadSeedFile(cfg.UsersFile)
		if err != nil {
			return err
		}
		n, err := users.Seed(ctx, file, logger)
		if err != nil {
			return err
		}
		logger.Info("seed file applied", slog.String("path", cfg.UsersFile), slog.Int("created", n))
		return nil
	}

	password, err := users.SeedAdmin(ctx, cfg.AdminEmail)
	if err != nil {
		return err
	}
	if password != "" {
		logger.Warn("created initial admin, change this password",
			slog.String("email", auth.NormalizeEmail(cfg.AdminEmail)),
			slog.String("password", password))
	}
	return nil
}
