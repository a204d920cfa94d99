package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/kursadbilgin/notify-sync/internal/config"
	"github.com/kursadbilgin/notify-sync/internal/connectivity"
	"github.com/kursadbilgin/notify-sync/internal/domain"
	"github.com/kursadbilgin/notify-sync/internal/handler"
	"github.com/kursadbilgin/notify-sync/internal/infra/postgresql"
	"github.com/kursadbilgin/notify-sync/internal/infra/postgresql/migrations"
	infraredis "github.com/kursadbilgin/notify-sync/internal/infra/redis"
	"github.com/kursadbilgin/notify-sync/internal/observability"
	"github.com/kursadbilgin/notify-sync/internal/provider"
	"github.com/kursadbilgin/notify-sync/internal/ratelimit"
	"github.com/kursadbilgin/notify-sync/internal/realtime"
	"github.com/kursadbilgin/notify-sync/internal/repository"
	"github.com/kursadbilgin/notify-sync/internal/service"
	"github.com/kursadbilgin/notify-sync/internal/transport"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	shutdownTimeout   = 10 * time.Second
	notificationTopic = "notifications"
)

type storage struct {
	snapshots repository.SnapshotStore
	attempts  repository.AttemptRepository
	limiter   ratelimit.RateLimiter
	sqlDB     *sql.DB
	rdb       *redis.Client
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load config: ", err)
	}

	logger, err := observability.NewLogger(observability.LoggerConfig{
		Level:   cfg.LogLevel,
		Format:  cfg.LogFormat,
		Service: "syncd",
	})
	if err != nil {
		log.Fatal("failed to initialize logger: ", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("notify-sync agent stopped with error", zap.Error(err))
	}
	logger.Info("notify-sync agent stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	metrics := observability.NewMetrics()

	store, err := openStorage(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.close()

	tokens, err := provider.NewTokenSource(
		store.snapshots,
		repository.Key(cfg.StoreNamespace, repository.AuthTokensKey),
		cfg.APIBaseURL,
		nil,
		logger,
	)
	if err != nil {
		return fmt.Errorf("token source initialization failed: %w", err)
	}

	toasts := service.NewToastBuffer(0)
	registry, err := service.NewNotificationRegistry(
		store.snapshots,
		repository.Key(cfg.StoreNamespace, repository.NotificationsKey),
		service.ToastSinks{toasts, service.NewLogToastSink(logger)},
		logger,
		service.WithRetention(cfg.Retention()),
		service.WithRegistryMetrics(metrics),
		service.WithAlert(func(n domain.Notification) {
			logger.Warn("urgent notification", zap.String("notificationId", n.ID), zap.String("title", n.Title))
		}),
	)
	if err != nil {
		return fmt.Errorf("notification registry initialization failed: %w", err)
	}

	sweeper, err := service.NewRetentionSweeper(registry, cfg.SweepInterval, logger)
	if err != nil {
		return fmt.Errorf("retention sweeper initialization failed: %w", err)
	}

	// Start offline so the first successful check replays actions persisted
	// by an earlier run.
	monitor := connectivity.NewMonitor(false)
	prober, err := connectivity.NewProber(cfg.ProbeTarget(), monitor, cfg.ProbeInterval, nil, logger)
	if err != nil {
		return fmt.Errorf("connectivity prober initialization failed: %w", err)
	}

	replayer, err := provider.NewHTTPReplayer(cfg.APIBaseURL, tokens, store.limiter, cfg.ReplayTimeout, logger)
	if err != nil {
		return fmt.Errorf("replayer initialization failed: %w", err)
	}

	queueOpts := []service.QueueOption{
		service.WithReplayConcurrency(cfg.ReplayConcurrency),
		service.WithReplayTimeout(cfg.ReplayTimeout),
		service.WithConnectivity(monitor),
		service.WithQueueMetrics(metrics),
	}
	if store.attempts != nil {
		queueOpts = append(queueOpts, service.WithAttemptRecorder(store.attempts))
	}
	offlineQueue, err := service.NewOfflineQueue(
		store.snapshots,
		repository.Key(cfg.StoreNamespace, repository.OfflineActionsKey),
		replayer,
		logger,
		queueOpts...,
	)
	if err != nil {
		return fmt.Errorf("offline queue initialization failed: %w", err)
	}

	trigger, err := service.NewReplayTrigger(offlineQueue, monitor, func(result service.ReplayResult) {
		if result.SuccessCount > 0 {
			_, _ = registry.ShowToast(
				fmt.Sprintf("%d offline change(s) synced", result.SuccessCount),
				domain.TypeSuccess,
				0,
			)
		}
	}, logger)
	if err != nil {
		return fmt.Errorf("replay trigger initialization failed: %w", err)
	}

	scanner, err := service.NewStaleRetryScanner(offlineQueue, monitor, cfg.StaleScanInterval, cfg.StaleAfter, logger)
	if err != nil {
		return fmt.Errorf("stale retry scanner initialization failed: %w", err)
	}

	channels, updates, feed, err := newChannels(cfg, tokens, registry, monitor, metrics, logger)
	if err != nil {
		return err
	}

	g, groupCtx := errgroup.WithContext(ctx)

	connectAll := func() {
		for _, ch := range channels {
			ch.Reconnect(groupCtx)
		}
	}
	closeAll := func() {
		for _, ch := range channels {
			ch.Close()
		}
	}
	tokens.OnSessionExpired(func() {
		go closeAll()
	})

	app := newAPI(logger, metrics)
	if err := registerRoutes(app, store, registry, toasts, offlineQueue, tokens, channels, updates, feed, metrics, func(signedIn bool) {
		if signedIn {
			connectAll()
			return
		}
		closeAll()
	}); err != nil {
		return err
	}

	g.Go(func() error { return sweeper.Start(groupCtx) })
	g.Go(func() error { return prober.Start(groupCtx) })
	g.Go(func() error { return trigger.Start(groupCtx) })
	g.Go(func() error { return scanner.Start(groupCtx) })
	g.Go(func() error {
		for _, ch := range channels {
			ch.Connect(groupCtx)
		}
		<-groupCtx.Done()
		closeAll()
		return nil
	})
	g.Go(func() error {
		logger.Info("notify-sync api started", zap.Int("port", cfg.APIPort))
		if err := app.Listen(fmt.Sprintf(":%d", cfg.APIPort)); err != nil {
			return fmt.Errorf("api server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-groupCtx.Done()
		logger.Info("shutting down notify-sync api")
		return app.ShutdownWithTimeout(shutdownTimeout)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func openStorage(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*storage, error) {
	store := &storage{limiter: ratelimit.Unlimited{}}

	switch cfg.StoreBackend {
	case config.StoreBackendRedis:
		rdb, err := infraredis.NewRedis(ctx, cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("redis initialization failed: %w", err)
		}
		store.rdb = rdb

		snapshots, err := infraredis.NewSnapshotStore(rdb)
		if err != nil {
			store.close()
			return nil, fmt.Errorf("redis snapshot store initialization failed: %w", err)
		}
		store.snapshots = snapshots

		if cfg.ReplayRatePerSec > 0 {
			limiter, err := infraredis.NewRedisRateLimiter(rdb, cfg.StoreNamespace+":replay", cfg.ReplayRatePerSec)
			if err != nil {
				store.close()
				return nil, fmt.Errorf("replay rate limiter initialization failed: %w", err)
			}
			store.limiter = limiter
		}

	case config.StoreBackendPostgres:
		db, sqlDB, err := postgresql.NewPostgres(cfg.DatabaseDSN)
		if err != nil {
			return nil, fmt.Errorf("postgres initialization failed: %w", err)
		}
		store.sqlDB = sqlDB

		if err := migrations.Migrate(db); err != nil {
			store.close()
			return nil, fmt.Errorf("database migrations failed: %w", err)
		}
		store.snapshots = repository.NewGormSnapshotStore(db)
		store.attempts = repository.NewGormAttemptRepo(db)

	default:
		logger.Warn("using in-memory store, state is lost on exit")
		store.snapshots = repository.NewMemoryStore()
	}

	return store, nil
}

func (s *storage) close() {
	if s.rdb != nil {
		_ = s.rdb.Close()
	}
	if s.sqlDB != nil {
		_ = s.sqlDB.Close()
	}
}

func newChannels(
	cfg *config.Config,
	tokens *provider.TokenSource,
	registry *service.NotificationRegistry,
	monitor *connectivity.Monitor,
	metrics *observability.Metrics,
	logger *zap.Logger,
) ([]*realtime.Channel, map[string]handler.UpdateSource, *realtime.NotificationFeed, error) {
	dialer := realtime.NewWebsocketDialer(cfg.HandshakeTimeout)

	var (
		channels []*realtime.Channel
		feed     *realtime.NotificationFeed
	)
	updates := make(map[string]handler.UpdateSource)
	for _, topic := range cfg.Topics() {
		ch, err := realtime.NewChannel(topic, cfg.WSBaseURL, dialer, tokens.AccessToken, logger,
			realtime.WithMaxAttempts(cfg.ReconnectMaxAttempts),
			realtime.WithBaseDelay(cfg.ReconnectBaseDelay),
			realtime.WithChannelMetrics(metrics),
		)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("realtime channel %q initialization failed: %w", topic, err)
		}

		switch topic {
		case notificationTopic:
			feed = realtime.NewNotificationFeed(ch, registry, logger)
			// An open notifications channel proves the backend is reachable.
			ch.OnState(func(state realtime.State) {
				if state == realtime.StateOpen {
					monitor.Set(true)
				}
			})
		default:
			updates[topic] = realtime.NewDashboardFeed(ch, realtime.DefaultDashboardHistory)
		}
		channels = append(channels, ch)
	}
	return channels, updates, feed, nil
}

func newAPI(logger *zap.Logger, metrics *observability.Metrics) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "notify-sync",
		DisableStartupMessage: true,
		ErrorHandler:          transport.ErrorHandler(logger),
	})
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(metrics.HTTPMiddleware())
	return app
}

func registerRoutes(
	app *fiber.App,
	store *storage,
	registry *service.NotificationRegistry,
	toasts *service.ToastBuffer,
	offlineQueue *service.OfflineQueue,
	tokens *provider.TokenSource,
	channels []*realtime.Channel,
	updates map[string]handler.UpdateSource,
	feed *realtime.NotificationFeed,
	metrics *observability.Metrics,
	onSessionChange func(signedIn bool),
) error {
	handler.RegisterHealthRoutes(app, store.sqlDB, store.rdb, metrics)

	var serverFeed handler.ServerFeed
	if feed != nil {
		serverFeed = feed
	}
	if err := handler.RegisterNotificationRoutes(app, registry, toasts, serverFeed); err != nil {
		return fmt.Errorf("notification routes: %w", err)
	}
	if err := handler.RegisterOfflineRoutes(app, offlineQueue, store.attempts); err != nil {
		return fmt.Errorf("offline routes: %w", err)
	}
	if err := handler.RegisterSessionRoutes(app, tokens, onSessionChange); err != nil {
		return fmt.Errorf("session routes: %w", err)
	}

	realtimeChannels := make([]handler.RealtimeChannel, 0, len(channels))
	for _, ch := range channels {
		realtimeChannels = append(realtimeChannels, ch)
	}
	if err := handler.RegisterRealtimeRoutes(app, realtimeChannels, updates); err != nil {
		return fmt.Errorf("realtime routes: %w", err)
	}
	return nil
}
