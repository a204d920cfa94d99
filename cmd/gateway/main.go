package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/kursadbilgin/notify-sync/internal/config"
	"github.com/kursadbilgin/notify-sync/internal/hub"
	"github.com/kursadbilgin/notify-sync/internal/observability"
	"github.com/kursadbilgin/notify-sync/internal/queue"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	shutdownTimeout   = 10 * time.Second
	readHeaderTimeout = 5 * time.Second
)

func main() {
	cfg, err := config.LoadGateway()
	if err != nil {
		log.Fatal("failed to load config: ", err)
	}

	logger, err := observability.NewLogger(observability.LoggerConfig{
		Level:   cfg.LogLevel,
		Format:  cfg.LogFormat,
		Service: "gateway",
	})
	if err != nil {
		log.Fatal("failed to initialize logger: ", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("realtime gateway stopped with error", zap.Error(err))
	}
	logger.Info("realtime gateway stopped")
}

func run(ctx context.Context, cfg *config.GatewayConfig, logger *zap.Logger) error {
	metrics := observability.NewMetrics()

	rabbit, err := queue.NewRabbitMQ(ctx, cfg.RabbitMQURL, logger)
	if err != nil {
		return fmt.Errorf("rabbitmq initialization failed: %w", err)
	}
	defer rabbit.Close() //nolint:errcheck

	publisher := queue.NewRabbitMQPublisher(rabbit)
	defer publisher.Close() //nolint:errcheck

	consumer := queue.NewRabbitMQConsumer(rabbit, cfg.RelayPrefetch, logger)
	defer consumer.Close() //nolint:errcheck

	verifier, err := hub.NewTokenVerifier(cfg.AuthSecret)
	if err != nil {
		return fmt.Errorf("token verifier initialization failed: %w", err)
	}

	h, err := hub.NewHub(
		verifier,
		hub.NewControlPublisher(publisher),
		cfg.PingPeriod,
		cfg.PongTimeout,
		cfg.Origins(),
		metrics,
		logger,
	)
	if err != nil {
		return fmt.Errorf("hub initialization failed: %w", err)
	}
	defer h.Close()

	relay, err := hub.NewPushRelay(consumer, h, cfg.RelayWorkers, logger)
	if err != nil {
		return fmt.Errorf("push relay initialization failed: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/ws/", h)
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/livez", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		if !rabbit.Connected() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.GatewayPort),
		Handler:           mux,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	g, groupCtx := errgroup.WithContext(ctx)
	g.Go(func() error { return relay.Start(groupCtx) })
	g.Go(func() error {
		logger.Info("realtime gateway started", zap.Int("port", cfg.GatewayPort))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("gateway server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-groupCtx.Done()
		logger.Info("shutting down realtime gateway")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
