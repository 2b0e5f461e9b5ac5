package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"

	"github.com/baechuer/turn-bridge/internal/claims"
	"github.com/baechuer/turn-bridge/internal/config"
	"github.com/baechuer/turn-bridge/internal/consumer"
	"github.com/baechuer/turn-bridge/internal/ingest"
	"github.com/baechuer/turn-bridge/internal/logger"
	"github.com/baechuer/turn-bridge/internal/publisher"
	"github.com/baechuer/turn-bridge/internal/transport/rest"
	"github.com/baechuer/turn-bridge/internal/turn"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}

	if cfg.LogLevel != "" {
		_ = os.Setenv("LOG_LEVEL", cfg.LogLevel)
	}
	logger.Init()
	log := logger.Logger.With().
		Str("service", "turn-bridge").
		Str("env", cfg.AppEnv).
		Logger()

	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{Dsn: cfg.SentryDSN}); err != nil {
			log.Warn().Err(err).Msg("sentry init failed (continuing)")
		} else {
			defer sentry.Flush(2 * time.Second)
		}
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- RabbitMQ ----
	amqpConn, err := amqp.Dial(cfg.AMQPURL)
	if err != nil {
		log.Fatal().Err(err).Msg("amqp dial failed")
	}
	defer amqpConn.Close()
	log.Info().Msg("amqp connected")

	pub, err := publisher.New(amqpConn, cfg.TransportName, cfg.PublishTimeout)
	if err != nil {
		log.Fatal().Err(err).Msg("publisher setup failed")
	}
	defer pub.Close()

	// ---- Redis (optional) ----
	var rdb *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.Fatal().Err(err).Msg("invalid REDIS_URL")
		}
		rdb = redis.NewClient(opts)
		defer rdb.Close()

		pingCtx, cancel := context.WithTimeout(rootCtx, 2*time.Second)
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			log.Warn().Err(err).Msg("redis ping failed (continuing)")
		} else {
			log.Info().Msg("redis connected")
		}
		cancel()
	} else {
		log.Info().Msg("no REDIS_URL; dedup, claims and reaper disabled")
	}
	registry := claims.New(rdb)

	// ---- Turn API client + outbound consumer ----
	api := turn.New("https://"+cfg.APIHost, cfg.APIToken, cfg.ConsumeTimeout, cfg.Concurrency)
	cons := consumer.New(amqpConn, api, registry, cfg.TransportName, cfg.Concurrency)
	if err := cons.Start(rootCtx); err != nil {
		log.Fatal().Err(err).Msg("consumer start failed")
	}
	defer cons.Close()

	// ---- Session-timeout reaper ----
	var reaper *publisher.Reaper
	if rdb != nil {
		reaper = publisher.NewReaper(registry, pub, cfg.TransportName, cfg.WhatsAppNumber)
		reaper.Start(rootCtx)
		log.Info().Msg("reaper started")
	}

	// ---- HTTP server ----
	ingestor := ingest.New(pub, rdb, registry, cfg.LockTimeout, cfg.DeduplicationWindow)
	webhook := rest.NewWebhookHandler(ingestor, pub, cfg.TransportName, cfg.WhatsAppNumber)
	health := rest.NewHealthHandler(amqpConn, rdb)

	srv := &http.Server{
		Addr: fmt.Sprintf(":%d", cfg.Port),
		Handler: rest.NewRouter(rest.RouterDeps{
			Webhook:    webhook,
			Health:     health,
			HMACSecret: cfg.HMACSecret,
		}),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      20 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Int("port", cfg.Port).Msg("http server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-rootCtx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		log.Error().Err(err).Msg("http server crashed")
	}

	// The reaper must stop before the AMQP connection goes away so its
	// final tick cannot publish into a closed channel.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	if reaper != nil {
		reaper.Stop()
	}
	log.Info().Msg("shutdown complete")
}
