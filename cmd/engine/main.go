// Command engine wires the full reliable command pipeline: HTTP ingest,
// command bus, outbox relay, sweep scheduler and the inbound executor.
// Grounded on join-service/api/cmd/main.go's pool/router/worker/signal
// wiring, generalized from one fixed domain into a handler.Table driven by
// config.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/baechuer/reliable-command-engine/internal/commandbus"
	"github.com/baechuer/reliable-command-engine/internal/config"
	"github.com/baechuer/reliable-command-engine/internal/executor"
	"github.com/baechuer/reliable-command-engine/internal/handler"
	"github.com/baechuer/reliable-command-engine/internal/logx"
	"github.com/baechuer/reliable-command-engine/internal/outbox"
	"github.com/baechuer/reliable-command-engine/internal/relay"
	"github.com/baechuer/reliable-command-engine/internal/store/postgres"
	"github.com/baechuer/reliable-command-engine/internal/sweep"
	"github.com/baechuer/reliable-command-engine/internal/syncwait"
	"github.com/baechuer/reliable-command-engine/internal/transport/broker/rabbitmq"
	"github.com/baechuer/reliable-command-engine/internal/transport/eventbus/redisstream"
	"github.com/baechuer/reliable-command-engine/internal/transport/rest"
	"github.com/jackc/pgx/v5/pgxpool"
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
	logx.Init()
	log := logx.Logger.With().Str("service", "reliable-command-engine").Str("env", cfg.AppEnv).Logger()

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- Postgres ----
	dbPool, err := pgxpool.New(rootCtx, cfg.DBDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("postgres pool create failed")
	}
	defer dbPool.Close()

	{
		pingCtx, cancel := context.WithTimeout(rootCtx, 5*time.Second)
		defer cancel()
		if err := dbPool.Ping(pingCtx); err != nil {
			log.Fatal().Err(err).Msg("postgres ping failed")
		}
		log.Info().Msg("postgres connected")
	}

	commands := postgres.NewCommandStore()
	inbox := postgres.NewInboxStore()
	outboxes := postgres.NewOutboxStore()
	dlq := postgres.NewDlqStore()
	naming := outbox.Naming{
		CommandPrefix: cfg.CommandPrefix,
		QueueSuffix:   cfg.QueueSuffix,
		ReplyQueue:    cfg.ReplyQueue,
		EventPrefix:   cfg.EventPrefix,
	}

	// ---- Broker transports ----
	commandQueue, err := rabbitmq.Dial(cfg.RabbitURL)
	if err != nil {
		log.Fatal().Err(err).Msg("rabbitmq dial failed")
	}
	defer commandQueue.Close()

	events := redisstream.New(cfg.RedisAddr, cfg.RedisPass, cfg.RedisDB, 100000)
	defer events.Close()

	// ---- Relay, fast path, command bus, executor ----
	r := relay.New(dbPool, outboxes, commandQueue, events, relay.Config{
		BatchSize:  cfg.SweepBatchSize,
		MaxBackoff: cfg.MaxBackoff,
		Claimer:    "engine",
	})
	fastPath := relay.NewFastPath(r)

	bus := commandbus.New(dbPool, commands, outboxes, fastPath, naming)

	handlers := handler.Table{
		"CreateUser": newCreateUserHandler(),
	}
	exec := executor.New(dbPool, commands, inbox, outboxes, dlq, fastPath, naming, handlers, cfg.CommandLease)

	// ---- Inbound command consumers, one queue per registered handler ----
	handlerNames := make([]string, 0, len(handlers))
	for name := range handlers {
		handlerNames = append(handlerNames, name)
	}
	cmdConsumer, err := rabbitmq.DialCommandConsumer(cfg.RabbitURL, naming, exec)
	if err != nil {
		log.Fatal().Err(err).Msg("rabbitmq command consumer dial failed")
	}
	defer cmdConsumer.Close()
	if err := cmdConsumer.StartAll(rootCtx, handlerNames); err != nil {
		log.Fatal().Err(err).Msg("rabbitmq command consumer start failed")
	}

	// ---- Response registry and reply consumer ----
	registry := syncwait.New(cfg.SyncWait)
	replyConsumer, err := rabbitmq.DialReplyConsumer(cfg.RabbitURL, cfg.ReplyQueue, registry)
	if err != nil {
		log.Fatal().Err(err).Msg("rabbitmq reply consumer dial failed")
	}
	defer replyConsumer.Close()
	if err := replyConsumer.Start(rootCtx); err != nil {
		log.Fatal().Err(err).Msg("rabbitmq reply consumer start failed")
	}

	// ---- Sweep scheduler ----
	scheduler := sweep.New(r, cfg.SweepInterval)
	if err := scheduler.Start(rootCtx); err != nil {
		log.Fatal().Err(err).Msg("sweep scheduler start failed")
	}
	defer scheduler.Stop()

	// ---- HTTP server ----
	var authMiddleware func(http.Handler) http.Handler
	if cfg.AuthEnabled {
		authMiddleware = rest.NewJWTMiddleware(cfg.JWTSecret, cfg.JWTIssuer)
	}

	httpHandler := rest.NewRouter(rest.RouterDeps{
		Bus:            bus,
		Registry:       registry,
		SyncWait:       cfg.SyncWait,
		AuthMiddleware: authMiddleware,
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           httpHandler,
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

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	log.Info().Msg("shutdown complete")
}
