package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/orrn/printq/internal/api"
	"github.com/orrn/printq/internal/api/middleware"
	"github.com/orrn/printq/internal/config"
	"github.com/orrn/printq/internal/core"
	"github.com/orrn/printq/internal/db"
	"github.com/orrn/printq/internal/payment"
	"github.com/orrn/printq/internal/ratelimit"
	"github.com/orrn/printq/internal/storage"
	"github.com/orrn/printq/internal/telemetry"
	"github.com/orrn/printq/internal/webhook"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
)

const shutdownTimeout = 30 * time.Second

func main() {
	configPath := flag.String("config", "config.yaml", "Path to config file")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("printq %s (built %s)\n", Version, BuildTime)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	logger := config.NewLogger(cfg.Logging, os.Stdout)
	slog.SetDefault(logger)
	logger.Info("starting printq", "version", Version, "build_time", BuildTime)

	if err := run(cfg, logger); err != nil {
		logger.Error("printq exited with error", "error", err)
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx := context.Background()

	conn, err := db.Open(db.Config{Path: cfg.Database.Path})
	if err != nil {
		return err
	}
	defer conn.Close()

	metrics := telemetry.NewMetrics()

	sender := webhook.NewSender(webhook.Config{
		Endpoints:  cfg.Notifications.Endpoints,
		RetryCount: cfg.Notifications.RetryCount,
		RetryDelay: cfg.Notifications.RetryDelay,
		Timeout:    cfg.Notifications.Timeout,
	}, logger)
	sender.Start()
	defer sender.Stop()

	relay := webhook.NewRelay(conn, sender, webhook.RelayConfig{
		Interval:    cfg.Notifications.RelayInterval,
		MaxAttempts: cfg.Notifications.RetryCount,
	}, logger)
	relay.Start()
	defer relay.Stop()

	store, err := storage.New(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}

	var gateway core.PaymentGateway
	client, err := payment.NewClient(payment.Config{
		BaseURL: cfg.Payments.GatewayURL,
		APIKey:  cfg.Payments.APIKey,
		Timeout: cfg.Payments.Timeout,
	}, logger)
	switch {
	case err == nil:
		gateway = client
	case errors.Is(err, payment.ErrNotConfigured):
		logger.Warn("payment gateway not configured, only local refunds are possible")
	default:
		return fmt.Errorf("failed to initialize payment gateway: %w", err)
	}

	var limiter core.RateLimiter
	if cfg.RateLimit.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RateLimit.RedisAddr,
			Password: cfg.RateLimit.RedisPassword,
			DB:       cfg.RateLimit.RedisDB,
		})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unreachable, rate limiter will fail open", "addr", cfg.RateLimit.RedisAddr, "error", err)
		}
		limiter = ratelimit.NewTokenBucket(rdb, cfg.RateLimit.Capacity, cfg.RateLimit.RefillPerSec, time.Hour)
	}

	queue := core.NewQueueManager(conn, sender, metrics, logger)
	queue.SetMaxList(cfg.Queue.MaxList)

	printers := core.NewPrinterManager(conn, &cfg.Printers, store, logger)
	if err := printers.Start(ctx); err != nil {
		return fmt.Errorf("failed to start printer manager: %w", err)
	}
	defer printers.Stop()

	dispatcher := core.NewDispatcher(core.DispatcherConfig{
		PollInterval:   cfg.Queue.PollInterval,
		PrintTimeout:   cfg.Queue.PrintTimeout,
		RecoverOnStart: cfg.Queue.RecoverOnStart,
	}, queue, printers, metrics, logger)

	terminator := core.NewTerminator(conn, core.TerminatorConfig{
		LocalMethods: cfg.Payments.LocalMethods,
	}, gateway, sender, metrics, logger)

	prices := core.PriceTable{
		BWPerPageCents:        cfg.Pricing.BWPerPageCents,
		ColorPerPageCents:     cfg.Pricing.ColorPerPageCents,
		DuplexDiscountPercent: cfg.Pricing.DuplexDiscountPercent,
	}
	submission := core.NewSubmission(conn, queue, store, prices, limiter, logger)

	janitor := core.NewJanitor(queue, cfg.Queue.CleanupInterval, logger)
	janitor.Start()
	defer janitor.Stop()

	auth, err := middleware.NewAuthMiddleware(ctx, conn, cfg.Auth.JWTSecret)
	if err != nil {
		return fmt.Errorf("failed to initialize auth: %w", err)
	}

	gin.SetMode(gin.ReleaseMode)
	router := api.NewRouter(api.Dependencies{
		DB:          conn,
		Auth:        auth,
		Queue:       queue,
		Submission:  submission,
		Terminator:  terminator,
		Dispatcher:  dispatcher,
		Printers:    printers,
		Webhooks:    sender,
		Config:      cfg,
		StopTimeout: cfg.Queue.PrintTimeout,
		Logger:      logger,
	})

	dispatcher.Start()

	srv := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("starting HTTP server", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case sig := <-quit:
		logger.Info("shutting down", "signal", sig.String())
	case runErr = <-serverErr:
		logger.Error("server error", "error", runErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	// Let an in-flight print finish before the database closes.
	if err := dispatcher.Stop(cfg.Queue.PrintTimeout + 5*time.Second); err != nil {
		logger.Error("dispatcher shutdown error", "error", err)
	}

	return runErr
}
