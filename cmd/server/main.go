package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/iliyamo/festival-ticketing/internal/config"
	"github.com/iliyamo/festival-ticketing/internal/database"
	"github.com/iliyamo/festival-ticketing/internal/handler"
	"github.com/iliyamo/festival-ticketing/internal/logger"
	"github.com/iliyamo/festival-ticketing/internal/metrics"
	"github.com/iliyamo/festival-ticketing/internal/middleware"
	"github.com/iliyamo/festival-ticketing/internal/queue"
	"github.com/iliyamo/festival-ticketing/internal/repository"
	"github.com/iliyamo/festival-ticketing/internal/router"
	"github.com/iliyamo/festival-ticketing/internal/service"
	"github.com/iliyamo/festival-ticketing/internal/signer"
	"github.com/iliyamo/festival-ticketing/internal/worker"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	log, err := logger.New(logger.Config{
		Level:       cfg.LogLevel,
		ServiceName: "festival-ticketing",
		Development: cfg.Env == "development",
		OutputPath:  "stdout",
	})
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(database.Options{
		User: cfg.DBUser, Pass: cfg.DBPass, Host: cfg.DBHost, Port: cfg.DBPort, Name: cfg.DBName,
		LockWaitTimeout: cfg.LockWaitTimeout,
	})
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	defer db.Close()
	if err := database.Migrate(ctx, db); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	store := repository.NewMySQLStore(db)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m, err := metrics.New(reg)
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	sig, err := signer.New(cfg.QRSigningSecret)
	if err != nil {
		return fmt.Errorf("signer: %w", err)
	}

	deps := service.Deps{Store: store, Logger: log, Metrics: m}
	if cfg.RabbitMQURL != "" {
		pub := queue.NewPublisher(cfg.RabbitMQURL, log, m)
		defer func() { _ = pub.Close() }()
		deps.Publisher = pub
	} else {
		log.Warn("RABBITMQ_URL not set, domain events are not published")
	}

	alloc := service.NewAllocator(deps, service.AllocatorConfig{HoldTTL: cfg.HoldTTL, ReapBatch: cfg.ReaperBatchSize})
	life := service.NewLifecycle(deps, sig, cfg.TransferTTL)
	scan := service.NewScanner(deps, sig, cfg.VenueTimezone)
	fin := service.NewFinalizer(deps, alloc, life, service.FinalizerConfig{
		ServiceFeeBPS:       cfg.ServiceFeeBPS,
		GrantFestivalAccess: cfg.GrantFestivalAccess,
	})

	rdb := config.NewRedisClient()
	if rdb == nil {
		log.Warn("redis unavailable, gate rate limit and availability cache disabled")
	} else {
		defer func() { _ = rdb.Close() }()
	}

	cacheCfg := config.LoadCacheConfig()
	checkout := handler.NewCheckoutHandler(alloc, fin, log)
	if cache := middleware.NewAvailabilityCache(cacheCfg, rdb); cache != nil {
		checkout.Cache = cache
	}

	e := echo.New()
	e.HideBanner = true
	e.Validator = handler.NewRequestValidator()
	e.Use(echomw.Recover(), echomw.RequestID(), requestLogger(log))

	router.Register(e, router.Handlers{
		Checkout: checkout,
		Tickets:  handler.NewTicketHandler(life, log),
		Gate:     handler.NewGateHandler(scan, log),
		Staff:    handler.NewStaffHandler(life, fin, log),
		Webhook:  handler.NewWebhookHandler(fin, cfg.StripeWebhookSecret, log),
	}, router.Deps{
		JWTSecret: cfg.JWTSecret,
		Store:     store,
		Features:  cfg.Features,
		Log:       log,
		Redis:     rdb,
		RateLimit: config.LoadRateLimitConfig(),
		Cache:     cacheCfg,
		Gatherer:  reg,
		DB:        db,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		addr := ":" + cfg.Port
		log.Info("listening", zap.String("addr", addr), zap.String("env", cfg.Env))
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return e.Shutdown(sctx)
	})
	g.Go(func() error {
		return worker.NewReaper(alloc, life, log, m).Run(gctx, cfg.ReaperSchedule)
	})
	if cfg.RabbitMQURL != "" {
		g.Go(func() error {
			return queue.NewConsumer(cfg.RabbitMQURL, cfg.NotificationLog, log).Run(gctx)
		})
	}
	err = g.Wait()
	log.Info("shutdown complete")
	return err
}

// requestLogger writes one zap line per request.
func requestLogger(log *zap.Logger) echo.MiddlewareFunc {
	return echomw.RequestLoggerWithConfig(echomw.RequestLoggerConfig{
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogError:     true,
		LogValuesFunc: func(c echo.Context, v echomw.RequestLoggerValues) error {
			fields := []zap.Field{
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency),
				zap.String("request_id", v.RequestID),
			}
			if v.Error != nil {
				fields = append(fields, zap.Error(v.Error))
			}
			logger.WithContext(c.Request().Context(), log).Info("request", fields...)
			return nil
		},
	})
}
