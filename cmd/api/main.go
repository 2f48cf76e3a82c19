package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/valyala/fasthttp/fasthttpadaptor"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/claimdesk/notify-engine/internal/config"
	"github.com/claimdesk/notify-engine/internal/handler"
	"github.com/claimdesk/notify-engine/internal/infra/postgresql"
	"github.com/claimdesk/notify-engine/internal/infra/postgresql/migrations"
	infraredis "github.com/claimdesk/notify-engine/internal/infra/redis"
	"github.com/claimdesk/notify-engine/internal/observability"
	"github.com/claimdesk/notify-engine/internal/provider"
	"github.com/claimdesk/notify-engine/internal/queue"
	"github.com/claimdesk/notify-engine/internal/ratelimit"
	"github.com/claimdesk/notify-engine/internal/repository"
	"github.com/claimdesk/notify-engine/internal/service"
	"github.com/claimdesk/notify-engine/internal/template"
	"github.com/claimdesk/notify-engine/internal/transport"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	if err := run(cfg, logger); err != nil {
		logger.Fatal("notify-engine exited with error", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := postgresql.NewPostgres(cfg.DatabaseDSN)
	if err != nil {
		return fmt.Errorf("postgres initialization failed: %w", err)
	}
	if err := migrations.Migrate(db); err != nil {
		return fmt.Errorf("database migrations failed: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("postgres underlying db init failed: %w", err)
	}
	defer sqlDB.Close()

	jobRepo := repository.NewGormJobRepo(db)
	logRepo := repository.NewGormLogRepo(db)
	mappingRepo := repository.NewGormMappingRepo(db)

	emailProvider, err := provider.NewSMTPProvider(provider.SMTPConfig{
		Host:           cfg.SMTPHost,
		Port:           cfg.SMTPPort,
		Username:       cfg.SMTPUser,
		Password:       cfg.SMTPPassword,
		From:           cfg.SMTPFrom,
		UseTLS:         cfg.SMTPTLS,
		CommandTimeout: time.Duration(cfg.SMTPCommandTimeout) * time.Second,
	})
	if err != nil {
		return fmt.Errorf("smtp provider initialization failed: %w", err)
	}

	renderer, err := template.NewRenderer(cfg.BaseNotificationURL)
	if err != nil {
		return fmt.Errorf("renderer initialization failed: %w", err)
	}

	pacer := ratelimit.NewFixedDelayPacer(time.Duration(cfg.JobPacingMs) * time.Millisecond)
	limiters := []ratelimit.RateLimiter{pacer}

	var rdb *goredis.Client
	if cfg.RedisURL != "" {
		rdb, err = infraredis.NewRedis(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("redis initialization failed: %w", err)
		}
		defer rdb.Close()

		redisLimiter, err := infraredis.NewRedisRateLimiter(rdb, cfg.RateLimitPerSec)
		if err != nil {
			return fmt.Errorf("redis rate limiter initialization failed: %w", err)
		}
		limiters = append(limiters, redisLimiter)
	}

	var publisher queue.Publisher
	var consumer queue.Consumer
	if cfg.RabbitMQURL != "" {
		rabbit, err := queue.NewRabbitMQ(cfg.RabbitMQURL)
		if err != nil {
			return fmt.Errorf("rabbitmq initialization failed: %w", err)
		}
		defer rabbit.Close()

		publisher = queue.NewRabbitMQPublisher(rabbit)
		consumer = queue.NewRabbitMQConsumer(rabbit, 1, logger)
	}

	metrics := observability.NewMetrics()

	notificationService, err := service.NewNotificationService(jobRepo, logRepo, mappingRepo, publisher, logger)
	if err != nil {
		return fmt.Errorf("notification service initialization failed: %w", err)
	}
	notificationService.SetMetrics(metrics)
	notificationService.SetMaxAttemptsCap(cfg.MaxAttemptsCap)

	drainService, err := service.NewDrainService(
		jobRepo,
		logRepo,
		renderer,
		emailProvider,
		ratelimit.NewChain(limiters...),
		cfg.SMTPHost,
		cfg.DrainBatchSize,
		time.Duration(cfg.DeliveryTimeoutSec)*time.Second,
		logger,
	)
	if err != nil {
		return fmt.Errorf("drain service initialization failed: %w", err)
	}
	drainService.SetMetrics(metrics)

	scheduler, err := service.NewScheduler(
		drainService,
		time.Duration(cfg.DrainIntervalSec)*time.Second,
		cfg.DrainBatchSize,
		logger,
	)
	if err != nil {
		return fmt.Errorf("scheduler initialization failed: %w", err)
	}

	app := fiber.New(fiber.Config{
		ErrorHandler: transport.ErrorHandler(logger),
	})
	app.Use(transport.CorrelationIDMiddleware())
	app.Use(metrics.HTTPMiddleware())

	if err := handler.RegisterNotificationRoutes(app, notificationService, drainService); err != nil {
		return fmt.Errorf("route registration failed: %w", err)
	}
	handler.RegisterHealthRoutes(app, sqlDB, rdb)

	metricsHandler := fasthttpadaptor.NewFastHTTPHandler(metrics.Handler())
	app.Get("/metrics", func(c *fiber.Ctx) error {
		metricsHandler(c.Context())
		return nil
	})

	g, groupCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("notify-engine api started", zap.Int("port", cfg.APIPort))
		if err := app.Listen(fmt.Sprintf(":%d", cfg.APIPort)); err != nil {
			return fmt.Errorf("api server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-groupCtx.Done()
		return app.ShutdownWithTimeout(10 * time.Second)
	})

	g.Go(func() error {
		logger.Info("drain scheduler started",
			zap.Int("intervalSec", cfg.DrainIntervalSec),
			zap.Int("batchSize", cfg.DrainBatchSize),
		)
		return scheduler.Start(groupCtx)
	})

	if consumer != nil {
		listener, err := service.NewDrainListener(drainService, consumer, cfg.DrainBatchSize, logger)
		if err != nil {
			return fmt.Errorf("drain listener initialization failed: %w", err)
		}
		g.Go(func() error {
			logger.Info("drain signal listener started", zap.String("queue", queue.DrainQueueName()))
			return listener.Start(groupCtx)
		})
	}

	return g.Wait()
}
