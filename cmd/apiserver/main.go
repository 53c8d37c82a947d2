// Command apiserver serves the client portal REST API.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/turtacn/loan-portal/internal/application/dashboard"
	"github.com/turtacn/loan-portal/internal/application/dealsync"
	"github.com/turtacn/loan-portal/internal/config"
	"github.com/turtacn/loan-portal/internal/domain/deal"
	"github.com/turtacn/loan-portal/internal/infrastructure/crm/amocrm"
	"github.com/turtacn/loan-portal/internal/infrastructure/database/postgres"
	"github.com/turtacn/loan-portal/internal/infrastructure/database/postgres/repositories"
	"github.com/turtacn/loan-portal/internal/infrastructure/database/redis"
	"github.com/turtacn/loan-portal/internal/infrastructure/messaging/kafka"
	"github.com/turtacn/loan-portal/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/loan-portal/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/loan-portal/internal/interfaces/cli"
	httpserver "github.com/turtacn/loan-portal/internal/interfaces/http"
	"github.com/turtacn/loan-portal/internal/interfaces/http/handlers"
	"github.com/turtacn/loan-portal/internal/interfaces/http/middleware"
)

const defaultConfigPath = "configs/config.yaml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "path to configuration file")
	httpPort := flag.Int("http-port", 0, "HTTP server port (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if *httpPort > 0 {
		cfg.Server.Port = *httpPort
	}

	logger, err := logging.NewLogger(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Error("API server terminated", logging.Err(err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger logging.Logger) error {
	logger.Info("Starting loan portal API server",
		logging.String("version", cli.Version),
		logging.String("addr", cfg.Server.Addr()))

	var (
		collector prometheus.MetricsCollector
		metrics   *prometheus.AppMetrics
	)
	if cfg.Metrics.Enabled {
		c, err := prometheus.NewMetricsCollector(prometheus.CollectorConfig{
			Namespace:            cfg.Metrics.Namespace,
			Subsystem:            "api",
			EnableProcessMetrics: true,
			EnableGoMetrics:      true,
		}, logger)
		if err != nil {
			return err
		}
		collector, metrics = c, prometheus.NewAppMetrics(c)
	}

	engine, err := newEngine(cfg.Engine, logger)
	if err != nil {
		return err
	}

	pg, err := postgres.NewConnection(cfg.Database, logger)
	if err != nil {
		return err
	}
	defer pg.Close()
	if cfg.Database.AutoMigrate {
		if err := pg.RunMigrations(cfg.Database.MigrationPath); err != nil {
			return err
		}
	}
	dealRepo := repositories.NewDealRepository(pg, logger)
	stateRepo := repositories.NewNotificationStateRepository(pg, logger)
	checkers := []handlers.HealthChecker{handlers.CheckerFunc{Component: "postgres", Fn: pg.HealthCheck}}

	crm, err := newCRM(cfg.CRM, metrics, logger)
	if err != nil {
		return err
	}

	dashOpts := []dashboard.Option{
		dashboard.WithCRM(crm),
		dashboard.WithMetrics(metrics),
		dashboard.WithNotificationLimit(cfg.Engine.NotificationLimit),
	}
	syncOpts := dealsync.Options{
		PageSize:    cfg.Worker.PageSize,
		MaxPages:    cfg.Worker.MaxPages,
		Concurrency: cfg.Worker.Concurrency,
		Metrics:     metrics,
	}

	if cfg.Redis.Enabled {
		rc, err := redis.NewClient(cfg.Redis, logger)
		if err != nil {
			return err
		}
		defer rc.Close()
		cache := redis.NewRedisCache(rc, logger,
			redis.WithPrefix(cfg.Redis.KeyPrefix),
			redis.WithDefaultTTL(cfg.Redis.DefaultTTL),
			redis.WithTTLJitter(0.1))
		dashOpts = append(dashOpts, dashboard.WithCache(cache, cfg.Redis.DefaultTTL))
		syncOpts.Cache = cache
		checkers = append(checkers, handlers.CheckerFunc{Component: "redis", Fn: rc.Ping})
	}

	if cfg.Kafka.Enabled {
		producer, err := kafka.NewProducer(kafka.ProducerConfigFrom(cfg.Kafka), logger)
		if err != nil {
			return err
		}
		defer producer.Close()
		syncOpts.Publisher = producer
	}

	dashSvc := dashboard.NewService(engine, dealRepo, stateRepo, logger, dashOpts...)
	syncSvc := dealsync.NewService(crm, dealRepo, syncOpts, logger)

	var limiter middleware.RateLimiter
	if cfg.Server.RateLimitRPS > 0 {
		tb := middleware.NewTokenBucketLimiter(cfg.Server.RateLimitRPS, cfg.Server.RateLimitBurst, time.Minute)
		defer tb.Stop()
		limiter = tb
	}

	router := httpserver.NewRouter(httpserver.RouterConfig{
		ClientHandler:      handlers.NewClientHandler(dashSvc, syncSvc, logger),
		DealHandler:        handlers.NewDealHandler(dashSvc, engine, logger, handlers.WithLeadSync(syncSvc, cfg.CRM.WebhookToken)),
		HealthHandler:      handlers.NewHealthHandler(cli.Version, metrics, checkers...),
		Logger:             logger,
		Metrics:            metrics,
		MetricsCollector:   collector,
		MetricsPath:        cfg.Metrics.Path,
		CORSAllowedOrigins: cfg.Server.CORSAllowedOrigins,
		RateLimiter:        limiter,
	})
	srv := httpserver.NewServer(cfg.Server, router, logger)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		logger.Info("Received shutdown signal", logging.String("signal", sig.String()))
	case err := <-errCh:
		return err
	}

	if err := srv.Stop(context.Background()); err != nil {
		return err
	}
	logger.Info("API server stopped")
	return nil
}

func newCRM(cfg config.CRMConfig, metrics *prometheus.AppMetrics, logger logging.Logger) (*amocrm.Client, error) {
	var opts []amocrm.Option
	if metrics != nil {
		opts = append(opts, amocrm.WithObserver(func(op, outcome string, d time.Duration) {
			prometheus.RecordCRMCall(metrics, op, outcome, d)
		}))
	}
	return amocrm.NewClient(cfg, logger, opts...)
}

func newEngine(ec config.EngineConfig, logger logging.Logger) (*deal.Engine, error) {
	loc, err := ec.Location()
	if err != nil {
		return nil, fmt.Errorf("engine.timezone: %w", err)
	}
	return deal.NewEngine(deal.Settings{
		ReviewWindow:     ec.ReviewWindow,
		ReviewWarnBefore: ec.ReviewWarnBefore,
		PenaltyRate:      ec.PenaltyRate,
		DefaultTermDays:  ec.DefaultTermDays,
		Location:         loc,
	}, logger), nil
}
