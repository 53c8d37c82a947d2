// Command worker runs the background jobs of the loan portal: the periodic
// CRM sync, the reminder scan and delivery of reminder events to Telegram.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/turtacn/loan-portal/internal/application/dealsync"
	"github.com/turtacn/loan-portal/internal/application/reminder"
	"github.com/turtacn/loan-portal/internal/config"
	"github.com/turtacn/loan-portal/internal/domain/deal"
	"github.com/turtacn/loan-portal/internal/infrastructure/crm/amocrm"
	"github.com/turtacn/loan-portal/internal/infrastructure/database/postgres"
	"github.com/turtacn/loan-portal/internal/infrastructure/database/postgres/repositories"
	"github.com/turtacn/loan-portal/internal/infrastructure/database/redis"
	"github.com/turtacn/loan-portal/internal/infrastructure/messaging/kafka"
	"github.com/turtacn/loan-portal/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/loan-portal/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/loan-portal/internal/infrastructure/notify/telegram"
	"github.com/turtacn/loan-portal/internal/interfaces/cli"
	httpserver "github.com/turtacn/loan-portal/internal/interfaces/http"
	"github.com/turtacn/loan-portal/internal/interfaces/http/handlers"
	"github.com/turtacn/loan-portal/pkg/errors"
)

const (
	defaultWorkerConfigPath = "configs/config.yaml"
	syncLockKey             = "lock:deal-sync"
)

func main() {
	configPath := flag.String("config", defaultWorkerConfigPath, "path to configuration file")
	once := flag.Bool("once", false, "run one sync and one scan, then exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.NewLogger(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	w, err := newWorker(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize worker", logging.Err(err))
		os.Exit(1)
	}
	defer w.Close()

	if *once {
		err = w.runOnce(ctx)
	} else {
		err = w.run(ctx)
	}
	if err != nil {
		logger.Error("Worker terminated", logging.Err(err))
		os.Exit(1)
	}
	logger.Info("Worker stopped")
}

// worker holds the infrastructure clients and services of the process.
type worker struct {
	cfg    *config.Config
	logger logging.Logger

	collector prometheus.MetricsCollector
	metrics   *prometheus.AppMetrics

	pg       *postgres.Connection
	redis    *redis.Client
	producer *kafka.Producer
	consumer *kafka.Consumer
	bot      *telegram.Bot

	sync     dealsync.Service
	reminder reminder.Service
	checkers []handlers.HealthChecker
}

func newWorker(ctx context.Context, cfg *config.Config, logger logging.Logger) (w *worker, err error) {
	w = &worker{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			w.Close()
		}
	}()

	if cfg.Metrics.Enabled {
		c, err := prometheus.NewMetricsCollector(prometheus.CollectorConfig{
			Namespace:       cfg.Metrics.Namespace,
			Subsystem:       "worker",
			EnableGoMetrics: true,
		}, logger)
		if err != nil {
			return w, err
		}
		w.collector, w.metrics = c, prometheus.NewAppMetrics(c)
	}

	loc, err := cfg.Engine.Location()
	if err != nil {
		return w, errors.Wrap(err, errors.ErrCodeConfigInvalid, "unknown timezone").WithDetail(cfg.Engine.Timezone)
	}
	engine := deal.NewEngine(deal.Settings{
		ReviewWindow:     cfg.Engine.ReviewWindow,
		ReviewWarnBefore: cfg.Engine.ReviewWarnBefore,
		PenaltyRate:      cfg.Engine.PenaltyRate,
		DefaultTermDays:  cfg.Engine.DefaultTermDays,
		Location:         loc,
	}, logger)

	if w.pg, err = postgres.NewConnection(cfg.Database, logger); err != nil {
		return w, err
	}
	w.checkers = append(w.checkers, handlers.CheckerFunc{Component: "postgres", Fn: w.pg.HealthCheck})
	if cfg.Database.AutoMigrate {
		if err := w.pg.RunMigrations(cfg.Database.MigrationPath); err != nil {
			return w, err
		}
	}
	dealRepo := repositories.NewDealRepository(w.pg, logger)

	var crmOpts []amocrm.Option
	if w.metrics != nil {
		crmOpts = append(crmOpts, amocrm.WithObserver(func(op, outcome string, d time.Duration) {
			prometheus.RecordCRMCall(w.metrics, op, outcome, d)
		}))
	}
	crm, err := amocrm.NewClient(cfg.CRM, logger, crmOpts...)
	if err != nil {
		return w, err
	}

	syncOpts := dealsync.Options{
		PageSize:    cfg.Worker.PageSize,
		MaxPages:    cfg.Worker.MaxPages,
		Concurrency: cfg.Worker.Concurrency,
		Metrics:     w.metrics,
	}
	if cfg.Redis.Enabled {
		if w.redis, err = redis.NewClient(cfg.Redis, logger); err != nil {
			return w, err
		}
		w.checkers = append(w.checkers, handlers.CheckerFunc{Component: "redis", Fn: w.redis.Ping})
		syncOpts.Cache = redis.NewRedisCache(w.redis, logger, redis.WithPrefix(cfg.Redis.KeyPrefix))
		// The lock outlives a sync run so a slow run is never overlapped.
		syncOpts.Locker = redis.NewMutex(w.redis, cfg.Redis.KeyPrefix+syncLockKey, 2*cfg.Worker.SyncInterval)
	}

	var publisher kafka.Publisher
	if cfg.Kafka.Enabled {
		if err := ensureTopics(ctx, cfg.Kafka.Brokers, logger); err != nil {
			return w, err
		}
		if w.producer, err = kafka.NewProducer(kafka.ProducerConfigFrom(cfg.Kafka), logger); err != nil {
			return w, err
		}
		publisher = w.producer
		syncOpts.Publisher = publisher
	}
	w.sync = dealsync.NewService(crm, dealRepo, syncOpts, logger)

	var sender reminder.Sender = telegram.NopSender{Logger: logger}
	if cfg.Telegram.Enabled {
		if w.bot, err = telegram.NewBot(cfg.Telegram, logger); err != nil {
			return w, err
		}
		sender = w.bot
	}
	w.reminder = reminder.NewService(reminder.Deps{
		Engine:    engine,
		Deals:     dealRepo,
		States:    repositories.NewNotificationStateRepository(w.pg, logger),
		Chats:     repositories.NewChatRepository(w.pg, logger),
		Publisher: publisher,
		Sender:    sender,
		Metrics:   w.metrics,
		PageSize:  cfg.Worker.PageSize,
	}, logger)

	if cfg.Kafka.Enabled {
		cc := kafka.ConsumerConfigFrom(cfg.Kafka, []string{kafka.TopicDealNotification}, cfg.Worker.HandlerTimeout)
		if w.consumer, err = kafka.NewConsumer(cc, w.producer, logger); err != nil {
			return w, err
		}
		w.consumer.Subscribe(kafka.TopicDealNotification, w.reminder.Dispatch)
	}
	return w, nil
}

func ensureTopics(ctx context.Context, brokers []string, logger logging.Logger) error {
	tm, err := kafka.NewTopicManager(brokers, logger)
	if err != nil {
		return err
	}
	defer tm.Close()
	return tm.EnsureTopics(ctx, kafka.DefaultTopics())
}

// run starts every loop and blocks until ctx ends or one of them fails.
func (w *worker) run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	if w.cfg.Worker.HealthPort > 0 {
		srv := w.healthServer()
		g.Go(srv.Start)
		g.Go(func() error {
			<-ctx.Done()
			return srv.Stop(context.WithoutCancel(ctx))
		})
	}
	if w.consumer != nil {
		if err := w.consumer.Start(ctx); err != nil {
			return err
		}
	}
	if w.bot != nil {
		g.Go(func() error {
			w.bot.Listen(ctx, w.reminder)
			return nil
		})
	}
	g.Go(func() error {
		return every(ctx, w.cfg.Worker.SyncInterval, func(ctx context.Context) { w.syncOnce(ctx) })
	})
	g.Go(func() error {
		return every(ctx, w.cfg.Worker.ScanInterval, func(ctx context.Context) { w.scanOnce(ctx) })
	})

	w.logger.Info("Worker started",
		logging.Duration("sync_interval", w.cfg.Worker.SyncInterval),
		logging.Duration("scan_interval", w.cfg.Worker.ScanInterval),
		logging.Bool("kafka", w.consumer != nil),
		logging.Bool("telegram", w.bot != nil))
	return g.Wait()
}

// runOnce performs one sync followed by one scan.
func (w *worker) runOnce(ctx context.Context) error {
	if _, err := w.sync.SyncAll(ctx); err != nil {
		return err
	}
	_, err := w.reminder.Scan(ctx, time.Now())
	return err
}

func (w *worker) syncOnce(ctx context.Context) {
	res, err := w.sync.SyncAll(ctx)
	if err != nil {
		w.logger.Error("Deal sync failed", logging.Err(err))
		if w.metrics != nil {
			prometheus.RecordError(w.metrics, "deal_sync", string(errors.GetCode(err)))
		}
		return
	}
	if res.Skipped {
		w.logger.Debug("Deal sync skipped, another worker holds the lock")
	}
}

func (w *worker) scanOnce(ctx context.Context) {
	if _, err := w.reminder.Scan(ctx, time.Now()); err != nil {
		w.logger.Error("Reminder scan failed", logging.Err(err))
		if w.metrics != nil {
			prometheus.RecordError(w.metrics, "reminder", string(errors.GetCode(err)))
		}
	}
}

// every runs fn immediately and then on each tick until ctx ends.
func every(ctx context.Context, interval time.Duration, fn func(context.Context)) error {
	if interval <= 0 {
		return nil
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		fn(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (w *worker) healthServer() *httpserver.Server {
	router := httpserver.NewRouter(httpserver.RouterConfig{
		HealthHandler:    handlers.NewHealthHandler(cli.Version, w.metrics, w.checkers...),
		Logger:           w.logger,
		Metrics:          w.metrics,
		MetricsCollector: w.collector,
		MetricsPath:      w.cfg.Metrics.Path,
	})
	return httpserver.NewServer(config.ServerConfig{
		Port:            w.cfg.Worker.HealthPort,
		ReadTimeout:     5 * time.Second,
		WriteTimeout:    10 * time.Second,
		ShutdownTimeout: 5 * time.Second,
	}, router, w.logger)
}

// Close releases every client in reverse order of creation.
func (w *worker) Close() {
	if w.consumer != nil {
		_ = w.consumer.Close()
	}
	if w.producer != nil {
		_ = w.producer.Close()
	}
	if w.redis != nil {
		_ = w.redis.Close()
	}
	if w.pg != nil {
		_ = w.pg.Close()
	}
}
