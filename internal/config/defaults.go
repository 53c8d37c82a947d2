package config

import "time"

const (
	DefaultServerHost            = "0.0.0.0"
	DefaultServerPort            = 8080
	DefaultServerMode            = "release"
	DefaultServerReadTimeout     = 15 * time.Second
	DefaultServerWriteTimeout    = 30 * time.Second
	DefaultServerShutdownTimeout = 30 * time.Second
	DefaultServerMaxBodySize     = 1 << 20
	DefaultServerRateLimitBurst  = 20

	DefaultDBHost           = "localhost"
	DefaultDBPort           = 5432
	DefaultDBName           = "loanportal"
	DefaultDBMaxOpenConns   = 20
	DefaultDBMaxIdleConns   = 5
	DefaultDBConnLifetime   = 30 * time.Minute
	DefaultDBConnectTimeout = 5 * time.Second
	DefaultMigrationPath    = "migrations"

	DefaultRedisAddr   = "localhost:6379"
	DefaultRedisTTL    = 2 * time.Minute
	DefaultRedisPrefix = "loanportal:"

	DefaultKafkaBroker       = "localhost:9092"
	DefaultKafkaGroupID      = "loanportal-worker"
	DefaultKafkaClientID     = "loanportal"
	DefaultKafkaBatchTimeout = 50 * time.Millisecond

	DefaultCRMTimeout      = 15 * time.Second
	DefaultCRMMaxRetries   = 3
	DefaultCRMRetryBackoff = 500 * time.Millisecond
	DefaultCRMUserAgent    = "loan-portal/1.0"

	// DefaultReviewWindow is the canonical automatic review window.
	DefaultReviewWindow      = 1200 * time.Second
	DefaultReviewWarnBefore  = 180 * time.Second
	DefaultPenaltyRate       = 0.001
	DefaultTermDays          = 30
	DefaultNotificationLimit = 10

	DefaultSyncInterval   = 10 * time.Minute
	DefaultScanInterval   = time.Hour
	DefaultPageSize       = 250
	DefaultMaxPages       = 10
	DefaultConcurrency    = 4
	DefaultHandlerTimeout = 30 * time.Second
	DefaultHealthPort     = 8081

	DefaultTelegramTimeout = 10 * time.Second

	DefaultMetricsPath      = "/metrics"
	DefaultMetricsNamespace = "loanportal"

	DefaultLogLevel  = "info"
	DefaultLogFormat = "json"
)

// ApplyDefaults fills zero-value fields of cfg.  Values set explicitly are
// never overwritten.
func ApplyDefaults(cfg *Config) {
	if cfg == nil {
		return
	}

	// ── Server ────────────────────────────────────────────────────────────────
	if cfg.Server.Host == "" {
		cfg.Server.Host = DefaultServerHost
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = DefaultServerPort
	}
	if cfg.Server.Mode == "" {
		cfg.Server.Mode = DefaultServerMode
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = DefaultServerReadTimeout
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = DefaultServerWriteTimeout
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = DefaultServerShutdownTimeout
	}
	if cfg.Server.MaxBodySize == 0 {
		cfg.Server.MaxBodySize = DefaultServerMaxBodySize
	}
	if len(cfg.Server.CORSAllowedOrigins) == 0 {
		cfg.Server.CORSAllowedOrigins = []string{"*"}
	}
	if cfg.Server.RateLimitBurst == 0 {
		cfg.Server.RateLimitBurst = DefaultServerRateLimitBurst
	}

	// ── Database ──────────────────────────────────────────────────────────────
	if cfg.Database.Host == "" {
		cfg.Database.Host = DefaultDBHost
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = DefaultDBPort
	}
	if cfg.Database.DBName == "" {
		cfg.Database.DBName = DefaultDBName
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = DefaultDBMaxOpenConns
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = DefaultDBMaxIdleConns
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = DefaultDBConnLifetime
	}
	if cfg.Database.ConnectTimeout == 0 {
		cfg.Database.ConnectTimeout = DefaultDBConnectTimeout
	}
	if cfg.Database.MigrationPath == "" {
		cfg.Database.MigrationPath = DefaultMigrationPath
	}

	// ── Redis ─────────────────────────────────────────────────────────────────
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = DefaultRedisAddr
	}
	if cfg.Redis.DefaultTTL == 0 {
		cfg.Redis.DefaultTTL = DefaultRedisTTL
	}
	if cfg.Redis.KeyPrefix == "" {
		cfg.Redis.KeyPrefix = DefaultRedisPrefix
	}

	// ── Kafka ─────────────────────────────────────────────────────────────────
	if len(cfg.Kafka.Brokers) == 0 {
		cfg.Kafka.Brokers = []string{DefaultKafkaBroker}
	}
	if cfg.Kafka.GroupID == "" {
		cfg.Kafka.GroupID = DefaultKafkaGroupID
	}
	if cfg.Kafka.ClientID == "" {
		cfg.Kafka.ClientID = DefaultKafkaClientID
	}
	if cfg.Kafka.BatchTimeout == 0 {
		cfg.Kafka.BatchTimeout = DefaultKafkaBatchTimeout
	}
	if cfg.Kafka.MaxRetries == 0 {
		cfg.Kafka.MaxRetries = 3
	}

	// ── CRM ───────────────────────────────────────────────────────────────────
	if cfg.CRM.Timeout == 0 {
		cfg.CRM.Timeout = DefaultCRMTimeout
	}
	if cfg.CRM.MaxRetries == 0 {
		cfg.CRM.MaxRetries = DefaultCRMMaxRetries
	}
	if cfg.CRM.RetryBackoff == 0 {
		cfg.CRM.RetryBackoff = DefaultCRMRetryBackoff
	}
	if cfg.CRM.UserAgent == "" {
		cfg.CRM.UserAgent = DefaultCRMUserAgent
	}

	// ── Engine ────────────────────────────────────────────────────────────────
	if cfg.Engine.ReviewWindow == 0 {
		cfg.Engine.ReviewWindow = DefaultReviewWindow
	}
	if cfg.Engine.ReviewWarnBefore == 0 {
		cfg.Engine.ReviewWarnBefore = DefaultReviewWarnBefore
	}
	if cfg.Engine.PenaltyRate == 0 {
		cfg.Engine.PenaltyRate = DefaultPenaltyRate
	}
	if cfg.Engine.DefaultTermDays == 0 {
		cfg.Engine.DefaultTermDays = DefaultTermDays
	}
	if cfg.Engine.NotificationLimit == 0 {
		cfg.Engine.NotificationLimit = DefaultNotificationLimit
	}

	// ── Worker ────────────────────────────────────────────────────────────────
	if cfg.Worker.SyncInterval == 0 {
		cfg.Worker.SyncInterval = DefaultSyncInterval
	}
	if cfg.Worker.ScanInterval == 0 {
		cfg.Worker.ScanInterval = DefaultScanInterval
	}
	if cfg.Worker.PageSize == 0 {
		cfg.Worker.PageSize = DefaultPageSize
	}
	if cfg.Worker.MaxPages == 0 {
		cfg.Worker.MaxPages = DefaultMaxPages
	}
	if cfg.Worker.Concurrency == 0 {
		cfg.Worker.Concurrency = DefaultConcurrency
	}
	if cfg.Worker.HandlerTimeout == 0 {
		cfg.Worker.HandlerTimeout = DefaultHandlerTimeout
	}
	if cfg.Worker.HealthPort == 0 {
		cfg.Worker.HealthPort = DefaultHealthPort
	}

	// ── Telegram ──────────────────────────────────────────────────────────────
	if cfg.Telegram.Timeout == 0 {
		cfg.Telegram.Timeout = DefaultTelegramTimeout
	}

	// ── Metrics ───────────────────────────────────────────────────────────────
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = DefaultMetricsPath
	}
	if cfg.Metrics.Namespace == "" {
		cfg.Metrics.Namespace = DefaultMetricsNamespace
	}

	// ── Log ───────────────────────────────────────────────────────────────────
	if cfg.Log.Level == "" {
		cfg.Log.Level = DefaultLogLevel
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = DefaultLogFormat
	}
}
