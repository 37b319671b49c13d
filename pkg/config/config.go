package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	FeatureFlags FeatureFlagsConfig
	Eventing     EventingConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	BigQuery     BigQueryConfig
	Outbox       OutboxConfig
	Checkout     CheckoutConfig
	VNPay        VNPayConfig
	Cron         CronConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if cfg.App.IsProd() && cfg.FeatureFlags.UseSQLite {
		return nil, fmt.Errorf("%s cannot be enabled in production", EnvUseSQLite)
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string   `envconfig:"SHOPFRONT_APP_ENV" required:"true"`
	Port         string   `envconfig:"SHOPFRONT_APP_PORT" required:"true"`
	LogLevel     string   `envconfig:"SHOPFRONT_LOG_LEVEL" default:"info"`
	LogWarnStack bool     `envconfig:"SHOPFRONT_LOG_WARN_STACK" default:"false"`
	CORSOrigins  []string `envconfig:"SHOPFRONT_CORS_ALLOWED_ORIGINS" default:"http://localhost:3000"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd) || strings.EqualFold(a.Env, "production")
}

type ServiceConfig struct {
	Kind string `envconfig:"SHOPFRONT_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"SHOPFRONT_DB_DSN"`
	Driver string `envconfig:"SHOPFRONT_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"SHOPFRONT_DB_HOST"`
	LegacyPort     int    `envconfig:"SHOPFRONT_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"SHOPFRONT_DB_USER"`
	LegacyPassword string `envconfig:"SHOPFRONT_DB_PASSWORD"`
	LegacyName     string `envconfig:"SHOPFRONT_DB_NAME"`
	LegacySSLMode  string `envconfig:"SHOPFRONT_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"SHOPFRONT_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"SHOPFRONT_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"SHOPFRONT_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"SHOPFRONT_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"SHOPFRONT_REDIS_URL" required:"true"`
	Address      string        `envconfig:"SHOPFRONT_REDIS_ADDR"`
	Password     string        `envconfig:"SHOPFRONT_REDIS_PASSWORD"`
	DB           int           `envconfig:"SHOPFRONT_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"SHOPFRONT_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"SHOPFRONT_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"SHOPFRONT_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"SHOPFRONT_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"SHOPFRONT_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// JWTConfig validates access tokens minted by the identity service.
type JWTConfig struct {
	Secret            string `envconfig:"SHOPFRONT_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"SHOPFRONT_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"SHOPFRONT_JWT_EXPIRATION_MINUTES" default:"60"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"SHOPFRONT_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"SHOPFRONT_AUTO_MIGRATE" default:"false"`
}

type EventingConfig struct {
	OutboxIdempotencyTTL time.Duration `envconfig:"SHOPFRONT_EVENTING_IDEMPOTENCY_TTL" default:"720h"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"SHOPFRONT_GCP_PROJECT_ID" required:"true"`
	CredentialsJSON        string `envconfig:"SHOPFRONT_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"SHOPFRONT_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	EventsTopic              string `envconfig:"SHOPFRONT_PUBSUB_EVENTS_TOPIC" default:"sf-commerce-events"`
	NotificationSubscription string `envconfig:"SHOPFRONT_PUBSUB_NOTIFICATION_SUBSCRIPTION" required:"true"`
	AnalyticsSubscription    string `envconfig:"SHOPFRONT_PUBSUB_ANALYTICS_SUBSCRIPTION" required:"true"`
	MaxOutstandingMessages   int    `envconfig:"SHOPFRONT_PUBSUB_MAX_OUTSTANDING_MESSAGES" default:"100"`
	ReceiveGoroutines        int    `envconfig:"SHOPFRONT_PUBSUB_RECEIVE_GOROUTINES" default:"2"`
}

type BigQueryConfig struct {
	Dataset          string `envconfig:"SHOPFRONT_BIGQUERY_DATASET" default:"shopfront"`
	OrderEventsTable string `envconfig:"SHOPFRONT_BIGQUERY_ORDER_EVENTS_TABLE" default:"order_events"`
	AutoCreateTables bool   `envconfig:"SHOPFRONT_BIGQUERY_AUTO_CREATE_TABLES" default:"false"`
	InsertBatchSize  int    `envconfig:"SHOPFRONT_BIGQUERY_INSERT_BATCH_SIZE" default:"1"`
}

type OutboxConfig struct {
	BatchSize      int           `envconfig:"SHOPFRONT_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int           `envconfig:"SHOPFRONT_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int           `envconfig:"SHOPFRONT_OUTBOX_MAX_ATTEMPTS" default:"10"`
	Retention      time.Duration `envconfig:"SHOPFRONT_OUTBOX_RETENTION" default:"168h"`
}

// CheckoutConfig carries the commercial constants applied at intent and order creation.
type CheckoutConfig struct {
	ShippingFee       int64         `envconfig:"SHOPFRONT_CHECKOUT_SHIPPING_FEE" default:"15000"`
	IntentTTL         time.Duration `envconfig:"SHOPFRONT_CHECKOUT_INTENT_TTL" default:"30m"`
	RateLimitWindow   time.Duration `envconfig:"SHOPFRONT_CHECKOUT_RATE_LIMIT_WINDOW" default:"1m"`
	RateLimitRequests int64         `envconfig:"SHOPFRONT_CHECKOUT_RATE_LIMIT_REQUESTS" default:"30"`
}

type VNPayConfig struct {
	TmnCode     string `envconfig:"SHOPFRONT_VNPAY_TMN_CODE" required:"true"`
	HashSecret  string `envconfig:"SHOPFRONT_VNPAY_HASH_SECRET" required:"true"`
	PayURL      string `envconfig:"SHOPFRONT_VNPAY_URL" default:"https://sandbox.vnpayment.vn/paymentv2/vpcpay.html"`
	ReturnURL   string `envconfig:"SHOPFRONT_VNPAY_RETURN_URL" required:"true"`
	AppDeepLink string `envconfig:"SHOPFRONT_VNPAY_APP_DEEP_LINK" default:"myapp://payment/result"`
	Version     string `envconfig:"SHOPFRONT_VNPAY_VERSION" default:"2.1.0"`
	Locale      string `envconfig:"SHOPFRONT_VNPAY_LOCALE" default:"vn"`
}

// CronConfig sets the sweep cadence per job. Interval is the fallback cadence.
type CronConfig struct {
	Interval                 time.Duration `envconfig:"SHOPFRONT_CRON_INTERVAL" default:"1h"`
	Tick                     time.Duration `envconfig:"SHOPFRONT_CRON_TICK" default:"30s"`
	LeaseTTL                 time.Duration `envconfig:"SHOPFRONT_CRON_LEASE_TTL" default:"2m"`
	IntentExpiryEvery        time.Duration `envconfig:"SHOPFRONT_CRON_INTENT_EXPIRY_EVERY" default:"1m"`
	VoucherExpiryEvery       time.Duration `envconfig:"SHOPFRONT_CRON_VOUCHER_EXPIRY_EVERY" default:"15m"`
	OutboxRetentionEvery     time.Duration `envconfig:"SHOPFRONT_CRON_OUTBOX_RETENTION_EVERY" default:"6h"`
	NotificationCleanupEvery time.Duration `envconfig:"SHOPFRONT_CRON_NOTIFICATION_CLEANUP_EVERY" default:"24h"`
	MetricsAddr              string        `envconfig:"SHOPFRONT_CRON_METRICS_ADDR" default:":9102"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
