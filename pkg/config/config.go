package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	EnvPrefix = ""

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvDBDSN  = "CALDERA_DB_DSN"
	EnvDBHost = "CALDERA_DB_HOST"
	EnvDBUser = "CALDERA_DB_USER"
	EnvDBName = "CALDERA_DB_NAME"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	FeatureFlags FeatureFlagsConfig
	Rates        RatesConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Outbox       OutboxConfig
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
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"CALDERA_APP_ENV" required:"true"`
	Port         string `envconfig:"CALDERA_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"CALDERA_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"CALDERA_LOG_WARN_STACK" default:"false"`

	CORSOrigins []string `envconfig:"CALDERA_CORS_ORIGINS" default:"http://localhost:3000"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"CALDERA_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"CALDERA_DB_DSN"`
	Driver string `envconfig:"CALDERA_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"CALDERA_DB_HOST"`
	LegacyPort     int    `envconfig:"CALDERA_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"CALDERA_DB_USER"`
	LegacyPassword string `envconfig:"CALDERA_DB_PASSWORD"`
	LegacyName     string `envconfig:"CALDERA_DB_NAME"`
	LegacySSLMode  string `envconfig:"CALDERA_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"CALDERA_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"CALDERA_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"CALDERA_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"CALDERA_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"CALDERA_REDIS_URL" required:"true"`
	Address      string        `envconfig:"CALDERA_REDIS_ADDR"`
	Password     string        `envconfig:"CALDERA_REDIS_PASSWORD"`
	DB           int           `envconfig:"CALDERA_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"CALDERA_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"CALDERA_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"CALDERA_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"CALDERA_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"CALDERA_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"CALDERA_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"CALDERA_AUTO_MIGRATE" default:"false"`
}

// RatesConfig controls the currency conversion layer used when a campaign
// budget currency differs from the order currency.
type RatesConfig struct {
	BaseCurrency string        `envconfig:"CALDERA_RATES_BASE_CURRENCY" default:"USD"`
	CacheTTL     time.Duration `envconfig:"CALDERA_RATES_CACHE_TTL" default:"1h"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"CALDERA_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"CALDERA_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"CALDERA_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	DomainTopic        string `envconfig:"CALDERA_PUBSUB_DOMAIN_TOPIC" default:"caldera-domain-events"`
	DomainSubscription string `envconfig:"CALDERA_PUBSUB_DOMAIN_SUBSCRIPTION"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"CALDERA_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"CALDERA_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"CALDERA_OUTBOX_MAX_ATTEMPTS" default:"10"`
}

type CronConfig struct {
	Interval time.Duration `envconfig:"CALDERA_CRON_INTERVAL" default:"1h"`
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
