package config

import (
	"context"
	"errors"
	"os"
	"strings"
	"time"

	"github.com/hashicorp/vault-client-go"
	"github.com/spf13/viper"
	_ "github.com/spf13/viper/remote"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var (
	backend      = "consul"
	backendAddr  = "127.0.0.1:8500"
	backendPath  = "development" // e.g., app/<env>/<service_name>
	configType   = "yaml"
)

type Config struct {
	AppEnv     string `mapstructure:"APP_ENV"`
	AppName    string `mapstructure:"APP_NAME"`
	AppVersion string `mapstructure:"APP_VERSION"`
	NodeID     int64  `mapstructure:"NODE_ID"`
	TLS        struct {
		Enable   bool   `mapstructure:"ENABLE"`
		CertPath string `mapstructure:"CERT_PATH"`
		KeyPath  string `mapstructure:"KEY_PATH"`
	} `mapstructure:"TLS"`
	Otel struct {
		Addr     string `mapstructure:"ADDR"`
		Protocol string `mapstructure:"PROTOCOL"` // grpc | http
		Insecure bool   `mapstructure:"INSECURE"`
	} `mapstructure:"OTEL"`
	Pyroscope struct {
		Addr string `mapstructure:"ADDR"`
	} `mapstructure:"PYROSCOPE"`
	Server struct {
		Addr         string        `mapstructure:"ADDR"`
		ReadTimeout  time.Duration `mapstructure:"READ_TIMEOUT"`
		WriteTimeout time.Duration `mapstructure:"WRITE_TIMEOUT"`
		IdleTimeout  time.Duration `mapstructure:"IDLE_TIMEOUT"`
	} `mapstructure:"HTTP_SERVER"`
	Database struct {
		Type           string `mapstructure:"TYPE"`
		Host           string `mapstructure:"HOST"`
		Port           string `mapstructure:"PORT"`
		DBNAME         string `mapstructure:"DBNAME"`
		User           string `mapstructure:"USER"`
		Password       string `mapstructure:"PASSWORD"`
		SSLMode        string `mapstructure:"SSLMODE"`
		Timezone       string `mapstructure:"TIMEZONE"`
		AutoMigrate    bool   `mapstructure:"AUTO_MIGRATE"`
		ConnectionPool struct {
			MaxIdleConn     int           `mapstructure:"MAX_IDLE_CONN"`
			MaxOpenConns    int           `mapstructure:"MAX_OPEN_CONNS"`
			ConnMaxLifetime time.Duration `mapstructure:"CONN_MAX_LIFETIME"`
			ConnMaxIdleTime time.Duration `mapstructure:"CONN_MAX_IDLE_TIME"`
		} `mapstructure:"CONNECTION_POOL"`
	} `mapstructure:"DATABASE"`
	Redis struct {
		Addr        string        `mapstructure:"ADDR"`
		Password    string        `mapstructure:"PASSWORD"`
		DB          int           `mapstructure:"DB"`
		PoolSize    int           `mapstructure:"POOL_SIZE"`
		PoolTimeout time.Duration `mapstructure:"POOL_TIMEOUT"`
	} `mapstructure:"REDIS"`
	Flagsmith struct {
		Addr   string `mapstructure:"ADDR"`
		ApiKey string `mapstructure:"API_KEY"`
	} `mapstructure:"FLAGSMITH"`
	Ledger struct {
		BaseURL   string        `mapstructure:"BASE_URL"`
		APIKey    string        `mapstructure:"API_KEY"`
		Timeout   time.Duration `mapstructure:"TIMEOUT"`
		RateLimit float64       `mapstructure:"RATE_LIMIT"`
		Burst     int           `mapstructure:"BURST"`
	} `mapstructure:"LEDGER"`
	Payout struct {
		HouseOrgID          string        `mapstructure:"HOUSE_ORG_ID"`
		FeeRate             string        `mapstructure:"FEE_RATE"`
		PageSize            int           `mapstructure:"PAGE_SIZE"`
		Concurrency         int           `mapstructure:"CONCURRENCY"`
		CampaignConcurrency int           `mapstructure:"CAMPAIGN_CONCURRENCY"`
		AmountPrecision     int32         `mapstructure:"AMOUNT_PRECISION"`
		MaxAttempts         int           `mapstructure:"MAX_ATTEMPTS"`
		LeaseTTL            time.Duration `mapstructure:"LEASE_TTL"`
	} `mapstructure:"PAYOUT"`
	Sweeper struct {
		PageSize          int           `mapstructure:"PAGE_SIZE"`
		PendingStaleAfter time.Duration `mapstructure:"PENDING_STALE_AFTER"`
	} `mapstructure:"SWEEPER"`
	Alert struct {
		SlackToken          string `mapstructure:"SLACK_TOKEN"`
		SlackChannel        string `mapstructure:"SLACK_CHANNEL"`
		LowBalanceThreshold string `mapstructure:"LOW_BALANCE_THRESHOLD"`
	} `mapstructure:"ALERT"`
	Schedule struct {
		PayoutInterval  time.Duration `mapstructure:"PAYOUT_INTERVAL"`
		SweepInterval   time.Duration `mapstructure:"SWEEP_INTERVAL"`
		BalanceInterval time.Duration `mapstructure:"BALANCE_INTERVAL"`
	} `mapstructure:"SCHEDULE"`
}

var Module = fx.Module("config", fx.Provide(LoadConfig))
var RemoteModule = fx.Module("remote.config", fx.Provide(LoadRemote))

type Params struct {
	fx.In
	Vault *vault.Client `optional:"true"`
}

// envOnly keys carry no default but must stay visible to AutomaticEnv on Unmarshal.
var envOnly = []string{
	"APP_VERSION",
	"TLS.ENABLE", "TLS.CERT_PATH", "TLS.KEY_PATH",
	"OTEL.ADDR", "OTEL.INSECURE", "PYROSCOPE.ADDR",
	"DATABASE.HOST", "DATABASE.PORT", "DATABASE.DBNAME", "DATABASE.USER", "DATABASE.PASSWORD",
	"REDIS.PASSWORD", "REDIS.DB",
	"FLAGSMITH.ADDR", "FLAGSMITH.API_KEY",
	"LEDGER.BASE_URL", "LEDGER.API_KEY",
	"PAYOUT.HOUSE_ORG_ID",
	"ALERT.SLACK_TOKEN", "ALERT.SLACK_CHANNEL", "ALERT.LOW_BALANCE_THRESHOLD",
}

func setDefaults(v *viper.Viper) {
	for _, key := range envOnly {
		v.SetDefault(key, "")
	}

	v.SetDefault("APP_ENV", "development")
	v.SetDefault("APP_NAME", "payout")
	v.SetDefault("NODE_ID", 1)
	v.SetDefault("DATABASE.TYPE", "postgres")
	v.SetDefault("DATABASE.SSLMODE", "disable")
	v.SetDefault("DATABASE.TIMEZONE", "UTC")
	v.SetDefault("DATABASE.AUTO_MIGRATE", false)
	v.SetDefault("DATABASE.CONNECTION_POOL.MAX_IDLE_CONN", 5)
	v.SetDefault("DATABASE.CONNECTION_POOL.MAX_OPEN_CONNS", 20)
	v.SetDefault("DATABASE.CONNECTION_POOL.CONN_MAX_LIFETIME", time.Hour)
	v.SetDefault("REDIS.ADDR", "127.0.0.1:6379")
	v.SetDefault("REDIS.POOL_SIZE", 10)
	v.SetDefault("REDIS.POOL_TIMEOUT", 5*time.Second)
	v.SetDefault("HTTP_SERVER.ADDR", "9090")
	v.SetDefault("OTEL.PROTOCOL", "grpc")
	v.SetDefault("LEDGER.TIMEOUT", 15*time.Second)
	v.SetDefault("LEDGER.RATE_LIMIT", 20)
	v.SetDefault("LEDGER.BURST", 20)
	v.SetDefault("PAYOUT.FEE_RATE", "0.10")
	v.SetDefault("PAYOUT.PAGE_SIZE", 500)
	v.SetDefault("PAYOUT.CONCURRENCY", 20)
	v.SetDefault("PAYOUT.CAMPAIGN_CONCURRENCY", 4)
	v.SetDefault("PAYOUT.AMOUNT_PRECISION", 8)
	v.SetDefault("PAYOUT.MAX_ATTEMPTS", 3)
	v.SetDefault("PAYOUT.LEASE_TTL", 30*time.Minute)
	v.SetDefault("SWEEPER.PAGE_SIZE", 500)
	v.SetDefault("SWEEPER.PENDING_STALE_AFTER", time.Hour)
	v.SetDefault("SCHEDULE.PAYOUT_INTERVAL", time.Hour)
	v.SetDefault("SCHEDULE.SWEEP_INTERVAL", 15*time.Minute)
	v.SetDefault("SCHEDULE.BALANCE_INTERVAL", 10*time.Minute)
}

// Load reads config.yaml from the working directory, then the environment.
// A missing file is tolerated; a malformed one is not.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType(configType)
	v.AddConfigPath(".")

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func LoadConfig(p Params) *Config {
	cfg, err := Load()
	if err != nil {
		zap.L().Error("failed to load config", zap.Error(err))
		os.Exit(1)
	}

	if p.Vault != nil {
		if err := applySecrets(context.Background(), p.Vault, cfg); err != nil {
			zap.L().Error("failed get secret from vault", zap.Error(err))
			os.Exit(1)
		}
	}

	return cfg
}

// Select picks the remote provider when REMOTE_CONFIG_PROVIDER is set.
func Select() fx.Option {
	if _, ok := os.LookupEnv("REMOTE_CONFIG_PROVIDER"); ok {
		return RemoteModule
	}
	return Module
}

func LoadRemote(p Params) *Config {
	if p.Vault == nil {
		zap.L().Error("vault can't provide")
		os.Exit(1)
	}

	if v, ok := os.LookupEnv("REMOTE_CONFIG_PROVIDER"); ok {
		backend = v
	}

	if v, ok := os.LookupEnv("REMOTE_CONFIG_ADDR"); ok {
		backendAddr = v
	}

	if v, ok := os.LookupEnv("REMOTE_CONFIG_PATH"); ok {
		backendPath = v
	}

	remote := viper.New()
	setDefaults(remote)
	remote.SetConfigType(configType)
	if err := remote.AddRemoteProvider(backend, backendAddr, backendPath); err != nil {
		zap.L().Error("invalid remote config provider", zap.Error(err))
		os.Exit(1)
	}

	if err := remote.ReadRemoteConfig(); err != nil {
		zap.L().Error("unable to read remote config", zap.Error(err))
		os.Exit(1)
	}

	var cfg Config
	if err := remote.Unmarshal(&cfg); err != nil {
		os.Exit(1)
	}

	if err := applySecrets(context.Background(), p.Vault, &cfg); err != nil {
		zap.L().Error("failed get secret from vault", zap.Error(err))
		os.Exit(1)
	}

	return &cfg
}

func applySecrets(ctx context.Context, client *vault.Client, cfg *Config) error {
	zap.L().Info("Starting Get Secrets", zap.String("path", cfg.AppEnv))
	secret, err := client.Secrets.KvV2Read(ctx, cfg.AppEnv, vault.WithMountPath("secret"))
	if err != nil {
		return err
	}
	zap.L().Info("Success Get Secret")

	get := func(key, fallback string) string {
		if val, ok := secret.Data.Data[key].(string); ok && val != "" {
			return val
		}
		return fallback
	}

	cfg.Database.User = get("postgres_user", cfg.Database.User)
	cfg.Database.Password = get("postgres_password", cfg.Database.Password)
	cfg.Redis.Password = get("redis_password", cfg.Redis.Password)
	cfg.Flagsmith.ApiKey = get("flagsmith_api_key", cfg.Flagsmith.ApiKey)
	cfg.Ledger.APIKey = get("ledger_api_key", cfg.Ledger.APIKey)
	cfg.Alert.SlackToken = get("slack_bot_token", cfg.Alert.SlackToken)
	return nil
}
