package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/C4T-BuT-S4D/cfwatch/internal/locale"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	ChatPlatform   string `mapstructure:"chat_platform" validate:"oneof=onebot telegram"`
	OneBotURL      string `mapstructure:"onebot_url" validate:"required_if=ChatPlatform onebot,omitempty,url"`
	OneBotToken    string `mapstructure:"onebot_token"`
	TelegramToken  string `mapstructure:"telegram_token" validate:"required_if=ChatPlatform telegram"`
	TelegramAPIURL string `mapstructure:"telegram_api_url" validate:"omitempty,url"`

	DatabaseDriver string `mapstructure:"database_driver" validate:"oneof=postgres mysql sqlite"`
	DatabaseDSN    string `mapstructure:"database_dsn" validate:"required"`

	CodeforcesAPIURL     string        `mapstructure:"codeforces_api_url" validate:"required,url"`
	RecentWindow         time.Duration `mapstructure:"recent_window" validate:"gt=0"`
	APIMaxRetries        int           `mapstructure:"api_max_retries" validate:"gte=1"`
	APIRetryDelay        time.Duration `mapstructure:"api_retry_delay" validate:"gte=0"`
	APITimeout           time.Duration `mapstructure:"api_timeout" validate:"gt=0"`
	SubmissionFetchCount int           `mapstructure:"submission_fetch_count" validate:"gte=1,lte=1000"`

	SendInterval      time.Duration `mapstructure:"send_interval" validate:"gte=0"`
	ErrorChannel      string        `mapstructure:"error_channel"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval" validate:"gt=0"`
	ReconnectDelay    time.Duration `mapstructure:"reconnect_delay" validate:"gt=0"`

	MonitorInterval    time.Duration `mapstructure:"monitor_interval" validate:"gt=0"`
	CycleTimeout       time.Duration `mapstructure:"cycle_timeout" validate:"gt=0"`
	AccountConcurrency int           `mapstructure:"account_concurrency" validate:"gte=1,lte=64"`
	Locale             string        `mapstructure:"locale" validate:"locale"`

	RedisAddr     string `mapstructure:"redis_addr" validate:"omitempty,hostname_port"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db" validate:"gte=0"`

	HTTPAddr   string `mapstructure:"http_addr"`
	AdminToken string `mapstructure:"admin_token"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.RegisterValidation("locale", func(fl validator.FieldLevel) bool {
		return locale.Supported(fl.Field().String())
	}); err != nil {
		panic(err)
	}
	return v
}

func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}
	if c.CycleTimeout > c.MonitorInterval {
		return fmt.Errorf("cycle_timeout %s exceeds monitor_interval %s", c.CycleTimeout, c.MonitorInterval)
	}
	return nil
}

// Load decodes and validates the config from viper.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func New() *Config {
	cfg, err := Load()
	if err != nil {
		logrus.Fatalf("loading config: %v", err)
	}
	return cfg
}

// SetDefaults registers every key, so that env-only values are visible to Unmarshal.
func SetDefaults() {
	viper.SetDefault("chat_platform", "onebot")
	viper.SetDefault("onebot_url", "ws://127.0.0.1:3001")
	viper.SetDefault("onebot_token", "")
	viper.SetDefault("telegram_token", "")
	viper.SetDefault("telegram_api_url", "")

	viper.SetDefault("database_driver", "postgres")
	viper.SetDefault("database_dsn", "")

	viper.SetDefault("codeforces_api_url", "https://codeforces.com/api")
	viper.SetDefault("recent_window", "30m")
	viper.SetDefault("api_max_retries", 3)
	viper.SetDefault("api_retry_delay", "2s")
	viper.SetDefault("api_timeout", "15s")
	viper.SetDefault("submission_fetch_count", 10)

	viper.SetDefault("send_interval", "1s")
	viper.SetDefault("error_channel", "")
	viper.SetDefault("heartbeat_interval", "60s")
	viper.SetDefault("reconnect_delay", "10s")

	viper.SetDefault("monitor_interval", "5m")
	viper.SetDefault("cycle_timeout", "4m")
	viper.SetDefault("account_concurrency", 1)
	viper.SetDefault("locale", "zh")

	viper.SetDefault("redis_addr", "")
	viper.SetDefault("redis_password", "")
	viper.SetDefault("redis_db", 0)

	viper.SetDefault("http_addr", ":8080")
	viper.SetDefault("admin_token", "")
}

func SetupCommon() {
	SetDefaults()

	viper.SetEnvPrefix("CFWATCH")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	pflag.String("config", "", "path to a config file (yaml, toml or json)")
	pflag.Bool("debug", false, "enable debug logging")
	pflag.String("log-level", "", "log level (trace, debug, info, warn, error)")
	pflag.String("log-format", "text", "log format (text or json)")
	pflag.Parse()
	if err := viper.BindPFlags(pflag.CommandLine); err != nil {
		logrus.Fatalf("binding flags: %v", err)
	}

	if path := viper.GetString("config"); path != "" {
		viper.SetConfigFile(path)
		if err := viper.ReadInConfig(); err != nil {
			logrus.Fatalf("reading config file %s: %v", path, err)
		}
	}
}
