package config

import (
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/hardian-n/otomatisin/internal/logger"
)

// Config holds all application configuration
type Config struct {
	DatabaseURL   string `mapstructure:"database_url"`
	RedisURL      string `mapstructure:"redis_url"`
	Port          string `mapstructure:"port"`
	EncryptionKey string `mapstructure:"encryption_key"`

	Log      logger.LogConfig `mapstructure:"log"`
	Auth     AuthConfig       `mapstructure:"auth"`
	Dispatch DispatchConfig   `mapstructure:"dispatch"`

	// Channel providers
	Telegram  TelegramConfig  `mapstructure:"telegram"`
	ThreadAPI ThreadAPIConfig `mapstructure:"thread_api"`
	Threads   ThreadsConfig   `mapstructure:"threads"`

	InboxPoll InboxPollConfig `mapstructure:"inbox_poll"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
	// InternalToken guards the dry-run endpoint, which takes the organization id from the body.
	InternalToken string `mapstructure:"internal_token"`
}

type DispatchConfig struct {
	TimeoutSec int     `mapstructure:"timeout_sec"`
	RatePerSec float64 `mapstructure:"rate_per_sec"`
}

type TelegramConfig struct {
	// BotToken is the process-wide default used when neither the call nor the integration carries one.
	BotToken string `mapstructure:"bot_token"`
	APIURL   string `mapstructure:"api_url"`
}

// ThreadAPIConfig configures the generic forum-style reply API.
type ThreadAPIConfig struct {
	BaseURL string `mapstructure:"base_url"`
	Token   string `mapstructure:"token"`
}

type ThreadsConfig struct {
	GraphURL       string `mapstructure:"graph_url"`
	PollIntervalMs int    `mapstructure:"poll_interval_ms"`
	PollAttempts   int    `mapstructure:"poll_attempts"`
	RefreshURL     string `mapstructure:"refresh_url"`
}

type InboxPollConfig struct {
	Enabled     bool     `mapstructure:"enabled"`
	IntervalSec int      `mapstructure:"interval_sec"`
	Providers   []string `mapstructure:"providers"`
	PostLimit   int      `mapstructure:"post_limit"`
	ReplyLimit  int      `mapstructure:"reply_limit"`
	DelayMs     int      `mapstructure:"delay_ms"`
}

// App holds the global config instance
var App Config

// LoadConfig loads configuration from file and environment variables
func LoadConfig(path string) error {
	// Auto-load .env file if present (local development convenience)
	if err := godotenv.Load(); err == nil {
		logger.Infof("Loaded .env file")
	}

	v := viper.New()

	v.SetDefault("port", "8080")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("dispatch.timeout_sec", 15)
	v.SetDefault("dispatch.rate_per_sec", 20)
	v.SetDefault("telegram.api_url", "https://api.telegram.org")
	v.SetDefault("threads.graph_url", "https://graph.threads.net/v1.0")
	v.SetDefault("threads.poll_interval_ms", 1500)
	v.SetDefault("threads.poll_attempts", 6)
	v.SetDefault("threads.refresh_url", "https://graph.threads.net/refresh_access_token")
	v.SetDefault("inbox_poll.enabled", true)
	v.SetDefault("inbox_poll.interval_sec", 30)
	v.SetDefault("inbox_poll.providers", []string{"threads", "telegram"})
	v.SetDefault("inbox_poll.post_limit", 10)
	v.SetDefault("inbox_poll.reply_limit", 20)
	v.SetDefault("inbox_poll.delay_ms", 250)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
		v.SetConfigName("dev.config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("otomatisin")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Bind the plain environment names used by the deploy manifests
	_ = v.BindEnv("database_url", "DATABASE_URL")
	_ = v.BindEnv("redis_url", "REDIS_URL")
	_ = v.BindEnv("port", "PORT")
	_ = v.BindEnv("encryption_key", "ENCRYPTION_KEY")
	_ = v.BindEnv("log.level", "LOG_LEVEL")
	_ = v.BindEnv("log.format", "LOG_FORMAT")
	_ = v.BindEnv("auth.jwt_secret", "JWT_SECRET")
	_ = v.BindEnv("auth.internal_token", "AUTOREPLY_INTERNAL_TOKEN")

	// TELEGRAM_TOKEN is what the inbox poller historically read
	_ = v.BindEnv("telegram.bot_token", "TELEGRAM_BOT_TOKEN", "TELEGRAM_TOKEN")
	_ = v.BindEnv("thread_api.base_url", "THREAD_API_BASE_URL")
	_ = v.BindEnv("thread_api.token", "THREAD_API_TOKEN")

	_ = v.BindEnv("inbox_poll.enabled", "INBOX_POLL_ENABLED")
	_ = v.BindEnv("inbox_poll.interval_sec", "INBOX_POLL_INTERVAL_SEC")
	_ = v.BindEnv("inbox_poll.providers", "INBOX_POLL_PROVIDERS")
	_ = v.BindEnv("inbox_poll.post_limit", "INBOX_POLL_POST_LIMIT")
	_ = v.BindEnv("inbox_poll.reply_limit", "INBOX_POLL_REPLY_LIMIT")
	_ = v.BindEnv("inbox_poll.delay_ms", "INBOX_POLL_DELAY_MS")

	v.AutomaticEnv()

	// 1. Read config file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			logger.Infof("No config file found, using defaults and environment variables")
		} else {
			return err
		}
	} else {
		logger.Infof("Loaded config from: %s", v.ConfigFileUsed())
	}

	// 2. Unmarshal into struct
	if err := v.Unmarshal(&App); err != nil {
		return err
	}

	// 3. Env lists arrive as a single comma separated string
	App.InboxPoll.Providers = splitList(App.InboxPoll.Providers)

	return nil
}

func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if p := strings.ToLower(strings.TrimSpace(part)); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}
