package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultPath is used when Load gets an empty path.
const DefaultPath = "config.yaml"

// SMSConfig points at the bulk SMS REST gateway.
type SMSConfig struct {
	BaseURL  string `yaml:"baseURL"`
	Username string `yaml:"username"`
	APIKey   string `yaml:"apiKey"`
	SenderID string `yaml:"senderID"`
}

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port                      string    `yaml:"port"`
	LogLevel                  string    `yaml:"logLevel"`
	LogFormat                 string    `yaml:"logFormat"`
	LogFile                   string    `yaml:"logFile"`
	DatabaseDriver            string    `yaml:"databaseDriver"`
	DatabaseURL               string    `yaml:"databaseURL"`
	JWTSecret                 string    `yaml:"jwtSecret"`
	RedisAddr                 string    `yaml:"redisAddr"`
	RedisPassword             string    `yaml:"redisPassword"`
	RequestRateLimitPerMinute int       `yaml:"requestRateLimitPerMinute"`
	NotifyCandidateLimit      int       `yaml:"notifyCandidateLimit"`
	CallbackSecret            string    `yaml:"callbackSecret"`
	TelegramToken             string    `yaml:"telegramToken"`
	SMS                       SMSConfig `yaml:"sms"`
}

// Load reads config from path (defaults to config.yaml). A missing file is
// not an error: everything can come from the environment.
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = DefaultPath
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return cfg, fmt.Errorf("read config: %w", err)
	}

	applyEnv(&cfg)
	applyDefaults(&cfg)
	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *FileConfig) {
	str := func(dst *string, keys ...string) {
		for _, k := range keys {
			if v := strings.TrimSpace(os.Getenv(k)); v != "" {
				*dst = v
				return
			}
		}
	}
	num := func(dst *int, key string) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
				*dst = n
			}
		}
	}

	str(&cfg.Port, "WEKA_PORT", "PORT")
	str(&cfg.LogLevel, "WEKA_LOG_LEVEL")
	str(&cfg.LogFormat, "WEKA_LOG_FORMAT")
	str(&cfg.LogFile, "WEKA_LOG_FILE")
	str(&cfg.DatabaseDriver, "WEKA_DATABASE_DRIVER")
	str(&cfg.DatabaseURL, "WEKA_DATABASE_URL", "DATABASE_URL")
	str(&cfg.JWTSecret, "WEKA_JWT_SECRET", "JWT_SECRET")
	str(&cfg.RedisAddr, "WEKA_REDIS_ADDR")
	str(&cfg.RedisPassword, "WEKA_REDIS_PASSWORD")
	num(&cfg.RequestRateLimitPerMinute, "WEKA_REQUEST_RATE_LIMIT_PER_MINUTE")
	num(&cfg.NotifyCandidateLimit, "WEKA_NOTIFY_CANDIDATE_LIMIT")
	str(&cfg.CallbackSecret, "WEKA_CALLBACK_SECRET")
	str(&cfg.TelegramToken, "WEKA_TELEGRAM_TOKEN")
	str(&cfg.SMS.BaseURL, "WEKA_SMS_BASE_URL")
	str(&cfg.SMS.Username, "WEKA_SMS_USERNAME")
	str(&cfg.SMS.APIKey, "WEKA_SMS_API_KEY")
	str(&cfg.SMS.SenderID, "WEKA_SMS_SENDER_ID")
}

func applyDefaults(cfg *FileConfig) {
	if cfg.Port == "" {
		cfg.Port = "3000"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.LogFormat == "" {
		cfg.LogFormat = "json"
	}
	if cfg.DatabaseDriver == "" {
		cfg.DatabaseDriver = "postgres"
	}
	if cfg.NotifyCandidateLimit <= 0 {
		cfg.NotifyCandidateLimit = 5
	}
	if cfg.RequestRateLimitPerMinute < 0 {
		cfg.RequestRateLimitPerMinute = 0
	}
}

func (c FileConfig) validate() error {
	if strings.TrimSpace(c.DatabaseURL) == "" {
		return errors.New("databaseURL is required")
	}
	switch c.DatabaseDriver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("databaseDriver must be postgres or sqlite, got %q", c.DatabaseDriver)
	}
	if strings.TrimSpace(c.JWTSecret) == "" {
		return errors.New("jwtSecret is required")
	}
	return nil
}
