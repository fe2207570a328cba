package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

// MaxMembershipCacheTTL верхняя граница кэша проверки подписки
const MaxMembershipCacheTTL = 10 * time.Minute

// Config содержит все конфигурационные параметры приложения
type Config struct {
	Telegram   TelegramConfig
	Referral   ReferralConfig
	Storage    StorageConfig
	Database   DatabaseConfig
	Membership MembershipConfig
	RateLimit  RateLimitConfig
	App        AppConfig
}

// TelegramConfig содержит настройки Telegram бота
type TelegramConfig struct {
	BotToken       string
	BotUsername    string
	SupportContact string
}

// ReferralConfig содержит настройки реферальной программы
type ReferralConfig struct {
	Reward int64
}

// StorageConfig выбирает бэкенд леджера
type StorageConfig struct {
	Driver     string // file, postgres, sqlite
	LedgerFile string
	SQLitePath string
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	SSLMode  string
}

// MembershipConfig содержит настройки проверки подписки на каналы
type MembershipConfig struct {
	Channels     []string
	CheckTimeout time.Duration
	CacheDriver  string // none, memory, redis
	CacheTTL     time.Duration
	RedisURL     string
}

type RateLimitConfig struct {
	RPS   float64
	Burst int
}

type AppConfig struct {
	Env      string
	LogLevel string
	Port     int
}

// Load загружает конфигурацию бота из переменных окружения и .env
func Load() (*Config, error) {
	cfg := loadFromEnv()

	if err := validateConfig(cfg); err != nil {
		return nil, fmt.Errorf("ошибка валидации конфигурации: %w", err)
	}

	return cfg, nil
}

// LoadStorage загружает конфигурацию, проверяя только настройки хранилища.
// Используется утилитами, которым не нужен токен бота.
func LoadStorage() (*Config, error) {
	cfg := loadFromEnv()

	if err := validateStorage(cfg); err != nil {
		return nil, fmt.Errorf("ошибка валидации конфигурации: %w", err)
	}

	return cfg, nil
}

func loadFromEnv() *Config {
	_ = godotenv.Load()

	cfg := &Config{}

	// Telegram
	cfg.Telegram.BotToken = os.Getenv("TELEGRAM_BOT_TOKEN")
	cfg.Telegram.BotUsername = strings.TrimPrefix(os.Getenv("BOT_USERNAME"), "@")
	cfg.Telegram.SupportContact = getEnvDefault("SUPPORT_CONTACT", "@MR_sepix")

	// Referral
	cfg.Referral.Reward = int64(getEnvIntDefault("REFERRAL_REWARD", 10))

	// Storage
	cfg.Storage.Driver = strings.ToLower(getEnvDefault("STORAGE_DRIVER", "file"))
	cfg.Storage.LedgerFile = getEnvDefault("LEDGER_FILE", "users.json")
	cfg.Storage.SQLitePath = getEnvDefault("SQLITE_PATH", "ledger.db")

	// Database
	cfg.Database.Host = getEnvDefault("DB_HOST", "localhost")
	cfg.Database.Port = getEnvIntDefault("DB_PORT", 5432)
	cfg.Database.User = os.Getenv("DB_USER")
	cfg.Database.Password = os.Getenv("DB_PASSWORD")
	cfg.Database.Name = os.Getenv("DB_NAME")
	cfg.Database.SSLMode = getEnvDefault("DB_SSL_MODE", "disable")

	// Membership
	cfg.Membership.Channels = getEnvListDefault("REQUIRED_CHANNELS", []string{"@sepix_shop", "@sepix_trust"})
	cfg.Membership.CheckTimeout = getEnvDurationDefault("MEMBERSHIP_CHECK_TIMEOUT", 5*time.Second)
	cfg.Membership.CacheDriver = strings.ToLower(getEnvDefault("MEMBERSHIP_CACHE", "none"))
	cfg.Membership.CacheTTL = getEnvDurationDefault("MEMBERSHIP_CACHE_TTL", 0)
	cfg.Membership.RedisURL = getEnvDefault("REDIS_URL", "redis://localhost:6379/0")

	// Rate limit
	cfg.RateLimit.RPS = getEnvFloatDefault("RATE_LIMIT_RPS", 0.5)
	cfg.RateLimit.Burst = getEnvIntDefault("RATE_LIMIT_BURST", 10)

	// App
	cfg.App.Env = getEnvDefault("APP_ENV", "development")
	cfg.App.LogLevel = getEnvDefault("LOG_LEVEL", "info")
	cfg.App.Port = getEnvIntDefault("APP_PORT", 8080)

	return cfg
}

func getEnvDefault(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func getEnvIntDefault(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

func getEnvFloatDefault(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func getEnvDurationDefault(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

// getEnvListDefault читает список через запятую, пустые элементы отбрасываются
func getEnvListDefault(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}

// validateConfig проверяет корректность конфигурации
func validateConfig(config *Config) error {
	if config.Telegram.BotToken == "" {
		return fmt.Errorf("TELEGRAM_BOT_TOKEN не установлен")
	}
	if len(config.Membership.Channels) == 0 {
		return fmt.Errorf("REQUIRED_CHANNELS не установлен")
	}
	if config.Membership.CheckTimeout <= 0 {
		return fmt.Errorf("MEMBERSHIP_CHECK_TIMEOUT должен быть положительным")
	}
	switch config.Membership.CacheDriver {
	case "none", "memory", "redis":
	default:
		return fmt.Errorf("поддерживаются только MEMBERSHIP_CACHE: none, memory, redis")
	}
	if config.Membership.CacheTTL < 0 || config.Membership.CacheTTL > MaxMembershipCacheTTL {
		return fmt.Errorf("MEMBERSHIP_CACHE_TTL должен быть в диапазоне 0..%s", MaxMembershipCacheTTL)
	}
	if config.Referral.Reward <= 0 {
		return fmt.Errorf("REFERRAL_REWARD должен быть положительным")
	}
	if config.RateLimit.RPS <= 0 || config.RateLimit.Burst <= 0 {
		return fmt.Errorf("RATE_LIMIT_RPS и RATE_LIMIT_BURST должны быть положительными")
	}

	return validateStorage(config)
}

// validateStorage проверяет настройки выбранного бэкенда леджера
func validateStorage(config *Config) error {
	switch config.Storage.Driver {
	case "file":
		if config.Storage.LedgerFile == "" {
			return fmt.Errorf("LEDGER_FILE не установлен")
		}
	case "sqlite":
		if config.Storage.SQLitePath == "" {
			return fmt.Errorf("SQLITE_PATH не установлен")
		}
	case "postgres":
		if config.Database.Host == "" {
			return fmt.Errorf("DB_HOST не установлен")
		}
		if config.Database.User == "" {
			return fmt.Errorf("DB_USER не установлен")
		}
		if config.Database.Password == "" {
			return fmt.Errorf("DB_PASSWORD не установлен")
		}
		if config.Database.Name == "" {
			return fmt.Errorf("DB_NAME не установлен")
		}
	default:
		return fmt.Errorf("поддерживаются только STORAGE_DRIVER: file, postgres, sqlite")
	}

	return nil
}

// GetDSN возвращает строку подключения к базе данных
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode)
}

// GetURL возвращает строку подключения в формате URL (для lib/pq и goose)
func (c *DatabaseConfig) GetURL() string {
	return fmt.Sprintf("postgresql://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode)
}

// IsDevelopment проверяет, запущено ли приложение в режиме разработки
func (c *AppConfig) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction проверяет, запущено ли приложение в продакшн режиме
func (c *AppConfig) IsProduction() bool {
	return c.Env == "production"
}

// GetLogLevel возвращает уровень логирования в формате zap
func (c *AppConfig) GetLogLevel() zap.AtomicLevel {
	switch c.LogLevel {
	case "debug":
		return zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info":
		return zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		return zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		return zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		return zap.NewAtomicLevelAt(zap.InfoLevel)
	}
}
