package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	EnvProduction = "production"

	TierFree      = "generate_3_urls"
	TierPro       = "generate_up_to_25_links"
	TierUnlimited = "unlimited_urls"

	// Unlimited значение лимита для безлимитного тарифа
	Unlimited = -1
)

type Config struct {
	App       AppConfig
	DB        DBConfig
	Redis     RedisConfig
	Auth      AuthConfig
	Quota     QuotaConfig
	Visits    VisitConfig
	RateLimit RateLimitConfig
	Tracing   TracingConfig
}

type AppConfig struct {
	Port                string
	Env                 string
	BaseURL             string
	FallbackURL         string
	RedirectStatus      int
	ConcealForeignLinks bool
	LookupTimeout       time.Duration
}

type DBConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
	SSLMode  string
	MaxConns int32
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
	CacheTTL time.Duration

	// TombstoneTTL сколько после инвалидации кэш не принимает значения из БД
	TombstoneTTL time.Duration
}

// Enabled Redis необязателен: без него кэш и внешние тарифы отключаются
func (c RedisConfig) Enabled() bool {
	return c.Host != ""
}

type AuthConfig struct {
	JWTSecret string
}

type QuotaConfig struct {
	DefaultTier string
	Tiers       map[string]int // tier key -> limit, Unlimited для безлимита
}

type VisitConfig struct {
	Workers int
	Buffer  int
	Timeout time.Duration
}

type RateLimitConfig struct {
	RequestsPerSecond float64
	BurstSize         int
}

// TracingConfig пустой Endpoint отключает экспорт трейсов
type TracingConfig struct {
	Endpoint    string
	ServiceName string
	SampleRatio float64
}

func (c *Config) IsProduction() bool {
	return c.App.Env == EnvProduction
}

func Load() (*Config, error) {
	return LoadFile(".env")
}

// LoadFile читает конфиг из файла (если он есть) и переменных окружения
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("env")
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var pathErr *fs.PathError
		if !errors.As(err, &pathErr) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	cfg.App.Port = v.GetString("APP_PORT")
	cfg.App.Env = v.GetString("APP_ENV")
	cfg.App.BaseURL = v.GetString("APP_BASE_URL")
	cfg.App.FallbackURL = v.GetString("FALLBACK_URL")
	cfg.App.RedirectStatus = v.GetInt("REDIRECT_STATUS")
	cfg.App.ConcealForeignLinks = v.GetBool("CONCEAL_FOREIGN_LINKS")
	cfg.App.LookupTimeout = v.GetDuration("LOOKUP_TIMEOUT")

	cfg.DB.Host = v.GetString("DB_HOST")
	cfg.DB.Port = v.GetString("DB_PORT")
	cfg.DB.User = v.GetString("DB_USER")
	cfg.DB.Password = v.GetString("DB_PASSWORD")
	cfg.DB.Name = v.GetString("DB_NAME")
	cfg.DB.SSLMode = v.GetString("DB_SSLMODE")
	cfg.DB.MaxConns = v.GetInt32("DB_MAX_CONNS")

	cfg.Redis.Host = v.GetString("REDIS_HOST")
	cfg.Redis.Port = v.GetString("REDIS_PORT")
	cfg.Redis.Password = v.GetString("REDIS_PASSWORD")
	cfg.Redis.DB = v.GetInt("REDIS_DB")
	cfg.Redis.CacheTTL = v.GetDuration("CACHE_TTL")
	cfg.Redis.TombstoneTTL = v.GetDuration("CACHE_TOMBSTONE_TTL")

	cfg.Auth.JWTSecret = v.GetString("AUTH_JWT_SECRET")

	// Тарифы в формате "tier1:3,tier2:25,tier3:-1"
	tiers, err := parseTiers(v.GetString("QUOTA_TIERS"))
	if err != nil {
		return nil, err
	}
	cfg.Quota.Tiers = tiers
	cfg.Quota.DefaultTier = v.GetString("QUOTA_DEFAULT_TIER")

	cfg.Visits.Workers = v.GetInt("VISIT_WORKERS")
	cfg.Visits.Buffer = v.GetInt("VISIT_BUFFER")
	cfg.Visits.Timeout = v.GetDuration("VISIT_TIMEOUT")

	cfg.RateLimit.RequestsPerSecond = v.GetFloat64("RATE_LIMIT_RPS")
	cfg.RateLimit.BurstSize = v.GetInt("RATE_LIMIT_BURST")

	cfg.Tracing.Endpoint = v.GetString("OTEL_EXPORTER_OTLP_ENDPOINT")
	cfg.Tracing.ServiceName = v.GetString("OTEL_SERVICE_NAME")
	cfg.Tracing.SampleRatio = v.GetFloat64("OTEL_TRACES_SAMPLE_RATIO")

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_PORT", "8080")
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("APP_BASE_URL", "http://localhost:8080")
	v.SetDefault("FALLBACK_URL", "/")
	v.SetDefault("REDIRECT_STATUS", 302)
	v.SetDefault("CONCEAL_FOREIGN_LINKS", true)
	v.SetDefault("LOOKUP_TIMEOUT", 2*time.Second)

	v.SetDefault("DB_PORT", "5432")
	v.SetDefault("DB_SSLMODE", "disable")
	v.SetDefault("DB_MAX_CONNS", 25)

	v.SetDefault("REDIS_PORT", "6379")
	v.SetDefault("CACHE_TTL", 24*time.Hour)
	v.SetDefault("CACHE_TOMBSTONE_TTL", 10*time.Second)

	v.SetDefault("QUOTA_DEFAULT_TIER", TierFree)
	v.SetDefault("QUOTA_TIERS", fmt.Sprintf("%s:3,%s:25,%s:%d", TierFree, TierPro, TierUnlimited, Unlimited))

	v.SetDefault("VISIT_WORKERS", 4)
	v.SetDefault("VISIT_BUFFER", 1024)
	v.SetDefault("VISIT_TIMEOUT", 3*time.Second)

	v.SetDefault("RATE_LIMIT_RPS", 10)
	v.SetDefault("RATE_LIMIT_BURST", 20)

	v.SetDefault("OTEL_SERVICE_NAME", "linkresolver")
	v.SetDefault("OTEL_TRACES_SAMPLE_RATIO", 1.0)
}

func (c *Config) validate() error {
	if c.Auth.JWTSecret == "" {
		return errors.New("AUTH_JWT_SECRET is required")
	}
	if c.App.RedirectStatus != 301 && c.App.RedirectStatus != 302 {
		return fmt.Errorf("REDIRECT_STATUS must be 301 or 302, got %d", c.App.RedirectStatus)
	}
	if _, ok := c.Quota.Tiers[c.Quota.DefaultTier]; !ok {
		return fmt.Errorf("default tier %q is not listed in QUOTA_TIERS", c.Quota.DefaultTier)
	}
	if c.Visits.Workers < 1 || c.Visits.Buffer < 1 {
		return errors.New("VISIT_WORKERS and VISIT_BUFFER must be positive")
	}
	// Поиск, прочитавший строку до инвалидации, обязан закончиться раньше надгробия
	if c.Redis.TombstoneTTL <= c.App.LookupTimeout {
		return fmt.Errorf("CACHE_TOMBSTONE_TTL (%s) must exceed LOOKUP_TIMEOUT (%s)", c.Redis.TombstoneTTL, c.App.LookupTimeout)
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("OTEL_TRACES_SAMPLE_RATIO must be within [0, 1], got %v", c.Tracing.SampleRatio)
	}
	return nil
}

// parseTiers разбирает строку вида "key1:3,key2:-1"
func parseTiers(raw string) (map[string]int, error) {
	tiers := make(map[string]int)
	if raw == "" {
		return tiers, nil
	}

	pairs := strings.Split(raw, ",")
	for _, pair := range pairs {
		parts := strings.SplitN(strings.TrimSpace(pair), ":", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid tier definition %q", pair)
		}
		limit, err := strconv.Atoi(strings.TrimSpace(parts[1]))
		if err != nil || limit < Unlimited {
			return nil, fmt.Errorf("invalid limit in tier definition %q", pair)
		}
		tiers[strings.TrimSpace(parts[0])] = limit
	}

	return tiers, nil
}
