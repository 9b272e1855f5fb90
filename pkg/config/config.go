// Package config loads server configuration from the environment.
//
// An optional .env file is read first; variables already set in the
// process environment win over it.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"quickpe/pkg/logging"
	"quickpe/pkg/money"
	"quickpe/pkg/wallet"
	"quickpe/pkg/wallet/pgstore"

	"github.com/joho/godotenv"
)

// Store backends.
const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// Config is the full server configuration.
type Config struct {
	// Env is "development" or "production" (APP_ENV)
	Env string

	// Store selects the wallet backend (QUICKPE_STORE: postgres or memory)
	Store string

	HTTP     HTTPConfig
	Postgres pgstore.Config
	Redis    RedisConfig
	Cache    CacheConfig
	Auth     AuthConfig
	Wallet   wallet.Config
	Logging  logging.Config
}

// HTTPConfig holds listener settings.
type HTTPConfig struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// AllowedOrigins restricts websocket origins; empty allows all
	AllowedOrigins []string
}

// RedisConfig holds the L2 cache connection. Addr empty disables Redis.
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// Enabled reports whether a Redis layer should be built.
func (c RedisConfig) Enabled() bool {
	return c.Addr != ""
}

// CacheConfig sizes the directory cache.
type CacheConfig struct {
	MemorySize  int
	MemoryTTL   time.Duration
	RedisTTL    time.Duration
	NegativeTTL time.Duration

	// BloomItems enables the bloom prefilter on L1 when positive
	BloomItems  uint
	BloomFPRate float64
}

// AuthConfig holds token settings.
type AuthConfig struct {
	Secret     string
	TokenTTL   time.Duration
	BcryptCost int
}

// IsDevelopment reports whether APP_ENV is development.
func (c Config) IsDevelopment() bool {
	return c.Env == "development"
}

// devSecret signs tokens in development when JWT_SECRET is unset.
const devSecret = "quickpe-development-secret"

// Load reads the given .env files (default ".env"), then the environment.
// Missing files are ignored.
func Load(files ...string) (Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("config: %s: %w", f, err)
		}
	}
	return FromEnv()
}

// FromEnv builds a Config from environment variables alone.
func FromEnv() (Config, error) {
	var p parser

	cfg := Config{
		Env:   getEnv("APP_ENV", "production"),
		Store: getEnv("QUICKPE_STORE", StorePostgres),
		HTTP: HTTPConfig{
			Addr:            ":" + getEnv("PORT", "8080"),
			ReadTimeout:     p.duration("HTTP_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    p.duration("HTTP_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:     p.duration("HTTP_IDLE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: p.duration("HTTP_SHUTDOWN_TIMEOUT", 10*time.Second),
			AllowedOrigins:  getList("HTTP_ALLOWED_ORIGINS"),
		},
		Redis: RedisConfig{
			Addr:      os.Getenv("REDIS_ADDR"),
			Password:  os.Getenv("REDIS_PASSWORD"),
			DB:        p.int("REDIS_DB", 0),
			KeyPrefix: getEnv("REDIS_KEY_PREFIX", "quickpe:"),
		},
		Cache: CacheConfig{
			MemorySize:  p.int("CACHE_MEMORY_SIZE", 10_000),
			MemoryTTL:   p.duration("CACHE_MEMORY_TTL", time.Minute),
			RedisTTL:    p.duration("CACHE_REDIS_TTL", 5*time.Minute),
			NegativeTTL: p.duration("CACHE_NEGATIVE_TTL", 30*time.Second),
			BloomItems:  uint(p.int("CACHE_BLOOM_ITEMS", 0)),
			BloomFPRate: p.float("CACHE_BLOOM_FP_RATE", 0.01),
		},
		Auth: AuthConfig{
			Secret:     os.Getenv("JWT_SECRET"),
			TokenTTL:   p.duration("AUTH_TOKEN_TTL", 24*time.Hour),
			BcryptCost: p.int("AUTH_BCRYPT_COST", 0),
		},
		Logging: logging.ConfigFromEnv(),
	}

	pg := pgstore.DefaultConfig()
	pg.DSN = os.Getenv("DATABASE_URL")
	pg.Host = getEnv("POSTGRES_HOST", pg.Host)
	pg.Port = p.int("POSTGRES_PORT", pg.Port)
	pg.User = getEnv("POSTGRES_USER", pg.User)
	pg.Password = getEnv("POSTGRES_PASSWORD", pg.Password)
	pg.Database = getEnv("POSTGRES_DB", pg.Database)
	pg.SSLMode = getEnv("POSTGRES_SSLMODE", pg.SSLMode)
	pg.MaxOpenConns = p.int("POSTGRES_MAX_OPEN_CONNS", pg.MaxOpenConns)
	cfg.Postgres = pg

	w := wallet.DefaultConfig()
	w.TxTimeout = p.duration("WALLET_TX_TIMEOUT", w.TxTimeout)
	w.TxRetries = p.int("WALLET_TX_RETRIES", w.TxRetries)
	w.NotifyTimeout = p.duration("WALLET_NOTIFY_TIMEOUT", w.NotifyTimeout)
	w.MaxDeposit = p.amount("WALLET_MAX_DEPOSIT", w.MaxDeposit)
	w.SignupMin = p.amount("WALLET_SIGNUP_MIN", w.SignupMin)
	w.SignupMax = p.amount("WALLET_SIGNUP_MAX", w.SignupMax)
	cfg.Wallet = w

	if cfg.Auth.Secret == "" && cfg.IsDevelopment() {
		cfg.Auth.Secret = devSecret
	}

	if err := errors.Join(p.errs...); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

// Validate checks the configuration for consistency.
func (c Config) Validate() error {
	var errs []error

	switch c.Store {
	case StorePostgres, StoreMemory:
	default:
		errs = append(errs, fmt.Errorf("config: unknown store %q", c.Store))
	}
	if c.Auth.Secret == "" {
		errs = append(errs, errors.New("config: JWT_SECRET is required outside development"))
	} else if !c.IsDevelopment() && len(c.Auth.Secret) < 32 {
		errs = append(errs, errors.New("config: JWT_SECRET must be at least 32 bytes"))
	}
	if c.Auth.TokenTTL <= 0 {
		errs = append(errs, errors.New("config: AUTH_TOKEN_TTL must be positive"))
	}
	if c.Cache.MemorySize <= 0 {
		errs = append(errs, errors.New("config: CACHE_MEMORY_SIZE must be positive"))
	}
	if c.Cache.BloomItems > 0 && (c.Cache.BloomFPRate <= 0 || c.Cache.BloomFPRate >= 1) {
		errs = append(errs, errors.New("config: CACHE_BLOOM_FP_RATE must be in (0, 1)"))
	}
	if err := c.Wallet.Validate(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// parser collects conversion errors so every bad variable is reported at once.
type parser struct {
	errs []error
}

func (p *parser) fail(key, value string, err error) {
	p.errs = append(p.errs, fmt.Errorf("config: %s=%q: %w", key, value, err))
}

func (p *parser) int(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		p.fail(key, value, err)
		return defaultValue
	}
	return n
}

func (p *parser) float(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		p.fail(key, value, err)
		return defaultValue
	}
	return f
}

func (p *parser) duration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		p.fail(key, value, err)
		return defaultValue
	}
	return d
}

// amount parses a rupee value such as "1000" or "99.50".
func (p *parser) amount(key string, defaultValue money.Amount) money.Amount {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	a, err := money.Parse(value)
	if err != nil {
		p.fail(key, value, err)
		return defaultValue
	}
	return a
}
