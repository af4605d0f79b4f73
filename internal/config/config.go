// Package config resolves runtime configuration in priority order:
// defaults -> YAML file -> .env file -> process environment.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/fjod/go_cart/storefront/internal/gateway"
	"github.com/fjod/go_cart/storefront/internal/storage"
)

const envPrefix = "STOREFRONT_"

type Config struct {
	API     APIConfig             `yaml:"api"`
	Breaker gateway.BreakerConfig `yaml:"breaker"`
	Storage storage.Options       `yaml:"storage"`
	Log     LogConfig             `yaml:"log"`
	Catalog CatalogConfig         `yaml:"catalog"`
	FakeAPI FakeAPIConfig         `yaml:"fakeapi"`

	// MetricsAddr serves the gateway metrics when set, e.g. ":9100".
	MetricsAddr string `yaml:"metrics_addr"`
}

type APIConfig struct {
	BaseURL   string        `yaml:"base_url"`
	Timeout   time.Duration `yaml:"timeout"`
	LoginPath string        `yaml:"login_path"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type CatalogConfig struct {
	PageSize int  `yaml:"page_size"`
	Fencing  bool `yaml:"fencing"`
}

type FakeAPIConfig struct {
	Addr            string        `yaml:"addr"`
	JWTSecret       string        `yaml:"jwt_secret"`
	TokenTTL        time.Duration `yaml:"token_ttl"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

func Default() Config {
	return Config{
		API: APIConfig{
			BaseURL:   "http://localhost:8080/api/v1",
			Timeout:   gateway.DefaultTimeout,
			LoginPath: gateway.DefaultLoginPath,
		},
		Breaker: gateway.BreakerConfig{
			ConsecutiveFailures: 5,
			OpenTimeout:         30 * time.Second,
		},
		Storage: storage.Options{
			Backend:    storage.BackendSQLite,
			RedisAddr:  "localhost:6379",
			KeyPrefix:  "storefront",
			SQLitePath: "storefront.db",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Catalog: CatalogConfig{
			PageSize: domain.DefaultPageSize,
		},
		FakeAPI: FakeAPIConfig{
			Addr:            ":8080",
			JWTSecret:       "dev-secret-change-me",
			TokenTTL:        24 * time.Hour,
			ShutdownTimeout: 10 * time.Second,
		},
	}
}

// Load resolves the configuration. Either path may be empty; a missing file is skipped.
func Load(path, envFile string) (Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(raw, &cfg); err != nil {
				return Config{}, errors.Wrapf(err, "parse config file %s", path)
			}
		case !os.IsNotExist(err):
			return Config{}, errors.Wrapf(err, "read config file %s", path)
		}
	}

	dotenv := map[string]string{}
	if envFile != "" {
		vars, err := godotenv.Read(envFile)
		switch {
		case err == nil:
			dotenv = vars
		case !os.IsNotExist(err):
			return Config{}, errors.Wrapf(err, "read env file %s", envFile)
		}
	}

	e := env{dotenv: dotenv}
	cfg.API.BaseURL = e.str("API_BASE_URL", cfg.API.BaseURL)
	cfg.API.Timeout = e.duration("API_TIMEOUT", cfg.API.Timeout)
	cfg.API.LoginPath = e.str("LOGIN_PATH", cfg.API.LoginPath)

	cfg.Breaker.Enabled = e.boolean("BREAKER_ENABLED", cfg.Breaker.Enabled)
	cfg.Breaker.ConsecutiveFailures = uint32(e.integer("BREAKER_FAILURES", int(cfg.Breaker.ConsecutiveFailures)))
	cfg.Breaker.OpenTimeout = e.duration("BREAKER_OPEN_TIMEOUT", cfg.Breaker.OpenTimeout)

	cfg.Storage.Backend = strings.ToLower(e.str("STORAGE_BACKEND", cfg.Storage.Backend))
	cfg.Storage.RedisAddr = e.str("REDIS_ADDR", cfg.Storage.RedisAddr)
	cfg.Storage.RedisPassword = e.str("REDIS_PASSWORD", cfg.Storage.RedisPassword)
	cfg.Storage.RedisDB = e.integer("REDIS_DB", cfg.Storage.RedisDB)
	cfg.Storage.KeyPrefix = e.str("STORAGE_KEY_PREFIX", cfg.Storage.KeyPrefix)
	cfg.Storage.SQLitePath = e.str("SQLITE_PATH", cfg.Storage.SQLitePath)

	cfg.Log.Level = e.str("LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = e.str("LOG_FORMAT", cfg.Log.Format)

	cfg.Catalog.PageSize = e.integer("PAGE_SIZE", cfg.Catalog.PageSize)
	cfg.Catalog.Fencing = e.boolean("CATALOG_FENCING", cfg.Catalog.Fencing)

	cfg.FakeAPI.Addr = e.str("FAKEAPI_ADDR", cfg.FakeAPI.Addr)
	cfg.FakeAPI.JWTSecret = e.str("JWT_SECRET", cfg.FakeAPI.JWTSecret)
	cfg.FakeAPI.TokenTTL = e.duration("TOKEN_TTL", cfg.FakeAPI.TokenTTL)

	cfg.MetricsAddr = e.str("METRICS_ADDR", cfg.MetricsAddr)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.API.BaseURL == "" {
		return errors.New("api base url is required")
	}
	if c.API.Timeout <= 0 {
		return errors.Errorf("api timeout must be positive, got %s", c.API.Timeout)
	}
	if c.Catalog.PageSize <= 0 {
		return errors.Errorf("catalog page size must be positive, got %d", c.Catalog.PageSize)
	}
	switch c.Storage.Backend {
	case storage.BackendMemory, storage.BackendRedis, storage.BackendSQLite:
	default:
		return errors.Wrap(storage.ErrUnknownBackend, c.Storage.Backend)
	}
	return nil
}

// Gateway maps the api section onto the gateway's own config.
func (c Config) Gateway() gateway.Config {
	return gateway.Config{
		BaseURL:   c.API.BaseURL,
		Timeout:   c.API.Timeout,
		LoginPath: c.API.LoginPath,
		Breaker:   c.Breaker,
	}
}

// env looks a key up in the process environment first, then in the .env values.
type env struct {
	dotenv map[string]string
}

func (e env) lookup(key string) string {
	key = envPrefix + key
	if v := os.Getenv(key); v != "" {
		return v
	}
	return e.dotenv[key]
}

func (e env) str(key, fallback string) string {
	if v := e.lookup(key); v != "" {
		return v
	}
	return fallback
}

func (e env) integer(key string, fallback int) int {
	v, err := strconv.Atoi(e.lookup(key))
	if err != nil {
		return fallback
	}
	return v
}

func (e env) boolean(key string, fallback bool) bool {
	v, err := strconv.ParseBool(e.lookup(key))
	if err != nil {
		return fallback
	}
	return v
}

func (e env) duration(key string, fallback time.Duration) time.Duration {
	v, err := time.ParseDuration(e.lookup(key))
	if err != nil {
		return fallback
	}
	return v
}
