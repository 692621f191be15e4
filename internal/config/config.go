package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds service configuration loaded from .env, YAML and the environment.
type Config struct {
	// Path is the YAML file the config was read from.
	Path string
	Env  string

	ServerPort  string
	ServiceName string
	// CacheNamespace prefixes every cache key: "{service}_{env}" unless set explicitly.
	CacheNamespace string
	LogLevel       string

	WeatherAPIKey         string
	WeatherAPIURL         string
	GeocodeURL            string
	WeatherAPITimeout     time.Duration
	ValidateAPIKeyOnStart bool

	RequestTimeout time.Duration

	DatabaseURL       string
	DBMinConns        int32
	DBMaxConns        int32
	DBMaxConnIdleTime time.Duration

	CacheBackend   string // "in_memory", "memcached" or "redis"
	CacheTTL       time.Duration
	CacheOpTimeout time.Duration

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPoolSize int

	MemcachedAddrs        string
	MemcachedTimeout      time.Duration
	MemcachedMaxIdleConns int

	RetryAttempts  int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration

	RateLimitRPS     int
	RateLimitBurst   int
	ClientRateLimit  int
	ClientRateWindow time.Duration

	BreakerFailureThreshold int
	BreakerSuccessThreshold int
	BreakerTimeout          time.Duration

	CoalesceEnabled bool
	CoalesceTimeout time.Duration

	WarmingEnabled     bool
	WarmingInterval    time.Duration
	WarmingConcurrency int

	ShutdownTimeout time.Duration

	DegradedWindow   time.Duration
	DegradedErrorPct int
}

type fileConfig struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`

	Service struct {
		Name string `yaml:"name"`
	} `yaml:"service"`

	LogLevel string `yaml:"log_level"`

	WeatherAPI struct {
		URL             string `yaml:"url"`
		GeocodeURL      string `yaml:"geocode_url"`
		Timeout         string `yaml:"timeout"`
		ValidateOnStart bool   `yaml:"validate_on_start"`
	} `yaml:"weather_api"`

	Request struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"request"`

	Database struct {
		DSN             string `yaml:"dsn"`
		MinConns        int32  `yaml:"min_conns"`
		MaxConns        int32  `yaml:"max_conns"`
		MaxConnIdleTime string `yaml:"max_conn_idle_time"`
	} `yaml:"database"`

	Cache struct {
		Backend   string `yaml:"backend"`
		TTL       string `yaml:"ttl"`
		Namespace string `yaml:"namespace"`
		Timeout   string `yaml:"timeout"`
		Redis     struct {
			Addr     string `yaml:"addr"`
			DB       int    `yaml:"db"`
			PoolSize int    `yaml:"pool_size"`
		} `yaml:"redis"`
		Memcached struct {
			Addrs        string `yaml:"addrs"`
			Timeout      string `yaml:"timeout"`
			MaxIdleConns int    `yaml:"max_idle_conns"`
		} `yaml:"memcached"`
	} `yaml:"cache"`

	Reliability struct {
		RetryMaxAttempts int    `yaml:"retry_max_attempts"`
		RetryBaseDelay   string `yaml:"retry_base_delay"`
		RetryMaxDelay    string `yaml:"retry_max_delay"`
		RateLimitRPS     int    `yaml:"rate_limit_rps"`
		RateLimitBurst   int    `yaml:"rate_limit_burst"`
		ClientRateLimit  int    `yaml:"client_rate_limit"`
		ClientRateWindow string `yaml:"client_rate_window"`
		CircuitBreaker   struct {
			FailureThreshold int    `yaml:"failure_threshold"`
			SuccessThreshold int    `yaml:"success_threshold"`
			Timeout          string `yaml:"timeout"`
		} `yaml:"circuit_breaker"`
	} `yaml:"reliability"`

	Coalesce struct {
		Enabled bool   `yaml:"enabled"`
		Timeout string `yaml:"timeout"`
	} `yaml:"coalesce"`

	Warming struct {
		Enabled     bool   `yaml:"enabled"`
		Interval    string `yaml:"interval"`
		Concurrency int    `yaml:"concurrency"`
	} `yaml:"warming"`

	Shutdown struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"shutdown"`

	Health struct {
		DegradedWindow   string `yaml:"degraded_window"`
		DegradedErrorPct int    `yaml:"degraded_error_pct"`
	} `yaml:"health"`
}

type secretsFile struct {
	WeatherAPIKey string `yaml:"weather_api_key"`
	DatabaseURL   string `yaml:"database_url"`
	RedisPassword string `yaml:"redis_password"`
}

// Load reads configuration relative to the working directory. See LoadDir.
func Load() (*Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("config: get working directory: %w", err)
	}
	return LoadDir(cwd)
}

// LoadDir loads dir/.env when present, then dir/config/{ENV_NAME}.yaml (default dev)
// and dir/config/secrets.yaml. Environment variables override file values.
func LoadDir(dir string) (*Config, error) {
	if err := loadDotEnv(filepath.Join(dir, ".env")); err != nil {
		return nil, err
	}

	env := os.Getenv("ENV_NAME")
	if env == "" {
		env = "dev"
	}

	configPath := filepath.Join(dir, "config", env+".yaml")
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", configPath)
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	sec, err := loadSecrets(filepath.Join(dir, "config", "secrets.yaml"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{Path: configPath, Env: env}

	cfg.ServerPort = firstNonEmpty(os.Getenv("PORT"), fc.Server.Port, "8080")
	cfg.ServiceName = firstNonEmpty(fc.Service.Name, "weather")
	cfg.CacheNamespace = firstNonEmpty(fc.Cache.Namespace, cfg.ServiceName+"_"+env)
	cfg.LogLevel = firstNonEmpty(os.Getenv("LOG_LEVEL"), fc.LogLevel, "info")

	cfg.WeatherAPIKey = firstNonEmpty(os.Getenv("WEATHER_API_KEY"), sec.WeatherAPIKey)
	cfg.WeatherAPIURL = firstNonEmpty(fc.WeatherAPI.URL, "https://api.openweathermap.org/data/2.5/weather")
	cfg.GeocodeURL = firstNonEmpty(fc.WeatherAPI.GeocodeURL, "https://api.openweathermap.org/geo/1.0/direct")
	cfg.WeatherAPITimeout = parseDurationOrZero(fc.WeatherAPI.Timeout, 2*time.Second)
	cfg.ValidateAPIKeyOnStart = fc.WeatherAPI.ValidateOnStart

	cfg.RequestTimeout = parseDuration(fc.Request.Timeout, 5*time.Second)

	cfg.DatabaseURL = firstNonEmpty(os.Getenv("DATABASE_URL"), sec.DatabaseURL, fc.Database.DSN)
	cfg.DBMinConns = fc.Database.MinConns
	if cfg.DBMinConns <= 0 {
		cfg.DBMinConns = 10
	}
	cfg.DBMaxConns = fc.Database.MaxConns
	if cfg.DBMaxConns <= 0 {
		cfg.DBMaxConns = 100
	}
	cfg.DBMaxConnIdleTime = parseDuration(fc.Database.MaxConnIdleTime, 90*time.Second)

	cfg.CacheBackend = strings.ToLower(firstNonEmpty(os.Getenv("CACHE_BACKEND"), fc.Cache.Backend, "in_memory"))
	cfg.CacheTTL = parseDuration(fc.Cache.TTL, time.Hour)
	cfg.CacheOpTimeout = parseDuration(fc.Cache.Timeout, time.Second)

	cfg.RedisAddr = firstNonEmpty(os.Getenv("REDIS_ADDR"), fc.Cache.Redis.Addr, "localhost:6379")
	cfg.RedisPassword = firstNonEmpty(os.Getenv("REDIS_PASSWORD"), sec.RedisPassword)
	cfg.RedisDB = fc.Cache.Redis.DB
	cfg.RedisPoolSize = fc.Cache.Redis.PoolSize
	if cfg.RedisPoolSize <= 0 {
		cfg.RedisPoolSize = 10
	}

	cfg.MemcachedAddrs = firstNonEmpty(os.Getenv("MEMCACHED_ADDRS"), fc.Cache.Memcached.Addrs, "localhost:11211")
	cfg.MemcachedTimeout = parseDuration(fc.Cache.Memcached.Timeout, 500*time.Millisecond)
	cfg.MemcachedMaxIdleConns = fc.Cache.Memcached.MaxIdleConns
	if cfg.MemcachedMaxIdleConns <= 0 {
		cfg.MemcachedMaxIdleConns = 2
	}

	cfg.RetryAttempts = fc.Reliability.RetryMaxAttempts
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 3
	}
	cfg.RetryBaseDelay = parseDuration(fc.Reliability.RetryBaseDelay, 100*time.Millisecond)
	cfg.RetryMaxDelay = parseDuration(fc.Reliability.RetryMaxDelay, 2*time.Second)
	cfg.RateLimitRPS = fc.Reliability.RateLimitRPS
	if cfg.RateLimitRPS <= 0 {
		cfg.RateLimitRPS = 100
	}
	cfg.RateLimitBurst = fc.Reliability.RateLimitBurst
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = 250
	}
	cfg.ClientRateLimit = fc.Reliability.ClientRateLimit
	cfg.ClientRateWindow = parseDuration(fc.Reliability.ClientRateWindow, time.Minute)
	cfg.BreakerFailureThreshold = fc.Reliability.CircuitBreaker.FailureThreshold
	if cfg.BreakerFailureThreshold <= 0 {
		cfg.BreakerFailureThreshold = 5
	}
	cfg.BreakerSuccessThreshold = fc.Reliability.CircuitBreaker.SuccessThreshold
	if cfg.BreakerSuccessThreshold <= 0 {
		cfg.BreakerSuccessThreshold = 2
	}
	cfg.BreakerTimeout = parseDuration(fc.Reliability.CircuitBreaker.Timeout, 30*time.Second)

	cfg.CoalesceEnabled = fc.Coalesce.Enabled
	cfg.CoalesceTimeout = parseDuration(fc.Coalesce.Timeout, 5*time.Second)

	cfg.WarmingEnabled = fc.Warming.Enabled
	cfg.WarmingInterval = parseDuration(fc.Warming.Interval, 30*time.Minute)
	cfg.WarmingConcurrency = fc.Warming.Concurrency
	if cfg.WarmingConcurrency <= 0 {
		cfg.WarmingConcurrency = 4
	}

	cfg.ShutdownTimeout = parseDuration(fc.Shutdown.Timeout, 30*time.Second)

	cfg.DegradedWindow = parseDuration(fc.Health.DegradedWindow, 60*time.Second)
	cfg.DegradedErrorPct = fc.Health.DegradedErrorPct
	if cfg.DegradedErrorPct <= 0 {
		cfg.DegradedErrorPct = 5
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("stat .env: %w", err)
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}

func loadSecrets(path string) (secretsFile, error) {
	var sec secretsFile
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return sec, nil
		}
		return sec, fmt.Errorf("read secrets file: %w", err)
	}
	if err := yaml.Unmarshal(data, &sec); err != nil {
		return sec, fmt.Errorf("parse secrets file: %w", err)
	}
	return sec, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

// parseDuration parses s, falling back to defaultVal when s is empty, invalid or not positive.
func parseDuration(s string, defaultVal time.Duration) time.Duration {
	d := parseDurationOrZero(s, defaultVal)
	if d <= 0 {
		return defaultVal
	}
	return d
}

// parseDurationOrZero parses s, falling back to defaultVal when s is empty or invalid.
// Zero and negative values are returned as-is for validate to reject.
func parseDurationOrZero(s string, defaultVal time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultVal
	}
	return d
}

// validate checks required settings and cross-field constraints. RequestTimeout is
// raised above WeatherAPITimeout when needed.
func validate(cfg *Config) error {
	var missing []string
	if cfg.WeatherAPIKey == "" {
		missing = append(missing, "WEATHER_API_KEY (set env or config/secrets.yaml weather_api_key)")
	}
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL (set env, config/secrets.yaml database_url or database.dsn)")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}

	if cfg.WeatherAPITimeout <= 0 {
		return fmt.Errorf("weather_api.timeout must be positive")
	}
	if cfg.RequestTimeout <= cfg.WeatherAPITimeout {
		cfg.RequestTimeout = cfg.WeatherAPITimeout + time.Second
	}
	if cfg.DBMinConns > cfg.DBMaxConns {
		return fmt.Errorf("database.min_conns (%d) exceeds max_conns (%d)", cfg.DBMinConns, cfg.DBMaxConns)
	}
	switch cfg.CacheBackend {
	case "in_memory", "memcached", "redis":
	default:
		return fmt.Errorf("cache.backend must be in_memory, memcached or redis, got %q", cfg.CacheBackend)
	}
	return nil
}
