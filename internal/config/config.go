package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	SessionBackendMemory   = "memory"
	SessionBackendPostgres = "postgres"
	SessionBackendRedis    = "redis"
)

type Config struct {
	Server      ServerConfig    `yaml:"server"`
	Database    DatabaseConfig  `yaml:"database"`
	Session     SessionConfig   `yaml:"session"`
	Auth        AuthConfig      `yaml:"auth"`
	Redis       RedisConfig     `yaml:"redis"`
	RateLimit   RateLimitConfig `yaml:"rate_limit"`
	Logging     LoggingConfig   `yaml:"logging"`
	Jobs        JobsConfig      `yaml:"jobs"`
	Tracing     TracingConfig   `yaml:"tracing"`
	Environment string          `yaml:"environment"`
}

type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	// TrustedProxies lists CIDRs whose X-Forwarded-For header is believed.
	TrustedProxies []string `yaml:"trusted_proxies"`
}

type DatabaseConfig struct {
	URL            string        `yaml:"url"`
	MaxConnections int           `yaml:"max_connections"`
	MaxIdle        int           `yaml:"max_idle_connections"`
	QueryTimeout   time.Duration `yaml:"query_timeout"`
}

type SessionConfig struct {
	Backend      string        `yaml:"backend"`
	Secret       string        `yaml:"secret"`
	StoreTimeout time.Duration `yaml:"store_timeout"`
	// Diagnostics exposes GET /sessions/{id}. Unset means enabled only in
	// development; see Config.DiagnosticsEnabled.
	Diagnostics *bool `yaml:"diagnostics"`
	// CookieSecure forces the Secure attribute even when the request did not
	// arrive over TLS.
	CookieSecure bool `yaml:"cookie_secure"`
}

type AuthConfig struct {
	// Salt is mixed into every user token key. It may be left empty; token
	// routes then report a configuration error per request.
	Salt        string        `yaml:"salt"`
	JWTExpiry   time.Duration `yaml:"jwt_expiry"`
	Issuer      string        `yaml:"issuer"`
	BcryptCost  int           `yaml:"bcrypt_cost"`
	CSRFEnabled bool          `yaml:"csrf_enabled"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type RateLimitConfig struct {
	PublicPerMinute int `yaml:"public_per_minute"`
	LoginPerMinute  int `yaml:"login_per_minute"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type JobsConfig struct {
	Enabled       bool          `yaml:"enabled"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// TracingConfig controls OpenTelemetry span export. Exporter is one of
// "stdout", "otlp" or "none".
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Exporter     string  `yaml:"exporter"`
	ServiceName  string  `yaml:"service_name"`
	OTLPEndpoint string  `yaml:"otlp_endpoint"`
	SampleRate   float64 `yaml:"sample_rate"`
}

// Defaults returns the configuration used when neither a file nor the
// environment sets a value.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ShutdownTimeout: 10 * time.Second,
		},
		Database: DatabaseConfig{
			MaxConnections: 25,
			MaxIdle:        5,
			QueryTimeout:   5 * time.Second,
		},
		Session: SessionConfig{
			Backend:      SessionBackendMemory,
			StoreTimeout: 2 * time.Second,
		},
		Auth: AuthConfig{
			JWTExpiry:  24 * time.Hour,
			Issuer:     "arisu",
			BcryptCost: 12,
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		RateLimit: RateLimitConfig{
			PublicPerMinute: 120,
			LoginPerMinute:  10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Jobs: JobsConfig{
			SweepInterval: time.Hour,
		},
		Tracing: TracingConfig{
			Exporter:     "otlp",
			ServiceName:  "arisu",
			OTLPEndpoint: "localhost:4317",
			SampleRate:   1.0,
		},
		Environment: "development",
	}
}

// Load builds the configuration from defaults, then the YAML file at path
// (if path is non-empty), then environment variables, and validates it.
func Load(path string) (Config, error) {
	cfg := Defaults()
	if path != "" {
		if err := LoadFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}
	applyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadFile decodes the YAML file at path over cfg. Keys absent from the file
// leave cfg untouched.
func LoadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.Server.Host = getEnv("SERVER_HOST", cfg.Server.Host)
	cfg.Server.Port = getEnvInt("SERVER_PORT", cfg.Server.Port)
	cfg.Server.ShutdownTimeout = getEnvDuration("SERVER_SHUTDOWN_TIMEOUT", cfg.Server.ShutdownTimeout)
	cfg.Server.TrustedProxies = getEnvList("TRUSTED_PROXY_CIDRS", cfg.Server.TrustedProxies)

	cfg.Database.URL = getEnv("DATABASE_URL", cfg.Database.URL)
	cfg.Database.MaxConnections = getEnvInt("DATABASE_MAX_CONNECTIONS", cfg.Database.MaxConnections)
	cfg.Database.MaxIdle = getEnvInt("DATABASE_MAX_IDLE_CONNECTIONS", cfg.Database.MaxIdle)
	cfg.Database.QueryTimeout = getEnvDuration("DATABASE_QUERY_TIMEOUT", cfg.Database.QueryTimeout)

	cfg.Session.Backend = strings.ToLower(getEnv("SESSION_BACKEND", cfg.Session.Backend))
	cfg.Session.Secret = getEnv("SESSION_SECRET", cfg.Session.Secret)
	cfg.Session.StoreTimeout = getEnvDuration("SESSION_STORE_TIMEOUT", cfg.Session.StoreTimeout)
	if value, ok := os.LookupEnv("SESSION_DIAGNOSTICS_ENABLED"); ok {
		if enabled, err := strconv.ParseBool(value); err == nil {
			cfg.Session.Diagnostics = &enabled
		}
	}
	cfg.Session.CookieSecure = getEnvBool("SESSION_COOKIE_SECURE", cfg.Session.CookieSecure)

	cfg.Auth.Salt = getEnv("SALT", cfg.Auth.Salt)
	if hours := getEnvInt("JWT_EXPIRY_HOURS", 0); hours > 0 {
		cfg.Auth.JWTExpiry = time.Duration(hours) * time.Hour
	}
	cfg.Auth.Issuer = getEnv("JWT_ISSUER", cfg.Auth.Issuer)
	cfg.Auth.BcryptCost = getEnvInt("BCRYPT_COST", cfg.Auth.BcryptCost)
	cfg.Auth.CSRFEnabled = getEnvBool("CSRF_ENABLED", cfg.Auth.CSRFEnabled)

	cfg.Redis.Addr = getEnv("REDIS_ADDR", cfg.Redis.Addr)
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Redis.DB = getEnvInt("REDIS_DB", cfg.Redis.DB)

	cfg.RateLimit.PublicPerMinute = getEnvInt("RATE_LIMIT_PUBLIC", cfg.RateLimit.PublicPerMinute)
	cfg.RateLimit.LoginPerMinute = getEnvInt("RATE_LIMIT_LOGIN", cfg.RateLimit.LoginPerMinute)

	cfg.Logging.Level = getEnv("LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.Format = getEnv("LOG_FORMAT", cfg.Logging.Format)

	cfg.Jobs.Enabled = getEnvBool("JOBS_ENABLED", cfg.Jobs.Enabled)
	cfg.Jobs.SweepInterval = getEnvDuration("SESSION_SWEEP_INTERVAL", cfg.Jobs.SweepInterval)

	cfg.Tracing.Enabled = getEnvBool("TRACING_ENABLED", cfg.Tracing.Enabled)
	cfg.Tracing.Exporter = strings.ToLower(getEnv("TRACING_EXPORTER", cfg.Tracing.Exporter))
	cfg.Tracing.ServiceName = getEnv("OTEL_SERVICE_NAME", cfg.Tracing.ServiceName)
	cfg.Tracing.OTLPEndpoint = getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", cfg.Tracing.OTLPEndpoint)
	cfg.Tracing.SampleRate = getEnvFloat("TRACING_SAMPLE_RATE", cfg.Tracing.SampleRate)

	cfg.Environment = getEnv("ENVIRONMENT", cfg.Environment)
}

// DiagnosticsEnabled reports whether GET /sessions/{id} is served. When not
// set explicitly it is only on in development.
func (c Config) DiagnosticsEnabled() bool {
	if c.Session.Diagnostics != nil {
		return *c.Session.Diagnostics
	}
	return c.Environment == "development"
}

// Validate reports the first required setting that is missing or invalid.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Session.Secret) == "" {
		return errors.New("SESSION_SECRET is required")
	}
	switch c.Session.Backend {
	case SessionBackendMemory, SessionBackendRedis:
	case SessionBackendPostgres:
		if c.Database.URL == "" {
			return errors.New("DATABASE_URL is required when SESSION_BACKEND is postgres")
		}
	default:
		return fmt.Errorf("unknown SESSION_BACKEND %q (want memory, postgres or redis)", c.Session.Backend)
	}
	if c.Session.Backend == SessionBackendRedis && c.Redis.Addr == "" {
		return errors.New("REDIS_ADDR is required when SESSION_BACKEND is redis")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("SERVER_PORT %d is out of range", c.Server.Port)
	}
	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		return fmt.Errorf("TRACING_SAMPLE_RATE %g must be between 0 and 1", c.Tracing.SampleRate)
	}
	if c.Auth.JWTExpiry <= 0 {
		return errors.New("JWT expiry must be positive")
	}
	return nil
}

// IsProduction reports whether internal error detail must be hidden.
func (c Config) IsProduction() bool {
	return c.Environment != "development" && c.Environment != "test"
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvList(key string, fallback []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvFloat(key string, fallback float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}
