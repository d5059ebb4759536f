// Package config provides environment-aware configuration loading for the SDK core.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"

	sdkerrors "github.com/a-cube-io/ereceipts-sdk-go/errors"
)

// Environment selects default base URLs and production hardening constraints.
type Environment string

const (
	Production  Environment = "production"
	Sandbox     Environment = "sandbox"
	Development Environment = "development"
)

// ParseEnvironment parses a case-insensitive environment string.
func ParseEnvironment(raw string) (Environment, bool) {
	e := Environment(strings.ToLower(raw))
	switch e {
	case Production, Sandbox, Development:
		return e, true
	default:
		return Development, false
	}
}

func (e Environment) defaultAPIURL() string {
	switch e {
	case Production:
		return "https://api.acubeapi.com"
	case Sandbox:
		return "https://sandbox.acubeapi.com"
	default:
		return "http://localhost:8080"
	}
}

func (e Environment) defaultAuthURL() string {
	switch e {
	case Production:
		return "https://common.acubeapi.com"
	case Sandbox:
		return "https://common-sandbox.acubeapi.com"
	default:
		return "http://localhost:8081"
	}
}

// QueueConfig configures the priority queue and batch planner.
type QueueConfig struct {
	MaxSize                   int           `env:"QUEUE_MAX_SIZE,default=1000"`
	MaxRetries                int           `env:"QUEUE_MAX_RETRIES,default=5"`
	RetryBaseDelay            time.Duration `env:"QUEUE_RETRY_BASE_DELAY_MS,default=500ms"`
	RetryMaxDelay             time.Duration `env:"QUEUE_RETRY_MAX_DELAY_MS,default=30s"`
	RetryBackoffFactor        float64       `env:"QUEUE_RETRY_BACKOFF_FACTOR,default=2.0"`
	BatchSize                 int           `env:"QUEUE_BATCH_SIZE,default=25"`
	BatchTimeout              time.Duration `env:"QUEUE_BATCH_TIMEOUT_MS,default=5s"`
	ProcessingInterval        time.Duration `env:"QUEUE_PROCESSING_INTERVAL_MS,default=1s"`
	DefaultConflictResolution string        `env:"QUEUE_DEFAULT_CONFLICT_RESOLUTION,default=server-wins"`
	PersistQueue              bool          `env:"QUEUE_PERSIST,default=true"`
}

// BreakerConfig configures the per-resource circuit breaker.
type BreakerConfig struct {
	FailureThreshold int           `env:"BREAKER_FAILURE_THRESHOLD,default=5"`
	SuccessThreshold int           `env:"BREAKER_SUCCESS_THRESHOLD,default=2"`
	Cooldown         time.Duration `env:"BREAKER_COOLDOWN_MS,default=30s"`
	MonitoringWindow time.Duration `env:"BREAKER_MONITORING_WINDOW_MS,default=1m"`
}

// AuthConfig configures the token manager and auth orchestrator.
type AuthConfig struct {
	LoginURL             string        `env:"AUTH_LOGIN_URL"`
	RefreshURL           string        `env:"AUTH_REFRESH_URL"`
	TokenRefreshBuffer   time.Duration `env:"AUTH_TOKEN_REFRESH_BUFFER_MS,default=60s"`
	MaxRefreshAttempts   int           `env:"AUTH_MAX_REFRESH_ATTEMPTS,default=5"`
	SessionTimeout       time.Duration `env:"AUTH_SESSION_TIMEOUT_MS,default=24h"`
	StorageEncryption    bool          `env:"AUTH_STORAGE_ENCRYPTION,default=true"`
	StorageKey           string        `env:"AUTH_STORAGE_KEY,default=acube_auth"`
	EnableTokenRotation  bool          `env:"AUTH_ENABLE_TOKEN_ROTATION,default=false"`
}

// PerformanceConfig tunes cache sizes and TTLs for the role/permission/token caches.
type PerformanceConfig struct {
	PermissionCacheSize int           `env:"PERF_PERMISSION_CACHE_SIZE,default=2000"`
	PermissionCacheTTL  time.Duration `env:"PERF_PERMISSION_CACHE_TTL_MS,default=5m"`
	RoleCacheSize       int           `env:"PERF_ROLE_CACHE_SIZE,default=500"`
	RoleCacheTTL        time.Duration `env:"PERF_ROLE_CACHE_TTL_MS,default=5m"`
	TokenCacheSize      int           `env:"PERF_TOKEN_CACHE_SIZE,default=10"`
	TokenCacheTTL       time.Duration `env:"PERF_TOKEN_CACHE_TTL_MS,default=1m"`
	BatchTimeout        time.Duration `env:"PERF_BATCH_TIMEOUT_MS,default=10ms"`
	MaxBatchSize        int           `env:"PERF_MAX_BATCH_SIZE,default=50"`
}

// Config holds all SDK configuration, mirroring the options catalog in spec §6.
type Config struct {
	Env            Environment
	APIURL         string            `env:"ACUBE_API_URL"`
	AuthURL        string            `env:"ACUBE_AUTH_URL"`
	TimeoutMS      time.Duration     `env:"ACUBE_TIMEOUT_MS,default=10s"`
	RetryAttempts  int               `env:"ACUBE_RETRY_ATTEMPTS,default=3"`
	Debug          bool              `env:"ACUBE_DEBUG,default=false"`
	CustomHeaders  map[string]string

	Queue       QueueConfig
	Breaker     BreakerConfig
	Auth        AuthConfig
	Performance PerformanceConfig
}

// Load builds a Config from ACUBE_ENV (defaulting to development), optionally
// reading a per-environment .env.<environment> file before decoding the
// environment into struct fields via envdecode.
func Load() (*Config, error) {
	envStr := os.Getenv("ACUBE_ENV")
	if envStr == "" {
		envStr = string(Development)
	}
	env, ok := ParseEnvironment(envStr)
	if !ok {
		return nil, sdkerrors.Validation("ACUBE_ENV", fmt.Sprintf("invalid environment %q", envStr))
	}

	envFile := filepath.Join("config", fmt.Sprintf(".env.%s", env))
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		// a malformed .env file is a real configuration defect; a missing
		// one is the common case (env vars supplied directly) and is ignored.
		return nil, sdkerrors.Internal("failed to parse "+envFile, err)
	}

	cfg := &Config{Env: env}
	if err := envdecode.Decode(cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, sdkerrors.Internal("failed to decode configuration", err)
	}

	if cfg.APIURL == "" {
		cfg.APIURL = env.defaultAPIURL()
	}
	if cfg.AuthURL == "" {
		cfg.AuthURL = env.defaultAuthURL()
	}
	if cfg.Auth.LoginURL == "" {
		cfg.Auth.LoginURL = cfg.AuthURL + "/login"
	}
	if cfg.Auth.RefreshURL == "" {
		cfg.Auth.RefreshURL = cfg.AuthURL + "/token/refresh"
	}
	cfg.CustomHeaders = loadCustomHeaders()

	return cfg, nil
}

func loadCustomHeaders() map[string]string {
	headers := map[string]string{}
	const prefix = "ACUBE_HEADER_"
	for _, kv := range os.Environ() {
		for i := 0; i < len(kv); i++ {
			if kv[i] == '=' {
				key := kv[:i]
				if len(key) > len(prefix) && key[:len(prefix)] == prefix {
					headers[key[len(prefix):]] = kv[i+1:]
				}
				break
			}
		}
	}
	return headers
}

func (c *Config) IsProduction() bool  { return c.Env == Production }
func (c *Config) IsSandbox() bool     { return c.Env == Sandbox }
func (c *Config) IsDevelopment() bool { return c.Env == Development }

// Validate enforces production-mode constraints: debug must be off and
// storage encryption must remain enabled, mirroring the hardening checks the
// teacher's Config.Validate performs for its own production environment.
func (c *Config) Validate() error {
	if c.IsProduction() {
		if c.Debug {
			return sdkerrors.Validation("debug", "debug must be false in production")
		}
		if !c.Auth.StorageEncryption {
			return sdkerrors.Validation("storage_encryption", "storage encryption must be enabled in production")
		}
	}
	if c.Queue.MaxSize <= 0 {
		return sdkerrors.Validation("queue.max_size", "must be positive")
	}
	if c.Breaker.FailureThreshold <= 0 {
		return sdkerrors.Validation("breaker.failure_threshold", "must be positive")
	}
	if c.Auth.MaxRefreshAttempts <= 0 {
		return sdkerrors.Validation("auth.max_refresh_attempts", "must be positive")
	}
	return nil
}
