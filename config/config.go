package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	FailOpen   = "fail-open"
	FailClosed = "fail-closed"
)

type Config struct {
	HTTPHost            string
	HTTPPort            string
	GRPCHost            string
	GRPCPort            string
	MySQLDSN            string
	RedisURL            string
	UpstreamURL         string
	LogLevel            string
	LogFormat           string
	MetricsEnabled      bool
	DBQueryTimeout      time.Duration
	APIKey              APIKeyPolicy
	Quota               QuotaPolicy
	IdentityCacheTTL    time.Duration
	InvalidationChannel string
	Usage               UsagePolicy
}

// APIKeyPolicy controls credential rendering and the Argon2id cost parameters.
type APIKeyPolicy struct {
	Prefix      string
	MemoryKiB   uint32
	Time        uint32
	Parallelism uint8
}

type QuotaPolicy struct {
	FailurePolicy   string
	StoreTimeout    time.Duration
	BreakerFailures uint32
	BreakerCooldown time.Duration
}

func (p QuotaPolicy) FailOpen() bool {
	return p.FailurePolicy != FailClosed
}

type UsagePolicy struct {
	QueueSize    int
	Workers      int
	WriteTimeout time.Duration
}

func (p APIKeyPolicy) Validate() error {
	if strings.TrimSpace(p.Prefix) == "" {
		return errors.New("API_KEY_PREFIX must not be empty")
	}
	if p.MemoryKiB < 8*uint32(p.Parallelism) {
		return fmt.Errorf("ARGON2_MEMORY_KIB must be at least %d for parallelism %d", 8*uint32(p.Parallelism), p.Parallelism)
	}
	if p.Time < 1 {
		return errors.New("ARGON2_TIME must be at least 1")
	}
	if p.Parallelism < 1 {
		return errors.New("ARGON2_PARALLELISM must be at least 1")
	}
	return nil
}

func Load() (*Config, error) {
	// Load .env file if it exists (ignores error if not found)
	_ = godotenv.Load()

	mysqlDSN := os.Getenv("MYSQL_DSN")
	if mysqlDSN == "" {
		return nil, errors.New("MYSQL_DSN environment variable is required")
	}

	failurePolicy := strings.ToLower(getEnv("QUOTA_FAILURE_POLICY", FailOpen))
	if failurePolicy != FailOpen && failurePolicy != FailClosed {
		return nil, fmt.Errorf("QUOTA_FAILURE_POLICY must be %q or %q, got %q", FailOpen, FailClosed, failurePolicy)
	}

	memoryKiB, err := getRangedIntEnv("ARGON2_MEMORY_KIB", 64*1024, 1, math.MaxUint32)
	if err != nil {
		return nil, err
	}
	timeCost, err := getRangedIntEnv("ARGON2_TIME", 3, 1, math.MaxUint32)
	if err != nil {
		return nil, err
	}
	parallelism, err := getRangedIntEnv("ARGON2_PARALLELISM", 2, 1, math.MaxUint8)
	if err != nil {
		return nil, err
	}
	breakerFailures, err := getRangedIntEnv("QUOTA_BREAKER_FAILURES", 5, 0, math.MaxUint32)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		HTTPHost:       getEnv("HTTP_HOST", "0.0.0.0"),
		HTTPPort:       getEnv("HTTP_PORT", "8080"),
		GRPCHost:       getEnv("GRPC_HOST", "0.0.0.0"),
		GRPCPort:       getEnv("GRPC_PORT", "9090"),
		MySQLDSN:       mysqlDSN,
		RedisURL:       getEnv("REDIS_URL", "redis://localhost:6379/0"),
		UpstreamURL:    strings.TrimSpace(os.Getenv("UPSTREAM_URL")),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		LogFormat:      getEnv("LOG_FORMAT", "json"),
		MetricsEnabled: getBoolEnv("METRICS_ENABLED", true),
		DBQueryTimeout: getDurationEnv("DB_QUERY_TIMEOUT", 2*time.Second),
		APIKey: APIKeyPolicy{
			Prefix:      getEnv("API_KEY_PREFIX", "bestat_nba_"),
			MemoryKiB:   uint32(memoryKiB),
			Time:        uint32(timeCost),
			Parallelism: uint8(parallelism),
		},
		Quota: QuotaPolicy{
			FailurePolicy:   failurePolicy,
			StoreTimeout:    getDurationEnv("QUOTA_STORE_TIMEOUT", 250*time.Millisecond),
			BreakerFailures: uint32(breakerFailures),
			BreakerCooldown: getDurationEnv("QUOTA_BREAKER_COOLDOWN", 10*time.Second),
		},
		IdentityCacheTTL:    getDurationEnv("IDENTITY_CACHE_TTL", 30*time.Second),
		InvalidationChannel: getEnv("INVALIDATION_CHANNEL", "apikey:revoked"),
		Usage: UsagePolicy{
			QueueSize:    getIntEnv("USAGE_QUEUE_SIZE", 1024),
			Workers:      getIntEnv("USAGE_WORKERS", 2),
			WriteTimeout: getDurationEnv("USAGE_WRITE_TIMEOUT", time.Second),
		},
	}

	if err := cfg.APIKey.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) DSN() string {
	return c.MySQLDSN
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getDurationEnv accepts Go duration strings ("250ms", "30s") or a bare
// integer number of seconds.
func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil && d >= 0 {
		return d
	}
	if seconds, err := strconv.Atoi(value); err == nil && seconds >= 0 {
		return time.Duration(seconds) * time.Second
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

// getRangedIntEnv rejects values outside [minValue, maxValue] instead of
// letting a narrowing conversion wrap them.
func getRangedIntEnv(key string, defaultValue, minValue, maxValue int64) (int64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, value)
	}
	if n < minValue || n > maxValue {
		return 0, fmt.Errorf("%s must be between %d and %d, got %d", key, minValue, maxValue, n)
	}
	return n, nil
}
