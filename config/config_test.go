package config

import (
	"os"
	"testing"
	"time"
)

func chdirTemp(t *testing.T) {
	t.Helper()

	origDir, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd failed: %v", err)
	}
	if err := os.Chdir(t.TempDir()); err != nil {
		t.Fatalf("chdir failed: %v", err)
	}
	t.Cleanup(func() {
		_ = os.Chdir(origDir)
	})
}

func TestAPIKeyPolicyValidate(t *testing.T) {
	valid := APIKeyPolicy{Prefix: "bestat_nba_", MemoryKiB: 64 * 1024, Time: 3, Parallelism: 2}
	if err := valid.Validate(); err != nil {
		t.Fatalf("expected valid policy, got %v", err)
	}

	noPrefix := valid
	noPrefix.Prefix = " "
	if err := noPrefix.Validate(); err == nil {
		t.Fatalf("expected error for empty prefix")
	}

	lowMemory := valid
	lowMemory.MemoryKiB = 8
	if err := lowMemory.Validate(); err == nil {
		t.Fatalf("expected error for memory below 8*parallelism")
	}

	noTime := valid
	noTime.Time = 0
	if err := noTime.Validate(); err == nil {
		t.Fatalf("expected error for zero time cost")
	}

	noThreads := valid
	noThreads.Parallelism = 0
	if err := noThreads.Validate(); err == nil {
		t.Fatalf("expected error for zero parallelism")
	}
}

func TestQuotaPolicyFailOpen(t *testing.T) {
	if !(QuotaPolicy{FailurePolicy: FailOpen}).FailOpen() {
		t.Fatalf("expected fail-open policy")
	}
	if (QuotaPolicy{FailurePolicy: FailClosed}).FailOpen() {
		t.Fatalf("expected fail-closed policy")
	}
}

func TestGetEnvHelpers(t *testing.T) {
	t.Setenv("TEST_STRING", "value")
	if got := getEnv("TEST_STRING", "default"); got != "value" {
		t.Fatalf("expected value, got %q", got)
	}
	if got := getEnv("MISSING_STRING", "default"); got != "default" {
		t.Fatalf("expected default, got %q", got)
	}

	t.Setenv("TEST_DURATION", "30")
	if got := getDurationEnv("TEST_DURATION", 5*time.Second); got != 30*time.Second {
		t.Fatalf("expected 30s, got %v", got)
	}
	t.Setenv("TEST_DURATION", "250ms")
	if got := getDurationEnv("TEST_DURATION", 5*time.Second); got != 250*time.Millisecond {
		t.Fatalf("expected 250ms, got %v", got)
	}
	t.Setenv("TEST_DURATION", "invalid")
	if got := getDurationEnv("TEST_DURATION", 5*time.Second); got != 5*time.Second {
		t.Fatalf("expected default duration, got %v", got)
	}
	t.Setenv("TEST_DURATION", "-3")
	if got := getDurationEnv("TEST_DURATION", 5*time.Second); got != 5*time.Second {
		t.Fatalf("expected default duration for negative value, got %v", got)
	}

	t.Setenv("TEST_BOOL", "true")
	if got := getBoolEnv("TEST_BOOL", false); got != true {
		t.Fatalf("expected true, got %v", got)
	}
	t.Setenv("TEST_BOOL", "invalid")
	if got := getBoolEnv("TEST_BOOL", true); got != true {
		t.Fatalf("expected default bool, got %v", got)
	}

	t.Setenv("TEST_INT", "42")
	if got := getIntEnv("TEST_INT", 5); got != 42 {
		t.Fatalf("expected 42, got %d", got)
	}
	t.Setenv("TEST_INT", "invalid")
	if got := getIntEnv("TEST_INT", 5); got != 5 {
		t.Fatalf("expected default int, got %d", got)
	}
}

func TestLoadRequiresMySQLDSN(t *testing.T) {
	chdirTemp(t)

	t.Setenv("MYSQL_DSN", "")
	if cfg, err := Load(); err == nil || cfg != nil {
		t.Fatalf("expected error when MYSQL_DSN is missing")
	}
}

func TestLoadRejectsUnknownFailurePolicy(t *testing.T) {
	chdirTemp(t)

	t.Setenv("MYSQL_DSN", "user:pass@tcp(db:3306)/stats?parseTime=true")
	t.Setenv("QUOTA_FAILURE_POLICY", "fail-sometimes")
	if cfg, err := Load(); err == nil || cfg != nil {
		t.Fatalf("expected error for unknown failure policy")
	}
}

func TestLoadDefaults(t *testing.T) {
	chdirTemp(t)

	t.Setenv("MYSQL_DSN", "user:pass@tcp(db:3306)/stats?parseTime=true")
	t.Setenv("QUOTA_FAILURE_POLICY", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.HTTPPort != "8080" || cfg.GRPCPort != "9090" {
		t.Fatalf("unexpected ports: %s %s", cfg.HTTPPort, cfg.GRPCPort)
	}
	if cfg.APIKey.Prefix != "bestat_nba_" {
		t.Fatalf("unexpected prefix: %q", cfg.APIKey.Prefix)
	}
	if !cfg.Quota.FailOpen() {
		t.Fatalf("expected fail-open by default")
	}
	if cfg.IdentityCacheTTL != 30*time.Second {
		t.Fatalf("unexpected identity cache ttl: %v", cfg.IdentityCacheTTL)
	}
	if !cfg.MetricsEnabled {
		t.Fatalf("expected metrics enabled by default")
	}
}

func TestLoadSuccess(t *testing.T) {
	chdirTemp(t)

	t.Setenv("MYSQL_DSN", "user:pass@tcp(db:3306)/stats?parseTime=true")
	t.Setenv("HTTP_PORT", "8081")
	t.Setenv("GRPC_PORT", "9091")
	t.Setenv("REDIS_URL", "redis://cache:6379/1")
	t.Setenv("API_KEY_PREFIX", "test_")
	t.Setenv("ARGON2_MEMORY_KIB", "1024")
	t.Setenv("ARGON2_TIME", "1")
	t.Setenv("ARGON2_PARALLELISM", "1")
	t.Setenv("QUOTA_FAILURE_POLICY", "FAIL-CLOSED")
	t.Setenv("QUOTA_STORE_TIMEOUT", "100ms")
	t.Setenv("IDENTITY_CACHE_TTL", "0")
	t.Setenv("USAGE_QUEUE_SIZE", "16")
	t.Setenv("UPSTREAM_URL", " http://stats:8000 ")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.HTTPPort != "8081" || cfg.GRPCPort != "9091" {
		t.Fatalf("unexpected ports: %s %s", cfg.HTTPPort, cfg.GRPCPort)
	}
	if cfg.DSN() != "user:pass@tcp(db:3306)/stats?parseTime=true" {
		t.Fatalf("unexpected mysql dsn: %s", cfg.DSN())
	}
	if cfg.RedisURL != "redis://cache:6379/1" {
		t.Fatalf("unexpected redis url: %s", cfg.RedisURL)
	}
	if cfg.APIKey.Prefix != "test_" || cfg.APIKey.MemoryKiB != 1024 || cfg.APIKey.Time != 1 || cfg.APIKey.Parallelism != 1 {
		t.Fatalf("unexpected api key policy: %+v", cfg.APIKey)
	}
	if cfg.Quota.FailOpen() {
		t.Fatalf("expected fail-closed policy")
	}
	if cfg.Quota.StoreTimeout != 100*time.Millisecond {
		t.Fatalf("unexpected store timeout: %v", cfg.Quota.StoreTimeout)
	}
	if cfg.IdentityCacheTTL != 0 {
		t.Fatalf("expected disabled identity cache, got %v", cfg.IdentityCacheTTL)
	}
	if cfg.Usage.QueueSize != 16 {
		t.Fatalf("unexpected usage queue size: %d", cfg.Usage.QueueSize)
	}
	if cfg.UpstreamURL != "http://stats:8000" {
		t.Fatalf("unexpected upstream url: %q", cfg.UpstreamURL)
	}
}

func TestLoadRejectsOutOfRangeIntegers(t *testing.T) {
	cases := map[string]string{
		"ARGON2_MEMORY_KIB":      "-1",
		"ARGON2_TIME":            "4294967296",
		"ARGON2_PARALLELISM":     "257",
		"QUOTA_BREAKER_FAILURES": "-5",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			chdirTemp(t)
			t.Setenv("MYSQL_DSN", "user:pass@tcp(db:3306)/stats?parseTime=true")
			t.Setenv(key, value)

			if cfg, err := Load(); err == nil || cfg != nil {
				t.Fatalf("expected error for %s=%s", key, value)
			}
		})
	}
}

func TestGetRangedIntEnv(t *testing.T) {
	if got, err := getRangedIntEnv("MISSING_RANGED", 7, 1, 10); err != nil || got != 7 {
		t.Fatalf("expected default 7, got %d (%v)", got, err)
	}
	t.Setenv("TEST_RANGED", "10")
	if got, err := getRangedIntEnv("TEST_RANGED", 7, 1, 10); err != nil || got != 10 {
		t.Fatalf("expected 10, got %d (%v)", got, err)
	}
	t.Setenv("TEST_RANGED", "11")
	if _, err := getRangedIntEnv("TEST_RANGED", 7, 1, 10); err == nil {
		t.Fatalf("expected error above range")
	}
	t.Setenv("TEST_RANGED", "abc")
	if _, err := getRangedIntEnv("TEST_RANGED", 7, 1, 10); err == nil {
		t.Fatalf("expected error for non-integer")
	}
}
