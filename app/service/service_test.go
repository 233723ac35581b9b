package service_test

import (
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/vibast-solutions/ms-go-stats-gateway/app/credential"
	"github.com/vibast-solutions/ms-go-stats-gateway/app/quota"
)

const (
	insertAPIKeyQuery          = `(?s)INSERT INTO api_keys \(.*\) VALUES \(\?, \?, \?, \?, \?, \?, \?, \?, \?\)`
	findAPIKeyByLookupQuery    = `(?s)SELECT .* FROM api_keys WHERE key_lookup = \?`
	findAPIKeyByIDQuery        = `(?s)SELECT .* FROM api_keys WHERE id = \?`
	listAPIKeysByUserQuery     = `(?s)SELECT .* FROM api_keys WHERE user_id = \? ORDER BY id DESC`
	revokeAPIKeyQuery          = `(?s)UPDATE api_keys SET\s+is_active = 0,\s+revoked_at = \?\s+WHERE id = \? AND revoked_at IS NULL`
	setAPIKeyExpiryQuery       = `(?s)UPDATE api_keys SET expires_at = \? WHERE id = \?`
	findActiveEntitlementQuery = `(?s)SELECT s.id, s.user_id, p.id, .* FROM user_subscriptions s\s+JOIN subscription_plans p .* LIMIT 1`
	findActivePlanByNameQuery  = `(?s)SELECT id, plan_name, .* FROM subscription_plans\s+WHERE plan_name = \? AND is_active = 1`
	insertUsageLogQuery        = `(?s)INSERT INTO api_usage_logs`
)

var apiKeyColumns = []string{
	"id", "user_id", "name", "key_lookup", "key_hash", "last_chars", "is_active", "rate_limit_plan", "created_at", "expires_at", "revoked_at",
}

var entitlementColumns = []string{
	"s.id", "s.user_id", "p.id", "p.plan_name", "p.rate_limit_per_minute", "p.rate_limit_per_hour", "p.rate_limit_per_day",
	"s.current_period_start", "s.current_period_end",
}

var planColumns = []string{
	"id", "plan_name", "rate_limit_per_minute", "rate_limit_per_hour", "rate_limit_per_day",
}

func newMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, func()) {
	t.Helper()

	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	return db, mock, func() { _ = db.Close() }
}

func newTestCodec() *credential.Codec {
	return credential.NewCodec("bestat_nba_", credential.Params{MemoryKiB: 64, Time: 1, Parallelism: 1})
}

func newTestStore(t *testing.T) (*quota.RedisStore, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })

	return quota.NewRedisStore(client, quota.Options{Timeout: time.Second, BreakerFailures: 100, BreakerCooldown: time.Second}), mr
}

func activeEntitlementRow(userID uint64, plan string, perMinute, perHour, perDay int64) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows(entitlementColumns).
		AddRow(uint64(100), userID, uint64(1), plan, perMinute, perHour, perDay, now.Add(-time.Hour), now.Add(24*time.Hour))
}
