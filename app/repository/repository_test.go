package repository_test

import (
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
)

const (
	insertAPIKeyQuery          = `(?s)INSERT INTO api_keys \(\s+user_id, name, key_lookup, key_hash, last_chars, is_active, rate_limit_plan, created_at, expires_at\s+\) VALUES \(\?, \?, \?, \?, \?, \?, \?, \?, \?\)`
	findAPIKeyByLookupQuery    = `(?s)SELECT id, user_id, name, key_lookup, key_hash, last_chars, is_active, rate_limit_plan, created_at, expires_at, revoked_at FROM api_keys WHERE key_lookup = \?`
	findAPIKeyByIDQuery        = `(?s)SELECT id, user_id, name, key_lookup, key_hash, last_chars, is_active, rate_limit_plan, created_at, expires_at, revoked_at FROM api_keys WHERE id = \?`
	listAPIKeysByUserQuery     = `(?s)SELECT id, user_id, .* FROM api_keys WHERE user_id = \? ORDER BY id DESC`
	revokeAPIKeyQuery          = `(?s)UPDATE api_keys SET\s+is_active = 0,\s+revoked_at = \?\s+WHERE id = \? AND revoked_at IS NULL`
	findActiveEntitlementQuery = `(?s)SELECT s.id, s.user_id, p.id, p.plan_name, p.rate_limit_per_minute, p.rate_limit_per_hour, p.rate_limit_per_day,\s+s.current_period_start, s.current_period_end\s+FROM user_subscriptions s\s+JOIN subscription_plans p ON p.id = s.plan_id\s+WHERE s.user_id = \? AND s.status = 'active' AND s.current_period_start <= \? AND s.current_period_end > \? AND p.is_active = 1\s+ORDER BY s.current_period_end DESC\s+LIMIT 1`
	findActivePlanByNameQuery  = `(?s)SELECT id, plan_name, rate_limit_per_minute, rate_limit_per_hour, rate_limit_per_day\s+FROM subscription_plans\s+WHERE plan_name = \? AND is_active = 1`
	insertUsageLogQuery        = `(?s)INSERT INTO api_usage_logs \(.*\) VALUES \(\?, \?, \?, \?, \?, \?, \?, \?, \?, \?, \?, \?, \?, \?\)`
)

var apiKeyColumns = []string{
	"id",
	"user_id",
	"name",
	"key_lookup",
	"key_hash",
	"last_chars",
	"is_active",
	"rate_limit_plan",
	"created_at",
	"expires_at",
	"revoked_at",
}

var entitlementColumns = []string{
	"s.id",
	"s.user_id",
	"p.id",
	"p.plan_name",
	"p.rate_limit_per_minute",
	"p.rate_limit_per_hour",
	"p.rate_limit_per_day",
	"s.current_period_start",
	"s.current_period_end",
}

var planColumns = []string{
	"id",
	"plan_name",
	"rate_limit_per_minute",
	"rate_limit_per_hour",
	"rate_limit_per_day",
}

func newMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, func()) {
	t.Helper()

	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	return db, mock, func() { _ = db.Close() }
}
