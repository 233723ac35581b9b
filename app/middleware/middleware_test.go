package middleware_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/vibast-solutions/ms-go-stats-gateway/app/credential"
	"github.com/vibast-solutions/ms-go-stats-gateway/app/dto"
	"github.com/vibast-solutions/ms-go-stats-gateway/app/entity"
	"github.com/vibast-solutions/ms-go-stats-gateway/app/middleware"
	"github.com/vibast-solutions/ms-go-stats-gateway/app/quota"
	"github.com/vibast-solutions/ms-go-stats-gateway/app/repository"
	"github.com/vibast-solutions/ms-go-stats-gateway/app/service"
)

const (
	findAPIKeyByLookupQuery    = `(?s)SELECT .* FROM api_keys WHERE key_lookup = \?`
	findActiveEntitlementQuery = `(?s)SELECT s.id, s.user_id, p.id, .* FROM user_subscriptions s\s+JOIN subscription_plans p .* LIMIT 1`
)

var apiKeyColumns = []string{
	"id", "user_id", "name", "key_lookup", "key_hash", "last_chars", "is_active", "rate_limit_plan", "created_at", "expires_at", "revoked_at",
}

var entitlementColumns = []string{
	"s.id", "s.user_id", "p.id", "p.plan_name", "p.rate_limit_per_minute", "p.rate_limit_per_hour", "p.rate_limit_per_day",
	"s.current_period_start", "s.current_period_end",
}

var testCodec = credential.NewCodec("bestat_nba_", credential.Params{MemoryKiB: 64, Time: 1, Parallelism: 1})

type testEnv struct {
	mw    *middleware.APIKeyMiddleware
	mock  sqlmock.Sqlmock
	redis *miniredis.Miniredis
}

func newTestEnv(t *testing.T, failOpen bool) *testEnv {
	t.Helper()

	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })

	resolver := service.NewIdentityResolver(
		repository.NewAPIKeyRepository(db),
		repository.NewSubscriptionRepository(db),
		testCodec,
		time.Second,
	)
	store := quota.NewRedisStore(client, quota.Options{Timeout: time.Second, BreakerFailures: 100, BreakerCooldown: time.Second})
	limiter := service.NewRateLimiter(store, failOpen)

	return &testEnv{
		mw:    middleware.NewAPIKeyMiddleware(resolver, limiter),
		mock:  mock,
		redis: mr,
	}
}

func issueKey(t *testing.T) (string, credential.IssuedFields) {
	t.Helper()

	secret, fields, err := testCodec.Issue()
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}
	return secret, fields
}

func expectValidKey(mock sqlmock.Sqlmock, fields credential.IssuedFields, userID uint64) {
	now := time.Now()
	mock.ExpectQuery(findAPIKeyByLookupQuery).WithArgs(fields.LookupID).
		WillReturnRows(sqlmock.NewRows(apiKeyColumns).
			AddRow(3, userID, "default", fields.LookupID, fields.KeyHash, fields.LastChars, true, nil, now.Add(-time.Hour), nil, nil))
	mock.ExpectQuery(findActiveEntitlementQuery).
		WillReturnRows(sqlmock.NewRows(entitlementColumns).
			AddRow(100, userID, 1, "free", 10, 100, 1000, now.Add(-time.Hour), now.Add(time.Hour)))
}

func sqlmockRows(columns []string) *sqlmock.Rows {
	return sqlmock.NewRows(columns)
}

func freeIdentity(principal uint64) *dto.Identity {
	return &dto.Identity{
		PrincipalID:  principal,
		CredentialID: 3,
		Tier:         entity.Tier{PlanID: 1, PlanName: "free", PerMinute: 10, PerHour: 100, PerDay: 1000},
	}
}

func okHandler(c echo.Context) error {
	return c.NoContent(http.StatusOK)
}

func newContext(e *echo.Echo, method, path string) (echo.Context, *httptest.ResponseRecorder) {
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

type capturingRecorder struct {
	mu      sync.Mutex
	records []entity.UsageRecord
}

func (r *capturingRecorder) Record(rec entity.UsageRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
}

func (r *capturingRecorder) Close(_ context.Context) error {
	return nil
}
