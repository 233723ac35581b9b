package repository

import (
	"context"

	"github.com/vibast-solutions/ms-go-stats-gateway/app/entity"
)

type UsageLogRepository struct {
	db DBTX
}

func NewUsageLogRepository(db DBTX) *UsageLogRepository {
	return &UsageLogRepository{db: db}
}

func (r *UsageLogRepository) Insert(ctx context.Context, rec *entity.UsageRecord) error {
	query := `
		INSERT INTO api_usage_logs (
			user_id, api_key_id, endpoint, http_method, status_code, response_time_ms, ip_address, user_agent,
			request_id, rate_limit_plan, rate_limited, degraded, auth_failure, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, query,
		rec.UserID,
		rec.APIKeyID,
		rec.Endpoint,
		rec.HTTPMethod,
		rec.StatusCode,
		rec.ResponseTime.Milliseconds(),
		rec.IPAddress,
		rec.UserAgent,
		rec.RequestID,
		rec.RateLimitPlan,
		rec.RateLimited,
		rec.Degraded,
		rec.AuthFailure,
		rec.CreatedAt,
	)
	return err
}
