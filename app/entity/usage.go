package entity

import (
	"database/sql"
	"time"
)

type UsageRecord struct {
	UserID        sql.NullInt64
	APIKeyID      sql.NullInt64
	Endpoint      string
	HTTPMethod    string
	StatusCode    int
	ResponseTime  time.Duration
	IPAddress     string
	UserAgent     string
	RequestID     string
	RateLimitPlan sql.NullString
	RateLimited   bool
	Degraded      bool
	AuthFailure   sql.NullString
	CreatedAt     time.Time
}
