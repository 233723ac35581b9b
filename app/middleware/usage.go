package middleware

import (
	"database/sql"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/vibast-solutions/ms-go-stats-gateway/app/entity"
	"github.com/vibast-solutions/ms-go-stats-gateway/app/service"
)

type UsageMiddleware struct {
	recorder service.UsageRecorder
}

func NewUsageMiddleware(recorder service.UsageRecorder) *UsageMiddleware {
	return &UsageMiddleware{recorder: recorder}
}

// Record emits one usage record per request once the response is written,
// including requests rejected further down the chain.
func (m *UsageMiddleware) Record(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if c.Request().Method == http.MethodOptions {
			return next(c)
		}

		start := time.Now()
		if err := next(c); err != nil {
			c.Error(err)
		}

		req := c.Request()
		rec := entity.UsageRecord{
			Endpoint:     req.URL.Path,
			HTTPMethod:   req.Method,
			StatusCode:   c.Response().Status,
			ResponseTime: time.Since(start),
			IPAddress:    c.RealIP(),
			UserAgent:    req.UserAgent(),
			RequestID:    c.Response().Header().Get(echo.HeaderXRequestID),
			CreatedAt:    start,
		}
		if identity, ok := IdentityFrom(c); ok {
			rec.UserID = sql.NullInt64{Int64: int64(identity.PrincipalID), Valid: true}
			rec.APIKeyID = sql.NullInt64{Int64: int64(identity.CredentialID), Valid: true}
			rec.RateLimitPlan = sql.NullString{String: identity.PlanName(), Valid: true}
		}
		if decision, ok := DecisionFrom(c); ok {
			rec.RateLimited = decision.Outcome == service.OutcomeQuotaExceeded
			rec.Degraded = decision.Degraded
		}
		if reason, ok := c.Get(ContextKeyAuthFailure).(string); ok && reason != "" {
			rec.AuthFailure = sql.NullString{String: reason, Valid: true}
		}

		m.recorder.Record(rec)
		return nil
	}
}
