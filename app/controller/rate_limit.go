package controller

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	httpdto "github.com/vibast-solutions/ms-go-stats-gateway/app/dto/http"
	"github.com/vibast-solutions/ms-go-stats-gateway/app/middleware"
	"github.com/vibast-solutions/ms-go-stats-gateway/app/service"
)

type RateLimitController struct {
	limiter service.RateLimiter
	now     func() time.Time
}

func NewRateLimitController(limiter service.RateLimiter) *RateLimitController {
	return &RateLimitController{limiter: limiter, now: time.Now}
}

// Status reports the caller's usage in every window without consuming quota.
func (c *RateLimitController) Status(ctx echo.Context) error {
	identity, ok := middleware.IdentityFrom(ctx)
	if !ok {
		return ctx.JSON(http.StatusUnauthorized, httpdto.ErrorResponse{Error: "unauthorized"})
	}

	usage, err := c.limiter.Status(ctx.Request().Context(), identity, c.now())
	if err != nil {
		logrus.WithError(err).WithField("user_id", identity.PrincipalID).Error("Rate limit status lookup failed")
		return ctx.JSON(http.StatusServiceUnavailable, httpdto.ErrorResponse{Error: "rate limit service unavailable"})
	}

	resp := httpdto.RateLimitStatusResponse{
		PrincipalID: identity.PrincipalID,
		Plan:        identity.PlanName(),
		Windows:     make(map[string]httpdto.WindowUsageResponse, len(usage)),
	}
	if decision, ok := middleware.DecisionFrom(ctx); ok {
		resp.Degraded = decision.Degraded
	}
	for _, u := range usage {
		resp.Windows[u.Window] = httpdto.WindowUsageResponse{
			Limit:     u.Limit,
			Used:      u.Count,
			Remaining: u.Remaining,
			ResetAt:   u.ResetAt.Unix(),
		}
	}

	return ctx.JSON(http.StatusOK, resp)
}
