package controller

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	httpdto "github.com/vibast-solutions/ms-go-stats-gateway/app/dto/http"
)

// ReadinessCheck is one dependency probed by GET /ready.
type ReadinessCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

type HealthController struct {
	checks  []ReadinessCheck
	timeout time.Duration
}

func NewHealthController(timeout time.Duration, checks ...ReadinessCheck) *HealthController {
	return &HealthController{checks: checks, timeout: timeout}
}

func (c *HealthController) Health(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, httpdto.HealthResponse{Status: "ok"})
}

func (c *HealthController) Ready(ctx echo.Context) error {
	reqCtx := ctx.Request().Context()
	if c.timeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(reqCtx, c.timeout)
		defer cancel()
	}

	resp := httpdto.ReadyResponse{Status: "ok", Checks: make(map[string]string, len(c.checks))}
	status := http.StatusOK
	for _, check := range c.checks {
		if err := check.Check(reqCtx); err != nil {
			logrus.WithError(err).WithField("check", check.Name).Warn("Readiness check failed")
			resp.Checks[check.Name] = "unavailable"
			resp.Status = "unavailable"
			status = http.StatusServiceUnavailable
			continue
		}
		resp.Checks[check.Name] = "ok"
	}

	return ctx.JSON(status, resp)
}
