package middleware

import (
	"github.com/labstack/echo/v4"

	"github.com/vibast-solutions/ms-go-stats-gateway/app/dto"
	"github.com/vibast-solutions/ms-go-stats-gateway/app/service"
)

const (
	ContextKeyIdentity    = "identity"
	ContextKeyDecision    = "rate_limit_decision"
	ContextKeyAuthFailure = "auth_failure"
)

func IdentityFrom(c echo.Context) (*dto.Identity, bool) {
	identity, ok := c.Get(ContextKeyIdentity).(*dto.Identity)
	return identity, ok && identity != nil
}

func DecisionFrom(c echo.Context) (service.Decision, bool) {
	decision, ok := c.Get(ContextKeyDecision).(service.Decision)
	return decision, ok
}
