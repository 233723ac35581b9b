package middleware

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	httpdto "github.com/vibast-solutions/ms-go-stats-gateway/app/dto/http"
	"github.com/vibast-solutions/ms-go-stats-gateway/app/metrics"
	"github.com/vibast-solutions/ms-go-stats-gateway/app/service"
)

const (
	HeaderAPIKey          = "X-API-Key"
	HeaderRetryAfter      = "Retry-After"
	HeaderWWWAuthenticate = "WWW-Authenticate"
	HeaderDegraded        = "X-RateLimit-Degraded"
)

type APIKeyMiddleware struct {
	resolver service.IdentityResolver
	limiter  service.RateLimiter
	now      func() time.Time
}

func NewAPIKeyMiddleware(resolver service.IdentityResolver, limiter service.RateLimiter) *APIKeyMiddleware {
	return &APIKeyMiddleware{resolver: resolver, limiter: limiter, now: time.Now}
}

// ExtractCredential reads X-API-Key, falling back to a bearer Authorization
// header. It returns "" when neither is present.
func ExtractCredential(r *http.Request) string {
	if key := strings.TrimSpace(r.Header.Get(HeaderAPIKey)); key != "" {
		return key
	}

	parts := strings.Fields(r.Header.Get(echo.HeaderAuthorization))
	if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
		return parts[1]
	}
	return ""
}

// RequireAPIKey resolves the presented credential to an identity. Every
// resolution failure yields the same 401 response.
func (m *APIKeyMiddleware) RequireAPIKey(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		// Let CORS preflight pass.
		if c.Request().Method == http.MethodOptions {
			return next(c)
		}

		candidate := ExtractCredential(c.Request())
		if candidate == "" {
			return m.unauthorized(c, service.ErrInvalidFormat)
		}

		identity, err := m.resolver.Resolve(c.Request().Context(), candidate)
		if err != nil {
			if service.IsAuthError(err) {
				return m.unauthorized(c, err)
			}
			logrus.WithError(err).Error("API key resolution failed")
			return c.JSON(http.StatusInternalServerError, httpdto.ErrorResponse{Error: "internal server error"})
		}

		c.Set(ContextKeyIdentity, identity)
		return next(c)
	}
}

func (m *APIKeyMiddleware) unauthorized(c echo.Context, err error) error {
	reason := service.AuthFailureReason(err)
	c.Set(ContextKeyAuthFailure, reason)
	metrics.AuthFailuresTotal.WithLabelValues(reason).Inc()

	entry := logrus.WithFields(logrus.Fields{
		"reason": reason,
		"path":   c.Request().URL.Path,
		"ip":     c.RealIP(),
	})
	if errors.Is(err, service.ErrNoEntitlement) {
		entry.Error("Authenticated principal has no usable entitlement")
	} else {
		entry.Debug("API key rejected")
	}

	c.Response().Header().Set(HeaderWWWAuthenticate, "ApiKey")
	return c.JSON(http.StatusUnauthorized, httpdto.ErrorResponse{Error: "unauthorized"})
}

// Admit consults the rate limiter for the identity set by RequireAPIKey.
func (m *APIKeyMiddleware) Admit(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if c.Request().Method == http.MethodOptions {
			return next(c)
		}

		identity, ok := IdentityFrom(c)
		if !ok {
			logrus.Error("Admission reached without a resolved identity")
			return c.JSON(http.StatusInternalServerError, httpdto.ErrorResponse{Error: "internal server error"})
		}

		decision := m.limiter.CheckAndAdmit(c.Request().Context(), identity, m.now())
		c.Set(ContextKeyDecision, decision)
		writeRateLimitHeaders(c.Response().Header(), decision)

		switch decision.Outcome {
		case service.OutcomeQuotaExceeded:
			logrus.WithFields(logrus.Fields{
				"user_id": identity.PrincipalID,
				"window":  decision.Window,
				"limit":   decision.Limit,
				"count":   decision.Count,
			}).Info("Rate limit exceeded")
			c.Response().Header().Set(HeaderRetryAfter, strconv.FormatInt(decision.RetryAfter, 10))
			return c.JSON(http.StatusTooManyRequests, httpdto.QuotaExceededResponse{
				Error:      "rate limit exceeded",
				Window:     decision.Window,
				Limit:      decision.Limit,
				Count:      decision.Count,
				RetryAfter: decision.RetryAfter,
			})
		case service.OutcomeUnavailable:
			return c.JSON(http.StatusServiceUnavailable, httpdto.ErrorResponse{Error: "rate limit service unavailable"})
		}

		return next(c)
	}
}

// writeRateLimitHeaders emits X-RateLimit-{Limit,Remaining,Reset}-{Window}.
// Remaining is omitted when the counts are unknown.
func writeRateLimitHeaders(h http.Header, decision service.Decision) {
	for _, u := range decision.Usage {
		suffix := windowSuffix(u.Window)
		h.Set("X-RateLimit-Limit-"+suffix, strconv.FormatInt(u.Limit, 10))
		if !decision.Degraded {
			h.Set("X-RateLimit-Remaining-"+suffix, strconv.FormatInt(u.Remaining, 10))
		}
		h.Set("X-RateLimit-Reset-"+suffix, strconv.FormatInt(u.ResetAt.Unix(), 10))
	}
	if decision.Degraded {
		h.Set(HeaderDegraded, "true")
	}
}

func windowSuffix(window string) string {
	if window == "" {
		return window
	}
	return strings.ToUpper(window[:1]) + window[1:]
}
