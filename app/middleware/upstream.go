package middleware

import (
	"strconv"

	"github.com/labstack/echo/v4"
)

const (
	HeaderPrincipalID  = "X-Principal-ID"
	HeaderCredentialID = "X-Credential-ID"
	HeaderPlanName     = "X-Plan-Name"
)

// ForwardIdentity strips the credential from the request and replaces it with
// identity headers for the upstream service. Client-supplied identity headers
// are always overwritten.
func ForwardIdentity(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		h := c.Request().Header
		h.Del(HeaderAPIKey)
		h.Del(echo.HeaderAuthorization)
		h.Del(HeaderPrincipalID)
		h.Del(HeaderCredentialID)
		h.Del(HeaderPlanName)

		if identity, ok := IdentityFrom(c); ok {
			h.Set(HeaderPrincipalID, strconv.FormatUint(identity.PrincipalID, 10))
			h.Set(HeaderCredentialID, strconv.FormatUint(identity.CredentialID, 10))
			h.Set(HeaderPlanName, identity.PlanName())
		}
		return next(c)
	}
}
