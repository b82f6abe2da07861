package auth

import (
	"strings"

	"github.com/labstack/echo/v4"
	binderr "github.com/opst/importexec/pkg/api-types-binding/errors"
)

// ContextKey is the key of *Claims in echo.Context.
const ContextKey = "auth.claims"

// Middleware rejects requests without a valid bearer token with 401.
//
// When v is nil, requests pass through without verification.
func Middleware(v *Verifier) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		if v == nil {
			return next
		}
		return func(c echo.Context) error {
			header := c.Request().Header.Get(echo.HeaderAuthorization)
			scheme, token, ok := strings.Cut(header, " ")
			if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
				return binderr.Unauthorized("bearer token is required", nil)
			}

			claims, err := v.Verify(strings.TrimSpace(token))
			if err != nil {
				c.Logger().Warnf("rejected trigger: %s", err)
				return binderr.Unauthorized("token is not acceptable", err)
			}
			c.Set(ContextKey, claims)
			return next(c)
		}
	}
}
