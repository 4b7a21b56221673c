package handler

import (
	"strings"

	echojwt "github.com/labstack/echo-jwt/v4"
	"github.com/labstack/echo/v4"

	"taskflow/internal/auth"
	"taskflow/internal/errors"
	"taskflow/internal/model"
	"taskflow/internal/service"
)

// Authenticate resolves the bearer token through the auth service so revoked
// tokens and deleted accounts are rejected, not just bad signatures.
func Authenticate(authService service.AuthService) echo.MiddlewareFunc {
	return echojwt.WithConfig(echojwt.Config{
		TokenLookup: "header:" + echo.HeaderAuthorization + ":Bearer ",
		ParseTokenFunc: func(c echo.Context, token string) (interface{}, error) {
			return authService.Authorize(c.Request().Context(), token)
		},
		SuccessHandler: func(c echo.Context) {
			if p, ok := c.Get("user").(*auth.Principal); ok {
				SetPrincipal(c, p)
			}
		},
		ErrorHandler: func(c echo.Context, err error) error {
			// Missing or malformed header, or any other unclassified token failure.
			if errors.KindOf(err) == "" {
				err = errors.ErrUnauthenticated
			}
			return fail(c, err)
		},
	})
}

// RequireRoles rejects callers whose role is not in roles. It runs after Authenticate.
func RequireRoles(roles ...model.Role) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			p, ok := PrincipalFrom(c)
			if !ok {
				return fail(c, errors.ErrUnauthenticated)
			}
			if !auth.Authorized(p.Role, roles...) {
				return fail(c, errors.ErrForbidden)
			}
			return next(c)
		}
	}
}

// bearerToken returns the raw access token from the Authorization header, if any.
func bearerToken(c echo.Context) string {
	header := c.Request().Header.Get(echo.HeaderAuthorization)
	if len(header) > 7 && strings.EqualFold(header[:7], "Bearer ") {
		return header[7:]
	}
	return ""
}
