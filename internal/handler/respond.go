package handler

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"taskflow/internal/auth"
	"taskflow/internal/errors"
)

// principalKey is where the authentication middleware stores the caller.
const principalKey = "principal"

// SetPrincipal attaches the authenticated caller to the request context.
func SetPrincipal(c echo.Context, p *auth.Principal) {
	c.Set(principalKey, p)
}

// PrincipalFrom returns the caller attached by the authentication middleware.
func PrincipalFrom(c echo.Context) (auth.Principal, bool) {
	p, ok := c.Get(principalKey).(*auth.Principal)
	if !ok || p == nil {
		return auth.Principal{}, false
	}
	return *p, true
}

func principal(c echo.Context) auth.Principal {
	p, _ := PrincipalFrom(c)
	return p
}

// fail converts a service error into the JSON error response. Auth failures carry a
// redirect hint: sign-in for missing sessions, the caller's home for wrong roles.
func fail(c echo.Context, err error) error {
	httpErr := errors.MapErrorToHTTP(err)
	resp := httpErr.ToErrorResponse()

	switch httpErr.StatusCode {
	case http.StatusUnauthorized:
		resp.Redirect = auth.SignInPath
	case http.StatusForbidden:
		if p, ok := PrincipalFrom(c); ok {
			resp.Redirect = auth.HomePath(p.Role)
		}
	}

	return echo.NewHTTPError(httpErr.StatusCode, resp).SetInternal(err)
}

func badRequest(message, code string) error {
	return echo.NewHTTPError(http.StatusBadRequest, errors.ErrorResponse{
		Error: message,
		Code:  code,
	})
}

func invalidBody() error {
	return badRequest("invalid request body", "INVALID_REQUEST")
}

func validationFailed(err error) error {
	return badRequest(err.Error(), "VALIDATION_ERROR")
}

func pathID(c echo.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, badRequest("invalid "+name, "INVALID_UUID")
	}
	return id, nil
}

// bind decodes and validates the request body into req.
func bind(c echo.Context, req interface{}) error {
	if err := c.Bind(req); err != nil {
		return invalidBody()
	}
	if err := c.Validate(req); err != nil {
		return validationFailed(err)
	}
	return nil
}
