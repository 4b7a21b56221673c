package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"taskflow/internal/model"
	"taskflow/internal/service"
)

// SweepRunner triggers one maintenance cycle on demand.
type SweepRunner interface {
	Cycle(ctx context.Context) (*service.SweepReport, error)
}

// UserHandler bundles the admin HTTP handlers for accounts, incidents and maintenance.
type UserHandler struct {
	users     service.UserService
	incidents service.IncidentService
	sweeper   SweepRunner
}

// NewUserHandler creates a handler layer.
func NewUserHandler(users service.UserService, incidents service.IncidentService, sweeper SweepRunner) *UserHandler {
	return &UserHandler{users: users, incidents: incidents, sweeper: sweeper}
}

// ListUsers godoc
// @Summary List users
// @Tags admin
// @Produce json
// @Security BearerAuth
// @Param role query string false "admin, employer or worker"
// @Success 200 {array} model.User
// @Failure 400 {object} errors.ErrorResponse
// @Router /admin/users [get]
func (h *UserHandler) ListUsers(c echo.Context) error {
	var role model.Role
	if raw := c.QueryParam("role"); raw != "" {
		parsed, ok := model.ParseRole(raw)
		if !ok {
			return badRequest("invalid role", "INVALID_ROLE")
		}
		role = parsed
	}

	users, err := h.users.List(c.Request().Context(), role)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, users)
}

// DeleteUser godoc
// @Summary Delete a user account
// @Tags admin
// @Security BearerAuth
// @Param id path string true "User ID"
// @Success 204
// @Failure 404 {object} errors.ErrorResponse
// @Router /admin/users/{id} [delete]
func (h *UserHandler) DeleteUser(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	if err := h.users.DeleteAccount(c.Request().Context(), principal(c), id); err != nil {
		return fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// ListIncidents godoc
// @Summary List recorded integrity incidents
// @Tags admin
// @Produce json
// @Security BearerAuth
// @Param open query bool false "Only unresolved incidents"
// @Success 200 {array} model.Incident
// @Router /admin/incidents [get]
func (h *UserHandler) ListIncidents(c echo.Context) error {
	openOnly, _ := strconv.ParseBool(c.QueryParam("open"))
	incidents, err := h.incidents.List(c.Request().Context(), openOnly)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, incidents)
}

// ResolveIncident godoc
// @Summary Mark an incident resolved
// @Tags admin
// @Produce json
// @Security BearerAuth
// @Param id path string true "Incident ID"
// @Success 200 {object} model.Incident
// @Failure 404 {object} errors.ErrorResponse
// @Failure 409 {object} errors.ErrorResponse
// @Router /admin/incidents/{id}/resolve [post]
func (h *UserHandler) ResolveIncident(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	incident, err := h.incidents.Resolve(c.Request().Context(), principal(c), id)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, incident)
}

// Sweep godoc
// @Summary Run one maintenance cycle now
// @Tags admin
// @Produce json
// @Security BearerAuth
// @Success 200 {object} service.SweepReport
// @Router /admin/sweep [post]
func (h *UserHandler) Sweep(c echo.Context) error {
	report, err := h.sweeper.Cycle(c.Request().Context())
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, report)
}
