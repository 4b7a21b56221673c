package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"taskflow/internal/service"
)

// SubmissionHandler handles proof submission and review endpoints.
type SubmissionHandler struct {
	submissions service.SubmissionService
}

// NewSubmissionHandler creates a new submission handler.
func NewSubmissionHandler(submissions service.SubmissionService) *SubmissionHandler {
	return &SubmissionHandler{submissions: submissions}
}

// ProofRequest carries the worker's evidence of completion.
type ProofRequest struct {
	Proof string `json:"proof" validate:"required"`
}

// ResolveRequest carries a reviewer's verdict.
type ResolveRequest struct {
	Decision string `json:"decision" validate:"required,oneof=approve reject"`
	Note     string `json:"note"`
}

// ListMine godoc
// @Summary List the caller's submissions
// @Tags submissions
// @Produce json
// @Security BearerAuth
// @Success 200 {array} model.Submission
// @Router /submissions [get]
func (h *SubmissionHandler) ListMine(c echo.Context) error {
	submissions, err := h.submissions.ListForWorker(c.Request().Context(), principal(c).UserID)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, submissions)
}

// Get godoc
// @Summary Get submission
// @Tags submissions
// @Produce json
// @Security BearerAuth
// @Param id path string true "Submission ID"
// @Success 200 {object} model.Submission
// @Failure 403 {object} errors.ErrorResponse
// @Failure 404 {object} errors.ErrorResponse
// @Router /submissions/{id} [get]
func (h *SubmissionHandler) Get(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	submission, err := h.submissions.Get(c.Request().Context(), principal(c), id)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, submission)
}

// SubmitProof godoc
// @Summary Submit proof for a claimed slot
// @Tags submissions
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Submission ID"
// @Param request body ProofRequest true "Proof"
// @Success 200 {object} model.Submission
// @Failure 409 {object} errors.ErrorResponse
// @Router /submissions/{id}/proof [post]
func (h *SubmissionHandler) SubmitProof(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	var req ProofRequest
	if err := bind(c, &req); err != nil {
		return err
	}

	submission, err := h.submissions.SubmitProof(c.Request().Context(), principal(c).UserID, id, req.Proof)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, submission)
}

// Resolve godoc
// @Summary Approve or reject submitted proof
// @Tags submissions
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Submission ID"
// @Param request body ResolveRequest true "Decision"
// @Success 200 {object} model.Submission
// @Failure 403 {object} errors.ErrorResponse
// @Failure 409 {object} errors.ErrorResponse
// @Router /submissions/{id}/resolve [post]
func (h *SubmissionHandler) Resolve(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	var req ResolveRequest
	if err := bind(c, &req); err != nil {
		return err
	}

	submission, err := h.submissions.Resolve(c.Request().Context(), principal(c), id, service.Decision(req.Decision), req.Note)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, submission)
}
