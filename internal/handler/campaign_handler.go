package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"

	"taskflow/internal/auth"
	"taskflow/internal/model"
	"taskflow/internal/service"
)

// CampaignHandler handles campaign catalog endpoints.
type CampaignHandler struct {
	campaigns   service.CampaignService
	submissions service.SubmissionService
}

// NewCampaignHandler creates a new campaign handler.
func NewCampaignHandler(campaigns service.CampaignService, submissions service.SubmissionService) *CampaignHandler {
	return &CampaignHandler{campaigns: campaigns, submissions: submissions}
}

// CreateCampaignRequest represents a campaign posted by an employer.
type CreateCampaignRequest struct {
	Title          string     `json:"title" validate:"required,max=255"`
	Description    string     `json:"description"`
	Instructions   string     `json:"instructions"`
	Category       string     `json:"category" validate:"required"`
	Difficulty     string     `json:"difficulty" validate:"omitempty,oneof=easy medium hard"`
	PaymentPerSlot string     `json:"payment_per_slot" validate:"required"`
	TotalSlots     int        `json:"total_slots" validate:"required,gt=0"`
	AllowedMinutes int        `json:"allowed_minutes" validate:"gte=0"`
	ExpiresAt      *time.Time `json:"expires_at"`
	AutoApprove    bool       `json:"auto_approve"`
}

// List godoc
// @Summary Browse active campaigns
// @Tags campaigns
// @Produce json
// @Security BearerAuth
// @Param q query string false "Text in title or description"
// @Param category query string false "Category"
// @Success 200 {array} model.Campaign
// @Failure 401 {object} errors.ErrorResponse
// @Router /campaigns [get]
func (h *CampaignHandler) List(c echo.Context) error {
	ctx := c.Request().Context()
	q, category := c.QueryParam("q"), c.QueryParam("category")

	var (
		campaigns []model.Campaign
		err       error
	)
	if q == "" && category == "" {
		campaigns, err = h.campaigns.ListActive(ctx)
	} else {
		campaigns, err = h.campaigns.Search(ctx, q, category)
	}
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, campaigns)
}

// Get godoc
// @Summary Get campaign
// @Tags campaigns
// @Produce json
// @Security BearerAuth
// @Param id path string true "Campaign ID"
// @Success 200 {object} model.Campaign
// @Failure 404 {object} errors.ErrorResponse
// @Router /campaigns/{id} [get]
func (h *CampaignHandler) Get(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	campaign, err := h.campaigns.Get(c.Request().Context(), id)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, campaign)
}

// Create godoc
// @Summary Create a draft campaign
// @Tags campaigns
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body CreateCampaignRequest true "Campaign"
// @Success 201 {object} model.Campaign
// @Failure 400 {object} errors.ErrorResponse
// @Failure 403 {object} errors.ErrorResponse
// @Router /campaigns [post]
func (h *CampaignHandler) Create(c echo.Context) error {
	var req CreateCampaignRequest
	if err := bind(c, &req); err != nil {
		return err
	}

	pay, err := decimal.NewFromString(req.PaymentPerSlot)
	if err != nil {
		return badRequest("invalid payment_per_slot", "INVALID_AMOUNT")
	}

	campaign, err := h.campaigns.Create(c.Request().Context(), principal(c).UserID, service.CampaignSpec{
		Title:          req.Title,
		Description:    req.Description,
		Instructions:   req.Instructions,
		Category:       req.Category,
		Difficulty:     model.Difficulty(req.Difficulty),
		PaymentPerSlot: pay,
		TotalSlots:     req.TotalSlots,
		AllowedMinutes: req.AllowedMinutes,
		ExpiresAt:      req.ExpiresAt,
		AutoApprove:    req.AutoApprove,
	})
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusCreated, campaign)
}

// ListOwn godoc
// @Summary List the caller's campaigns
// @Tags campaigns
// @Produce json
// @Security BearerAuth
// @Success 200 {array} model.Campaign
// @Router /employer/campaigns [get]
func (h *CampaignHandler) ListOwn(c echo.Context) error {
	campaigns, err := h.campaigns.ListByEmployer(c.Request().Context(), principal(c).UserID)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, campaigns)
}

// ListAll godoc
// @Summary List campaigns in any status
// @Tags admin
// @Produce json
// @Security BearerAuth
// @Param status query string false "Status filter"
// @Success 200 {array} model.Campaign
// @Router /admin/campaigns [get]
func (h *CampaignHandler) ListAll(c echo.Context) error {
	campaigns, err := h.campaigns.List(c.Request().Context(), model.CampaignStatus(c.QueryParam("status")))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, campaigns)
}

type campaignAction func(ctx context.Context, actor auth.Principal, id uuid.UUID) (*model.Campaign, error)

func (h *CampaignHandler) apply(c echo.Context, action campaignAction) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	campaign, err := action(c.Request().Context(), principal(c), id)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, campaign)
}

// Publish godoc
// @Summary Publish a draft campaign
// @Tags campaigns
// @Produce json
// @Security BearerAuth
// @Param id path string true "Campaign ID"
// @Success 200 {object} model.Campaign
// @Failure 403 {object} errors.ErrorResponse
// @Failure 409 {object} errors.ErrorResponse
// @Router /campaigns/{id}/publish [post]
func (h *CampaignHandler) Publish(c echo.Context) error {
	return h.apply(c, h.campaigns.Publish)
}

// Pause godoc
// @Summary Pause an active campaign
// @Tags campaigns
// @Produce json
// @Security BearerAuth
// @Param id path string true "Campaign ID"
// @Success 200 {object} model.Campaign
// @Failure 409 {object} errors.ErrorResponse
// @Router /campaigns/{id}/pause [post]
func (h *CampaignHandler) Pause(c echo.Context) error {
	return h.apply(c, h.campaigns.Pause)
}

// Resume godoc
// @Summary Resume a paused campaign
// @Tags campaigns
// @Produce json
// @Security BearerAuth
// @Param id path string true "Campaign ID"
// @Success 200 {object} model.Campaign
// @Failure 409 {object} errors.ErrorResponse
// @Router /campaigns/{id}/resume [post]
func (h *CampaignHandler) Resume(c echo.Context) error {
	return h.apply(c, h.campaigns.Resume)
}

// Cancel godoc
// @Summary Cancel a campaign and refund unclaimed slots
// @Tags campaigns
// @Produce json
// @Security BearerAuth
// @Param id path string true "Campaign ID"
// @Success 200 {object} model.Campaign
// @Failure 409 {object} errors.ErrorResponse
// @Router /campaigns/{id}/cancel [post]
func (h *CampaignHandler) Cancel(c echo.Context) error {
	return h.apply(c, h.campaigns.Cancel)
}

// Claim godoc
// @Summary Claim a slot
// @Tags campaigns
// @Produce json
// @Security BearerAuth
// @Param id path string true "Campaign ID"
// @Success 201 {object} model.Submission
// @Failure 404 {object} errors.ErrorResponse
// @Failure 409 {object} errors.ErrorResponse
// @Router /campaigns/{id}/claim [post]
func (h *CampaignHandler) Claim(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	submission, err := h.campaigns.ClaimSlot(c.Request().Context(), id, principal(c).UserID)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusCreated, submission)
}

// Submissions godoc
// @Summary List a campaign's submissions
// @Tags campaigns
// @Produce json
// @Security BearerAuth
// @Param id path string true "Campaign ID"
// @Success 200 {array} model.Submission
// @Failure 403 {object} errors.ErrorResponse
// @Router /campaigns/{id}/submissions [get]
func (h *CampaignHandler) Submissions(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	submissions, err := h.submissions.ListForCampaign(c.Request().Context(), principal(c), id)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, submissions)
}
