package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/noah-isme/studyplan-api/internal/dto"
	"github.com/noah-isme/studyplan-api/internal/models"
	"github.com/noah-isme/studyplan-api/internal/service"
	appErrors "github.com/noah-isme/studyplan-api/pkg/errors"
	"github.com/noah-isme/studyplan-api/pkg/response"
)

type wizardFlow interface {
	CreateSession(ctx context.Context, actor models.Actor, groupID string) (*models.WizardSession, error)
	GetSession(ctx context.Context, actor models.Actor, sessionID string) (*models.WizardSession, error)
	SelectContents(ctx context.Context, actor models.Actor, sessionID string, contentIDs []string) (*models.WizardSession, error)
	SetRangeAdjustment(ctx context.Context, actor models.Actor, sessionID, contentID string, r models.ContentRange) (*models.WizardSession, error)
	SetReplaceAdjustment(ctx context.Context, actor models.Actor, sessionID, contentID string, replacementType models.ContentType, replacementID string, r models.ContentRange) (*models.WizardSession, error)
	SetFullAdjustment(ctx context.Context, actor models.Actor, sessionID, contentID string) (*models.WizardSession, error)
	RemoveAdjustment(ctx context.Context, actor models.Actor, sessionID, contentID string) (*models.WizardSession, error)
	ApplyBatch(ctx context.Context, actor models.Actor, sessionID string, cfg models.BatchConfig, apply bool) (models.BatchPreview, *models.WizardSession, error)
	SetPlacement(ctx context.Context, actor models.Actor, sessionID string, mode models.PlacementMode, dateRange *models.PlacementDateRange) (*models.WizardSession, error)
	Advance(ctx context.Context, actor models.Actor, sessionID string) (*models.WizardSession, error)
	Back(ctx context.Context, actor models.Actor, sessionID string) (*models.WizardSession, error)
	Preview(ctx context.Context, actor models.Actor, sessionID string) (*models.ReschedulePreviewResult, error)
	Propose(ctx context.Context, actor models.Actor, sessionID, reason string) (*models.RescheduleProposal, error)
	Abandon(ctx context.Context, actor models.Actor, sessionID string) error
}

// WizardHandler drives the select, adjust and preview steps of a reschedule.
type WizardHandler struct {
	wizard   wizardFlow
	validate *validator.Validate
}

// NewWizardHandler constructs the handler.
func NewWizardHandler(wizard *service.WizardService, validate *validator.Validate) *WizardHandler {
	if validate == nil {
		validate = validator.New()
	}
	return &WizardHandler{wizard: wizard, validate: validate}
}

// Create godoc
// @Summary Start a reschedule wizard session for a plan group
// @Tags Wizard
// @Produce json
// @Param id path string true "Plan group ID"
// @Success 201 {object} response.Envelope
// @Router /plan-groups/{id}/reschedule/sessions [post]
func (h *WizardHandler) Create(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	session, err := h.wizard.CreateSession(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, session)
}

// Get godoc
// @Summary Get a wizard session
// @Tags Wizard
// @Produce json
// @Param sid path string true "Session ID"
// @Success 200 {object} response.Envelope
// @Router /reschedule/sessions/{sid} [get]
func (h *WizardHandler) Get(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	session, err := h.wizard.GetSession(c.Request.Context(), actor, c.Param("sid"))
	h.respond(c, session, err)
}

// Select godoc
// @Summary Replace the selected contents
// @Tags Wizard
// @Accept json
// @Produce json
// @Param sid path string true "Session ID"
// @Param payload body dto.WizardSelectionRequest true "Selection"
// @Success 200 {object} response.Envelope
// @Router /reschedule/sessions/{sid}/selection [put]
func (h *WizardHandler) Select(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	var req dto.WizardSelectionRequest
	if !bindJSON(c, h.validate, &req, "selection") {
		return
	}
	session, err := h.wizard.SelectContents(c.Request.Context(), actor, c.Param("sid"), req.ContentIDs)
	h.respond(c, session, err)
}

// SetAdjustment godoc
// @Summary Set the adjustment of one selected content
// @Tags Wizard
// @Accept json
// @Produce json
// @Param sid path string true "Session ID"
// @Param contentId path string true "Plan content ID"
// @Param payload body dto.WizardAdjustmentRequest true "Adjustment"
// @Success 200 {object} response.Envelope
// @Router /reschedule/sessions/{sid}/adjustments/{contentId} [put]
func (h *WizardHandler) SetAdjustment(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	var req dto.WizardAdjustmentRequest
	if !bindJSON(c, h.validate, &req, "adjustment") {
		return
	}

	ctx := c.Request.Context()
	sid, contentID := c.Param("sid"), c.Param("contentId")
	var (
		session *models.WizardSession
		err     error
	)
	switch req.ChangeType {
	case models.ChangeTypeRange:
		session, err = h.wizard.SetRangeAdjustment(ctx, actor, sid, contentID, req.Range)
	case models.ChangeTypeReplace:
		session, err = h.wizard.SetReplaceAdjustment(ctx, actor, sid, contentID, req.ReplacementType, req.ReplacementID, req.Range)
	case models.ChangeTypeFull:
		session, err = h.wizard.SetFullAdjustment(ctx, actor, sid, contentID)
	default:
		err = appErrors.Clone(appErrors.ErrValidation, "unknown change type")
	}
	h.respond(c, session, err)
}

// RemoveAdjustment godoc
// @Summary Drop the adjustment of one content
// @Tags Wizard
// @Produce json
// @Param sid path string true "Session ID"
// @Param contentId path string true "Plan content ID"
// @Success 200 {object} response.Envelope
// @Router /reschedule/sessions/{sid}/adjustments/{contentId} [delete]
func (h *WizardHandler) RemoveAdjustment(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	session, err := h.wizard.RemoveAdjustment(c.Request.Context(), actor, c.Param("sid"), c.Param("contentId"))
	h.respond(c, session, err)
}

// Batch godoc
// @Summary Preview or apply a batch adjustment to the selection
// @Tags Wizard
// @Accept json
// @Produce json
// @Param sid path string true "Session ID"
// @Param payload body dto.WizardBatchRequest true "Batch config"
// @Success 200 {object} response.Envelope
// @Router /reschedule/sessions/{sid}/batch [post]
func (h *WizardHandler) Batch(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	var req dto.WizardBatchRequest
	if !bindJSON(c, h.validate, &req, "batch") {
		return
	}
	preview, session, err := h.wizard.ApplyBatch(c.Request.Context(), actor, c.Param("sid"), req.Config.ToModel(), req.Apply)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, dto.WizardBatchResponse{Preview: preview, Session: session}, nil)
}

// Placement godoc
// @Summary Choose automatic or manual placement
// @Tags Wizard
// @Accept json
// @Produce json
// @Param sid path string true "Session ID"
// @Param payload body dto.WizardPlacementRequest true "Placement"
// @Success 200 {object} response.Envelope
// @Router /reschedule/sessions/{sid}/placement [put]
func (h *WizardHandler) Placement(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	var req dto.WizardPlacementRequest
	if !bindJSON(c, h.validate, &req, "placement") {
		return
	}
	session, err := h.wizard.SetPlacement(c.Request.Context(), actor, c.Param("sid"), req.Mode, req.DateRange)
	h.respond(c, session, err)
}

// Advance godoc
// @Summary Move to the next step
// @Tags Wizard
// @Produce json
// @Param sid path string true "Session ID"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /reschedule/sessions/{sid}/advance [post]
func (h *WizardHandler) Advance(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	session, err := h.wizard.Advance(c.Request.Context(), actor, c.Param("sid"))
	h.respond(c, session, err)
}

// Back godoc
// @Summary Return to the previous step
// @Tags Wizard
// @Produce json
// @Param sid path string true "Session ID"
// @Success 200 {object} response.Envelope
// @Router /reschedule/sessions/{sid}/back [post]
func (h *WizardHandler) Back(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	session, err := h.wizard.Back(c.Request.Context(), actor, c.Param("sid"))
	h.respond(c, session, err)
}

// Preview godoc
// @Summary Preview the reschedule the session describes
// @Tags Wizard
// @Produce json
// @Param sid path string true "Session ID"
// @Success 200 {object} response.Envelope
// @Router /reschedule/sessions/{sid}/preview [post]
func (h *WizardHandler) Preview(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	result, err := h.wizard.Preview(c.Request.Context(), actor, c.Param("sid"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Propose godoc
// @Summary Store the session preview as a proposal to commit
// @Tags Wizard
// @Accept json
// @Produce json
// @Param sid path string true "Session ID"
// @Param payload body dto.WizardProposeRequest false "Reason"
// @Success 201 {object} response.Envelope
// @Router /reschedule/sessions/{sid}/propose [post]
func (h *WizardHandler) Propose(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	var req dto.WizardProposeRequest
	if c.Request.ContentLength != 0 && !bindJSON(c, h.validate, &req, "propose") {
		return
	}
	proposal, err := h.wizard.Propose(c.Request.Context(), actor, c.Param("sid"), req.Reason)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, proposal)
}

// Abandon godoc
// @Summary Discard a wizard session
// @Tags Wizard
// @Param sid path string true "Session ID"
// @Success 204
// @Router /reschedule/sessions/{sid} [delete]
func (h *WizardHandler) Abandon(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	if err := h.wizard.Abandon(c.Request.Context(), actor, c.Param("sid")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

func (h *WizardHandler) respond(c *gin.Context, session *models.WizardSession, err error) {
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, session, nil)
}
