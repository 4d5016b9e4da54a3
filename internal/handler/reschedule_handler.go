package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/noah-isme/studyplan-api/internal/dto"
	"github.com/noah-isme/studyplan-api/internal/models"
	"github.com/noah-isme/studyplan-api/internal/service"
	appErrors "github.com/noah-isme/studyplan-api/pkg/errors"
	"github.com/noah-isme/studyplan-api/pkg/response"
)

const (
	defaultLogLimit = 20
	maxLogLimit     = 100
)

type rescheduleEngine interface {
	ListContents(ctx context.Context, actor models.Actor, groupID string) (*models.PlanGroup, []models.PlanContent, error)
	GetReschedulePreview(ctx context.Context, actor models.Actor, groupID string, adjustments []models.AdjustmentInput, dateRange *models.PlacementDateRange) (*models.ReschedulePreviewResult, error)
	ProposeReschedule(ctx context.Context, actor models.Actor, groupID string, adjustments []models.AdjustmentInput, dateRange *models.PlacementDateRange, reason string) (*models.RescheduleProposal, error)
	CommitReschedule(ctx context.Context, actor models.Actor, token string, confirm bool) (*models.RescheduleResult, error)
	RescheduleContents(ctx context.Context, actor models.Actor, groupID string, adjustments []models.AdjustmentInput, opts service.RescheduleOptions, dateRange *models.PlacementDateRange) (*models.RescheduleResult, error)
	RollbackReschedule(ctx context.Context, actor models.Actor, logID string) (*models.RollbackResult, error)
	ListRescheduleLogs(ctx context.Context, actor models.Actor, groupID string, limit int) ([]models.RescheduleLog, error)
}

type proposalExporter interface {
	ExportProposal(ctx context.Context, actor models.Actor, token, rawFormat string) (*service.ExportResult, error)
}

// RescheduleHandler exposes the reschedule engine and its stateless helpers.
type RescheduleHandler struct {
	engine        rescheduleEngine
	exporter      proposalExporter
	validate      *validator.Validate
	maxDailyHours float64
}

// NewRescheduleHandler constructs the handler.
func NewRescheduleHandler(engine *service.RescheduleService, exporter *service.ExportService, validate *validator.Validate, maxDailyHours float64) *RescheduleHandler {
	if validate == nil {
		validate = validator.New()
	}
	if maxDailyHours <= 0 {
		maxDailyHours = service.DefaultMaxDailyHours
	}
	return &RescheduleHandler{engine: engine, exporter: exporter, validate: validate, maxDailyHours: maxDailyHours}
}

// PreviewBatch godoc
// @Summary Preview a batch range adjustment
// @Tags Reschedule
// @Accept json
// @Produce json
// @Param payload body dto.BatchAdjustmentRequest true "Contents and batch config"
// @Success 200 {object} response.Envelope
// @Router /reschedule/batch/preview [post]
func (h *RescheduleHandler) PreviewBatch(c *gin.Context) {
	var req dto.BatchAdjustmentRequest
	if !bindJSON(c, h.validate, &req, "batch") {
		return
	}
	preview, err := service.PreviewBatchAdjustment(req.Contents, req.Config.ToModel())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, preview, nil)
}

// ApplyBatch godoc
// @Summary Turn a batch config into range adjustments
// @Tags Reschedule
// @Accept json
// @Produce json
// @Param payload body dto.BatchAdjustmentRequest true "Contents and batch config"
// @Success 200 {object} response.Envelope
// @Router /reschedule/batch/apply [post]
func (h *RescheduleHandler) ApplyBatch(c *gin.Context) {
	var req dto.BatchAdjustmentRequest
	if !bindJSON(c, h.validate, &req, "batch") {
		return
	}
	adjustments, err := service.ApplyBatchAdjustment(req.Contents, req.Config.ToModel())
	if err != nil {
		response.Error(c, err)
		return
	}
	if adjustments == nil {
		adjustments = []models.AdjustmentInput{}
	}
	response.JSON(c, http.StatusOK, dto.BatchApplyResponse{Adjustments: adjustments}, nil)
}

// DetectConflicts godoc
// @Summary Detect overlaps and overloads in a set of plan occurrences
// @Tags Reschedule
// @Accept json
// @Produce json
// @Param payload body dto.DetectConflictsRequest true "Occurrences"
// @Success 200 {object} response.Envelope
// @Router /reschedule/conflicts [post]
func (h *RescheduleHandler) DetectConflicts(c *gin.Context) {
	var req dto.DetectConflictsRequest
	if !bindJSON(c, h.validate, &req, "conflicts") {
		return
	}
	maxHours := req.MaxDailyHours
	if maxHours <= 0 {
		maxHours = h.maxDailyHours
	}
	aggregates := service.BuildDailyAggregates(req.Occurrences)
	conflicts := service.DetectAllConflicts(req.Occurrences, aggregates, maxHours)
	if conflicts == nil {
		conflicts = []models.Conflict{}
	}
	response.JSON(c, http.StatusOK, dto.DetectConflictsResponse{Conflicts: conflicts, DailyAggregates: aggregates}, nil)
}

// Contents godoc
// @Summary List the contents of a plan group
// @Tags Reschedule
// @Produce json
// @Param id path string true "Plan group ID"
// @Success 200 {object} response.Envelope
// @Router /plan-groups/{id}/reschedule/contents [get]
func (h *RescheduleHandler) Contents(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	group, contents, err := h.engine.ListContents(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, dto.RescheduleContentsResponse{PlanGroup: group, Contents: contents}, nil)
}

// Preview godoc
// @Summary Preview a reschedule without writing anything
// @Tags Reschedule
// @Accept json
// @Produce json
// @Param id path string true "Plan group ID"
// @Param payload body dto.ReschedulePreviewRequest true "Adjustments"
// @Success 200 {object} response.Envelope
// @Router /plan-groups/{id}/reschedule/preview [post]
func (h *RescheduleHandler) Preview(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	var req dto.ReschedulePreviewRequest
	if !bindJSON(c, h.validate, &req, "preview") {
		return
	}
	result, err := h.engine.GetReschedulePreview(c.Request.Context(), actor, c.Param("id"), dto.ToAdjustmentInputs(req.Adjustments), req.DateRange)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Propose godoc
// @Summary Preview a reschedule and keep it for confirmation
// @Tags Reschedule
// @Accept json
// @Produce json
// @Param id path string true "Plan group ID"
// @Param payload body dto.RescheduleProposeRequest true "Adjustments"
// @Success 201 {object} response.Envelope
// @Router /plan-groups/{id}/reschedule/proposals [post]
func (h *RescheduleHandler) Propose(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	var req dto.RescheduleProposeRequest
	if !bindJSON(c, h.validate, &req, "proposal") {
		return
	}
	proposal, err := h.engine.ProposeReschedule(c.Request.Context(), actor, c.Param("id"), dto.ToAdjustmentInputs(req.Adjustments), req.DateRange, req.Reason)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, proposal)
}

// Execute godoc
// @Summary Preview and commit a reschedule in one call
// @Description The request must carry confirm=true.
// @Tags Reschedule
// @Accept json
// @Produce json
// @Param id path string true "Plan group ID"
// @Param payload body dto.RescheduleExecuteRequest true "Adjustments"
// @Success 200 {object} response.Envelope
// @Failure 412 {object} response.Envelope
// @Router /plan-groups/{id}/reschedule/execute [post]
func (h *RescheduleHandler) Execute(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	var req dto.RescheduleExecuteRequest
	if !bindJSON(c, h.validate, &req, "execute") {
		return
	}
	opts := service.RescheduleOptions{Confirm: req.Confirm, Reason: req.Reason}
	result, err := h.engine.RescheduleContents(c.Request.Context(), actor, c.Param("id"), dto.ToAdjustmentInputs(req.Adjustments), opts, req.DateRange)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Commit godoc
// @Summary Commit a stored reschedule proposal
// @Tags Reschedule
// @Accept json
// @Produce json
// @Param token path string true "Proposal token"
// @Param payload body dto.CommitProposalRequest true "Confirmation"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /reschedule/proposals/{token}/commit [post]
func (h *RescheduleHandler) Commit(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	var req dto.CommitProposalRequest
	if !bindJSON(c, h.validate, &req, "commit") {
		return
	}
	result, err := h.engine.CommitReschedule(c.Request.Context(), actor, c.Param("token"), req.Confirm)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Export godoc
// @Summary Export a stored proposal as CSV or PDF
// @Tags Reschedule
// @Produce text/csv
// @Produce application/pdf
// @Param token path string true "Proposal token"
// @Param format query string false "csv or pdf" default(csv)
// @Success 200 {file} file
// @Router /reschedule/proposals/{token}/export [get]
func (h *RescheduleHandler) Export(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	if h.exporter == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInternal, "export is not configured"))
		return
	}
	result, err := h.exporter.ExportProposal(c.Request.Context(), actor, c.Param("token"), c.DefaultQuery("format", "csv"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.File(c, result.Filename, result.ContentType, result.Body)
}

// Logs godoc
// @Summary List executed reschedules of a plan group
// @Tags Reschedule
// @Produce json
// @Param id path string true "Plan group ID"
// @Param limit query int false "Maximum entries" default(20)
// @Success 200 {object} response.Envelope
// @Router /plan-groups/{id}/reschedule/logs [get]
func (h *RescheduleHandler) Logs(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	limit := defaultLogLimit
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "limit must be a positive integer"))
			return
		}
		limit = parsed
	}
	if limit > maxLogLimit {
		limit = maxLogLimit
	}
	logs, err := h.engine.ListRescheduleLogs(c.Request.Context(), actor, c.Param("id"), limit)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, logs, map[string]interface{}{"limit": limit, "count": len(logs)})
}

// Rollback godoc
// @Summary Undo an executed reschedule inside its rollback window
// @Tags Reschedule
// @Produce json
// @Param logId path string true "Reschedule log ID"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Failure 412 {object} response.Envelope
// @Router /reschedule/logs/{logId}/rollback [post]
func (h *RescheduleHandler) Rollback(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	result, err := h.engine.RollbackReschedule(c.Request.Context(), actor, c.Param("logId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}
