package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/noah-isme/studyplan-api/internal/models"
	"github.com/noah-isme/studyplan-api/pkg/clock"
	appErrors "github.com/noah-isme/studyplan-api/pkg/errors"
	"github.com/noah-isme/studyplan-api/pkg/export"
)

type proposalReader interface {
	GetProposal(ctx context.Context, actor models.Actor, token string) (*models.RescheduleProposal, error)
}

// ExportResult is a rendered preview ready to be downloaded.
type ExportResult struct {
	Filename    string
	ContentType string
	Body        []byte
}

// ExportService renders pending reschedule proposals as CSV or PDF.
type ExportService struct {
	proposals proposalReader
	clock     clock.Clock
	logger    *zap.Logger
}

// NewExportService constructs an ExportService.
func NewExportService(proposals proposalReader, clk clock.Clock, logger *zap.Logger) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clk == nil {
		clk = clock.NewReal("")
	}
	return &ExportService{proposals: proposals, clock: clk, logger: logger}
}

// ExportProposal renders the before/after diff of a proposal.
func (s *ExportService) ExportProposal(ctx context.Context, actor models.Actor, token, rawFormat string) (*ExportResult, error) {
	format, err := export.ParseFormat(rawFormat)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, err.Error())
	}
	proposal, err := s.proposals.GetProposal(ctx, actor, token)
	if err != nil {
		return nil, err
	}
	preview := proposal.Preview
	if preview == nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "reschedule proposal has no preview")
	}

	title := fmt.Sprintf("Reschedule preview %s (%d conflicts)", preview.PlanGroupID, len(preview.Conflicts))
	body, err := export.RendererFor(format).Render(BuildPreviewDataset(preview), title)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render export")
	}
	return &ExportResult{
		Filename:    s.buildFilename(preview.PlanGroupID, format),
		ContentType: format.ContentType(),
		Body:        body,
	}, nil
}

// BuildPreviewDataset lays out a preview as a before section and an after section.
func BuildPreviewDataset(preview *models.ReschedulePreviewResult) export.Dataset {
	return export.Dataset{
		Headers: []string{"date", "block", "content_id", "content_type", "start_time", "end_time", "range_start", "range_end", "status"},
		Sections: []export.Section{
			{Title: "before", Rows: occurrenceRows(preview.PlansBefore)},
			{Title: "after", Rows: occurrenceRows(preview.PlansAfter)},
		},
	}
}

func occurrenceRows(plans []models.PlanOccurrence) [][]string {
	rows := make([][]string, 0, len(plans))
	for _, plan := range plans {
		rows = append(rows, []string{
			plan.PlanDate.String(),
			strconv.Itoa(plan.BlockIndex),
			plan.ContentID,
			string(plan.ContentType),
			deref(plan.StartTime),
			deref(plan.EndTime),
			strconv.Itoa(plan.PlannedStart),
			strconv.Itoa(plan.PlannedEnd),
			string(plan.Status),
		})
	}
	return rows
}

func (s *ExportService) buildFilename(groupID string, format export.Format) string {
	timestamp := s.clock.Now().UTC().Format("20060102_150405")
	return fmt.Sprintf("reschedule_%s_%s.%s", sanitizeFilename(groupID), timestamp, format)
}

func sanitizeFilename(raw string) string {
	if raw == "" {
		return "na"
	}
	replacer := strings.NewReplacer(" ", "_", "/", "-", "\\", "-", ":", "-", "..", ".", "__", "_")
	result := replacer.Replace(raw)
	if len(result) > 100 {
		return result[:100]
	}
	return result
}

func deref(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
