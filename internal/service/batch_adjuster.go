package service

import (
	"fmt"
	"math"

	"github.com/noah-isme/studyplan-api/internal/models"
	appErrors "github.com/noah-isme/studyplan-api/pkg/errors"
)

// batchSampleSize caps how many adjustments a batch preview echoes back.
const batchSampleSize = 5

// maxBatchEnd bounds a transformed range end. It sits well inside int and is
// exactly representable as float64.
const maxBatchEnd = float64(math.MaxInt32)

// PreviewBatchAdjustment reports what ApplyBatchAdjustment would produce without
// producing it. Both share batchTransform so the numbers always agree.
func PreviewBatchAdjustment(contents []models.PlanContent, cfg models.BatchConfig) (models.BatchPreview, error) {
	adjustments, err := ApplyBatchAdjustment(contents, cfg)
	if err != nil {
		return models.BatchPreview{}, err
	}

	preview := models.BatchPreview{
		AffectedCount: len(adjustments),
		SkippedCount:  len(contents) - len(adjustments),
	}
	for _, adj := range adjustments {
		preview.TotalRangeBefore += adj.Before.Range.Span()
		preview.TotalRangeAfter += adj.After.Range.Span()
	}
	preview.RangeChange = preview.TotalRangeAfter - preview.TotalRangeBefore

	n := len(adjustments)
	if n > batchSampleSize {
		n = batchSampleSize
	}
	preview.SampleAdjustments = append([]models.AdjustmentInput{}, adjustments[:n]...)
	return preview, nil
}

// ApplyBatchAdjustment turns a uniform batch change into one range adjustment per
// content. Contents whose result would be empty are left out. A malformed config
// fails the whole batch.
func ApplyBatchAdjustment(contents []models.PlanContent, cfg models.BatchConfig) ([]models.AdjustmentInput, error) {
	if err := validateBatchConfig(cfg); err != nil {
		return nil, err
	}
	out := make([]models.AdjustmentInput, 0, len(contents))
	for _, content := range contents {
		r := content.Range()
		if r.Start < 0 || r.Start > r.End {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("content %s has invalid range %d-%d", content.ID, r.Start, r.End))
		}
		after, ok, err := batchTransform(r, cfg)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		before := content.Snapshot()
		out = append(out, models.AdjustmentInput{
			PlanContentID: content.ID,
			ChangeType:    models.ChangeTypeRange,
			Before:        before,
			After: models.ContentSnapshot{
				ContentID:   before.ContentID,
				ContentType: before.ContentType,
				Range:       after,
			},
		})
	}
	return out, nil
}

func validateBatchConfig(cfg models.BatchConfig) error {
	switch cfg.Type {
	case models.BatchTypeRatio:
		if math.IsNaN(cfg.Ratio) || math.IsInf(cfg.Ratio, 0) || cfg.Ratio <= 0 {
			return appErrors.Clone(appErrors.ErrInvalidConfiguration, fmt.Sprintf("ratio must be a positive number, got %v", cfg.Ratio))
		}
	case models.BatchTypeAbsolute:
		if math.IsNaN(cfg.AbsoluteChange) || math.IsInf(cfg.AbsoluteChange, 0) || cfg.AbsoluteChange != math.Trunc(cfg.AbsoluteChange) {
			return appErrors.Clone(appErrors.ErrInvalidConfiguration, fmt.Sprintf("absolute change must be an integer, got %v", cfg.AbsoluteChange))
		}
	default:
		return appErrors.Clone(appErrors.ErrInvalidConfiguration, fmt.Sprintf("unknown batch type %q", cfg.Type))
	}
	return nil
}

// batchTransform is the single range transform behind preview and apply. ok is
// false when the content must be skipped. The new end is computed in float64 so
// configs that would overflow int fail instead of wrapping.
func batchTransform(r models.ContentRange, cfg models.BatchConfig) (models.ContentRange, bool, error) {
	var end float64
	switch cfg.Type {
	case models.BatchTypeRatio:
		end = float64(r.Start) + math.Round(float64(r.Span())*cfg.Ratio) - 1
	case models.BatchTypeAbsolute:
		end = float64(r.End) + cfg.AbsoluteChange
	default:
		return models.ContentRange{}, false, nil
	}
	if end > maxBatchEnd {
		return models.ContentRange{}, false, appErrors.Clone(appErrors.ErrInvalidConfiguration, fmt.Sprintf("batch change pushes range %d-%d past the supported maximum", r.Start, r.End))
	}
	if end < float64(r.Start) {
		if cfg.Type == models.BatchTypeAbsolute {
			return models.ContentRange{}, false, nil
		}
		end = float64(r.Start)
	}
	return models.ContentRange{Start: r.Start, End: int(end)}, true, nil
}
