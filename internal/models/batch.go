package models

// BatchType selects how a batch adjustment transforms each range.
type BatchType string

const (
	BatchTypeRatio    BatchType = "ratio"
	BatchTypeAbsolute BatchType = "absolute"
)

// BatchConfig is a uniform adjustment applied to several contents at once.
// AbsoluteChange is carried as a float so malformed input can be rejected
// rather than truncated.
type BatchConfig struct {
	Type           BatchType `json:"type"`
	Ratio          float64   `json:"ratio,omitempty"`
	AbsoluteChange float64   `json:"absolute_change,omitempty"`
}

// BatchPreview is the dry-run outcome of a batch adjustment. Totals are measured
// over the contents that would actually be adjusted.
type BatchPreview struct {
	AffectedCount     int               `json:"affected_count"`
	SkippedCount      int               `json:"skipped_count"`
	TotalRangeBefore  int               `json:"total_range_before"`
	TotalRangeAfter   int               `json:"total_range_after"`
	RangeChange       int               `json:"range_change"`
	SampleAdjustments []AdjustmentInput `json:"sample_adjustments"`
}
