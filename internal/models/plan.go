package models

import (
	"fmt"
	"strings"
	"time"
)

// ContentType enumerates the kinds of learning content a plan can reference.
type ContentType string

const (
	ContentTypeBook    ContentType = "book"
	ContentTypeLecture ContentType = "lecture"
	ContentTypeCustom  ContentType = "custom"
)

// ParseContentType validates a raw content type.
func ParseContentType(raw string) (ContentType, error) {
	ct := ContentType(strings.ToLower(strings.TrimSpace(raw)))
	if !ct.Valid() {
		return "", fmt.Errorf("unknown content type %q", raw)
	}
	return ct, nil
}

// Valid reports whether the content type is one of the known kinds.
func (t ContentType) Valid() bool {
	switch t {
	case ContentTypeBook, ContentTypeLecture, ContentTypeCustom:
		return true
	}
	return false
}

// Unit is the measure a range of this content type counts.
func (t ContentType) Unit() string {
	switch t {
	case ContentTypeBook:
		return "page"
	case ContentTypeLecture:
		return "episode"
	default:
		return "unit"
	}
}

// ContentRange is an inclusive [Start, End] span of a content item.
type ContentRange struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Span returns the number of units covered by the range.
func (r ContentRange) Span() int {
	if r.End < r.Start {
		return 0
	}
	return r.End - r.Start + 1
}

// Valid reports whether the range is non-negative and ordered.
func (r ContentRange) Valid() bool {
	return r.Start >= 0 && r.Start <= r.End
}

func (r ContentRange) String() string {
	return fmt.Sprintf("%d-%d", r.Start, r.End)
}

// ContentSnapshot pins a content item and range at a point in time.
type ContentSnapshot struct {
	ContentID   string       `json:"content_id"`
	ContentType ContentType  `json:"content_type"`
	Range       ContentRange `json:"range"`
}

// ChangeType describes how an adjustment alters a content assignment.
type ChangeType string

const (
	ChangeTypeRange   ChangeType = "range"
	ChangeTypeReplace ChangeType = "replace"
	ChangeTypeFull    ChangeType = "full"
)

// Valid reports whether the change type is known.
func (c ChangeType) Valid() bool {
	return c == ChangeTypeRange || c == ChangeTypeReplace || c == ChangeTypeFull
}

// AdjustmentInput is one proposed change to a single plan content.
type AdjustmentInput struct {
	PlanContentID string          `json:"plan_content_id"`
	ChangeType    ChangeType      `json:"change_type"`
	Before        ContentSnapshot `json:"before"`
	After         ContentSnapshot `json:"after"`
}

// PlanContent is a content assignment inside a plan group.
type PlanContent struct {
	ID           string      `db:"id" json:"id"`
	PlanGroupID  string      `db:"plan_group_id" json:"plan_group_id"`
	ContentID    string      `db:"content_id" json:"content_id"`
	ContentType  ContentType `db:"content_type" json:"content_type"`
	StartRange   int         `db:"start_range" json:"start_range"`
	EndRange     int         `db:"end_range" json:"end_range"`
	DisplayOrder int         `db:"display_order" json:"display_order"`
}

// Range returns the content's current range.
func (c PlanContent) Range() ContentRange {
	return ContentRange{Start: c.StartRange, End: c.EndRange}
}

// Snapshot captures the content's current state.
func (c PlanContent) Snapshot() ContentSnapshot {
	return ContentSnapshot{ContentID: c.ContentID, ContentType: c.ContentType, Range: c.Range()}
}

// PlanGroupStatus represents the lifecycle of a plan group.
type PlanGroupStatus string

const (
	PlanGroupStatusDraft     PlanGroupStatus = "draft"
	PlanGroupStatusActive    PlanGroupStatus = "active"
	PlanGroupStatusPaused    PlanGroupStatus = "paused"
	PlanGroupStatusCompleted PlanGroupStatus = "completed"
)

// PlanGroup is a student's set of scheduled content over a bounded period.
type PlanGroup struct {
	ID          string          `db:"id" json:"id"`
	StudentID   string          `db:"student_id" json:"student_id"`
	Name        string          `db:"name" json:"name"`
	PeriodStart Date            `db:"period_start" json:"period_start"`
	PeriodEnd   Date            `db:"period_end" json:"period_end"`
	Status      PlanGroupStatus `db:"status" json:"status"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time       `db:"updated_at" json:"updated_at"`
}

// PlanExclusion marks a day on which nothing may be scheduled.
type PlanExclusion struct {
	PlanGroupID   string  `db:"plan_group_id" json:"plan_group_id"`
	ExclusionDate Date    `db:"exclusion_date" json:"exclusion_date"`
	ExclusionType string  `db:"exclusion_type" json:"exclusion_type"`
	Reason        *string `db:"reason" json:"reason,omitempty"`
}

// StudyBlock is a recurring weekly time slot available for study.
type StudyBlock struct {
	PlanGroupID string `db:"plan_group_id" json:"plan_group_id"`
	DayOfWeek   int    `db:"day_of_week" json:"day_of_week"`
	BlockIndex  int    `db:"block_index" json:"block_index"`
	StartTime   string `db:"start_time" json:"start_time"`
	EndTime     string `db:"end_time" json:"end_time"`
}

// PlanStatus tracks a plan occurrence's progress.
type PlanStatus string

const (
	PlanStatusPending    PlanStatus = "pending"
	PlanStatusInProgress PlanStatus = "in_progress"
	PlanStatusCompleted  PlanStatus = "completed"
	PlanStatusSkipped    PlanStatus = "skipped"
)

// PlanOccurrence is one dated instance of a content assignment (student_plan row).
type PlanOccurrence struct {
	ID           string      `db:"id" json:"id,omitempty"`
	PlanGroupID  string      `db:"plan_group_id" json:"plan_group_id"`
	StudentID    string      `db:"student_id" json:"student_id"`
	PlanDate     Date        `db:"plan_date" json:"plan_date"`
	BlockIndex   int         `db:"block_index" json:"block_index"`
	ContentID    string      `db:"content_id" json:"content_id"`
	ContentType  ContentType `db:"content_type" json:"content_type"`
	StartTime    *string     `db:"start_time" json:"start_time"`
	EndTime      *string     `db:"end_time" json:"end_time"`
	PlannedStart int         `db:"planned_start_page_or_time" json:"planned_start_page_or_time"`
	PlannedEnd   int         `db:"planned_end_page_or_time" json:"planned_end_page_or_time"`
	Status       PlanStatus  `db:"status" json:"status"`
	IsActive     bool        `db:"is_active" json:"is_active"`
	CreatedAt    time.Time   `db:"created_at" json:"-"`
}

// Completed reports whether the occurrence has been completed.
func (p PlanOccurrence) Completed() bool {
	return p.Status == PlanStatusCompleted
}

// Reschedulable reports whether the occurrence may be superseded.
func (p PlanOccurrence) Reschedulable() bool {
	return p.IsActive && (p.Status == PlanStatusPending || p.Status == PlanStatusInProgress || p.Status == "")
}

// SlotKey identifies the (date, content) slot the occurrence holds.
func (p PlanOccurrence) SlotKey() string {
	return p.PlanDate.String() + "|" + p.ContentID
}

// NormalizeClock trims a postgres TIME rendering (HH:MM:SS) to HH:MM.
func NormalizeClock(raw *string) *string {
	if raw == nil {
		return nil
	}
	v := strings.TrimSpace(*raw)
	if v == "" {
		return nil
	}
	if len(v) > 5 {
		v = v[:5]
	}
	return &v
}
