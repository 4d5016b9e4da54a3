package models

// ConflictType classifies a scheduling conflict.
type ConflictType string

const (
	ConflictTypeTimeOverlap   ConflictType = "time_overlap"
	ConflictTypeDailyOverload ConflictType = "daily_overload"
)

// ConflictSeverity grades how disruptive a conflict is.
type ConflictSeverity string

const (
	ConflictSeverityLow    ConflictSeverity = "low"
	ConflictSeverityMedium ConflictSeverity = "medium"
	ConflictSeverityHigh   ConflictSeverity = "high"
)

// Conflict is an advisory finding over a set of plan occurrences. It is never persisted.
type Conflict struct {
	Type     ConflictType           `json:"type"`
	Date     Date                   `json:"date"`
	Severity ConflictSeverity       `json:"severity"`
	Message  string                 `json:"message"`
	Details  map[string]interface{} `json:"details,omitempty"`
}

// DailyAggregate summarises the load scheduled on a single day.
type DailyAggregate struct {
	TotalHours float64 `json:"total_hours"`
	PlanCount  int     `json:"plan_count"`
}
