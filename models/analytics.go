package models

import (
	"fmt"
	"time"
)

// DateLayout is the calendar-day key format shared by both stores (UTC).
const DateLayout = "2006-01-02"

// DateRange is an inclusive time window.
type DateRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Validate rejects zero bounds and inverted ranges.
func (r DateRange) Validate() error {
	if r.Start.IsZero() || r.End.IsZero() {
		return &ValidationError{Field: "dateRange", Message: "start and end are required"}
	}
	if r.End.Before(r.Start) {
		return &ValidationError{Field: "dateRange", Message: "end must not be before start"}
	}
	return nil
}

// DailyEngagement is the raw per-day count pair produced by a store.
type DailyEngagement struct {
	Date    string `db:"date"`
	Total   int64  `db:"total_impressions"`
	Engaged int64  `db:"engaged_impressions"`
}

// EngagementRate is one day of engagement as returned to callers.
type EngagementRate struct {
	Date             string      `json:"date"`
	EngagementRate   float64     `json:"engagementRate"`
	TotalEngagements int64       `json:"totalEngagements"`
	TotalImpressions int64       `json:"totalImpressions"`
	NoData           bool        `json:"noData,omitempty"`
	Source           StoreSource `json:"source"`
}

// NewEngagementRate computes engaged/total*100. A day without impressions
// reports 0 and is flagged NoData rather than producing NaN.
func NewEngagementRate(d DailyEngagement, source StoreSource) EngagementRate {
	rate := EngagementRate{
		Date:             d.Date,
		TotalEngagements: d.Engaged,
		TotalImpressions: d.Total,
		Source:           source,
	}
	if d.Total <= 0 {
		rate.NoData = true
		return rate
	}
	rate.EngagementRate = float64(d.Engaged) / float64(d.Total) * 100
	return rate
}

// ValidationError is returned before any store access when input is malformed.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Message)
}
