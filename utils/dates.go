package utils

import (
	"fmt"
	"time"

	"webability/analytics/models"
)

const defaultLookback = 7 * 24 * time.Hour

// ParseDateParam accepts RFC3339 or a bare YYYY-MM-DD (interpreted as UTC).
// endOfDay widens a bare date to its last second so ranges stay inclusive.
func ParseDateParam(s string, endOfDay bool) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(models.DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: use RFC3339 or YYYY-MM-DD", s)
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Second)
	}
	return t, nil
}

// ParseDateRange builds a range from optional start/end params, defaulting
// to the last seven days ending now.
func ParseDateRange(start, end string, now time.Time) (models.DateRange, error) {
	r := models.DateRange{Start: now.UTC().Add(-defaultLookback), End: now.UTC()}
	var err error
	if start != "" {
		if r.Start, err = ParseDateParam(start, false); err != nil {
			return r, &models.ValidationError{Field: "start", Message: err.Error()}
		}
	}
	if end != "" {
		if r.End, err = ParseDateParam(end, true); err != nil {
			return r, &models.ValidationError{Field: "end", Message: err.Error()}
		}
	}
	return r, r.Validate()
}
