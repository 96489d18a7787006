// models/impression.go
package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// StoreSource tags a result row with the backing store it was read from.
type StoreSource string

const (
	SourceRelational StoreSource = "relational"
	SourceColumnar   StoreSource = "columnar"
)

// Impression is one recorded widget exposure.
// IDs are store-local and must not be compared across stores.
type Impression struct {
	ID            int64         `json:"id" db:"id"`
	SiteID        int64         `json:"siteId" db:"site_id"`
	VisitorID     int64         `json:"visitorId" db:"visitor_id"`
	WidgetOpened  bool          `json:"widgetOpened" db:"widget_opened"`
	WidgetClosed  bool          `json:"widgetClosed" db:"widget_closed"`
	CreatedAt     time.Time     `json:"createdAt" db:"created_at"`
	ProfileCounts ProfileCounts `json:"profileCounts" db:"profile_counts"`
	Source        StoreSource   `json:"source" db:"-"`
}

// Engaged reports whether the visitor opened or closed the widget.
func (i Impression) Engaged() bool {
	return i.WidgetOpened || i.WidgetClosed
}

// ProfileCounts accumulates usage per accessibility profile tag.
type ProfileCounts map[string]int

// Merge adds every increment in delta to the receiver and returns the result.
// A nil receiver yields a fresh map.
func (p ProfileCounts) Merge(delta map[string]int) ProfileCounts {
	out := make(ProfileCounts, len(p)+len(delta))
	for k, v := range p {
		out[k] = v
	}
	for k, v := range delta {
		out[k] += v
	}
	return out
}

// Value stores the counts as JSON text; an empty map is stored as NULL.
func (p ProfileCounts) Value() (driver.Value, error) {
	if len(p) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(map[string]int(p))
	if err != nil {
		return nil, fmt.Errorf("marshal profile counts: %w", err)
	}
	return string(b), nil
}

// Scan accepts NULL, JSON text or JSON bytes.
func (p *ProfileCounts) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*p = nil
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("unsupported profile counts type %T", src)
	}
	if len(raw) == 0 || string(raw) == "null" {
		*p = nil
		return nil
	}
	counts := map[string]int{}
	if err := json.Unmarshal(raw, &counts); err != nil {
		return fmt.Errorf("unmarshal profile counts: %w", err)
	}
	*p = counts
	return nil
}

// Interaction is the closed set of widget interactions an impression records.
type Interaction string

const (
	InteractionWidgetOpened Interaction = "widgetOpened"
	InteractionWidgetClosed Interaction = "widgetClosed"
)

// Column returns the boolean column the interaction sets.
func (i Interaction) Column() string {
	if i == InteractionWidgetClosed {
		return "widget_closed"
	}
	return "widget_opened"
}

// ParseInteraction rejects anything outside the closed enum.
func ParseInteraction(s string) (Interaction, error) {
	switch Interaction(s) {
	case InteractionWidgetOpened, InteractionWidgetClosed:
		return Interaction(s), nil
	default:
		return "", &ValidationError{Field: "interaction", Message: fmt.Sprintf("invalid interaction type %q: only %q or %q are accepted", s, InteractionWidgetOpened, InteractionWidgetClosed)}
	}
}
