package models

import "time"

// Visitor is one de-duplicated visitor identity per site.
type Visitor struct {
	ID         int64       `json:"id" db:"id"`
	SiteID     int64       `json:"siteId" db:"site_id"`
	IPAddress  string      `json:"ipAddress" db:"ip_address"`
	City       string      `json:"city" db:"city"`
	Country    string      `json:"country" db:"country"`
	Zipcode    string      `json:"zipcode" db:"zipcode"`
	Continent  string      `json:"continent" db:"continent"`
	FirstVisit time.Time   `json:"firstVisit" db:"first_visit"`
	Source     StoreSource `json:"source" db:"-"`
}

// VisitorGeo is a partial geo back-fill; nil fields are left untouched.
type VisitorGeo struct {
	City      *string `json:"city,omitempty"`
	Country   *string `json:"country,omitempty"`
	Zipcode   *string `json:"zipcode,omitempty"`
	Continent *string `json:"continent,omitempty"`
}

// Fields returns the column/value pairs that are set, in a stable order.
func (g VisitorGeo) Fields() ([]string, []any) {
	var cols []string
	var vals []any
	add := func(col string, v *string) {
		if v != nil {
			cols = append(cols, col)
			vals = append(vals, *v)
		}
	}
	add("city", g.City)
	add("country", g.Country)
	add("zipcode", g.Zipcode)
	add("continent", g.Continent)
	return cols, vals
}

// Site is a monitored domain. Sites are owned elsewhere and read-only here.
type Site struct {
	ID             int64  `json:"id" db:"id"`
	OwnerID        int64  `json:"ownerId" db:"user_id"`
	OrganizationID *int64 `json:"organizationId,omitempty" db:"organization_id"`
	URL            string `json:"url" db:"url"`
}
