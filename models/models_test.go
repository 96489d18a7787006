package models

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEngagementRate(t *testing.T) {
	r := NewEngagementRate(DailyEngagement{Date: "2024-03-01", Total: 4, Engaged: 1}, SourceColumnar)
	assert.InDelta(t, 25.0, r.EngagementRate, 1e-9)
	assert.False(t, r.NoData)
	assert.Equal(t, SourceColumnar, r.Source)
}

func TestNewEngagementRate_NoImpressions(t *testing.T) {
	r := NewEngagementRate(DailyEngagement{Date: "2024-03-01"}, SourceRelational)
	assert.True(t, r.NoData)
	assert.Zero(t, r.EngagementRate)
	assert.False(t, math.IsNaN(r.EngagementRate))
}

func TestProfileCounts_Merge(t *testing.T) {
	base := ProfileCounts{"blind": 1}
	merged := base.Merge(map[string]int{"blind": 2, "adhd": 1})
	assert.Equal(t, ProfileCounts{"blind": 3, "adhd": 1}, merged)
	assert.Equal(t, ProfileCounts{"blind": 1}, base)

	var empty ProfileCounts
	assert.Equal(t, ProfileCounts{"x": 1}, empty.Merge(map[string]int{"x": 1}))
}

func TestProfileCounts_ValueAndScan(t *testing.T) {
	v, err := ProfileCounts{}.Value()
	require.NoError(t, err)
	assert.Nil(t, v)

	var p ProfileCounts
	require.NoError(t, p.Scan([]byte(`{"blind":2}`)))
	assert.Equal(t, ProfileCounts{"blind": 2}, p)
	require.NoError(t, p.Scan(nil))
	assert.Nil(t, p)
	assert.Error(t, p.Scan(12))
}

func TestParseInteraction(t *testing.T) {
	i, err := ParseInteraction("widgetClosed")
	require.NoError(t, err)
	assert.Equal(t, "widget_closed", i.Column())

	_, err = ParseInteraction("bogus")
	var vErr *ValidationError
	require.True(t, errors.As(err, &vErr))
	assert.Equal(t, "interaction", vErr.Field)
}

func TestVisitorGeo_Fields(t *testing.T) {
	city, continent := "Lyon", "EU"
	cols, vals := VisitorGeo{City: &city, Continent: &continent}.Fields()
	assert.Equal(t, []string{"city", "continent"}, cols)
	assert.Equal(t, []any{"Lyon", "EU"}, vals)
}
