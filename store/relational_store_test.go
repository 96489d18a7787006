package store

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"webability/analytics/models"
)

func newRelational(t *testing.T) (*RelationalStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	s := NewRelationalStore(sqlx.NewDb(db, "postgres"))
	s.now = func() time.Time { return time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC) }
	return s, mock
}

func TestRelationalStore_FindSiteByURL(t *testing.T) {
	s, mock := newRelational(t)
	owner := int64(3)

	mock.ExpectQuery(regexp.QuoteMeta(`FROM allowed_sites WHERE url = $1 AND user_id = $2`)).
		WithArgs("example.com", owner).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "organization_id", "url"}).
			AddRow(int64(7), owner, nil, "example.com"))

	site, err := s.FindSiteByURL(context.Background(), "example.com", &owner)
	require.NoError(t, err)
	require.NotNil(t, site)
	assert.Equal(t, int64(7), site.ID)
	assert.Nil(t, site.OrganizationID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRelationalStore_FindSiteByURL_Missing(t *testing.T) {
	s, mock := newRelational(t)
	mock.ExpectQuery(regexp.QuoteMeta(`FROM allowed_sites WHERE url = $1 ORDER BY id LIMIT 1`)).
		WithArgs("nope.com").
		WillReturnError(sql.ErrNoRows)

	site, err := s.FindSiteByURL(context.Background(), "nope.com", nil)
	require.NoError(t, err)
	assert.Nil(t, site)
}

func TestRelationalStore_InsertVisitor(t *testing.T) {
	s, mock := newRelational(t)
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO unique_visitors`)).
		WithArgs(int64(7), "1.2.3.4", "", "", "", "", s.now().UTC()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(11)))

	id, err := s.InsertVisitor(context.Background(), models.Visitor{SiteID: 7, IPAddress: "1.2.3.4"})
	require.NoError(t, err)
	assert.Equal(t, int64(11), id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRelationalStore_InsertImpression(t *testing.T) {
	s, mock := newRelational(t)
	mock.ExpectQuery(regexp.QuoteMeta(`VALUES ($1, $2, FALSE, FALSE, $3)`)).
		WithArgs(int64(7), int64(11), s.now().UTC()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(500)))

	id, err := s.InsertImpression(context.Background(), 7, 11)
	require.NoError(t, err)
	assert.Equal(t, int64(500), id)
}

func TestRelationalStore_SetInteraction(t *testing.T) {
	s, mock := newRelational(t)
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE impressions SET widget_opened = TRUE WHERE id = $1`)).
		WithArgs(int64(500)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	n, err := s.SetInteraction(context.Background(), 500, models.InteractionWidgetOpened)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRelationalStore_UpdateVisitorGeoByIP(t *testing.T) {
	s, mock := newRelational(t)
	country, zip := "FR", "69001"
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE unique_visitors SET country = $1, zipcode = $2 WHERE ip_address = $3`)).
		WithArgs("FR", "69001", "1.2.3.4").
		WillReturnResult(sqlmock.NewResult(0, 2))

	n, err := s.UpdateVisitorGeoByIP(context.Background(), "1.2.3.4", models.VisitorGeo{Country: &country, Zipcode: &zip})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestRelationalStore_UpdateVisitorGeoByIP_NothingSet(t *testing.T) {
	s, mock := newRelational(t)
	n, err := s.UpdateVisitorGeoByIP(context.Background(), "1.2.3.4", models.VisitorGeo{})
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRelationalStore_AddProfileCounts(t *testing.T) {
	s, mock := newRelational(t)
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT profile_counts FROM impressions WHERE id = $1 FOR UPDATE`)).
		WithArgs(int64(500)).
		WillReturnRows(sqlmock.NewRows([]string{"profile_counts"}).AddRow([]byte(`{"blind":1}`)))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE impressions SET profile_counts = $1 WHERE id = $2`)).
		WithArgs(`{"adhd":1,"blind":3}`, int64(500)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	merged, err := s.AddProfileCounts(context.Background(), 500, map[string]int{"blind": 2, "adhd": 1})
	require.NoError(t, err)
	assert.Equal(t, models.ProfileCounts{"blind": 3, "adhd": 1}, merged)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRelationalStore_AddProfileCounts_Missing(t *testing.T) {
	s, mock := newRelational(t)
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT profile_counts FROM impressions`)).
		WithArgs(int64(9)).
		WillReturnRows(sqlmock.NewRows([]string{"profile_counts"}))
	mock.ExpectRollback()

	_, err := s.AddProfileCounts(context.Background(), 9, map[string]int{"blind": 1})
	assert.ErrorIs(t, err, ErrNoRowsUpdated)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRelationalStore_EngagementByDay(t *testing.T) {
	s, mock := newRelational(t)
	r := models.DateRange{Start: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), End: time.Date(2024, 3, 2, 23, 59, 59, 0, time.UTC)}
	mock.ExpectQuery(regexp.QuoteMeta(`COUNT(*) FILTER (WHERE widget_opened OR widget_closed)`)).
		WithArgs(int64(7), r.Start, r.End).
		WillReturnRows(sqlmock.NewRows([]string{"date", "total_impressions", "engaged_impressions"}).
			AddRow("2024-03-01", int64(3), int64(3)).
			AddRow("2024-03-02", int64(1), int64(0)))

	days, err := s.EngagementByDay(context.Background(), 7, r)
	require.NoError(t, err)
	assert.Equal(t, []models.DailyEngagement{
		{Date: "2024-03-01", Total: 3, Engaged: 3},
		{Date: "2024-03-02", Total: 1, Engaged: 0},
	}, days)
}

func TestRelationalStore_FindImpressions(t *testing.T) {
	s, mock := newRelational(t)
	created := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	r := models.DateRange{Start: created.Add(-time.Hour), End: created}
	mock.ExpectQuery(regexp.QuoteMeta(`FROM impressions`)).
		WithArgs(int64(7), r.Start, r.End).
		WillReturnRows(sqlmock.NewRows([]string{"id", "site_id", "visitor_id", "widget_opened", "widget_closed", "created_at", "profile_counts"}).
			AddRow(int64(1), int64(7), int64(11), false, true, created, nil))

	rows, err := s.FindImpressions(context.Background(), 7, r)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.True(t, rows[0].WidgetClosed)
	assert.Equal(t, models.SourceRelational, rows[0].Source)
}

func TestRelationalStore_DeleteVisitorByID(t *testing.T) {
	s, mock := newRelational(t)
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM unique_visitors WHERE id = $1`)).
		WithArgs(int64(11)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	n, err := s.DeleteVisitorByID(context.Background(), 11)
	require.NoError(t, err)
	assert.Zero(t, n)
}
