package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"webability/analytics/models"
)

// RelationalStore is the PostgreSQL system of record for sites, visitors and impressions.
type RelationalStore struct {
	db  *sqlx.DB
	now func() time.Time
}

// NewRelationalStore creates a new RelationalStore instance.
func NewRelationalStore(db *sqlx.DB) *RelationalStore {
	return &RelationalStore{db: db, now: time.Now}
}

const visitorColumns = `id, site_id, ip_address, city, country, zipcode, continent, first_visit`

const impressionColumns = `id, site_id, visitor_id, widget_opened, widget_closed, created_at, profile_counts`

// FindSiteByURL returns the site registered under the normalized url, optionally
// restricted to one owner. A missing site is (nil, nil).
func (s *RelationalStore) FindSiteByURL(ctx context.Context, url string, ownerID *int64) (*models.Site, error) {
	query := `SELECT id, user_id, organization_id, url FROM allowed_sites WHERE url = $1`
	args := []any{url}
	if ownerID != nil {
		query += ` AND user_id = $2`
		args = append(args, *ownerID)
	}
	query += ` ORDER BY id LIMIT 1`

	var site models.Site
	if err := s.db.GetContext(ctx, &site, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find site by url: %w", err)
	}
	return &site, nil
}

// InsertVisitor inserts unconditionally and returns the new id.
func (s *RelationalStore) InsertVisitor(ctx context.Context, v models.Visitor) (int64, error) {
	if v.FirstVisit.IsZero() {
		v.FirstVisit = s.now().UTC()
	}
	query := `
		INSERT INTO unique_visitors (site_id, ip_address, city, country, zipcode, continent, first_visit)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`

	var id int64
	err := s.db.QueryRowxContext(ctx, query,
		v.SiteID, v.IPAddress, v.City, v.Country, v.Zipcode, v.Continent, v.FirstVisit,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to insert visitor: %w", err)
	}
	return id, nil
}

func (s *RelationalStore) FindVisitorBySiteAndIP(ctx context.Context, siteID int64, ip string) (*models.Visitor, error) {
	query := `SELECT ` + visitorColumns + ` FROM unique_visitors WHERE site_id = $1 AND ip_address = $2 ORDER BY id LIMIT 1`
	return s.getVisitor(ctx, query, siteID, ip)
}

func (s *RelationalStore) FindVisitorByIP(ctx context.Context, ip string) (*models.Visitor, error) {
	query := `SELECT ` + visitorColumns + ` FROM unique_visitors WHERE ip_address = $1 ORDER BY id LIMIT 1`
	return s.getVisitor(ctx, query, ip)
}

func (s *RelationalStore) getVisitor(ctx context.Context, query string, args ...any) (*models.Visitor, error) {
	var v models.Visitor
	if err := s.db.GetContext(ctx, &v, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find visitor: %w", err)
	}
	v.Source = models.SourceRelational
	return &v, nil
}

// FindVisitorsBySite lists a site's visitors, optionally by first-visit window.
func (s *RelationalStore) FindVisitorsBySite(ctx context.Context, siteID int64, r *models.DateRange) ([]models.Visitor, error) {
	query := `SELECT ` + visitorColumns + ` FROM unique_visitors WHERE site_id = $1`
	args := []any{siteID}
	if r != nil {
		query += ` AND first_visit >= $2 AND first_visit <= $3`
		args = append(args, r.Start, r.End)
	}
	query += ` ORDER BY first_visit DESC`

	var visitors []models.Visitor
	if err := s.db.SelectContext(ctx, &visitors, query, args...); err != nil {
		return nil, fmt.Errorf("failed to query visitors by site: %w", err)
	}
	for i := range visitors {
		visitors[i].Source = models.SourceRelational
	}
	return visitors, nil
}

// UpdateVisitorGeoByIP back-fills the geo fields that are set in geo.
func (s *RelationalStore) UpdateVisitorGeoByIP(ctx context.Context, ip string, geo models.VisitorGeo) (int64, error) {
	cols, vals := geo.Fields()
	if len(cols) == 0 {
		return 0, nil
	}
	sets := make([]string, len(cols))
	for i, col := range cols {
		sets[i] = fmt.Sprintf("%s = $%d", col, i+1)
	}
	query := fmt.Sprintf(`UPDATE unique_visitors SET %s WHERE ip_address = $%d`, strings.Join(sets, ", "), len(cols)+1)

	return s.exec(ctx, "update visitor geo", query, append(vals, ip)...)
}

func (s *RelationalStore) DeleteVisitorByID(ctx context.Context, id int64) (int64, error) {
	return s.exec(ctx, "delete visitor by id", `DELETE FROM unique_visitors WHERE id = $1`, id)
}

func (s *RelationalStore) DeleteVisitorByIP(ctx context.Context, ip string) (int64, error) {
	return s.exec(ctx, "delete visitor by ip", `DELETE FROM unique_visitors WHERE ip_address = $1`, ip)
}

// InsertImpression records a fresh exposure with both interaction flags unset.
func (s *RelationalStore) InsertImpression(ctx context.Context, siteID, visitorID int64) (int64, error) {
	query := `
		INSERT INTO impressions (site_id, visitor_id, widget_opened, widget_closed, created_at)
		VALUES ($1, $2, FALSE, FALSE, $3)
		RETURNING id`

	var id int64
	if err := s.db.QueryRowxContext(ctx, query, siteID, visitorID, s.now().UTC()).Scan(&id); err != nil {
		return 0, fmt.Errorf("failed to insert impression: %w", err)
	}
	return id, nil
}

func (s *RelationalStore) FindImpressions(ctx context.Context, siteID int64, r models.DateRange) ([]models.Impression, error) {
	query := `
		SELECT ` + impressionColumns + `
		FROM impressions
		WHERE site_id = $1 AND created_at >= $2 AND created_at <= $3
		ORDER BY created_at DESC`

	var impressions []models.Impression
	if err := s.db.SelectContext(ctx, &impressions, query, siteID, r.Start, r.End); err != nil {
		return nil, fmt.Errorf("failed to query impressions: %w", err)
	}
	for i := range impressions {
		impressions[i].Source = models.SourceRelational
	}
	return impressions, nil
}

// SetInteraction sets one interaction flag; the other flag is left as is.
func (s *RelationalStore) SetInteraction(ctx context.Context, id int64, kind models.Interaction) (int64, error) {
	query := fmt.Sprintf(`UPDATE impressions SET %s = TRUE WHERE id = $1`, kind.Column())
	return s.exec(ctx, "set interaction", query, id)
}

// AddProfileCounts merges delta into the stored counts under a row lock.
func (s *RelationalStore) AddProfileCounts(ctx context.Context, id int64, delta map[string]int) (models.ProfileCounts, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	var current models.ProfileCounts
	err = tx.QueryRowxContext(ctx, `SELECT profile_counts FROM impressions WHERE id = $1 FOR UPDATE`, id).Scan(&current)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNoRowsUpdated
		}
		return nil, fmt.Errorf("failed to read profile counts: %w", err)
	}

	merged := current.Merge(delta)
	if _, err := tx.ExecContext(ctx, `UPDATE impressions SET profile_counts = $1 WHERE id = $2`, merged, id); err != nil {
		return nil, fmt.Errorf("failed to update profile counts: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit profile counts: %w", err)
	}
	return merged, nil
}

// EngagementByDay buckets a site's impressions per UTC calendar day.
func (s *RelationalStore) EngagementByDay(ctx context.Context, siteID int64, r models.DateRange) ([]models.DailyEngagement, error) {
	query := `
		SELECT
			to_char((created_at AT TIME ZONE 'UTC')::date, 'YYYY-MM-DD') AS date,
			COUNT(*) AS total_impressions,
			COUNT(*) FILTER (WHERE widget_opened OR widget_closed) AS engaged_impressions
		FROM impressions
		WHERE site_id = $1 AND created_at >= $2 AND created_at <= $3
		GROUP BY 1
		ORDER BY 1 ASC`

	var days []models.DailyEngagement
	if err := s.db.SelectContext(ctx, &days, query, siteID, r.Start, r.End); err != nil {
		return nil, fmt.Errorf("failed to query engagement by day: %w", err)
	}
	return days, nil
}

func (s *RelationalStore) exec(ctx context.Context, op, query string, args ...any) (int64, error) {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to %s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to %s: %w", op, err)
	}
	return n, nil
}
