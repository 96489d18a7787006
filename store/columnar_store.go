package store

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"

	"webability/analytics/database"
	"webability/analytics/models"
)

// ColumnarStore is the ClickHouse analytics copy of visitors and impressions.
// Rows are denormalized: no join against sites is needed.
type ColumnarStore struct {
	DB  *database.ClickHouseClient
	now func() time.Time

	// profileLocks serializes read-merge-write of profile counts per impression.
	profileLocks [32]sync.Mutex
}

func NewColumnarStore(chClient *database.ClickHouseClient) *ColumnarStore {
	return &ColumnarStore{
		DB:  chClient,
		now: time.Now,
	}
}

// syncMutation makes ALTER ... UPDATE/DELETE return only after the mutation
// is applied, so a following read sees it.
func syncMutation(ctx context.Context) context.Context {
	return clickhouse.Context(ctx, clickhouse.WithSettings(clickhouse.Settings{
		"mutations_sync": 1,
	}))
}

const chVisitorColumns = `id, site_id, ip_address, city, country, zipcode, continent, first_visit`

const chImpressionColumns = `id, site_id, visitor_id, widget_opened, widget_closed, created_at, profileCounts`

// InsertVisitor writes (site_id, ip) once. An existing pair returns its id
// together with ErrVisitorExists.
func (s *ColumnarStore) InsertVisitor(ctx context.Context, v models.Visitor) (int64, error) {
	existing, err := s.FindVisitorBySiteAndIP(ctx, v.SiteID, v.IPAddress)
	if err != nil {
		return 0, err
	}
	if existing != nil {
		return existing.ID, ErrVisitorExists
	}

	if v.FirstVisit.IsZero() {
		v.FirstVisit = s.now().UTC()
	}
	id := visitorID(v.SiteID, v.IPAddress)

	batch, err := s.DB.Conn.PrepareBatch(ctx, `INSERT INTO unique_visitors (`+chVisitorColumns+`)`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare visitor insert: %w", err)
	}
	if err := batch.Append(id, v.SiteID, v.IPAddress, v.City, v.Country, v.Zipcode, v.Continent, v.FirstVisit); err != nil {
		return 0, fmt.Errorf("failed to append visitor (site_id %d): %w", v.SiteID, err)
	}
	if err := batch.Send(); err != nil {
		return 0, fmt.Errorf("failed to send visitor batch: %w", err)
	}
	return id, nil
}

func (s *ColumnarStore) FindVisitorBySiteAndIP(ctx context.Context, siteID int64, ip string) (*models.Visitor, error) {
	query := `SELECT ` + chVisitorColumns + ` FROM unique_visitors FINAL WHERE site_id = ? AND ip_address = ? LIMIT 1`
	return s.firstVisitor(ctx, query, siteID, ip)
}

func (s *ColumnarStore) FindVisitorByIP(ctx context.Context, ip string) (*models.Visitor, error) {
	query := `SELECT ` + chVisitorColumns + ` FROM unique_visitors FINAL WHERE ip_address = ? ORDER BY first_visit ASC LIMIT 1`
	return s.firstVisitor(ctx, query, ip)
}

func (s *ColumnarStore) firstVisitor(ctx context.Context, query string, args ...any) (*models.Visitor, error) {
	visitors, err := s.queryVisitors(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	if len(visitors) == 0 {
		return nil, nil
	}
	return &visitors[0], nil
}

func (s *ColumnarStore) FindVisitorsBySite(ctx context.Context, siteID int64, r *models.DateRange) ([]models.Visitor, error) {
	query := `SELECT ` + chVisitorColumns + ` FROM unique_visitors FINAL WHERE site_id = ?`
	args := []any{siteID}
	if r != nil {
		query += ` AND first_visit >= ? AND first_visit <= ?`
		args = append(args, r.Start.UTC(), r.End.UTC())
	}
	query += ` ORDER BY first_visit DESC`
	return s.queryVisitors(ctx, query, args...)
}

func (s *ColumnarStore) queryVisitors(ctx context.Context, query string, args ...any) ([]models.Visitor, error) {
	rows, err := s.DB.Conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query visitors: %w", err)
	}
	defer rows.Close()

	var visitors []models.Visitor
	for rows.Next() {
		v := models.Visitor{Source: models.SourceColumnar}
		if err := rows.Scan(&v.ID, &v.SiteID, &v.IPAddress, &v.City, &v.Country, &v.Zipcode, &v.Continent, &v.FirstVisit); err != nil {
			return nil, fmt.Errorf("failed to scan visitor: %w", err)
		}
		visitors = append(visitors, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row error during visitor query: %w", err)
	}
	return visitors, nil
}

// UpdateVisitorGeoByIP issues a mutation; ClickHouse reports no affected-row
// count, so the match is counted first.
func (s *ColumnarStore) UpdateVisitorGeoByIP(ctx context.Context, ip string, geo models.VisitorGeo) (int64, error) {
	cols, vals := geo.Fields()
	if len(cols) == 0 {
		return 0, nil
	}
	n, err := s.count(ctx, `SELECT count() FROM unique_visitors WHERE ip_address = ?`, ip)
	if err != nil {
		return 0, fmt.Errorf("failed to count visitors by ip: %w", err)
	}
	if n == 0 {
		return 0, nil
	}
	sets := make([]string, len(cols))
	for i, col := range cols {
		sets[i] = col + " = ?"
	}
	query := `ALTER TABLE unique_visitors UPDATE ` + strings.Join(sets, ", ") + ` WHERE ip_address = ?`
	if err := s.DB.Conn.Exec(syncMutation(ctx), query, append(vals, ip)...); err != nil {
		return 0, fmt.Errorf("failed to update visitor geo: %w", err)
	}
	return int64(n), nil
}

func (s *ColumnarStore) DeleteVisitorByID(ctx context.Context, id int64) (int64, error) {
	return s.mutate(ctx, "delete visitor by id",
		`SELECT count() FROM unique_visitors WHERE id = ?`,
		`ALTER TABLE unique_visitors DELETE WHERE id = ?`, id)
}

func (s *ColumnarStore) DeleteVisitorByIP(ctx context.Context, ip string) (int64, error) {
	return s.mutate(ctx, "delete visitor by ip",
		`SELECT count() FROM unique_visitors WHERE ip_address = ?`,
		`ALTER TABLE unique_visitors DELETE WHERE ip_address = ?`, ip)
}

func (s *ColumnarStore) InsertImpression(ctx context.Context, siteID, visitorID int64) (int64, error) {
	id := impressionID()

	batch, err := s.DB.Conn.PrepareBatch(ctx, `INSERT INTO impressions (`+chImpressionColumns+`)`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare impression insert: %w", err)
	}
	var noCounts *string
	if err := batch.Append(id, siteID, visitorID, uint8(0), uint8(0), s.now().UTC(), noCounts); err != nil {
		return 0, fmt.Errorf("failed to append impression (site_id %d): %w", siteID, err)
	}
	if err := batch.Send(); err != nil {
		return 0, fmt.Errorf("failed to send impression batch: %w", err)
	}
	return id, nil
}

func (s *ColumnarStore) FindImpressions(ctx context.Context, siteID int64, r models.DateRange) ([]models.Impression, error) {
	query := `
		SELECT ` + chImpressionColumns + `
		FROM impressions
		WHERE site_id = ? AND created_at >= ? AND created_at <= ?
		ORDER BY created_at DESC`

	rows, err := s.DB.Conn.Query(ctx, query, siteID, r.Start.UTC(), r.End.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to query impressions: %w", err)
	}
	defer rows.Close()

	var impressions []models.Impression
	for rows.Next() {
		var (
			imp            = models.Impression{Source: models.SourceColumnar}
			opened, closed uint8
			counts         *string
		)
		if err := rows.Scan(&imp.ID, &imp.SiteID, &imp.VisitorID, &opened, &closed, &imp.CreatedAt, &counts); err != nil {
			return nil, fmt.Errorf("failed to scan impression: %w", err)
		}
		imp.WidgetOpened = opened == 1
		imp.WidgetClosed = closed == 1
		if counts != nil {
			if err := imp.ProfileCounts.Scan(*counts); err != nil {
				return nil, fmt.Errorf("impression %d: %w", imp.ID, err)
			}
		}
		impressions = append(impressions, imp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row error during impression query: %w", err)
	}
	return impressions, nil
}

func (s *ColumnarStore) SetInteraction(ctx context.Context, id int64, kind models.Interaction) (int64, error) {
	return s.mutate(ctx, "set interaction",
		`SELECT count() FROM impressions WHERE id = ?`,
		`ALTER TABLE impressions UPDATE `+kind.Column()+` = 1 WHERE id = ?`, id)
}

// AddProfileCounts merges delta into the stored counts. Merges for the same
// impression are serialized within this process; writers in other processes
// can still interleave.
func (s *ColumnarStore) AddProfileCounts(ctx context.Context, id int64, delta map[string]int) (models.ProfileCounts, error) {
	mu := &s.profileLocks[uint64(id)%uint64(len(s.profileLocks))]
	mu.Lock()
	defer mu.Unlock()

	rows, err := s.DB.Conn.Query(ctx, `SELECT profileCounts FROM impressions WHERE id = ? LIMIT 1`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to read profile counts: %w", err)
	}
	if !rows.Next() {
		err := rows.Err()
		rows.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to read profile counts: %w", err)
		}
		return nil, ErrNoRowsUpdated
	}
	var raw *string
	err = rows.Scan(&raw)
	rows.Close()
	if err != nil {
		return nil, fmt.Errorf("failed to scan profile counts: %w", err)
	}
	var current models.ProfileCounts
	if raw != nil {
		if err := current.Scan(*raw); err != nil {
			return nil, err
		}
	}

	merged := current.Merge(delta)
	encoded, err := merged.Value()
	if err != nil {
		return nil, err
	}
	if err := s.DB.Conn.Exec(syncMutation(ctx), `ALTER TABLE impressions UPDATE profileCounts = ? WHERE id = ?`, encoded, id); err != nil {
		return nil, fmt.Errorf("failed to update profile counts: %w", err)
	}
	return merged, nil
}

// EngagementByDay groups natively on the UTC calendar day.
func (s *ColumnarStore) EngagementByDay(ctx context.Context, siteID int64, r models.DateRange) ([]models.DailyEngagement, error) {
	query := `
		SELECT
			toString(toDate(created_at, 'UTC')) AS date,
			count() AS total_impressions,
			countIf(widget_opened = 1 OR widget_closed = 1) AS engaged_impressions
		FROM impressions
		WHERE site_id = ? AND created_at >= ? AND created_at <= ?
		GROUP BY date
		ORDER BY date ASC`

	rows, err := s.DB.Conn.Query(ctx, query, siteID, r.Start.UTC(), r.End.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to query engagement by day: %w", err)
	}
	defer rows.Close()

	var days []models.DailyEngagement
	for rows.Next() {
		var (
			date           string
			total, engaged uint64
		)
		if err := rows.Scan(&date, &total, &engaged); err != nil {
			return nil, fmt.Errorf("failed to scan engagement row: %w", err)
		}
		days = append(days, models.DailyEngagement{Date: date, Total: int64(total), Engaged: int64(engaged)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row error during engagement query: %w", err)
	}
	return days, nil
}

// mutate runs an ALTER TABLE mutation when countQuery matches at least one row
// and returns the matched count.
func (s *ColumnarStore) mutate(ctx context.Context, op, countQuery, mutation string, arg any) (int64, error) {
	n, err := s.count(ctx, countQuery, arg)
	if err != nil {
		return 0, fmt.Errorf("failed to %s: %w", op, err)
	}
	if n == 0 {
		return 0, nil
	}
	if err := s.DB.Conn.Exec(syncMutation(ctx), mutation, arg); err != nil {
		return 0, fmt.Errorf("failed to %s: %w", op, err)
	}
	return int64(n), nil
}

func (s *ColumnarStore) count(ctx context.Context, query string, args ...any) (uint64, error) {
	rows, err := s.DB.Conn.Query(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	var n uint64
	if rows.Next() {
		if err := rows.Scan(&n); err != nil {
			return 0, err
		}
	}
	return n, rows.Err()
}
