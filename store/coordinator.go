package store

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"webability/analytics/config"
	"webability/analytics/metrics"
	"webability/analytics/models"
	"webability/analytics/utils"
)

// EventStore is the table-shaped surface both backing stores provide.
type EventStore interface {
	InsertVisitor(ctx context.Context, v models.Visitor) (int64, error)
	FindVisitorBySiteAndIP(ctx context.Context, siteID int64, ip string) (*models.Visitor, error)
	FindVisitorByIP(ctx context.Context, ip string) (*models.Visitor, error)
	FindVisitorsBySite(ctx context.Context, siteID int64, r *models.DateRange) ([]models.Visitor, error)
	UpdateVisitorGeoByIP(ctx context.Context, ip string, geo models.VisitorGeo) (int64, error)
	DeleteVisitorByID(ctx context.Context, id int64) (int64, error)
	DeleteVisitorByIP(ctx context.Context, ip string) (int64, error)

	InsertImpression(ctx context.Context, siteID, visitorID int64) (int64, error)
	FindImpressions(ctx context.Context, siteID int64, r models.DateRange) ([]models.Impression, error)
	SetInteraction(ctx context.Context, id int64, kind models.Interaction) (int64, error)
	AddProfileCounts(ctx context.Context, id int64, delta map[string]int) (models.ProfileCounts, error)
	EngagementByDay(ctx context.Context, siteID int64, r models.DateRange) ([]models.DailyEngagement, error)
}

// SiteFinder resolves a normalized site url to its record.
type SiteFinder interface {
	FindSiteByURL(ctx context.Context, url string, ownerID *int64) (*models.Site, error)
}

// VisitorResult is the outcome of RecordVisitor. Exists is set when the
// visitor was already recorded; that is not an error.
type VisitorResult struct {
	ID     int64              `json:"id"`
	Exists bool               `json:"exists"`
	Source models.StoreSource `json:"source"`
}

// ImpressionResult identifies a recorded impression in the store that holds it.
type ImpressionResult struct {
	ID        int64              `json:"id"`
	SiteID    int64              `json:"siteId"`
	VisitorID int64              `json:"visitorId"`
	Source    models.StoreSource `json:"source"`
}

// Coordinator routes event writes and reads across the relational and
// columnar stores according to the flags, which are consulted per call.
//
// There is no cross-store read-after-write guarantee: a write acknowledged by
// one store is not visible in the other.
type Coordinator struct {
	relational EventStore
	columnar   EventStore
	sites      SiteFinder
	flags      config.FlagSource
	log        *zap.Logger
	metrics    *metrics.Metrics
}

func NewCoordinator(relational, columnar EventStore, sites SiteFinder, flags config.FlagSource, log *zap.Logger, m *metrics.Metrics) *Coordinator {
	return &Coordinator{
		relational: relational,
		columnar:   columnar,
		sites:      sites,
		flags:      flags,
		log:        log.With(zap.String("component", "coordinator")),
		metrics:    m,
	}
}

// writeStore picks the store that receives writes for this call.
func (c *Coordinator) writeStore() (EventStore, models.StoreSource) {
	if c.flags.AnalyticsDisabled() {
		return c.relational, models.SourceRelational
	}
	return c.columnar, models.SourceColumnar
}

// RecordVisitor records ip as a visitor of siteID. With analytics disabled the
// relational insert is unconditional; otherwise the columnar store checks for
// an existing (siteID, ip) pair and reports it via VisitorResult.Exists.
func (c *Coordinator) RecordVisitor(ctx context.Context, ip string, siteID int64) (VisitorResult, error) {
	if ip == "" {
		return VisitorResult{}, &models.ValidationError{Field: "ipAddress", Message: "is required"}
	}
	if siteID <= 0 {
		return VisitorResult{}, &models.ValidationError{Field: "siteId", Message: "must be positive"}
	}
	st, src := c.writeStore()
	return c.recordVisitor(ctx, st, src, ip, siteID)
}

func (c *Coordinator) recordVisitor(ctx context.Context, st EventStore, src models.StoreSource, ip string, siteID int64) (VisitorResult, error) {
	id, err := st.InsertVisitor(ctx, models.Visitor{SiteID: siteID, IPAddress: ip})
	if errors.Is(err, ErrVisitorExists) {
		c.log.Debug("Visitor already recorded", zap.Int64("site_id", siteID), zap.String("store", string(src)))
		return VisitorResult{ID: id, Exists: true, Source: src}, nil
	}
	if err != nil {
		return VisitorResult{}, err
	}
	c.countWrite(src, "insert_visitor")
	return VisitorResult{ID: id, Source: src}, nil
}

// RecordImpression resolves the site for rawURL, makes sure the visitor
// exists and records a new impression in the selected store.
func (c *Coordinator) RecordImpression(ctx context.Context, ip, rawURL string) (ImpressionResult, error) {
	if ip == "" {
		return ImpressionResult{}, &models.ValidationError{Field: "ipAddress", Message: "is required"}
	}
	site, err := c.resolveSite(ctx, rawURL, nil)
	if err != nil {
		return ImpressionResult{}, err
	}
	if site == nil {
		return ImpressionResult{}, fmt.Errorf("%w: %s", ErrSiteNotFound, utils.RootDomain(rawURL))
	}

	st, src := c.writeStore()
	visitor, err := st.FindVisitorBySiteAndIP(ctx, site.ID, ip)
	if err != nil {
		return ImpressionResult{}, err
	}
	var visitorID int64
	if visitor != nil {
		visitorID = visitor.ID
	} else {
		res, err := c.recordVisitor(ctx, st, src, ip, site.ID)
		if err != nil {
			return ImpressionResult{}, err
		}
		visitorID = res.ID
	}

	id, err := st.InsertImpression(ctx, site.ID, visitorID)
	if err != nil {
		return ImpressionResult{}, err
	}
	c.countWrite(src, "insert_impression")
	return ImpressionResult{ID: id, SiteID: site.ID, VisitorID: visitorID, Source: src}, nil
}

// ResolveSite returns the site registered for rawURL, scoped to ownerID when
// set. A miss is ErrSiteNotFound.
func (c *Coordinator) ResolveSite(ctx context.Context, rawURL string, ownerID *int64) (*models.Site, error) {
	site, err := c.resolveSite(ctx, rawURL, ownerID)
	if err != nil {
		return nil, err
	}
	if site == nil {
		return nil, fmt.Errorf("%w: %s", ErrSiteNotFound, utils.NormalizeDomain(rawURL))
	}
	return site, nil
}

// resolveSite validates rawURL and looks the site up by its normalized host,
// falling back to the registered root domain.
func (c *Coordinator) resolveSite(ctx context.Context, rawURL string, ownerID *int64) (*models.Site, error) {
	host := utils.NormalizeDomain(rawURL)
	if host == "" {
		return nil, &models.ValidationError{Field: "url", Message: "is not a valid url or domain"}
	}
	site, err := c.sites.FindSiteByURL(ctx, host, ownerID)
	if err != nil || site != nil {
		return site, err
	}
	if root := utils.RootDomain(host); root != host {
		return c.sites.FindSiteByURL(ctx, root, ownerID)
	}
	return nil, nil
}

// FindImpressions lists a site's impressions in r. With dual fetch the
// columnar rows come first, followed by the relational rows; nothing is
// de-duplicated.
func (c *Coordinator) FindImpressions(ctx context.Context, ownerID *int64, rawURL string, r models.DateRange) ([]models.Impression, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	site, err := c.resolveSite(ctx, rawURL, ownerID)
	if err != nil || site == nil {
		return []models.Impression{}, err
	}
	return dualRead(ctx, c, "find_impressions",
		func(ctx context.Context) ([]models.Impression, error) { return c.columnar.FindImpressions(ctx, site.ID, r) },
		func(ctx context.Context) ([]models.Impression, error) { return c.relational.FindImpressions(ctx, site.ID, r) },
	)
}

// FindVisitors lists a site's visitors, optionally by first-visit window.
func (c *Coordinator) FindVisitors(ctx context.Context, ownerID *int64, rawURL string, r *models.DateRange) ([]models.Visitor, error) {
	if r != nil {
		if err := r.Validate(); err != nil {
			return nil, err
		}
	}
	site, err := c.resolveSite(ctx, rawURL, ownerID)
	if err != nil || site == nil {
		return []models.Visitor{}, err
	}
	return dualRead(ctx, c, "find_visitors",
		func(ctx context.Context) ([]models.Visitor, error) { return c.columnar.FindVisitorsBySite(ctx, site.ID, r) },
		func(ctx context.Context) ([]models.Visitor, error) { return c.relational.FindVisitorsBySite(ctx, site.ID, r) },
	)
}

// EngagementRates returns one entry per UTC day that has impressions.
func (c *Coordinator) EngagementRates(ctx context.Context, ownerID *int64, rawURL string, r models.DateRange) ([]models.EngagementRate, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	site, err := c.resolveSite(ctx, rawURL, ownerID)
	if err != nil || site == nil {
		return []models.EngagementRate{}, err
	}
	rates := func(st EventStore, src models.StoreSource) func(context.Context) ([]models.EngagementRate, error) {
		return func(ctx context.Context) ([]models.EngagementRate, error) {
			days, err := st.EngagementByDay(ctx, site.ID, r)
			if err != nil {
				return nil, err
			}
			out := make([]models.EngagementRate, 0, len(days))
			for _, d := range days {
				out = append(out, models.NewEngagementRate(d, src))
			}
			return out, nil
		}
	}
	return dualRead(ctx, c, "engagement_rates",
		rates(c.columnar, models.SourceColumnar),
		rates(c.relational, models.SourceRelational),
	)
}

// RecordInteraction sets the flag for kind on the impression. Unknown kinds
// are rejected before any store access.
func (c *Coordinator) RecordInteraction(ctx context.Context, impressionID int64, kind string) error {
	interaction, err := models.ParseInteraction(kind)
	if err != nil {
		return err
	}
	if impressionID <= 0 {
		return &models.ValidationError{Field: "impressionId", Message: "must be positive"}
	}

	st, src := c.writeStore()
	n, err := st.SetInteraction(ctx, impressionID, interaction)
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNoRowsUpdated
	}
	c.countWrite(src, "set_interaction")
	return nil
}

// AddProfileCounts adds counts to the impression's stored per-profile counters.
func (c *Coordinator) AddProfileCounts(ctx context.Context, impressionID int64, counts map[string]int) (models.ProfileCounts, error) {
	if impressionID <= 0 {
		return nil, &models.ValidationError{Field: "impressionId", Message: "must be positive"}
	}
	if len(counts) == 0 {
		return nil, &models.ValidationError{Field: "profileCounts", Message: "must not be empty"}
	}
	for tag, n := range counts {
		if tag == "" || n < 0 {
			return nil, &models.ValidationError{Field: "profileCounts", Message: fmt.Sprintf("invalid entry %q=%d", tag, n)}
		}
	}

	st, src := c.writeStore()
	merged, err := st.AddProfileCounts(ctx, impressionID, counts)
	if err != nil {
		return nil, err
	}
	c.countWrite(src, "add_profile_counts")
	return merged, nil
}

// UpdateVisitorGeo back-fills geo fields for every visitor row with ip.
func (c *Coordinator) UpdateVisitorGeo(ctx context.Context, ip string, geo models.VisitorGeo) error {
	if ip == "" {
		return &models.ValidationError{Field: "ipAddress", Message: "is required"}
	}
	st, src := c.writeStore()
	n, err := st.UpdateVisitorGeoByIP(ctx, ip, geo)
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNoRowsUpdated
	}
	c.countWrite(src, "update_visitor_geo")
	return nil
}

// DeleteVisitor removes a visitor by id.
func (c *Coordinator) DeleteVisitor(ctx context.Context, id int64) error {
	if id <= 0 {
		return &models.ValidationError{Field: "id", Message: "must be positive"}
	}
	st, src := c.writeStore()
	return c.deleted(src, "delete_visitor")(st.DeleteVisitorByID(ctx, id))
}

// DeleteVisitorByIP removes every visitor row recorded for ip.
func (c *Coordinator) DeleteVisitorByIP(ctx context.Context, ip string) error {
	if ip == "" {
		return &models.ValidationError{Field: "ipAddress", Message: "is required"}
	}
	st, src := c.writeStore()
	return c.deleted(src, "delete_visitor")(st.DeleteVisitorByIP(ctx, ip))
}

func (c *Coordinator) deleted(src models.StoreSource, op string) func(int64, error) error {
	return func(n int64, err error) error {
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrNoRowsUpdated
		}
		c.countWrite(src, op)
		return nil
	}
}

func (c *Coordinator) countWrite(src models.StoreSource, op string) {
	if c.metrics != nil {
		c.metrics.StoreWrites.WithLabelValues(string(src), op).Inc()
	}
}

// dualRead applies the read policy: relational only when analytics is
// disabled; columnar only unless dual fetch is on; otherwise both stores
// concurrently, columnar rows first. A relational failure during a dual read
// degrades to the columnar rows. A columnar failure is returned.
func dualRead[T any](
	ctx context.Context,
	c *Coordinator,
	op string,
	columnar func(context.Context) ([]T, error),
	relational func(context.Context) ([]T, error),
) ([]T, error) {
	if c.flags.AnalyticsDisabled() {
		return nonNil(relational(ctx))
	}
	if !c.flags.DualFetchEnabled() {
		return nonNil(columnar(ctx))
	}

	var (
		colRows, relRows []T
		relErr           error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		rows, err := columnar(gctx)
		if err != nil {
			return err
		}
		colRows = rows
		return nil
	})
	g.Go(func() error {
		relRows, relErr = relational(gctx)
		return nil
	})
	if err := g.Wait(); err != nil {
		if c.metrics != nil {
			c.metrics.StoreReadFailures.WithLabelValues(string(models.SourceColumnar), op).Inc()
		}
		return nil, err
	}

	if relErr != nil {
		c.log.Warn("Relational read failed during dual fetch, returning columnar rows only",
			zap.String("operation", op),
			zap.Error(relErr),
		)
		if c.metrics != nil {
			c.metrics.StoreReadFailures.WithLabelValues(string(models.SourceRelational), op).Inc()
			c.metrics.DualReadFallbacks.Inc()
		}
		return nonNil(colRows, nil)
	}

	out := make([]T, 0, len(colRows)+len(relRows))
	out = append(out, colRows...)
	return append(out, relRows...), nil
}

func nonNil[T any](rows []T, err error) ([]T, error) {
	if err != nil {
		return nil, err
	}
	if rows == nil {
		rows = []T{}
	}
	return rows, nil
}
