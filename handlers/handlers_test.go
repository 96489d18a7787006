package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"webability/analytics/middleware"
	"webability/analytics/models"
	"webability/analytics/pagecache"
	"webability/analytics/store"
)

type fakeService struct {
	err         error
	gotIP       string
	gotURL      string
	gotOwner    *int64
	gotRange    *models.DateRange
	gotKind     string
	gotGeo      models.VisitorGeo
	deletedByIP string
}

func (f *fakeService) RecordImpression(_ context.Context, ip, rawURL string) (store.ImpressionResult, error) {
	f.gotIP, f.gotURL = ip, rawURL
	return store.ImpressionResult{ID: 500, SiteID: 7, VisitorID: 11, Source: models.SourceColumnar}, f.err
}

func (f *fakeService) RecordInteraction(_ context.Context, _ int64, kind string) error {
	f.gotKind = kind
	if f.err != nil {
		return f.err
	}
	_, err := models.ParseInteraction(kind)
	return err
}

func (f *fakeService) AddProfileCounts(_ context.Context, _ int64, counts map[string]int) (models.ProfileCounts, error) {
	return models.ProfileCounts(counts), f.err
}

func (f *fakeService) FindImpressions(_ context.Context, ownerID *int64, rawURL string, r models.DateRange) ([]models.Impression, error) {
	f.gotOwner, f.gotURL, f.gotRange = ownerID, rawURL, &r
	return []models.Impression{{ID: 1, SiteID: 7}}, f.err
}

func (f *fakeService) FindVisitors(_ context.Context, ownerID *int64, rawURL string, r *models.DateRange) ([]models.Visitor, error) {
	f.gotOwner, f.gotURL, f.gotRange = ownerID, rawURL, r
	return []models.Visitor{}, f.err
}

func (f *fakeService) EngagementRates(_ context.Context, ownerID *int64, rawURL string, r models.DateRange) ([]models.EngagementRate, error) {
	f.gotOwner, f.gotURL, f.gotRange = ownerID, rawURL, &r
	return []models.EngagementRate{{Date: "2024-03-01", EngagementRate: 50, TotalEngagements: 1, TotalImpressions: 2}}, f.err
}

func (f *fakeService) UpdateVisitorGeo(_ context.Context, _ string, geo models.VisitorGeo) error {
	f.gotGeo = geo
	return f.err
}

func (f *fakeService) DeleteVisitor(context.Context, int64) error { return f.err }

func (f *fakeService) DeleteVisitorByIP(_ context.Context, ip string) error {
	f.deletedByIP = ip
	if ip == "" {
		return &models.ValidationError{Field: "ipAddress", Message: "is required"}
	}
	return f.err
}

type fakePages struct {
	html string
	err  error
}

func (f fakePages) GetPageHTML(context.Context, string, string) (string, error) { return f.html, f.err }

type fakeSites struct{ err error }

func (f fakeSites) ResolveSite(_ context.Context, rawURL string, _ *int64) (*models.Site, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &models.Site{ID: 7, URL: "example.com"}, nil
}

type fakeOnboarder struct {
	accept bool
	siteID int64
}

func (f *fakeOnboarder) Onboard(siteID int64, _ string) bool {
	f.siteID = siteID
	return f.accept
}

func newRouter(svc AnalyticsService, pages PageHTMLSource, sites SiteResolver, onboarder SiteOnboarder) *gin.Engine {
	gin.SetMode(gin.TestMode)
	log := zap.NewNop()
	a := NewAnalyticsHandlers(svc, log)
	p := NewPageCacheHandlers(pages, log)
	s := NewSiteHandlers(sites, onboarder, log)

	r := gin.New()
	r.POST("/api/impressions", a.RecordImpression)
	r.POST("/api/impressions/:id/interaction", a.RecordInteraction)
	r.POST("/api/impressions/:id/profile-counts", a.AddProfileCounts)

	authed := r.Group("/api", func(c *gin.Context) { c.Set(middleware.UserIDKey, int64(3)) })
	authed.GET("/stats/impressions", a.GetImpressions)
	authed.GET("/stats/engagement", a.GetEngagement)
	authed.GET("/stats/visitors", a.GetVisitors)
	authed.GET("/page-cache", p.GetPageHTML)
	authed.POST("/sites/onboard", s.Onboard)
	authed.PATCH("/visitors/geo", a.UpdateVisitorGeo)
	authed.DELETE("/visitors/:id", a.DeleteVisitor)
	authed.DELETE("/visitors", a.DeleteVisitorsByIP)
	return r
}

func do(r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRecordImpression(t *testing.T) {
	svc := &fakeService{}
	r := newRouter(svc, fakePages{}, fakeSites{}, &fakeOnboarder{})

	w := do(r, http.MethodPost, "/api/impressions", `{"url":"https://example.com"}`)
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.JSONEq(t, `{"id":500,"siteId":7,"visitorId":11,"source":"columnar"}`, w.Body.String())
	assert.Equal(t, "https://example.com", svc.gotURL)
	assert.NotEmpty(t, svc.gotIP)

	w = do(r, http.MethodPost, "/api/impressions", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRecordImpression_SiteNotFound(t *testing.T) {
	svc := &fakeService{err: fmt.Errorf("%w: other.org", store.ErrSiteNotFound)}
	r := newRouter(svc, fakePages{}, fakeSites{}, &fakeOnboarder{})

	w := do(r, http.MethodPost, "/api/impressions", `{"url":"other.org"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRecordInteraction(t *testing.T) {
	r := newRouter(&fakeService{}, fakePages{}, fakeSites{}, &fakeOnboarder{})

	assert.Equal(t, http.StatusOK, do(r, http.MethodPost, "/api/impressions/500/interaction", `{"interaction":"widgetOpened"}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodPost, "/api/impressions/500/interaction", `{"interaction":"bogus"}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodPost, "/api/impressions/abc/interaction", `{"interaction":"widgetOpened"}`).Code)

	missing := newRouter(&fakeService{err: store.ErrNoRowsUpdated}, fakePages{}, fakeSites{}, &fakeOnboarder{})
	assert.Equal(t, http.StatusNotFound, do(missing, http.MethodPost, "/api/impressions/9/interaction", `{"interaction":"widgetClosed"}`).Code)
}

func TestAddProfileCounts(t *testing.T) {
	r := newRouter(&fakeService{}, fakePages{}, fakeSites{}, &fakeOnboarder{})

	w := do(r, http.MethodPost, "/api/impressions/500/profile-counts", `{"profileCounts":{"blind":2}}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"success":true,"profileCounts":{"blind":2}}`, w.Body.String())
}

func TestGetEngagement(t *testing.T) {
	svc := &fakeService{}
	r := newRouter(svc, fakePages{}, fakeSites{}, &fakeOnboarder{})

	w := do(r, http.MethodGet, "/api/stats/engagement?url=example.com&start=2024-03-01&end=2024-03-02", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"engagementRate":50`)
	require.NotNil(t, svc.gotOwner)
	assert.Equal(t, int64(3), *svc.gotOwner)
	assert.Equal(t, "2024-03-01", svc.gotRange.Start.Format("2006-01-02"))

	w = do(r, http.MethodGet, "/api/stats/engagement?url=example.com&start=nope", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetImpressions_InternalError(t *testing.T) {
	r := newRouter(&fakeService{err: errors.New("clickhouse down")}, fakePages{}, fakeSites{}, &fakeOnboarder{})

	w := do(r, http.MethodGet, "/api/stats/impressions?url=example.com", "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "clickhouse down")
}

func TestGetVisitors_RangeOptional(t *testing.T) {
	svc := &fakeService{}
	r := newRouter(svc, fakePages{}, fakeSites{}, &fakeOnboarder{})

	w := do(r, http.MethodGet, "/api/stats/visitors?url=example.com", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "[]", w.Body.String())
	assert.Nil(t, svc.gotRange)

	w = do(r, http.MethodGet, "/api/stats/visitors?url=example.com&start=2024-03-01", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotNil(t, svc.gotRange)
}

func TestVisitorMaintenanceRoutes(t *testing.T) {
	svc := &fakeService{}
	r := newRouter(svc, fakePages{}, fakeSites{}, &fakeOnboarder{})

	w := do(r, http.MethodPatch, "/api/visitors/geo", `{"ipAddress":"1.2.3.4","city":"Lyon"}`)
	assert.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, svc.gotGeo.City)
	assert.Equal(t, "Lyon", *svc.gotGeo.City)
	assert.Nil(t, svc.gotGeo.Country)

	assert.Equal(t, http.StatusNoContent, do(r, http.MethodDelete, "/api/visitors/11", "").Code)
	assert.Equal(t, http.StatusNoContent, do(r, http.MethodDelete, "/api/visitors?ip=1.2.3.4", "").Code)
	assert.Equal(t, "1.2.3.4", svc.deletedByIP)
	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodDelete, "/api/visitors", "").Code)
}

func TestGetPageHTML(t *testing.T) {
	ok := newRouter(&fakeService{}, fakePages{html: "<p>hi</p>"}, fakeSites{}, &fakeOnboarder{})
	w := do(ok, http.MethodGet, "/api/page-cache?url=https://example.com", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"url":"https://example.com","html":"<p>hi</p>"}`, w.Body.String())

	assert.Equal(t, http.StatusBadRequest, do(ok, http.MethodGet, "/api/page-cache", "").Code)

	missing := newRouter(&fakeService{}, fakePages{err: pagecache.ErrNotFound}, fakeSites{}, &fakeOnboarder{})
	assert.Equal(t, http.StatusNotFound, do(missing, http.MethodGet, "/api/page-cache?url=x.com", "").Code)

	corrupt := newRouter(&fakeService{}, fakePages{err: &pagecache.DecompressError{Strategy: "exact_url", URL: "x.com", Err: errors.New("flate: corrupt input")}}, fakeSites{}, &fakeOnboarder{})
	assert.Equal(t, http.StatusInternalServerError, do(corrupt, http.MethodGet, "/api/page-cache?url=x.com", "").Code)
}

func TestOnboard(t *testing.T) {
	onboarder := &fakeOnboarder{accept: true}
	r := newRouter(&fakeService{}, fakePages{}, fakeSites{}, onboarder)

	w := do(r, http.MethodPost, "/api/sites/onboard", `{"url":"https://example.com"}`)
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, int64(7), onboarder.siteID)

	full := newRouter(&fakeService{}, fakePages{}, fakeSites{}, &fakeOnboarder{accept: false})
	assert.Equal(t, http.StatusServiceUnavailable, do(full, http.MethodPost, "/api/sites/onboard", `{"url":"example.com"}`).Code)

	unknown := newRouter(&fakeService{}, fakePages{}, fakeSites{err: store.ErrSiteNotFound}, &fakeOnboarder{})
	assert.Equal(t, http.StatusNotFound, do(unknown, http.MethodPost, "/api/sites/onboard", `{"url":"other.org"}`).Code)
}

func TestHealth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/health", Health(map[string]Pinger{
		"ok":   func(context.Context) error { return nil },
		"down": func(context.Context) error { return errors.New("refused") },
	}))

	w := do(r, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), `"down":"refused"`)
}
