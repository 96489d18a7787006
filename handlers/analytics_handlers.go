// handlers/analytics_handlers.go
package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"webability/analytics/middleware"
	"webability/analytics/models"
	"webability/analytics/store"
	"webability/analytics/utils"
)

const (
	writeTimeout = 15 * time.Second
	readTimeout  = 10 * time.Second
)

// AnalyticsService is the coordinator surface the handlers need.
type AnalyticsService interface {
	RecordImpression(ctx context.Context, ip, rawURL string) (store.ImpressionResult, error)
	RecordInteraction(ctx context.Context, impressionID int64, kind string) error
	AddProfileCounts(ctx context.Context, impressionID int64, counts map[string]int) (models.ProfileCounts, error)
	FindImpressions(ctx context.Context, ownerID *int64, rawURL string, r models.DateRange) ([]models.Impression, error)
	FindVisitors(ctx context.Context, ownerID *int64, rawURL string, r *models.DateRange) ([]models.Visitor, error)
	EngagementRates(ctx context.Context, ownerID *int64, rawURL string, r models.DateRange) ([]models.EngagementRate, error)
	UpdateVisitorGeo(ctx context.Context, ip string, geo models.VisitorGeo) error
	DeleteVisitor(ctx context.Context, id int64) error
	DeleteVisitorByIP(ctx context.Context, ip string) error
}

type AnalyticsHandlers struct {
	service AnalyticsService
	log     *zap.Logger
	now     func() time.Time
}

func NewAnalyticsHandlers(s AnalyticsService, log *zap.Logger) *AnalyticsHandlers {
	return &AnalyticsHandlers{service: s, log: log, now: time.Now}
}

type impressionRequest struct {
	URL string `json:"url" binding:"required"`
}

type interactionRequest struct {
	Interaction string `json:"interaction" binding:"required"`
}

type profileCountsRequest struct {
	ProfileCounts map[string]int `json:"profileCounts" binding:"required"`
}

// RecordImpression is called by the widget on page load.
func (h *AnalyticsHandlers) RecordImpression(c *gin.Context) {
	var req impressionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), writeTimeout)
	defer cancel()

	res, err := h.service.RecordImpression(ctx, c.ClientIP(), req.URL)
	if err != nil {
		respondError(c, h.log, err, "Failed to record impression")
		return
	}
	c.JSON(http.StatusCreated, res)
}

func (h *AnalyticsHandlers) RecordInteraction(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req interactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), writeTimeout)
	defer cancel()

	if err := h.service.RecordInteraction(ctx, id, req.Interaction); err != nil {
		respondError(c, h.log, err, "Failed to record interaction")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *AnalyticsHandlers) AddProfileCounts(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req profileCountsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), writeTimeout)
	defer cancel()

	merged, err := h.service.AddProfileCounts(ctx, id, req.ProfileCounts)
	if err != nil {
		respondError(c, h.log, err, "Failed to update profile counts")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "profileCounts": merged})
}

func (h *AnalyticsHandlers) GetImpressions(c *gin.Context) {
	r, ok := h.dateRange(c)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), readTimeout)
	defer cancel()

	rows, err := h.service.FindImpressions(ctx, ownerID(c), c.Query("url"), r)
	if err != nil {
		respondError(c, h.log, err, "Failed to retrieve impressions")
		return
	}
	c.JSON(http.StatusOK, rows)
}

func (h *AnalyticsHandlers) GetEngagement(c *gin.Context) {
	r, ok := h.dateRange(c)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), readTimeout)
	defer cancel()

	rates, err := h.service.EngagementRates(ctx, ownerID(c), c.Query("url"), r)
	if err != nil {
		respondError(c, h.log, err, "Failed to retrieve engagement rates")
		return
	}
	c.JSON(http.StatusOK, rates)
}

// GetVisitors filters by first visit only when start or end is given.
func (h *AnalyticsHandlers) GetVisitors(c *gin.Context) {
	var r *models.DateRange
	if c.Query("start") != "" || c.Query("end") != "" {
		parsed, ok := h.dateRange(c)
		if !ok {
			return
		}
		r = &parsed
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), readTimeout)
	defer cancel()

	rows, err := h.service.FindVisitors(ctx, ownerID(c), c.Query("url"), r)
	if err != nil {
		respondError(c, h.log, err, "Failed to retrieve visitors")
		return
	}
	c.JSON(http.StatusOK, rows)
}

type visitorGeoRequest struct {
	IPAddress string  `json:"ipAddress" binding:"required"`
	City      *string `json:"city"`
	Country   *string `json:"country"`
	Zipcode   *string `json:"zipcode"`
	Continent *string `json:"continent"`
}

func (h *AnalyticsHandlers) UpdateVisitorGeo(c *gin.Context) {
	var req visitorGeoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), writeTimeout)
	defer cancel()

	geo := models.VisitorGeo{City: req.City, Country: req.Country, Zipcode: req.Zipcode, Continent: req.Continent}
	if err := h.service.UpdateVisitorGeo(ctx, req.IPAddress, geo); err != nil {
		respondError(c, h.log, err, "Failed to update visitor")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *AnalyticsHandlers) DeleteVisitor(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), writeTimeout)
	defer cancel()

	if err := h.service.DeleteVisitor(ctx, id); err != nil {
		respondError(c, h.log, err, "Failed to delete visitor")
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *AnalyticsHandlers) DeleteVisitorsByIP(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), writeTimeout)
	defer cancel()

	if err := h.service.DeleteVisitorByIP(ctx, c.Query("ip")); err != nil {
		respondError(c, h.log, err, "Failed to delete visitors")
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *AnalyticsHandlers) dateRange(c *gin.Context) (models.DateRange, bool) {
	r, err := utils.ParseDateRange(c.Query("start"), c.Query("end"), h.now())
	if err != nil {
		respondError(c, h.log, err, "Invalid date range")
		return r, false
	}
	return r, true
}

func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid id"})
		return 0, false
	}
	return id, true
}

// ownerID is nil for routes outside the auth middleware.
func ownerID(c *gin.Context) *int64 {
	v, ok := c.Get(middleware.UserIDKey)
	if !ok {
		return nil
	}
	id, ok := v.(int64)
	if !ok {
		return nil
	}
	return &id
}
