package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"webability/analytics/models"
)

// SiteResolver is satisfied by *store.Coordinator.
type SiteResolver interface {
	ResolveSite(ctx context.Context, rawURL string, ownerID *int64) (*models.Site, error)
}

// SiteOnboarder is satisfied by *background.Onboarder.
type SiteOnboarder interface {
	Onboard(siteID int64, domain string) bool
}

type SiteHandlers struct {
	sites     SiteResolver
	onboarder SiteOnboarder
	log       *zap.Logger
}

func NewSiteHandlers(sites SiteResolver, onboarder SiteOnboarder, log *zap.Logger) *SiteHandlers {
	return &SiteHandlers{sites: sites, onboarder: onboarder, log: log}
}

type onboardRequest struct {
	URL string `json:"url" binding:"required"`
}

// Onboard queues the widget check and compliance report for one of the
// caller's sites and answers 202 without waiting for it.
func (h *SiteHandlers) Onboard(c *gin.Context) {
	var req onboardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), readTimeout)
	defer cancel()

	site, err := h.sites.ResolveSite(ctx, req.URL, ownerID(c))
	if err != nil {
		respondError(c, h.log, err, "Failed to look up site")
		return
	}
	if !h.onboarder.Onboard(site.ID, site.URL) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Onboarding queue is full, try again later"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"siteId": site.ID, "url": site.URL, "status": "queued"})
}
