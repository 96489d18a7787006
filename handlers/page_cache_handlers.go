package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const pageCacheTimeout = 20 * time.Second

// PageHTMLSource is satisfied by *pagecache.Engine.
type PageHTMLSource interface {
	GetPageHTML(ctx context.Context, url, urlHash string) (string, error)
}

type PageCacheHandlers struct {
	source PageHTMLSource
	log    *zap.Logger
}

func NewPageCacheHandlers(source PageHTMLSource, log *zap.Logger) *PageCacheHandlers {
	return &PageCacheHandlers{source: source, log: log}
}

func (h *PageCacheHandlers) GetPageHTML(c *gin.Context) {
	url := c.Query("url")
	if url == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "url query parameter is required"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), pageCacheTimeout)
	defer cancel()

	html, err := h.source.GetPageHTML(ctx, url, c.Query("hash"))
	if err != nil {
		respondError(c, h.log, err, "Failed to load cached page")
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": url, "html": html})
}
