package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"webability/analytics/models"
	"webability/analytics/pagecache"
	"webability/analytics/store"
)

// respondError maps domain errors to status codes. msg is what the client
// sees for unexpected failures.
func respondError(c *gin.Context, log *zap.Logger, err error, msg string) {
	var validation *models.ValidationError
	var decompress *pagecache.DecompressError

	switch {
	case errors.As(err, &validation):
		c.JSON(http.StatusBadRequest, gin.H{"error": validation.Error(), "field": validation.Field})
	case errors.Is(err, store.ErrSiteNotFound),
		errors.Is(err, store.ErrNoRowsUpdated),
		errors.Is(err, pagecache.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.As(err, &decompress):
		log.Error("Page cache payload is corrupt", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Cached page is corrupt"})
	default:
		log.Error(msg, zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": msg})
	}
}
