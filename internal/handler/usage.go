package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/averix/toolgate/internal/service"
	"github.com/gin-gonic/gin"
)

type UsageHandler struct {
	service *service.UsageService
}

func NewUsageHandler(service *service.UsageService) *UsageHandler {
	return &UsageHandler{service: service}
}

// Handles GET /admin/usage
func (h *UsageHandler) Summary(c *gin.Context) {
	// Parse time range
	from, to, err := parseTimeRange(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	summary, err := h.service.Summary(ctx, from, to)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, summary)
}

// Handles GET /admin/usage/series
func (h *UsageHandler) Series(c *gin.Context) {
	// Parse time range
	from, to, err := parseTimeRange(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	series, err := h.service.Series(ctx, from, to)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"series": series})
}

// Handles GET /admin/users/:id/usage
func (h *UsageHandler) UserUsage(c *gin.Context) {
	userID := c.Param("id")

	ctx := c.Request.Context()
	usage, err := h.service.UserUsage(ctx, userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"user_id": userID,
		"tools":   usage,
	})
}

// Handles GET /admin/users/:id/records
func (h *UsageHandler) UserRecords(c *gin.Context) {
	userID := c.Param("id")

	// Parse time range
	from, to, err := parseTimeRange(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	// Parse pagination
	limit := 100
	if limitStr := c.Query("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= 1000 {
			limit = l
		}
	}

	offset := 0
	if offsetStr := c.Query("offset"); offsetStr != "" {
		if o, err := strconv.Atoi(offsetStr); err == nil && o >= 0 {
			offset = o
		}
	}

	ctx := c.Request.Context()
	records, err := h.service.UserRecords(ctx, userID, from, to, limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"records": records,
		"limit":   limit,
		"offset":  offset,
	})
}

// Handles DELETE /admin/users/:id/usage
func (h *UsageHandler) Reset(c *gin.Context) {
	userID := c.Param("id")
	tool := c.Query("tool")

	ctx := c.Request.Context()
	cleared, err := h.service.Reset(ctx, userID, tool)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Usage counters reset",
		"cleared": cleared,
	})
}

// Parses 'from' and 'to' query parameters
func parseTimeRange(c *gin.Context) (time.Time, time.Time, error) {
	// Default: last 24 hours
	to := time.Now()
	from := to.Add(-24 * time.Hour)

	if fromStr := c.Query("from"); fromStr != "" {
		parsedFrom, err := time.Parse(time.RFC3339, fromStr)
		if err != nil {
			// Try Unix timestamp
			if timestamp, err := strconv.ParseInt(fromStr, 10, 64); err == nil {
				parsedFrom = time.Unix(timestamp, 0)
			} else {
				return time.Time{}, time.Time{}, err
			}
		}
		from = parsedFrom
	}

	if toStr := c.Query("to"); toStr != "" {
		parsedTo, err := time.Parse(time.RFC3339, toStr)
		if err != nil {
			// Try Unix timestamp
			if timestamp, err := strconv.ParseInt(toStr, 10, 64); err == nil {
				parsedTo = time.Unix(timestamp, 0)
			} else {
				return time.Time{}, time.Time{}, err
			}
		}
		to = parsedTo
	}

	return from, to, nil
}
