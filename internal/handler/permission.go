package handler

import (
	"errors"
	"net/http"

	"github.com/averix/toolgate/internal/service"
	"github.com/gin-gonic/gin"
)

// maxBatchTools caps one batch request, a UI asks about a toolbar not
// the whole catalog
const maxBatchTools = 50

type PermissionHandler struct {
	service *service.PermissionService
}

func NewPermissionHandler(service *service.PermissionService) *PermissionHandler {
	return &PermissionHandler{service: service}
}

// Handles POST /v1/check
func (h *PermissionHandler) Check(c *gin.Context) {
	var req struct {
		UserID    string   `json:"user_id" binding:"required"`
		Plan      string   `json:"plan" binding:"required"`
		Roles     []string `json:"roles"`
		Flags     []string `json:"flags"`
		Suspended bool     `json:"suspended"`
		Tool      string   `json:"tool" binding:"required"`
		DryRun    bool     `json:"dry_run"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	result, err := h.service.Check(ctx, service.CheckRequest{
		UserID:    req.UserID,
		Plan:      req.Plan,
		Roles:     req.Roles,
		Flags:     req.Flags,
		Suspended: req.Suspended,
		Tool:      req.Tool,
		DryRun:    req.DryRun,
		Service:   c.GetString("service"),
	})
	if err != nil {
		if errors.Is(err, service.ErrInvalidPlan) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	// Denials are still successful checks, the decision rides in the
	// body
	c.JSON(http.StatusOK, result)
}

// Handles POST /v1/check/batch
func (h *PermissionHandler) CheckBatch(c *gin.Context) {
	var req struct {
		UserID    string   `json:"user_id" binding:"required"`
		Plan      string   `json:"plan" binding:"required"`
		Roles     []string `json:"roles"`
		Flags     []string `json:"flags"`
		Suspended bool     `json:"suspended"`
		Tools     []string `json:"tools" binding:"required,min=1"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if len(req.Tools) > maxBatchTools {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Too many tools in one batch"})
		return
	}

	ctx := c.Request.Context()
	results, err := h.service.CheckBatch(ctx, service.CheckRequest{
		UserID:    req.UserID,
		Plan:      req.Plan,
		Roles:     req.Roles,
		Flags:     req.Flags,
		Suspended: req.Suspended,
		Service:   c.GetString("service"),
	}, req.Tools)
	if err != nil {
		if errors.Is(err, service.ErrInvalidPlan) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"results": results})
}

// Handles GET /v1/definitions
func (h *PermissionHandler) Definitions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"definitions": h.service.Registry().Definitions(),
	})
}
