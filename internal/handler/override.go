package handler

import (
	"errors"
	"net/http"

	"github.com/averix/toolgate/internal/service"
	"github.com/gin-gonic/gin"
)

type OverrideHandler struct {
	service *service.ToolOverrideService
}

func NewOverrideHandler(service *service.ToolOverrideService) *OverrideHandler {
	return &OverrideHandler{service: service}
}

// Handles PUT /admin/users/:id/overrides
func (h *OverrideHandler) Set(c *gin.Context) {
	userID := c.Param("id")

	var req service.OverrideInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if req.Tool == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "tool is required"})
		return
	}

	ctx := c.Request.Context()
	override, err := h.service.Set(ctx, userID, req, c.GetString("email"))
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidEffect),
			errors.Is(err, service.ErrExpiryInPast),
			errors.Is(err, service.ErrNegativeLimit):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}

	c.JSON(http.StatusOK, override)
}

// Handles GET /admin/users/:id/overrides
func (h *OverrideHandler) List(c *gin.Context) {
	userID := c.Param("id")

	ctx := c.Request.Context()
	overrides, err := h.service.List(ctx, userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"user_id":   userID,
		"overrides": overrides,
	})
}

// Handles DELETE /admin/users/:id/overrides/:tool
func (h *OverrideHandler) Delete(c *gin.Context) {
	userID := c.Param("id")
	tool := c.Param("tool")

	ctx := c.Request.Context()
	existed, err := h.service.Delete(ctx, userID, tool)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	if !existed {
		c.JSON(http.StatusNotFound, gin.H{"error": "Override not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Override removed"})
}
