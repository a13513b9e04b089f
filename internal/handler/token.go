package handler

import (
	"net/http"

	"github.com/averix/toolgate/internal/service"
	"github.com/gin-gonic/gin"
)

type TokenHandler struct {
	service *service.ServiceTokenService
}

func NewTokenHandler(service *service.ServiceTokenService) *TokenHandler {
	return &TokenHandler{service: service}
}

func (h *TokenHandler) Create(c *gin.Context) {
	var req struct {
		Name      string `json:"name" binding:"required"`
		Service   string `json:"service" binding:"required"`
		PerMinute int    `json:"per_minute"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if req.PerMinute < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "per_minute cannot be negative"})
		return
	}

	ctx := c.Request.Context()
	plain, token, err := h.service.Create(ctx, req.Name, req.Service, c.GetString("email"), req.PerMinute)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"token":   plain,
		"id":      token.ID,
		"message": "Save this token - it won't be shown again",
	})
}

func (h *TokenHandler) List(c *gin.Context) {
	ctx := c.Request.Context()
	tokens, err := h.service.List(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, tokens)
}

func (h *TokenHandler) Get(c *gin.Context) {
	id := c.Param("id")

	ctx := c.Request.Context()
	token, err := h.service.Get(ctx, id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	if token == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Service token not found"})
		return
	}

	c.JSON(http.StatusOK, token)
}

func (h *TokenHandler) Update(c *gin.Context) {
	id := c.Param("id")

	var req struct {
		Name      *string `json:"name"`
		PerMinute *int    `json:"per_minute"`
		IsActive  *bool   `json:"is_active"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	// Build updates map
	updates := make(map[string]interface{})
	if req.Name != nil {
		updates["name"] = *req.Name
	}
	if req.PerMinute != nil {
		if *req.PerMinute < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "per_minute cannot be negative"})
			return
		}
		updates["per_minute"] = *req.PerMinute
	}
	if req.IsActive != nil {
		updates["is_active"] = *req.IsActive
	}

	if len(updates) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No fields to update"})
		return
	}

	ctx := c.Request.Context()
	if err := h.service.Update(ctx, id, updates); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Service token updated successfully"})
}

func (h *TokenHandler) Delete(c *gin.Context) {
	id := c.Param("id")

	ctx := c.Request.Context()
	if err := h.service.Delete(ctx, id); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Service token deleted successfully"})
}
