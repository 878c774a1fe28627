package notifications

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Handler handles HTTP requests for the event outbox
type Handler struct {
	service *Service
	logger  *zap.Logger
}

// NewHandler creates a new notifications handler
func NewHandler(service *Service, logger *zap.Logger) *Handler {
	return &Handler{
		service: service,
		logger:  logger,
	}
}

// RegisterRoutes registers notification routes
func (h *Handler) RegisterRoutes(router *gin.RouterGroup) {
	notifications := router.Group("/notifications")
	{
		notifications.GET("/events", h.eventHistory)
	}
}

// eventHistory handles GET /api/v1/notifications/events
func (h *Handler) eventHistory(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	records, err := h.service.EventHistory(c.Request.Context(), h.getUserID(c), limit)
	if err != nil {
		h.logger.Error("Failed to load event history", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"events": records, "count": len(records)})
}

// getUserID resolves the acting user. In production this comes from the
// auth context; the gateway forwards it as a header.
func (h *Handler) getUserID(c *gin.Context) string {
	if userID := c.GetString("user_id"); userID != "" {
		return userID
	}
	return c.GetHeader("X-User-ID")
}
