package revenue

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Francklinok/easyrent-defi-core/internal/ledger"
)

// Handler handles HTTP requests for revenue operations
type Handler struct {
	service *Service
	logger  *zap.Logger
}

// NewHandler creates a new revenue handler
func NewHandler(service *Service, logger *zap.Logger) *Handler {
	return &Handler{
		service: service,
		logger:  logger,
	}
}

// RegisterRoutes registers revenue routes
func (h *Handler) RegisterRoutes(router *gin.RouterGroup) {
	revenue := router.Group("/revenue")
	{
		revenue.POST("/distributions", h.distribute)
		revenue.GET("/assets/:assetId/distributions", h.history)
	}
}

// distribute handles POST /api/v1/revenue/distributions
func (h *Handler) distribute(c *gin.Context) {
	var req DistributeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	distribution, err := h.service.Distribute(c.Request.Context(), &req)
	if err != nil {
		h.logger.Error("Failed to distribute revenue", zap.String("asset_id", req.AssetID), zap.Error(err))
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, distribution)
}

// history handles GET /api/v1/revenue/assets/:assetId/distributions
func (h *Handler) history(c *gin.Context) {
	distributions, err := h.service.History(c.Request.Context(), c.Param("assetId"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"distributions": distributions, "count": len(distributions)})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ledger.ErrAssetNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrDistributionExists), errors.Is(err, ledger.ErrPercentageInvariant):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
