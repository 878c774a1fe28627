package ledger

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Handler handles HTTP requests for ownership ledger operations
type Handler struct {
	service *Service
	logger  *zap.Logger
}

// NewHandler creates a new ledger handler
func NewHandler(service *Service, logger *zap.Logger) *Handler {
	return &Handler{
		service: service,
		logger:  logger,
	}
}

// RegisterRoutes registers ledger routes
func (h *Handler) RegisterRoutes(router *gin.RouterGroup) {
	assets := router.Group("/assets")
	{
		assets.POST("", h.mint)
		assets.GET("/:id", h.getAsset)
		assets.GET("/:id/distribution", h.getDistribution)
		assets.POST("/:id/transfers", h.transfer)
	}
}

// MintRequest is the payload for tokenizing an asset.
type MintRequest struct {
	AssetID      string  `json:"asset_id" binding:"required"`
	TotalSupply  float64 `json:"total_supply" binding:"required,gt=0"`
	OwnerID      string  `json:"owner_id" binding:"required"`
	PricePerUnit float64 `json:"price_per_unit" binding:"required,gt=0"`
}

// TransferRequest is the payload for moving units between owners.
type TransferRequest struct {
	From      string  `json:"from" binding:"required"`
	To        string  `json:"to" binding:"required"`
	Units     float64 `json:"units" binding:"required,gt=0"`
	UnitPrice float64 `json:"unit_price" binding:"required,gt=0"`
}

// mint handles POST /api/v1/assets
func (h *Handler) mint(c *gin.Context) {
	var req MintRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	asset, err := h.service.Mint(c.Request.Context(), req.AssetID, req.TotalSupply, req.OwnerID, req.PricePerUnit)
	if err != nil {
		h.logger.Error("Failed to mint asset", zap.String("asset_id", req.AssetID), zap.Error(err))
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, asset)
}

// getAsset handles GET /api/v1/assets/:id
func (h *Handler) getAsset(c *gin.Context) {
	asset, err := h.service.GetAsset(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, asset)
}

// getDistribution handles GET /api/v1/assets/:id/distribution
func (h *Handler) getDistribution(c *gin.Context) {
	snapshot, err := h.service.GetDistribution(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, snapshot)
}

// transfer handles POST /api/v1/assets/:id/transfers
func (h *Handler) transfer(c *gin.Context) {
	var req TransferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	assetID := c.Param("id")
	if err := h.service.Transfer(c.Request.Context(), assetID, req.From, req.To, req.Units, req.UnitPrice); err != nil {
		h.logger.Error("Failed to transfer units", zap.String("asset_id", assetID), zap.Error(err))
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "transferred"})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrAssetNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrAssetExists), errors.Is(err, ErrInsufficientUnits),
		errors.Is(err, ErrAssetHalted), errors.Is(err, ErrPercentageInvariant),
		errors.Is(err, ErrVersionConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
