package marketplace

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Handler handles HTTP requests for marketplace operations
type Handler struct {
	service *Service
	logger  *zap.Logger
}

// NewHandler creates a new marketplace handler
func NewHandler(service *Service, logger *zap.Logger) *Handler {
	return &Handler{
		service: service,
		logger:  logger,
	}
}

// RegisterRoutes registers marketplace routes
func (h *Handler) RegisterRoutes(router *gin.RouterGroup) {
	marketplace := router.Group("/marketplace")
	{
		marketplace.POST("/listings", h.createListing)
		marketplace.GET("/listings/:id", h.getListing)
		marketplace.POST("/listings/:id/bids", h.placeBid)
		marketplace.POST("/listings/:id/bids/:bidId/accept", h.acceptBid)
		marketplace.POST("/listings/:id/cancel", h.cancelListing)
		marketplace.GET("/assets/:assetId/listings", h.listByAsset)
		marketplace.GET("/assets/:assetId/trades", h.listTrades)
	}
}

// createListing handles POST /api/v1/marketplace/listings
func (h *Handler) createListing(c *gin.Context) {
	var req CreateListingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	listing, err := h.service.CreateListing(c.Request.Context(), h.getUserID(c), &req)
	if err != nil {
		h.logger.Error("Failed to create listing", zap.Error(err))
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, listing)
}

// getListing handles GET /api/v1/marketplace/listings/:id
func (h *Handler) getListing(c *gin.Context) {
	listing, err := h.service.GetListing(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, listing)
}

// placeBid handles POST /api/v1/marketplace/listings/:id/bids
func (h *Handler) placeBid(c *gin.Context) {
	var req PlaceBidRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	bid, err := h.service.PlaceBid(c.Request.Context(), c.Param("id"), h.getUserID(c), req.Amount)
	if err != nil {
		h.logger.Error("Failed to place bid", zap.String("listing_id", c.Param("id")), zap.Error(err))
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, bid)
}

// acceptBid handles POST /api/v1/marketplace/listings/:id/bids/:bidId/accept
func (h *Handler) acceptBid(c *gin.Context) {
	err := h.service.AcceptBid(c.Request.Context(), c.Param("id"), c.Param("bidId"), h.getUserID(c))
	if err != nil {
		h.logger.Error("Failed to accept bid", zap.String("listing_id", c.Param("id")), zap.Error(err))
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "filled"})
}

// cancelListing handles POST /api/v1/marketplace/listings/:id/cancel
func (h *Handler) cancelListing(c *gin.Context) {
	err := h.service.CancelListing(c.Request.Context(), c.Param("id"), h.getUserID(c))
	if err != nil {
		h.logger.Error("Failed to cancel listing", zap.String("listing_id", c.Param("id")), zap.Error(err))
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "cancelled"})
}

// listByAsset handles GET /api/v1/marketplace/assets/:assetId/listings
func (h *Handler) listByAsset(c *gin.Context) {
	listings, err := h.service.ListByAsset(c.Request.Context(), c.Param("assetId"), ListingStatus(c.Query("status")))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"listings": listings, "count": len(listings)})
}

// listTrades handles GET /api/v1/marketplace/assets/:assetId/trades
func (h *Handler) listTrades(c *gin.Context) {
	limit := 50
	if val := c.Query("limit"); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			limit = i
		}
	}

	trades, err := h.service.ListTrades(c.Request.Context(), c.Param("assetId"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"trades": trades, "count": len(trades)})
}

// getUserID resolves the acting user. In production this comes from the
// auth context; the gateway forwards it as a header.
func (h *Handler) getUserID(c *gin.Context) string {
	if userID := c.GetString("user_id"); userID != "" {
		return userID
	}
	return c.GetHeader("X-User-ID")
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrListingNotFound), errors.Is(err, ErrBidNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrListingNotActive), errors.Is(err, ErrBidTooLow),
		errors.Is(err, ErrInsufficientHoldings), errors.Is(err, ErrTradingDisabled):
		return http.StatusConflict
	case errors.Is(err, ErrNotSeller):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}
