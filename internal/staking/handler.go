package staking

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Handler handles HTTP requests for staking operations
type Handler struct {
	service *Service
	logger  *zap.Logger
}

// NewHandler creates a new staking handler
func NewHandler(service *Service, logger *zap.Logger) *Handler {
	return &Handler{
		service: service,
		logger:  logger,
	}
}

// RegisterRoutes registers staking routes
func (h *Handler) RegisterRoutes(router *gin.RouterGroup) {
	staking := router.Group("/staking")
	{
		staking.POST("/pools", h.createPool)
		staking.GET("/pools", h.listPools)
		staking.GET("/pools/:id", h.getPool)
		staking.POST("/stake", h.stake)
		staking.POST("/positions/:id/claim", h.claim)
		staking.POST("/positions/:id/unstake", h.unstake)
		staking.GET("/positions/:id", h.getPosition)
		staking.GET("/positions", h.listPositions)
	}
}

// createPool handles POST /api/v1/staking/pools
func (h *Handler) createPool(c *gin.Context) {
	var req CreateStakingPoolRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	pool, err := h.service.CreatePool(c.Request.Context(), &req)
	if err != nil {
		h.logger.Error("Failed to create staking pool", zap.Error(err))
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, pool)
}

// listPools handles GET /api/v1/staking/pools
func (h *Handler) listPools(c *gin.Context) {
	pools, err := h.service.ListPools(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"pools": pools, "count": len(pools)})
}

// getPool handles GET /api/v1/staking/pools/:id
func (h *Handler) getPool(c *gin.Context) {
	pool, err := h.service.GetPool(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, pool)
}

// stake handles POST /api/v1/staking/stake
func (h *Handler) stake(c *gin.Context) {
	var req StakeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	position, err := h.service.Stake(c.Request.Context(), h.getUserID(c), &req)
	if err != nil {
		h.logger.Error("Failed to stake", zap.String("pool_id", req.PoolID), zap.Error(err))
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, position)
}

// claim handles POST /api/v1/staking/positions/:id/claim
func (h *Handler) claim(c *gin.Context) {
	payout, err := h.service.ClaimRewards(c.Request.Context(), h.getUserID(c), c.Param("id"))
	if err != nil {
		h.logger.Error("Failed to claim rewards", zap.String("position_id", c.Param("id")), zap.Error(err))
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"rewards": payout})
}

// unstake handles POST /api/v1/staking/positions/:id/unstake
func (h *Handler) unstake(c *gin.Context) {
	position, err := h.service.Unstake(c.Request.Context(), h.getUserID(c), c.Param("id"))
	if err != nil {
		h.logger.Error("Failed to unstake", zap.String("position_id", c.Param("id")), zap.Error(err))
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, position)
}

// getPosition handles GET /api/v1/staking/positions/:id
func (h *Handler) getPosition(c *gin.Context) {
	position, err := h.service.GetPosition(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, position)
}

// listPositions handles GET /api/v1/staking/positions
func (h *Handler) listPositions(c *gin.Context) {
	positions, err := h.service.ListUserPositions(c.Request.Context(), h.getUserID(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"positions": positions, "count": len(positions)})
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
	case errors.Is(err, ErrPoolNotFound), errors.Is(err, ErrPositionNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrBelowMinimumStake), errors.Is(err, ErrInvalidLockup),
		errors.Is(err, ErrLockupActive), errors.Is(err, ErrPositionNotActive):
		return http.StatusConflict
	case errors.Is(err, ErrNotOwner):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}
