package lending

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Francklinok/easyrent-defi-core/internal/oracle"
)

// Handler handles HTTP requests for lending operations
type Handler struct {
	service *Service
	logger  *zap.Logger
}

// NewHandler creates a new lending handler
func NewHandler(service *Service, logger *zap.Logger) *Handler {
	return &Handler{
		service: service,
		logger:  logger,
	}
}

// RegisterRoutes registers lending routes
func (h *Handler) RegisterRoutes(router *gin.RouterGroup) {
	lending := router.Group("/lending")
	{
		lending.POST("/pools", h.createPool)
		lending.GET("/pools", h.listPools)
		lending.GET("/pools/:id", h.getPool)
		lending.POST("/supply", h.supply)
		lending.POST("/borrow", h.borrow)
		lending.POST("/positions/:id/repay", h.repay)
		lending.POST("/positions/:id/withdraw", h.withdraw)
		lending.POST("/positions/:id/liquidate", h.liquidate)
		lending.GET("/positions/:id", h.getPosition)
		lending.GET("/positions", h.listPositions)
	}
}

// createPool handles POST /api/v1/lending/pools
func (h *Handler) createPool(c *gin.Context) {
	var req CreatePoolRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	pool, err := h.service.CreatePool(c.Request.Context(), &req)
	if err != nil {
		h.logger.Error("Failed to create pool", zap.Error(err))
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, pool)
}

// listPools handles GET /api/v1/lending/pools
func (h *Handler) listPools(c *gin.Context) {
	pools, err := h.service.ListPools(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"pools": pools, "count": len(pools)})
}

// getPool handles GET /api/v1/lending/pools/:id
func (h *Handler) getPool(c *gin.Context) {
	pool, err := h.service.GetPool(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, pool)
}

// supply handles POST /api/v1/lending/supply
func (h *Handler) supply(c *gin.Context) {
	var req SupplyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	position, err := h.service.Supply(c.Request.Context(), h.getUserID(c), &req)
	if err != nil {
		h.logger.Error("Failed to supply", zap.String("pool_id", req.PoolID), zap.Error(err))
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, position)
}

// borrow handles POST /api/v1/lending/borrow
func (h *Handler) borrow(c *gin.Context) {
	var req BorrowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	position, err := h.service.Borrow(c.Request.Context(), h.getUserID(c), &req)
	if err != nil {
		h.logger.Error("Failed to borrow", zap.String("pool_id", req.PoolID), zap.Error(err))
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, position)
}

// repay handles POST /api/v1/lending/positions/:id/repay
func (h *Handler) repay(c *gin.Context) {
	var req RepayRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	position, err := h.service.Repay(c.Request.Context(), h.getUserID(c), c.Param("id"), req.Amount)
	if err != nil {
		h.logger.Error("Failed to repay", zap.String("position_id", c.Param("id")), zap.Error(err))
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, position)
}

// withdraw handles POST /api/v1/lending/positions/:id/withdraw
func (h *Handler) withdraw(c *gin.Context) {
	var req WithdrawRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	position, err := h.service.Withdraw(c.Request.Context(), h.getUserID(c), c.Param("id"), req.Amount)
	if err != nil {
		h.logger.Error("Failed to withdraw", zap.String("position_id", c.Param("id")), zap.Error(err))
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, position)
}

// liquidate handles POST /api/v1/lending/positions/:id/liquidate
func (h *Handler) liquidate(c *gin.Context) {
	seized, err := h.service.Liquidate(c.Request.Context(), h.getUserID(c), c.Param("id"))
	if err != nil {
		h.logger.Error("Failed to liquidate", zap.String("position_id", c.Param("id")), zap.Error(err))
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"seized_collateral": seized})
}

// getPosition handles GET /api/v1/lending/positions/:id
func (h *Handler) getPosition(c *gin.Context) {
	position, err := h.service.GetPosition(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, position)
}

// listPositions handles GET /api/v1/lending/positions
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
	case errors.Is(err, ErrInsufficientCollateral), errors.Is(err, ErrInsufficientLiquidity),
		errors.Is(err, ErrOverRepayment), errors.Is(err, ErrNotLiquidatable),
		errors.Is(err, ErrPositionNotActive):
		return http.StatusConflict
	case errors.Is(err, ErrNotOwner):
		return http.StatusForbidden
	case errors.Is(err, oracle.ErrPriceUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
