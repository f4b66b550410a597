package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"marketplace/internal/payment"
	"marketplace/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Leaderboard serves the redis-backed sales ranking
type Leaderboard interface {
	TopSellers(ctx context.Context, limit int64) ([]string, error)
}

// Handler contains HTTP handlers
type Handler struct {
	orderService   *service.OrderService
	webhookService *service.WebhookService
	leaderboard    Leaderboard
	jwtSecret      string
	readyChecks    []func() error
}

// NewHandler creates a new HTTP handler
func NewHandler(orderService *service.OrderService, webhookService *service.WebhookService, leaderboard Leaderboard, jwtSecret string, readyChecks ...func() error) *Handler {
	return &Handler{
		orderService:   orderService,
		webhookService: webhookService,
		leaderboard:    leaderboard,
		jwtSecret:      jwtSecret,
		readyChecks:    readyChecks,
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		v1.POST("/webhooks/stripe", h.stripeWebhook)
		v1.GET("/assets/top-sellers", h.topSellers)

		orders := v1.Group("/orders", authMiddleware(h.jwtSecret))
		{
			orders.POST("", h.createOrder)
			orders.GET("", h.listOrders)
			orders.GET("/purchased-assets", h.purchasedAssets)
			orders.GET("/seller", h.sellerOrders)
			orders.GET("/:id", h.getOrder)
		}
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck verifies the backing stores are reachable
func (h *Handler) readinessCheck(c *gin.Context) {
	for _, check := range h.readyChecks {
		if err := check(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "not ready",
				"error":  err.Error(),
			})
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

type createOrderRequest struct {
	AssetIDs []string `json:"asset_ids" binding:"required"`
}

// createOrder handles order creation
func (h *Handler) createOrder(c *gin.Context) {
	var req createOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	resp, err := h.orderService.CreateOrder(
		c.Request.Context(),
		c.GetString("userID"),
		c.GetString("userEmail"),
		req.AssetIDs,
	)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}

	c.JSON(http.StatusCreated, resp)
}

// getOrder handles get order by ID
func (h *Handler) getOrder(c *gin.Context) {
	order, items, err := h.orderService.GetOrder(c.Request.Context(), c.Param("id"), c.GetString("userID"))
	if err != nil {
		h.writeServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"order": order,
		"items": items,
	})
}

// listOrders returns the caller's orders, newest first
func (h *Handler) listOrders(c *gin.Context) {
	orders, err := h.orderService.OrdersForBuyer(c.Request.Context(), c.GetString("userID"))
	if err != nil {
		h.writeServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

// purchasedAssets returns the caller's paid-for assets, deduplicated
func (h *Handler) purchasedAssets(c *gin.Context) {
	assets, err := h.orderService.PurchasedAssets(c.Request.Context(), c.GetString("userID"))
	if err != nil {
		h.writeServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"assets": assets})
}

// sellerOrders returns order items sold by the caller
func (h *Handler) sellerOrders(c *gin.Context) {
	items, err := h.orderService.OrdersForSeller(c.Request.Context(), c.GetString("userID"))
	if err != nil {
		h.writeServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"items": items})
}

// topSellers returns the best-selling asset ids from the redis leaderboard
func (h *Handler) topSellers(c *gin.Context) {
	limit, err := strconv.ParseInt(c.DefaultQuery("limit", "10"), 10, 64)
	if err != nil || limit < 1 || limit > 100 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 100"})
		return
	}

	assetIDs, err := h.leaderboard.TopSellers(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Leaderboard unavailable"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"asset_ids": assetIDs})
}

// stripeWebhook receives payment notifications. The raw body is needed for
// signature verification, so the payload is never bound through JSON binding.
func (h *Handler) stripeWebhook(c *gin.Context) {
	payloadBytes, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unreadable payload"})
		return
	}

	err = h.webhookService.HandleEvent(c.Request.Context(), payloadBytes, c.GetHeader("Stripe-Signature"))
	if err != nil {
		if errors.Is(err, payment.ErrInvalidSignature) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid signature"})
			return
		}
		// transient failure: answer non-2xx so the sender redelivers
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to process event"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"received": true})
}

// writeServiceError maps service errors onto HTTP statuses
func (h *Handler) writeServiceError(c *gin.Context, err error) {
	var (
		validationErr *service.ValidationError
		unavailable   *service.AssetUnavailableError
		selfPurchase  *service.SelfPurchaseError
		alreadyOwned  *service.AlreadyPurchasedError
		gatewayErr    *service.GatewayError
	)

	switch {
	case errors.As(err, &validationErr),
		errors.As(err, &unavailable),
		errors.As(err, &selfPurchase),
		errors.As(err, &alreadyOwned):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": "Forbidden"})
	case errors.Is(err, service.ErrOrderNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Order not found"})
	case errors.As(err, &gatewayErr):
		c.JSON(http.StatusBadGateway, gin.H{"error": "Checkout session could not be created"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}
