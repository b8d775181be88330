package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"order-fulfillment/internal/service"
	"order-fulfillment/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// UserHeader carries the caller identity set by the upstream gateway
const UserHeader = "X-User-ID"

// defaultActor is recorded for status updates that arrive without an identity
const defaultActor = "admin"

// ReadinessCheck reports whether a dependency is reachable
type ReadinessCheck func(ctx context.Context) error

// Handler contains HTTP handlers
type Handler struct {
	coordinator *service.Coordinator
	ready       ReadinessCheck
	logger      *zap.Logger
}

// NewHandler creates a new HTTP handler. ready may be nil.
func NewHandler(coordinator *service.Coordinator, ready ReadinessCheck) *Handler {
	return &Handler{
		coordinator: coordinator,
		ready:       ready,
		logger:      util.GetLogger(),
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		v1.POST("/orders", h.createOrder)
		v1.GET("/orders/:id", h.getOrder)
		v1.PUT("/orders/:id/status", h.updateOrderStatus)

		v1.POST("/coupons/validate", h.validateCoupon)
		v1.POST("/admin/coupons", h.createCoupon)

		v1.GET("/products/:id/stock", h.getStock)
	}
}

// UpdateStatusRequest is the body of a status update
type UpdateStatusRequest struct {
	Status string `json:"status" binding:"required"`
	Note   string `json:"note"`
	Reason string `json:"reason"`
}

// ValidateCouponRequest is the body of a coupon preview
type ValidateCouponRequest struct {
	Code        string          `json:"code" binding:"required"`
	OrderAmount decimal.Decimal `json:"orderAmount"`
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck handles readiness check requests
func (h *Handler) readinessCheck(c *gin.Context) {
	if h.ready != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := h.ready(ctx); err != nil {
			h.logger.Warn("Readiness check failed", zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "unavailable",
				"time":   time.Now().Unix(),
			})
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// createOrder handles order placement after payment verification
func (h *Handler) createOrder(c *gin.Context) {
	var req service.CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	order, err := h.coordinator.CreateOrder(c.Request.Context(), c.GetHeader(UserHeader), &req)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"order":   order,
	})
}

// getOrder handles get order by ID
func (h *Handler) getOrder(c *gin.Context) {
	orderID, ok := pathID(c, "Invalid order ID")
	if !ok {
		return
	}

	order, err := h.coordinator.GetOrder(c.Request.Context(), orderID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"order":   order,
	})
}

// updateOrderStatus handles status transitions
func (h *Handler) updateOrderStatus(c *gin.Context) {
	orderID, ok := pathID(c, "Invalid order ID")
	if !ok {
		return
	}

	var req UpdateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	actor := c.GetHeader(UserHeader)
	if actor == "" {
		actor = defaultActor
	}

	order, err := h.coordinator.UpdateStatus(c.Request.Context(), orderID, req.Status, req.Note, req.Reason, actor)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"order":   order,
		"message": "Order status updated to " + string(order.Status),
	})
}

// validateCoupon previews a coupon without recording usage
func (h *Handler) validateCoupon(c *gin.Context) {
	var req ValidateCouponRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	preview, err := h.coordinator.PreviewCoupon(c.Request.Context(), c.GetHeader(UserHeader), req.Code, req.OrderAmount)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":     true,
		"code":        preview.Code,
		"discount":    preview.Discount,
		"finalAmount": preview.FinalAmount,
	})
}

// createCoupon handles coupon creation by an administrator
func (h *Handler) createCoupon(c *gin.Context) {
	var req service.CreateCouponRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	coupon, err := h.coordinator.CreateCoupon(c.Request.Context(), &req)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"coupon":  coupon,
	})
}

// getStock returns the stock view of a product
func (h *Handler) getStock(c *gin.Context) {
	productID, ok := pathID(c, "Invalid product ID")
	if !ok {
		return
	}

	stock, err := h.coordinator.GetStock(c.Request.Context(), productID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"productId": productID,
		"stock":     stock,
	})
}

func (h *Handler) respondError(c *gin.Context, err error) {
	oe := service.AsOrderError(err)
	if oe.Status >= http.StatusInternalServerError {
		h.logger.Error("Request failed",
			zap.String("path", c.FullPath()),
			zap.Error(err))
	}

	c.JSON(oe.Status, gin.H{
		"success": false,
		"error":   oe.Message,
		"code":    oe.Code,
	})
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{
		"success": false,
		"error":   "Invalid request body",
		"code":    "invalid_request",
		"details": err.Error(),
	})
}

func pathID(c *gin.Context, msg string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   msg,
			"code":    "invalid_id",
		})
		return 0, false
	}
	return id, true
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
