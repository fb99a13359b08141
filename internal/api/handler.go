package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"pricing-service/internal/models"
	"pricing-service/internal/redisclient"
	"pricing-service/internal/service"
	"pricing-service/internal/store"
	"pricing-service/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const idempotencyTTL = 24 * time.Hour

// Handler contains HTTP handlers
type Handler struct {
	reconcileService *service.ReconcileService
	store            *store.Store
	redis            *redisclient.Client
}

// NewHandler creates a new HTTP handler. redis may be nil; idempotency keys
// are then ignored.
func NewHandler(reconcileService *service.ReconcileService, store *store.Store, redis *redisclient.Client) *Handler {
	return &Handler{
		reconcileService: reconcileService,
		store:            store,
		redis:            redis,
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
		v1.POST("/orders/:id/reconcile", h.reconcileOrder)
		v1.GET("/orders/:id/pricing", h.getOrderPricing)
		v1.GET("/orders/:id/drift-reports", h.getDriftReports)
		v1.POST("/pricing/preview", h.previewPricing)
	}
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
	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// reconcileOrder runs one save cycle over an order's line items. A repeated
// Idempotency-Key header short-circuits with 409 instead of re-running the
// cycle.
func (h *Handler) reconcileOrder(c *gin.Context) {
	orderID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid order ID",
		})
		return
	}

	var req service.ReconcileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}
	req.OrderID = orderID

	idempotencyKey := c.GetHeader("Idempotency-Key")
	if h.redis != nil && idempotencyKey != "" {
		seen, err := h.redis.CheckIdempotencyKey(c.Request.Context(), idempotencyKey)
		if err != nil {
			util.GetLogger().Warn("Idempotency check failed, proceeding without it")
		} else if seen {
			c.JSON(http.StatusConflict, gin.H{
				"error": "Duplicate request",
				"key":   idempotencyKey,
			})
			return
		}
	}

	report, err := h.reconcileService.Reconcile(c.Request.Context(), &req)
	if errors.Is(err, service.ErrOrderLocked) {
		c.JSON(http.StatusConflict, gin.H{
			"error": "Order is being reconciled by another request",
		})
		return
	}
	if err != nil {
		// The report still describes the item-level writes that landed before
		// the aggregate step failed.
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Reconciliation failed",
			"details": err.Error(),
			"report":  report,
		})
		return
	}

	if h.redis != nil && idempotencyKey != "" {
		if body, err := json.Marshal(report); err == nil {
			if err := h.redis.SetIdempotencyKey(c.Request.Context(), idempotencyKey, body, idempotencyTTL); err != nil {
				util.GetLogger().Warn("Failed to store idempotency key")
			}
		}
	}

	c.JSON(http.StatusOK, report)
}

// getOrderPricing returns the current pricing state and drift warnings for
// an order without writing anything
func (h *Handler) getOrderPricing(c *gin.Context) {
	orderID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid order ID",
		})
		return
	}

	report, err := h.reconcileService.Inspect(c.Request.Context(), orderID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "Order not found",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, report)
}

// driftReportEntry is a persisted drift warning enriched with the product
// name for operator review.
type driftReportEntry struct {
	models.DriftWarning
	ProductName string `json:"product_name,omitempty"`
	ProductSKU  string `json:"product_sku,omitempty"`
}

// getDriftReports returns the drift history recorded by the audit worker
func (h *Handler) getDriftReports(c *gin.Context) {
	orderID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid order ID",
		})
		return
	}

	warnings, err := h.store.GetDriftReportsByOrderID(c.Request.Context(), orderID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to load drift reports",
			"details": err.Error(),
		})
		return
	}

	productIDs := make([]int64, 0, len(warnings))
	seen := make(map[int64]bool)
	for _, w := range warnings {
		if !seen[w.ProductID] {
			seen[w.ProductID] = true
			productIDs = append(productIDs, w.ProductID)
		}
	}

	byID := make(map[int64]models.Product)
	if products, err := h.store.GetProductsByIDs(c.Request.Context(), productIDs); err == nil {
		for _, p := range products {
			byID[p.ID] = p
		}
	}

	entries := make([]driftReportEntry, 0, len(warnings))
	for _, w := range warnings {
		entry := driftReportEntry{DriftWarning: w}
		if p, ok := byID[w.ProductID]; ok {
			entry.ProductName = p.Name
			entry.ProductSKU = p.SKU
		}
		entries = append(entries, entry)
	}

	c.JSON(http.StatusOK, gin.H{
		"order_id": orderID,
		"reports":  entries,
	})
}

// previewPricing resolves a hypothetical line item without touching the
// ledger
func (h *Handler) previewPricing(c *gin.Context) {
	var req service.PreviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	if req.ProductID == 0 {
		if req.SKU == "" {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Either product_id or sku is required",
			})
			return
		}
		product, err := h.store.GetProductBySKU(c.Request.Context(), req.SKU)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "Unknown SKU",
				"details": err.Error(),
			})
			return
		}
		req.ProductID = product.ID
	}

	resp, err := h.reconcileService.Preview(c.Request.Context(), &req)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "Preview failed",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, resp)
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
