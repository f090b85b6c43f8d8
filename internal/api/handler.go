package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"payment-service/internal/gateway"
	"payment-service/internal/service"
	"payment-service/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler contains HTTP handlers
type Handler struct {
	payments   *service.PaymentService
	customers  *service.CustomerService
	reconciler *service.Reconciler
}

// NewHandler creates a new HTTP handler
func NewHandler(payments *service.PaymentService, customers *service.CustomerService, reconciler *service.Reconciler) *Handler {
	return &Handler{
		payments:   payments,
		customers:  customers,
		reconciler: reconciler,
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

	router.POST("/webhooks/stripe", h.handleWebhook)

	v1 := router.Group("/api/v1")
	{
		v1.POST("/payments", h.createPayment)
		v1.GET("/payments/:id", h.getPayment)
		v1.POST("/payments/:id/confirm", h.confirmPayment)
		v1.POST("/payments/:id/cancel", h.cancelPayment)
		v1.GET("/payments/customer/:customerId", h.listPaymentsByCustomer)

		v1.POST("/customers", h.createCustomer)
		v1.GET("/customers/:id", h.getCustomer)
		v1.GET("/customers/email/:email", h.getCustomerByEmail)
		v1.PUT("/customers/:id", h.updateCustomer)
		v1.DELETE("/customers/:id", h.deleteCustomer)
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

// handleWebhook is the event ingress: raw body plus signature header in,
// 200 on success, 400 on authenticity failures, 502 on downstream failure
// so the event source redelivers.
func (h *Handler) handleWebhook(c *gin.Context) {
	signature := c.GetHeader("Stripe-Signature")
	if signature == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Missing Stripe-Signature header",
		})
		return
	}

	payload, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Failed to read request body",
		})
		return
	}

	if err := h.reconciler.ProcessEvent(c.Request.Context(), payload, signature); err != nil {
		if errors.Is(err, gateway.ErrSignatureInvalid) || errors.Is(err, gateway.ErrMalformedPayload) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": err.Error(),
			})
			return
		}
		c.JSON(http.StatusBadGateway, gin.H{
			"error": "Failed to process event",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"received": true})
}

// createPayment handles payment intent creation
func (h *Handler) createPayment(c *gin.Context) {
	var req service.CreateIntentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	payment, err := h.payments.CreateIntent(c.Request.Context(), &req)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": payment})
}

// getPayment handles get payment by key
func (h *Handler) getPayment(c *gin.Context) {
	payment, err := h.payments.GetIntent(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": payment})
}

// confirmPayment handles payment intent confirmation
func (h *Handler) confirmPayment(c *gin.Context) {
	var req struct {
		PaymentMethodID string `json:"payment_method_id,omitempty"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "Invalid request body",
				"details": err.Error(),
			})
			return
		}
	}

	payment, err := h.payments.ConfirmIntent(c.Request.Context(), c.Param("id"), req.PaymentMethodID)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": payment})
}

// cancelPayment handles payment intent cancellation
func (h *Handler) cancelPayment(c *gin.Context) {
	payment, err := h.payments.CancelIntent(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": payment})
}

// listPaymentsByCustomer handles listing a customer's payments
func (h *Handler) listPaymentsByCustomer(c *gin.Context) {
	payments, err := h.payments.ListByCustomer(c.Request.Context(), c.Param("customerId"))
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": payments})
}

// createCustomer handles customer creation
func (h *Handler) createCustomer(c *gin.Context) {
	var req service.CreateCustomerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	customer, err := h.customers.CreateCustomer(c.Request.Context(), &req)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": customer})
}

// getCustomer handles get customer by key
func (h *Handler) getCustomer(c *gin.Context) {
	customer, err := h.customers.GetCustomer(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": customer})
}

// getCustomerByEmail handles get customer by email
func (h *Handler) getCustomerByEmail(c *gin.Context) {
	customer, err := h.customers.GetCustomerByEmail(c.Request.Context(), c.Param("email"))
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": customer})
}

// updateCustomer handles customer updates
func (h *Handler) updateCustomer(c *gin.Context) {
	var req service.UpdateCustomerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	customer, err := h.customers.UpdateCustomer(c.Request.Context(), c.Param("id"), &req)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": customer})
}

// deleteCustomer handles customer deletion
func (h *Handler) deleteCustomer(c *gin.Context) {
	if err := h.customers.DeleteCustomer(c.Request.Context(), c.Param("id")); err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Customer deleted"})
}

// writeError maps service errors to HTTP responses
func (h *Handler) writeError(c *gin.Context, err error) {
	switch {
	case service.IsValidation(err):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrPaymentNotFound),
		errors.Is(err, service.ErrCustomerNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrCustomerExists),
		errors.Is(err, service.ErrGatewayLinkMissing):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		var gwErr *gateway.Error
		if errors.As(err, &gwErr) {
			c.JSON(http.StatusBadGateway, gin.H{"error": "Payment gateway request failed"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
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
