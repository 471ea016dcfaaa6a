package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"ecard/internal/domain"
	"ecard/internal/service"
)

// PaymentHandler handles HTTP requests for payments.
type PaymentHandler struct {
	paymentService *service.PaymentService
}

// NewPaymentHandler creates a new PaymentHandler.
func NewPaymentHandler(paymentService *service.PaymentService) *PaymentHandler {
	return &PaymentHandler{paymentService: paymentService}
}

// InitiatePaymentRequest is the HTTP request body for paying the E-Card fee.
type InitiatePaymentRequest struct {
	DriverID string `json:"driver_id"`
	// Amount is in minor currency units (cents): a fee of 500.00 is sent as 50000.
	Amount   int64  `json:"amount"`
	Method   string `json:"method"`
}

// Initiate handles POST /v1/payments
func (h *PaymentHandler) Initiate(c *gin.Context) {
	var req InitiatePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "invalid request body")
		return
	}
	if !mayActFor(c, req.DriverID) {
		respondForbidden(c)
		return
	}

	payment, err := h.paymentService.Initiate(c.Request.Context(), req.DriverID, domain.Money(req.Amount), domain.PaymentMethod(req.Method))
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusCreated, toPaymentResponse(payment))
}

// GetPayment handles GET /v1/payments/:id
func (h *PaymentHandler) GetPayment(c *gin.Context) {
	payment, err := h.paymentService.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	if !mayActFor(c, payment.DriverID) {
		respondForbidden(c)
		return
	}

	respondJSON(c, http.StatusOK, toPaymentResponse(payment))
}

// ListByDriver handles GET /v1/drivers/:id/payments
func (h *PaymentHandler) ListByDriver(c *gin.Context) {
	payments, err := h.paymentService.ListByDriver(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	out := make([]PaymentResponse, 0, len(payments))
	for _, p := range payments {
		out = append(out, toPaymentResponse(p))
	}
	respondJSON(c, http.StatusOK, out)
}

// Refund handles POST /v1/payments/:id/refund
func (h *PaymentHandler) Refund(c *gin.Context) {
	var req ReasonRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "invalid request body")
		return
	}

	payment, err := h.paymentService.Refund(c.Request.Context(), c.Param("id"), req.Reason)
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, toPaymentResponse(payment))
}

// Events handles GET /v1/payments/:id/events
func (h *PaymentHandler) Events(c *gin.Context) {
	events, err := h.paymentService.Events(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, toEventResponses(events))
}
