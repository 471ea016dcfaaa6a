package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"ecard/internal/service"
)

// GatewayHandler receives payment outcomes reported by the payment gateway.
type GatewayHandler struct {
	paymentService *service.PaymentService
}

// NewGatewayHandler creates a new GatewayHandler.
func NewGatewayHandler(paymentService *service.PaymentService) *GatewayHandler {
	return &GatewayHandler{paymentService: paymentService}
}

// ConfirmPaymentRequest is the gateway's confirmation callback body.
type ConfirmPaymentRequest struct {
	GatewayReference string `json:"gateway_reference"`
}

// Confirm handles POST /v1/gateway/payments/:id/confirm
func (h *GatewayHandler) Confirm(c *gin.Context) {
	var req ConfirmPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "invalid request body")
		return
	}

	payment, err := h.paymentService.Confirm(c.Request.Context(), c.Param("id"), req.GatewayReference)
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, toPaymentResponse(payment))
}

// Fail handles POST /v1/gateway/payments/:id/fail
func (h *GatewayHandler) Fail(c *gin.Context) {
	var req ReasonRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "invalid request body")
		return
	}

	payment, err := h.paymentService.Fail(c.Request.Context(), c.Param("id"), req.Reason)
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, toPaymentResponse(payment))
}
