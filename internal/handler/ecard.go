package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"ecard/internal/domain"
	"ecard/internal/service"
)

// ECardHandler handles HTTP requests for E-Cards.
type ECardHandler struct {
	ecardService *service.ECardService
}

// NewECardHandler creates a new ECardHandler.
func NewECardHandler(ecardService *service.ECardService) *ECardHandler {
	return &ECardHandler{ecardService: ecardService}
}

// MarkEligible handles POST /v1/drivers/:id/eligibility
func (h *ECardHandler) MarkEligible(c *gin.Context) {
	card, err := h.ecardService.MarkEligible(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, toECardResponse(card))
}

// GetECard handles GET /v1/ecards/:id
func (h *ECardHandler) GetECard(c *gin.Context) {
	card, err := h.ecardService.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	if !mayActFor(c, card.DriverID) {
		respondForbidden(c)
		return
	}

	respondJSON(c, http.StatusOK, toECardResponse(card))
}

// ListByDriver handles GET /v1/drivers/:id/ecards
func (h *ECardHandler) ListByDriver(c *gin.Context) {
	cards, err := h.ecardService.ListByDriver(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	out := make([]ECardResponse, 0, len(cards))
	for _, card := range cards {
		out = append(out, toECardResponse(card))
	}
	respondJSON(c, http.StatusOK, out)
}

// Events handles GET /v1/ecards/:id/events
func (h *ECardHandler) Events(c *gin.Context) {
	events, err := h.ecardService.Events(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, toEventResponses(events))
}

// Activate handles POST /v1/ecards/:id/activate
func (h *ECardHandler) Activate(c *gin.Context) {
	h.apply(c, h.ecardService.Activate)
}

// Reinstate handles POST /v1/ecards/:id/reinstate
func (h *ECardHandler) Reinstate(c *gin.Context) {
	h.apply(c, h.ecardService.Reinstate)
}

// Expire handles POST /v1/ecards/:id/expire
func (h *ECardHandler) Expire(c *gin.Context) {
	h.apply(c, h.ecardService.Expire)
}

// Suspend handles POST /v1/ecards/:id/suspend
func (h *ECardHandler) Suspend(c *gin.Context) {
	h.applyWithReason(c, h.ecardService.Suspend)
}

// Revoke handles POST /v1/ecards/:id/revoke
func (h *ECardHandler) Revoke(c *gin.Context) {
	h.applyWithReason(c, h.ecardService.Revoke)
}

func (h *ECardHandler) apply(c *gin.Context, fn func(ctx context.Context, id string) (*domain.ECard, error)) {
	card, err := fn(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, toECardResponse(card))
}

func (h *ECardHandler) applyWithReason(c *gin.Context, fn func(ctx context.Context, id, reason string) (*domain.ECard, error)) {
	var req ReasonRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "invalid request body")
		return
	}

	card, err := fn(c.Request.Context(), c.Param("id"), req.Reason)
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, toECardResponse(card))
}
