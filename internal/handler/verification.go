package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"ecard/internal/middleware"
	"ecard/internal/service"
)

// VerificationHandler serves border agents scanning E-Cards.
type VerificationHandler struct {
	verificationService *service.VerificationService
}

// NewVerificationHandler creates a new VerificationHandler.
func NewVerificationHandler(verificationService *service.VerificationService) *VerificationHandler {
	return &VerificationHandler{verificationService: verificationService}
}

// Verify handles POST /v1/ecards/:id/verify. The scanning agent is the caller.
func (h *VerificationHandler) Verify(c *gin.Context) {
	agentID, _ := middleware.Subject(c)

	result, err := h.verificationService.Verify(c.Request.Context(), c.Param("id"), agentID)
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, toVerificationResponse(result))
}

// ListCrossings handles GET /v1/ecards/:id/crossings
func (h *VerificationHandler) ListCrossings(c *gin.Context) {
	attempts, err := h.verificationService.ListAttempts(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	out := make([]CrossingResponse, 0, len(attempts))
	for _, a := range attempts {
		out = append(out, CrossingResponse{
			ID:           a.ID,
			ECardID:      a.ECardID,
			AgentID:      a.AgentID,
			Timestamp:    formatTime(a.Timestamp),
			Result:       string(a.Result),
			DenialReason: string(a.DenialReason),
		})
	}
	respondJSON(c, http.StatusOK, out)
}
