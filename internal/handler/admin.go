package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"ecard/internal/service"
)

const defaultReconcileLimit = 100

// AdminHandler exposes operator maintenance endpoints.
type AdminHandler struct {
	reconciler *service.Reconciler
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(reconciler *service.Reconciler) *AdminHandler {
	return &AdminHandler{reconciler: reconciler}
}

// ReconcileResponse reports what a manual reconciliation repaired.
type ReconcileResponse struct {
	Reconcile *service.ReconcileSummary `json:"reconcile"`
	Expiry    *service.ReconcileSummary `json:"expiry"`
}

// Reconcile handles POST /v1/admin/reconcile?limit=N
func (h *AdminHandler) Reconcile(c *gin.Context) {
	limit := defaultReconcileLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondBadRequest(c, "limit must be a positive integer")
			return
		}
		limit = n
	}

	ctx := c.Request.Context()
	reconciled, err := h.reconciler.Reconcile(ctx, limit)
	if err != nil {
		respondError(c, err)
		return
	}
	expired, err := h.reconciler.ExpireDue(ctx, limit)
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, ReconcileResponse{Reconcile: reconciled, Expiry: expired})
}
