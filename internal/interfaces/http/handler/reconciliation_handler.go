package handler

import (
	"context"
	"time"

	"github.com/erp/billing/internal/application/reconciliation"
	"github.com/erp/billing/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
)

// Reconciler produces drift reports.
type Reconciler interface {
	Reconcile(ctx context.Context, start, end time.Time) (*reconciliation.Report, error)
}

// ReconciliationHandler serves on-demand drift reports.
type ReconciliationHandler struct {
	BaseHandler
	reconciler Reconciler
	now        func() time.Time
}

// NewReconciliationHandler creates a new ReconciliationHandler
func NewReconciliationHandler(reconciler Reconciler) *ReconciliationHandler {
	return &ReconciliationHandler{
		reconciler: reconciler,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// RegisterRoutes implements router.RouteRegistrar
func (h *ReconciliationHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/reconciliation", h.Report)
}

// Report godoc
//
//	@Summary	Compare aggregated charges with ledger debits
//	@Param		start	query	string	false	"RFC3339 window start, default yesterday 00:00 UTC"
//	@Param		end		query	string	false	"RFC3339 window end, default today 00:00 UTC"
//	@Router		/reconciliation [get]
func (h *ReconciliationHandler) Report(c *gin.Context) {
	var q dto.ReconciliationQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		h.BindError(c, err)
		return
	}

	start, end := previousDay(h.now())
	if !q.Start.IsZero() {
		start = q.Start
	}
	if !q.End.IsZero() {
		end = q.End
	}
	if !end.After(start) {
		h.BadRequest(c, "end must be after start")
		return
	}

	report, err := h.reconciler.Reconcile(c.Request.Context(), start, end)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, report)
}
