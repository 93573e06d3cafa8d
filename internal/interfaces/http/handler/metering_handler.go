package handler

import (
	"context"

	appmetering "github.com/erp/billing/internal/application/metering"
	"github.com/erp/billing/internal/domain/metering"
	"github.com/erp/billing/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
)

// EventIngestor is the slice of the ingestor the API drives.
type EventIngestor interface {
	Emit(ctx context.Context, event metering.MeterEvent) (metering.MeterEvent, error)
	Flush(ctx context.Context) error
	Pending() int
	DeadLetters(ctx context.Context) ([]metering.DeadLetter, error)
}

// UsageAggregator is the slice of the aggregator the API drives.
type UsageAggregator interface {
	Aggregate(ctx context.Context) (appmetering.AggregateResult, error)
	Summaries(ctx context.Context, filter metering.SummaryFilter) ([]metering.UsageSummary, error)
}

// MeteringHandler serves event ingestion and usage summaries.
type MeteringHandler struct {
	BaseHandler
	ingestor   EventIngestor
	aggregator UsageAggregator
}

// NewMeteringHandler creates a new MeteringHandler
func NewMeteringHandler(ingestor EventIngestor, aggregator UsageAggregator) *MeteringHandler {
	return &MeteringHandler{ingestor: ingestor, aggregator: aggregator}
}

// RegisterRoutes implements router.RouteRegistrar
func (h *MeteringHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/meter-events", h.Emit)
	rg.POST("/meter-events/flush", h.Flush)
	rg.GET("/dead-letters", h.DeadLetters)
	rg.POST("/aggregate", h.Aggregate)
	rg.GET("/usage-summaries", h.Summaries)
}

// FlushResponse reports the buffer after a flush.
type FlushResponse struct {
	Pending int `json:"pending"`
}

// Emit godoc
//
//	@Summary	Record a meter event
//	@Router		/meter-events [post]
func (h *MeteringHandler) Emit(c *gin.Context) {
	var event metering.MeterEvent
	if err := c.ShouldBindJSON(&event); err != nil {
		h.Error(c, dto.ErrCodeInvalidJSON, err.Error())
		return
	}

	stored, err := h.ingestor.Emit(c.Request.Context(), event)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Accepted(c, stored)
}

// Flush godoc
//
//	@Summary	Write buffered events to the store now
//	@Router		/meter-events/flush [post]
func (h *MeteringHandler) Flush(c *gin.Context) {
	if err := h.ingestor.Flush(c.Request.Context()); err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, FlushResponse{Pending: h.ingestor.Pending()})
}

// DeadLetters lists events that exhausted their retries.
func (h *MeteringHandler) DeadLetters(c *gin.Context) {
	letters, err := h.ingestor.DeadLetters(c.Request.Context())
	if err != nil {
		h.HandleError(c, err)
		return
	}
	if letters == nil {
		letters = []metering.DeadLetter{}
	}
	h.List(c, letters, len(letters), 0, 0)
}

// Aggregate runs one aggregation pass.
func (h *MeteringHandler) Aggregate(c *gin.Context) {
	result, err := h.aggregator.Aggregate(c.Request.Context())
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, result)
}

// Summaries lists aggregated usage.
func (h *MeteringHandler) Summaries(c *gin.Context) {
	var q dto.SummaryQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		h.BindError(c, err)
		return
	}

	summaries, err := h.aggregator.Summaries(c.Request.Context(), metering.SummaryFilter{
		TenantID: q.Tenant,
		From:     q.From,
		To:       q.To,
		Limit:    q.Limit,
	})
	if err != nil {
		h.HandleError(c, err)
		return
	}
	if summaries == nil {
		summaries = []metering.UsageSummary{}
	}
	h.List(c, summaries, len(summaries), q.Limit, 0)
}
