// Package handler holds the gin handlers of the billing API.
package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/erp/billing/internal/domain/credit"
	"github.com/erp/billing/internal/domain/metering"
	"github.com/erp/billing/internal/infrastructure/logger"
	"github.com/erp/billing/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// BaseHandler provides common handler utilities
type BaseHandler struct{}

func requestID(c *gin.Context) string {
	return logger.GetRequestID(c.Request.Context())
}

// Success sends a success response
func (h *BaseHandler) Success(c *gin.Context, data any) {
	c.JSON(http.StatusOK, dto.NewSuccessResponse(data))
}

// List sends a success response with list metadata
func (h *BaseHandler) List(c *gin.Context, data any, count, limit, offset int) {
	c.JSON(http.StatusOK, dto.NewListResponse(data, count, limit, offset))
}

// Created sends a 201 created response
func (h *BaseHandler) Created(c *gin.Context, data any) {
	c.JSON(http.StatusCreated, dto.NewSuccessResponse(data))
}

// Accepted sends a 202 accepted response
func (h *BaseHandler) Accepted(c *gin.Context, data any) {
	c.JSON(http.StatusAccepted, dto.NewSuccessResponse(data))
}

// Error sends an error response, deriving the status from the code
func (h *BaseHandler) Error(c *gin.Context, code, message string) {
	c.JSON(dto.GetHTTPStatus(code), dto.NewErrorResponse(code, message, requestID(c)))
}

// BadRequest sends a 400 bad request response
func (h *BaseHandler) BadRequest(c *gin.Context, message string) {
	h.Error(c, dto.ErrCodeBadRequest, message)
}

// BindError reports a request that failed to bind
func (h *BaseHandler) BindError(c *gin.Context, err error) {
	h.Error(c, dto.ErrCodeValidation, err.Error())
}

// HandleError maps domain errors to HTTP responses. Unknown errors become 500 and are logged.
func (h *BaseHandler) HandleError(c *gin.Context, err error) {
	if err == nil {
		return
	}

	if ibe, ok := credit.AsInsufficientBalance(err); ok {
		resp := dto.NewErrorResponse(dto.ErrCodeInsufficientBalance, "Insufficient balance", requestID(c))
		resp.Error.Details = dto.InsufficientBalanceDetails{Available: ibe.Available, Requested: ibe.Requested}
		c.JSON(http.StatusPaymentRequired, resp)
		return
	}

	switch {
	case errors.Is(err, credit.ErrDuplicateReference):
		h.Error(c, dto.ErrCodeDuplicateReference, err.Error())
	case errors.Is(err, credit.ErrInvalidAmount),
		errors.Is(err, credit.ErrInvalidTransactionType),
		errors.Is(err, credit.ErrTenantRequired),
		errors.Is(err, metering.ErrInvalidEvent):
		h.Error(c, dto.ErrCodeValidation, err.Error())
	case errors.Is(err, metering.ErrAggregationConflict):
		h.Error(c, dto.ErrCodeConflict, err.Error())
	case errors.Is(err, metering.ErrIngestorClosed):
		h.Error(c, dto.ErrCodeUnavailable, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		h.Error(c, dto.ErrCodeTimeout, "Request timed out")
	default:
		logger.FromContext(c.Request.Context()).Error("Request failed", zap.Error(err))
		h.Error(c, dto.ErrCodeInternal, "An unexpected error occurred")
	}
}

// previousDay returns [yesterday 00:00, today 00:00) in UTC.
func previousDay(now time.Time) (time.Time, time.Time) {
	end := credit.DateOnly(now)
	return end.AddDate(0, 0, -1), end
}
