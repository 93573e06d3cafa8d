// Package middleware provides HTTP middleware for the billing API.
package middleware

import (
	"net/http"

	"github.com/erp/billing/internal/infrastructure/logger"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// maxAttributeLength bounds header-derived span attributes.
const maxAttributeLength = 128

// Tracing wraps otelgin and adds billing attributes to the server span.
func Tracing(serviceName string) gin.HandlerFunc {
	base := otelgin.Middleware(serviceName)

	return func(c *gin.Context) {
		// otelgin runs the rest of the chain
		base(c)

		span := trace.SpanFromContext(c.Request.Context())
		if span.IsRecording() {
			enrichSpan(c, span)
		}
	}
}

func enrichSpan(c *gin.Context, span trace.Span) {
	if tenant := c.Param("tenant"); tenant != "" {
		span.SetAttributes(attribute.String("billing.tenant_id", truncate(tenant)))
	}
	if requestID := logger.GetRequestID(c.Request.Context()); requestID != "" {
		span.SetAttributes(attribute.String("request_id", truncate(requestID)))
	}
	if subject := GetServiceSubject(c); subject != "" {
		span.SetAttributes(attribute.String("billing.caller", truncate(subject)))
	}

	status := c.Writer.Status()
	if status >= http.StatusInternalServerError {
		span.SetStatus(codes.Error, http.StatusText(status))
	}
}

func truncate(s string) string {
	if len(s) > maxAttributeLength {
		return s[:maxAttributeLength]
	}
	return s
}
