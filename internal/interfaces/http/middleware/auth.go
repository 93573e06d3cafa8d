package middleware

import (
	"errors"
	"net/http"
	"slices"
	"strings"

	"github.com/erp/billing/internal/infrastructure/logger"
	"github.com/erp/billing/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

// Auth context keys
const (
	ServiceSubjectKey = "service_subject"
	AuthHeaderKey     = "Authorization"
	BearerPrefix      = "Bearer "
)

// ServiceAuthConfig configures service-token authentication.
// Callers are other services, so tokens are HS256 with a shared secret.
type ServiceAuthConfig struct {
	Secret    []byte
	Issuer    string
	SkipPaths []string
	Logger    *zap.Logger
}

// ServiceAuth validates the bearer token of every request not in SkipPaths.
// An empty secret disables authentication.
func ServiceAuth(cfg ServiceAuthConfig) gin.HandlerFunc {
	if len(cfg.Secret) == 0 {
		return func(c *gin.Context) { c.Next() }
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	parser := jwt.NewParser(opts...)
	keyFunc := func(*jwt.Token) (any, error) { return cfg.Secret, nil }

	return func(c *gin.Context) {
		if slices.Contains(cfg.SkipPaths, c.Request.URL.Path) {
			c.Next()
			return
		}

		header := c.GetHeader(AuthHeaderKey)
		tokenString, ok := strings.CutPrefix(header, BearerPrefix)
		if !ok || tokenString == "" {
			abortUnauthorized(c, cfg.Logger, dto.ErrCodeUnauthorized, "Missing bearer token", nil)
			return
		}

		claims := &jwt.RegisteredClaims{}
		if _, err := parser.ParseWithClaims(tokenString, claims, keyFunc); err != nil {
			code := dto.ErrCodeUnauthorized
			message := "Invalid token"
			if errors.Is(err, jwt.ErrTokenExpired) {
				code = dto.ErrCodeTokenExpired
				message = "Token has expired"
			}
			abortUnauthorized(c, cfg.Logger, code, message, err)
			return
		}

		c.Set(ServiceSubjectKey, claims.Subject)
		cfg.Logger.Debug("Service token accepted", zap.String("subject", claims.Subject))
		c.Next()
	}
}

func abortUnauthorized(c *gin.Context, log *zap.Logger, code, message string, err error) {
	log.Warn("Service authentication failed",
		zap.String("path", c.Request.URL.Path),
		zap.String("code", code),
		zap.Error(err))
	c.AbortWithStatusJSON(http.StatusUnauthorized, dto.NewErrorResponse(
		code, message, logger.GetRequestID(c.Request.Context())))
}

// GetServiceSubject returns the authenticated caller, or "" when auth is disabled.
func GetServiceSubject(c *gin.Context) string {
	return c.GetString(ServiceSubjectKey)
}
