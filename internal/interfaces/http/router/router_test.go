package router

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type pingRegistrar struct{}

func (pingRegistrar) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })
}

func get(engine *gin.Engine, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	return w
}

func TestRouterSetup(t *testing.T) {
	engine := NewRouter(NewEngine(EngineConfig{}), WithAPIVersion("v2")).
		Register(pingRegistrar{}).
		Health(func(c *gin.Context) { c.Status(http.StatusOK) }).
		Setup()

	w := get(engine, "/api/v2/ping", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "pong", w.Body.String())
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	assert.Equal(t, http.StatusNotFound, get(engine, "/api/v1/ping", "").Code)
	assert.Equal(t, http.StatusOK, get(engine, HealthPath, "").Code)
}

func TestNewEngine_AuthSkipsHealth(t *testing.T) {
	secret := "s3cret-for-tests"
	engine := NewRouter(NewEngine(EngineConfig{AuthSecret: secret, MaxBodySize: 1 << 20})).
		Register(pingRegistrar{}).
		Health(func(c *gin.Context) { c.Status(http.StatusOK) }).
		Setup()

	assert.Equal(t, http.StatusOK, get(engine, HealthPath, "").Code)
	assert.Equal(t, http.StatusUnauthorized, get(engine, "/api/v1/ping", "").Code)

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "gateway",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
	}).SignedString([]byte(secret))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, get(engine, "/api/v1/ping", token).Code)
}

func TestNewEngine_RecoversPanics(t *testing.T) {
	engine := NewEngine(EngineConfig{})
	engine.GET("/boom", func(*gin.Context) { panic("boom") })
	assert.Equal(t, http.StatusInternalServerError, get(engine, "/boom", "").Code)
}
