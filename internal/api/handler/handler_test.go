package handler

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reflex-engine/internal/abac"
	"reflex-engine/internal/pkg/config"
	"reflex-engine/internal/scheduler"
	pkgErrors "reflex-engine/pkg/errors"
	"reflex-engine/pkg/responses"
)

func init() {
	gin.SetMode(gin.TestMode)
	responses.SetAuthFailDelay(0)
}

func TestParseArchive(t *testing.T) {
	from, to, err := parseArchive("")
	require.NoError(t, err)
	assert.Equal(t, int64(0), from)
	assert.Equal(t, int64(0), to)

	from, to, err = parseArchive("1700000000")
	require.NoError(t, err)
	assert.Equal(t, int64(1700000000), from)
	assert.Equal(t, int64(1700000000), to)

	from, to, err = parseArchive("1700000000~1700003600")
	require.NoError(t, err)
	assert.Equal(t, int64(1700000000), from)
	assert.Equal(t, int64(1700003600), to)

	_, _, err = parseArchive("yesterday")
	assert.True(t, pkgErrors.IsKind(err, pkgErrors.KindInvalid))

	_, _, err = parseArchive("1700000000~later")
	assert.Error(t, err)
}

func TestAttrsMissing(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	assert.Nil(t, Attrs(c))

	attrs := abac.NewAttributes()
	c.Set(ContextAttrs, attrs)
	assert.Equal(t, attrs, Attrs(c))
}

func TestRequireToken(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/api/v1/config", nil)

	attrs := abac.NewAttributes()
	attrs.TokenNbr = 7
	c.Set(ContextAttrs, attrs)
	got, ok := requireToken(c)
	require.True(t, ok)
	assert.Equal(t, int64(7), got.TokenNbr)

	// anonymous request: rejected with 401
	w = httptest.NewRecorder()
	c, _ = gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/api/v1/config", nil)
	c.Set(ContextAttrs, abac.NewAttributes())
	_, ok = requireToken(c)
	assert.False(t, ok)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func healthRequest(t *testing.T, h *HealthHandler, url string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, url, nil)
	h.Check(c)
	c.Writer.WriteHeaderNow()
	return w
}

func TestHealthCheck(t *testing.T) {
	cfg := &config.Config{Heartbeat: 10, DeployVer: "1.0.0"}
	stats := &scheduler.Stats{}
	h := NewHealthHandler(cfg, stats)

	// no heartbeat yet counts as healthy (startup window)
	w := healthRequest(t, h, "/api/v1/health")
	assert.Equal(t, http.StatusNoContent, w.Code)

	stats.MarkHeartbeat()
	w = healthRequest(t, h, "/api/v1/health")
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = healthRequest(t, h, "/api/v1/health?detail=true")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "last-heartbeat")
	assert.Contains(t, w.Body.String(), "1.0.0")
}

func TestHealthCheckStale(t *testing.T) {
	cfg := &config.Config{Heartbeat: 10}
	stats := &scheduler.Stats{}
	h := NewHealthHandler(cfg, stats)

	stats.SetLastHeartbeat(time.Now().Add(-time.Minute).Unix())

	w := healthRequest(t, h, "/api/v1/health")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = healthRequest(t, h, "/api/v1/health?detail=true")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "last-heartbeat")
}
