package responses

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgErrors "reflex-engine/pkg/errors"
)

func init() {
	gin.SetMode(gin.TestMode)
	SetAuthFailDelay(0)
}

func record(write func(c *gin.Context)) (*httptest.ResponseRecorder, Body) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	write(c)

	var body Body
	_ = json.Unmarshal(w.Body.Bytes(), &body)
	return w, body
}

func TestStatus(t *testing.T) {
	w, body := record(func(c *gin.Context) {
		Status(c, http.StatusCreated, "created")
	})
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "created", body.Status)
	assert.Empty(t, body.Warning)
}

func TestStatusWarning(t *testing.T) {
	w, body := record(func(c *gin.Context) {
		StatusWarning(c, http.StatusOK, "updated", "Unable to find matching service for 'svc.notfound'")
	})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "updated", body.Status)
	assert.Contains(t, body.Warning, "svc.notfound")

	w, body = record(func(c *gin.Context) {
		StatusWarning(c, http.StatusOK, "updated", "")
	})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, body.Warning)
}

func TestErrorMapping(t *testing.T) {
	w, body := record(func(c *gin.Context) {
		Error(c, pkgErrors.ObjectNotFound("no Config matching 'app1'"))
	})
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "failed", body.Status)
	assert.Contains(t, body.Message, "app1")
}

func TestErrorUnauthorizedIsOpaque(t *testing.T) {
	w, body := record(func(c *gin.Context) {
		Error(c, pkgErrors.Unauthorized("seed too short"))
	})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "Unauthorized", body.Message)
	assert.NotContains(t, w.Body.String(), "seed")
}

func TestErrorInternalIsOpaque(t *testing.T) {
	w, body := record(func(c *gin.Context) {
		Error(c, pkgErrors.Internal("cannot reach database at 10.0.0.5", nil))
	})
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "internal error", body.Message)
	assert.NotContains(t, w.Body.String(), "10.0.0.5")
}

func TestErrorNoChanges(t *testing.T) {
	w, body := record(func(c *gin.Context) {
		Error(c, pkgErrors.NoChanges("no changes to object"))
	})
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "unknown", body.Status)
}

func TestErrorPlain(t *testing.T) {
	w, body := record(func(c *gin.Context) {
		Error(c, assertAnError())
	})
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	require.Equal(t, "failed", body.Status)
	assert.Equal(t, "internal error", body.Message)
}

func assertAnError() error {
	return json.Unmarshal([]byte("{"), &struct{}{})
}
