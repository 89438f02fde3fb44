package middleware

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestLogger_GeneratesRequestID(t *testing.T) {
	var buf bytes.Buffer

	router := gin.New()
	router.Use(RequestLogger(zerolog.New(&buf)))
	router.GET("/test", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{})
	})

	req := httptest.NewRequest("GET", "/test", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	requestID := w.Header().Get(RequestIDHeader)
	_, err := uuid.Parse(requestID)
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, `"request_id":"`+requestID+`"`)
	assert.Contains(t, out, `"status":200`)
	assert.Contains(t, out, `"path":"/test"`)
	assert.Contains(t, out, `"level":"info"`)
}

func TestRequestLogger_KeepsIncomingRequestID(t *testing.T) {
	var buf bytes.Buffer

	router := gin.New()
	router.Use(RequestLogger(zerolog.New(&buf)))
	router.GET("/test", func(c *gin.Context) {
		zerolog.Ctx(c.Request.Context()).Info().Msg("handler log")
		c.JSON(http.StatusOK, gin.H{})
	})

	req := httptest.NewRequest("GET", "/test", nil)
	req.Header.Set(RequestIDHeader, "req-123")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, "req-123", w.Header().Get(RequestIDHeader))
	assert.Equal(t, 2, bytes.Count(buf.Bytes(), []byte(`"request_id":"req-123"`)))
}

func TestRequestLogger_ServerErrorLevel(t *testing.T) {
	var buf bytes.Buffer

	router := gin.New()
	router.Use(RequestLogger(zerolog.New(&buf)))
	router.GET("/test", func(c *gin.Context) {
		c.Status(http.StatusInternalServerError)
	})

	req := httptest.NewRequest("GET", "/test", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Contains(t, buf.String(), `"level":"error"`)
	assert.Contains(t, buf.String(), `"status":500`)
}
