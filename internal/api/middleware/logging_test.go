package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/yaroslav/stackform/internal/logging"
)

func observedRouter(handler gin.HandlerFunc) (*gin.Engine, *observer.ObservedLogs) {
	gin.SetMode(gin.TestMode)
	core, logs := observer.New(zap.DebugLevel)

	router := gin.New()
	router.Use(RequestLogger(zap.New(core)))
	router.GET("/api/v1/clusters/:id", handler)
	return router, logs
}

func TestRequestLogger(t *testing.T) {
	router, logs := observedRouter(func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"id": c.Param("id")})
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/clusters/c1", nil)
	req.Header.Set("User-Agent", "stackctl")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}

	entries := logs.FilterMessage("request completed").All()
	if len(entries) != 1 {
		t.Fatalf("Expected one completion entry, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["route"] != "/api/v1/clusters/:id" {
		t.Errorf("Expected route template, got %v", fields["route"])
	}
	if fields[logging.FieldUserAgent] != "stackctl" {
		t.Errorf("Expected user agent stackctl, got %v", fields[logging.FieldUserAgent])
	}
}

func TestRequestLogger_RequestID(t *testing.T) {
	var seen string
	router, _ := observedRouter(func(c *gin.Context) {
		seen = GetRequestID(c)
		c.Status(http.StatusNoContent)
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/clusters/c1", nil))
	if len(seen) != 36 {
		t.Errorf("Expected generated UUID, got %q", seen)
	}
	if w.Header().Get(HeaderRequestID) != seen {
		t.Errorf("Expected response header %q, got %q", seen, w.Header().Get(HeaderRequestID))
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/clusters/c1", nil)
	req.Header.Set(HeaderRequestID, "upstream-42")
	router.ServeHTTP(httptest.NewRecorder(), req)
	if seen != "upstream-42" {
		t.Errorf("Expected caller request ID to be kept, got %q", seen)
	}
}

func TestRequestLogger_LevelByStatus(t *testing.T) {
	tests := []struct {
		status int
		level  zapcore.Level
	}{
		{http.StatusOK, zapcore.InfoLevel},
		{http.StatusConflict, zapcore.WarnLevel},
		{http.StatusInternalServerError, zapcore.ErrorLevel},
	}

	for _, tt := range tests {
		router, logs := observedRouter(func(c *gin.Context) {
			c.Status(tt.status)
		})
		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/clusters/c1", nil))

		entries := logs.FilterMessage("request completed").All()
		if len(entries) != 1 || entries[0].Level != tt.level {
			t.Errorf("status %d: expected one %s entry, got %v", tt.status, tt.level, logs.All())
		}
	}
}

func TestRequestLogger_LoggerInRequestContext(t *testing.T) {
	var fromGin, fromCtx *zap.Logger
	router, logs := observedRouter(func(c *gin.Context) {
		fromGin = GetLogger(c)
		fromCtx = logging.FromContext(c.Request.Context())
		fromCtx.Info("handler ran")
		c.Status(http.StatusOK)
	})
	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/clusters/c1", nil))

	if fromGin != fromCtx {
		t.Error("Expected the same logger in Gin and request contexts")
	}
	entries := logs.FilterMessage("handler ran").All()
	if len(entries) != 1 || entries[0].ContextMap()[logging.FieldRequestID] == "" {
		t.Errorf("Expected handler entry with request ID, got %v", entries)
	}
}

func TestGetLogger_NoLogger(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())

	GetLogger(c).Info("should not panic")
	if id := GetRequestID(c); id != "" {
		t.Errorf("Expected empty request ID, got %s", id)
	}
}
