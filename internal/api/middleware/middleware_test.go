package middleware

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func serve(r *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func okHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func TestRequestID(t *testing.T) {
	r := gin.New()
	r.Use(RequestID())
	r.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString(RequestIDKey))
	})

	// Generated when missing
	w := serve(r, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotEmpty(t, w.Header().Get(RequestIDKey))
	assert.Equal(t, w.Header().Get(RequestIDKey), w.Body.String())

	// Client value kept
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDKey, "abc-123")
	w = serve(r, req)
	assert.Equal(t, "abc-123", w.Header().Get(RequestIDKey))

	// Unprintable or oversized values replaced
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDKey, strings.Repeat("x", 65))
	w = serve(r, req)
	assert.Len(t, w.Header().Get(RequestIDKey), 36)
}

func TestRecovery(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	r := gin.New()
	r.Use(RequestID(), Recovery(logger))
	r.GET("/boom", func(c *gin.Context) { panic("boom") })

	w := serve(r, httptest.NewRequest(http.MethodGet, "/boom", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "INTERNAL_ERROR")
	assert.Contains(t, buf.String(), "Panic recovered")
}

func TestAPIKey(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("hashed-key"), bcrypt.MinCost)
	require.NoError(t, err)

	tests := []struct {
		name     string
		key      string
		hash     string
		provided string
		want     int
	}{
		{name: "plain match", key: "k1", provided: "k1", want: http.StatusOK},
		{name: "plain mismatch", key: "k1", provided: "k2", want: http.StatusUnauthorized},
		{name: "missing header", key: "k1", provided: "", want: http.StatusUnauthorized},
		{name: "bcrypt match", hash: string(hash), provided: "hashed-key", want: http.StatusOK},
		{name: "bcrypt mismatch", hash: string(hash), provided: "nope", want: http.StatusUnauthorized},
		{name: "hash wins over key", key: "k1", hash: string(hash), provided: "k1", want: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := gin.New()
			r.Use(APIKey(tt.key, tt.hash))
			r.GET("/", okHandler)

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.provided != "" {
				req.Header.Set(APIKeyHeader, tt.provided)
			}
			assert.Equal(t, tt.want, serve(r, req).Code)
		})
	}
}

func TestIPAllowlist(t *testing.T) {
	r := gin.New()
	r.Use(IPAllowlist([]string{"192.0.2.10", "10.0.0.0/8", "garbage"}))
	r.GET("/", okHandler)

	tests := []struct {
		remote string
		want   int
	}{
		{remote: "192.0.2.10:1234", want: http.StatusOK},
		{remote: "10.1.2.3:1234", want: http.StatusOK},
		{remote: "192.0.2.11:1234", want: http.StatusForbidden},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = tt.remote
		assert.Equal(t, tt.want, serve(r, req).Code, tt.remote)
	}
}

func TestContentType(t *testing.T) {
	r := gin.New()
	r.Use(ContentType())
	r.POST("/", okHandler)

	// Bodyless POST allowed
	assert.Equal(t, http.StatusOK, serve(r, httptest.NewRequest(http.MethodPost, "/", nil)).Code)

	// Body without JSON content type rejected
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("a=b"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	assert.Equal(t, http.StatusUnsupportedMediaType, serve(r, req).Code)

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader("{}"))
	req.Header.Set("Content-Type", "application/json")
	assert.Equal(t, http.StatusOK, serve(r, req).Code)
}

func TestLoggingSkipsScannerNoise(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))

	r := gin.New()
	r.Use(Logging(logger), NoiseFilter(logger))
	r.GET("/v1/entries", okHandler)
	r.GET("/health", okHandler)

	serve(r, httptest.NewRequest(http.MethodGet, "/wp-login.php", nil))
	assert.Empty(t, buf.String())

	serve(r, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Empty(t, buf.String())

	serve(r, httptest.NewRequest(http.MethodGet, "/v1/entries", nil))
	assert.Contains(t, buf.String(), "HTTP request")
	assert.Contains(t, buf.String(), "route=/v1/entries")
}

func TestIsScannerPath(t *testing.T) {
	assert.True(t, isScannerPath("/WP-Admin/setup"))
	assert.True(t, isScannerPath("/index.php"))
	assert.False(t, isScannerPath("/v1/entries/home"))
	assert.False(t, isScannerPath("/metrics"))
}
