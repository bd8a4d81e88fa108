package middleware

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

const testSecret = "test-secret"

func signToken(t *testing.T, method jwt.SigningMethod, key interface{}, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return token
}

func adminRouter(secret string) *gin.Engine {
	router := gin.New()
	router.GET("/admin", AdminAuth(secret, "admin"), func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString(AdminSubjectKey))
	})
	return router
}

func TestAdminAuth(t *testing.T) {
	valid := signToken(t, jwt.SigningMethodHS256, []byte(testSecret), jwt.MapClaims{
		"sub":  "admin_1",
		"role": "admin",
		"exp":  time.Now().Add(time.Hour).Unix(),
	})

	tests := []struct {
		name       string
		secret     string
		header     string
		wantStatus int
	}{
		{"valid token", testSecret, "Bearer " + valid, http.StatusOK},
		{"missing header", testSecret, "", http.StatusUnauthorized},
		{"wrong scheme", testSecret, "Basic " + valid, http.StatusUnauthorized},
		{"wrong secret", "other-secret", "Bearer " + valid, http.StatusUnauthorized},
		{"not configured", "", "Bearer " + valid, http.StatusServiceUnavailable},
		{
			"expired",
			testSecret,
			"Bearer " + signToken(t, jwt.SigningMethodHS256, []byte(testSecret), jwt.MapClaims{
				"role": "admin",
				"exp":  time.Now().Add(-time.Hour).Unix(),
			}),
			http.StatusUnauthorized,
		},
		{
			"wrong role",
			testSecret,
			"Bearer " + signToken(t, jwt.SigningMethodHS256, []byte(testSecret), jwt.MapClaims{"role": "customer"}),
			http.StatusForbidden,
		},
		{
			"wrong algorithm",
			testSecret,
			"Bearer " + signToken(t, jwt.SigningMethodHS512, []byte(testSecret), jwt.MapClaims{"role": "admin"}),
			http.StatusUnauthorized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/admin", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}

			adminRouter(tt.secret).ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.wantStatus == http.StatusOK {
				assert.Equal(t, "admin_1", w.Body.String())
			}
		})
	}
}

func TestRequestID(t *testing.T) {
	router := gin.New()
	router.Use(RequestID())
	router.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, RequestIDFromContext(c.Request.Context()))
	})

	t.Run("propagates caller id", func(t *testing.T) {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(HeaderRequestID, "req_from_caller")

		router.ServeHTTP(w, req)

		assert.Equal(t, "req_from_caller", w.Body.String())
		assert.Equal(t, "req_from_caller", w.Header().Get(HeaderRequestID))
	})

	t.Run("generates id", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

		id := w.Header().Get(HeaderRequestID)
		assert.Regexp(t, `^req_[0-9a-f-]{36}$`, id)
		assert.Equal(t, id, w.Body.String())
	})
}
