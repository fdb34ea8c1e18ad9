package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/railconnect/booking-backend/pkg/jwt"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-access-secret-key-123456789"

func setupTestRouter(jwtService *jwt.Service) *gin.Engine {
	gin.SetMode(gin.TestMode)
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	router := gin.New()
	router.GET("/protected", AuthMiddleware(jwtService, logger), func(c *gin.Context) {
		userCtx, exists := GetUserContext(c)
		if !exists {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.JSON(http.StatusOK, gin.H{"user_id": userCtx.UserID})
	})
	return router
}

func doRequest(router *gin.Engine, authHeader string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestAuthMiddleware_Success(t *testing.T) {
	jwtService := jwt.NewService(testSecret, time.Hour)
	router := setupTestRouter(jwtService)

	token, err := jwtService.GenerateAccessToken("user-42", []string{"passenger"})
	require.NoError(t, err)

	w := doRequest(router, "Bearer "+token)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"user_id":"user-42"}`, w.Body.String())
}

func TestAuthMiddleware_Rejections(t *testing.T) {
	jwtService := jwt.NewService(testSecret, time.Hour)
	router := setupTestRouter(jwtService)

	expired, err := jwt.NewService(testSecret, -time.Minute).GenerateAccessToken("user-42", nil)
	require.NoError(t, err)
	foreign, err := jwt.NewService("some-other-secret", time.Hour).GenerateAccessToken("user-42", nil)
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		code   string
	}{
		{"Missing Header", "", "MISSING_AUTH_HEADER"},
		{"Basic Scheme", "Basic dXNlcjpwYXNz", "INVALID_AUTH_FORMAT"},
		{"Empty Bearer", "Bearer   ", "INVALID_AUTH_FORMAT"},
		{"Short Header", "Bearer", "INVALID_AUTH_FORMAT"},
		{"Expired Token", "Bearer " + expired, "TOKEN_EXPIRED"},
		{"Wrong Secret", "Bearer " + foreign, "INVALID_TOKEN"},
		{"Garbage Token", "Bearer not-a-jwt", "INVALID_TOKEN"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			w := doRequest(router, tc.header)
			assert.Equal(t, http.StatusUnauthorized, w.Code)
			assert.Contains(t, w.Body.String(), tc.code)
		})
	}
}

func TestGetUserContext_WrongType(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())

	_, ok := GetUserContext(c)
	assert.False(t, ok)

	c.Set(UserContextKey, "user-42")
	_, ok = GetUserContext(c)
	assert.False(t, ok)
}
