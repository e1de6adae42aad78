package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Baaaki/teamchat/internal/models"
	"github.com/Baaaki/teamchat/internal/utils"
	"github.com/Baaaki/teamchat/pkg/logger"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "middleware-secret"

func issueToken(t *testing.T, role models.Role) (*models.User, string) {
	t.Helper()
	user := &models.User{ID: uuid.New(), Email: "someone@example.com", DisplayName: "Someone", Role: role, Locale: models.LocaleEnglish}
	token, err := utils.GenerateToken(user, testSecret, time.Hour)
	require.NoError(t, err)
	return user, token
}

func authRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(RequestLogger())
	protected := router.Group("/api", Auth(testSecret))
	protected.GET("/me", func(c *gin.Context) {
		id, ok := GetUserID(c)
		if !ok {
			c.Status(http.StatusInternalServerError)
			return
		}
		claims, _ := GetClaims(c)
		c.JSON(http.StatusOK, gin.H{"user_id": id.String(), "role": claims.Role})
	})
	protected.GET("/admin", RequireAdmin(), func(c *gin.Context) { c.Status(http.StatusNoContent) })
	return router
}

func TestAuth_TokenSources(t *testing.T) {
	router := authRouter()
	user, token := issueToken(t, models.RoleEmployee)

	requests := map[string]func(*http.Request){
		"bearer": func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token) },
		"cookie": func(r *http.Request) { r.AddCookie(&http.Cookie{Name: TokenCookie, Value: token}) },
		"query":  func(r *http.Request) { r.URL.RawQuery = "token=" + token },
	}
	for name, prepare := range requests {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
			prepare(req)
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			require.Equal(t, http.StatusOK, w.Code)
			var body map[string]string
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, user.ID.String(), body["user_id"])
			assert.NotEmpty(t, w.Header().Get(logger.RequestIDKey))
		})
	}
}

func TestAuth_RejectsMissingOrInvalidToken(t *testing.T) {
	router := authRouter()

	cases := map[string]string{
		"missing":    "",
		"not bearer": "Basic abc",
		"garbage":    "Bearer not-a-token",
	}
	for name, header := range cases {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
			if header != "" {
				req.Header.Set("Authorization", header)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			assert.Equal(t, http.StatusUnauthorized, w.Code)
			var body map[string]string
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, "unauthenticated", body["code"])
			assert.NotEmpty(t, body["error_ar"])
		})
	}
}

func TestRequireAdmin(t *testing.T) {
	router := authRouter()

	_, employee := issueToken(t, models.RoleEmployee)
	req := httptest.NewRequest(http.MethodGet, "/api/admin", nil)
	req.Header.Set("Authorization", "Bearer "+employee)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)

	_, admin := issueToken(t, models.RoleAdmin)
	req = httptest.NewRequest(http.MethodGet, "/api/admin", nil)
	req.Header.Set("Authorization", "Bearer "+admin)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestRequestLogger_KeepsIncomingRequestID(t *testing.T) {
	router := authRouter()
	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	req.Header.Set(logger.RequestIDKey, "req-123")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, "req-123", w.Header().Get(logger.RequestIDKey))
}

func TestSecurityHeaders(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(SecurityHeaders(), HSTS(true))
	router.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.Contains(t, w.Header().Get("Strict-Transport-Security"), "max-age=")
}
