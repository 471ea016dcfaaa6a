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

const testSecret = "test-secret"

func newAuthRouter(handlers ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(Auth(testSecret, "internal-key"))
	router.GET("/drivers/:id", append(handlers, func(c *gin.Context) {
		subject, _ := Subject(c)
		role, _ := Role(c)
		c.JSON(http.StatusOK, gin.H{"subject": subject, "role": role})
	})...)
	return router
}

func get(t *testing.T, router http.Handler, path string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func bearer(t *testing.T, subject, role string) map[string]string {
	t.Helper()
	token, err := IssueToken(testSecret, subject, role, time.Hour)
	require.NoError(t, err)
	return map[string]string{"Authorization": "Bearer " + token}
}

func TestAuthHeaders(t *testing.T) {
	router := newAuthRouter()

	tests := []struct {
		name           string
		headers        map[string]string
		expectedStatus int
	}{
		{"Empty header", nil, http.StatusUnauthorized},
		{"Invalid format", map[string]string{"Authorization": "Token abc"}, http.StatusUnauthorized},
		{"Empty token", map[string]string{"Authorization": "Bearer "}, http.StatusUnauthorized},
		{"Garbage token", map[string]string{"Authorization": "Bearer abc.def.ghi"}, http.StatusUnauthorized},
		{"Wrong internal key", map[string]string{internalKeyHeader: "nope"}, http.StatusUnauthorized},
		{"Internal key", map[string]string{internalKeyHeader: "internal-key"}, http.StatusOK},
		{"Valid token", bearer(t, "driver-1", RoleDriver), http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := get(t, router, "/drivers/driver-1", tt.headers)
			assert.Equal(t, tt.expectedStatus, w.Code)
		})
	}
}

func TestAuthRejectsExpiredToken(t *testing.T) {
	router := newAuthRouter()
	token, err := IssueToken(testSecret, "driver-1", RoleDriver, -time.Minute)
	require.NoError(t, err)

	w := get(t, router, "/drivers/driver-1", map[string]string{"Authorization": "Bearer " + token})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "token expired")
}

func TestAuthRejectsForeignSignature(t *testing.T) {
	router := newAuthRouter()
	token, err := IssueToken("other-secret", "admin-1", RoleAdmin, time.Hour)
	require.NoError(t, err)

	w := get(t, router, "/drivers/driver-1", map[string]string{"Authorization": "Bearer " + token})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestParseTokenRequiresRole(t *testing.T) {
	claims := &Claims{RegisteredClaims: jwt.RegisteredClaims{
		Issuer:    jwtIssuer,
		Subject:   "driver-1",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)

	_, err = ParseToken(token, testSecret)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestInternalKeyDisabledWhenUnset(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(Auth(testSecret, ""))
	router.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := get(t, router, "/x", map[string]string{internalKeyHeader: ""})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	w = get(t, router, "/x", map[string]string{internalKeyHeader: "anything"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRequireRole(t *testing.T) {
	router := newAuthRouter(RequireRole(RoleAdmin, RoleAgent))

	tests := []struct {
		name           string
		role           string
		expectedStatus int
	}{
		{"Admin", RoleAdmin, http.StatusOK},
		{"Agent", RoleAgent, http.StatusOK},
		{"Driver", RoleDriver, http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := get(t, router, "/drivers/driver-1", bearer(t, "someone", tt.role))
			assert.Equal(t, tt.expectedStatus, w.Code)
		})
	}
}

func TestRequireRoleWithoutAuth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)

	RequireRole(RoleAdmin)(c)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRequireDriverSelf(t *testing.T) {
	router := newAuthRouter(RequireDriverSelf("id"))

	tests := []struct {
		name           string
		headers        map[string]string
		expectedStatus int
	}{
		{"Own record", bearer(t, "driver-1", RoleDriver), http.StatusOK},
		{"Other driver", bearer(t, "driver-2", RoleDriver), http.StatusForbidden},
		{"Admin", bearer(t, "admin-1", RoleAdmin), http.StatusOK},
		{"System", map[string]string{internalKeyHeader: "internal-key"}, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := get(t, router, "/drivers/driver-1", tt.headers)
			assert.Equal(t, tt.expectedStatus, w.Code)
		})
	}
}
