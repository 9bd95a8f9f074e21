package authz

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

const testSecret = "test-jwt-secret"

func init() {
	gin.SetMode(gin.TestMode)
}

func signToken(t *testing.T, secret, orgID, userID string, ttl time.Duration) string {
	t.Helper()
	now := time.Now()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, TenantClaims{
		OrgID: orgID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func TestExtractTokenFromHeader(t *testing.T) {
	tests := []struct {
		name    string
		header  string
		want    string
		wantErr error
	}{
		{"bearer", "Bearer abc", "abc", nil},
		{"lowercase scheme", "bearer abc", "abc", nil},
		{"empty", "", "", ErrMissingHeader},
		{"no scheme", "abc", "", ErrHeaderFormat},
		{"basic", "Basic abc", "", ErrHeaderFormat},
		{"extra parts", "Bearer a b", "", ErrHeaderFormat},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractTokenFromHeader(tt.header)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTokenService_Validate(t *testing.T) {
	svc := NewTokenService(testSecret)

	t.Run("valid token", func(t *testing.T) {
		token := signToken(t, testSecret, "org1", "user1", time.Hour)

		claims, err := svc.Validate(token)
		require.NoError(t, err)
		assert.Equal(t, "org1", claims.OrgID)
		assert.Equal(t, "user1", claims.Subject)
	})

	t.Run("expired token", func(t *testing.T) {
		token := signToken(t, testSecret, "org1", "user1", -time.Minute)

		_, err := svc.Validate(token)
		assert.ErrorIs(t, err, jwt.ErrTokenExpired)
	})

	t.Run("wrong secret", func(t *testing.T) {
		token := signToken(t, "other", "org1", "user1", time.Hour)

		_, err := svc.Validate(token)
		assert.ErrorIs(t, err, jwt.ErrTokenSignatureInvalid)
	})

	t.Run("other hmac algorithm", func(t *testing.T) {
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS384, TenantClaims{OrgID: "org1"}).SignedString([]byte(testSecret))
		require.NoError(t, err)

		_, err = svc.Validate(token)
		assert.Error(t, err)
	})

	t.Run("missing org", func(t *testing.T) {
		token := signToken(t, testSecret, "", "user1", time.Hour)

		_, err := svc.Validate(token)
		assert.ErrorIs(t, err, ErrNoOrg)
	})

	t.Run("no secret configured", func(t *testing.T) {
		_, err := NewTokenService("").Validate("anything")
		assert.ErrorIs(t, err, ErrNoSecret)
	})
}

func newTestRouter(handler gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	r.GET("/ping", handler, func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"org_id": OrgID(c), "user_id": c.GetString(ContextKeyUserID)})
	})
	return r
}

func doGet(r http.Handler, authHeader string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRequireTenant(t *testing.T) {
	m := NewMiddleware(testSecret, "")
	r := newTestRouter(m.RequireTenant())

	token := signToken(t, testSecret, "org1", "user1", time.Hour)

	w := doGet(r, "Bearer "+token)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"org_id":"org1","user_id":"user1"}`, w.Body.String())

	w = doGet(r, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "authorization header is required")

	w = doGet(r, "Bearer not-a-jwt")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "Invalid token")
}

func TestRequireInternalToken(t *testing.T) {
	r := newTestRouter(NewMiddleware(testSecret, "s3cret").RequireInternalToken())

	assert.Equal(t, http.StatusOK, doGet(r, "Bearer s3cret").Code)
	assert.Equal(t, http.StatusUnauthorized, doGet(r, "Bearer wrong").Code)
	assert.Equal(t, http.StatusUnauthorized, doGet(r, "").Code)

	unconfigured := newTestRouter(NewMiddleware(testSecret, "").RequireInternalToken())
	assert.Equal(t, http.StatusServiceUnavailable, doGet(unconfigured, "Bearer anything").Code)
}
