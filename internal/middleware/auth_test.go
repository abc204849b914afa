package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"orderflow-be/internal/utils"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return s
}

func authChain(capture *uint) http.Handler {
	return AuthMiddleware(RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id, ok := utils.GetUserIDFromContext(r.Context()); ok {
			*capture = id
		}
		w.WriteHeader(http.StatusOK)
	})))
}

func TestAuthMiddleware_ConfiguredSecretVerifiesToken(t *testing.T) {
	InitAuth("configured-secret")

	var gotID uint
	h := authChain(&gotID)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, "configured-secret", jwt.MapClaims{
		"user_id": 7.0,
		"email":   "buyer@example.com",
		"role":    "BUYER",
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, uint(7), gotID)
}

func TestAuthMiddleware_WrongSignatureStaysAnonymous(t *testing.T) {
	InitAuth("configured-secret")

	var gotID uint
	h := authChain(&gotID)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, "some-other-secret", jwt.MapClaims{
		"user_id": 7.0,
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Zero(t, gotID)
}

func TestRequireAuth_RejectsAnonymous(t *testing.T) {
	var gotID uint
	h := authChain(&gotID)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/orders", nil))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequireAdmin_RejectsBuyer(t *testing.T) {
	h := RequireAdmin(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/returns/x/approve", nil)
	req = req.WithContext(utils.SetUserContext(req.Context(), 7, "buyer@example.com", "BUYER"))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}
