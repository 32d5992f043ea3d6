package rest

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func signToken(t *testing.T, secret, issuer string, expired bool) string {
	t.Helper()
	claims := jwt.RegisteredClaims{
		Issuer:    issuer,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	if expired {
		claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Hour))
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func TestJWTMiddleware_RejectsMissingHeader(t *testing.T) {
	mw := NewJWTMiddleware("secret", "")
	called := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true })

	req := httptest.NewRequest(http.MethodPost, "/commands/CreateUser", nil)
	rec := httptest.NewRecorder()
	mw(next).ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.False(t, called)
}

func TestJWTMiddleware_AcceptsValidToken(t *testing.T) {
	mw := NewJWTMiddleware("secret", "engine")
	called := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true })

	req := httptest.NewRequest(http.MethodPost, "/commands/CreateUser", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, "secret", "engine", false))
	rec := httptest.NewRecorder()
	mw(next).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, called)
}

func TestJWTMiddleware_RejectsWrongSecret(t *testing.T) {
	mw := NewJWTMiddleware("secret", "")
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})

	req := httptest.NewRequest(http.MethodPost, "/commands/CreateUser", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, "wrong-secret", "", false))
	rec := httptest.NewRecorder()
	mw(next).ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestJWTMiddleware_RejectsExpiredToken(t *testing.T) {
	mw := NewJWTMiddleware("secret", "")
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})

	req := httptest.NewRequest(http.MethodPost, "/commands/CreateUser", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, "secret", "", true))
	rec := httptest.NewRecorder()
	mw(next).ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestJWTMiddleware_RejectsWrongIssuer(t *testing.T) {
	mw := NewJWTMiddleware("secret", "engine")
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})

	req := httptest.NewRequest(http.MethodPost, "/commands/CreateUser", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, "secret", "someone-else", false))
	rec := httptest.NewRecorder()
	mw(next).ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
}
