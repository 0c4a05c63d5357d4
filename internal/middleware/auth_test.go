package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func signToken(t *testing.T, secret string, scopes []string, expires time.Time) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "operator-7",
			ExpiresAt: jwt.NewNumericDate(expires),
		},
		Scopes: scopes,
	})
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func okHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

func TestAuth(t *testing.T) {
	var seenOperator string
	var seenScopes []string
	h := Auth(testSecret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenOperator = GetOperatorID(r.Context())
		seenScopes = GetScopes(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	valid := signToken(t, testSecret, []string{ScopeRecoveryWrite}, time.Now().Add(time.Hour))

	tests := []struct {
		name   string
		header string
		status int
	}{
		{"valid token", "Bearer " + valid, http.StatusNoContent},
		{"lowercase scheme", "bearer " + valid, http.StatusNoContent},
		{"missing header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic " + valid, http.StatusUnauthorized},
		{"wrong secret", "Bearer " + signToken(t, "other", nil, time.Now().Add(time.Hour)), http.StatusUnauthorized},
		{"expired", "Bearer " + signToken(t, testSecret, nil, time.Now().Add(-time.Minute)), http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/recovery/sweep", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tt.status, rec.Code)
		})
	}

	assert.Equal(t, "operator-7", seenOperator)
	assert.Equal(t, []string{ScopeRecoveryWrite}, seenScopes)
}

func TestAuthWithoutSecret(t *testing.T) {
	rec := httptest.NewRecorder()
	Auth("")(http.HandlerFunc(okHandler)).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRequireScope(t *testing.T) {
	chain := func(scopes []string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		req.Header.Set("Authorization", "Bearer "+signToken(t, testSecret, scopes, time.Now().Add(time.Hour)))
		rec := httptest.NewRecorder()
		Auth(testSecret)(RequireScope(ScopeRecoveryWrite)(http.HandlerFunc(okHandler))).ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusNoContent, chain([]string{"read", ScopeRecoveryWrite}).Code)
	assert.Equal(t, http.StatusForbidden, chain([]string{"read"}).Code)
	assert.Equal(t, http.StatusForbidden, chain(nil).Code)
}

func TestProviderSecret(t *testing.T) {
	h := ProviderSecret("s3cret")(http.HandlerFunc(okHandler))

	tests := []struct {
		name   string
		header string
		status int
	}{
		{"matching", "s3cret", http.StatusNoContent},
		{"missing", "", http.StatusUnauthorized},
		{"mismatch", "s3cret!", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/provider/webhook", nil)
			if tt.header != "" {
				req.Header.Set(ProviderSecretHeader, tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tt.status, rec.Code)
		})
	}
}

func TestProviderSecretDisabled(t *testing.T) {
	rec := httptest.NewRecorder()
	ProviderSecret("")(http.HandlerFunc(okHandler)).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}
