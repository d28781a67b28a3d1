package middleware

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aquasentinel/complaint-engine/internal/config"
	"github.com/aquasentinel/complaint-engine/internal/database"
)

const testSecret = "test-secret"

func signToken(t *testing.T, subject string, role database.Role, expiresAt time.Time) string {
	t.Helper()
	claims := Claims{
		Name: "Test User",
		Role: string(role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

// echoUser reports the principal the auth middleware stored.
func echoUser(t *testing.T, captured **User) http.Handler {
	t.Helper()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := UserFrom(r.Context())
		require.True(t, ok)
		*captured = user
		w.WriteHeader(http.StatusOK)
	})
}

func TestAuth(t *testing.T) {
	enabled := config.AuthConfig{Enabled: true, JWTSecret: testSecret}
	logger := slog.Default()

	t.Run("disabled auth runs every request as the dev admin", func(t *testing.T) {
		var user *User
		handler := Auth(config.AuthConfig{Enabled: false}, logger)(echoUser(t, &user))

		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
		require.NotNil(t, user)
		assert.Equal(t, database.RoleAdmin, user.Role)
	})

	t.Run("valid bearer token yields the principal", func(t *testing.T) {
		var user *User
		handler := Auth(enabled, logger)(echoUser(t, &user))

		req := httptest.NewRequest("GET", "/", nil)
		req.Header.Set("Authorization", "Bearer "+signToken(t, "officer-1", database.RoleOfficer, time.Now().Add(time.Hour)))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		require.NotNil(t, user)
		assert.Equal(t, "officer-1", user.ID)
		assert.Equal(t, "Test User", user.Name)
		assert.Equal(t, database.RoleOfficer, user.Role)
	})

	t.Run("lowercase bearer scheme is accepted", func(t *testing.T) {
		var user *User
		handler := Auth(enabled, logger)(echoUser(t, &user))

		req := httptest.NewRequest("GET", "/", nil)
		req.Header.Set("Authorization", "bearer "+signToken(t, "officer-1", database.RoleOfficer, time.Now().Add(time.Hour)))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
	})

	rejected := []struct {
		name   string
		header string
	}{
		{"missing header", ""},
		{"not a bearer token", "Basic dXNlcjpwYXNz"},
		{"garbage token", "Bearer not.a.token"},
	}
	for _, tt := range rejected {
		t.Run(tt.name, func(t *testing.T) {
			handler := Auth(enabled, logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				t.Fatal("handler must not run")
			}))

			req := httptest.NewRequest("GET", "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			assert.Equal(t, http.StatusUnauthorized, rec.Code)
		})
	}

	t.Run("expired token is rejected", func(t *testing.T) {
		handler := Auth(enabled, logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Fatal("handler must not run")
		}))

		req := httptest.NewRequest("GET", "/", nil)
		req.Header.Set("Authorization", "Bearer "+signToken(t, "officer-1", database.RoleOfficer, time.Now().Add(-time.Hour)))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("token signed with another secret is rejected", func(t *testing.T) {
		claims := Claims{Role: string(database.RoleAdmin), RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "intruder",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		}}
		forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("other-secret"))
		require.NoError(t, err)

		handler := Auth(enabled, logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Fatal("handler must not run")
		}))

		req := httptest.NewRequest("GET", "/", nil)
		req.Header.Set("Authorization", "Bearer "+forged)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("unsigned token is rejected", func(t *testing.T) {
		claims := Claims{Role: string(database.RoleAdmin), RegisteredClaims: jwt.RegisteredClaims{
			Subject: "intruder",
		}}
		unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)

		handler := Auth(enabled, logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Fatal("handler must not run")
		}))

		req := httptest.NewRequest("GET", "/", nil)
		req.Header.Set("Authorization", "Bearer "+unsigned)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestRequireRole(t *testing.T) {
	enabled := config.AuthConfig{Enabled: true, JWTSecret: testSecret}
	logger := slog.Default()

	serve := func(t *testing.T, guard func(http.Handler) http.Handler, role database.Role) int {
		t.Helper()
		handler := Auth(enabled, logger)(guard(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})))

		req := httptest.NewRequest("GET", "/", nil)
		req.Header.Set("Authorization", "Bearer "+signToken(t, "user-1", role, time.Now().Add(time.Hour)))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	officerOnly := RequireRole(database.RoleOfficer)
	adminOnly := RequireRole()

	assert.Equal(t, http.StatusOK, serve(t, officerOnly, database.RoleOfficer))
	assert.Equal(t, http.StatusForbidden, serve(t, officerOnly, database.RoleCitizen))
	assert.Equal(t, http.StatusForbidden, serve(t, officerOnly, database.RoleSupervisor))
	// Admins pass every guard, including the admin-only empty set.
	assert.Equal(t, http.StatusOK, serve(t, officerOnly, database.RoleAdmin))
	assert.Equal(t, http.StatusOK, serve(t, adminOnly, database.RoleAdmin))
	assert.Equal(t, http.StatusForbidden, serve(t, adminOnly, database.RoleSupervisor))

	t.Run("unauthenticated request is rejected outright", func(t *testing.T) {
		handler := RequireRole(database.RoleOfficer)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Fatal("handler must not run")
		}))

		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}
