package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/corepay/stepup/pkg/domain"
)

var testJWTSecret = []byte("test-jwt-secret")

const testIssuer = "stepup"

func signToken(t *testing.T, claims AccessTokenClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(testJWTSecret)
	if err != nil {
		t.Fatalf("SignedString: %v", err)
	}
	return token
}

func testClaims(userID uuid.UUID) AccessTokenClaims {
	return AccessTokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			Issuer:    testIssuer,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		TenantID: uuid.NewString(),
		Role:     "admin",
		Email:    "ops@corepay.example",
	}
}

func authedHandler(t *testing.T, wantUserID uuid.UUID) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, ok := GetUserID(r.Context())
		if !ok {
			t.Error("handler reached without user id in context")
		}
		if userID != wantUserID {
			t.Errorf("user id = %s, want %s", userID, wantUserID)
		}
		if role, ok := GetRole(r.Context()); !ok || role != domain.RoleAdmin {
			t.Errorf("role = %q, want admin", role)
		}
		if _, ok := GetTenantID(r.Context()); !ok {
			t.Error("tenant id missing from context")
		}
		w.WriteHeader(http.StatusOK)
	})
}

func TestAuthBearerToken(t *testing.T) {
	userID := uuid.New()
	handler := Auth(testJWTSecret, testIssuer)(authedHandler(t, userID))

	req := httptest.NewRequest(http.MethodGet, "/v1/me/mfa/status", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, testClaims(userID)))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestAuthCookieFallback(t *testing.T) {
	userID := uuid.New()
	handler := Auth(testJWTSecret, testIssuer)(authedHandler(t, userID))

	req := httptest.NewRequest(http.MethodGet, "/v1/me/mfa/status", nil)
	req.AddCookie(&http.Cookie{Name: "access_token", Value: signToken(t, testClaims(userID))})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestAuthRejections(t *testing.T) {
	userID := uuid.New()
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler must not be reached")
	})
	handler := Auth(testJWTSecret, testIssuer)(next)

	expired := testClaims(userID)
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Hour))

	wrongIssuer := testClaims(userID)
	wrongIssuer.Issuer = "someone-else"

	badSubject := testClaims(userID)
	badSubject.Subject = "not-a-uuid"

	wrongKey, err := jwt.NewWithClaims(jwt.SigningMethodHS256, testClaims(userID)).SignedString([]byte("other-secret"))
	if err != nil {
		t.Fatalf("SignedString: %v", err)
	}

	tests := []struct {
		name  string
		token string
	}{
		{"missing token", ""},
		{"garbage token", "not-a-jwt"},
		{"expired token", signToken(t, expired)},
		{"wrong issuer", signToken(t, wrongIssuer)},
		{"wrong signing key", wrongKey},
		{"non-uuid subject", signToken(t, badSubject)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/v1/me/mfa/status", nil)
			if tt.token != "" {
				req.Header.Set("Authorization", "Bearer "+tt.token)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != http.StatusUnauthorized {
				t.Errorf("status = %d, want 401", rec.Code)
			}
		})
	}
}
