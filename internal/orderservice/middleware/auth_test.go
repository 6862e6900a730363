package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"cafepos/pkg/models"
)

func protectedEcho(t *testing.T) (http.Handler, *models.Actor) {
	t.Helper()
	var seen models.Actor
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor, ok := ActorFrom(r.Context())
		if !ok {
			t.Fatal("no actor on authenticated request context")
		}
		seen = actor
		w.WriteHeader(http.StatusNoContent)
	})
	return inner, &seen
}

func TestAuthenticateRoundTrip(t *testing.T) {
	auth := NewAuthenticator("test-secret")
	inner, seen := protectedEcho(t)

	actor := models.Actor{ID: 42, Name: "Rita", Role: models.RoleCashier}
	token, err := auth.IssueToken(actor, StaffClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/orders/active", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()

	auth.Authenticate(inner).ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", rec.Code, rec.Body.String())
	}
	if *seen != actor {
		t.Errorf("actor mismatch: got %+v, want %+v", *seen, actor)
	}
}

func TestAuthenticateRejectsMissingToken(t *testing.T) {
	auth := NewAuthenticator("test-secret")
	inner, _ := protectedEcho(t)

	req := httptest.NewRequest(http.MethodGet, "/orders/active", nil)
	rec := httptest.NewRecorder()

	auth.Authenticate(inner).ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
}

func TestAuthenticateRejectsWrongSecret(t *testing.T) {
	issuer := NewAuthenticator("issuer-secret")
	verifier := NewAuthenticator("other-secret")
	inner, _ := protectedEcho(t)

	token, _ := issuer.IssueToken(models.Actor{ID: 1, Name: "Rita", Role: models.RoleCashier}, StaffClaims{})

	req := httptest.NewRequest(http.MethodGet, "/orders/active", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()

	verifier.Authenticate(inner).ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 for foreign token, got %d", rec.Code)
	}
}

func TestAuthenticateRejectsExpiredToken(t *testing.T) {
	auth := NewAuthenticator("test-secret")
	inner, _ := protectedEcho(t)

	token, _ := auth.IssueToken(models.Actor{ID: 1, Name: "Rita", Role: models.RoleCashier}, StaffClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
	})

	req := httptest.NewRequest(http.MethodGet, "/orders/active", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()

	auth.Authenticate(inner).ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 for expired token, got %d", rec.Code)
	}
}

func TestAuthenticateRejectsUnknownRole(t *testing.T) {
	auth := NewAuthenticator("test-secret")
	inner, _ := protectedEcho(t)

	token, _ := auth.IssueToken(models.Actor{ID: 1, Name: "Eve", Role: "intruder"}, StaffClaims{})

	req := httptest.NewRequest(http.MethodGet, "/orders/active", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()

	auth.Authenticate(inner).ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 for unknown role, got %d", rec.Code)
	}
}

func TestRequestIDGeneratedAndEchoed(t *testing.T) {
	var got string
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = RequestIDFrom(r.Context())
	})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	RequestID(inner).ServeHTTP(rec, req)

	if got == "" {
		t.Fatal("expected generated request id")
	}
	if rec.Header().Get("X-Request-ID") != got {
		t.Error("request id not echoed in response header")
	}
}

func TestRequestIDAdoptsClientID(t *testing.T) {
	var got string
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = RequestIDFrom(r.Context())
	})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "client-supplied-id")
	rec := httptest.NewRecorder()
	RequestID(inner).ServeHTTP(rec, req)

	if got != "client-supplied-id" {
		t.Errorf("expected adopted client id, got %q", got)
	}
}
