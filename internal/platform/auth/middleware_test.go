package auth

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

type stubVerifier struct {
	identity *Identity
	err      error
	received string
}

func (s *stubVerifier) Verify(token string) (*Identity, error) {
	s.received = token
	if s.err != nil {
		return nil, s.err
	}
	return s.identity, nil
}

func TestRequireAuth_AllowsValidToken(t *testing.T) {
	verifier := &stubVerifier{identity: &Identity{
		UserID: "usr_123",
		Email:  "user@example.com",
		Roles:  []string{RoleUser},
	}}

	authn := NewAuthenticator(verifier)

	handlerCalled := false
	handler := authn.RequireAuth(RoleUser)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handlerCalled = true

		identity, ok := IdentityFromContext(r.Context())
		if !ok {
			t.Fatalf("expected identity in context")
		}
		if identity.UserID != "usr_123" {
			t.Fatalf("unexpected user id: %s", identity.UserID)
		}
		if !identity.HasRole(RoleUser) {
			t.Fatalf("expected user role, got %v", identity.Roles)
		}
		if identity.Email != "user@example.com" {
			t.Fatalf("expected email user@example.com, got %s", identity.Email)
		}
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/orders/my-orders", nil)
	req.Header.Set("Authorization", "Bearer token-abc")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if !handlerCalled {
		t.Fatalf("expected wrapped handler to run")
	}
	if verifier.received != "token-abc" {
		t.Fatalf("expected raw token forwarded to verifier, got %q", verifier.received)
	}
	if rec.Code != http.StatusNoContent {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
}

func TestRequireAuth_MissingHeader(t *testing.T) {
	authn := NewAuthenticator(&stubVerifier{identity: &Identity{UserID: "usr_123", Roles: []string{RoleUser}}})

	handler := authn.RequireAuth()(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatalf("handler should not run without credentials")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/orders", nil))

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	var payload map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if payload["error"] != "unauthenticated" {
		t.Fatalf("unexpected error code: %v", payload["error"])
	}
}

func TestRequireAuth_ExpiredToken(t *testing.T) {
	authn := NewAuthenticator(&stubVerifier{err: ErrTokenExpired})

	handler := authn.RequireAuth()(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatalf("handler should not run with an expired token")
	}))

	req := httptest.NewRequest(http.MethodGet, "/orders", nil)
	req.Header.Set("Authorization", "Bearer stale")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	var payload map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if payload["error"] != "token_expired" {
		t.Fatalf("unexpected error code: %v", payload["error"])
	}
}

func TestRequireAuth_RoleAllowList(t *testing.T) {
	verifier := &stubVerifier{identity: &Identity{UserID: "usr_9", Roles: []string{RoleUser}}}
	authn := NewAuthenticator(verifier)

	handler := authn.RequireAuth(RoleAdmin, RoleSuperAdmin)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatalf("shopper role must not pass the admin allow-list")
	}))

	req := httptest.NewRequest(http.MethodGet, "/orders", nil)
	req.Header.Set("Authorization", "Bearer token")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestIssueAndVerifyRoundTrip(t *testing.T) {
	issuer, err := NewTokenIssuer(TokenIssuerConfig{Secret: "test-secret", Issuer: "karigari-api"})
	if err != nil {
		t.Fatalf("new issuer: %v", err)
	}

	token, _, err := issuer.Issue("usr_42", "shopper@example.com", RoleUser)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	identity, err := issuer.Verify(token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if identity.UserID != "usr_42" {
		t.Fatalf("unexpected subject: %s", identity.UserID)
	}
	if !identity.HasRole(RoleUser) {
		t.Fatalf("expected user role, got %v", identity.Roles)
	}
}
