package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/karigari/api/internal/domain"
	"github.com/karigari/api/internal/services"
)

func newMeRouter(service services.UserService) chi.Router {
	handler := NewMeHandlers(nil, service)
	router := chi.NewRouter()
	router.Route("/me", handler.Routes)
	return router
}

func TestMeHandlersGetProfile(t *testing.T) {
	now := time.Date(2025, 6, 10, 8, 15, 0, 0, time.UTC)

	service := &stubUserService{
		getProfileFn: func(ctx context.Context, userID string) (services.User, error) {
			if userID != "usr_1" {
				t.Fatalf("expected lookup for usr_1, got %q", userID)
			}
			user := sampleUser(now)
			user.Addresses = []domain.Address{
				{FullName: "Asha Rao", Phone: "+919800000001", AddressLine1: "14 MG Road", City: "Bengaluru", State: "Karnataka", Pincode: "560001", Country: "India", IsDefault: true},
			}
			return user, nil
		},
	}

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req = withUserIdentity(req, "usr_1")
	rr := httptest.NewRecorder()
	newMeRouter(service).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp profileResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.User.Email != "asha@example.com" {
		t.Fatalf("unexpected profile email %q", resp.User.Email)
	}
	if len(resp.User.Addresses) != 1 || !resp.User.Addresses[0].IsDefault {
		t.Fatalf("unexpected addresses: %#v", resp.User.Addresses)
	}
}

func TestMeHandlersGetProfileRequiresAuth(t *testing.T) {
	service := &stubUserService{}
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	rr := httptest.NewRecorder()
	newMeRouter(service).ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rr.Code)
	}
}

func TestMeHandlersUpdateProfile(t *testing.T) {
	now := time.Date(2025, 6, 10, 8, 15, 0, 0, time.UTC)

	var captured services.UpdateProfileCommand
	service := &stubUserService{
		updateProfileFn: func(ctx context.Context, cmd services.UpdateProfileCommand) (services.User, error) {
			captured = cmd
			user := sampleUser(now)
			user.Name = "Asha R"
			return user, nil
		},
	}

	req := httptest.NewRequest(http.MethodPatch, "/me", bytes.NewBufferString(`{"name":"Asha R"}`))
	req = withUserIdentity(req, "usr_1")
	rr := httptest.NewRecorder()
	newMeRouter(service).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.Name == nil || *captured.Name != "Asha R" {
		t.Fatalf("expected name update, got %#v", captured.Name)
	}
	if captured.Email != nil {
		t.Fatalf("expected email untouched, got %#v", captured.Email)
	}
}

func TestMeHandlersUpdateProfileNoFields(t *testing.T) {
	service := &stubUserService{}
	req := httptest.NewRequest(http.MethodPatch, "/me", bytes.NewBufferString(`{}`))
	req = withUserIdentity(req, "usr_1")
	rr := httptest.NewRecorder()
	newMeRouter(service).ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestMeHandlersAddAddress(t *testing.T) {
	now := time.Date(2025, 6, 10, 8, 15, 0, 0, time.UTC)

	var captured services.UpsertAddressCommand
	service := &stubUserService{
		upsertAddrFn: func(ctx context.Context, cmd services.UpsertAddressCommand) (services.User, error) {
			captured = cmd
			return sampleUser(now), nil
		},
	}

	body := `{
		"full_name": "Asha Rao",
		"phone": "+919800000001",
		"address_line1": "14 MG Road",
		"city": "Bengaluru",
		"state": "Karnataka",
		"pincode": "560001",
		"is_default": true
	}`
	req := httptest.NewRequest(http.MethodPost, "/me/addresses", bytes.NewBufferString(body))
	req = withUserIdentity(req, "usr_1")
	rr := httptest.NewRecorder()
	newMeRouter(service).ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.Index != -1 {
		t.Fatalf("expected append index -1, got %d", captured.Index)
	}
	if !captured.Address.IsDefault || captured.Address.Pincode != "560001" {
		t.Fatalf("unexpected address: %#v", captured.Address)
	}
}

func TestMeHandlersUpdateAddress(t *testing.T) {
	now := time.Date(2025, 6, 10, 8, 15, 0, 0, time.UTC)

	var captured services.UpsertAddressCommand
	service := &stubUserService{
		upsertAddrFn: func(ctx context.Context, cmd services.UpsertAddressCommand) (services.User, error) {
			captured = cmd
			return sampleUser(now), nil
		},
	}

	body := `{"full_name":"Asha Rao","phone":"+919800000001","address_line1":"2 Brigade Rd","city":"Bengaluru","state":"Karnataka","pincode":"560025"}`
	req := httptest.NewRequest(http.MethodPut, "/me/addresses/1", bytes.NewBufferString(body))
	req = withUserIdentity(req, "usr_1")
	rr := httptest.NewRecorder()
	newMeRouter(service).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.Index != 1 {
		t.Fatalf("expected index 1, got %d", captured.Index)
	}
	if captured.Address.AddressLine1 != "2 Brigade Rd" {
		t.Fatalf("unexpected address line: %q", captured.Address.AddressLine1)
	}
}

func TestMeHandlersRemoveAddressInvalidIndex(t *testing.T) {
	service := &stubUserService{}
	req := httptest.NewRequest(http.MethodDelete, "/me/addresses/abc", nil)
	req = withUserIdentity(req, "usr_1")
	rr := httptest.NewRecorder()
	newMeRouter(service).ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestMeHandlersRemoveAddress(t *testing.T) {
	now := time.Date(2025, 6, 10, 8, 15, 0, 0, time.UTC)

	var captured services.RemoveAddressCommand
	service := &stubUserService{
		removeAddrFn: func(ctx context.Context, cmd services.RemoveAddressCommand) (services.User, error) {
			captured = cmd
			return sampleUser(now), nil
		},
	}

	req := httptest.NewRequest(http.MethodDelete, "/me/addresses/0", nil)
	req = withUserIdentity(req, "usr_1")
	rr := httptest.NewRecorder()
	newMeRouter(service).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.UserID != "usr_1" || captured.Index != 0 {
		t.Fatalf("unexpected command: %#v", captured)
	}
}
