package handlers

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/karigari/api/internal/platform/auth"
	"github.com/karigari/api/internal/platform/httpx"
	"github.com/karigari/api/internal/services"
)

const maxProfileBodySize = 64 * 1024

// MeHandlers exposes the authenticated shopper's profile and address book.
type MeHandlers struct {
	authn *auth.Authenticator
	users services.UserService
}

// NewMeHandlers constructs a new MeHandlers instance.
func NewMeHandlers(authn *auth.Authenticator, users services.UserService) *MeHandlers {
	return &MeHandlers{
		authn: authn,
		users: users,
	}
}

// Routes registers the /me endpoints.
func (h *MeHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireAuth())
	}
	r.Get("/", h.getProfile)
	r.Patch("/", h.updateProfile)
	r.Post("/addresses", h.addAddress)
	r.Put("/addresses/{index}", h.updateAddress)
	r.Delete("/addresses/{index}", h.removeAddress)
}

type updateProfileRequest struct {
	Name  *string `json:"name"`
	Email *string `json:"email"`
}

func (h *MeHandlers) getProfile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := h.requireUser(ctx, w)
	if !ok {
		return
	}

	user, err := h.users.GetProfile(ctx, userID)
	if err != nil {
		writeUserError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, profileResponse{User: buildUserPayload(user)})
}

func (h *MeHandlers) updateProfile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := h.requireUser(ctx, w)
	if !ok {
		return
	}

	var req updateProfileRequest
	if !decodeJSONBody(ctx, w, r, maxProfileBodySize, &req) {
		return
	}
	if req.Name == nil && req.Email == nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "no editable fields provided", http.StatusBadRequest))
		return
	}

	user, err := h.users.UpdateProfile(ctx, services.UpdateProfileCommand{
		UserID: userID,
		Name:   req.Name,
		Email:  req.Email,
	})
	if err != nil {
		writeUserError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, profileResponse{User: buildUserPayload(user)})
}

func (h *MeHandlers) addAddress(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := h.requireUser(ctx, w)
	if !ok {
		return
	}

	var req addressPayload
	if !decodeJSONBody(ctx, w, r, maxProfileBodySize, &req) {
		return
	}

	user, err := h.users.UpsertAddress(ctx, services.UpsertAddressCommand{
		UserID:  userID,
		Index:   -1,
		Address: req.toDomain(),
	})
	if err != nil {
		writeUserError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, profileResponse{User: buildUserPayload(user)})
}

func (h *MeHandlers) updateAddress(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := h.requireUser(ctx, w)
	if !ok {
		return
	}

	index, ok := parseAddressIndex(ctx, w, r)
	if !ok {
		return
	}

	var req addressPayload
	if !decodeJSONBody(ctx, w, r, maxProfileBodySize, &req) {
		return
	}

	user, err := h.users.UpsertAddress(ctx, services.UpsertAddressCommand{
		UserID:  userID,
		Index:   index,
		Address: req.toDomain(),
	})
	if err != nil {
		writeUserError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, profileResponse{User: buildUserPayload(user)})
}

func (h *MeHandlers) removeAddress(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := h.requireUser(ctx, w)
	if !ok {
		return
	}

	index, ok := parseAddressIndex(ctx, w, r)
	if !ok {
		return
	}

	user, err := h.users.RemoveAddress(ctx, services.RemoveAddressCommand{
		UserID: userID,
		Index:  index,
	})
	if err != nil {
		writeUserError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, profileResponse{User: buildUserPayload(user)})
}

func (h *MeHandlers) requireUser(ctx context.Context, w http.ResponseWriter) (string, bool) {
	if h.users == nil {
		httpx.WriteError(ctx, w, httpx.NewError("profile_unavailable", "profile service unavailable", http.StatusServiceUnavailable))
		return "", false
	}
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UserID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return "", false
	}
	return strings.TrimSpace(identity.UserID), true
}

func parseAddressIndex(ctx context.Context, w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := strings.TrimSpace(chi.URLParam(r, "index"))
	index, err := strconv.Atoi(raw)
	if err != nil || index < 0 {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "address index must be a non-negative integer", http.StatusBadRequest))
		return 0, false
	}
	return index, true
}

type profileResponse struct {
	User userPayload `json:"user"`
}
