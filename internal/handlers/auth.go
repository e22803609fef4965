package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/karigari/api/internal/platform/httpx"
	"github.com/karigari/api/internal/services"
)

const (
	maxAuthBodySize = 16 * 1024

	passwordResetRateLimit  = 5
	passwordResetRateWindow = time.Hour
)

// AuthHandlers exposes shopper registration, login, and password-reset endpoints.
type AuthHandlers struct {
	users     services.UserService
	resetRate rateLimiter
}

// NewAuthHandlers constructs a new AuthHandlers instance.
func NewAuthHandlers(users services.UserService) *AuthHandlers {
	return &AuthHandlers{
		users:     users,
		resetRate: newSimpleRateLimiter(passwordResetRateLimit, passwordResetRateWindow, time.Now),
	}
}

// Routes registers the /auth endpoints.
func (h *AuthHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/register", h.register)
	r.Post("/login", h.login)
	r.Post("/forgot-password", h.forgotPassword)
	r.Post("/reset-password", h.resetPassword)
}

type registerRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type forgotPasswordRequest struct {
	Email string `json:"email"`
}

type resetPasswordRequest struct {
	Email       string `json:"email"`
	OTP         string `json:"otp"`
	NewPassword string `json:"new_password"`
}

func (h *AuthHandlers) register(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.ready(ctx, w) {
		return
	}

	var req registerRequest
	if !decodeJSONBody(ctx, w, r, maxAuthBodySize, &req) {
		return
	}

	session, err := h.users.Register(ctx, services.RegisterUserCommand{
		Name:     req.Name,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		writeUserError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, buildSessionPayload(session))
}

func (h *AuthHandlers) login(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.ready(ctx, w) {
		return
	}

	var req loginRequest
	if !decodeJSONBody(ctx, w, r, maxAuthBodySize, &req) {
		return
	}

	session, err := h.users.Login(ctx, services.LoginCommand{
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		writeUserError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildSessionPayload(session))
}

func (h *AuthHandlers) forgotPassword(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.ready(ctx, w) {
		return
	}

	var req forgotPasswordRequest
	if !decodeJSONBody(ctx, w, r, maxAuthBodySize, &req) {
		return
	}

	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "email is required", http.StatusBadRequest))
		return
	}
	if h.resetRate != nil && !h.resetRate.Allow(email) {
		httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many reset requests, try again later", http.StatusTooManyRequests))
		return
	}

	err := h.users.RequestPasswordReset(ctx, services.RequestPasswordResetCommand{Email: email})
	switch {
	case err == nil, errors.Is(err, services.ErrUserNotFound):
		// An unknown address gets the same answer as a known one.
		writeJSONResponse(w, http.StatusAccepted, messageResponse{
			Message: "if the account exists, a reset code has been sent",
		})
	default:
		writeUserError(ctx, w, err)
	}
}

func (h *AuthHandlers) resetPassword(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.ready(ctx, w) {
		return
	}

	var req resetPasswordRequest
	if !decodeJSONBody(ctx, w, r, maxAuthBodySize, &req) {
		return
	}

	err := h.users.ResetPassword(ctx, services.ResetPasswordCommand{
		Email:       req.Email,
		OTP:         strings.TrimSpace(req.OTP),
		NewPassword: req.NewPassword,
	})
	if err != nil {
		writeUserError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, messageResponse{Message: "password has been reset"})
}

func (h *AuthHandlers) ready(ctx context.Context, w http.ResponseWriter) bool {
	if h.users == nil {
		httpx.WriteError(ctx, w, httpx.NewError("auth_unavailable", "authentication service unavailable", http.StatusServiceUnavailable))
		return false
	}
	return true
}

type messageResponse struct {
	Message string `json:"message"`
}

type sessionResponse struct {
	Token     string      `json:"token"`
	ExpiresAt string      `json:"expires_at"`
	User      userPayload `json:"user"`
}

type userPayload struct {
	ID        string           `json:"id"`
	Name      string           `json:"name"`
	Email     string           `json:"email"`
	Role      string           `json:"role"`
	Addresses []addressPayload `json:"addresses,omitempty"`
	CreatedAt string           `json:"created_at"`
	UpdatedAt string           `json:"updated_at,omitempty"`
}

func buildSessionPayload(session services.AuthSession) sessionResponse {
	return sessionResponse{
		Token:     session.Token,
		ExpiresAt: formatTime(session.ExpiresAt),
		User:      buildUserPayload(session.User),
	}
}

func buildUserPayload(user services.User) userPayload {
	addresses := make([]addressPayload, 0, len(user.Addresses))
	for _, addr := range user.Addresses {
		addresses = append(addresses, buildAddressPayload(addr))
	}
	return userPayload{
		ID:        user.ID,
		Name:      user.Name,
		Email:     user.Email,
		Role:      string(user.Role),
		Addresses: addresses,
		CreatedAt: formatTime(user.CreatedAt),
		UpdatedAt: formatTime(user.UpdatedAt),
	}
}

func writeUserError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrUserInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrUserEmailTaken):
		httpx.WriteError(ctx, w, httpx.NewError("email_taken", "an account with this email already exists", http.StatusConflict))
	case errors.Is(err, services.ErrUserInvalidCredentials):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_credentials", "invalid email or password", http.StatusUnauthorized))
	case errors.Is(err, services.ErrUserOTPInvalid):
		httpx.WriteError(ctx, w, httpx.NewError("otp_invalid", "reset code is invalid or expired", http.StatusBadRequest))
	case errors.Is(err, services.ErrUserNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("user_not_found", "user not found", http.StatusNotFound))
	case errors.Is(err, services.ErrUserMailUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("mail_unavailable", "could not send email, try again later", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("user_error", "failed to process account request", http.StatusInternalServerError))
	}
}
