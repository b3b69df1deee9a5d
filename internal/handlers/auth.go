package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/eldtechnologies/chatrelay/internal/metrics"
	"github.com/eldtechnologies/chatrelay/internal/models"
	"github.com/eldtechnologies/chatrelay/internal/store"
)

// SignupRequest represents the signup request body.
type SignupRequest struct {
	Username    string `json:"username" validate:"required,min=3,max=50,alphanum"`
	Name        string `json:"name" validate:"max=100"`
	PhoneNumber string `json:"phoneNumber" validate:"omitempty,e164"`
	Password    string `json:"password" validate:"required,min=6,max=72"`
}

// LoginRequest represents the login request body. Login is a username or phone number.
type LoginRequest struct {
	Login    string `json:"login" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// AvailabilityResponse answers the check-username and check-phone endpoints.
type AvailabilityResponse struct {
	Available bool `json:"available"`
}

// Signup registers a new user.
func (h *Handler) Signup(w http.ResponseWriter, r *http.Request) {
	var req SignupRequest
	if !h.decode(w, r, &req) {
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		h.Fail(w, err)
		return
	}

	user, err := h.db.CreateUser(r.Context(), strings.ToLower(req.Username), sanitizeName(req.Name), req.PhoneNumber, string(hash))
	if errors.Is(err, store.ErrDuplicateUser) {
		h.Error(w, http.StatusConflict, "username or phone number already registered")
		return
	}
	if err != nil {
		h.Fail(w, err)
		return
	}

	metrics.UsersRegistered.Inc()
	h.logger.Info().Int64("user_id", user.ID).Str("username", user.Username).Msg("user registered")
	h.JSON(w, http.StatusCreated, user)
}

// Login verifies credentials and marks the user online.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !h.decode(w, r, &req) {
		return
	}

	login := strings.TrimSpace(req.Login)
	if !strings.HasPrefix(login, "+") {
		login = strings.ToLower(login)
	}
	user, err := h.db.GetUserByLogin(r.Context(), login)
	if err != nil {
		h.Fail(w, err)
		return
	}
	if user == nil {
		h.Error(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	hash, err := h.db.GetUserCredentials(r.Context(), user.ID)
	if err != nil {
		h.Fail(w, err)
		return
	}
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(req.Password)) != nil {
		h.logger.Warn().
			Str("type", "security").
			Str("event", "login_failed").
			Int64("user_id", user.ID).
			Msg("invalid password")
		h.Error(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	if err := h.db.SetUserOnline(r.Context(), user.ID, true); err != nil {
		h.Fail(w, err)
		return
	}
	user.Online = true
	h.JSON(w, http.StatusOK, user)
}

// Logout marks the user offline and stamps lastSeen.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.pathID(w, r, "userId")
	if !ok {
		return
	}

	user, err := h.db.GetUserByID(r.Context(), userID)
	if err != nil {
		h.Fail(w, err)
		return
	}
	if user == nil {
		h.Error(w, http.StatusNotFound, "user not found")
		return
	}

	if err := h.db.SetUserOnline(r.Context(), userID, false); err != nil {
		h.Fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CheckUsername reports whether a username is still free.
func (h *Handler) CheckUsername(w http.ResponseWriter, r *http.Request) {
	h.checkAvailable(w, r, strings.ToLower(chi.URLParam(r, "username")), h.db.GetUserByUsername)
}

// CheckPhone reports whether a phone number is still free.
func (h *Handler) CheckPhone(w http.ResponseWriter, r *http.Request) {
	phone := chi.URLParam(r, "phone")
	if !strings.HasPrefix(phone, "+") {
		h.Error(w, http.StatusBadRequest, "phone number must be in E.164 format")
		return
	}
	h.checkAvailable(w, r, phone, h.db.GetUserByLogin)
}

func (h *Handler) checkAvailable(w http.ResponseWriter, r *http.Request, value string, lookup func(context.Context, string) (*models.User, error)) {
	if value == "" {
		h.Error(w, http.StatusBadRequest, "value required")
		return
	}
	user, err := lookup(r.Context(), value)
	if err != nil {
		h.Fail(w, err)
		return
	}
	h.JSON(w, http.StatusOK, AvailabilityResponse{Available: user == nil})
}
