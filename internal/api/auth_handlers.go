package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"collabwrite/internal/auth"
	"collabwrite/internal/middleware"
	"collabwrite/internal/models"
	"collabwrite/internal/repository"

	"go.uber.org/zap"
)

func validEmail(email string) bool {
	addr, err := mail.ParseAddress(strings.TrimSpace(email))
	return err == nil && addr.Address == strings.TrimSpace(email)
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req models.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeError(w, http.StatusBadRequest, "Name is required")
		return
	}
	if !validEmail(req.Email) {
		writeError(w, http.StatusBadRequest, "Valid email is required")
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if errors.Is(err, auth.ErrPasswordTooShort) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		h.internalError(w, r, err)
		return
	}

	user := &models.User{Name: req.Name, Email: req.Email, PasswordHash: hash}
	if err := h.users.Create(r.Context(), user); err != nil {
		if errors.Is(err, repository.ErrEmailTaken) {
			writeError(w, http.StatusBadRequest, "User already exists")
			return
		}
		h.internalError(w, r, err)
		return
	}

	h.respondWithToken(w, r, http.StatusCreated, user)
	h.log.Info("user registered", zap.String("user_id", user.ID))
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req models.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	user, err := h.users.FindByEmail(r.Context(), req.Email)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		h.internalError(w, r, err)
		return
	}
	hash := auth.DummyHash()
	if user != nil {
		hash = user.PasswordHash
	}
	if !auth.CheckPassword(hash, req.Password) || user == nil {
		writeError(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}

	h.respondWithToken(w, r, http.StatusOK, user)
}

// Me returns the authenticated user
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	user, err := h.users.FindByID(r.Context(), middleware.UserID(r.Context()))
	if errors.Is(err, repository.ErrNotFound) {
		writeError(w, http.StatusNotFound, "User not found")
		return
	}
	if err != nil {
		h.internalError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, user.Public())
}

// Logout clears the browser token cookie. Bearer tokens are stateless and stay valid until they expire.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     "token",
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
	})
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Logged out successfully",
	})
}

func (h *Handler) respondWithToken(w http.ResponseWriter, r *http.Request, status int, user *models.User) {
	token, err := h.tokens.Issue(user.ID)
	if err != nil {
		h.internalError(w, r, err)
		return
	}
	writeJSON(w, status, models.AuthResponse{
		Success: true,
		Token:   token,
		User:    user.Public(),
	})
}
