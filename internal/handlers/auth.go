package handlers

import (
	"net/http"

	"github.com/aawaaz/civic-reports/internal/middleware"
	"github.com/aawaaz/civic-reports/internal/models"
	"github.com/aawaaz/civic-reports/internal/services"
	"github.com/aawaaz/civic-reports/internal/view"
	"go.uber.org/zap"
)

// AuthHandler handles sign-up, sign-in and sign-out
type AuthHandler struct {
	accounts *services.AccountService
	registry *view.Registry
	logger   *zap.SugaredLogger
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(accounts *services.AccountService, registry *view.Registry, logger *zap.SugaredLogger) *AuthHandler {
	return &AuthHandler{accounts: accounts, registry: registry, logger: logger}
}

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"full_name"`
}

// SignUp handles POST /api/v1/auth/signup
func (h *AuthHandler) SignUp(w http.ResponseWriter, r *http.Request) {
	var req credentials
	if err := decodeJSON(r, &req); err != nil {
		respondServiceError(w, h.logger, err)
		return
	}

	actor, err := h.accounts.SignUp(r.Context(), req.Email, req.Password, req.FullName)
	if err != nil {
		respondServiceError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]interface{}{
		"message": "Account created successfully!",
		"user":    actor,
	})
}

type loginResponse struct {
	AccessToken  string        `json:"access_token"`
	RefreshToken string        `json:"refresh_token"`
	ExpiresAt    int64         `json:"expires_at"`
	User         *models.Actor `json:"user"`
	// Redirect is the landing area for the actor's role.
	Redirect string `json:"redirect"`
}

// Login handles POST /api/v1/auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req credentials
	if err := decodeJSON(r, &req); err != nil {
		respondServiceError(w, h.logger, err)
		return
	}

	sess, actor, err := h.accounts.SignIn(r.Context(), req.Email, req.Password)
	if err != nil {
		respondServiceError(w, h.logger, err)
		return
	}

	// A fresh sign-in starts from a clean view.
	h.registry.Close(actor.ID)
	h.registry.For(*actor)

	redirect := "/api/v1/reports"
	if actor.IsAdmin() {
		redirect = "/api/v1/admin/reports"
	}
	respondJSON(w, http.StatusOK, loginResponse{
		AccessToken:  sess.AccessToken,
		RefreshToken: sess.RefreshToken,
		ExpiresAt:    sess.ExpiresAt.Unix(),
		User:         actor,
		Redirect:     redirect,
	})
}

// Logout handles POST /api/v1/auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	actor, _ := middleware.ActorFrom(r.Context())
	h.registry.Close(actor.ID)

	if err := h.accounts.SignOut(r.Context(), middleware.TokenFrom(r.Context())); err != nil {
		// The local view is already gone; the token expires on its own.
		h.logger.Warnw("Sign-out at provider failed", "user_id", actor.ID, "error", err)
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": "Logged out successfully"})
}

// Session handles GET /api/v1/auth/session
func (h *AuthHandler) Session(w http.ResponseWriter, r *http.Request) {
	actor, _ := middleware.ActorFrom(r.Context())
	respondJSON(w, http.StatusOK, map[string]interface{}{"user": actor})
}
