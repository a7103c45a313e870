package handlers

import (
	"net/http"

	"github.com/aawaaz/civic-reports/internal/middleware"
	"github.com/go-chi/chi/v5"
)

// API groups the handlers mounted under /api/v1.
type API struct {
	Health  *HealthHandler
	Auth    *AuthHandler
	Reports *ReportHandler
	Admin   *AdminHandler

	// RequireAuth guards every route that needs a signed-in actor.
	RequireAuth func(http.Handler) http.Handler
}

// Routes registers the API on r.
func (a *API) Routes(r chi.Router) {
	// Health check
	r.Get("/health", a.Health.Check)
	r.Get("/health/ready", a.Health.Ready)

	r.Route("/auth", func(r chi.Router) {
		r.Post("/signup", a.Auth.SignUp)
		r.Post("/login", a.Auth.Login)
		r.Group(func(r chi.Router) {
			r.Use(a.RequireAuth)
			r.Post("/logout", a.Auth.Logout)
			r.Get("/session", a.Auth.Session)
		})
	})

	// Citizen endpoints
	r.Route("/reports", func(r chi.Router) {
		r.Use(a.RequireAuth)
		r.Get("/", a.Reports.List)
		r.Post("/", a.Reports.Submit)
		r.Get("/{id}", a.Reports.Get)
		r.Post("/{id}/feedback", a.Reports.Feedback)
	})

	// Admin dashboard
	r.Route("/admin/reports", func(r chi.Router) {
		r.Use(a.RequireAuth)
		r.Use(middleware.RequireAdmin())
		r.Get("/", a.Admin.List)
		r.Get("/stats", a.Admin.Stats)
		r.Get("/map", a.Admin.Map)
		r.Get("/{id}", a.Admin.Get)
		r.Post("/{id}/status", a.Admin.UpdateStatus)
		r.Get("/{id}/activity", a.Admin.Activity)
	})
}
