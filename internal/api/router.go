package api

import (
	"net/http"

	"collabwrite/internal/config"
	"collabwrite/internal/metrics"
	"collabwrite/internal/middleware"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// RouteConfig carries the settings the route table needs besides the handlers
type RouteConfig struct {
	AllowedOrigin string
	APILimit      middleware.RateLimit
	AuthLimit     middleware.RateLimit
}

// RouteConfigFromConfig applies the configured origin and rate limits
func RouteConfigFromConfig(cfg *config.Config) RouteConfig {
	return RouteConfig{
		AllowedOrigin: cfg.ClientURL,
		APILimit: middleware.RateLimit{
			Requests: cfg.APIRateLimit,
			Window:   cfg.RateLimitWindow,
		},
		AuthLimit: middleware.RateLimit{
			Requests:       cfg.AuthRateLimit,
			Window:         cfg.RateLimitWindow,
			SkipSuccessful: true,
			Message:        "Too many login attempts, please try again later",
		},
	}
}

// SetupRoutes wires the REST API, the metrics endpoint and the collaboration socket.
// CORS wraps the router so preflight requests are answered before route matching.
func SetupRoutes(h *Handler, ws http.Handler, rc RouteConfig, log *zap.Logger) http.Handler {
	r := mux.NewRouter()

	// Middleware runs in order: tracing first, then recovery and metrics
	r.Use(middleware.TracingMiddleware(log))
	r.Use(middleware.ErrorRecoveryMiddleware(log))
	r.Use(metrics.Middleware)

	api := r.PathPrefix("/api").Subrouter()
	api.Use(middleware.NewRateLimiter(rc.APILimit).Middleware)

	// Health check endpoint
	api.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods("GET")

	// Auth endpoints; only failed attempts count against the auth limit
	authRoutes := api.PathPrefix("/auth").Subrouter()
	authRoutes.Use(middleware.NewRateLimiter(rc.AuthLimit).Middleware)
	authRoutes.HandleFunc("/register", h.Register).Methods("POST")
	authRoutes.HandleFunc("/login", h.Login).Methods("POST")

	session := authRoutes.NewRoute().Subrouter()
	session.Use(middleware.RequireAuth(h.tokens))
	session.HandleFunc("/me", h.Me).Methods("GET")
	session.HandleFunc("/logout", h.Logout).Methods("POST")

	// Public share links
	api.HandleFunc("/shared/{token}", h.GetSharedDocument).Methods("GET")

	protected := api.NewRoute().Subrouter()
	protected.Use(middleware.RequireAuth(h.tokens))

	// Document endpoints
	protected.HandleFunc("/documents", h.CreateDocument).Methods("POST")
	protected.HandleFunc("/documents", h.ListDocuments).Methods("GET")
	protected.HandleFunc("/documents/{id}", h.GetDocument).Methods("GET")
	protected.HandleFunc("/documents/{id}", h.UpdateDocument).Methods("PUT")
	protected.HandleFunc("/documents/{id}", h.DeleteDocument).Methods("DELETE")
	protected.HandleFunc("/documents/{id}/share", h.ShareDocument).Methods("POST")
	protected.HandleFunc("/documents/{id}/share/{userId}", h.UnshareDocument).Methods("DELETE")
	protected.HandleFunc("/documents/{id}/share-link", h.GenerateShareLink).Methods("POST")
	protected.HandleFunc("/documents/{id}/presence", h.DocumentPresence).Methods("GET")

	r.Handle("/metrics", metrics.Handler()).Methods("GET")

	// Collaboration socket; the token arrives in join-document
	r.Handle("/ws", ws)

	return middleware.CORSMiddleware(rc.AllowedOrigin)(r)
}
