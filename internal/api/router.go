package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/phrazzld/topicq/internal/api/middleware"
	"github.com/phrazzld/topicq/internal/api/shared"
)

// RouterConfig holds the collaborators of the admin router. A nil Tokens
// leaves the /admin routes unregistered.
type RouterConfig struct {
	Handler *AdminHandler
	Tokens  middleware.TokenValidator
	Logger  *slog.Logger
}

// NewRouter builds the HTTP handler for the admin API.
func NewRouter(cfg RouterConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.TraceMiddleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		shared.RespondWithJSON(w, r, http.StatusOK, HealthResponse{Status: "ok"})
	})

	if cfg.Tokens == nil || cfg.Handler == nil {
		logger.Warn("admin API disabled: no admin token secret configured")
		return r
	}

	authMiddleware := middleware.NewAuthMiddleware(cfg.Tokens)
	r.Route("/admin", func(r chi.Router) {
		r.Use(authMiddleware.Authenticate)

		r.Post("/compensation/sweeps", cfg.Handler.RunCompensationSweeps)
		r.Post("/recovery/sweeps", cfg.Handler.RunRecoverySweeps)
		r.Post("/messages", cfg.Handler.EnqueueMessage)
		r.Get("/messages/{id}", cfg.Handler.GetMessage)
	})

	return r
}
