// Package api exposes the account lifecycle over HTTP so fleet controllers
// and bots on other hosts can drive a node remotely.
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/boxvps/boxvpsd/internal/application"
)

type Server struct {
	svc     *application.Service
	backups *application.Backups
	health  *application.HealthChecker
	logger  *slog.Logger
	token   string
}

func NewServer(svc *application.Service, backups *application.Backups, health *application.HealthChecker, token string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{svc: svc, backups: backups, health: health, logger: logger, token: token}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(s.requireToken)

	r.Route("/api", func(r chi.Router) {
		r.Route("/users", func(r chi.Router) {
			r.Get("/", s.handleList)
			r.Post("/", s.handleCreate)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGet)
				r.Delete("/", s.handleDelete)
				r.Post("/lock", s.handleLock)
				r.Post("/unlock", s.handleUnlock)
				r.Post("/renew", s.handleRenew)
				r.Post("/rotate", s.handleRotate)
				r.Put("/quota", s.handleSetQuota)
			})
		})
		r.Get("/status", s.handleStatus)
		r.Get("/health", s.handleHealth)
		r.Post("/backup", s.handleBackup)
		r.Post("/restore", s.handleRestore)
	})

	return r
}
