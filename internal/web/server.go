package web

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/DrSmoothl/HMML2/internal/auth"
	"github.com/DrSmoothl/HMML2/internal/config"
	"github.com/DrSmoothl/HMML2/internal/database"
	"github.com/DrSmoothl/HMML2/internal/maintenance"
	"github.com/DrSmoothl/HMML2/internal/pathcache"
	"github.com/DrSmoothl/HMML2/internal/web/handlers"
	"github.com/DrSmoothl/HMML2/internal/web/middleware"
)

// Options configures the web server.
type Options struct {
	Addr        string
	Prefix      string
	AllowedNet  *net.IPNet
	CORSOrigins []string
}

// Server represents the web server
type Server struct {
	opts     Options
	router   *chi.Mux
	tokens   middleware.TokenVerifier
	handlers *handlers.Handlers
}

// NewServer creates a new web server
func NewServer(opts Options, dbManager *database.Manager, pathCache *pathcache.Manager, tokens middleware.TokenVerifier, audit *auth.Auditor) *Server {
	s := &Server{
		opts:     opts,
		router:   chi.NewRouter(),
		tokens:   tokens,
		handlers: handlers.New(dbManager, pathCache, audit),
	}
	s.setupRoutes()
	return s
}

// SetMaintenanceScheduler exposes the maintenance scheduler over the API
func (s *Server) SetMaintenanceScheduler(m *maintenance.Scheduler) {
	s.handlers.SetMaintenanceScheduler(m)
}

// SetVersionInfo sets the version reported by the system info endpoint
func (s *Server) SetVersionInfo(version, commit, date string) {
	s.handlers.SetVersionInfo(version, commit, date)
}

// Handler returns the root HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupRoutes configures all routes
func (s *Server) setupRoutes() {
	r := s.router
	h := s.handlers

	// AllowSubnet must come BEFORE RealIP so we check the actual connection source
	r.Use(chimiddleware.RequestID)
	r.Use(middleware.AllowSubnet(s.opts.AllowedNet))
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(s.opts.CORSOrigins))
	r.Use(chimiddleware.Timeout(config.GetTimeouts().HTTPRequest))

	r.NotFound(h.NotFound)

	prefix := strings.TrimSuffix(s.opts.Prefix, "/")
	r.Route(prefix+"/api", func(r chi.Router) {
		// Public
		r.Get("/health", h.Health)

		// Token protected
		r.Group(func(r chi.Router) {
			r.Use(middleware.TokenAuth(s.tokens, h.Unauthorized))

			r.Get("/system/info", h.SystemInfo)
			r.Get("/auth/audit", h.AuditStats)

			r.Route("/database", func(r chi.Router) {
				r.Get("/connections", h.DatabaseConnections)
				r.Post("/reload", h.DatabaseReload)
				r.Get("/maintenance", h.MaintenanceStatus)
				r.Post("/maintenance", h.MaintenanceRun)
				r.Get("/{name}/info", h.DatabaseInfo)
				r.Get("/{name}/test", h.DatabaseTest)
				r.Get("/{name}/tables/{table}", h.DatabaseTable)
				r.Get("/{name}/tables/{table}/rows", h.DatabaseRows)
			})

			r.Route("/expression", func(r chi.Router) {
				r.Get("/", h.ExpressionList)
				r.Post("/", h.ExpressionCreate)
				r.Get("/search", h.ExpressionSearch)
				r.Get("/stats", h.ExpressionStats)
				r.Get("/chat/{chatId}", h.ExpressionByChat)
				r.Get("/type/{type}", h.ExpressionByType)
				r.Get("/{id}", h.ExpressionGet)
				r.Put("/{id}", h.ExpressionUpdate)
				r.Delete("/{id}", h.ExpressionDelete)
				r.Post("/{id}/increment", h.ExpressionIncrement)
			})

			r.Route("/emoji", func(r chi.Router) {
				r.Get("/", h.EmojiList)
				r.Post("/", h.EmojiCreate)
				r.Get("/stats", h.EmojiStats)
				r.Post("/hash", h.EmojiHash)
				r.Get("/hash/{hash}", h.EmojiByHash)
				r.Get("/{id}", h.EmojiGet)
				r.Put("/{id}", h.EmojiUpdate)
				r.Delete("/{id}", h.EmojiDelete)
				r.Get("/{id}/image", h.EmojiImage)
				r.Post("/{id}/query", h.EmojiQueried)
			})

			r.Route("/person-info", func(r chi.Router) {
				r.Get("/", h.PersonList)
				r.Post("/", h.PersonCreate)
				r.Get("/stats", h.PersonStats)
				r.Get("/platforms", h.PersonPlatforms)
				r.Get("/{id}", h.PersonGet)
				r.Put("/{id}", h.PersonUpdate)
				r.Delete("/{id}", h.PersonDelete)
			})

			r.Route("/chat-streams", func(r chi.Router) {
				r.Get("/", h.ChatStreamList)
				r.Post("/", h.ChatStreamCreate)
				r.Get("/{id}", h.ChatStreamGet)
				r.Put("/{id}", h.ChatStreamUpdate)
				r.Delete("/{id}", h.ChatStreamDelete)
			})

			r.Route("/path-cache", func(r chi.Router) {
				r.Get("/", h.PathCacheGet)
				r.Put("/main-root", h.PathCacheSetMainRoot)
				r.Delete("/", h.PathCacheClear)

				r.Route("/adapters", func(r chi.Router) {
					r.Get("/", h.AdapterList)
					r.Post("/", h.AdapterCreate)
					r.Get("/{name}", h.AdapterGet)
					r.Put("/{name}", h.AdapterUpdate)
					r.Delete("/{name}", h.AdapterDelete)
				})
			})
		})
	})
}

// Start serves HTTP until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		log.Info().Str("addr", s.opts.Addr).Str("prefix", s.opts.Prefix).Msg("Starting HTTP server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("Shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), config.GetTimeouts().Shutdown)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errChan:
		return err
	}
}
