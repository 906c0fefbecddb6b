package web

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	spotifyauth "github.com/zmb3/spotify/v2/auth"

	"github.com/lasthop/lasthop/internal/spotify"
)

// ServerConfig holds everything the HTTP layer needs.
type ServerConfig struct {
	Addr string
	// Host is the externally visible base URL; the OAuth redirect is
	// derived from it and must match the Spotify app configuration.
	Host         string
	ClientID     string
	ClientSecret string

	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	History     HistoryService
	Builder     Builder
	SearchCache spotify.SearchCache
	SpotifyCfg  spotify.Config
	// TracksPerYear is the default per-year track count for playlist
	// requests that do not specify one.
	TracksPerYear int
	Logger        zerolog.Logger
}

// Server is the HTTP front of the service.
type Server struct {
	router chi.Router
	server *http.Server
	log    zerolog.Logger
}

// NewServer wires the router, session store, and OAuth authenticator.
func NewServer(cfg ServerConfig) *Server {
	auth := spotifyauth.New(
		spotifyauth.WithClientID(cfg.ClientID),
		spotifyauth.WithClientSecret(cfg.ClientSecret),
		spotifyauth.WithRedirectURL(cfg.Host+"/callback"),
		spotifyauth.WithScopes(spotifyauth.ScopePlaylistModifyPrivate),
	)

	sessions := NewSessionStore()
	handlers := NewHandlers(cfg.History, cfg.Builder, auth, sessions, cfg.SearchCache, cfg.SpotifyCfg, cfg.TracksPerYear, cfg.Logger)

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(requestLogger(cfg.Logger))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Compress(5))

	router.Get("/health", handlers.Health)
	router.Handle("/metrics", promhttp.Handler())

	router.Get("/auth/login", handlers.Login)
	router.Get("/callback", handlers.Callback)
	router.Post("/auth/logout", handlers.Logout)

	router.Route("/api", func(r chi.Router) {
		r.Get("/me", handlers.Me)
		r.Get("/stats", handlers.GetStats)
		r.Post("/stats/clear", handlers.ClearStats)
		r.Post("/playlist", handlers.BuildPlaylist)
	})

	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 15 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		// A first stats aggregation fans out a fetch per elapsed year and
		// can take a while.
		cfg.WriteTimeout = 60 * time.Second
	}

	return &Server{
		router: router,
		log:    cfg.Logger.With().Str("component", "server").Logger(),
		server: &http.Server{
			Addr:         cfg.Addr,
			Handler:      router,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  60 * time.Second,
		},
	}
}

// requestLogger logs one line per request.
func requestLogger(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Dur("took", time.Since(start)).
				Msg("request")
		})
	}
}

// Run serves until an interrupt, then shuts down gracefully.
func (s *Server) Run() error {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", s.server.Addr).Msg("listening")
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-stop:
		s.log.Info().Msg("shutting down")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}
