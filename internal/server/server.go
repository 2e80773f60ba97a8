package server

import (
	"encoding/json"
	"errors"
	"io/fs"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"darts/internal/auth"
	"darts/internal/game"
	"darts/internal/metrics"
	"darts/internal/play"
)

// Options wires a Server.
type Options struct {
	Manager *play.Manager
	Auth    *auth.Service
	Feed    *play.Feed
	Metrics *metrics.Metrics
	// WebFS holds the front end. Nil disables static files.
	WebFS          fs.FS
	ClientOrigin   string
	RequestTimeout time.Duration
}

// Server is the HTTP server.
type Server struct {
	r       *chi.Mux
	manager *play.Manager
	auth    *auth.Service
	feed    *play.Feed
	metrics *metrics.Metrics
	webFS   fs.FS
	origin  string
	timeout time.Duration
}

// New creates a server with all routes.
func New(opts Options) *Server {
	s := &Server{
		r:       chi.NewRouter(),
		manager: opts.Manager,
		auth:    opts.Auth,
		feed:    opts.Feed,
		metrics: opts.Metrics,
		webFS:   opts.WebFS,
		origin:  opts.ClientOrigin,
		timeout: opts.RequestTimeout,
	}
	if s.timeout <= 0 {
		s.timeout = 10 * time.Second
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.r.Use(chimw.RequestID)
	s.r.Use(chimw.RealIP)
	s.r.Use(requestLogger)
	s.r.Use(chimw.Recoverer)
	s.r.Use(s.cors)

	s.r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	})
	s.r.Handle("/metrics", s.metrics.Handler())

	s.r.Route("/api", func(r chi.Router) {
		// REST handlers are bounded; the live feed below is not.
		r.Group(func(r chi.Router) {
			r.Use(chimw.Timeout(s.timeout))

			r.Post("/auth/signup", s.handleSignup)
			r.Post("/auth/login", s.handleLogin)
			r.Post("/auth/logout", s.handleLogout)

			r.Group(func(r chi.Router) {
				r.Use(s.auth.Middleware())
				r.Get("/auth/me", s.handleMe)
				r.Get("/users", s.handleListUsers)
				r.Get("/game-types", s.handleGameTypes)
				r.Get("/games", s.handleListGames)
				r.Post("/games", s.handleCreateGame)
				r.Get("/games/{id}", s.handleGetGame)
				r.Put("/games/{id}", s.handleUpdateGame)
				r.Delete("/games/{id}", s.handleDeleteGame)
				r.Get("/games/{id}/rounds", s.handleListRounds)
				r.Post("/games/{id}/allow_update", s.handleAllowUpdate)
			})
		})

		r.With(s.auth.Middleware()).Get("/games/{id}/ws", s.handleWebSocket)
	})

	if s.webFS != nil {
		s.r.Handle("/*", http.FileServer(http.FS(s.webFS)))
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.r.ServeHTTP(w, r)
}

// cors enables credentialed CORS for the configured front end origin.
func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.origin != "" {
			w.Header().Set("Vary", "Origin")
			w.Header().Set("Access-Control-Allow-Origin", s.origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// originHost returns the host[:port] of the front end origin, for the
// websocket origin check.
func (s *Server) originHost() []string {
	u, err := url.Parse(s.origin)
	if err != nil || u.Host == "" {
		return nil
	}
	return []string{u.Host}
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		defer func() {
			log.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Dur("duration", time.Since(start)).
				Str("request_id", chimw.GetReqID(r.Context())).
				Msg("request")
		}()
		next.ServeHTTP(ww, r)
	})
}

type errorResponse struct {
	Error string           `json:"error"`
	Slots map[int][]string `json:"slots,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// writeError maps domain errors onto HTTP statuses.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, body := errorStatus(err)
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Str("path", r.URL.Path).Str("request_id", chimw.GetReqID(r.Context())).Msg("request failed")
	}
	writeJSON(w, status, body)
}

func errorStatus(err error) (int, errorResponse) {
	var (
		verr  *game.ValidationError
		serr  *game.StateError
		input *auth.InputError
	)
	switch {
	case errors.As(err, &verr):
		msg := verr.Message
		if msg == "" {
			msg = "The round contains invalid throws."
		}
		return http.StatusBadRequest, errorResponse{Error: msg, Slots: verr.Slots}
	case errors.Is(err, game.ErrNotParticipant), errors.Is(err, game.ErrNotYourTurn):
		return http.StatusForbidden, errorResponse{Error: err.Error()}
	case errors.As(err, &serr):
		return http.StatusConflict, errorResponse{Error: serr.Message}
	case errors.Is(err, game.ErrNotFound):
		return http.StatusNotFound, errorResponse{Error: "not found"}
	case errors.As(err, &input):
		return http.StatusBadRequest, errorResponse{Error: input.Error()}
	case errors.Is(err, auth.ErrUsernameTaken):
		return http.StatusConflict, errorResponse{Error: err.Error()}
	case errors.Is(err, auth.ErrInvalidCredentials):
		return http.StatusUnauthorized, errorResponse{Error: err.Error()}
	default:
		return http.StatusInternalServerError, errorResponse{Error: "internal error"}
	}
}
