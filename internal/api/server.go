// Package api exposes the session registry over HTTP under /hub/api and
// provides a client for it.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/gobwas/glob"

	"github.com/Iron-Ham/nebula/internal/errors"
	"github.com/Iron-Ham/nebula/internal/lifecycle"
	"github.com/Iron-Ham/nebula/internal/logging"
	"github.com/Iron-Ham/nebula/internal/registry"
)

// Identity headers set by the authenticating front.
const (
	HeaderUser  = "X-Nebula-User"
	HeaderAdmin = "X-Nebula-Admin"
)

// Options configures a Server.
type Options struct {
	// AdminUsers are treated as admins regardless of HeaderAdmin.
	AdminUsers []string
	// AuthStrategy is reported by the health endpoint.
	AuthStrategy string
}

// Server is the hub API.
type Server struct {
	reg    *registry.Registry
	opts   Options
	mux    *http.ServeMux
	logger *logging.Logger
}

// New creates a Server backed by reg.
func New(reg *registry.Registry, opts Options, logger *logging.Logger) *Server {
	s := &Server{
		reg:    reg,
		opts:   opts,
		mux:    http.NewServeMux(),
		logger: logger.WithComponent("api"),
	}

	s.mux.HandleFunc("POST /hub/api/users/{user}/servers/{name...}", s.handleSpawn)
	s.mux.HandleFunc("DELETE /hub/api/users/{user}/servers/{name...}", s.handleStop)
	s.mux.HandleFunc("GET /hub/api/users/{user}/servers/{name...}", s.handleStatus)
	s.mux.HandleFunc("POST /hub/api/users/{user}/activity", s.handleActivity)
	s.mux.HandleFunc("GET /hub/api/sessions", s.handleSessions)
	s.mux.HandleFunc("GET /hub/api/profiles", s.handleProfiles)
	s.mux.HandleFunc("GET /hub/api/routes", s.handleRoutes)
	s.mux.HandleFunc("GET /hub/api/health", s.handleHealth)

	return s
}

// Handler returns the API handler with request logging.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		s.mux.ServeHTTP(rec, r)
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"user", r.Header.Get(HeaderUser),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Serve listens on addr until ctx is done, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return s.ServeListener(ctx, l)
}

// ServeListener serves on l until ctx is done.
func (s *Server) ServeListener(ctx context.Context, l net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(l) }()
	s.logger.Info("hub api listening", "addr", l.Addr().String())

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown api: %w", err)
	}
	return nil
}

// identity is the caller as asserted by the front proxy.
type identity struct {
	user  string
	admin bool
}

func (s *Server) identify(r *http.Request) (identity, error) {
	user := r.Header.Get(HeaderUser)
	if user == "" {
		return identity{}, fmt.Errorf("%w: missing %s header", errUnauthenticated, HeaderUser)
	}
	admin, _ := strconv.ParseBool(r.Header.Get(HeaderAdmin))
	return identity{
		user:  user,
		admin: admin || slices.Contains(s.opts.AdminUsers, user),
	}, nil
}

// authorize returns the caller if it may act on user's sessions.
func (s *Server) authorize(r *http.Request, user string) (identity, error) {
	id, err := s.identify(r)
	if err != nil {
		return id, err
	}
	if !id.admin && id.user != user {
		return id, fmt.Errorf("%w: %s may not act on sessions of %s", errors.ErrForbidden, id.user, user)
	}
	return id, nil
}

func (s *Server) requireAdmin(r *http.Request) error {
	id, err := s.identify(r)
	if err != nil {
		return err
	}
	if !id.admin {
		return fmt.Errorf("%w: admin required", errors.ErrForbidden)
	}
	return nil
}

func sessionKey(r *http.Request) lifecycle.Key {
	return lifecycle.Key{User: r.PathValue("user"), Name: r.PathValue("name")}
}

// spawnRequest is the JSON body for POST .../servers/{name}.
type spawnRequest struct {
	Profile string `json:"profile"`
}

func (s *Server) handleSpawn(w http.ResponseWriter, r *http.Request) {
	key := sessionKey(r)
	if _, err := s.authorize(r, key.User); err != nil {
		s.writeError(w, err)
		return
	}

	var req spawnRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, errors.NewValidationError("invalid request body").WithCause(err))
			return
		}
	}

	h, err := s.reg.Spawn(r.Context(), registry.SpawnRequest{User: key.User, Name: key.Name, Profile: req.Profile})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, h)
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	key := sessionKey(r)
	if _, err := s.authorize(r, key.User); err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.reg.Stop(r.Context(), key); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	key := sessionKey(r)
	if _, err := s.authorize(r, key.User); err != nil {
		s.writeError(w, err)
		return
	}
	snap, err := s.reg.Get(key)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// activityRequest is the JSON body for POST .../activity.
type activityRequest struct {
	Name         string    `json:"name"`
	LastActivity time.Time `json:"last_activity,omitzero"`
}

func (s *Server) handleActivity(w http.ResponseWriter, r *http.Request) {
	user := r.PathValue("user")
	if _, err := s.authorize(r, user); err != nil {
		s.writeError(w, err)
		return
	}

	var req activityRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, errors.NewValidationError("invalid request body").WithCause(err))
			return
		}
	}
	at := req.LastActivity
	if at.IsZero() || at.After(time.Now()) {
		at = time.Now()
	}
	if err := s.reg.Touch(lifecycle.Key{User: user, Name: req.Name}, at); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if err := s.requireAdmin(r); err != nil {
		s.writeError(w, err)
		return
	}

	sessions := s.reg.ListActive()
	if pattern := r.URL.Query().Get("user"); pattern != "" {
		g, err := glob.Compile(pattern)
		if err != nil {
			s.writeError(w, errors.NewValidationError("invalid user pattern").WithField("user").WithValue(pattern).WithCause(err))
			return
		}
		sessions = slices.DeleteFunc(sessions, func(snap lifecycle.Snapshot) bool {
			return !g.Match(snap.User)
		})
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (s *Server) handleProfiles(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.reg.Catalog().List())
}

func (s *Server) handleRoutes(w http.ResponseWriter, r *http.Request) {
	if err := s.requireAdmin(r); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.reg.Router().Routes())
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":        "ok",
		"auth_strategy": s.opts.AuthStrategy,
		"sessions":      len(s.reg.ListActive()),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
