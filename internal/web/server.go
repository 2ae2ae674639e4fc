// Package web serves the dashboard UI and the OAuth callback. Handlers only
// enqueue triggers with the session engine and read slots; they never write
// state themselves.
package web

import (
	"embed"
	"html/template"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"fedifaves/internal/session"
	"fedifaves/internal/state"
)

//go:embed templates/*.html
var templatesFS embed.FS

// Server is the HTTP surface of the dashboard.
type Server struct {
	engine    *session.Engine
	store     *state.Store
	router    chi.Router
	templates *template.Template
	basePath  string
	loc       *time.Location
}

// Option configures a Server.
type Option func(*Server)

// WithLocation overrides the timezone dates render in. Tests pin this to
// UTC for deterministic output.
func WithLocation(loc *time.Location) Option {
	return func(s *Server) { s.loc = loc }
}

// New creates a Server mounted at basePath (must start and end with "/").
func New(engine *session.Engine, store *state.Store, basePath string, opts ...Option) (*Server, error) {
	tmpl, err := template.ParseFS(templatesFS, "templates/*.html")
	if err != nil {
		return nil, err
	}

	s := &Server{
		engine:    engine,
		store:     store,
		templates: tmpl,
		basePath:  basePath,
		loc:       time.Local,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.setupRoutes()
	return s, nil
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))

	r.Route(strings.TrimSuffix(s.basePath, "/"), func(r chi.Router) {
		r.Get("/", s.handleIndex)
		r.Get("/auth", s.handleAuthCallback)
		r.Post("/authorize", s.handleAuthorize)
		r.Post("/logout", s.handleLogout)
		r.Post("/refresh", s.handleRefresh)
	})

	// Anything outside the base path lands on the dashboard.
	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		http.Redirect(w, req, s.basePath, http.StatusFound)
	})

	s.router = r
}

// Handler returns the fully routed http.Handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	snap, err := s.store.Snapshot(r.Context())
	if err != nil {
		slog.Error("snapshot for render failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	view := buildPageView(s.basePath, snap, s.loc)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.templates.ExecuteTemplate(w, "layout.html", view); err != nil {
		slog.Error("render failed", "error", err)
	}
}

// handleAuthorize starts (or restarts) the OAuth dance for the submitted
// instance. On success the browser follows the engine's navigation to the
// instance's authorize page.
func (s *Server) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Redirect(w, r, s.basePath, http.StatusSeeOther)
		return
	}
	s.dispatchAndFollow(w, r, session.Trigger{
		Kind:     session.TriggerAuthorize,
		Instance: r.PostForm.Get("instance"),
	})
}

// handleAuthCallback is the fixed OAuth redirect target. The raw query
// string travels to the rule set untouched; the capture rule decides
// whether it carries a code.
func (s *Server) handleAuthCallback(w http.ResponseWriter, r *http.Request) {
	s.dispatchAndFollow(w, r, session.Trigger{
		Kind:  session.TriggerCallback,
		Query: r.URL.RawQuery,
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.dispatchAndFollow(w, r, session.Trigger{Kind: session.TriggerLogout})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	s.dispatchAndFollow(w, r, session.Trigger{Kind: session.TriggerRefresh})
}

// dispatchAndFollow runs one trigger to quiescence and follows the
// resulting browser navigation. Rule failures degrade to the dashboard
// (which shows the pre-authorization prompt) instead of an error page.
func (s *Server) dispatchAndFollow(w http.ResponseWriter, r *http.Request, t session.Trigger) {
	effects, err := s.engine.Dispatch(r.Context(), t)
	if err != nil {
		slog.Error("trigger failed", "kind", t.Kind.String(), "error", err)
	}

	target := effects.Navigate
	if target == "" {
		target = s.basePath
	}
	http.Redirect(w, r, target, http.StatusSeeOther)
}
