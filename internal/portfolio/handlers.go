// Package portfolio serves the portfolio site API.
//
// Public write endpoints are limited per client address: the contact form by the
// email limiter and visit tracking by the visitor limiter. Admin endpoints are
// authenticated first and then limited by the API limiter, so every protected
// action runs authenticate, rate limit, bind (sanitize and validate), persist.
package portfolio

import (
	"errors"
	"log/slog"
	"mime"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/nhalm/admitkit"
)

// ContactRequest is the contact form payload. It is accepted as JSON or as an
// urlencoded form post.
type ContactRequest struct {
	Name    string `json:"name" form:"name" sanitize:"line" validate:"required,max=100"`
	Email   string `json:"email" form:"email" sanitize:"email" validate:"required,email,max=254"`
	Subject string `json:"subject" form:"subject" sanitize:"line" validate:"max=150"`
	Message string `json:"message" form:"message" sanitize:"text" validate:"required,min=10,max=5000"`
}

// VisitRequest records a page view.
type VisitRequest struct {
	Path     string `json:"path" sanitize:"trim" validate:"required,startswith=/,max=200"`
	Referrer string `json:"referrer" sanitize:"trim" validate:"omitempty,url,max=500"`
}

// ProjectRequest creates or replaces a project.
type ProjectRequest struct {
	Title   string   `json:"title" sanitize:"line" validate:"required,max=120"`
	Summary string   `json:"summary" sanitize:"text" validate:"max=2000"`
	URL     string   `json:"url" sanitize:"trim" validate:"omitempty,http_url,max=500"`
	Tags    []string `json:"tags" sanitize:"line" validate:"max=10,dive,required,max=30"`
}

// ListProjectsRequest filters the public project list.
type ListProjectsRequest struct {
	Tag   string `query:"tag" sanitize:"line" validate:"omitempty,max=30"`
	Limit int    `query:"limit" validate:"omitempty,min=1,max=100"`
}

// Service holds the dependencies of the portfolio handlers.
type Service struct {
	repo    Repository
	limits  *admitkit.Registry
	logger  *slog.Logger
	now     func() time.Time
	newID   func() string
	maxBody int64
}

// DefaultMaxBodyBytes caps request bodies on write routes.
const DefaultMaxBodyBytes = 64 << 10

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger used for persistence failures.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithMaxBodyBytes overrides DefaultMaxBodyBytes.
func WithMaxBodyBytes(n int64) Option {
	return func(s *Service) {
		s.maxBody = n
	}
}

// WithClock replaces time.Now for timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// NewService creates a Service backed by repo and limited by limits.
func NewService(repo Repository, limits *admitkit.Registry, opts ...Option) *Service {
	s := &Service{
		repo:    repo,
		limits:  limits,
		logger:  slog.Default(),
		now:     time.Now,
		newID:   uuid.NewString,
		maxBody: DefaultMaxBodyBytes,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Mount registers the portfolio routes on r. Admin routes require a session
// accepted by verify with the admin role.
func (s *Service) Mount(r chi.Router, verify admitkit.SessionVerifier, authOpts ...admitkit.AuthOption) {
	jsonBody := []func(http.Handler) http.Handler{
		admitkit.MaxBodySize(s.maxBody),
		admitkit.RequireContentType("application/json"),
	}

	r.With(admitkit.SLO(admitkit.SLOPublicRead)).Get("/api/projects", s.listProjects)

	r.Group(func(r chi.Router) {
		r.Use(admitkit.SLO(admitkit.SLOPublicWrite))

		r.With(
			admitkit.RateLimit(s.limits.Email),
			admitkit.MaxBodySize(s.maxBody),
			admitkit.RequireContentType("application/json", "application/x-www-form-urlencoded"),
		).Post("/api/contact", s.contact)

		r.With(admitkit.RateLimit(s.limits.Visitor)).
			With(jsonBody...).
			Post("/api/visits", s.recordVisit)
	})

	r.Route("/api/admin", func(r chi.Router) {
		r.Use(admitkit.SLO(admitkit.SLOAdmin))
		r.Use(admitkit.Authenticate(verify, append(authOpts, admitkit.WithRequiredRole(admitkit.RoleAdmin))...))
		r.Use(admitkit.RateLimit(s.limits.API))

		r.With(jsonBody...).Post("/projects", s.createProject)
		r.With(jsonBody...).Put("/projects/{id}", s.updateProject)
		r.Delete("/projects/{id}", s.deleteProject)
		r.Get("/messages", s.listMessages)
		r.Get("/visits", s.visitCounts)
		r.Get("/ratelimit", s.rateLimitStats)
	})
}

func (s *Service) listProjects(_ http.ResponseWriter, r *http.Request) {
	var req ListProjectsRequest
	if !admitkit.BindQuery(r, &req) {
		return
	}

	projects, err := s.repo.ListProjects(r.Context(), ProjectFilter{Tag: req.Tag, Limit: req.Limit})
	if err != nil {
		s.fail(r, "list projects", err)
		return
	}
	admitkit.SetResponse(r, http.StatusOK, map[string]any{"projects": projects})
}

func (s *Service) contact(_ http.ResponseWriter, r *http.Request) {
	var req ContactRequest
	bind := admitkit.Bind
	if mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type")); mediaType == "application/x-www-form-urlencoded" {
		bind = admitkit.BindForm
	}
	if !bind(r, &req) {
		return
	}

	msg := Message{
		ID:         s.newID(),
		Name:       req.Name,
		Email:      req.Email,
		Subject:    req.Subject,
		Body:       req.Message,
		ClientIP:   clientIP(r),
		ReceivedAt: s.now().UTC(),
	}
	if err := s.repo.SaveMessage(r.Context(), msg); err != nil {
		s.fail(r, "save message", err)
		return
	}
	admitkit.SetResponse(r, http.StatusAccepted, map[string]string{"id": msg.ID})
}

func (s *Service) recordVisit(_ http.ResponseWriter, r *http.Request) {
	var req VisitRequest
	if !admitkit.Bind(r, &req) {
		return
	}

	visit := Visit{
		Path:      req.Path,
		Referrer:  req.Referrer,
		ClientIP:  clientIP(r),
		VisitedAt: s.now().UTC(),
	}
	if err := s.repo.RecordVisit(r.Context(), visit); err != nil {
		s.fail(r, "record visit", err)
		return
	}
	admitkit.SetResponse(r, http.StatusNoContent, nil)
}

func (s *Service) createProject(_ http.ResponseWriter, r *http.Request) {
	var req ProjectRequest
	if !admitkit.Bind(r, &req) {
		return
	}

	now := s.now().UTC()
	p := projectFrom(req)
	p.ID = s.newID()
	p.CreatedAt, p.UpdatedAt = now, now

	if err := s.repo.CreateProject(r.Context(), p); err != nil {
		s.fail(r, "create project", err)
		return
	}
	admitkit.SetResponse(r, http.StatusCreated, p)
}

func (s *Service) updateProject(_ http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req ProjectRequest
	if !admitkit.Bind(r, &req) {
		return
	}

	existing, err := s.repo.GetProject(r.Context(), id)
	if err != nil {
		s.fail(r, "get project", err)
		return
	}

	p := projectFrom(req)
	p.ID = existing.ID
	p.CreatedAt = existing.CreatedAt
	p.UpdatedAt = s.now().UTC()

	if err := s.repo.UpdateProject(r.Context(), p); err != nil {
		s.fail(r, "update project", err)
		return
	}
	admitkit.SetResponse(r, http.StatusOK, p)
}

func (s *Service) deleteProject(_ http.ResponseWriter, r *http.Request) {
	if err := s.repo.DeleteProject(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.fail(r, "delete project", err)
		return
	}
	admitkit.SetResponse(r, http.StatusNoContent, nil)
}

func (s *Service) listMessages(_ http.ResponseWriter, r *http.Request) {
	messages, err := s.repo.ListMessages(r.Context())
	if err != nil {
		s.fail(r, "list messages", err)
		return
	}
	admitkit.SetResponse(r, http.StatusOK, map[string]any{"messages": messages})
}

func (s *Service) visitCounts(_ http.ResponseWriter, r *http.Request) {
	counts, err := s.repo.VisitCounts(r.Context())
	if err != nil {
		s.fail(r, "visit counts", err)
		return
	}
	admitkit.SetResponse(r, http.StatusOK, map[string]any{"visits": counts})
}

func (s *Service) rateLimitStats(_ http.ResponseWriter, r *http.Request) {
	stats, err := s.limits.Stats(r.Context())
	if err != nil {
		s.fail(r, "rate limit stats", err)
		return
	}
	admitkit.SetResponse(r, http.StatusOK, stats)
}

// fail maps repository errors to API errors. Unexpected errors are logged and
// answered with ErrInternal.
func (s *Service) fail(r *http.Request, op string, err error) {
	if errors.Is(err, ErrNotFound) {
		admitkit.SetError(r, admitkit.ErrNotFound.With("Project not found"))
		return
	}
	s.logger.ErrorContext(r.Context(), "portfolio operation failed", "op", op, "error", err)
	admitkit.SetError(r, admitkit.ErrInternal)
}

func projectFrom(req ProjectRequest) Project {
	tags := req.Tags
	if tags == nil {
		tags = []string{}
	}
	return Project{
		Title:   req.Title,
		Summary: req.Summary,
		URL:     req.URL,
		Tags:    tags,
	}
}

func clientIP(r *http.Request) string {
	if ip, ok := admitkit.ClientIPFromContext(r.Context()); ok {
		return ip
	}
	return admitkit.ClientIP(r.Header)
}
