package handler

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mtlprog/pms/internal/auth"
	"github.com/mtlprog/pms/internal/broker"
	"github.com/mtlprog/pms/internal/cache"
	"github.com/mtlprog/pms/internal/domain"
	"github.com/mtlprog/pms/internal/eventstore"
	"github.com/mtlprog/pms/internal/messaging"
	"github.com/mtlprog/pms/internal/middleware"
	"github.com/mtlprog/pms/internal/repository"
	"github.com/mtlprog/pms/internal/service"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

// Options carries the infrastructure the handler is built on.
type Options struct {
	Cache          cache.Cache
	CacheTTL       time.Duration
	Broker         broker.Broker
	PublishTimeout time.Duration
	Verifier       middleware.TokenVerifier
	AppVersion     string
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	pool            *pgxpool.Pool
	taskCommands    *service.TaskCommandService
	taskQueries     *service.TaskQueryService
	projectCommands *service.ProjectCommandService
	projectQueries  *service.ProjectQueryService
	events          *eventstore.Store
	deadLetters     broker.Broker
	verifier        middleware.TokenVerifier
}

// New creates a new Handler instance with all dependencies.
func New(pool *pgxpool.Pool, opts Options) *Handler {
	if opts.Cache == nil {
		opts.Cache = cache.Noop{}
	}
	if opts.Broker == nil {
		opts.Broker = broker.NewMemory(broker.DefaultRetryPolicy)
	}

	// Create repositories
	taskRepo := repository.NewTaskRepository(pool)
	projectRepo := repository.NewProjectRepository(pool)
	events := eventstore.New(repository.NewEventRepository(pool), opts.AppVersion)

	producer := messaging.NewProducer(opts.Broker, opts.PublishTimeout)

	return &Handler{
		pool:            pool,
		taskCommands:    service.NewTaskCommandService(pool, taskRepo, projectRepo, events, opts.Cache, producer),
		taskQueries:     service.NewTaskQueryService(taskRepo, opts.Cache, opts.CacheTTL),
		projectCommands: service.NewProjectCommandService(pool, projectRepo, taskRepo, events, opts.Cache),
		projectQueries:  service.NewProjectQueryService(projectRepo, opts.Cache, opts.CacheTTL),
		events:          events,
		deadLetters:     opts.Broker,
		verifier:        opts.Verifier,
	}
}

// Routes builds the HTTP router.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID, chimw.RealIP, middleware.Trace, middleware.AccessLog, chimw.Recoverer)

	r.Get("/healthz", h.handleHealthz)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Authenticate(h.verifier))

		r.Route("/tasks", func(r chi.Router) {
			r.Post("/", h.handleCreateTask)
			r.Get("/", h.handleListTasks)
			r.Get("/count", h.handleCountTasks)
			r.Get("/due-soon", h.handleDueSoonTasks)
			r.Get("/{id}", h.handleGetTask)
			r.Put("/{id}", h.handleUpdateTask)
			r.Put("/{id}/status", h.handleUpdateTaskStatus)
			r.Delete("/{id}", h.handleDeleteTask)
		})

		r.Route("/projects", func(r chi.Router) {
			r.Post("/", h.handleCreateProject)
			r.Get("/", h.handleListProjects)
			r.Get("/count", h.handleCountProjects)
			r.Get("/{id}", h.handleGetProject)
			r.Put("/{id}", h.handleUpdateProject)
			r.Delete("/{id}", h.handleDeleteProject)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(middleware.RequireRole(auth.RoleAdmin))

			r.Delete("/tasks/{id}", h.handleHardDeleteTask)
			r.Delete("/projects/{id}", h.handleHardDeleteProject)
			r.Get("/events/aggregate/{id}", h.handleAggregateHistory)
			r.Get("/events/aggregate/{id}/recent", h.handleRecentHistory)
			r.Get("/events/type/{eventType}", h.handleEventsByType)
			r.Get("/events/stats", h.handleEventStats)
			r.Get("/dead-letters/{topic}", h.handleListDeadLetters)
			r.Post("/dead-letters/{id}/requeue", h.handleRequeueDeadLetter)
		})
	})

	return r
}

// handleHealthz returns 200 OK if the database is reachable.
func (h *Handler) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if err := h.pool.Ping(r.Context()); err != nil {
		slog.Error("database health check failed", "error", err)
		http.Error(w, "database unavailable", http.StatusServiceUnavailable)
		return
	}

	w.WriteHeader(http.StatusOK)
}

// respondJSON writes a JSON response with the given status code.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", "error", err)
	}
}

// respondError writes a standard error response.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	middleware.RespondError(w, r, err)
}

// validatable is implemented by request bodies.
type validatable interface {
	Validate() error
}

// decodeRequest reads and validates a JSON body into dst.
func decodeRequest(w http.ResponseWriter, r *http.Request, dst validatable) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return fmt.Errorf("%w: invalid request body", domain.ErrValidation)
	}
	return dst.Validate()
}
