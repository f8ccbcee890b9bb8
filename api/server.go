// Package api exposes the engine over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/cooodecat/otto-handler/build"
	"github.com/cooodecat/otto-handler/domain"
	"github.com/cooodecat/otto-handler/ingest"
	"github.com/cooodecat/otto-handler/provision"
)

// UserHeader carries the id of the calling user
const UserHeader = "X-User-ID"

const maxBodyBytes = 1 << 20

// Provisioner creates and destroys project resources
type Provisioner interface {
	Provision(ctx context.Context, cfg provision.ProjectConfig) (*domain.ProvisionedResourceSet, error)
	Teardown(ctx context.Context, projectID string) error
	Get(projectID string) (*domain.ProvisionedResourceSet, error)
}

// BuildStarter starts remote builds
type BuildStarter interface {
	StartBuild(ctx context.Context, req build.StartRequest) (*build.StartResult, error)
}

// BuildWatcher follows started builds until they finish
type BuildWatcher interface {
	Watch(executionID, buildID string) bool
}

// EventDispatcher applies delivered cloud events
type EventDispatcher interface {
	Dispatch(ctx context.Context, raw []byte) (ingest.Result, error)
}

// DeploymentActions are the explicit deployment transitions
type DeploymentActions interface {
	Start(ctx context.Context, id uuid.UUID, serviceRef, imageURI string) (*domain.Deployment, error)
	AwaitHealthCheck(ctx context.Context, id uuid.UUID, targetGroupRef, loadBalancerRef, loadBalancerDNS string) (*domain.Deployment, error)
	Fail(ctx context.Context, id uuid.UUID, reason string) (*domain.Deployment, error)
	RollBack(ctx context.Context, id uuid.UUID) (*domain.Deployment, error)
}

// ExecutionReader reads build executions
type ExecutionReader interface {
	FindByID(id string) (*domain.Execution, error)
	List(pipelineID string, limit int) ([]*domain.Execution, error)
}

// DeploymentReader reads deployments
type DeploymentReader interface {
	FindByID(id uuid.UUID) (*domain.Deployment, error)
	List(pipelineID string, limit int) ([]*domain.Deployment, error)
}

type Config struct {
	Listen string
}

// Deps are the collaborators the handlers call. Watcher may be nil.
type Deps struct {
	Provisioner Provisioner
	Builds      BuildStarter
	Watcher     BuildWatcher
	Events      EventDispatcher
	Deployments DeploymentActions
	Executions  ExecutionReader
	Records     DeploymentReader
}

type Server struct {
	config    Config
	deps      Deps
	logger    *slog.Logger
	server    *http.Server
	startedAt time.Time
}

func New(config Config, deps Deps, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		config:    config,
		deps:      deps,
		logger:    logger.With("layer", "api"),
		startedAt: time.Now(),
	}
}

// Handler returns the routed handler without starting a listener
func (s *Server) Handler() http.Handler {
	return s.setupRoutes()
}

// Start serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              s.config.Listen,
		Handler:           s.setupRoutes(),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      2 * time.Minute,
		IdleTimeout:       60 * time.Second,
	}

	s.logger.Info("API server starting", "listen", s.config.Listen)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("API server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

func (s *Server) setupRoutes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Post("/events", s.handleEvents)
	r.Post("/buildspec", s.handleCompile)

	r.Route("/projects/{projectID}/resources", func(r chi.Router) {
		r.Get("/", s.handleGetResources)
		r.With(s.requireUser).Post("/", s.handleProvision)
		r.Delete("/", s.handleTeardown)
	})

	r.Route("/pipelines/{pipelineID}", func(r chi.Router) {
		r.With(s.requireUser).Post("/builds", s.handleStartBuild)
		r.Get("/executions", s.handleListExecutions)
		r.Get("/deployments", s.handleListDeployments)
	})

	r.Get("/executions/{executionID}", s.handleGetExecution)

	r.Route("/deployments/{deploymentID}", func(r chi.Router) {
		r.Get("/", s.handleGetDeployment)
		r.Post("/start", s.handleStartDeployment)
		r.Post("/health-check", s.handleAwaitHealthCheck)
		r.Post("/fail", s.handleFailDeployment)
		r.Post("/rollback", s.handleRollBack)
	})

	return r
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

type userKey struct{}

// requireUser rejects requests without a user id header
func (s *Server) requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := r.Header.Get(UserHeader)
		if userID == "" {
			s.writeError(w, http.StatusUnauthorized, "missing "+UserHeader+" header")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userKey{}, userID)))
	})
}

func userFrom(ctx context.Context) string {
	userID, _ := ctx.Value(userKey{}).(string)
	return userID
}
