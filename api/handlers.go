package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/cooodecat/otto-handler/build"
	"github.com/cooodecat/otto-handler/buildspec"
	"github.com/cooodecat/otto-handler/deploy"
	"github.com/cooodecat/otto-handler/domain"
	"github.com/cooodecat/otto-handler/ingest"
	"github.com/cooodecat/otto-handler/provision"
	"github.com/cooodecat/otto-handler/repository"
)

const defaultListLimit = 20

var errBadRequest = errors.New("bad request")

func badRequest(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errBadRequest, fmt.Sprintf(format, args...))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, HealthResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
	})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		s.fail(w, r, "ingest_event", badRequest("failed to read body: %v", err))
		return
	}

	res, err := s.deps.Events.Dispatch(r.Context(), raw)
	if err != nil {
		s.fail(w, r, "ingest_event", err)
		return
	}
	respondJSON(w, http.StatusAccepted, EventResponse{Kind: res.Kind, Ignored: res.Ignored, Reason: res.Reason})
}

func (s *Server) handleCompile(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		s.fail(w, r, "compile", badRequest("failed to read body: %v", err))
		return
	}
	nodes, err := decodeNodes(raw)
	if err != nil {
		s.fail(w, r, "compile", err)
		return
	}

	doc := buildspec.Compile(nodes)
	if r.URL.Query().Get("format") == "yaml" {
		out, err := doc.YAML()
		if err != nil {
			s.fail(w, r, "compile", err)
			return
		}
		w.Header().Set("Content-Type", "application/yaml")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(out)
		return
	}
	respondJSON(w, http.StatusOK, doc)
}

// decodeNodes accepts either {"nodes": [...]} or a bare node array
func decodeNodes(raw []byte) ([]domain.PipelineNode, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, badRequest("empty body")
	}
	if trimmed[0] == '[' {
		var nodes []domain.PipelineNode
		if err := json.Unmarshal(trimmed, &nodes); err != nil {
			return nil, badRequest("invalid nodes: %v", err)
		}
		return nodes, nil
	}
	var req CompileRequest
	if err := json.Unmarshal(trimmed, &req); err != nil {
		return nil, badRequest("invalid request: %v", err)
	}
	return req.Nodes, nil
}

func (s *Server) handleGetResources(w http.ResponseWriter, r *http.Request) {
	set, err := s.deps.Provisioner.Get(chi.URLParam(r, "projectID"))
	if err != nil {
		s.fail(w, r, "get_resources", err)
		return
	}
	respondJSON(w, http.StatusOK, toResourceSetResponse(set))
}

func (s *Server) handleProvision(w http.ResponseWriter, r *http.Request) {
	var req ProvisionRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, "provision", err)
		return
	}

	set, err := s.deps.Provisioner.Provision(r.Context(), provision.ProjectConfig{
		ProjectID:   chi.URLParam(r, "projectID"),
		UserID:      userFrom(r.Context()),
		SourceType:  req.SourceType,
		SourceURL:   req.SourceURL,
		Nodes:       req.Nodes,
		Environment: req.Environment,
	})
	if err != nil {
		s.fail(w, r, "provision", err)
		return
	}
	respondJSON(w, http.StatusCreated, toResourceSetResponse(set))
}

func (s *Server) handleTeardown(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Provisioner.Teardown(r.Context(), chi.URLParam(r, "projectID")); err != nil {
		s.fail(w, r, "teardown", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStartBuild(w http.ResponseWriter, r *http.Request) {
	var req StartBuildRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, "start_build", err)
		return
	}
	if req.ProjectID == "" {
		s.fail(w, r, "start_build", badRequest("projectId is required"))
		return
	}

	set, err := s.deps.Provisioner.Get(req.ProjectID)
	if err != nil {
		s.fail(w, r, "start_build", err)
		return
	}

	res, err := s.deps.Builds.StartBuild(r.Context(), build.StartRequest{
		ProjectName:   set.BuildProjectName,
		PipelineID:    chi.URLParam(r, "pipelineID"),
		ProjectID:     req.ProjectID,
		UserID:        userFrom(r.Context()),
		Nodes:         req.Nodes,
		SourceVersion: req.SourceVersion,
		Environment:   req.Environment,
	})
	if err != nil {
		s.fail(w, r, "start_build", err)
		return
	}

	watched := false
	if s.deps.Watcher != nil {
		watched = s.deps.Watcher.Watch(res.ExecutionID, res.ExternalBuildID)
	}
	respondJSON(w, http.StatusAccepted, toStartBuildResponse(res, watched))
}

func (s *Server) handleListExecutions(w http.ResponseWriter, r *http.Request) {
	limit, err := listLimit(r)
	if err != nil {
		s.fail(w, r, "list_executions", err)
		return
	}
	executions, err := s.deps.Executions.List(chi.URLParam(r, "pipelineID"), limit)
	if err != nil {
		s.fail(w, r, "list_executions", err)
		return
	}
	out := make([]ExecutionResponse, 0, len(executions))
	for _, e := range executions {
		out = append(out, toExecutionResponse(e))
	}
	respondJSON(w, http.StatusOK, out)
}

func (s *Server) handleListDeployments(w http.ResponseWriter, r *http.Request) {
	limit, err := listLimit(r)
	if err != nil {
		s.fail(w, r, "list_deployments", err)
		return
	}
	deployments, err := s.deps.Records.List(chi.URLParam(r, "pipelineID"), limit)
	if err != nil {
		s.fail(w, r, "list_deployments", err)
		return
	}
	out := make([]DeploymentResponse, 0, len(deployments))
	for _, d := range deployments {
		out = append(out, toDeploymentResponse(d))
	}
	respondJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetExecution(w http.ResponseWriter, r *http.Request) {
	execution, err := s.deps.Executions.FindByID(chi.URLParam(r, "executionID"))
	if err != nil {
		s.fail(w, r, "get_execution", err)
		return
	}
	respondJSON(w, http.StatusOK, toExecutionResponse(execution))
}

func (s *Server) handleGetDeployment(w http.ResponseWriter, r *http.Request) {
	id, err := deploymentID(r)
	if err != nil {
		s.fail(w, r, "get_deployment", err)
		return
	}
	deployment, err := s.deps.Records.FindByID(id)
	if err != nil {
		s.fail(w, r, "get_deployment", err)
		return
	}
	respondJSON(w, http.StatusOK, toDeploymentResponse(deployment))
}

func (s *Server) handleStartDeployment(w http.ResponseWriter, r *http.Request) {
	var req StartDeploymentRequest
	s.deploymentAction(w, r, "start_deployment", &req, func(id uuid.UUID) (*domain.Deployment, error) {
		if req.ServiceRef == "" {
			return nil, badRequest("serviceRef is required")
		}
		return s.deps.Deployments.Start(r.Context(), id, req.ServiceRef, req.ImageURI)
	})
}

func (s *Server) handleAwaitHealthCheck(w http.ResponseWriter, r *http.Request) {
	var req HealthCheckRequest
	s.deploymentAction(w, r, "await_health_check", &req, func(id uuid.UUID) (*domain.Deployment, error) {
		if req.TargetGroupRef == "" {
			return nil, badRequest("targetGroupRef is required")
		}
		return s.deps.Deployments.AwaitHealthCheck(r.Context(), id, req.TargetGroupRef, req.LoadBalancerRef, req.LoadBalancerDNS)
	})
}

func (s *Server) handleFailDeployment(w http.ResponseWriter, r *http.Request) {
	var req FailRequest
	s.deploymentAction(w, r, "fail_deployment", &req, func(id uuid.UUID) (*domain.Deployment, error) {
		return s.deps.Deployments.Fail(r.Context(), id, req.Reason)
	})
}

func (s *Server) handleRollBack(w http.ResponseWriter, r *http.Request) {
	s.deploymentAction(w, r, "rollback_deployment", nil, func(id uuid.UUID) (*domain.Deployment, error) {
		return s.deps.Deployments.RollBack(r.Context(), id)
	})
}

// deploymentAction decodes body into req when given, runs fn and writes the result
func (s *Server) deploymentAction(
	w http.ResponseWriter,
	r *http.Request,
	operation string,
	req any,
	fn func(id uuid.UUID) (*domain.Deployment, error),
) {
	id, err := deploymentID(r)
	if err != nil {
		s.fail(w, r, operation, err)
		return
	}
	if req != nil {
		if err := decodeJSON(r, req); err != nil {
			s.fail(w, r, operation, err)
			return
		}
	}

	deployment, err := fn(id)
	if err != nil {
		s.fail(w, r, operation, err)
		return
	}
	respondJSON(w, http.StatusOK, toDeploymentResponse(deployment))
}

func deploymentID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, "deploymentID"))
	if err != nil {
		return uuid.Nil, badRequest("invalid deployment id")
	}
	return id, nil
}

func listLimit(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultListLimit, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return 0, badRequest("invalid limit %q", raw)
	}
	return limit, nil
}

// decodeJSON decodes the request body into v. An empty body leaves v untouched.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return badRequest("invalid request body: %v", err)
	}
	return nil
}

// statusForError maps engine errors to HTTP status codes
func statusForError(err error) int {
	var provisioningErr *provision.ProvisioningError
	var teardownErr *provision.TeardownError
	var triggerErr *build.TriggerError

	switch {
	case errors.Is(err, errBadRequest), errors.Is(err, ingest.ErrMalformedEvent):
		return http.StatusBadRequest
	case errors.Is(err, repository.ErrNotFound), errors.Is(err, provision.ErrNotProvisioned):
		return http.StatusNotFound
	case errors.Is(err, repository.ErrActiveDeploymentExists),
		errors.Is(err, provision.ErrAlreadyProvisioned),
		errors.Is(err, deploy.ErrInvalidTransition),
		errors.Is(err, repository.ErrVersionConflict):
		return http.StatusConflict
	case errors.As(err, &provisioningErr), errors.As(err, &teardownErr), errors.As(err, &triggerErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, operation string, err error) {
	status := statusForError(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("Request failed", "operation", operation, "path", r.URL.Path, "error", err)
	} else {
		s.logger.Debug("Request rejected", "operation", operation, "status", status, "error", err)
	}
	s.writeError(w, status, err.Error())
}

func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}
