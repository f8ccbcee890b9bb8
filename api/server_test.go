package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/cooodecat/otto-handler/build"
	"github.com/cooodecat/otto-handler/deploy"
	"github.com/cooodecat/otto-handler/domain"
	"github.com/cooodecat/otto-handler/ingest"
	"github.com/cooodecat/otto-handler/provision"
	"github.com/cooodecat/otto-handler/repository"
	"github.com/cooodecat/otto-handler/testing/testdb"
)

type mockProvisioner struct{ mock.Mock }

func (m *mockProvisioner) Provision(ctx context.Context, cfg provision.ProjectConfig) (*domain.ProvisionedResourceSet, error) {
	args := m.Called(ctx, cfg)
	set, _ := args.Get(0).(*domain.ProvisionedResourceSet)
	return set, args.Error(1)
}

func (m *mockProvisioner) Teardown(ctx context.Context, projectID string) error {
	return m.Called(ctx, projectID).Error(0)
}

func (m *mockProvisioner) Get(projectID string) (*domain.ProvisionedResourceSet, error) {
	args := m.Called(projectID)
	set, _ := args.Get(0).(*domain.ProvisionedResourceSet)
	return set, args.Error(1)
}

type mockBuilds struct{ mock.Mock }

func (m *mockBuilds) StartBuild(ctx context.Context, req build.StartRequest) (*build.StartResult, error) {
	args := m.Called(ctx, req)
	res, _ := args.Get(0).(*build.StartResult)
	return res, args.Error(1)
}

type mockWatcher struct{ mock.Mock }

func (m *mockWatcher) Watch(executionID, buildID string) bool {
	return m.Called(executionID, buildID).Bool(0)
}

type mockDispatcher struct{ mock.Mock }

func (m *mockDispatcher) Dispatch(ctx context.Context, raw []byte) (ingest.Result, error) {
	args := m.Called(ctx, string(raw))
	return args.Get(0).(ingest.Result), args.Error(1)
}

type testServer struct {
	handler     http.Handler
	provisioner *mockProvisioner
	builds      *mockBuilds
	watcher     *mockWatcher
	events      *mockDispatcher
	executions  repository.ExecutionRepository
	deployments repository.DeploymentRepository
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	database := testdb.New(t)
	ts := &testServer{
		provisioner: &mockProvisioner{},
		builds:      &mockBuilds{},
		watcher:     &mockWatcher{},
		events:      &mockDispatcher{},
		executions:  repository.NewExecutionRepository(database),
		deployments: repository.NewDeploymentRepository(database),
	}
	srv := New(Config{Listen: "127.0.0.1:0"}, Deps{
		Provisioner: ts.provisioner,
		Builds:      ts.builds,
		Watcher:     ts.watcher,
		Events:      ts.events,
		Deployments: deploy.NewMachine(ts.deployments, nil),
		Executions:  ts.executions,
		Records:     ts.deployments,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	ts.handler = srv.Handler()
	return ts
}

func (ts *testServer) do(method, path, body string, headers ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodGet, "/health", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode[HealthResponse](t, rec).Status)
}

func TestCompile(t *testing.T) {
	nodes := `[{"blockId":"b1","blockType":"build_npm_script","groupType":"build","script":"build"}]`

	tests := []struct {
		name        string
		path        string
		body        string
		wantStatus  int
		contentType string
	}{
		{"bare array", "/buildspec", nodes, http.StatusOK, "application/json"},
		{"wrapped", "/buildspec", `{"nodes":` + nodes + `}`, http.StatusOK, "application/json"},
		{"empty graph", "/buildspec", `[]`, http.StatusOK, "application/json"},
		{"yaml", "/buildspec?format=yaml", nodes, http.StatusOK, "application/yaml"},
		{"empty body", "/buildspec", ``, http.StatusBadRequest, "application/json"},
		{"garbage", "/buildspec", `{nodes`, http.StatusBadRequest, "application/json"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t)

			rec := ts.do(http.MethodPost, tt.path, tt.body)

			assert.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
			assert.Equal(t, tt.contentType, rec.Header().Get("Content-Type"))
			if tt.wantStatus == http.StatusOK {
				assert.Contains(t, rec.Body.String(), "0.2")
				assert.Contains(t, rec.Body.String(), "pre_build")
			}
		})
	}
}

func TestEvents(t *testing.T) {
	tests := []struct {
		name       string
		result     ingest.Result
		err        error
		wantStatus int
	}{
		{"applied", ingest.Result{Kind: "task_running"}, nil, http.StatusAccepted},
		{"ignored", ingest.Result{Ignored: true, Reason: "unsupported event"}, nil, http.StatusAccepted},
		{"malformed", ingest.Result{}, fmt.Errorf("%w: bad envelope", ingest.ErrMalformedEvent), http.StatusBadRequest},
		{"handler failure", ingest.Result{Kind: "task_running"}, errors.New("database locked"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t)
			ts.events.On("Dispatch", mock.Anything, `{"id":"ev-1"}`).Return(tt.result, tt.err)

			rec := ts.do(http.MethodPost, "/events", `{"id":"ev-1"}`)

			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.err == nil {
				got := decode[EventResponse](t, rec)
				assert.Equal(t, tt.result.Ignored, got.Ignored)
				assert.Equal(t, tt.result.Kind, got.Kind)
			}
			ts.events.AssertExpectations(t)
		})
	}
}

func TestProvision(t *testing.T) {
	set := &domain.ProvisionedResourceSet{
		ProjectID:        "proj-1",
		UserID:           "user-1",
		BuildProjectName: "otto-user-1-proj-1",
		CreatedAt:        time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC),
	}

	tests := []struct {
		name       string
		user       string
		err        error
		wantStatus int
	}{
		{"created", "user-1", nil, http.StatusCreated},
		{"missing user", "", nil, http.StatusUnauthorized},
		{"already provisioned", "user-1", provision.ErrAlreadyProvisioned, http.StatusConflict},
		{"cloud failure", "user-1", &provision.ProvisioningError{Step: provision.StepBuildProject, Err: errors.New("throttled")}, http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t)
			if tt.user != "" {
				ret := set
				if tt.err != nil {
					ret = nil
				}
				ts.provisioner.On("Provision", mock.Anything, mock.MatchedBy(func(cfg provision.ProjectConfig) bool {
					return cfg.ProjectID == "proj-1" && cfg.UserID == "user-1" && cfg.SourceType == "GITHUB"
				})).Return(ret, tt.err)
			}

			var headers []string
			if tt.user != "" {
				headers = []string{UserHeader, tt.user}
			}
			rec := ts.do(http.MethodPost, "/projects/proj-1/resources", `{"sourceType":"GITHUB"}`, headers...)

			assert.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
			if tt.wantStatus == http.StatusCreated {
				assert.Equal(t, "otto-user-1-proj-1", decode[ResourceSetResponse](t, rec).BuildProjectName)
			}
			ts.provisioner.AssertExpectations(t)
		})
	}
}

func TestTeardown(t *testing.T) {
	ts := newTestServer(t)
	ts.provisioner.On("Teardown", mock.Anything, "proj-1").Return(nil)
	ts.provisioner.On("Teardown", mock.Anything, "proj-2").Return(provision.ErrNotProvisioned)

	assert.Equal(t, http.StatusNoContent, ts.do(http.MethodDelete, "/projects/proj-1/resources", "").Code)
	assert.Equal(t, http.StatusNotFound, ts.do(http.MethodDelete, "/projects/proj-2/resources", "").Code)
}

func TestStartBuild(t *testing.T) {
	ts := newTestServer(t)
	ts.provisioner.On("Get", "proj-1").Return(&domain.ProvisionedResourceSet{
		ProjectID:        "proj-1",
		BuildProjectName: "otto-user-1-proj-1",
	}, nil)
	ts.builds.On("StartBuild", mock.Anything, mock.MatchedBy(func(req build.StartRequest) bool {
		return req.ProjectName == "otto-user-1-proj-1" &&
			req.PipelineID == "pipe-1" &&
			req.UserID == "user-1" &&
			req.SourceVersion == "main"
	})).Return(&build.StartResult{
		ExecutionID:       "exec-1",
		ExternalBuildID:   "otto-user-1-proj-1:exec-1",
		BuildNumber:       7,
		BuildNumberSource: build.BuildNumberFromResponse,
		ImageTag:          "user-1-proj-1-7",
		Execution:         &domain.Execution{Status: domain.ExecutionStatusRunning},
	}, nil)
	ts.watcher.On("Watch", "exec-1", "otto-user-1-proj-1:exec-1").Return(true)

	rec := ts.do(http.MethodPost, "/pipelines/pipe-1/builds",
		`{"projectId":"proj-1","sourceVersion":"main"}`, UserHeader, "user-1")

	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	got := decode[StartBuildResponse](t, rec)
	assert.Equal(t, int64(7), got.BuildNumber)
	assert.Equal(t, "user-1-proj-1-7", got.ImageTag)
	assert.Equal(t, "running", got.Status)
	assert.True(t, got.Watched)
	ts.builds.AssertExpectations(t)
	ts.watcher.AssertExpectations(t)
}

func TestStartBuild_Rejections(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		headers    []string
		wantStatus int
	}{
		{"missing user", `{"projectId":"proj-1"}`, nil, http.StatusUnauthorized},
		{"missing project", `{}`, []string{UserHeader, "user-1"}, http.StatusBadRequest},
		{"not provisioned", `{"projectId":"proj-9"}`, []string{UserHeader, "user-1"}, http.StatusNotFound},
		{"trigger failure", `{"projectId":"proj-1"}`, []string{UserHeader, "user-1"}, http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t)
			ts.provisioner.On("Get", "proj-9").Return(nil, provision.ErrNotProvisioned).Maybe()
			ts.provisioner.On("Get", "proj-1").Return(&domain.ProvisionedResourceSet{BuildProjectName: "p"}, nil).Maybe()
			ts.builds.On("StartBuild", mock.Anything, mock.Anything).
				Return(nil, &build.TriggerError{Op: "start_build", Err: errors.New("quota")}).Maybe()

			rec := ts.do(http.MethodPost, "/pipelines/pipe-1/builds", tt.body, tt.headers...)

			assert.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
			ts.watcher.AssertNotCalled(t, "Watch", mock.Anything, mock.Anything)
		})
	}
}

func TestGetExecution(t *testing.T) {
	ts := newTestServer(t)
	require.NoError(t, ts.executions.Create(&domain.Execution{
		ID:         "exec-1",
		PipelineID: "pipe-1",
		ProjectID:  "proj-1",
		UserID:     "user-1",
		Type:       domain.ExecutionTypeBuild,
		Status:     domain.ExecutionStatusPending,
		StartedAt:  time.Now().UTC(),
	}))

	rec := ts.do(http.MethodGet, "/executions/exec-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[ExecutionResponse](t, rec)
	assert.Equal(t, "pending", got.Status)
	assert.Equal(t, "build", got.Type)

	assert.Equal(t, http.StatusNotFound, ts.do(http.MethodGet, "/executions/missing", "").Code)

	rec = ts.do(http.MethodGet, "/pipelines/pipe-1/executions?limit=5", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]ExecutionResponse](t, rec), 1)

	assert.Equal(t, http.StatusBadRequest, ts.do(http.MethodGet, "/pipelines/pipe-1/executions?limit=-1", "").Code)
}

func TestDeploymentEndpoints(t *testing.T) {
	ts := newTestServer(t)
	d := domain.NewDeployment("pipe-1", "proj-1", "user-1", domain.DeploymentTypeInitial)
	require.NoError(t, ts.deployments.Create(&d))
	base := "/deployments/" + d.ID.String()

	rec := ts.do(http.MethodGet, base, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "PENDING", decode[DeploymentResponse](t, rec).Status)

	// rollback is only allowed after the deployment finished
	assert.Equal(t, http.StatusConflict, ts.do(http.MethodPost, base+"/rollback", "").Code)

	assert.Equal(t, http.StatusBadRequest, ts.do(http.MethodPost, base+"/start", `{}`).Code)

	rec = ts.do(http.MethodPost, base+"/start", `{"serviceRef":"service-pipe-1","imageUri":"repo:tag"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	got := decode[DeploymentResponse](t, rec)
	assert.Equal(t, "IN_PROGRESS", got.Status)
	assert.Equal(t, "service-pipe-1", got.OrchestratorServiceRef)

	rec = ts.do(http.MethodPost, base+"/fail", `{"reason":"image pull failed"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	got = decode[DeploymentResponse](t, rec)
	assert.Equal(t, "FAILED", got.Status)
	assert.Equal(t, "image pull failed", got.ErrorMessage)

	rec = ts.do(http.MethodPost, base+"/rollback", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "ROLLED_BACK", decode[DeploymentResponse](t, rec).Status)

	rec = ts.do(http.MethodGet, "/pipelines/pipe-1/deployments", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]DeploymentResponse](t, rec), 1)
}

func TestDeploymentEndpoints_BadIDs(t *testing.T) {
	ts := newTestServer(t)

	assert.Equal(t, http.StatusBadRequest, ts.do(http.MethodGet, "/deployments/not-a-uuid", "").Code)
	assert.Equal(t, http.StatusNotFound, ts.do(http.MethodGet, "/deployments/"+"7f1c1d9e-52a4-4b57-9d0e-6c1e2a3b4c5d", "").Code)
	assert.Equal(t, http.StatusNotFound,
		ts.do(http.MethodPost, "/deployments/7f1c1d9e-52a4-4b57-9d0e-6c1e2a3b4c5d/health-check", `{"targetGroupRef":"tg"}`).Code)
}

func TestStatusForError(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{badRequest("x"), http.StatusBadRequest},
		{fmt.Errorf("lookup: %w", repository.ErrNotFound), http.StatusNotFound},
		{provision.ErrNotProvisioned, http.StatusNotFound},
		{repository.ErrActiveDeploymentExists, http.StatusConflict},
		{repository.ErrVersionConflict, http.StatusConflict},
		{fmt.Errorf("%w: rollback from PENDING", deploy.ErrInvalidTransition), http.StatusConflict},
		{&provision.TeardownError{Errs: []error{errors.New("a")}}, http.StatusBadGateway},
		{errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, statusForError(tt.err))
		})
	}
}
