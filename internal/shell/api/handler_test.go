package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artpar/reflow/internal/core/deployment"
	"github.com/artpar/reflow/internal/core/domain"
	"github.com/artpar/reflow/internal/shell/docker"
	"github.com/artpar/reflow/internal/shell/docker/dockertest"
	"github.com/artpar/reflow/internal/shell/engine"
	"github.com/artpar/reflow/internal/shell/envfile"
	"github.com/artpar/reflow/internal/shell/ledger"
	"github.com/artpar/reflow/internal/shell/metrics"
	"github.com/artpar/reflow/internal/shell/registry"
	"github.com/artpar/reflow/internal/shell/repo"
	"github.com/artpar/reflow/internal/shell/slots"
	"github.com/artpar/reflow/internal/shell/store"
)

const (
	shaA = "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	shaB = "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
)

// =============================================================================
// Test Helpers
// =============================================================================

// stubRepo resolves refs from a fixed table and checks out empty trees.
type stubRepo struct {
	refs map[string]string
}

func (r *stubRepo) Resolve(ctx context.Context, url, ref string) (string, error) {
	if ref == "" {
		ref = "main"
	}
	sha, ok := r.refs[ref]
	if !ok {
		return "", fmt.Errorf("%w: %s", repo.ErrRefNotFound, ref)
	}
	return sha, nil
}

func (r *stubRepo) Checkout(ctx context.Context, url, dir, sha string) error {
	return os.MkdirAll(dir, 0o755)
}

type testEnv struct {
	handler http.Handler
	h       *Handler
	docker  *dockertest.Fake
	store   store.Store
}

func newTestHandler(t *testing.T) *testEnv {
	t.Helper()
	dataDir := t.TempDir()
	s, err := store.NewSQLiteStore(filepath.Join(dataDir, "reflow.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	fake := dockertest.New()
	m := metrics.New()
	envs := envfile.New(dataDir, nil)
	reg := registry.New(s, fake, envs.Path, registry.Config{DataDir: dataDir, BaseDomain: "apps.local"}, nil)
	lg := ledger.New(s, nil)
	eng := engine.New(engine.Deps{
		Projects: reg,
		Slots:    slots.New(s, nil),
		Docker:   fake,
		Repo:     &stubRepo{refs: map[string]string{"main": shaA, "next": shaB}},
		Envs:     envs,
		Ledger:   lg,
		Metrics:  m,
	}, engine.Config{HealthPolicy: deployment.NoWaitPolicy(2)}, nil)

	h := NewHandler(Deps{
		Registry: reg,
		Engine:   eng,
		Ledger:   lg,
		EnvFiles: envs,
		Docker:   fake,
		Store:    s,
		Metrics:  m,
	}, "http://localhost:8585", nil)

	return &testEnv{handler: h.Routes(), h: h, docker: fake, store: s}
}

func (e *testEnv) do(t *testing.T, method, path string, body io.Reader) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	return w
}

func (e *testEnv) createProject(t *testing.T, name string) {
	t.Helper()
	w := e.do(t, http.MethodPost, "/api/v1/projects", jsonBody(t, domain.CreateProjectArgs{
		ProjectName: name,
		RepoURL:     "https://example.com/" + name + ".git",
	}))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
}

func (e *testEnv) deploy(t *testing.T, name string) domain.DeploymentResult {
	t.Helper()
	w := e.do(t, http.MethodPost, "/api/v1/projects/"+name+"/deploy", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	return parseResponse[domain.DeploymentResult](t, w.Body)
}

func jsonBody(t *testing.T, v any) io.Reader {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return bytes.NewReader(data)
}

func parseResponse[T any](t *testing.T, body io.Reader) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(body).Decode(&v))
	return v
}

func assertError(t *testing.T, w *httptest.ResponseRecorder, status int, code string) ErrorResponse {
	t.Helper()
	assert.Equal(t, status, w.Code, w.Body.String())
	resp := parseResponse[ErrorResponse](t, w.Body)
	assert.Equal(t, code, resp.Code)
	assert.NotEmpty(t, resp.Error)
	return resp
}

// =============================================================================
// Health
// =============================================================================

func TestHealth(t *testing.T) {
	e := newTestHandler(t)

	w := e.do(t, http.MethodGet, "/health", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "healthy", parseResponse[HealthResponse](t, w.Body).Status)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestReady(t *testing.T) {
	e := newTestHandler(t)

	w := e.do(t, http.MethodGet, "/ready", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	resp := parseResponse[ReadyResponse](t, w.Body)
	assert.Equal(t, "ready", resp.Status)
	assert.Equal(t, "ok", resp.Checks["database"])
	assert.Equal(t, "ok", resp.Checks["docker"])
}

func TestReady_DockerDown(t *testing.T) {
	e := newTestHandler(t)
	e.docker.FailOn(dockertest.OpPing, docker.NewDockerError(dockertest.OpPing, "daemon", "", "refused", docker.ErrConnectionFailed))

	w := e.do(t, http.MethodGet, "/ready", nil)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	resp := parseResponse[ReadyResponse](t, w.Body)
	assert.Equal(t, "not_ready", resp.Status)
	assert.Equal(t, "failed", resp.Checks["docker"])
	assert.Equal(t, "ok", resp.Checks["database"])
}

func TestMetrics(t *testing.T) {
	e := newTestHandler(t)
	e.do(t, http.MethodGet, "/api/v1/projects", nil)

	w := e.do(t, http.MethodGet, "/metrics", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `reflow_api_http_requests_total{method="GET",route="/api/v1/projects",status="200"} 1`)
}

// =============================================================================
// Projects
// =============================================================================

func TestCreateProject_Success(t *testing.T) {
	e := newTestHandler(t)

	w := e.do(t, http.MethodPost, "/api/v1/projects", jsonBody(t, domain.CreateProjectArgs{
		ProjectName: "demo",
		RepoURL:     "https://example.com/demo.git",
	}))

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "Project demo created", parseResponse[MessageResponse](t, w.Body).Message)

	w = e.do(t, http.MethodGet, "/api/v1/projects", nil)
	require.Equal(t, http.StatusOK, w.Code)
	projects := parseResponse[[]domain.ProjectSummary](t, w.Body)
	require.Len(t, projects, 1)
	assert.Equal(t, "demo", projects[0].Name)
	assert.Equal(t, "Not Deployed", projects[0].TestStatus)
	assert.Equal(t, "Not Deployed", projects[0].ProdStatus)
}

func TestCreateProject_Duplicate(t *testing.T) {
	e := newTestHandler(t)
	e.createProject(t, "demo")

	w := e.do(t, http.MethodPost, "/api/v1/projects", jsonBody(t, domain.CreateProjectArgs{
		ProjectName: "demo",
		RepoURL:     "https://example.com/other.git",
	}))

	assertError(t, w, http.StatusConflict, "project_exists")
}

func TestCreateProject_InvalidName(t *testing.T) {
	e := newTestHandler(t)

	w := e.do(t, http.MethodPost, "/api/v1/projects", jsonBody(t, domain.CreateProjectArgs{
		ProjectName: "Not Valid",
		RepoURL:     "https://example.com/demo.git",
	}))

	resp := assertError(t, w, http.StatusBadRequest, "validation_error")
	assert.Contains(t, resp.Error, "projectName")
}

func TestCreateProject_UnknownField(t *testing.T) {
	e := newTestHandler(t)

	w := e.do(t, http.MethodPost, "/api/v1/projects",
		strings.NewReader(`{"projectName":"demo","repoUrl":"https://example.com/demo.git","owner":"me"}`))

	resp := assertError(t, w, http.StatusBadRequest, "invalid_json")
	assert.Contains(t, resp.Error, "owner")
}

func TestListProjects_Empty(t *testing.T) {
	e := newTestHandler(t)

	w := e.do(t, http.MethodGet, "/api/v1/projects", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, "[]", w.Body.String())
}

func TestProjectStatus(t *testing.T) {
	e := newTestHandler(t)
	e.createProject(t, "demo")
	e.deploy(t, "demo")

	w := e.do(t, http.MethodGet, "/api/v1/projects/demo/status", nil)

	require.Equal(t, http.StatusOK, w.Code)
	details := parseResponse[domain.ProjectDetails](t, w.Body)
	assert.Equal(t, "demo", details.Name)
	assert.True(t, details.TestDetails.IsActive)
	assert.Equal(t, shaA, details.TestDetails.ActiveCommit)
	assert.Equal(t, "blue", details.TestDetails.ActiveSlot)
	assert.Equal(t, "demo-test.apps.local", details.TestDetails.EffectiveDomain)
	assert.False(t, details.ProdDetails.IsActive)
	assert.Equal(t, "demo.apps.local", details.ProdDetails.EffectiveDomain)
}

func TestProjectStatus_NotFound(t *testing.T) {
	e := newTestHandler(t)

	w := e.do(t, http.MethodGet, "/api/v1/projects/ghost/status", nil)

	assertError(t, w, http.StatusNotFound, "project_not_found")
}

func TestConfig_GetAndUpdate(t *testing.T) {
	e := newTestHandler(t)
	e.createProject(t, "demo")

	w := e.do(t, http.MethodGet, "/api/v1/projects/demo/config", nil)
	require.Equal(t, http.StatusOK, w.Code)
	cfg := parseResponse[domain.ProjectConfig](t, w.Body)
	assert.Equal(t, 3000, cfg.AppPort)
	assert.Equal(t, ".env.development", cfg.Environments.Test.EnvFile)

	cfg.AppPort = 8080
	cfg.Environments.Prod.Domain = "demo.example.com"
	w = e.do(t, http.MethodPut, "/api/v1/projects/demo/config", jsonBody(t, cfg))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	updated := parseResponse[domain.ProjectConfig](t, w.Body)
	assert.Equal(t, 8080, updated.AppPort)
	assert.Equal(t, "demo.example.com", updated.Environments.Prod.Domain)

	w = e.do(t, http.MethodGet, "/api/v1/projects/demo/config", nil)
	assert.Equal(t, updated, parseResponse[domain.ProjectConfig](t, w.Body))
}

func TestConfig_UpdateRejectsUnknownFields(t *testing.T) {
	e := newTestHandler(t)
	e.createProject(t, "demo")

	w := e.do(t, http.MethodPut, "/api/v1/projects/demo/config",
		strings.NewReader(`{"githubRepo":"https://example.com/demo.git","appPort":3000,"replicas":3}`))

	assertError(t, w, http.StatusBadRequest, "invalid_json")
}

func TestConfig_UpdateRejectsTrailingData(t *testing.T) {
	e := newTestHandler(t)
	e.createProject(t, "demo")

	w := e.do(t, http.MethodPut, "/api/v1/projects/demo/config",
		strings.NewReader(`{"githubRepo":"https://example.com/demo.git"} {}`))

	assertError(t, w, http.StatusBadRequest, "invalid_json")
}

func TestConfig_UpdateNotFound(t *testing.T) {
	e := newTestHandler(t)

	w := e.do(t, http.MethodPut, "/api/v1/projects/ghost/config", jsonBody(t, domain.ProjectConfig{
		GithubRepo: "https://example.com/ghost.git",
		AppPort:    3000,
	}))

	assertError(t, w, http.StatusNotFound, "project_not_found")
}

// =============================================================================
// Deploy and Approve
// =============================================================================

func TestDeploy_DefaultBranch(t *testing.T) {
	e := newTestHandler(t)
	e.createProject(t, "demo")

	result := e.deploy(t, "demo")

	assert.True(t, result.Success)
	assert.Equal(t, shaA, result.Commit)
	assert.Equal(t, domain.SlotBlue, result.Slot)
	assert.Contains(t, result.Message, "aaaaaaaaaaaa")

	w := e.do(t, http.MethodGet, "/api/v1/projects", nil)
	projects := parseResponse[[]domain.ProjectSummary](t, w.Body)
	require.Len(t, projects, 1)
	assert.Equal(t, "Active (Commit: "+shaA+")", projects[0].TestStatus)
}

func TestDeploy_WithCommit(t *testing.T) {
	e := newTestHandler(t)
	e.createProject(t, "demo")

	w := e.do(t, http.MethodPost, "/api/v1/projects/demo/deploy", jsonBody(t, DeployRequest{Commit: "next"}))

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, shaB, parseResponse[domain.DeploymentResult](t, w.Body).Commit)
}

func TestDeploy_UnknownRef(t *testing.T) {
	e := newTestHandler(t)
	e.createProject(t, "demo")

	w := e.do(t, http.MethodPost, "/api/v1/projects/demo/deploy", jsonBody(t, DeployRequest{Commit: "nope"}))

	assertError(t, w, http.StatusBadRequest, "commit_resolution_failed")
}

func TestDeploy_InvalidBody(t *testing.T) {
	e := newTestHandler(t)
	e.createProject(t, "demo")

	w := e.do(t, http.MethodPost, "/api/v1/projects/demo/deploy", strings.NewReader(`{"ref":"main"}`))

	assertError(t, w, http.StatusBadRequest, "invalid_json")
}

func TestDeploy_UnknownProject(t *testing.T) {
	e := newTestHandler(t)

	w := e.do(t, http.MethodPost, "/api/v1/projects/ghost/deploy", nil)

	assertError(t, w, http.StatusNotFound, "project_not_found")
}

func TestDeploy_DriverUnavailable(t *testing.T) {
	e := newTestHandler(t)
	e.createProject(t, "demo")
	e.docker.FailOn(dockertest.OpBuild, docker.NewDockerError(dockertest.OpBuild, "image", "", "refused", docker.ErrConnectionFailed))

	w := e.do(t, http.MethodPost, "/api/v1/projects/demo/deploy", nil)

	assertError(t, w, http.StatusBadGateway, "driver_unavailable")
}

func TestApprove_WithoutTestDeployment(t *testing.T) {
	e := newTestHandler(t)
	e.createProject(t, "demo")

	w := e.do(t, http.MethodPost, "/api/v1/projects/demo/approve", nil)

	assertError(t, w, http.StatusBadRequest, "no_active_test_deployment")
}

func TestApprove_PromotesTestCommit(t *testing.T) {
	e := newTestHandler(t)
	e.createProject(t, "demo")
	e.deploy(t, "demo")

	w := e.do(t, http.MethodPost, "/api/v1/projects/demo/approve", nil)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	result := parseResponse[domain.DeploymentResult](t, w.Body)
	assert.True(t, result.Success)
	assert.Equal(t, domain.EnvProd, result.Environment)
	assert.Equal(t, shaA, result.Commit)
}

// =============================================================================
// History
// =============================================================================

func TestProjectHistory(t *testing.T) {
	e := newTestHandler(t)
	e.createProject(t, "demo")
	e.deploy(t, "demo")
	e.do(t, http.MethodPost, "/api/v1/projects/demo/approve", nil)

	w := e.do(t, http.MethodGet, "/api/v1/projects/demo/deployments", nil)
	require.Equal(t, http.StatusOK, w.Code)
	events := parseResponse[[]domain.DeploymentEvent](t, w.Body)
	require.Len(t, events, 4)
	assert.Equal(t, domain.EventApprove, events[0].EventType)
	assert.Equal(t, domain.OutcomeSuccess, events[0].Outcome)
	assert.Equal(t, domain.EventDeploy, events[3].EventType)
	assert.Equal(t, domain.OutcomeStarted, events[3].Outcome)

	w = e.do(t, http.MethodGet, "/api/v1/projects/demo/deployments?env=test&outcome=success", nil)
	require.Equal(t, http.StatusOK, w.Code)
	events = parseResponse[[]domain.DeploymentEvent](t, w.Body)
	require.Len(t, events, 1)
	assert.Equal(t, domain.EnvTest, events[0].Environment)
	require.NotNil(t, events[0].DurationMs)

	w = e.do(t, http.MethodGet, "/api/v1/projects/demo/deployments?limit=1&offset=1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	events = parseResponse[[]domain.DeploymentEvent](t, w.Body)
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventApprove, events[0].EventType)
	assert.Equal(t, domain.OutcomeStarted, events[0].Outcome)
}

func TestProjectHistory_InvalidFilters(t *testing.T) {
	e := newTestHandler(t)
	e.createProject(t, "demo")

	tests := []struct {
		name  string
		query string
	}{
		{"bad env", "env=staging"},
		{"bad outcome", "outcome=maybe"},
		{"non-numeric limit", "limit=ten"},
		{"negative limit", "limit=-1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := e.do(t, http.MethodGet, "/api/v1/projects/demo/deployments?"+tt.query, nil)
			assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
		})
	}
}

func TestProjectHistory_UnknownProject(t *testing.T) {
	e := newTestHandler(t)

	w := e.do(t, http.MethodGet, "/api/v1/projects/ghost/deployments", nil)

	assertError(t, w, http.StatusNotFound, "project_not_found")
}

func TestRecentDeployments(t *testing.T) {
	e := newTestHandler(t)
	e.createProject(t, "demo")
	e.createProject(t, "api")
	e.deploy(t, "demo")
	e.deploy(t, "api")

	w := e.do(t, http.MethodGet, "/api/v1/deployments?limit=3", nil)

	require.Equal(t, http.StatusOK, w.Code)
	events := parseResponse[[]domain.DeploymentEvent](t, w.Body)
	require.Len(t, events, 3)
	assert.Equal(t, "api", events[0].ProjectName)
	assert.Equal(t, domain.OutcomeSuccess, events[0].Outcome)
}

// =============================================================================
// Environment Lifecycle
// =============================================================================

func TestStopStart(t *testing.T) {
	e := newTestHandler(t)
	e.createProject(t, "demo")
	e.deploy(t, "demo")

	w := e.do(t, http.MethodPost, "/api/v1/projects/demo/test/stop", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "Stopped test environment of demo", parseResponse[MessageResponse](t, w.Body).Message)

	w = e.do(t, http.MethodGet, "/api/v1/projects", nil)
	assert.Equal(t, "Not Deployed", parseResponse[[]domain.ProjectSummary](t, w.Body)[0].TestStatus)

	// Stopping twice is a no-op
	w = e.do(t, http.MethodPost, "/api/v1/projects/demo/test/stop", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = e.do(t, http.MethodPost, "/api/v1/projects/demo/test/start", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = e.do(t, http.MethodGet, "/api/v1/projects", nil)
	assert.Equal(t, "Active (Commit: "+shaA+")", parseResponse[[]domain.ProjectSummary](t, w.Body)[0].TestStatus)
}

func TestStart_NeverDeployed(t *testing.T) {
	e := newTestHandler(t)
	e.createProject(t, "demo")

	w := e.do(t, http.MethodPost, "/api/v1/projects/demo/prod/start", nil)

	assertError(t, w, http.StatusBadRequest, "not_deployed")
}

func TestRestart(t *testing.T) {
	e := newTestHandler(t)
	e.createProject(t, "demo")
	e.deploy(t, "demo")

	w := e.do(t, http.MethodPost, "/api/v1/projects/demo/test/restart", nil)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "Restarted test environment of demo", parseResponse[MessageResponse](t, w.Body).Message)
	info, ok := e.docker.ContainerByName("reflow-demo-test-blue")
	require.True(t, ok)
	assert.Equal(t, docker.ContainerStatusRunning, info.Status)
}

func TestRestart_StartFailureNamesStep(t *testing.T) {
	e := newTestHandler(t)
	e.createProject(t, "demo")

	w := e.do(t, http.MethodPost, "/api/v1/projects/demo/test/restart", nil)

	resp := assertError(t, w, http.StatusBadRequest, "not_deployed")
	assert.True(t, strings.HasPrefix(resp.Error, "failed to start during restart: "), resp.Error)
}

func TestRestart_StopFailureNamesStep(t *testing.T) {
	e := newTestHandler(t)
	e.createProject(t, "demo")
	e.deploy(t, "demo")
	e.docker.FailOn(dockertest.OpStop, docker.NewDockerError(dockertest.OpStop, "container", "", "refused", docker.ErrConnectionFailed))

	w := e.do(t, http.MethodPost, "/api/v1/projects/demo/test/restart", nil)

	resp := assertError(t, w, http.StatusBadGateway, "driver_unavailable")
	assert.True(t, strings.HasPrefix(resp.Error, "failed to stop during restart: "), resp.Error)
}

func TestEnvironment_InvalidEnv(t *testing.T) {
	e := newTestHandler(t)
	e.createProject(t, "demo")

	for _, path := range []string{"/staging/start", "/staging/stop", "/staging/restart"} {
		w := e.do(t, http.MethodPost, "/api/v1/projects/demo"+path, nil)
		assertError(t, w, http.StatusBadRequest, "validation_error")
	}
	w := e.do(t, http.MethodGet, "/api/v1/projects/demo/staging/envfile", nil)
	assertError(t, w, http.StatusBadRequest, "validation_error")
}

func TestLogs(t *testing.T) {
	e := newTestHandler(t)
	e.createProject(t, "demo")
	e.deploy(t, "demo")
	e.docker.Logs = "listening on 3000\n"

	w := e.do(t, http.MethodGet, "/api/v1/projects/demo/test/logs?tail=50", nil)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "text/plain; charset=utf-8", w.Header().Get("Content-Type"))
	assert.Equal(t, "listening on 3000\n", w.Body.String())
}

func TestLogs_NotDeployed(t *testing.T) {
	e := newTestHandler(t)
	e.createProject(t, "demo")

	w := e.do(t, http.MethodGet, "/api/v1/projects/demo/test/logs", nil)

	assertError(t, w, http.StatusBadRequest, "not_deployed")
}

func TestLogs_InvalidTail(t *testing.T) {
	e := newTestHandler(t)
	e.createProject(t, "demo")

	w := e.do(t, http.MethodGet, "/api/v1/projects/demo/test/logs?tail=all", nil)

	assertError(t, w, http.StatusBadRequest, "validation_error")
}

// =============================================================================
// Env Files
// =============================================================================

func TestEnvFile_RoundTrip(t *testing.T) {
	e := newTestHandler(t)
	e.createProject(t, "demo")

	w := e.do(t, http.MethodGet, "/api/v1/projects/demo/test/envfile", nil)
	assertError(t, w, http.StatusNotFound, "env_file_not_found")

	content := "API_URL=https://api.example.com\n# comment\nSECRET=\"a b\"\n"
	req := httptest.NewRequest(http.MethodPut, "/api/v1/projects/demo/test/envfile", strings.NewReader(content))
	req.Header.Set("Content-Type", "text/plain")
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	w = e.do(t, http.MethodGet, "/api/v1/projects/demo/test/envfile", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/plain; charset=utf-8", w.Header().Get("Content-Type"))
	assert.Equal(t, content, w.Body.String())

	w = e.do(t, http.MethodGet, "/api/v1/projects/demo/prod/envfile", nil)
	assertError(t, w, http.StatusNotFound, "env_file_not_found")
}

func TestEnvFile_UnknownProject(t *testing.T) {
	e := newTestHandler(t)

	w := e.do(t, http.MethodPut, "/api/v1/projects/ghost/test/envfile", strings.NewReader("A=1\n"))

	assertError(t, w, http.StatusNotFound, "project_not_found")
}

// =============================================================================
// Containers
// =============================================================================

func addContainer(e *testEnv, name string, managed bool, status docker.ContainerStatus) string {
	labels := map[string]string{}
	if managed {
		labels[deployment.LabelManaged] = "true"
		labels[deployment.LabelProject] = "demo"
		labels[deployment.LabelEnvironment] = "test"
		labels[deployment.LabelSlot] = "blue"
	}
	return e.docker.AddContainer(docker.ContainerInfo{
		Name:    name,
		Image:   "reflow/demo:aaaaaaaaaaaa",
		Status:  status,
		State:   string(status),
		Labels:  labels,
		Ports:   []docker.PortBinding{{ContainerPort: 3000, HostPort: 49200, Protocol: "tcp"}},
		Command: []string{"npm", "start"},
	})
}

func TestListContainers(t *testing.T) {
	e := newTestHandler(t)
	managed := addContainer(e, "reflow-demo-test-blue", true, docker.ContainerStatusExited)
	addContainer(e, "postgres", false, docker.ContainerStatusRunning)

	w := e.do(t, http.MethodGet, "/api/v1/containers", nil)
	require.Equal(t, http.StatusOK, w.Code)
	containers := parseResponse[[]ContainerResponse](t, w.Body)
	require.Len(t, containers, 1)
	assert.Equal(t, managed, containers[0].ID)
	assert.Equal(t, "demo", containers[0].Project)
	assert.Equal(t, "test", containers[0].Environment)
	assert.Equal(t, "blue", containers[0].Slot)
	assert.Equal(t, "exited", containers[0].State)
	require.Len(t, containers[0].Ports, 1)
	assert.Equal(t, 49200, containers[0].Ports[0].HostPort)

	w = e.do(t, http.MethodGet, "/api/v1/containers?all=true", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, parseResponse[[]ContainerResponse](t, w.Body), 2)
}

func TestListContainers_DriverUnavailable(t *testing.T) {
	e := newTestHandler(t)
	e.docker.FailOn(dockertest.OpList, docker.NewDockerError(dockertest.OpList, "container", "", "refused", docker.ErrConnectionFailed))

	w := e.do(t, http.MethodGet, "/api/v1/containers", nil)

	assertError(t, w, http.StatusBadGateway, "driver_unavailable")
}

func TestGetContainer(t *testing.T) {
	e := newTestHandler(t)
	id := addContainer(e, "reflow-demo-test-blue", true, docker.ContainerStatusRunning)

	w := e.do(t, http.MethodGet, "/api/v1/containers/"+id, nil)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	details := parseResponse[ContainerDetailsResponse](t, w.Body)
	assert.Equal(t, id, details.ID)
	assert.Equal(t, "reflow-demo-test-blue", details.Name)
	assert.Equal(t, []string{"npm", "start"}, details.Command)
}

func TestGetContainer_NotFound(t *testing.T) {
	e := newTestHandler(t)

	w := e.do(t, http.MethodGet, "/api/v1/containers/missing", nil)

	assertError(t, w, http.StatusNotFound, "container_not_found")
}

func TestContainerActions(t *testing.T) {
	e := newTestHandler(t)
	id := addContainer(e, "reflow-demo-test-blue", true, docker.ContainerStatusExited)

	w := e.do(t, http.MethodPost, "/api/v1/containers/"+id+"/start", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	info, _ := e.docker.Container(id)
	assert.Equal(t, docker.ContainerStatusRunning, info.Status)

	// Starting a running container is accepted
	w = e.do(t, http.MethodPost, "/api/v1/containers/"+id+"/start", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = e.do(t, http.MethodPost, "/api/v1/containers/"+id+"/restart", nil)
	require.Equal(t, http.StatusOK, w.Code)
	info, _ = e.docker.Container(id)
	assert.Equal(t, 1, info.RestartCount)

	w = e.do(t, http.MethodPost, "/api/v1/containers/"+id+"/stop", nil)
	require.Equal(t, http.StatusOK, w.Code)
	info, _ = e.docker.Container(id)
	assert.Equal(t, docker.ContainerStatusExited, info.Status)

	// Stopping a stopped container is accepted
	w = e.do(t, http.MethodPost, "/api/v1/containers/"+id+"/stop", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestDeleteContainer(t *testing.T) {
	e := newTestHandler(t)
	id := addContainer(e, "reflow-demo-test-blue", true, docker.ContainerStatusRunning)

	w := e.do(t, http.MethodDelete, "/api/v1/containers/"+id, nil)
	assertError(t, w, http.StatusConflict, "container_running")
	_, exists := e.docker.Container(id)
	assert.True(t, exists)

	e.docker.SetStatus(id, docker.ContainerStatusExited)
	w = e.do(t, http.MethodDelete, "/api/v1/containers/"+id, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	_, exists = e.docker.Container(id)
	assert.False(t, exists)

	w = e.do(t, http.MethodDelete, "/api/v1/containers/"+id, nil)
	assertError(t, w, http.StatusNotFound, "container_not_found")
}

// =============================================================================
// OpenAPI
// =============================================================================

func TestOpenAPI_DocumentsEveryRoute(t *testing.T) {
	e := newTestHandler(t)
	spec := e.h.docs.Generate()

	routes, ok := e.handler.(chi.Routes)
	require.True(t, ok)

	err := chi.Walk(routes, func(method, route string, _ http.Handler, _ ...func(http.Handler) http.Handler) error {
		if !strings.HasPrefix(route, "/api/v1/") {
			return nil
		}
		route = strings.TrimSuffix(route, "/")
		item := spec.Paths.Value(route)
		if assert.NotNil(t, item, "undocumented path %s", route) {
			assert.NotNil(t, item.GetOperation(method), "undocumented %s %s", method, route)
		}
		return nil
	})
	require.NoError(t, err)
}

func TestOpenAPI_Served(t *testing.T) {
	e := newTestHandler(t)

	w := e.do(t, http.MethodGet, "/api/v1/openapi.json", nil)

	require.Equal(t, http.StatusOK, w.Code)
	doc := parseResponse[map[string]any](t, w.Body)
	assert.Equal(t, "3.0.3", doc["openapi"])
	paths, ok := doc["paths"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, paths, "/api/v1/projects/{name}/{env}/restart")
}
